package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"gossimon/internal/config"
	"gossimon/internal/gossip"
)

const rpcTimeout = 5 * time.Second

var (
	cfgFile string
	ctlHost string
	ctlPort int
)

var rootCmd = &cobra.Command{
	Use:   "gossimond",
	Short: "Gossip-based cluster resource information daemon",
	Long: `gossimond keeps an information vector with the load and memory of every
node in a fixed cluster and spreads it by periodically exchanging a bounded
window of recent entries with a random peer.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&ctlHost, "host", "127.0.0.1", "Daemon address used by control commands")
	rootCmd.PersistentFlags().IntVarP(&ctlPort, "port", "p", config.Default().Port, "Daemon gRPC port")
}

// withControl dials the daemon and runs fn with a bounded context.
func withControl(cmd *cobra.Command, fn func(ctx context.Context, c *gossip.ControlClient) error) error {
	client, cc, err := gossip.DialControl(ctlHost, ctlPort)
	if err != nil {
		return err
	}
	defer cc.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), rpcTimeout)
	defer cancel()
	return fn(ctx, client)
}
