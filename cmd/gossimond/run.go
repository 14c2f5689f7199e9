package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"gossimon/internal/config"
	"gossimon/internal/node"
)

var (
	localIP string
	nodes   string
	mapFile string
	step    string
	udpPush bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the gossip daemon",
	Long: `Run the gossip daemon in the foreground until interrupted.

Examples:
  # Run from a configuration file
  gossimond run --config /etc/gossimon.yaml

  # Run a three node cluster without a file
  gossimond run --nodes=1=10.0.0.1,2=10.0.0.2,3=10.0.0.3 --local-ip=10.0.0.1`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&localIP, "local-ip", "", "Local address; must belong to the cluster")
	runCmd.Flags().StringVar(&nodes, "nodes", "", "Inline cluster as id=ip pairs (comma-separated)")
	runCmd.Flags().StringVar(&mapFile, "map", "", "Cluster map file (watched for changes)")
	runCmd.Flags().StringVar(&step, "step", "", "Gossip step algorithm")
	runCmd.Flags().BoolVar(&udpPush, "udp", false, "Push windows over UDP datagrams")
}

// loadConfig reads the configuration file, if any, and applies flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	} else {
		cfg.ApplyEnv()
	}

	flags := cmd.Flags()
	if flags.Changed("local-ip") {
		cfg.LocalIP = localIP
	}
	if flags.Changed("nodes") {
		cfg.Nodes = nodes
	}
	if flags.Changed("map") {
		cfg.MapFile = mapFile
	}
	if flags.Changed("step") {
		cfg.Step = step
	}
	if flags.Changed("udp") {
		cfg.UDPPush = udpPush
	}
	if flags.Changed("port") {
		cfg.Port = ctlPort
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	n, err := node.New(*cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return n.Run(ctx)
}
