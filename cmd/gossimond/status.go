package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"gossimon/internal/gossip"
	"gossimon/internal/wire"
)

var (
	queryIPs         []string
	queryBase        string
	queryCount       int
	queryYoungerThan time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's vector summary and settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControl(cmd, func(ctx context.Context, c *gossip.ControlClient) error {
			st, err := c.Stats(ctx, &emptypb.Empty{})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderFields(st))
			return nil
		})
	},
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Show vector entries",
	Long: `Show vector entries. Without flags every entry is listed.

Examples:
  gossimond query --ip 10.0.0.1 --ip 10.0.0.7
  gossimond query --base 10.0.0.1 --count 16
  gossimond query --younger-than 5s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildQuery(queryIPs, queryBase, queryCount, queryYoungerThan)
		if err != nil {
			return err
		}
		return withControl(cmd, func(ctx context.Context, c *gossip.ControlClient) error {
			reply, err := c.Query(ctx, req)
			if err != nil {
				return err
			}
			entries, err := wire.UnpackQueryReply(reply.GetValue())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderEntries(entries, time.Now()))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().StringSliceVar(&queryIPs, "ip", nil, "Entry addresses (repeatable)")
	queryCmd.Flags().StringVar(&queryBase, "base", "", "First address of a contiguous range")
	queryCmd.Flags().IntVar(&queryCount, "count", 1, "Number of addresses in the range")
	queryCmd.Flags().DurationVar(&queryYoungerThan, "younger-than", 0, "Only entries younger than this age")
	queryCmd.MarkFlagsMutuallyExclusive("ip", "base", "younger-than")
}

// buildQuery turns the query flags into a control request.
func buildQuery(ips []string, base string, count int, youngerThan time.Duration) (*structpb.Struct, error) {
	fields := map[string]any{}
	if len(ips) > 0 {
		list := make([]any, len(ips))
		for i, ip := range ips {
			list[i] = ip
		}
		fields["ips"] = list
	}
	if base != "" {
		if count <= 0 {
			return nil, fmt.Errorf("--count must be positive, got %d", count)
		}
		fields["base"] = base
		fields["count"] = count
	}
	if youngerThan > 0 {
		fields["younger_than_ms"] = youngerThan.Milliseconds()
	}
	return structpb.NewStruct(fields)
}
