package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"gossimon/internal/gossip"
	"gossimon/internal/vector"
)

var (
	measureMaxSamples int
	measureUptoAge    time.Duration
	deathLogClear     bool
)

var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "Change settings of a running daemon",
}

var ctlWindowCmd = &cobra.Command{
	Use:   "window <fixed|upto-age> [param]",
	Short: "Switch the gossip window",
	Long: `Switch the gossip window. The param is K for a fixed window and the age
limit in seconds for an up-to-age window; 0 or omitted sizes it from the
cluster size.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := vector.ParseWindowMode(args[0])
		if err != nil {
			return err
		}
		param := 0
		if len(args) == 2 {
			if param, err = strconv.Atoi(args[1]); err != nil {
				return fmt.Errorf("window param: %w", err)
			}
		}
		req, err := structpb.NewStruct(map[string]any{"mode": mode.String(), "param": param})
		if err != nil {
			return err
		}
		return withControl(cmd, func(ctx context.Context, c *gossip.ControlClient) error {
			_, err := c.SetWindow(ctx, req)
			return err
		})
	},
}

var ctlMeasureCmd = &cobra.Command{
	Use:   "measure [kind on|off]",
	Short: "Show or toggle measurement accumulators",
	Long: fmt.Sprintf(`Show or toggle measurement accumulators.

Kinds: %s`, strings.Join(measureKinds(), ", ")),
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("expected no arguments or <kind> <on|off>")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControl(cmd, func(ctx context.Context, c *gossip.ControlClient) error {
			if len(args) == 2 || cmd.Flags().Changed("upto-age") {
				req, err := buildMeasureRequest(args, measureMaxSamples, measureUptoAge)
				if err != nil {
					return err
				}
				if _, err := c.SetMeasurement(ctx, req); err != nil {
					return err
				}
			}
			ms, err := c.Measurements(ctx, &emptypb.Empty{})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderRecords(ms, "measurements", "kind", "enabled", "samples", "max_samples", "average"))
			return nil
		})
	},
}

var ctlDeathLogCmd = &cobra.Command{
	Use:   "deathlog",
	Short: "Show or clear the death log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControl(cmd, func(ctx context.Context, c *gossip.ControlClient) error {
			records, err := c.DeathLog(ctx, &emptypb.Empty{})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderRecords(records, "records", "ip", "propagation_ms"))
			if deathLogClear {
				_, err = c.ClearDeathLog(ctx, &emptypb.Empty{})
			}
			return err
		})
	},
}

var ctlStepCmd = &cobra.Command{
	Use:       "step <name>",
	Short:     "Switch the gossip step algorithm",
	Long:      fmt.Sprintf("Switch the gossip step algorithm.\n\nSteps: %s", strings.Join(gossip.StepNames(), ", ")),
	Args:      cobra.ExactArgs(1),
	ValidArgs: gossip.StepNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControl(cmd, func(ctx context.Context, c *gossip.ControlClient) error {
			_, err := c.SetStep(ctx, wrapperspb.String(args[0]))
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(ctlCmd)
	ctlCmd.AddCommand(ctlWindowCmd, ctlMeasureCmd, ctlDeathLogCmd, ctlStepCmd)

	ctlMeasureCmd.Flags().IntVar(&measureMaxSamples, "max-samples", 0, "Stop accumulating after this many samples (0 for no limit)")
	ctlMeasureCmd.Flags().DurationVar(&measureUptoAge, "upto-age", 0, "Age threshold of the upto-age measurement")
	ctlDeathLogCmd.Flags().BoolVar(&deathLogClear, "clear", false, "Clear the log after printing it")
}

func measureKinds() []string {
	kinds := []vector.MeasureKind{vector.MeasureAge, vector.MeasureWindowSize, vector.MeasureUptoAge, vector.MeasureMessageSize}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return names
}

// buildMeasureRequest turns "ctl measure" arguments into a control request.
func buildMeasureRequest(args []string, maxSamples int, uptoAge time.Duration) (*structpb.Struct, error) {
	fields := map[string]any{}
	if uptoAge > 0 {
		fields["upto_age_ms"] = uptoAge.Milliseconds()
	}
	if len(args) == 2 {
		kind, err := vector.ParseMeasureKind(args[0])
		if err != nil {
			return nil, err
		}
		var enabled bool
		switch args[1] {
		case "on":
			enabled = true
		case "off":
		default:
			return nil, fmt.Errorf("expected on or off, got %q", args[1])
		}
		fields["kind"] = kind.String()
		fields["enabled"] = enabled
		fields["max_samples"] = maxSamples
	}
	return structpb.NewStruct(fields)
}
