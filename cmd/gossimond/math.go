package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gossimon/internal/convergence"
)

var mathRound time.Duration

var mathCmd = &cobra.Command{
	Use:   "math <nodes>...",
	Short: "Print convergence estimates for cluster sizes",
	Long: `Print convergence estimates for cluster sizes: the expected entry age, the
automatic window sizes and the urgency given to detected deaths.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sizes := make([]int, len(args))
		for i, a := range args {
			n, err := strconv.Atoi(a)
			if err != nil || n < 1 {
				return fmt.Errorf("invalid cluster size %q", a)
			}
			sizes[i] = n
		}
		fmt.Fprintln(cmd.OutOrStdout(), convergenceTable(sizes, mathRound))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mathCmd)
	mathCmd.Flags().DurationVar(&mathRound, "round", time.Second, "Gossip tick interval")
}

func convergenceTable(sizes []int, round time.Duration) string {
	t := newTable("NODES", "EXPECTED AGE", "BROADCAST", "FIXED K", "UPTO-AGE", "MAX PRIORITY")
	for _, n := range sizes {
		t = t.Row(
			strconv.Itoa(n),
			formatRounds(convergence.ExpectedAge(n)),
			formatRounds(convergence.BroadcastRounds(n)),
			strconv.Itoa(convergence.AutoFixedK(n)),
			convergence.AutoUptoAge(n, round).Round(time.Millisecond).String(),
			strconv.Itoa(convergence.MaxPriority(n)),
		)
	}
	return t.String()
}

func formatRounds(r float64) string {
	if math.IsInf(r, 1) {
		return "inf"
	}
	return strings.TrimSuffix(strconv.FormatFloat(r, 'f', 2, 64), ".00") + " rounds"
}
