package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BenjaminRose805/orca/internal/cli/plan"
	"github.com/BenjaminRose805/orca/internal/graph"
)

var nextCount int

var nextCmd = &cobra.Command{
	Use:   "next <plan>",
	Short: "Show the next eligible task batch",
	Long: `Print the tasks the scheduler would dispatch next, honoring
dependencies, constraint groups, and file claims. Reports "blocked" when
pending tasks remain but none can ever become eligible.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pc, err := plan.Open(args[0])
		if err != nil {
			return err
		}

		ps, err := pc.Store.Load(cmd.Context())
		if err != nil {
			return err
		}

		batch, err := pc.Graph.NextEligible(ps, nextCount, pc.Config.JoinThreshold)
		if errors.Is(err, graph.ErrBlocked) {
			fmt.Println("blocked: pending tasks remain but their dependencies have failed or been skipped")
			return nil
		}
		if err != nil {
			return err
		}

		if len(batch) == 0 {
			fmt.Println("No eligible tasks.")
			return nil
		}

		for _, c := range batch {
			line := fmt.Sprintf("%s %s", c.ID, c.Description)
			if c.ConstraintGroup != "" {
				line += fmt.Sprintf(" [group: %s]", c.ConstraintGroup)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	nextCmd.Flags().IntVar(&nextCount, "count", 1, "Maximum batch size to show")
}
