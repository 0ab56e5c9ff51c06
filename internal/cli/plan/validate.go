package plan

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <name>",
	Short: "Check and repair a plan's status store",
	Long: `Recompute the task summary, force-fail tasks stuck past the configured
stuck timeout, clear contradictory timestamps, and close orphaned run
records. Safe to run repeatedly; a clean store reports nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pc, err := Open(args[0])
		if err != nil {
			return err
		}

		repairs, err := pc.Store.Validate(cmd.Context(), pc.Config.StuckTimeout.Std())
		if err != nil {
			return err
		}

		if len(repairs) == 0 {
			fmt.Println("Status store is consistent; nothing to repair.")
			return nil
		}

		fmt.Printf("Applied %d repair(s):\n", len(repairs))
		for _, r := range repairs {
			if r.TaskID != "" {
				fmt.Printf("  %s: %s\n", r.TaskID, r.What)
			} else {
				fmt.Printf("  %s\n", r.What)
			}
		}
		return nil
	},
}
