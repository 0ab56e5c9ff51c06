package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BenjaminRose805/orca/internal/monitor"
	"github.com/BenjaminRose805/orca/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Show a plan's progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pc, err := Open(args[0])
		if err != nil {
			return err
		}

		snap, err := monitor.New(pc.Store, pc.Name).Snapshot(cmd.Context())
		if err != nil {
			return err
		}

		printStatus(snap)
		return nil
	},
}

func printStatus(snap monitor.Snapshot) {
	fmt.Printf("Plan: %s\n", snap.PlanName)
	fmt.Printf("Progress: %d/%d tasks done\n", snap.Done, snap.Total)

	var parts []string
	for _, s := range state.Statuses {
		if n := snap.Summary[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	fmt.Printf("Summary: %s\n", strings.Join(parts, ", "))

	if run := snap.Run; run != nil {
		if run.CompletedAt == nil {
			fmt.Printf("Run: %s (running since %s)\n", run.RunID, run.StartedAt.Format(time.RFC3339))
		} else {
			outcome := "finished"
			if run.Cancelled {
				outcome = "cancelled"
			}
			fmt.Printf("Last run: %s (%s, %d completed, %d failed)\n",
				run.RunID, outcome, run.TasksCompleted, run.TasksFailed)
		}
	}

	if len(snap.InProgress) > 0 {
		fmt.Println()
		fmt.Println("In progress:")
		for _, t := range snap.InProgress {
			elapsed := ""
			if t.StartedAt != nil {
				elapsed = fmt.Sprintf(" (%s)", time.Since(*t.StartedAt).Round(time.Second))
			}
			fmt.Printf("  %s %s%s\n", t.ID, t.Description, elapsed)
		}
	}

	if len(snap.Recent) > 0 {
		fmt.Println()
		fmt.Println("Recent:")
		for _, t := range snap.Recent {
			line := fmt.Sprintf("  [%s] %s %s", t.Status, t.ID, t.Description)
			if t.Status == state.TaskStatusFailed && t.LastError != "" {
				line += fmt.Sprintf(": %s", t.LastError)
			}
			fmt.Println(line)
		}
	}
}
