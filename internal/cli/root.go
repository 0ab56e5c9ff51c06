package cli

import (
	"github.com/spf13/cobra"

	"github.com/BenjaminRose805/orca/internal/cli/plan"
	"github.com/BenjaminRose805/orca/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "orca",
	Short:   "Unattended plan orchestrator for worker agents",
	Long:    `Orca drives unattended execution of a task plan: it schedules eligible tasks onto out-of-process worker agents, persists every state transition crash-safely, and retries failures with backoff.`,
	Version: version.Version,
}

func init() {
	rootCmd.AddCommand(plan.PlanCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(monitorCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
