package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BenjaminRose805/orca/internal/cli/plan"
	"github.com/BenjaminRose805/orca/internal/monitor"
	"github.com/BenjaminRose805/orca/internal/tui"
	"github.com/BenjaminRose805/orca/internal/workspace"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [plan]",
	Short: "Watch a plan's progress in a live terminal view",
	Long: `Open the read-only live monitor. With no plan name the plan with the
most recent status activity is monitored. The monitor never writes; it can
be attached to or detached from a running plan at any time.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		return RunMonitor(name)
	},
}

// RunMonitor opens the TUI for the named plan, or for the most recently
// active plan when name is empty. Called directly by main for the bare
// `orca` invocation.
func RunMonitor(name string) error {
	if name == "" {
		root, err := workspace.FindRoot()
		if err != nil {
			return err
		}
		plans, err := workspace.ListPlans(workspace.OrcaDir(root))
		if err != nil {
			return err
		}
		if len(plans) == 0 {
			return fmt.Errorf("no plans yet, create one with `orca plan create <plan.md>`")
		}
		name = plans[0]
	}

	pc, err := plan.Open(name)
	if err != nil {
		return err
	}
	return tui.Run(monitor.New(pc.Store, pc.Name))
}
