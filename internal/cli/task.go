package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BenjaminRose805/orca/internal/cli/plan"
)

// The task commands expose the store's mark-* operation surface so external
// tooling (and operators fixing things by hand) go through the same atomic
// transitions as the coordinator instead of editing status.json.

var (
	taskNotes  string
	taskError  string
	taskReason string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Record task state transitions by hand",
}

var taskStartCmd = &cobra.Command{
	Use:   "start <plan> <task-id>",
	Short: "Mark a pending task in_progress",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pc, err := plan.Open(args[0])
		if err != nil {
			return err
		}
		if err := pc.Store.MarkStarted(cmd.Context(), args[1]); err != nil {
			return err
		}
		fmt.Printf("Task %s started.\n", args[1])
		return nil
	},
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <plan> <task-id>",
	Short: "Mark an in_progress task completed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pc, err := plan.Open(args[0])
		if err != nil {
			return err
		}
		if err := pc.Store.MarkComplete(cmd.Context(), args[1], taskNotes, pc.Config.JoinThreshold); err != nil {
			return err
		}
		fmt.Printf("Task %s completed.\n", args[1])
		return nil
	},
}

var taskFailCmd = &cobra.Command{
	Use:   "fail <plan> <task-id>",
	Short: "Mark an in_progress task failed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pc, err := plan.Open(args[0])
		if err != nil {
			return err
		}
		if err := pc.Store.MarkFailed(cmd.Context(), args[1], taskError); err != nil {
			return err
		}
		fmt.Printf("Task %s failed.\n", args[1])
		return nil
	},
}

var taskSkipCmd = &cobra.Command{
	Use:   "skip <plan> <task-id>",
	Short: "Mark a task skipped",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pc, err := plan.Open(args[0])
		if err != nil {
			return err
		}
		if err := pc.Store.MarkSkipped(cmd.Context(), args[1], taskReason); err != nil {
			return err
		}
		fmt.Printf("Task %s skipped.\n", args[1])
		return nil
	},
}

var taskRollbackCmd = &cobra.Command{
	Use:   "rollback <plan> <task-id>",
	Short: "Mark a completed task rolled_back",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pc, err := plan.Open(args[0])
		if err != nil {
			return err
		}
		if err := pc.Store.MarkRolledBack(cmd.Context(), args[1], taskReason); err != nil {
			return err
		}
		fmt.Printf("Task %s rolled back.\n", args[1])
		return nil
	},
}

func init() {
	taskCompleteCmd.Flags().StringVar(&taskNotes, "notes", "", "Completion notes to record on the task")
	taskFailCmd.Flags().StringVar(&taskError, "error", "", "Failure reason to record on the task")
	taskSkipCmd.Flags().StringVar(&taskReason, "reason", "", "Why the task is being skipped")
	taskRollbackCmd.Flags().StringVar(&taskReason, "reason", "", "Why the task is being rolled back")

	taskCmd.AddCommand(taskStartCmd)
	taskCmd.AddCommand(taskCompleteCmd)
	taskCmd.AddCommand(taskFailCmd)
	taskCmd.AddCommand(taskSkipCmd)
	taskCmd.AddCommand(taskRollbackCmd)
}
