package plan

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BenjaminRose805/orca/internal/ctxlog"
	"github.com/BenjaminRose805/orca/internal/executor"
	"github.com/BenjaminRose805/orca/internal/graph"
)

var runConcurrency int

func init() {
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "Override the configured worker pool size")
}

var runCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run a plan (resumes from pending tasks)",
	Long: `Execute a plan's eligible tasks with the configured worker pool.
Interrupting with Ctrl-C drains in-flight tasks, resets them to pending,
and records the run as cancelled; a later run resumes where it left off.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	pc, err := Open(args[0])
	if err != nil {
		return err
	}

	cfg := pc.Config
	if runConcurrency > 0 {
		cfg.Concurrency = runConcurrency
	}

	if !executor.IsAgentAvailable(cfg.AgentCommand) {
		return fmt.Errorf("agent command %q not found in PATH", cfg.AgentCommand)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx = ctxlog.WithLogger(ctx, logger)

	output, err := executor.NewOutputCapture(pc.Dir, nil)
	if err != nil {
		return fmt.Errorf("failed to open output log: %w", err)
	}
	defer output.Close()

	runner := executor.NewAgentRunner(cfg.AgentCommand)
	coord := executor.NewCoordinator(pc.Store, pc.Graph, cfg, runner, output)

	err = coord.Run(ctx)
	switch {
	case errors.Is(err, graph.ErrBlocked):
		fmt.Println()
		fmt.Println("Run stopped: remaining tasks are blocked by failed or skipped dependencies.")
		fmt.Printf("Inspect with `orca plan status %s`.\n", pc.Name)
		return nil
	case errors.Is(err, executor.ErrRunInProgress):
		return fmt.Errorf("%w; if that run crashed, `orca plan validate %s` will clear it", err, pc.Name)
	case err != nil:
		return err
	}

	fmt.Println()
	fmt.Printf("Run finished. Inspect with `orca plan status %s`.\n", pc.Name)
	return nil
}
