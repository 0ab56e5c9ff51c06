package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/BenjaminRose805/orca/internal/state"
)

// CommandContext creates exec.Cmd instances for agent invocations. It can
// be replaced in tests to mock command execution.
var CommandContext = exec.CommandContext

// Runner dispatches one task to a worker agent and blocks until the agent
// returns a terminal result. The agent runs out of process and is not
// trusted to clean up on its own; the coordinator enforces the stuck
// timeout independently.
type Runner interface {
	Run(ctx context.Context, task *state.Task, findingsPath string, output *OutputCapture) (AgentResult, error)
}

// AgentRunner executes tasks via the configured agent CLI.
type AgentRunner struct {
	command string
}

// NewAgentRunner creates a runner invoking the given agent executable.
func NewAgentRunner(command string) *AgentRunner {
	return &AgentRunner{command: command}
}

// IsAgentAvailable checks whether the agent executable exists in PATH.
func IsAgentAvailable(command string) bool {
	_, err := exec.LookPath(command)
	return err == nil
}

// Run invokes the agent with the task prompt and parses its stream-json
// output through the protocol state machine.
func (r *AgentRunner) Run(ctx context.Context, task *state.Task, findingsPath string, output *OutputCapture) (AgentResult, error) {
	prompt := buildPrompt(task, findingsPath)

	cmd := CommandContext(ctx, r.command,
		"-p", prompt,
		"--output-format", "stream-json",
		"--dangerously-skip-permissions",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return AgentResult{}, fmt.Errorf("failed to open agent stdout: %w", err)
	}
	if output != nil {
		cmd.Stderr = output.Stderr()
	} else {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return AgentResult{
				Outcome: OutcomeFailure,
				Class:   FailureNonRecoverable,
				Reason:  fmt.Sprintf("agent command %q not found", r.command),
			}, nil
		}
		return AgentResult{}, fmt.Errorf("failed to start agent: %w", err)
	}

	machine := NewStreamMachine(StreamHandlers{
		OnProgress: func(text string) {
			if output != nil {
				output.WriteProgress(text)
			}
		},
	})

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		machine.Feed(scanner.Text())
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return AgentResult{}, ctx.Err()
	}

	result, streamErr := machine.Final()
	if waitErr != nil && result.Outcome == OutcomeSuccess {
		// The agent claimed success but exited non-zero; trust the exit code.
		return AgentResult{
			Outcome: OutcomeFailure,
			Class:   FailureTransient,
			Reason:  fmt.Sprintf("agent exited with error: %v", waitErr),
		}, nil
	}
	if streamErr != nil && waitErr != nil {
		result.Reason = fmt.Sprintf("%s (agent exit: %v)", result.Reason, waitErr)
	}
	return result, nil
}

// buildPrompt constructs the agent prompt for one task.
func buildPrompt(task *state.Task, findingsPath string) string {
	var sb strings.Builder

	sb.WriteString("You are executing one task from an automated plan.\n\n")
	sb.WriteString("## Your Task\n")
	sb.WriteString(fmt.Sprintf("**ID**: %s\n", task.ID))
	sb.WriteString(fmt.Sprintf("**Attempt**: %d\n", task.RetryCount))
	sb.WriteString(fmt.Sprintf("**Description**: %s\n\n", task.Description))

	if len(task.Files) > 0 {
		sb.WriteString("## File Scope\n")
		sb.WriteString("Only touch these paths:\n")
		for _, f := range task.Files {
			sb.WriteString(fmt.Sprintf("- %s\n", f))
		}
		sb.WriteString("\n")
	}

	if task.RetryCount > 1 {
		sb.WriteString("**Note**: A previous attempt failed")
		if task.LastError != "" {
			sb.WriteString(fmt.Sprintf(" with: %s", task.LastError))
		}
		sb.WriteString(". Investigate what went wrong before retrying the same approach.\n\n")
	}

	sb.WriteString("## Reporting\n")
	sb.WriteString(fmt.Sprintf("Write any findings worth keeping to %s.\n", findingsPath))
	sb.WriteString("End your final message with exactly one of:\n")
	sb.WriteString("- nothing extra on success\n")
	sb.WriteString("- `PARTIAL: <what remains>` if some sub-steps succeeded\n")
	sb.WriteString("- `VALIDATION: <unmet precondition>` if the task cannot start\n")
	sb.WriteString("- `FATAL: <reason>` if no retry can succeed\n")
	sb.WriteString("- `NEEDS_HUMAN: <reason>` if an operator must act\n")

	return sb.String()
}
