package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/BenjaminRose805/orca/internal/config"
	"github.com/BenjaminRose805/orca/internal/ctxlog"
	"github.com/BenjaminRose805/orca/internal/graph"
	"github.com/BenjaminRose805/orca/internal/state"
)

const findingsDirName = "findings"

// ErrRunInProgress is returned when another run already owns the plan.
var ErrRunInProgress = errors.New("a run is already in progress for this plan")

// Coordinator drives unattended execution of a plan: it asks the scheduler
// for eligible batches, dispatches them to worker agents through a bounded
// pool, applies the retry policy, and writes every transition back through
// the status store. The store is the only shared mutable state; workers
// exchange results with the loop over a channel.
type Coordinator struct {
	store  *state.Store
	graph  *graph.Graph
	cfg    config.Config
	runner Runner
	events *EventLogger
	output *OutputCapture
	policy *RetryPolicy

	// breakers are per task and touched only by the coordinator loop.
	breakers map[string]*CircuitBreaker
	// deferUntil delays re-dispatch of retried tasks (backoff) and
	// breaker-suspended tasks (cooldown).
	deferUntil map[string]time.Time

	skipCh chan string
}

// taskResult carries one dispatch outcome back to the coordinator loop.
type taskResult struct {
	taskID   string
	result   AgentResult
	err      error
	timedOut bool
}

// NewCoordinator wires a coordinator for one plan directory.
func NewCoordinator(store *state.Store, g *graph.Graph, cfg config.Config, runner Runner, output *OutputCapture) *Coordinator {
	return &Coordinator{
		store:      store,
		graph:      g,
		cfg:        cfg,
		runner:     runner,
		events:     NewEventLogger(store.Dir()),
		output:     output,
		policy:     NewRetryPolicy(cfg.MaxAttempts, cfg.BackoffBase.Std(), cfg.BackoffCap.Std()),
		breakers:   make(map[string]*CircuitBreaker),
		deferUntil: make(map[string]time.Time),
		skipCh:     make(chan string, 16),
	}
}

// SkipTask requests that a task be abandoned. The task is marked skipped
// immediately; a still-running agent's eventual result is discarded.
// Returns false when no run is draining requests (or the request buffer is
// full), so callers are never blocked.
func (c *Coordinator) SkipTask(taskID string) bool {
	select {
	case c.skipCh <- taskID:
		return true
	default:
		return false
	}
}

// Run executes the scheduling loop until no eligible tasks remain or a
// fatal condition occurs. Cancelling ctx drains in-flight dispatches,
// resets them to pending, and closes the RunRecord as cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	startTime := time.Now()

	runID, err := c.openRun(ctx)
	if err != nil {
		return err
	}
	logger.Info("run started", "run", runID, "concurrency", c.cfg.Concurrency)
	c.events.RunStarted(runID)

	resultCh := make(chan taskResult)
	inFlight := make(map[string]context.CancelFunc)
	skipped := make(map[string]bool)
	completed, failed := 0, 0

	finish := func(cancelled bool, runErr error) error {
		closeErr := c.closeRun(runID, completed, failed, cancelled)
		if closeErr != nil && runErr == nil {
			runErr = closeErr
		}
		if cancelled {
			c.events.RunCancelled(runID)
		} else {
			c.events.RunCompleted(runID, completed, failed, time.Since(startTime))
		}
		logger.Info("run finished", "run", runID,
			"completed", completed, "failed", failed, "cancelled", cancelled)
		return runErr
	}

	for {
		if ctx.Err() == nil && len(inFlight) < c.cfg.Concurrency {
			batch, dispatchErr := c.dispatchBatch(ctx, inFlight, resultCh)
			if dispatchErr != nil {
				if errors.Is(dispatchErr, graph.ErrBlocked) && len(inFlight) == 0 {
					c.events.Log(EventRunBlocked, map[string]any{"run_id": runID})
					return finish(false, dispatchErr)
				}
				if !errors.Is(dispatchErr, graph.ErrBlocked) {
					c.drain(inFlight, resultCh, skipped)
					return finish(false, dispatchErr)
				}
			}

			if batch == 0 && len(inFlight) == 0 {
				if wait, ok := c.earliestDeferral(); ok {
					select {
					case <-ctx.Done():
					case <-time.After(wait):
					}
					continue
				}
				// Pool idle, nothing eligible, nothing deferred: done.
				return finish(false, nil)
			}
		}

		select {
		case <-ctx.Done():
			logger.Warn("run cancelled, draining in-flight tasks", "in_flight", len(inFlight))
			c.drain(inFlight, resultCh, skipped)
			return finish(true, nil)

		case taskID := <-c.skipCh:
			if err := c.store.MarkSkipped(context.Background(), taskID, "abandoned by operator"); err != nil {
				logger.Warn("failed to skip task", "task", taskID, "error", err)
				continue
			}
			c.events.Log(EventTaskSkipped, map[string]any{"task_id": taskID})
			if cancel, ok := inFlight[taskID]; ok {
				cancel()
				skipped[taskID] = true
			}

		case res := <-resultCh:
			delete(inFlight, res.taskID)
			if skipped[res.taskID] {
				delete(skipped, res.taskID)
				continue
			}
			var applyErr error
			completed, failed, applyErr = c.applyResult(ctx, res, completed, failed)
			if applyErr != nil {
				c.drain(inFlight, resultCh, skipped)
				return finish(false, applyErr)
			}
		}
	}
}

// openRun creates the RunRecord, refusing to start while another run is
// open.
func (c *Coordinator) openRun(ctx context.Context) (string, error) {
	runID := uuid.NewString()
	err := c.store.Mutate(ctx, func(ps *state.PlanStatus) error {
		if open := ps.CurrentRun(); open != nil {
			return fmt.Errorf("%w (run %s)", ErrRunInProgress, open.RunID)
		}
		ps.Runs = append(ps.Runs, state.RunRecord{
			RunID:     runID,
			StartedAt: time.Now(),
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	return runID, nil
}

// closeRun stamps the RunRecord. Uses a background context: the run must be
// closed even when the caller's context is already cancelled.
func (c *Coordinator) closeRun(runID string, completed, failed int, cancelled bool) error {
	return c.store.Mutate(context.Background(), func(ps *state.PlanStatus) error {
		for i := range ps.Runs {
			if ps.Runs[i].RunID == runID {
				now := time.Now()
				ps.Runs[i].CompletedAt = &now
				ps.Runs[i].TasksCompleted = completed
				ps.Runs[i].TasksFailed = failed
				ps.Runs[i].Cancelled = cancelled
				return nil
			}
		}
		return fmt.Errorf("run record %s disappeared", runID)
	})
}

// dispatchBatch asks the scheduler for eligible tasks, marks them
// in_progress in one write cycle, and launches a worker per task. Returns
// the number of tasks dispatched.
func (c *Coordinator) dispatchBatch(ctx context.Context, inFlight map[string]context.CancelFunc, resultCh chan<- taskResult) (int, error) {
	logger := ctxlog.FromContext(ctx)

	ps, err := c.store.Load(ctx)
	if err != nil {
		return 0, err
	}

	// Deferrals only make sense for pending tasks; drop entries left behind
	// by skips or terminal failures so the idle wait cannot spin on them.
	for id := range c.deferUntil {
		if t, ok := ps.Tasks[id]; !ok || t.Status != state.TaskStatusPending {
			delete(c.deferUntil, id)
		}
	}

	capacity := c.cfg.Concurrency - len(inFlight)
	batch, err := c.graph.NextEligible(ps, capacity, c.cfg.JoinThreshold)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	var ready []graph.Candidate
	for _, cand := range batch {
		if until, ok := c.deferUntil[cand.ID]; ok && now.Before(until) {
			continue
		}
		b := c.breaker(cand.ID)
		if !b.Allow() {
			// Refused by an open breaker: push the deferral out to the rest
			// of the cooldown so the idle wait sleeps instead of re-polling
			// a task the breaker will keep refusing.
			if wait := b.RemainingCooldown(); wait > 0 {
				c.deferUntil[cand.ID] = now.Add(wait)
			}
			continue
		}
		delete(c.deferUntil, cand.ID)
		ready = append(ready, cand)
	}
	if len(ready) == 0 {
		return 0, nil
	}

	// One lock/write cycle for the whole batch.
	var transitions []func(*state.PlanStatus) error
	for _, cand := range ready {
		id := cand.ID
		transitions = append(transitions, func(ps *state.PlanStatus) error {
			return state.TransitionStarted(ps, id, time.Now())
		})
	}
	if err := c.store.BatchMutate(ctx, transitions); err != nil {
		return 0, err
	}

	ps, err = c.store.Load(ctx)
	if err != nil {
		return 0, err
	}

	for _, cand := range ready {
		task := *ps.Tasks[cand.ID]
		taskCtx, cancel := context.WithTimeout(ctx, c.cfg.StuckTimeout.Std())
		inFlight[task.ID] = cancel

		logger.Info("dispatching task", "task", task.ID, "attempt", task.RetryCount,
			"group", cand.ConstraintGroup)
		c.events.TaskStarted(task.ID, task.RetryCount)
		if c.output != nil {
			c.output.WriteTaskHeader(task.ID, task.RetryCount)
		}

		go func(task state.Task, taskCtx context.Context, cancel context.CancelFunc) {
			defer cancel()
			result, runErr := c.runner.Run(taskCtx, &task, c.findingsPath(task.ID), c.output)
			resultCh <- taskResult{
				taskID:   task.ID,
				result:   result,
				err:      runErr,
				timedOut: errors.Is(taskCtx.Err(), context.DeadlineExceeded),
			}
		}(task, taskCtx, cancel)
	}
	return len(ready), nil
}

// applyResult persists one dispatch outcome through the retry policy.
func (c *Coordinator) applyResult(ctx context.Context, res taskResult, completed, failed int) (int, int, error) {
	logger := ctxlog.FromContext(ctx)

	if c.output != nil && res.err == nil {
		c.output.WriteTaskFooter(res.taskID, res.result.Outcome)
	}

	// Stuck detection fires as a context deadline on the dispatch.
	if res.timedOut {
		res.result = AgentResult{
			Outcome: OutcomeFailure,
			Class:   FailureTransient,
			Reason:  "timeout",
		}
		res.err = nil
		c.events.Log(EventTaskStuck, map[string]any{"task_id": res.taskID})
		logger.Warn("task exceeded stuck timeout", "task", res.taskID)
	} else if res.err != nil {
		if errors.Is(res.err, context.Canceled) {
			// Run-level cancellation raced ahead of ctx.Done; reset the
			// task so a later run resumes it.
			id := res.taskID
			resetErr := c.store.Mutate(context.Background(), func(ps *state.PlanStatus) error {
				if t, ok := ps.Tasks[id]; ok && t.Status == state.TaskStatusInProgress {
					t.Status = state.TaskStatusPending
				}
				return nil
			})
			return completed, failed, resetErr
		}
		res.result = AgentResult{
			Outcome: OutcomeFailure,
			Class:   FailureTransient,
			Reason:  res.err.Error(),
		}
	}

	if res.result.Outcome == OutcomeSuccess {
		c.breaker(res.taskID).RecordSuccess()
		err := c.store.Mutate(ctx, func(ps *state.PlanStatus) error {
			if err := state.TransitionCompleted(ps, res.taskID, res.result.Notes, c.cfg.JoinThreshold, time.Now()); err != nil {
				return err
			}
			if findings := c.findingsPath(res.taskID); fileExists(findings) {
				ps.Tasks[res.taskID].FindingsRef = findings
			}
			return nil
		})
		if err != nil {
			return completed, failed, err
		}
		c.events.TaskCompleted(res.taskID)
		logger.Info("task completed", "task", res.taskID)
		return completed + 1, failed, nil
	}

	// Failure path.
	breaker := c.breaker(res.taskID)
	breaker.RecordFailure(res.result.Class)

	var attempts int
	var retried bool
	err := c.store.Mutate(ctx, func(ps *state.PlanStatus) error {
		if err := state.TransitionFailed(ps, res.taskID, res.result.Reason, time.Now()); err != nil {
			return err
		}
		t := ps.Tasks[res.taskID]
		attempts = t.RetryCount
		t.NeedsFollowUp = res.result.Class.NeedsManualFollowUp()

		if c.policy.ShouldRetry(res.result.Class, t.RetryCount) {
			retried = true
			return state.TransitionRetry(ps, res.taskID)
		}
		return nil
	})
	if err != nil {
		return completed, failed, err
	}

	c.events.TaskFailed(res.taskID, attempts, res.result.Class, res.result.Reason)

	if !retried {
		logger.Warn("task failed terminally", "task", res.taskID,
			"class", res.result.Class, "reason", res.result.Reason)
		return completed, failed + 1, nil
	}

	// An open breaker stretches the deferral to its cooldown; the half-open
	// probe in dispatchBatch gates the actual re-dispatch.
	delay := c.policy.Backoff(attempts)
	if breaker.State() == "open" {
		if cooldown := c.cfg.BreakerCooldown.Std(); cooldown > delay {
			delay = cooldown
		}
		c.events.Log(EventBreakerOpen, map[string]any{
			"task_id": res.taskID,
			"class":   string(res.result.Class),
		})
		logger.Warn("circuit breaker open", "task", res.taskID, "class", res.result.Class)
	}
	c.deferUntil[res.taskID] = time.Now().Add(delay)
	c.events.Log(EventTaskRetried, map[string]any{
		"task_id":    res.taskID,
		"attempt":    attempts,
		"backoff_ms": delay.Milliseconds(),
	})
	logger.Info("task will retry", "task", res.taskID, "attempt", attempts, "backoff", delay)
	return completed, failed, nil
}

// drain waits for all in-flight dispatches after cancellation and resets
// their tasks to pending so a later run can resume them.
func (c *Coordinator) drain(inFlight map[string]context.CancelFunc, resultCh chan taskResult, skipped map[string]bool) {
	for _, cancel := range inFlight {
		cancel()
	}
	var resets []func(*state.PlanStatus) error
	for len(inFlight) > 0 {
		res := <-resultCh
		delete(inFlight, res.taskID)
		if skipped[res.taskID] {
			continue
		}
		id := res.taskID
		resets = append(resets, func(ps *state.PlanStatus) error {
			t, ok := ps.Tasks[id]
			if !ok || t.Status != state.TaskStatusInProgress {
				return nil
			}
			t.Status = state.TaskStatusPending
			return nil
		})
	}
	if len(resets) > 0 {
		if err := c.store.BatchMutate(context.Background(), resets); err != nil {
			slogDrainWarn(err)
		}
	}
}

// earliestDeferral reports how long until the nearest deferred task is due.
func (c *Coordinator) earliestDeferral() (time.Duration, bool) {
	var earliest time.Time
	for _, until := range c.deferUntil {
		if earliest.IsZero() || until.Before(earliest) {
			earliest = until
		}
	}
	if earliest.IsZero() {
		return 0, false
	}
	wait := time.Until(earliest)
	if wait < 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}
	return wait, true
}

func (c *Coordinator) breaker(taskID string) *CircuitBreaker {
	b, ok := c.breakers[taskID]
	if !ok {
		b = NewCircuitBreaker(c.cfg.BreakerThreshold, c.cfg.BreakerWindow.Std(), c.cfg.BreakerCooldown.Std())
		c.breakers[taskID] = b
	}
	return b
}

func (c *Coordinator) findingsPath(taskID string) string {
	return filepath.Join(c.store.Dir(), findingsDirName, taskID+".md")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func slogDrainWarn(err error) {
	ctxlog.FromContext(context.Background()).Warn("failed to reset tasks after cancel", "error", err)
}
