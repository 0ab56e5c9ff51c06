package state

import (
	"context"
	"fmt"
	"time"
)

// The mark-* operations are the only write surface callers get. Each is a
// single atomic Mutate; callers never read-modify-write the file directly.

// MarkStarted transitions a task from pending to in_progress and increments
// its retry count.
func (s *Store) MarkStarted(ctx context.Context, taskID string) error {
	return s.Mutate(ctx, func(ps *PlanStatus) error {
		return TransitionStarted(ps, taskID, time.Now())
	})
}

// MarkComplete transitions a task to completed with optional notes.
// joinThreshold is the configured "N of M" fan-in parameter.
func (s *Store) MarkComplete(ctx context.Context, taskID, notes string, joinThreshold int) error {
	return s.Mutate(ctx, func(ps *PlanStatus) error {
		return TransitionCompleted(ps, taskID, notes, joinThreshold, time.Now())
	})
}

// MarkFailed transitions a task to failed, recording the error.
func (s *Store) MarkFailed(ctx context.Context, taskID, taskErr string) error {
	return s.Mutate(ctx, func(ps *PlanStatus) error {
		return TransitionFailed(ps, taskID, taskErr, time.Now())
	})
}

// MarkSkipped transitions a task to skipped, recording the reason.
func (s *Store) MarkSkipped(ctx context.Context, taskID, reason string) error {
	return s.Mutate(ctx, func(ps *PlanStatus) error {
		return TransitionSkipped(ps, taskID, reason)
	})
}

// MarkRolledBack undoes a completed task. This is an explicit operator
// action; the coordinator never calls it.
func (s *Store) MarkRolledBack(ctx context.Context, taskID, reason string) error {
	return s.Mutate(ctx, func(ps *PlanStatus) error {
		t, err := taskByID(ps, taskID)
		if err != nil {
			return err
		}
		if t.Status != TaskStatusCompleted {
			return fmt.Errorf("task %s is %s, only completed tasks can be rolled back", taskID, t.Status)
		}
		t.Status = TaskStatusRolledBack
		t.Notes = reason
		return nil
	})
}

// The Transition* functions below are the pure state-machine steps, shared
// by the store's operation surface and the coordinator's batch mutates.

// TransitionStarted moves pending -> in_progress.
func TransitionStarted(ps *PlanStatus, taskID string, now time.Time) error {
	t, err := taskByID(ps, taskID)
	if err != nil {
		return err
	}
	if t.Status != TaskStatusPending {
		return fmt.Errorf("task %s is %s, expected pending", taskID, t.Status)
	}
	t.Status = TaskStatusInProgress
	t.RetryCount++
	t.StartedAt = &now
	t.LastError = ""
	return nil
}

// TransitionCompleted moves in_progress -> completed. Completion honors the
// same dependency join that admitted the task: joinThreshold 0 requires
// every dependency completed, N > 0 requires at least N.
func TransitionCompleted(ps *PlanStatus, taskID, notes string, joinThreshold int, now time.Time) error {
	t, err := taskByID(ps, taskID)
	if err != nil {
		return err
	}
	if t.Status != TaskStatusInProgress {
		return fmt.Errorf("task %s is %s, expected in_progress", taskID, t.Status)
	}
	required := requiredJoins(len(t.Dependencies), joinThreshold)
	completedDeps := 0
	var blockedDep string
	var blockedStatus string
	for _, dep := range t.Dependencies {
		d, depErr := taskByID(ps, dep)
		if depErr != nil {
			return depErr
		}
		if d.Status == TaskStatusCompleted {
			completedDeps++
		} else if blockedDep == "" {
			blockedDep, blockedStatus = dep, d.Status
		}
	}
	if completedDeps < required {
		if required == len(t.Dependencies) {
			return fmt.Errorf("task %s cannot complete: dependency %s is %s", taskID, blockedDep, blockedStatus)
		}
		return fmt.Errorf("task %s cannot complete: %d of %d dependencies completed, need %d",
			taskID, completedDeps, len(t.Dependencies), required)
	}
	t.Status = TaskStatusCompleted
	t.CompletedAt = &now
	if notes != "" {
		t.Notes = notes
	}
	return nil
}

// TransitionFailed moves in_progress -> failed.
func TransitionFailed(ps *PlanStatus, taskID, taskErr string, now time.Time) error {
	t, err := taskByID(ps, taskID)
	if err != nil {
		return err
	}
	if t.Status != TaskStatusInProgress {
		return fmt.Errorf("task %s is %s, expected in_progress", taskID, t.Status)
	}
	t.Status = TaskStatusFailed
	t.LastError = taskErr
	t.CompletedAt = &now
	return nil
}

// TransitionSkipped marks a task skipped from any non-terminal state.
func TransitionSkipped(ps *PlanStatus, taskID, reason string) error {
	t, err := taskByID(ps, taskID)
	if err != nil {
		return err
	}
	switch t.Status {
	case TaskStatusCompleted, TaskStatusSkipped, TaskStatusRolledBack:
		return fmt.Errorf("task %s is already %s", taskID, t.Status)
	}
	t.Status = TaskStatusSkipped
	t.Notes = reason
	return nil
}

// TransitionRetry moves failed -> pending for re-dispatch, preserving the
// retry count.
func TransitionRetry(ps *PlanStatus, taskID string) error {
	t, err := taskByID(ps, taskID)
	if err != nil {
		return err
	}
	if t.Status != TaskStatusFailed {
		return fmt.Errorf("task %s is %s, expected failed", taskID, t.Status)
	}
	t.Status = TaskStatusPending
	t.CompletedAt = nil
	return nil
}

// JoinSatisfied reports whether a dependency join is met under the
// configured threshold: 0 requires every dependency completed, N > 0
// requires at least N. Dependencies missing from the status count as not
// completed. The scheduler uses this for admission and TransitionCompleted
// applies the same rule, so a task that was eligible to start can always
// record its success.
func JoinSatisfied(ps *PlanStatus, deps []string, joinThreshold int) bool {
	required := requiredJoins(len(deps), joinThreshold)
	completed := 0
	for _, dep := range deps {
		if d, ok := ps.Tasks[dep]; ok && d.Status == TaskStatusCompleted {
			completed++
		}
	}
	return completed >= required
}

// requiredJoins degrades a threshold of 0, or one above the dependency
// count, to requiring every dependency.
func requiredJoins(depCount, joinThreshold int) int {
	if joinThreshold <= 0 || joinThreshold > depCount {
		return depCount
	}
	return joinThreshold
}

func taskByID(ps *PlanStatus, taskID string) (*Task, error) {
	t, ok := ps.Tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("unknown task: %s", taskID)
	}
	return t, nil
}
