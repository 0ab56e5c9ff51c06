package state

import (
	"strings"
	"testing"
	"time"
)

func TestTransitionStarted(t *testing.T) {
	ps := newTestStatus(map[string]string{"1.1": TaskStatusPending})

	if err := TransitionStarted(ps, "1.1", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	task := ps.Tasks["1.1"]
	if task.Status != TaskStatusInProgress {
		t.Errorf("status = %s, want in_progress", task.Status)
	}
	if task.RetryCount != 1 {
		t.Errorf("retryCount = %d, want 1", task.RetryCount)
	}
	if task.StartedAt == nil {
		t.Error("startedAt not set")
	}
}

func TestTransitionStarted_RejectsNonPending(t *testing.T) {
	ps := newTestStatus(map[string]string{"1.1": TaskStatusCompleted})

	err := TransitionStarted(ps, "1.1", time.Now())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "expected pending") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestTransitionCompleted_RequiresCompletedDependencies(t *testing.T) {
	ps := newTestStatus(map[string]string{
		"1.1": TaskStatusPending,
		"1.2": TaskStatusInProgress,
	})
	ps.Tasks["1.2"].Dependencies = []string{"1.1"}

	err := TransitionCompleted(ps, "1.2", "", 0, time.Now())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "dependency 1.1") {
		t.Errorf("unexpected error message: %v", err)
	}
	if ps.Tasks["1.2"].Status != TaskStatusInProgress {
		t.Errorf("status changed despite rejected transition: %s", ps.Tasks["1.2"].Status)
	}
}

func TestTransitionCompleted_JoinThresholdAdmitsPartialJoin(t *testing.T) {
	// One of two dependencies completed; a threshold of 1 is satisfied, so
	// the same rule that admitted the task lets it record its success.
	ps := newTestStatus(map[string]string{
		"1.1": TaskStatusInProgress,
		"1.2": TaskStatusCompleted,
		"1.3": TaskStatusInProgress,
	})
	ps.Tasks["1.3"].Dependencies = []string{"1.1", "1.2"}

	if err := TransitionCompleted(ps, "1.3", "", 1, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ps.Tasks["1.3"].Status != TaskStatusCompleted {
		t.Errorf("status = %s, want completed", ps.Tasks["1.3"].Status)
	}
}

func TestTransitionCompleted_JoinThresholdStillEnforced(t *testing.T) {
	ps := newTestStatus(map[string]string{
		"1.1": TaskStatusInProgress,
		"1.2": TaskStatusPending,
		"1.3": TaskStatusInProgress,
	})
	ps.Tasks["1.3"].Dependencies = []string{"1.1", "1.2"}

	err := TransitionCompleted(ps, "1.3", "", 1, time.Now())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "0 of 2 dependencies completed, need 1") {
		t.Errorf("unexpected error message: %v", err)
	}
	if ps.Tasks["1.3"].Status != TaskStatusInProgress {
		t.Errorf("status changed despite rejected transition: %s", ps.Tasks["1.3"].Status)
	}
}

func TestJoinSatisfied(t *testing.T) {
	ps := newTestStatus(map[string]string{
		"1.1": TaskStatusCompleted,
		"1.2": TaskStatusInProgress,
	})
	deps := []string{"1.1", "1.2"}

	testCases := []struct {
		threshold int
		want      bool
	}{
		{0, false}, // all required
		{1, true},
		{2, false},
		{5, false}, // above the dependency count degrades to all
	}
	for _, tc := range testCases {
		if got := JoinSatisfied(ps, deps, tc.threshold); got != tc.want {
			t.Errorf("JoinSatisfied(threshold=%d) = %v, want %v", tc.threshold, got, tc.want)
		}
	}
	if !JoinSatisfied(ps, nil, 0) {
		t.Error("no dependencies must always satisfy the join")
	}
}

func TestTransitionCompleted_Success(t *testing.T) {
	ps := newTestStatus(map[string]string{
		"1.1": TaskStatusCompleted,
		"1.2": TaskStatusInProgress,
	})
	ps.Tasks["1.2"].Dependencies = []string{"1.1"}

	if err := TransitionCompleted(ps, "1.2", "all checks green", 0, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task := ps.Tasks["1.2"]
	if task.Status != TaskStatusCompleted {
		t.Errorf("status = %s, want completed", task.Status)
	}
	if task.CompletedAt == nil {
		t.Error("completedAt not set")
	}
	if task.Notes != "all checks green" {
		t.Errorf("notes = %q, want %q", task.Notes, "all checks green")
	}
}

func TestTransitionFailed(t *testing.T) {
	ps := newTestStatus(map[string]string{"1.1": TaskStatusInProgress})

	if err := TransitionFailed(ps, "1.1", "agent exited 1", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task := ps.Tasks["1.1"]
	if task.Status != TaskStatusFailed {
		t.Errorf("status = %s, want failed", task.Status)
	}
	if task.LastError != "agent exited 1" {
		t.Errorf("lastError = %q, want %q", task.LastError, "agent exited 1")
	}
}

func TestTransitionSkipped_TerminalStatesRejected(t *testing.T) {
	for _, status := range []string{TaskStatusCompleted, TaskStatusSkipped, TaskStatusRolledBack} {
		ps := newTestStatus(map[string]string{"1.1": status})
		if err := TransitionSkipped(ps, "1.1", "operator"); err == nil {
			t.Errorf("expected error skipping %s task, got nil", status)
		}
	}
}

func TestTransitionRetry_PreservesRetryCount(t *testing.T) {
	ps := newTestStatus(map[string]string{"1.1": TaskStatusFailed})
	ps.Tasks["1.1"].RetryCount = 2

	if err := TransitionRetry(ps, "1.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task := ps.Tasks["1.1"]
	if task.Status != TaskStatusPending {
		t.Errorf("status = %s, want pending", task.Status)
	}
	if task.RetryCount != 2 {
		t.Errorf("retryCount = %d, want 2", task.RetryCount)
	}
}

func TestMarkOperations_PersistAtomically(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(dir)

	if err := store.Init(testCtx(), newTestStatus(map[string]string{"1.1": TaskStatusPending})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.MarkStarted(testCtx(), "1.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.MarkComplete(testCtx(), "1.1", "done", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := store.Load(testCtx())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Tasks["1.1"].Status != TaskStatusCompleted {
		t.Errorf("status = %s, want completed", loaded.Tasks["1.1"].Status)
	}
	if loaded.Summary[TaskStatusCompleted] != 1 {
		t.Errorf("summary[completed] = %d, want 1", loaded.Summary[TaskStatusCompleted])
	}
}

func TestMarkRolledBack(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(dir)

	ps := newTestStatus(map[string]string{"1.1": TaskStatusCompleted})
	if err := store.Init(testCtx(), ps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.MarkRolledBack(testCtx(), "1.1", "regression found"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, _ := store.Load(testCtx())
	if loaded.Tasks["1.1"].Status != TaskStatusRolledBack {
		t.Errorf("status = %s, want rolled_back", loaded.Tasks["1.1"].Status)
	}

	// Only completed tasks can be rolled back.
	if err := store.MarkRolledBack(testCtx(), "1.1", "again"); err == nil {
		t.Error("expected error rolling back a rolled_back task")
	}
}

func TestMarkStarted_UnknownTask(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(dir)
	if err := store.Init(testCtx(), newTestStatus(nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := store.MarkStarted(testCtx(), "9.9")
	if err == nil || !strings.Contains(err.Error(), "unknown task") {
		t.Errorf("expected unknown task error, got %v", err)
	}
}
