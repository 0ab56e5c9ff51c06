package state

import (
	"context"
	"time"
)

func nowPtr() *time.Time {
	now := time.Now()
	return &now
}

// newTestStatus builds a small PlanStatus with the given task statuses.
func newTestStatus(statuses map[string]string) *PlanStatus {
	tasks := make(map[string]*Task, len(statuses))
	for id, status := range statuses {
		tasks[id] = &Task{ID: id, Status: status}
	}
	return &PlanStatus{
		Tasks:   tasks,
		Summary: ComputeSummary(tasks),
	}
}

// newTestStore creates a store in dir with short lock timings for tests.
func newTestStore(dir string) *Store {
	return NewStore(dir, 2*time.Second, 60*time.Second, nil)
}

func testCtx() context.Context {
	return context.Background()
}
