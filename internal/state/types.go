// Package state owns the persisted execution record of a plan: the status
// file, its lock, and the mutating operation surface. Every write goes
// through a lock-protected load, transform, recompute-summary, atomic-rename
// cycle; no other package writes the file directly.
package state

import (
	"sort"
	"time"
)

// Task status constants. Terminal statuses may still change through retry
// (failed -> pending) or explicit operator action (completed -> rolled_back).
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusSkipped    = "skipped"
	TaskStatusRolledBack = "rolled_back"
)

// Statuses lists every task status in summary order.
var Statuses = []string{
	TaskStatusPending,
	TaskStatusInProgress,
	TaskStatusCompleted,
	TaskStatusFailed,
	TaskStatusSkipped,
	TaskStatusRolledBack,
}

// Task is one unit of work tracked by the status store.
type Task struct {
	ID           string     `json:"id"`
	Description  string     `json:"description"`
	Phase        int        `json:"phase"`
	Status       string     `json:"status"`
	Dependencies []string   `json:"dependencies,omitempty"`
	Files        []string   `json:"files,omitempty"`
	RetryCount   int        `json:"retryCount"`
	LastError    string     `json:"lastError,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	FindingsRef  string     `json:"findingsRef,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	// NeedsFollowUp flags terminal failures that require manual action.
	NeedsFollowUp bool `json:"needsFollowUp,omitempty"`
}

// ExecutionConstraint names a group of tasks that must execute strictly
// one at a time relative to each other.
type ExecutionConstraint struct {
	Name    string   `json:"name"`
	TaskIDs []string `json:"taskIds"`
}

// RunRecord captures one scheduling-loop execution.
type RunRecord struct {
	RunID          string     `json:"runId"`
	StartedAt      time.Time  `json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	TasksCompleted int        `json:"tasksCompleted"`
	TasksFailed    int        `json:"tasksFailed"`
	Cancelled      bool       `json:"cancelled,omitempty"`
}

// PlanStatus is the persisted aggregate root.
type PlanStatus struct {
	Tasks                map[string]*Task      `json:"tasks"`
	Summary              map[string]int        `json:"summary"`
	ExecutionConstraints []ExecutionConstraint `json:"executionConstraints"`
	Runs                 []RunRecord           `json:"runs"`
}

// ComputeSummary derives the per-status counts from Tasks. The stored
// summary is never trusted; every save recomputes it through this function.
func ComputeSummary(tasks map[string]*Task) map[string]int {
	summary := make(map[string]int, len(Statuses))
	for _, s := range Statuses {
		summary[s] = 0
	}
	for _, t := range tasks {
		summary[t.Status]++
	}
	return summary
}

// TaskIDs returns all task ids in sorted order, for stable iteration.
func (ps *PlanStatus) TaskIDs() []string {
	ids := make([]string, 0, len(ps.Tasks))
	for id := range ps.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CurrentRun returns the most recent open RunRecord, or nil if every run
// has been closed.
func (ps *PlanStatus) CurrentRun() *RunRecord {
	if len(ps.Runs) == 0 {
		return nil
	}
	last := &ps.Runs[len(ps.Runs)-1]
	if last.CompletedAt != nil {
		return nil
	}
	return last
}

// ConstraintGroupFor returns the constraint group containing the given task
// id, or nil if the task is unconstrained.
func (ps *PlanStatus) ConstraintGroupFor(taskID string) *ExecutionConstraint {
	for i := range ps.ExecutionConstraints {
		for _, id := range ps.ExecutionConstraints[i].TaskIDs {
			if id == taskID {
				return &ps.ExecutionConstraints[i]
			}
		}
	}
	return nil
}
