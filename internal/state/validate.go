package state

import (
	"context"
	"fmt"
	"time"

	"github.com/BenjaminRose805/orca/internal/ctxlog"
)

// Repair describes one fix applied by Validate.
type Repair struct {
	TaskID string `json:"taskId,omitempty"`
	What   string `json:"what"`
}

// Validate checks and repairs summary and structural drift in a single
// atomic mutate. It recomputes the summary, force-fails in_progress tasks
// whose wall-clock duration exceeds stuckTimeout, clears timestamps that
// contradict the task's status, and closes orphaned run records left behind
// by a crashed coordinator. Running it twice in a row produces no further
// changes.
func (s *Store) Validate(ctx context.Context, stuckTimeout time.Duration) ([]Repair, error) {
	logger := ctxlog.FromContext(ctx)
	var repairs []Repair

	err := s.Mutate(ctx, func(ps *PlanStatus) error {
		repairs = repairStatus(ps, stuckTimeout, time.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, r := range repairs {
		logger.Info("validate repaired drift", "task", r.TaskID, "repair", r.What)
	}
	return repairs, nil
}

// repairStatus applies all repairs to ps and reports what changed. The
// summary itself is recomputed by the store on save, so only a stale stored
// summary is reported here, not fixed by hand.
func repairStatus(ps *PlanStatus, stuckTimeout time.Duration, now time.Time) []Repair {
	var repairs []Repair

	want := ComputeSummary(ps.Tasks)
	for _, status := range Statuses {
		if ps.Summary[status] != want[status] {
			repairs = append(repairs, Repair{
				What: fmt.Sprintf("summary[%s] was %d, recomputed to %d", status, ps.Summary[status], want[status]),
			})
		}
	}

	for _, id := range ps.TaskIDs() {
		t := ps.Tasks[id]

		// Stuck detection: in_progress past the timeout is forced to failed.
		if t.Status == TaskStatusInProgress && t.StartedAt != nil &&
			now.Sub(*t.StartedAt) > stuckTimeout {
			t.Status = TaskStatusFailed
			t.LastError = "timeout"
			completed := now
			t.CompletedAt = &completed
			repairs = append(repairs, Repair{TaskID: id, What: "stuck in_progress task forced to failed"})
			continue
		}

		if t.Status == TaskStatusPending && t.CompletedAt != nil {
			t.CompletedAt = nil
			repairs = append(repairs, Repair{TaskID: id, What: "cleared completedAt on pending task"})
		}

		for _, dep := range t.Dependencies {
			if _, ok := ps.Tasks[dep]; !ok {
				repairs = append(repairs, Repair{TaskID: id, What: fmt.Sprintf("dependency %s does not exist", dep)})
			}
		}
	}

	// An open RunRecord past the stuck timeout with nothing in flight is an
	// orphan from a crashed coordinator; close it so a new run can start.
	if run := ps.CurrentRun(); run != nil && now.Sub(run.StartedAt) > stuckTimeout {
		inFlight := 0
		for _, t := range ps.Tasks {
			if t.Status == TaskStatusInProgress {
				inFlight++
			}
		}
		if inFlight == 0 {
			closed := now
			run.CompletedAt = &closed
			run.Cancelled = true
			repairs = append(repairs, Repair{What: fmt.Sprintf("closed orphaned run %s", run.RunID)})
		}
	}

	return repairs
}
