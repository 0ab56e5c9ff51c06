// Package monitor provides a read-only projection of a plan's status for
// display. It only ever calls the store's Load; it never takes the lock and
// never writes, so a crashed or killed monitor cannot affect execution.
package monitor

import (
	"context"
	"sort"
	"time"

	"github.com/BenjaminRose805/orca/internal/ctxlog"
	"github.com/BenjaminRose805/orca/internal/state"
)

// recentLimit caps how many finished tasks a snapshot carries.
const recentLimit = 8

// TaskView is the display projection of one task.
type TaskView struct {
	ID          string
	Description string
	Phase       int
	Status      string
	RetryCount  int
	LastError   string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Snapshot is one point-in-time view of a plan.
type Snapshot struct {
	PlanName string
	TakenAt  time.Time

	Summary map[string]int
	Total   int
	// Done counts tasks that need no further work: completed or skipped.
	Done int

	InProgress []TaskView
	Recent     []TaskView // finished tasks, newest first

	Run *state.RunRecord

	// Stale is set when the store could not be read and this snapshot
	// replays the last good one.
	Stale     bool
	LoadError string
}

// Monitor produces snapshots of one plan's status store.
type Monitor struct {
	store    *state.Store
	planName string
}

// New creates a monitor over the given store.
func New(store *state.Store, planName string) *Monitor {
	return &Monitor{store: store, planName: planName}
}

// Snapshot loads the current status and projects it for display.
func (m *Monitor) Snapshot(ctx context.Context) (Snapshot, error) {
	ps, err := m.store.Load(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return project(m.planName, ps), nil
}

// Watch polls the store at the given interval and emits a snapshot per
// tick. A transient load failure does not kill the watch: the previous
// good snapshot is re-emitted with Stale set. The channel closes when ctx
// is cancelled.
func (m *Monitor) Watch(ctx context.Context, interval time.Duration) <-chan Snapshot {
	out := make(chan Snapshot, 1)
	logger := ctxlog.FromContext(ctx)

	go func() {
		defer close(out)

		var last Snapshot
		var haveLast bool

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			snap, err := m.Snapshot(ctx)
			if err != nil {
				logger.Warn("monitor load failed", "plan", m.planName, "error", err)
				if haveLast {
					snap = last
					snap.Stale = true
					snap.LoadError = err.Error()
				} else {
					snap = Snapshot{
						PlanName:  m.planName,
						TakenAt:   time.Now(),
						Stale:     true,
						LoadError: err.Error(),
					}
				}
			} else {
				last = snap
				haveLast = true
			}

			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func project(planName string, ps *state.PlanStatus) Snapshot {
	snap := Snapshot{
		PlanName: planName,
		TakenAt:  time.Now(),
		Summary:  ps.Summary,
		Total:    len(ps.Tasks),
	}
	snap.Done = ps.Summary[state.TaskStatusCompleted] + ps.Summary[state.TaskStatusSkipped]

	if len(ps.Runs) > 0 {
		run := ps.Runs[len(ps.Runs)-1]
		snap.Run = &run
	}

	var finished []TaskView
	for _, id := range ps.TaskIDs() {
		t := ps.Tasks[id]
		view := TaskView{
			ID:          t.ID,
			Description: t.Description,
			Phase:       t.Phase,
			Status:      t.Status,
			RetryCount:  t.RetryCount,
			LastError:   t.LastError,
			StartedAt:   t.StartedAt,
			CompletedAt: t.CompletedAt,
		}
		switch t.Status {
		case state.TaskStatusInProgress:
			snap.InProgress = append(snap.InProgress, view)
		case state.TaskStatusCompleted, state.TaskStatusFailed,
			state.TaskStatusSkipped, state.TaskStatusRolledBack:
			finished = append(finished, view)
		}
	}

	// Newest finishes first; tasks without a timestamp (skipped,
	// rolled_back) sort last in id order.
	sort.SliceStable(finished, func(i, j int) bool {
		a, b := finished[i].CompletedAt, finished[j].CompletedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	if len(finished) > recentLimit {
		finished = finished[:recentLimit]
	}
	snap.Recent = finished

	return snap
}
