package graph

import (
	"errors"
	"fmt"

	"github.com/BenjaminRose805/orca/internal/state"
)

// ErrBlocked is reported when pending tasks exist but none can ever become
// eligible without operator intervention.
var ErrBlocked = errors.New("scheduler blocked: pending tasks exist but none are eligible")

// Candidate is one schedulable task plus the constraint metadata callers
// need to honor.
type Candidate struct {
	ID              string `json:"id"`
	Phase           int    `json:"phase"`
	Description     string `json:"description"`
	ConstraintGroup string `json:"constraintGroup,omitempty"`
}

// NextEligible returns up to maxCount tasks eligible for dispatch against
// the given status snapshot. A task is eligible when it is pending, its
// dependency join is satisfied, no task from its constraint group is
// in_progress or already selected, and none of its file claims collide with
// an in_progress or already-selected task. Results are ordered by
// (phase, id) so batches are deterministic.
//
// joinThreshold is the "N of M" fan-in parameter: 0 requires every
// dependency completed; N > 0 requires at least N completed. The store's
// completion guard applies the same rule, so an admitted task can always
// record its success.
//
// When no task is eligible, tasks remain pending, and nothing is in flight
// to unblock them, NextEligible returns ErrBlocked.
func (g *Graph) NextEligible(ps *state.PlanStatus, maxCount, joinThreshold int) ([]Candidate, error) {
	if maxCount <= 0 {
		return nil, nil
	}

	busyGroups := make(map[string]bool)
	claimedFiles := make(map[string]bool)
	pending := 0
	inProgress := 0

	for _, id := range g.order {
		t, ok := ps.Tasks[id]
		if !ok {
			return nil, fmt.Errorf("graph task %s missing from status store", id)
		}
		switch t.Status {
		case state.TaskStatusPending:
			pending++
		case state.TaskStatusInProgress:
			inProgress++
			if group := ps.ConstraintGroupFor(id); group != nil {
				busyGroups[group.Name] = true
			}
			for _, f := range g.nodes[id].Files {
				claimedFiles[f] = true
			}
		}
	}

	var batch []Candidate
	for _, id := range g.order {
		if len(batch) >= maxCount {
			break
		}
		t := ps.Tasks[id]
		if t.Status != state.TaskStatusPending {
			continue
		}
		node := g.nodes[id]

		if !state.JoinSatisfied(ps, node.Dependencies, joinThreshold) {
			continue
		}

		groupName := ""
		if group := ps.ConstraintGroupFor(id); group != nil {
			groupName = group.Name
			if busyGroups[groupName] {
				continue
			}
		}

		if filesCollide(node.Files, claimedFiles) {
			continue
		}

		batch = append(batch, Candidate{
			ID:              id,
			Phase:           node.Phase,
			Description:     node.Description,
			ConstraintGroup: groupName,
		})
		if groupName != "" {
			busyGroups[groupName] = true
		}
		for _, f := range node.Files {
			claimedFiles[f] = true
		}
	}

	if len(batch) == 0 && pending > 0 && inProgress == 0 {
		return nil, ErrBlocked
	}
	return batch, nil
}

func filesCollide(files []string, claimed map[string]bool) bool {
	for _, f := range files {
		if claimed[f] {
			return true
		}
	}
	return false
}
