// Package graph builds the in-memory task graph from a parsed plan document
// and computes eligible batches against a status snapshot. The graph is
// read-only after construction and needs no locking.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BenjaminRose805/orca/internal/plan"
	"github.com/BenjaminRose805/orca/internal/state"
)

// Node is one task plus its resolved dependency set.
type Node struct {
	ID           string
	Phase        int
	Description  string
	Dependencies []string
	Files        []string
	Verify       bool
}

// Graph is the immutable dependency/constraint view of a plan.
type Graph struct {
	nodes       map[string]*Node
	order       []string // ids sorted by (phase, id)
	constraints []state.ExecutionConstraint
}

// CycleError reports a dependency cycle found at construction time. It
// carries the exact cycle so the operator does not have to guess.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

// Build constructs the graph from a parsed document and validates it is
// acyclic. Dependency derivation:
//   - explicit (after: ...) annotations;
//   - a parent task depends on all of its subtasks (dotted children);
//   - the phase verification task depends on every other task in its phase;
//   - every task in a phase depends on the previous phase's verification
//     task, or on all of the previous phase's tasks if it has none.
func Build(doc *plan.Document) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*Node)}

	for _, t := range doc.AllTasks() {
		g.nodes[t.ID] = &Node{
			ID:           t.ID,
			Phase:        t.Phase,
			Description:  t.Description,
			Files:        t.Files,
			Verify:       t.Verify,
		}
	}

	for pi, p := range doc.Phases {
		for _, t := range p.Tasks {
			node := g.nodes[t.ID]
			node.Dependencies = append(node.Dependencies, t.After...)

			// Parent tasks wait for their subtasks.
			for _, other := range p.Tasks {
				if other.ID != t.ID && strings.HasPrefix(other.ID, t.ID+".") {
					node.Dependencies = append(node.Dependencies, other.ID)
				}
			}

			// Verification waits on everything else in the phase.
			if t.Verify {
				for _, other := range p.Tasks {
					if other.ID != t.ID {
						node.Dependencies = append(node.Dependencies, other.ID)
					}
				}
			}

			// Phase gating on the previous phase.
			if pi > 0 {
				prev := doc.Phases[pi-1]
				if prevVerify := phaseVerifyID(prev); prevVerify != "" {
					node.Dependencies = append(node.Dependencies, prevVerify)
				} else {
					for _, prevTask := range prev.Tasks {
						node.Dependencies = append(node.Dependencies, prevTask.ID)
					}
				}
			}

			node.Dependencies = dedupe(node.Dependencies)
		}
	}

	for id := range g.nodes {
		g.order = append(g.order, id)
	}
	sort.Slice(g.order, func(i, j int) bool {
		a, b := g.nodes[g.order[i]], g.nodes[g.order[j]]
		if a.Phase != b.Phase {
			return a.Phase < b.Phase
		}
		return plan.CompareIDs(a.ID, b.ID) < 0
	})

	for _, c := range doc.Constraints {
		g.constraints = append(g.constraints, state.ExecutionConstraint{
			Name:    c.Name,
			TaskIDs: c.TaskIDs,
		})
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CycleError{Cycle: cycle}
	}
	return g, nil
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// Order returns all task ids in (phase, id) order.
func (g *Graph) Order() []string {
	return g.order
}

// Constraints returns the declared execution constraint groups.
func (g *Graph) Constraints() []state.ExecutionConstraint {
	return g.constraints
}

// InitialStatus builds the PlanStatus persisted when a plan is first
// scheduled: every task pending, constraints carried over, no runs.
func (g *Graph) InitialStatus() *state.PlanStatus {
	tasks := make(map[string]*state.Task, len(g.nodes))
	for id, n := range g.nodes {
		tasks[id] = &state.Task{
			ID:           id,
			Description:  n.Description,
			Phase:        n.Phase,
			Status:       state.TaskStatusPending,
			Dependencies: n.Dependencies,
			Files:        n.Files,
		}
	}
	return &state.PlanStatus{
		Tasks:                tasks,
		Summary:              state.ComputeSummary(tasks),
		ExecutionConstraints: g.constraints,
		Runs:                 []state.RunRecord{},
	}
}

// findCycle runs a DFS over the dependency relation and returns the first
// cycle found as a closed id path, or nil when the graph is acyclic.
func (g *Graph) findCycle() []string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	color := make(map[string]int, len(g.nodes))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = visiting
		stack = append(stack, id)

		node := g.nodes[id]
		for _, dep := range node.Dependencies {
			if _, ok := g.nodes[dep]; !ok {
				continue
			}
			switch color[dep] {
			case visiting:
				// Cut the stack at the first occurrence of dep and close
				// the loop.
				for i, sid := range stack {
					if sid == dep {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, dep)
					}
				}
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = done
		return nil
	}

	for _, id := range g.order {
		if color[id] == unvisited {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func phaseVerifyID(p plan.Phase) string {
	for _, t := range p.Tasks {
		if t.Verify {
			return t.ID
		}
	}
	return ""
}
