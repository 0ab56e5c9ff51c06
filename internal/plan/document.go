// Package plan parses plan documents into a typed task list. The parser is
// strict: malformed documents are rejected here, before any scheduling, so
// scheduling never has to guess at intent.
package plan

// Document is a fully parsed plan document.
type Document struct {
	Name        string
	Description string
	SourceFile  string
	Phases      []Phase
	Constraints []Constraint
}

// Phase is one ordered group of tasks under a phase heading.
type Phase struct {
	Number int
	Title  string
	Tasks  []TaskEntry
}

// TaskEntry is one task line from the document.
type TaskEntry struct {
	ID          string
	Phase       int
	Description string
	// After lists explicit dependency ids from an (after: ...) annotation.
	After []string
	// Files lists paths claimed by a (files: ...) annotation.
	Files []string
	// Verify marks the phase's verification task; it depends on every
	// other task in its phase.
	Verify bool
}

// Constraint is a declared serialize group: the named tasks must execute
// strictly one at a time relative to each other.
type Constraint struct {
	Name    string
	TaskIDs []string
}

// AllTasks returns every task entry in document order.
func (d *Document) AllTasks() []TaskEntry {
	var all []TaskEntry
	for _, p := range d.Phases {
		all = append(all, p.Tasks...)
	}
	return all
}

// TaskByID returns the entry with the given id, or nil.
func (d *Document) TaskByID(id string) *TaskEntry {
	for pi := range d.Phases {
		for ti := range d.Phases[pi].Tasks {
			if d.Phases[pi].Tasks[ti].ID == id {
				return &d.Phases[pi].Tasks[ti]
			}
		}
	}
	return nil
}
