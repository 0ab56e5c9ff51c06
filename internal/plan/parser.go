package plan

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Document grammar, line oriented:
//
//	# <plan title>
//	## Phase <n>: <title>
//	- [ ] <dotted-id> <description> [(annotation)]...
//
// Annotations: (serialize: <id>-<id>), (after: <id>[, <id>]...),
// (files: <path>[, <path>]...), (verify). Anything else on a task or
// heading line is an error.

var (
	phaseHeadingRe = regexp.MustCompile(`^## Phase (\d+): (.+)$`)
	taskLineRe     = regexp.MustCompile(`^\s*- \[ \] (\d+(?:\.\d+)+) (.+)$`)
	annotationRe   = regexp.MustCompile(`\(([a-z]+)(?::\s*([^)]*))?\)`)
	rangeRe        = regexp.MustCompile(`^(\d+(?:\.\d+)+)\s*-\s*(\d+(?:\.\d+)+)$`)
)

// ParseFile reads and parses a plan document from disk.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan document: %w", err)
	}
	defer f.Close()

	doc, err := Parse(f.Name(), bufio.NewScanner(f))
	if err != nil {
		return nil, err
	}
	doc.SourceFile = path
	return doc, nil
}

// ParseString parses a plan document held in memory.
func ParseString(name, content string) (*Document, error) {
	return Parse(name, bufio.NewScanner(strings.NewReader(content)))
}

// Parse consumes the scanner line by line and builds the Document. The
// first error encountered aborts the parse with its line number.
func Parse(name string, scanner *bufio.Scanner) (*Document, error) {
	doc := &Document{Name: planName(name)}
	var current *Phase
	seen := make(map[string]int) // task id -> line number
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), " \t")
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, "<!--"):
			continue

		case strings.HasPrefix(trimmed, "# ") && !strings.HasPrefix(trimmed, "## "):
			if doc.Description == "" {
				doc.Description = strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
			}

		case strings.HasPrefix(trimmed, "## "):
			m := phaseHeadingRe.FindStringSubmatch(trimmed)
			if m == nil {
				return nil, fmt.Errorf("line %d: malformed phase heading %q (want \"## Phase <n>: <title>\")", lineNum, trimmed)
			}
			num, _ := strconv.Atoi(m[1])
			if len(doc.Phases) > 0 && num <= doc.Phases[len(doc.Phases)-1].Number {
				return nil, fmt.Errorf("line %d: phase %d out of order", lineNum, num)
			}
			doc.Phases = append(doc.Phases, Phase{Number: num, Title: strings.TrimSpace(m[2])})
			current = &doc.Phases[len(doc.Phases)-1]

		case strings.HasPrefix(trimmed, "- "):
			if current == nil {
				return nil, fmt.Errorf("line %d: task entry before any phase heading", lineNum)
			}
			entry, constraint, err := parseTaskLine(trimmed, current.Number)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			if prev, dup := seen[entry.ID]; dup {
				return nil, fmt.Errorf("line %d: duplicate task id %s (first declared on line %d)", lineNum, entry.ID, prev)
			}
			seen[entry.ID] = lineNum
			current.Tasks = append(current.Tasks, entry)
			if constraint != nil {
				doc.Constraints = append(doc.Constraints, *constraint)
			}

		default:
			// Free prose between sections is tolerated; anything that looks
			// like a structural line but did not match above is not.
			if strings.HasPrefix(trimmed, "-") {
				return nil, fmt.Errorf("line %d: malformed task entry %q", lineNum, trimmed)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read plan document: %w", err)
	}

	if len(doc.Phases) == 0 {
		return nil, fmt.Errorf("plan document contains no phases")
	}
	if err := doc.resolve(seen); err != nil {
		return nil, err
	}
	return doc, nil
}

// parseTaskLine parses one "- [ ] id description (annotations...)" line.
func parseTaskLine(line string, phase int) (TaskEntry, *Constraint, error) {
	m := taskLineRe.FindStringSubmatch(line)
	if m == nil {
		return TaskEntry{}, nil, fmt.Errorf("malformed task entry %q (want \"- [ ] <id> <description>\")", line)
	}

	entry := TaskEntry{ID: m[1], Phase: phase}
	rest := m[2]

	if !strings.HasPrefix(entry.ID, strconv.Itoa(phase)+".") {
		return TaskEntry{}, nil, fmt.Errorf("task id %s does not belong to phase %d", entry.ID, phase)
	}

	var constraint *Constraint
	annotations := annotationRe.FindAllStringSubmatch(rest, -1)
	for _, a := range annotations {
		key, value := a[1], strings.TrimSpace(a[2])
		switch key {
		case "serialize":
			rangeMatch := rangeRe.FindStringSubmatch(value)
			if rangeMatch == nil {
				return TaskEntry{}, nil, fmt.Errorf("malformed serialize range %q (want \"<id>-<id>\")", value)
			}
			constraint = &Constraint{
				Name:    fmt.Sprintf("serialize-%s", strings.ReplaceAll(value, " ", "")),
				TaskIDs: []string{rangeMatch[1], rangeMatch[2]},
			}
		case "after":
			for _, id := range strings.Split(value, ",") {
				id = strings.TrimSpace(id)
				if id == "" {
					return TaskEntry{}, nil, fmt.Errorf("empty id in after annotation")
				}
				entry.After = append(entry.After, id)
			}
		case "files":
			for _, p := range strings.Split(value, ",") {
				p = strings.TrimSpace(p)
				if p != "" {
					entry.Files = append(entry.Files, filepath.Clean(p))
				}
			}
		case "verify":
			entry.Verify = true
		default:
			return TaskEntry{}, nil, fmt.Errorf("unknown annotation %q", key)
		}
	}

	entry.Description = strings.TrimSpace(annotationRe.ReplaceAllString(rest, ""))
	if entry.Description == "" {
		return TaskEntry{}, nil, fmt.Errorf("task %s has no description", entry.ID)
	}
	return entry, constraint, nil
}

// resolve expands serialize ranges against the declared ids, verifies every
// referenced id exists, and enforces one verification task per phase.
func (d *Document) resolve(seen map[string]int) error {
	for _, t := range d.AllTasks() {
		for _, dep := range t.After {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("task %s depends on undeclared task %s", t.ID, dep)
			}
		}
	}

	for ci := range d.Constraints {
		c := &d.Constraints[ci]
		lo, hi := c.TaskIDs[0], c.TaskIDs[1]
		if _, ok := seen[lo]; !ok {
			return fmt.Errorf("serialize range start %s is not a declared task", lo)
		}
		if _, ok := seen[hi]; !ok {
			return fmt.Errorf("serialize range end %s is not a declared task", hi)
		}
		var members []string
		for _, t := range d.AllTasks() {
			if idInRange(t.ID, lo, hi) {
				members = append(members, t.ID)
			}
		}
		if len(members) < 2 {
			return fmt.Errorf("serialize range %s-%s covers fewer than two tasks", lo, hi)
		}
		c.TaskIDs = members
	}

	for _, p := range d.Phases {
		verifies := 0
		for _, t := range p.Tasks {
			if t.Verify {
				verifies++
			}
		}
		if verifies > 1 {
			return fmt.Errorf("phase %d declares %d verification tasks, want at most one", p.Number, verifies)
		}
	}
	return nil
}

// idInRange reports whether id falls inside [lo, hi] under hierarchical
// dotted-id ordering.
func idInRange(id, lo, hi string) bool {
	return CompareIDs(id, lo) >= 0 && CompareIDs(id, hi) <= 0
}

// CompareIDs orders dotted hierarchical ids numerically component by
// component, so "3.10" sorts after "3.9".
func CompareIDs(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		ai, _ := strconv.Atoi(as[i])
		bi, _ := strconv.Atoi(bs[i])
		if ai != bi {
			if ai < bi {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	}
	return 0
}

// planName derives a plan name from the document file name.
func planName(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
