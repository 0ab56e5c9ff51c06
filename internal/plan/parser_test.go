package plan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleDoc = `# Payments rework

## Phase 1: Foundations

- [ ] 1.1 Create payment schema (files: db/schema.sql)
- [ ] 1.2 Add migration runner (after: 1.1)
- [ ] 1.3 Verify foundations (verify)

## Phase 2: API

- [ ] 2.1 Implement charge endpoint (serialize: 2.1-2.3) (files: api/charge.go)
- [ ] 2.2 Implement refund endpoint (files: api/refund.go)
- [ ] 2.3 Implement webhook handler
- [ ] 2.4 Verify API (verify)
`

func TestParse_FullDocument(t *testing.T) {
	doc, err := ParseString("payments.md", sampleDoc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if doc.Name != "payments" {
		t.Errorf("name = %q, want %q", doc.Name, "payments")
	}
	if doc.Description != "Payments rework" {
		t.Errorf("description = %q, want %q", doc.Description, "Payments rework")
	}
	if len(doc.Phases) != 2 {
		t.Fatalf("got %d phases, want 2", len(doc.Phases))
	}
	if got := len(doc.AllTasks()); got != 7 {
		t.Errorf("got %d tasks, want 7", got)
	}

	task := doc.TaskByID("1.2")
	if task == nil {
		t.Fatal("task 1.2 not found")
	}
	if task.Description != "Add migration runner" {
		t.Errorf("description = %q, want %q", task.Description, "Add migration runner")
	}
	if len(task.After) != 1 || task.After[0] != "1.1" {
		t.Errorf("after = %v, want [1.1]", task.After)
	}

	if files := doc.TaskByID("1.1").Files; len(files) != 1 || files[0] != "db/schema.sql" {
		t.Errorf("files = %v, want [db/schema.sql]", files)
	}

	if !doc.TaskByID("1.3").Verify {
		t.Error("task 1.3 should be the phase verification task")
	}
}

func TestParse_SerializeRangeExpansion(t *testing.T) {
	doc, err := ParseString("payments.md", sampleDoc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(doc.Constraints) != 1 {
		t.Fatalf("got %d constraints, want 1", len(doc.Constraints))
	}
	got := doc.Constraints[0].TaskIDs
	want := []string{"2.1", "2.2", "2.3"}
	if len(got) != len(want) {
		t.Fatalf("constraint members = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("member[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "no phases",
			doc:     "# Just a title\n",
			wantErr: "no phases",
		},
		{
			name:    "malformed heading",
			doc:     "## Stage one\n- [ ] 1.1 Do it\n",
			wantErr: "malformed phase heading",
		},
		{
			name:    "task before phase",
			doc:     "- [ ] 1.1 Do it\n## Phase 1: One\n",
			wantErr: "before any phase heading",
		},
		{
			name:    "duplicate id",
			doc:     "## Phase 1: One\n- [ ] 1.1 First\n- [ ] 1.1 Again\n",
			wantErr: "duplicate task id 1.1",
		},
		{
			name:    "id outside phase",
			doc:     "## Phase 1: One\n- [ ] 2.1 Wrong phase\n",
			wantErr: "does not belong to phase 1",
		},
		{
			name:    "phases out of order",
			doc:     "## Phase 2: Two\n- [ ] 2.1 A\n## Phase 1: One\n- [ ] 1.1 B\n",
			wantErr: "phase 1 out of order",
		},
		{
			name:    "unknown annotation",
			doc:     "## Phase 1: One\n- [ ] 1.1 A (priority: high)\n",
			wantErr: "unknown annotation",
		},
		{
			name:    "after references undeclared task",
			doc:     "## Phase 1: One\n- [ ] 1.1 A (after: 9.9)\n",
			wantErr: "undeclared task 9.9",
		},
		{
			name:    "serialize range start missing",
			doc:     "## Phase 1: One\n- [ ] 1.1 A (serialize: 1.5-1.6)\n- [ ] 1.2 B\n",
			wantErr: "serialize range start",
		},
		{
			name:    "serialize covers one task",
			doc:     "## Phase 1: One\n- [ ] 1.1 A (serialize: 1.1-1.1)\n",
			wantErr: "fewer than two tasks",
		},
		{
			name:    "two verify tasks in one phase",
			doc:     "## Phase 1: One\n- [ ] 1.1 A (verify)\n- [ ] 1.2 B (verify)\n",
			wantErr: "verification tasks",
		},
		{
			name:    "malformed task entry",
			doc:     "## Phase 1: One\n- [x] 1.1 Already done\n",
			wantErr: "malformed task entry",
		},
		{
			name:    "missing description",
			doc:     "## Phase 1: One\n- [ ] 1.1 (files: a.go)\n",
			wantErr: "no description",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseString("plan.md", tc.doc)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestParse_SubtaskIDs(t *testing.T) {
	doc, err := ParseString("plan.md", `## Phase 3: Deep work
- [ ] 3.4 Parent task
- [ ] 3.4.1 First subtask
- [ ] 3.4.2 Second subtask (after: 3.4.1)
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(doc.AllTasks()); got != 3 {
		t.Fatalf("got %d tasks, want 3", got)
	}
	if doc.TaskByID("3.4.2") == nil {
		t.Error("subtask 3.4.2 not parsed")
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rollout.md")
	if err := os.WriteFile(path, []byte(sampleDoc), 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	doc, err := ParseFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.SourceFile != path {
		t.Errorf("sourceFile = %q, want %q", doc.SourceFile, path)
	}
	if doc.Name != "rollout" {
		t.Errorf("name = %q, want %q", doc.Name, "rollout")
	}
}

func TestCompareIDs(t *testing.T) {
	testCases := []struct {
		a, b string
		want int
	}{
		{"1.1", "1.2", -1},
		{"1.2", "1.1", 1},
		{"1.1", "1.1", 0},
		{"3.9", "3.10", -1},
		{"3.4", "3.4.1", -1},
		{"2.1", "10.1", -1},
	}
	for _, tc := range testCases {
		if got := CompareIDs(tc.a, tc.b); got != tc.want {
			t.Errorf("CompareIDs(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
