package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BenjaminRose805/orca/internal/testutil"
)

func TestFindRoot(t *testing.T) {
	tmpDir := testutil.SetupTestDir(t)

	if _, err := FindRoot(); err == nil {
		t.Error("FindRoot should fail without a .orca directory")
	}

	if err := os.MkdirAll(filepath.Join(tmpDir, ".orca"), 0755); err != nil {
		t.Fatal(err)
	}

	// Found from the root itself.
	root, err := FindRoot()
	if err != nil {
		t.Fatalf("FindRoot: %v", err)
	}
	if root != tmpDir {
		t.Errorf("root = %s, want %s", root, tmpDir)
	}

	// Found from a nested directory.
	nested := filepath.Join(tmpDir, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(nested); err != nil {
		t.Fatal(err)
	}
	root, err = FindRoot()
	if err != nil {
		t.Fatalf("FindRoot from nested dir: %v", err)
	}
	if root != tmpDir {
		t.Errorf("root = %s, want %s", root, tmpDir)
	}
}

func TestFindPlanDir(t *testing.T) {
	tmpDir := t.TempDir()
	orcaDir := filepath.Join(tmpDir, ".orca")

	if _, err := FindPlanDir(orcaDir, "checkout"); err == nil {
		t.Error("FindPlanDir should fail for a missing plan")
	}

	dir := PlanDir(orcaDir, "checkout")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	got, err := FindPlanDir(orcaDir, "checkout")
	if err != nil {
		t.Fatalf("FindPlanDir: %v", err)
	}
	if got != dir {
		t.Errorf("dir = %s, want %s", got, dir)
	}
}

func TestListPlans_NewestStatusFirst(t *testing.T) {
	tmpDir := t.TempDir()
	orcaDir := filepath.Join(tmpDir, ".orca")

	names, err := ListPlans(orcaDir)
	if err != nil {
		t.Fatalf("ListPlans on empty workspace: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("names = %v, want none", names)
	}

	for _, name := range []string{"older", "newer", "no-status"} {
		if err := os.MkdirAll(PlanDir(orcaDir, name), 0755); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-time.Hour)
	writeStatus := func(name string, mtime time.Time) {
		path := filepath.Join(PlanDir(orcaDir, name), "status.json")
		if err := os.WriteFile(path, []byte("{}"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
	writeStatus("older", old)
	writeStatus("newer", time.Now())

	names, err = ListPlans(orcaDir)
	if err != nil {
		t.Fatalf("ListPlans: %v", err)
	}
	want := []string{"newer", "older", "no-status"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}
