package plan

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/BenjaminRose805/orca/internal/testutil"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	return context.Background()
}

func TestOpen_UnknownPlan(t *testing.T) {
	testutil.SetupTestDir(t)
	if err := os.MkdirAll(".orca", 0755); err != nil {
		t.Fatal(err)
	}

	_, err := Open("nope")
	if err == nil || !strings.Contains(err.Error(), "plan not found") {
		t.Errorf("Open = %v, want plan-not-found error", err)
	}
}

func TestOpen_WiresStoreAndGraph(t *testing.T) {
	testutil.SetupTestDir(t)
	resetCreateFlags(t)

	if err := os.WriteFile("checkout.md", []byte(samplePlanDoc), 0644); err != nil {
		t.Fatal(err)
	}
	if err := createCmd.RunE(createCmd, []string{"checkout.md"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	pc, err := Open("checkout")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if pc.Name != "checkout" {
		t.Errorf("name = %s", pc.Name)
	}
	if got := len(pc.Graph.Order()); got != 3 {
		t.Errorf("graph order = %d tasks, want 3", got)
	}

	ps, err := pc.Store.Load(testCtx(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ps.Tasks) != 3 {
		t.Errorf("tasks = %d, want 3", len(ps.Tasks))
	}

	// The store carries the rebuild path: corrupting status.json and its
	// backup falls back to a fresh all-pending status from plan.md.
	if err := os.WriteFile(pc.Store.Path(), []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}
	os.Remove(pc.Store.Path() + ".bak")
	rebuilt, err := pc.Store.Load(testCtx(t))
	if err != nil {
		t.Fatalf("Load after corruption: %v", err)
	}
	if len(rebuilt.Tasks) != 3 {
		t.Errorf("rebuilt tasks = %d, want 3", len(rebuilt.Tasks))
	}
}
