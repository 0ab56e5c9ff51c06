package executor

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func readEvents(t *testing.T, dir string) []RunEvent {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, "events.log"))
	if err != nil {
		t.Fatalf("open events.log: %v", err)
	}
	defer f.Close()

	var out []RunEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e RunEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("malformed event line %q: %v", scanner.Text(), err)
		}
		out = append(out, e)
	}
	return out
}

func TestEventLogger_AppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLogger(dir)

	l.RunStarted("run-1")
	l.TaskStarted("1.1", 1)
	l.TaskFailed("1.1", 1, FailureTransient, "boom")
	l.TaskCompleted("1.1")
	l.RunCompleted("run-1", 1, 0, 3*time.Second)

	events := readEvents(t, dir)
	if len(events) != 5 {
		t.Fatalf("events = %d, want 5", len(events))
	}

	wantOrder := []string{
		EventRunStarted, EventTaskStarted, EventTaskFailed, EventTaskCompleted, EventRunCompleted,
	}
	for i, want := range wantOrder {
		if events[i].Event != want {
			t.Errorf("event[%d] = %s, want %s", i, events[i].Event, want)
		}
	}

	failed := events[2]
	if failed.Data["class"] != "transient" || failed.Data["reason"] != "boom" {
		t.Errorf("task_failed data = %v", failed.Data)
	}
	if events[4].Data["duration_ms"] != float64(3000) {
		t.Errorf("duration_ms = %v, want 3000", events[4].Data["duration_ms"])
	}
}

func TestEventLogger_ConcurrentWritesStayLineAtomic(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLogger(dir)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				l.TaskCompleted("1.1")
			}
		}(i)
	}
	wg.Wait()

	if got := len(readEvents(t, dir)); got != 80 {
		t.Errorf("events = %d, want 80 well-formed lines", got)
	}
}
