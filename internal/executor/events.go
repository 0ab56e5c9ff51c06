package executor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const eventsLogFileName = "events.log"

// Event type constants for the run event log.
const (
	EventRunStarted    = "run_started"
	EventRunCompleted  = "run_completed"
	EventRunCancelled  = "run_cancelled"
	EventRunBlocked    = "run_blocked"
	EventTaskStarted   = "task_started"
	EventTaskCompleted = "task_completed"
	EventTaskFailed    = "task_failed"
	EventTaskSkipped   = "task_skipped"
	EventTaskRetried   = "task_retried"
	EventTaskStuck     = "task_stuck"
	EventBreakerOpen   = "breaker_open"
)

// RunEvent is a single event log entry.
type RunEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventLogger appends run events to a JSON Lines file. Safe for concurrent
// use by parallel dispatches.
type EventLogger struct {
	mu   sync.Mutex
	path string
}

// NewEventLogger creates an event logger for the given plan directory.
func NewEventLogger(planDir string) *EventLogger {
	return &EventLogger{path: filepath.Join(planDir, eventsLogFileName)}
}

// Log appends one event.
func (l *EventLogger) Log(event string, data map[string]any) error {
	entry := RunEvent{
		Timestamp: time.Now(),
		Event:     event,
		Data:      data,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	jsonBytes = append(jsonBytes, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(jsonBytes)
	return err
}

// RunStarted logs a run_started event.
func (l *EventLogger) RunStarted(runID string) error {
	return l.Log(EventRunStarted, map[string]any{"run_id": runID})
}

// RunCompleted logs a run_completed event with summary statistics.
func (l *EventLogger) RunCompleted(runID string, completed, failed int, duration time.Duration) error {
	return l.Log(EventRunCompleted, map[string]any{
		"run_id":          runID,
		"tasks_completed": completed,
		"tasks_failed":    failed,
		"duration_ms":     duration.Milliseconds(),
	})
}

// RunCancelled logs a run_cancelled event.
func (l *EventLogger) RunCancelled(runID string) error {
	return l.Log(EventRunCancelled, map[string]any{"run_id": runID})
}

// TaskStarted logs a task_started event.
func (l *EventLogger) TaskStarted(taskID string, attempt int) error {
	return l.Log(EventTaskStarted, map[string]any{"task_id": taskID, "attempt": attempt})
}

// TaskCompleted logs a task_completed event.
func (l *EventLogger) TaskCompleted(taskID string) error {
	return l.Log(EventTaskCompleted, map[string]any{"task_id": taskID})
}

// TaskFailed logs a task_failed event with its classification.
func (l *EventLogger) TaskFailed(taskID string, attempt int, class FailureClass, reason string) error {
	return l.Log(EventTaskFailed, map[string]any{
		"task_id": taskID,
		"attempt": attempt,
		"class":   string(class),
		"reason":  reason,
	})
}
