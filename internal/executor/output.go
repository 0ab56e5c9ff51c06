package executor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const outputLogFileName = "output.log"

// OutputCapture appends agent output to the plan's output.log and, when a
// stream channel is attached, forwards progress text for live display.
// It is safe for concurrent use by parallel dispatches.
type OutputCapture struct {
	mu         sync.Mutex
	logFile    *os.File
	eventsChan chan string // nil when nothing is watching
}

// NewOutputCapture opens output.log in append mode so history survives
// re-runs. eventsChan may be nil; when set it must be buffered, and full
// buffers drop data rather than blocking execution.
func NewOutputCapture(planDir string, eventsChan chan string) (*OutputCapture, error) {
	logPath := filepath.Join(planDir, outputLogFileName)
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &OutputCapture{logFile: f, eventsChan: eventsChan}, nil
}

// WriteProgress records one chunk of agent progress text.
func (oc *OutputCapture) WriteProgress(text string) {
	oc.mu.Lock()
	oc.logFile.WriteString(text)
	oc.mu.Unlock()

	if oc.eventsChan != nil {
		select {
		case oc.eventsChan <- text:
		default:
			// Drop when the watcher is slow; never block execution.
		}
	}
}

// Stderr returns a writer for raw agent stderr.
func (oc *OutputCapture) Stderr() io.Writer {
	return stderrWriter{oc}
}

type stderrWriter struct {
	oc *OutputCapture
}

func (w stderrWriter) Write(p []byte) (int, error) {
	w.oc.WriteProgress(string(p))
	return len(p), nil
}

// WriteTaskHeader marks the start of one task attempt in the log.
func (oc *OutputCapture) WriteTaskHeader(taskID string, attempt int) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	fmt.Fprintf(oc.logFile, "\n=== Task %s, Attempt %d ===\nStarted: %s\n\n",
		taskID, attempt, time.Now().Format(time.RFC3339))
}

// WriteTaskFooter marks the end of one task attempt.
func (oc *OutputCapture) WriteTaskFooter(taskID string, outcome Outcome) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	fmt.Fprintf(oc.logFile, "\n=== Task %s: %s ===\n\n", taskID, outcome)
}

// Close closes the log file.
func (oc *OutputCapture) Close() error {
	if oc.logFile != nil {
		return oc.logFile.Close()
	}
	return nil
}
