package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/BenjaminRose805/orca/internal/ctxlog"
)

const lockFileName = "status.lock"

// ErrLockTimeout is returned when the lock cannot be acquired within the
// caller's timeout. Callers decide whether to retry the whole operation.
var ErrLockTimeout = errors.New("timed out waiting for status lock")

// Lock is an advisory file lock guarding status store writes. The lock file
// holds the owner's PID; staleness is detected from the PID and the file's
// age. Readers never take the lock.
type Lock struct {
	path       string
	staleAfter time.Duration
}

// NewLock creates a lock manager colocated with the status file in planDir.
func NewLock(planDir string, staleAfter time.Duration) *Lock {
	return &Lock{
		path:       filepath.Join(planDir, lockFileName),
		staleAfter: staleAfter,
	}
}

// Acquire obtains the lock, retrying with exponential backoff until timeout.
// Stale locks (dead owner, or older than the staleness threshold) are
// reclaimed by the waiter. Returns ErrLockTimeout when the budget runs out.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	backoff := 10 * time.Millisecond

	for {
		ok, err := l.tryAcquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if time.Now().Add(backoff).After(deadline) {
			return fmt.Errorf("%w (after %s)", ErrLockTimeout, timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < time.Second {
			backoff *= 2
		}
	}
}

// tryAcquire makes a single attempt: create the lock file exclusively, or
// reclaim it if the current holder is stale.
func (l *Lock) tryAcquire(ctx context.Context) (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err == nil {
		_, writeErr := fmt.Fprintf(f, "%d", os.Getpid())
		f.Close()
		if writeErr != nil {
			os.Remove(l.path)
			return false, fmt.Errorf("failed to write lock file: %w", writeErr)
		}
		return true, nil
	}
	if !os.IsExist(err) {
		return false, fmt.Errorf("failed to create lock file: %w", err)
	}

	obs, obsErr := l.observe()
	if obsErr != nil {
		if os.IsNotExist(obsErr) {
			// Holder released between the create attempt and the read; the
			// next iteration races for the fresh lock.
			return false, nil
		}
		return false, obsErr
	}
	if !l.isStale(ctx, obs) {
		return false, nil
	}
	if _, err := l.reclaim(obs); err != nil {
		return false, err
	}
	return false, nil
}

// lockObservation is one read of the lock file, kept so staleness judged on
// it can be re-verified against the same snapshot before reclaiming.
type lockObservation struct {
	raw     string
	modTime time.Time
}

func (l *Lock) observe() (lockObservation, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return lockObservation{}, err
		}
		return lockObservation{}, fmt.Errorf("failed to stat lock file: %w", err)
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return lockObservation{}, err
		}
		return lockObservation{}, fmt.Errorf("failed to read lock file: %w", err)
	}
	return lockObservation{raw: string(data), modTime: info.ModTime()}, nil
}

// isStale reports whether the observed lock may be reclaimed: the owning
// process is gone, the PID is unreadable, or the lock has outlived the
// staleness threshold (which also covers PID reuse after a crash).
func (l *Lock) isStale(ctx context.Context, obs lockObservation) bool {
	logger := ctxlog.FromContext(ctx)

	pid, parseErr := strconv.Atoi(strings.TrimSpace(obs.raw))
	if parseErr != nil {
		logger.Warn("reclaiming lock with unreadable PID", "path", l.path)
		return true
	}

	if !processExists(pid) {
		logger.Warn("reclaiming lock held by dead process", "pid", pid)
		return true
	}

	if age := time.Since(obs.modTime); age > l.staleAfter {
		logger.Warn("reclaiming lock past staleness threshold", "pid", pid, "age", age)
		return true
	}

	return false
}

// reclaim removes a lock judged stale, but only if it still matches the
// judged observation. Another waiter may have reclaimed it and written a
// fresh lock in the meantime; removing that one would let two writers in.
func (l *Lock) reclaim(obs lockObservation) (bool, error) {
	cur, err := l.observe()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if cur.raw != obs.raw || !cur.modTime.Equal(obs.modTime) {
		return false, nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to remove stale lock file: %w", err)
	}
	return true, nil
}

// Release removes the lock file. Idempotent.
func (l *Lock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// processExists checks whether a process with the given PID is running,
// using kill with signal 0.
func processExists(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
