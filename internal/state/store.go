package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BenjaminRose805/orca/internal/ctxlog"
)

const (
	statusFileName = "status.json"
	backupFileName = "status.json.bak"
)

// ErrCorruptStore indicates the status file could not be parsed and no
// recovery path produced a usable PlanStatus.
var ErrCorruptStore = errors.New("status store is corrupt and unrecoverable")

// RebuildFunc rebuilds a fresh PlanStatus (all tasks pending) from the plan
// document. It is the last rung of the load recovery ladder.
type RebuildFunc func() (*PlanStatus, error)

// Store is the crash-safe persistence layer for one plan's PlanStatus.
// Writers serialize through the lock and atomic rename; readers call Load
// without the lock and only ever observe fully-written files.
type Store struct {
	dir         string
	lock        *Lock
	lockTimeout time.Duration
	rebuild     RebuildFunc
}

// NewStore creates a store rooted at planDir. rebuild may be nil when no
// plan document is available to rebuild from.
func NewStore(planDir string, lockTimeout, lockStaleAfter time.Duration, rebuild RebuildFunc) *Store {
	return &Store{
		dir:         planDir,
		lock:        NewLock(planDir, lockStaleAfter),
		lockTimeout: lockTimeout,
		rebuild:     rebuild,
	}
}

// Dir returns the plan directory this store persists into.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the status file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, statusFileName)
}

// Init writes a brand-new PlanStatus. Fails if a status file already exists.
func (s *Store) Init(ctx context.Context, ps *PlanStatus) error {
	if _, err := os.Stat(s.Path()); err == nil {
		return fmt.Errorf("status file already exists at %s", s.Path())
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create plan directory: %w", err)
	}
	if err := s.lock.Acquire(ctx, s.lockTimeout); err != nil {
		return err
	}
	defer s.lock.Release()
	return s.save(ps)
}

// Load reads and parses the persisted state. On malformed content it
// attempts the backup copy, then rebuilds from the plan document as a last
// resort, logging which recovery path was used.
func (s *Store) Load(ctx context.Context) (*PlanStatus, error) {
	logger := ctxlog.FromContext(ctx)

	ps, primaryErr := readStatusFile(s.Path())
	if primaryErr == nil {
		return ps, nil
	}
	if errors.Is(primaryErr, os.ErrNotExist) {
		return nil, primaryErr
	}

	ps, backupErr := readStatusFile(filepath.Join(s.dir, backupFileName))
	if backupErr == nil {
		logger.Warn("status file corrupt, recovered from backup",
			"path", s.Path(), "error", primaryErr)
		return ps, nil
	}

	if s.rebuild != nil {
		ps, rebuildErr := s.rebuild()
		if rebuildErr == nil {
			logger.Warn("status file and backup corrupt, rebuilt from plan document",
				"path", s.Path(), "error", primaryErr)
			ps.Summary = ComputeSummary(ps.Tasks)
			return ps, nil
		}
		return nil, fmt.Errorf("%w: %v (rebuild failed: %v)", ErrCorruptStore, primaryErr, rebuildErr)
	}

	return nil, fmt.Errorf("%w: %v", ErrCorruptStore, primaryErr)
}

// Mutate executes a lock-protected read-modify-write cycle: load, apply fn,
// recompute the summary, write to a temp file, and atomically rename it over
// the status file. No partial write is ever observable.
func (s *Store) Mutate(ctx context.Context, fn func(*PlanStatus) error) error {
	if err := s.lock.Acquire(ctx, s.lockTimeout); err != nil {
		return err
	}
	defer s.lock.Release()

	ps, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if err := fn(ps); err != nil {
		return err
	}
	return s.save(ps)
}

// BatchMutate applies multiple transforms within a single lock
// acquisition/write cycle, so parallel callers cannot interleave between
// them.
func (s *Store) BatchMutate(ctx context.Context, fns []func(*PlanStatus) error) error {
	return s.Mutate(ctx, func(ps *PlanStatus) error {
		for _, fn := range fns {
			if err := fn(ps); err != nil {
				return err
			}
		}
		return nil
	})
}

// save writes the status atomically and refreshes the backup copy. The
// summary is always recomputed from tasks before writing. Write failures
// are fatal to the caller's run.
func (s *Store) save(ps *PlanStatus) error {
	ps.Summary = ComputeSummary(ps.Tasks)

	data, err := json.MarshalIndent(ps, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	data = append(data, '\n')

	path := s.Path()
	tmpPath := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp status file: %w", err)
	}

	// Keep the previous durable state as the backup before replacing it.
	if prev, readErr := os.ReadFile(path); readErr == nil {
		if bakErr := os.WriteFile(filepath.Join(s.dir, backupFileName), prev, 0644); bakErr != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to write backup file: %w", bakErr)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp status file: %w", err)
	}
	return nil
}

// readStatusFile parses one candidate status file and sanity-checks its
// structure.
func readStatusFile(path string) (*PlanStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read status file: %w", err)
	}

	var ps PlanStatus
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("failed to parse status file: %w", err)
	}
	if ps.Tasks == nil {
		return nil, fmt.Errorf("status file has no tasks map")
	}
	for id, t := range ps.Tasks {
		if t == nil || t.ID != id {
			return nil, fmt.Errorf("status file task %q is malformed", id)
		}
	}
	return &ps, nil
}
