// Package config loads orchestrator settings from .orca/config.toml.
// Every field has a working default; the file is optional.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const configFileName = "config.toml"

// Config holds all tunable orchestrator settings.
type Config struct {
	// Concurrency is the worker pool size.
	Concurrency int `toml:"concurrency"`

	// StuckTimeout is how long a task may stay in_progress before it is
	// force-failed with lastError "timeout".
	StuckTimeout Duration `toml:"stuck_timeout"`

	// MaxAttempts is the retry budget per task.
	MaxAttempts int `toml:"max_attempts"`

	// BackoffBase and BackoffCap bound the retry backoff curve
	// (base * 2^attempt, capped, ±20% jitter).
	BackoffBase Duration `toml:"backoff_base"`
	BackoffCap  Duration `toml:"backoff_cap"`

	// BreakerThreshold consecutive failures of the same classification
	// within BreakerWindow trip the circuit breaker; retries resume with a
	// half-open probe after BreakerCooldown.
	BreakerThreshold int      `toml:"breaker_threshold"`
	BreakerWindow    Duration `toml:"breaker_window"`
	BreakerCooldown  Duration `toml:"breaker_cooldown"`

	// LockTimeout bounds status-store lock acquisition; LockStaleAfter is
	// the age past which a held lock may be reclaimed.
	LockTimeout    Duration `toml:"lock_timeout"`
	LockStaleAfter Duration `toml:"lock_stale_after"`

	// AgentCommand is the worker agent executable.
	AgentCommand string `toml:"agent_command"`

	// JoinThreshold is the "N of M" fan-in parameter. Zero means all
	// dependencies must be completed; there is no other default.
	JoinThreshold int `toml:"join_threshold"`
}

// Duration wraps time.Duration so TOML values can be written as "30m".
type Duration time.Duration

// UnmarshalText parses a duration string like "30m" or "10s".
func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText renders the duration in time.Duration notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no config file exists.
func Default() Config {
	return Config{
		Concurrency:      5,
		StuckTimeout:     Duration(30 * time.Minute),
		MaxAttempts:      3,
		BackoffBase:      Duration(time.Second),
		BackoffCap:       Duration(time.Minute),
		BreakerThreshold: 5,
		BreakerWindow:    Duration(10 * time.Minute),
		BreakerCooldown:  Duration(2 * time.Minute),
		LockTimeout:      Duration(10 * time.Second),
		LockStaleAfter:   Duration(60 * time.Second),
		AgentCommand:     "claude",
		JoinThreshold:    0,
	}
}

// Load reads config.toml from the given orca directory, applying defaults
// for any missing keys. A missing file returns the defaults.
func Load(orcaDir string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filepath.Join(orcaDir, configFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read %s: %w", configFileName, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", configFileName, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the orchestrator cannot run with.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.StuckTimeout <= 0 {
		return fmt.Errorf("stuck_timeout must be positive, got %s", c.StuckTimeout.Std())
	}
	if c.BreakerThreshold < 1 {
		return fmt.Errorf("breaker_threshold must be at least 1, got %d", c.BreakerThreshold)
	}
	if c.JoinThreshold < 0 {
		return fmt.Errorf("join_threshold cannot be negative, got %d", c.JoinThreshold)
	}
	if c.AgentCommand == "" {
		return fmt.Errorf("agent_command cannot be empty")
	}
	return nil
}
