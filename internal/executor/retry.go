package executor

import (
	"math/rand"
	"time"
)

// FailureClass classifies a task failure for the retry policy.
type FailureClass string

const (
	// FailureTransient covers I/O errors, lock contention, and provider
	// rate limits. Retried.
	FailureTransient FailureClass = "transient"
	// FailureValidation means task preconditions were not met. Not retried.
	FailureValidation FailureClass = "validation"
	// FailurePartial means some sub-steps succeeded. Retried.
	FailurePartial FailureClass = "partial"
	// FailureNonRecoverable is terminal.
	FailureNonRecoverable FailureClass = "non_recoverable"
	// FailureUserIntervention is terminal and needs manual follow-up.
	FailureUserIntervention FailureClass = "user_intervention"
)

// Retryable reports whether this classification is eligible for automatic
// retry at all.
func (c FailureClass) Retryable() bool {
	return c == FailureTransient || c == FailurePartial
}

// NeedsManualFollowUp reports whether the failure must be surfaced for an
// operator.
func (c FailureClass) NeedsManualFollowUp() bool {
	return c == FailureNonRecoverable || c == FailureUserIntervention
}

// RetryPolicy computes backoff delays: base * 2^attempt, capped, with ±20%
// jitter.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// rng is swappable for deterministic tests.
	rng *rand.Rand
}

// NewRetryPolicy creates a policy with the given budget and backoff bounds.
func NewRetryPolicy(maxAttempts int, base, cap time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		BackoffBase: base,
		BackoffCap:  cap,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ShouldRetry decides whether a task that has made `attempts` attempts and
// failed with class `class` gets another try.
func (p *RetryPolicy) ShouldRetry(class FailureClass, attempts int) bool {
	if !class.Retryable() {
		return false
	}
	return attempts < p.MaxAttempts
}

// Backoff returns the delay before the given attempt number (1-based).
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.BackoffCap {
			d = p.BackoffCap
			break
		}
	}
	if d > p.BackoffCap {
		d = p.BackoffCap
	}

	// ±20% jitter.
	jitter := 0.8 + 0.4*p.rng.Float64()
	return time.Duration(float64(d) * jitter)
}

// breakerState is the circuit breaker's position.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker suspends retries after Threshold consecutive failures of
// the same classification within Window. While open, attempts are refused
// until Cooldown elapses; the first attempt after cooldown runs as a
// half-open probe whose outcome closes or re-opens the breaker.
//
// Breakers are per task and driven from a single coordinator goroutine, so
// no internal locking is needed.
type CircuitBreaker struct {
	Threshold int
	Window    time.Duration
	Cooldown  time.Duration

	state     breakerState
	lastClass FailureClass
	failures  []time.Time
	openedAt  time.Time

	now func() time.Time // swappable for tests
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(threshold int, window, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		Threshold: threshold,
		Window:    window,
		Cooldown:  cooldown,
		state:     breakerClosed,
		now:       time.Now,
	}
}

// Allow reports whether an attempt may proceed. An open breaker whose
// cooldown has elapsed transitions to half-open and admits one probe.
func (b *CircuitBreaker) Allow() bool {
	switch b.state {
	case breakerClosed, breakerHalfOpen:
		return true
	case breakerOpen:
		if b.now().Sub(b.openedAt) >= b.Cooldown {
			b.state = breakerHalfOpen
			return true
		}
		return false
	}
	return true
}

// State returns a printable breaker state.
func (b *CircuitBreaker) State() string {
	return b.state.String()
}

// RemainingCooldown reports how long an open breaker keeps refusing
// attempts. Zero when the breaker is not open or the cooldown has elapsed.
func (b *CircuitBreaker) RemainingCooldown() time.Duration {
	if b.state != breakerOpen {
		return 0
	}
	remaining := b.Cooldown - b.now().Sub(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordSuccess closes the breaker and clears the failure window.
func (b *CircuitBreaker) RecordSuccess() {
	b.state = breakerClosed
	b.failures = nil
	b.lastClass = ""
}

// RecordFailure registers a failure. A half-open probe failure re-opens the
// breaker immediately; otherwise the sliding window of same-class failures
// is checked against the threshold.
func (b *CircuitBreaker) RecordFailure(class FailureClass) {
	now := b.now()

	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = now
		b.failures = nil
		b.lastClass = class
		return
	}

	// A classification change resets the consecutive count.
	if class != b.lastClass {
		b.failures = nil
		b.lastClass = class
	}
	b.failures = append(b.failures, now)

	// Drop failures outside the sliding window.
	cutoff := now.Add(-b.Window)
	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = kept

	if len(b.failures) >= b.Threshold {
		b.state = breakerOpen
		b.openedAt = now
		b.failures = nil
	}
}
