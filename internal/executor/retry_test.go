package executor

import (
	"testing"
	"time"
)

func TestFailureClass_Retryable(t *testing.T) {
	testCases := []struct {
		class FailureClass
		want  bool
	}{
		{FailureTransient, true},
		{FailurePartial, true},
		{FailureValidation, false},
		{FailureNonRecoverable, false},
		{FailureUserIntervention, false},
	}
	for _, tc := range testCases {
		if got := tc.class.Retryable(); got != tc.want {
			t.Errorf("%s.Retryable() = %v, want %v", tc.class, got, tc.want)
		}
	}
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := NewRetryPolicy(3, time.Second, time.Minute)

	if !p.ShouldRetry(FailureTransient, 1) {
		t.Error("attempt 1 of 3 should retry")
	}
	if !p.ShouldRetry(FailureTransient, 2) {
		t.Error("attempt 2 of 3 should retry")
	}
	if p.ShouldRetry(FailureTransient, 3) {
		t.Error("attempt 3 of 3 exhausts the budget")
	}
	if p.ShouldRetry(FailureNonRecoverable, 1) {
		t.Error("non_recoverable must never retry")
	}
	if p.ShouldRetry(FailureUserIntervention, 1) {
		t.Error("user_intervention must never retry")
	}
}

func TestRetryPolicy_BackoffCurve(t *testing.T) {
	p := NewRetryPolicy(10, time.Second, 8*time.Second)

	// With ±20% jitter the delay must stay inside [0.8, 1.2] of the
	// nominal base * 2^(attempt-1), capped.
	testCases := []struct {
		attempt int
		nominal time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{7, 8 * time.Second}, // capped
	}
	for _, tc := range testCases {
		for i := 0; i < 20; i++ {
			d := p.Backoff(tc.attempt)
			lo := time.Duration(float64(tc.nominal) * 0.8)
			hi := time.Duration(float64(tc.nominal) * 1.2)
			if d < lo || d > hi {
				t.Fatalf("Backoff(%d) = %s, want within [%s, %s]", tc.attempt, d, lo, hi)
			}
		}
	}
}

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute, time.Minute)

	for i := 0; i < 2; i++ {
		b.RecordFailure(FailureTransient)
		if !b.Allow() {
			t.Fatalf("breaker open after %d failures, threshold is 3", i+1)
		}
	}
	b.RecordFailure(FailureTransient)
	if b.Allow() {
		t.Error("breaker should be open after 3 consecutive failures")
	}
	if b.State() != "open" {
		t.Errorf("state = %s, want open", b.State())
	}
}

func TestCircuitBreaker_ClassChangeResetsCount(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute, time.Minute)

	b.RecordFailure(FailureTransient)
	b.RecordFailure(FailureTransient)
	b.RecordFailure(FailurePartial) // different classification
	b.RecordFailure(FailurePartial)
	if !b.Allow() {
		t.Error("mixed classifications should not trip a same-class breaker")
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	b := NewCircuitBreaker(2, time.Minute, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure(FailureTransient)
	b.RecordFailure(FailureTransient)
	if b.Allow() {
		t.Fatal("breaker should be open")
	}

	// Cooldown elapses: one probe is admitted.
	now = now.Add(2 * time.Minute)
	if !b.Allow() {
		t.Fatal("breaker should admit a half-open probe after cooldown")
	}
	if b.State() != "half-open" {
		t.Errorf("state = %s, want half-open", b.State())
	}

	// Probe fails: straight back to open.
	b.RecordFailure(FailureTransient)
	if b.Allow() {
		t.Error("failed probe must re-open the breaker")
	}

	// Next probe succeeds: closed again.
	now = now.Add(2 * time.Minute)
	if !b.Allow() {
		t.Fatal("expected another probe after second cooldown")
	}
	b.RecordSuccess()
	if b.State() != "closed" {
		t.Errorf("state = %s, want closed", b.State())
	}
	if !b.Allow() {
		t.Error("closed breaker must allow attempts")
	}
}

func TestCircuitBreaker_RemainingCooldown(t *testing.T) {
	b := NewCircuitBreaker(1, time.Minute, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	if b.RemainingCooldown() != 0 {
		t.Error("closed breaker has no cooldown")
	}

	b.RecordFailure(FailureTransient)
	if got := b.RemainingCooldown(); got != time.Minute {
		t.Errorf("RemainingCooldown = %s, want %s right after opening", got, time.Minute)
	}

	now = now.Add(40 * time.Second)
	if got := b.RemainingCooldown(); got != 20*time.Second {
		t.Errorf("RemainingCooldown = %s, want %s", got, 20*time.Second)
	}

	now = now.Add(time.Minute)
	if got := b.RemainingCooldown(); got != 0 {
		t.Errorf("RemainingCooldown = %s, want 0 after the cooldown elapses", got)
	}
}

func TestCircuitBreaker_SlidingWindowExpiry(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure(FailureTransient)
	b.RecordFailure(FailureTransient)

	// Old failures age out of the window before the third arrives.
	now = now.Add(2 * time.Minute)
	b.RecordFailure(FailureTransient)
	if !b.Allow() {
		t.Error("failures outside the sliding window must not count")
	}
}
