package transport

import (
	"errors"
	"testing"
	"time"

	"manas/internal/config"
)

// fakeClock drives a breaker's view of time.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg config.BreakerConfig) (*Breaker, *fakeClock) {
	b := NewBreaker("zai", cfg)
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	b.now = clock.now
	return b, clock
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(config.BreakerConfig{FailureThreshold: 2, CooldownMs: 1000, SuccessThreshold: 1})

	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("state = %s after 1 failure, want closed", b.State())
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("state = %s after 2 failures, want open", b.State())
	}
}

func TestBreakerCooldownAndRecovery(t *testing.T) {
	b, clock := newTestBreaker(config.BreakerConfig{FailureThreshold: 2, CooldownMs: 1000, SuccessThreshold: 1})
	b.RecordFailure()
	b.RecordFailure()

	// Rejected mid-cooldown with remaining time in the payload.
	clock.advance(500 * time.Millisecond)
	err := b.Allow()
	var open *CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
	if open.Remaining != 500*time.Millisecond {
		t.Errorf("remaining = %v, want 500ms", open.Remaining)
	}

	// Admitted after cooldown; first request moves to half-open.
	clock.advance(600 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow after cooldown: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half-open", b.State())
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("state = %s after success, want closed", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(config.BreakerConfig{FailureThreshold: 2, CooldownMs: 1000, SuccessThreshold: 2})
	b.RecordFailure()
	b.RecordFailure()
	clock.advance(1100 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}

	// A single failure in half-open reopens immediately, regardless of
	// the failure threshold.
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	// The cooldown timer restarted at the half-open failure.
	clock.advance(900 * time.Millisecond)
	if err := b.Allow(); err == nil {
		t.Fatal("expected rejection inside restarted cooldown")
	}
}

func TestBreakerHalfOpenNeedsConsecutiveSuccesses(t *testing.T) {
	b, clock := newTestBreaker(config.BreakerConfig{FailureThreshold: 1, CooldownMs: 1000, SuccessThreshold: 2})
	b.RecordFailure()
	clock.advance(1100 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}

	b.RecordSuccess()
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s after 1/2 successes, want half-open", b.State())
	}
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("state = %s after 2/2 successes, want closed", b.State())
	}
}

func TestBreakerClosedSuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(config.BreakerConfig{FailureThreshold: 3, CooldownMs: 1000, SuccessThreshold: 1})
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("state = %s, want closed: failures are consecutive", b.State())
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}
}

func TestRegistrySnapshotRestore(t *testing.T) {
	cfg := config.DefaultBreakerConfig()
	reg := NewRegistry(cfg)

	a := reg.Get("alpha")
	for i := 0; i < cfg.FailureThreshold; i++ {
		a.RecordFailure()
	}
	reg.Get("beta").RecordFailure()

	data, err := reg.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	fresh := NewRegistry(cfg)
	if err := fresh.Restore(data); err != nil {
		t.Fatal(err)
	}
	if got := fresh.Get("alpha").State(); got != StateOpen {
		t.Errorf("alpha state = %s, want open", got)
	}
	if got := fresh.Get("beta").State(); got != StateClosed {
		t.Errorf("beta state = %s, want closed", got)
	}

	// A restored open breaker still honors its original cooldown window.
	if err := fresh.Get("alpha").Allow(); err == nil {
		t.Error("restored open breaker admitted a request immediately")
	}

	// Round trip again: the second snapshot matches the same states.
	data2, err := fresh.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	again := NewRegistry(cfg)
	if err := again.Restore(data2); err != nil {
		t.Fatal(err)
	}
	if got := again.Get("alpha").State(); got != StateOpen {
		t.Errorf("alpha state after second restore = %s, want open", got)
	}
}
