package transport

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"manas/internal/config"
	"manas/internal/logging"
)

// BreakerState is the admission state of a circuit breaker.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateHalfOpen BreakerState = "half-open"
	StateOpen     BreakerState = "open"
)

// CircuitOpenError rejects a request while the breaker is open. It
// carries the cooldown remaining before the next admission attempt.
type CircuitOpenError struct {
	Provider  string
	Remaining time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for provider %s: retry in %v", e.Provider, e.Remaining)
}

// Breaker is a three-state admission controller for one provider.
//
//	closed:    admits all; failureThreshold consecutive failures -> open
//	open:      rejects until cooldown elapses, then first request -> half-open
//	half-open: any failure -> open (timer reset); successThreshold
//	           consecutive successes -> closed
type Breaker struct {
	mu          sync.Mutex
	provider    string
	cfg         config.BreakerConfig
	state       BreakerState
	failures    int // consecutive failures
	successes   int // consecutive successes while half-open
	lastFailure time.Time
	now         func() time.Time // injectable for tests
}

// NewBreaker creates a closed breaker for a provider.
func NewBreaker(provider string, cfg config.BreakerConfig) *Breaker {
	return &Breaker{
		provider: provider,
		cfg:      cfg,
		state:    StateClosed,
		now:      time.Now,
	}
}

// Allow admits or rejects a request. From open, the first request after
// the cooldown transitions to half-open and is admitted.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}

	elapsed := b.now().Sub(b.lastFailure)
	if elapsed < b.cfg.Cooldown() {
		return &CircuitOpenError{Provider: b.provider, Remaining: b.cfg.Cooldown() - elapsed}
	}

	b.state = StateHalfOpen
	b.successes = 0
	logging.Transport("breaker %s: open -> half-open", b.provider)
	return nil
}

// RecordSuccess notes a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
			logging.Transport("breaker %s: half-open -> closed", b.provider)
		}
	case StateClosed:
		b.failures = 0
	}
}

// RecordFailure notes a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()
	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.failures = 0
		b.successes = 0
		logging.Transport("breaker %s: half-open -> open", b.provider)
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			logging.Transport("breaker %s: closed -> open after %d consecutive failures", b.provider, b.failures)
		}
	}
}

// State returns the current admission state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// breakerSnapshot is the serialized form of one breaker.
type breakerSnapshot struct {
	Provider    string       `json:"provider"`
	State       BreakerState `json:"state"`
	Failures    int          `json:"failures"`
	Successes   int          `json:"successes"`
	LastFailure time.Time    `json:"last_failure"`
}

// Registry holds one breaker per provider id.
type Registry struct {
	mu       sync.Mutex
	cfg      config.BreakerConfig
	breakers map[string]*Breaker
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(cfg config.BreakerConfig) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for a provider, creating it on first use.
func (r *Registry) Get(provider string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[provider]
	if !ok {
		b = NewBreaker(provider, r.cfg)
		r.breakers[provider] = b
	}
	return b
}

// ResetAll drops all breakers back to fresh closed state. Tests only.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = make(map[string]*Breaker)
}

// Snapshot serializes per-provider breaker state to JSON.
func (r *Registry) Snapshot() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snaps := make([]breakerSnapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		b.mu.Lock()
		snaps = append(snaps, breakerSnapshot{
			Provider:    b.provider,
			State:       b.state,
			Failures:    b.failures,
			Successes:   b.successes,
			LastFailure: b.lastFailure,
		})
		b.mu.Unlock()
	}
	return json.Marshal(snaps)
}

// Restore rebuilds the registry from a Snapshot payload. Existing
// breakers are replaced.
func (r *Registry) Restore(data []byte) error {
	var snaps []breakerSnapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return fmt.Errorf("invalid breaker snapshot: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = make(map[string]*Breaker, len(snaps))
	for _, s := range snaps {
		b := NewBreaker(s.Provider, r.cfg)
		b.state = s.State
		b.failures = s.Failures
		b.successes = s.Successes
		b.lastFailure = s.LastFailure
		r.breakers[s.Provider] = b
	}
	return nil
}
