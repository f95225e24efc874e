package transport

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"time"

	"manas/internal/config"
	"manas/internal/logging"
	"manas/internal/types"
)

// Transport is the resilient entry point for provider streaming calls.
type Transport struct {
	retry    config.RetryConfig
	breakers *Registry

	mu   sync.Mutex
	rng  *rand.Rand
	wait func(ctx context.Context, d time.Duration) error // injectable for tests
}

// New creates a transport with the given retry policy and a fresh
// breaker registry.
func New(retry config.RetryConfig, breaker config.BreakerConfig) *Transport {
	return &Transport{
		retry:    retry,
		breakers: NewRegistry(breaker),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		wait:     sleepCtx,
	}
}

// Breakers exposes the registry (snapshot/restore, tests).
func (t *Transport) Breakers() *Registry { return t.breakers }

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffDelay computes the wait before retry attempt `attempt` (0-based),
// honoring a provider retry-after hint when it is larger.
func (t *Transport) backoffDelay(attempt int, hint time.Duration) time.Duration {
	d := t.retry.Base() << uint(attempt)
	if d > t.retry.Cap() {
		d = t.retry.Cap()
	}
	if j := t.retry.Jitter(); j > 0 {
		t.mu.Lock()
		d += time.Duration(t.rng.Int63n(int64(j)))
		t.mu.Unlock()
	}
	if d > t.retry.Cap() {
		d = t.retry.Cap()
	}
	if hint > d {
		d = hint
	}
	return d
}

// Stream runs a provider streaming call with circuit gating and retry.
// Events are delivered to fn in order; fn returning an error aborts the
// stream without retry (the caller has consumed output).
//
// Retry rules: only retryable categories are retried, never more than
// MaxAttempts total, and never once any event has been yielded - partial
// output commits the attempt.
func (t *Transport) Stream(ctx context.Context, provider types.Provider, req types.StreamRequest, fn func(types.StreamEvent) error) error {
	log := logging.Get(logging.CategoryTransport)
	breaker := t.breakers.Get(provider.ID())

	if err := breaker.Allow(); err != nil {
		log.Warn("request rejected: %v", err)
		return err
	}

	var lastErr *ProviderError
	for attempt := 0; attempt < t.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := t.backoffDelay(attempt-1, lastErr.RetryAfter)
			log.Debug("retrying %s after %v (attempt %d/%d, category=%s)",
				provider.ID(), delay, attempt+1, t.retry.MaxAttempts, lastErr.Category)
			if err := t.wait(ctx, delay); err != nil {
				breaker.RecordFailure()
				return err
			}
		}

		yielded, err := t.streamOnce(ctx, provider, req, fn)
		if err == nil {
			breaker.RecordSuccess()
			return nil
		}
		var abort *callerAbort
		if errors.As(err, &abort) {
			// The consumer stopped the stream; not a provider failure.
			return abort.err
		}
		if ctx.Err() != nil {
			breaker.RecordFailure()
			return ctx.Err()
		}

		perr := Classify(provider.ID(), err)
		if yielded {
			// Partial output commits the attempt.
			log.Warn("stream failed mid-flight for %s, not retrying: %v", provider.ID(), perr)
			breaker.RecordFailure()
			return perr
		}
		if !perr.Retryable() {
			breaker.RecordFailure()
			return perr
		}
		lastErr = perr
	}

	breaker.RecordFailure()
	log.Warn("retries exhausted for %s: %v", provider.ID(), lastErr)
	return lastErr
}

// streamOnce performs one attempt. It reports whether any event was
// yielded to the caller before the error.
func (t *Transport) streamOnce(ctx context.Context, provider types.Provider, req types.StreamRequest, fn func(types.StreamEvent) error) (bool, error) {
	stream, err := provider.CreateStream(ctx, req)
	if err != nil {
		return false, err
	}

	yielded := false
	for {
		ev, err := stream.Next()
		if err == io.EOF {
			return yielded, nil
		}
		if err != nil {
			return yielded, err
		}
		if err := fn(ev); err != nil {
			return true, &callerAbort{err: err}
		}
		yielded = true
	}
}

// callerAbort marks an error raised by the event consumer rather than
// the provider.
type callerAbort struct{ err error }

func (a *callerAbort) Error() string { return a.err.Error() }
func (a *callerAbort) Unwrap() error { return a.err }
