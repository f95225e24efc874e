// Package transport wraps streaming LLM provider calls with error
// classification, jittered retry, and a per-provider circuit breaker.
// Providers themselves live outside the core; callers only ever see the
// canonical error taxonomy defined here.
package transport

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrorCategory is the canonical classification of a provider failure.
type ErrorCategory string

const (
	ErrRateLimit     ErrorCategory = "rate_limit"
	ErrAuth          ErrorCategory = "auth"
	ErrInvalidReq    ErrorCategory = "invalid_request"
	ErrContextLength ErrorCategory = "context_length"
	ErrContentFilter ErrorCategory = "content_filter"
	ErrServer        ErrorCategory = "server_error"
	ErrNetwork       ErrorCategory = "network"
	ErrTimeout       ErrorCategory = "timeout"
	ErrOverloaded    ErrorCategory = "overloaded"
	ErrUnknown       ErrorCategory = "unknown"
)

// Retryable reports whether a category is worth retrying.
func (c ErrorCategory) Retryable() bool {
	switch c {
	case ErrRateLimit, ErrOverloaded, ErrServer, ErrNetwork, ErrTimeout:
		return true
	default:
		return false
	}
}

// ProviderError is a classified provider failure. It wraps the raw error
// and carries the canonical category plus an optional retry-after hint.
type ProviderError struct {
	Category   ErrorCategory
	Provider   string
	Status     int // HTTP status when known, else 0
	Message    string
	RetryAfter time.Duration // suggested wait for rate_limit, 0 if none
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s: %s (%d): %s", e.Provider, e.Category, e.Status, e.Message)
	}
	return fmt.Sprintf("provider %s: %s: %s", e.Provider, e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether this error's category is retryable.
func (e *ProviderError) Retryable() bool { return e.Category.Retryable() }

// HTTPError lets provider implementations attach an HTTP status to a raw
// error so classification can inspect it.
type HTTPError struct {
	Status int
	Msg    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Msg)
}

var retryAfterRe = regexp.MustCompile(`retry after:?\s*(\d+)`)

// Classify maps a raw transport error into exactly one category. Rules
// are applied in order, first match wins: HTTP status when present, then
// case-insensitive substring match on the message.
func Classify(provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	status := 0
	var he *HTTPError
	if errors.As(err, &he) {
		status = he.Status
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	cat := classify(status, lower)

	out := &ProviderError{
		Category: cat,
		Provider: provider,
		Status:   status,
		Message:  msg,
		Err:      err,
	}
	if cat == ErrRateLimit {
		if m := retryAfterRe.FindStringSubmatch(lower); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				out.RetryAfter = time.Duration(n) * time.Second
			}
		}
	}
	return out
}

func classify(status int, lower string) ErrorCategory {
	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}

	switch {
	case status == 401 || status == 403 || has("unauthorized", "invalid api key", "authentication"):
		return ErrAuth
	case status == 400 && has("context", "token"):
		return ErrContextLength
	case status == 400 && has("content", "filter", "safety"):
		return ErrContentFilter
	case status == 400:
		return ErrInvalidReq
	case status == 429 || has("rate limit", "too many requests"):
		return ErrRateLimit
	case status == 529 || has("overloaded", "capacity"):
		return ErrOverloaded
	case status >= 500 || has("server error", "internal error"):
		return ErrServer
	case has("econnreset", "econnrefused", "socket hang up", "fetch failed"):
		return ErrNetwork
	case has("timeout", "etimedout", "timed out"):
		return ErrTimeout
	default:
		return ErrUnknown
	}
}
