package transport

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassifyCategories(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		category  ErrorCategory
		retryable bool
	}{
		{"status 401", &HTTPError{Status: 401, Msg: "nope"}, ErrAuth, false},
		{"status 403", &HTTPError{Status: 403, Msg: "forbidden"}, ErrAuth, false},
		{"auth phrase", errors.New("Invalid API key provided"), ErrAuth, false},
		{"authentication phrase", errors.New("authentication required"), ErrAuth, false},
		{"400 context", &HTTPError{Status: 400, Msg: "maximum context length exceeded"}, ErrContextLength, false},
		{"400 token", &HTTPError{Status: 400, Msg: "too many tokens in prompt"}, ErrContextLength, false},
		{"400 safety", &HTTPError{Status: 400, Msg: "blocked by safety system"}, ErrContentFilter, false},
		{"400 other", &HTTPError{Status: 400, Msg: "bad payload"}, ErrInvalidReq, false},
		{"status 429", &HTTPError{Status: 429, Msg: "slow down"}, ErrRateLimit, true},
		{"rate limit phrase", errors.New("rate limit exceeded"), ErrRateLimit, true},
		{"too many requests", errors.New("Too Many Requests"), ErrRateLimit, true},
		{"status 529", &HTTPError{Status: 529, Msg: "busy"}, ErrOverloaded, true},
		{"overloaded phrase", errors.New("provider overloaded, try later"), ErrOverloaded, true},
		{"status 500", &HTTPError{Status: 500, Msg: "boom"}, ErrServer, true},
		{"status 503", &HTTPError{Status: 503, Msg: "unavailable"}, ErrServer, true},
		{"server error phrase", errors.New("internal error while streaming"), ErrServer, true},
		{"econnreset", errors.New("read tcp: ECONNRESET"), ErrNetwork, true},
		{"socket hang up", errors.New("socket hang up"), ErrNetwork, true},
		{"timeout phrase", errors.New("request timed out"), ErrTimeout, true},
		{"etimedout", errors.New("dial: ETIMEDOUT"), ErrTimeout, true},
		{"unknown", errors.New("something odd"), ErrUnknown, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pe := Classify("prov", tc.err)
			if pe.Category != tc.category {
				t.Errorf("category = %s, want %s", pe.Category, tc.category)
			}
			if pe.Retryable() != tc.retryable {
				t.Errorf("retryable = %v, want %v", pe.Retryable(), tc.retryable)
			}
			if pe.Provider != "prov" {
				t.Errorf("provider = %q", pe.Provider)
			}
		})
	}
}

func TestClassifyOrderAuthBeatsRateLimit(t *testing.T) {
	// A 401 whose body mentions rate limits must still classify as auth:
	// rules apply in order and auth is checked first.
	pe := Classify("prov", &HTTPError{Status: 401, Msg: "rate limit for unauthorized keys"})
	if pe.Category != ErrAuth {
		t.Fatalf("category = %s, want %s", pe.Category, ErrAuth)
	}
}

func TestClassifyRetryAfterHint(t *testing.T) {
	pe := Classify("prov", errors.New("rate limit hit, retry after: 7"))
	if pe.Category != ErrRateLimit {
		t.Fatalf("category = %s", pe.Category)
	}
	if pe.RetryAfter != 7*time.Second {
		t.Errorf("retry after = %v, want 7s", pe.RetryAfter)
	}

	pe = Classify("prov", errors.New("rate limit hit"))
	if pe.RetryAfter != 0 {
		t.Errorf("retry after = %v, want 0", pe.RetryAfter)
	}
}

func TestClassifyPassesThroughProviderError(t *testing.T) {
	orig := &ProviderError{Category: ErrTimeout, Provider: "prov", Message: "slow"}
	wrapped := fmt.Errorf("attempt failed: %w", orig)
	if got := Classify("other", wrapped); got != orig {
		t.Fatalf("expected the original ProviderError back, got %+v", got)
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	raw := &HTTPError{Status: 500, Msg: "boom"}
	pe := Classify("prov", raw)
	var he *HTTPError
	if !errors.As(pe, &he) || he.Status != 500 {
		t.Fatal("classified error should unwrap to the raw HTTPError")
	}
}
