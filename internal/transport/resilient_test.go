package transport

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"manas/internal/config"
	"manas/internal/types"
)

// scriptedStream yields its events then errEnd (io.EOF for clean end).
type scriptedStream struct {
	events []types.StreamEvent
	errEnd error
	i      int
}

func (s *scriptedStream) Next() (types.StreamEvent, error) {
	if s.i < len(s.events) {
		ev := s.events[s.i]
		s.i++
		return ev, nil
	}
	if s.errEnd != nil {
		return types.StreamEvent{}, s.errEnd
	}
	return types.StreamEvent{}, io.EOF
}

// scriptedProvider plays one attempt script per CreateStream call.
type scriptedProvider struct {
	id        string
	createErr []error           // per-call creation error (nil = stream)
	streams   []*scriptedStream // used when createErr[i] == nil
	calls     int
}

func (p *scriptedProvider) ID() string       { return p.id }
func (p *scriptedProvider) Models() []string { return []string{"test-model"} }

func (p *scriptedProvider) CreateStream(ctx context.Context, req types.StreamRequest) (types.Stream, error) {
	i := p.calls
	p.calls++
	if i < len(p.createErr) && p.createErr[i] != nil {
		return nil, p.createErr[i]
	}
	if i < len(p.streams) && p.streams[i] != nil {
		return p.streams[i], nil
	}
	return &scriptedStream{}, nil
}

// newTestTransport returns a transport whose waits are captured instead
// of slept.
func newTestTransport() (*Transport, *[]time.Duration) {
	tr := New(config.DefaultRetryConfig(), config.DefaultBreakerConfig())
	var waits []time.Duration
	tr.wait = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return tr, &waits
}

func collect(events *[]types.StreamEvent) func(types.StreamEvent) error {
	return func(ev types.StreamEvent) error {
		*events = append(*events, ev)
		return nil
	}
}

func TestStreamSuccess(t *testing.T) {
	tr, waits := newTestTransport()
	p := &scriptedProvider{id: "zai", streams: []*scriptedStream{
		{events: []types.StreamEvent{{Type: "delta", Text: "a"}, {Type: "delta", Text: "b"}}},
	}}

	var events []types.StreamEvent
	if err := tr.Stream(context.Background(), p, types.StreamRequest{}, collect(&events)); err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[1].Text != "b" {
		t.Fatalf("events = %+v", events)
	}
	if p.calls != 1 {
		t.Errorf("calls = %d, want 1", p.calls)
	}
	if len(*waits) != 0 {
		t.Errorf("unexpected waits: %v", *waits)
	}
	if tr.Breakers().Get("zai").State() != StateClosed {
		t.Error("breaker should stay closed after success")
	}
}

func TestStreamRetriesRetryableThenSucceeds(t *testing.T) {
	tr, waits := newTestTransport()
	p := &scriptedProvider{id: "zai",
		createErr: []error{&HTTPError{Status: 500, Msg: "boom"}, nil},
		streams:   []*scriptedStream{nil, {events: []types.StreamEvent{{Type: "delta", Text: "ok"}}}},
	}

	var events []types.StreamEvent
	if err := tr.Stream(context.Background(), p, types.StreamRequest{}, collect(&events)); err != nil {
		t.Fatal(err)
	}
	if p.calls != 2 {
		t.Fatalf("calls = %d, want 2", p.calls)
	}
	if len(*waits) != 1 {
		t.Fatalf("waits = %v, want one backoff", *waits)
	}
	// First backoff: base 500ms plus jitter in [0, 250ms).
	if d := (*waits)[0]; d < 500*time.Millisecond || d >= 750*time.Millisecond {
		t.Errorf("first backoff = %v, want [500ms, 750ms)", d)
	}
}

func TestStreamBackoffGrowthAndExhaustion(t *testing.T) {
	tr, waits := newTestTransport()
	p := &scriptedProvider{id: "zai", createErr: []error{
		&HTTPError{Status: 503, Msg: "unavailable"},
		&HTTPError{Status: 503, Msg: "unavailable"},
		&HTTPError{Status: 503, Msg: "unavailable"},
	}}

	err := tr.Stream(context.Background(), p, types.StreamRequest{}, collect(new([]types.StreamEvent)))
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Category != ErrServer {
		t.Fatalf("err = %v, want server_error", err)
	}
	if p.calls != 3 {
		t.Fatalf("calls = %d, want MaxAttempts=3", p.calls)
	}
	if len(*waits) != 2 {
		t.Fatalf("waits = %v, want two backoffs", *waits)
	}
	if d := (*waits)[1]; d < 1000*time.Millisecond || d >= 1250*time.Millisecond {
		t.Errorf("second backoff = %v, want [1s, 1.25s)", d)
	}
}

func TestStreamHonorsRetryAfterHint(t *testing.T) {
	tr, waits := newTestTransport()
	p := &scriptedProvider{id: "zai", createErr: []error{
		errors.New("rate limit, retry after: 5"),
		nil,
	}, streams: []*scriptedStream{nil, {}}}

	if err := tr.Stream(context.Background(), p, types.StreamRequest{}, collect(new([]types.StreamEvent))); err != nil {
		t.Fatal(err)
	}
	if len(*waits) != 1 || (*waits)[0] < 5*time.Second {
		t.Fatalf("waits = %v, want the 5s hint to win over computed backoff", *waits)
	}
}

func TestStreamNonRetryableFailsImmediately(t *testing.T) {
	tr, waits := newTestTransport()
	p := &scriptedProvider{id: "zai", createErr: []error{&HTTPError{Status: 401, Msg: "bad key"}}}

	err := tr.Stream(context.Background(), p, types.StreamRequest{}, collect(new([]types.StreamEvent)))
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Category != ErrAuth {
		t.Fatalf("err = %v, want auth", err)
	}
	if p.calls != 1 {
		t.Errorf("calls = %d, want 1", p.calls)
	}
	if len(*waits) != 0 {
		t.Errorf("waits = %v, want none", *waits)
	}
}

func TestStreamPartialOutputCommitsAttempt(t *testing.T) {
	tr, waits := newTestTransport()
	p := &scriptedProvider{id: "zai", streams: []*scriptedStream{
		{events: []types.StreamEvent{{Type: "delta", Text: "partial"}}, errEnd: &HTTPError{Status: 500, Msg: "dropped"}},
	}}

	var events []types.StreamEvent
	err := tr.Stream(context.Background(), p, types.StreamRequest{}, collect(&events))
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Category != ErrServer {
		t.Fatalf("err = %v, want server_error", err)
	}
	if p.calls != 1 {
		t.Errorf("calls = %d: partial output must not retry", p.calls)
	}
	if len(events) != 1 {
		t.Errorf("events = %+v, want the yielded prefix", events)
	}
	if len(*waits) != 0 {
		t.Errorf("waits = %v, want none", *waits)
	}
}

func TestStreamConsumerAbortIsNotProviderFailure(t *testing.T) {
	tr, _ := newTestTransport()
	p := &scriptedProvider{id: "zai", streams: []*scriptedStream{
		{events: []types.StreamEvent{{Type: "delta", Text: "a"}, {Type: "delta", Text: "b"}}},
	}}

	sentinel := errors.New("caller has enough")
	err := tr.Stream(context.Background(), p, types.StreamRequest{}, func(types.StreamEvent) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want the caller's sentinel", err)
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		t.Error("consumer abort must not be classified as a provider error")
	}
	// The breaker took no penalty: threshold-1 further failures keep it
	// closed.
	b := tr.Breakers().Get("zai")
	for i := 0; i < config.DefaultBreakerConfig().FailureThreshold-1; i++ {
		b.RecordFailure()
	}
	if b.State() != StateClosed {
		t.Error("breaker recorded a failure for a consumer abort")
	}
}

func TestStreamRejectedWhileCircuitOpen(t *testing.T) {
	tr, _ := newTestTransport()
	b := tr.Breakers().Get("zai")
	for i := 0; i < config.DefaultBreakerConfig().FailureThreshold; i++ {
		b.RecordFailure()
	}

	p := &scriptedProvider{id: "zai"}
	err := tr.Stream(context.Background(), p, types.StreamRequest{}, collect(new([]types.StreamEvent)))
	var open *CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("err = %v, want CircuitOpenError", err)
	}
	if open.Remaining <= 0 {
		t.Error("CircuitOpenError must carry remaining cooldown")
	}
	if p.calls != 0 {
		t.Errorf("provider called %d times while open", p.calls)
	}
}
