package types

import "context"

// Message is one turn of provider context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamEvent is one element of a provider's streaming response.
type StreamEvent struct {
	Type  string `json:"type"` // delta, tool_use, usage, done
	Text  string `json:"text,omitempty"`
	Raw   []byte `json:"raw,omitempty"`
	Usage *Usage `json:"usage,omitempty"`
}

// Usage carries provider token accounting when the stream reports it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// StreamRequest is the provider-agnostic call shape.
type StreamRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Options  map[string]any `json:"options,omitempty"`
}

// Stream is a finite, non-restartable lazy sequence of StreamEvents.
// Next returns io.EOF after the final event.
type Stream interface {
	Next() (StreamEvent, error)
}

// Provider is an LLM backend. Implementations live outside the core; the
// runtime only ever calls them through the resilient transport.
type Provider interface {
	ID() string
	Models() []string
	CreateStream(ctx context.Context, req StreamRequest) (Stream, error)
}

// Executor runs a task on a bound agent instance. It is purely functional
// from the scheduler's view: the result arrives via HandleCompletion or
// HandleFailure.
type Executor func(ctx context.Context, inst *AgentInstance, task *Task) (*TaskResult, error)
