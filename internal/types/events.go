package types

import "time"

// EventKind tags an orchestrator lifecycle event.
type EventKind string

const (
	EventPlanStart       EventKind = "plan:start"
	EventPlanComplete    EventKind = "plan:complete"
	EventPlanFailed      EventKind = "plan:failed"
	EventTaskQueued      EventKind = "task:queued"
	EventTaskAssigned    EventKind = "task:assigned"
	EventTaskRetry       EventKind = "task:retry"
	EventTaskCompleted   EventKind = "task:completed"
	EventTaskFailed      EventKind = "task:failed"
	EventAgentSpawned    EventKind = "agent:spawned"
	EventAgentIdle       EventKind = "agent:idle"
	EventAgentOverloaded EventKind = "agent:overloaded"
	EventEscalation      EventKind = "escalation"
)

// Event is delivered synchronously to the single registered handler.
// Only the fields relevant to the kind are populated.
type Event struct {
	Kind       EventKind `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
	PlanID     string    `json:"plan_id,omitempty"`
	TaskID     string    `json:"task_id,omitempty"`
	SlotID     string    `json:"slot_id,omitempty"`
	InstanceID string    `json:"instance_id,omitempty"`
	// Category carries the canonical provider error category on
	// task:failed events.
	Category string `json:"category,omitempty"`
	Message  string `json:"message,omitempty"`
	Data     any    `json:"data,omitempty"`
}

// EventHandler consumes lifecycle events. Panics inside the handler are
// recovered by the bus and never interrupt scheduler progress.
type EventHandler func(Event)
