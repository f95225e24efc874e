package types

import "time"

// AgentStatus is the lifecycle state of a concrete agent instance.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentBusy       AgentStatus = "busy"
	AgentOverloaded AgentStatus = "overloaded"
)

// AgentSlot is a typed pool from which agent instances are drawn.
// MaxInstances == 0 means unbounded.
type AgentSlot struct {
	ID           string   `json:"id"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities,omitempty"`
	MinInstances int      `json:"min_instances"`
	MaxInstances int      `json:"max_instances"`
	AutoScale    bool     `json:"auto_scale"`
}

// Unbounded reports whether the slot has no upper instance bound.
func (s *AgentSlot) Unbounded() bool { return s.MaxInstances <= 0 }

// AgentInstance is one live worker inside a slot. IDs are slot-qualified
// with a monotonic suffix (e.g. "coder-3").
type AgentInstance struct {
	ID             string      `json:"id"`
	SlotID         string      `json:"slot_id"`
	Status         AgentStatus `json:"status"`
	CurrentTask    string      `json:"current_task,omitempty"`
	TasksCompleted int         `json:"tasks_completed"`
	SpawnedAt      time.Time   `json:"spawned_at"`
}
