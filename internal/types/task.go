// Package types holds the shared domain types for the manas runtime:
// tasks, agent slots, orchestration plans, lifecycle events, and the
// provider streaming surface. It is intentionally dependency-free so
// every other package can import it.
package types

import (
	"time"
)

// TaskPriority orders tasks in the main dispatch queue. Lower rank wins.
type TaskPriority int

const (
	PriorityCritical   TaskPriority = 0
	PriorityHigh       TaskPriority = 1
	PriorityNormal     TaskPriority = 2
	PriorityLow        TaskPriority = 3
	PriorityBackground TaskPriority = 4
)

func (p TaskPriority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityBackground:
		return "background"
	default:
		return "normal"
	}
}

// ParsePriority maps a priority name to its rank. Unknown names map to
// normal rather than erroring; callers submit tasks from loosely typed
// payloads.
func ParsePriority(s string) TaskPriority {
	switch s {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	case "background":
		return PriorityBackground
	default:
		return PriorityNormal
	}
}

// TaskStatus is the task state machine. Transitions are monotonic except
// retrying -> queued.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskQueued    TaskStatus = "queued"
	TaskAssigned  TaskStatus = "assigned"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
	TaskRetrying  TaskStatus = "retrying"
)

// Terminal reports whether the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Metadata keys set by the scheduler on synthetic sub-tasks.
const (
	MetaRaceParent  = "raceParent"
	MetaSwarmParent = "swarmParent"
)

// Task is a unit of work submitted to the orchestrator.
type Task struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Input         []byte            `json:"input,omitempty"`
	Priority      TaskPriority      `json:"priority"`
	Deadline      int64             `json:"deadline,omitempty"` // epoch-ms, 0 = none
	DependsOn     []string          `json:"depends_on,omitempty"`
	MaxRetries    int               `json:"max_retries,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	PreferredSlot string            `json:"preferred_slot,omitempty"`

	Status      TaskStatus    `json:"status"`
	Retries     int           `json:"retries"`
	Result      *TaskResult   `json:"result,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
	Attempts    []TaskAttempt `json:"attempts,omitempty"`
	SubmittedAt time.Time     `json:"submitted_at"`
}

// RaceParent returns the parent task id when this task is a competitive
// sibling, or "".
func (t *Task) RaceParent() string {
	return t.Metadata[MetaRaceParent]
}

// SwarmParent returns the parent task id when this task is a swarm
// sibling, or "".
func (t *Task) SwarmParent() string {
	return t.Metadata[MetaSwarmParent]
}

// TopLevel reports whether the task is not a synthetic race/swarm sibling.
func (t *Task) TopLevel() bool {
	return t.RaceParent() == "" && t.SwarmParent() == ""
}

// TaskAttempt records one execution attempt for audit.
type TaskAttempt struct {
	Number    int       `json:"number"`
	Outcome   string    `json:"outcome"` // success, failure
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskMetrics carries per-execution accounting.
type TaskMetrics struct {
	CostUSD      float64 `json:"cost_usd"`
	Tokens       int     `json:"tokens"`
	StartEpochMs int64   `json:"start_epoch_ms"`
	EndEpochMs   int64   `json:"end_epoch_ms"`
}

// TaskResult is the terminal outcome of a task.
type TaskResult struct {
	Success bool         `json:"success"`
	Output  []byte       `json:"output,omitempty"`
	Error   string       `json:"error,omitempty"`
	Metrics *TaskMetrics `json:"metrics,omitempty"`
}
