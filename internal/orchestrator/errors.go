package orchestrator

import "fmt"

// TaskFailedError wraps a task's terminal failure cause.
type TaskFailedError struct {
	TaskID string
	Cause  error
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Cause)
}

func (e *TaskFailedError) Unwrap() error { return e.Cause }

// DependencyUnsatisfiableError marks a task whose dependency can never
// complete (unknown id, or a dependency that failed or was cancelled).
type DependencyUnsatisfiableError struct {
	TaskID       string
	DependencyID string
	Reason       string
}

func (e *DependencyUnsatisfiableError) Error() string {
	return fmt.Sprintf("task %s: dependency %s unsatisfiable: %s", e.TaskID, e.DependencyID, e.Reason)
}

// UnknownAgentSlotError is returned when a caller names a slot the plan
// does not define.
type UnknownAgentSlotError struct {
	SlotID string
}

func (e *UnknownAgentSlotError) Error() string {
	return fmt.Sprintf("unknown agent slot %q", e.SlotID)
}

// InvalidStateError rejects an operation in the orchestrator's current
// lifecycle state.
type InvalidStateError struct {
	Op     string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("orchestrator: cannot %s: %s", e.Op, e.Reason)
}
