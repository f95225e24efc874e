package orchestrator

import (
	"time"

	"manas/internal/types"
)

// Stats is a point-in-time snapshot of the plan's progress.
type Stats struct {
	TotalTasks     int     `json:"total_tasks"`
	Pending        int     `json:"pending"`
	Running        int     `json:"running"`
	Completed      int     `json:"completed"`
	Failed         int     `json:"failed"`
	ActiveAgents   int     `json:"active_agents"`
	TotalCost      float64 `json:"total_cost"`
	TotalTokens    int     `json:"total_tokens"`
	AverageLatency float64 `json:"average_latency_ms"`
	Throughput     float64 `json:"throughput_per_sec"`
}

// GetStats snapshots counters across all registered tasks.
func (o *Orchestrator) GetStats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Stats{
		TotalTasks:   len(o.tasks),
		ActiveAgents: o.pool.BusyCount(),
		TotalCost:    o.totalCost,
		TotalTokens:  o.totalTokens,
	}
	for _, t := range o.tasks {
		switch t.Status {
		case types.TaskPending, types.TaskQueued, types.TaskAssigned, types.TaskRetrying:
			s.Pending++
		case types.TaskRunning:
			s.Running++
		case types.TaskCompleted:
			s.Completed++
		case types.TaskFailed:
			s.Failed++
		}
	}
	if o.latencyN > 0 {
		s.AverageLatency = float64(o.totalLatencyMs) / float64(o.latencyN)
	}
	if !o.startedAt.IsZero() {
		if elapsed := time.Since(o.startedAt).Seconds(); elapsed > 0 {
			s.Throughput = float64(s.Completed) / elapsed
		}
	}
	return s
}

// GetActiveAgents copies every live agent instance across slots.
func (o *Orchestrator) GetActiveAgents() []types.AgentInstance {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pool.Snapshot()
}

// GetResults returns results for all terminal top-level tasks, keyed by
// task id.
func (o *Orchestrator) GetResults() map[string]*types.TaskResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resultsLocked()
}

func (o *Orchestrator) resultsLocked() map[string]*types.TaskResult {
	out := make(map[string]*types.TaskResult)
	for _, id := range o.order {
		t := o.tasks[id]
		if t == nil || !t.TopLevel() || !t.Status.Terminal() {
			continue
		}
		res := t.Result
		if res == nil {
			res = &types.TaskResult{Success: t.Status == types.TaskCompleted, Error: t.LastError}
		}
		out[id] = res
	}
	return out
}
