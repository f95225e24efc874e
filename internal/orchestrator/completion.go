package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"manas/internal/logging"
	"manas/internal/transport"
	"manas/internal/types"
)

// HandleCompletion records a successful terminal outcome for a task.
// Safe to call from executor goroutines; no-op for unknown or already
// terminal tasks.
func (o *Orchestrator) HandleCompletion(taskID string, result *types.TaskResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[taskID]
	if !ok || t.Status.Terminal() {
		return
	}
	delete(o.cancels, taskID)

	if result == nil {
		result = &types.TaskResult{Success: true}
	}
	t.Result = result
	t.Status = types.TaskCompleted
	t.Attempts = append(t.Attempts, types.TaskAttempt{
		Number:    len(t.Attempts) + 1,
		Outcome:   "success",
		Timestamp: time.Now(),
	})
	o.completedCount++
	o.recordMetrics(result.Metrics)

	o.bus.Emit(types.Event{Kind: types.EventTaskCompleted, TaskID: taskID})
	if next, inst := o.pool.Free(taskID, true); next != nil {
		o.startWorker(next, inst)
	}

	if rp := t.RaceParent(); rp != "" {
		o.resolveRaceWin(rp, t)
	}
	if sp := t.SwarmParent(); sp != "" {
		o.recordSwarmResult(sp, t)
	}
	o.checkTermination()
}

// HandleFailure records a failed attempt. While retries remain the task
// re-enters the queue after an exponential delay; otherwise it fails
// terminally and the fallback policy runs.
func (o *Orchestrator) HandleFailure(taskID string, cause error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[taskID]
	if !ok || t.Status.Terminal() {
		return
	}
	delete(o.cancels, taskID)

	if t.Retries < t.MaxRetries {
		r := t.Retries
		t.Retries++
		t.Status = types.TaskRetrying
		t.LastError = cause.Error()
		t.Attempts = append(t.Attempts, types.TaskAttempt{
			Number:    len(t.Attempts) + 1,
			Outcome:   "failure",
			Error:     cause.Error(),
			Timestamp: time.Now(),
		})
		if next, inst := o.pool.Free(taskID, false); next != nil {
			o.startWorker(next, inst)
		}

		delay := o.retryDelay(r)
		o.bus.Emit(types.Event{Kind: types.EventTaskRetry, TaskID: taskID,
			Message: fmt.Sprintf("retry %d/%d in %v: %v", t.Retries, t.MaxRetries, delay, cause)})
		o.timers[taskID] = time.AfterFunc(delay, func() { o.requeue(taskID) })
		return
	}

	o.failTaskLocked(t, cause, categoryOf(cause))
}

// retryDelay implements min(base*2^r, 30s) with the configured base.
func (o *Orchestrator) retryDelay(r int) time.Duration {
	d := o.backoffBase << uint(r)
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	return d
}

// requeue puts a retrying task back on the main queue.
func (o *Orchestrator) requeue(taskID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.timers, taskID)
	t, ok := o.tasks[taskID]
	if !ok || t.Status != types.TaskRetrying {
		return
	}
	t.Status = types.TaskPending
	o.seq++
	o.queue.push(t, o.seq)
}

// failTaskLocked finalizes a terminal failure: records it, frees the
// agent, emits the event, and runs the fallback chain for top-level
// tasks.
func (o *Orchestrator) failTaskLocked(t *types.Task, cause error, category string) {
	if t.Status.Terminal() {
		return
	}
	if timer, ok := o.timers[t.ID]; ok {
		timer.Stop()
		delete(o.timers, t.ID)
	}
	t.Status = types.TaskFailed
	t.LastError = cause.Error()
	t.Attempts = append(t.Attempts, types.TaskAttempt{
		Number:    len(t.Attempts) + 1,
		Outcome:   "failure",
		Error:     cause.Error(),
		Timestamp: time.Now(),
	})
	o.failedCount++
	logging.Get(logging.CategoryOrchestrator).Warn("task %s failed: %v", t.ID, cause)

	o.bus.Emit(types.Event{Kind: types.EventTaskFailed, TaskID: t.ID,
		Category: category, Message: cause.Error()})
	if next, inst := o.pool.Free(t.ID, false); next != nil {
		o.startWorker(next, inst)
	}

	if t.TopLevel() {
		o.runFallback(t, cause)
	}
	if rp := t.RaceParent(); rp != "" {
		o.checkRaceExhausted(rp)
	}
	if sp := t.SwarmParent(); sp != "" {
		o.recordSwarmResult(sp, t)
	}
	o.checkTermination()
}

// runFallback applies the plan's recovery policy to a terminally failed
// top-level task: a handler-provided replacement first, otherwise an
// escalation event when configured.
func (o *Orchestrator) runFallback(t *types.Task, cause error) {
	wrapped := &TaskFailedError{TaskID: t.ID, Cause: cause}
	if h := o.plan.Fallback.Handler; h != nil {
		if replacement := h(t, wrapped); replacement != nil {
			if err := o.submitLocked(replacement); err != nil {
				logging.Get(logging.CategoryOrchestrator).Error("fallback replacement for %s rejected: %v", t.ID, err)
				return
			}
			logging.Get(logging.CategoryOrchestrator).Info("fallback replaced task %s with %s", t.ID, replacement.ID)
			return
		}
	}
	if o.plan.Fallback.EscalateToHuman {
		o.bus.Emit(types.Event{Kind: types.EventEscalation, TaskID: t.ID, Message: wrapped.Error()})
	}
}

// resolveRaceWin finishes a competitive parent with the first sibling
// result and cancels the rest of the field.
func (o *Orchestrator) resolveRaceWin(parentID string, winner *types.Task) {
	parent, ok := o.tasks[parentID]
	if !ok || parent.Status.Terminal() {
		return
	}
	for _, sibID := range o.races[parentID] {
		if sibID == winner.ID {
			continue
		}
		o.cancelLocked(sibID)
	}
	delete(o.races, parentID)

	parent.Result = winner.Result
	parent.Status = types.TaskCompleted
	o.completedCount++
	o.bus.Emit(types.Event{Kind: types.EventTaskCompleted, TaskID: parentID,
		Message: fmt.Sprintf("won by %s", winner.ID)})
}

// checkRaceExhausted fails a competitive parent once every sibling has
// failed.
func (o *Orchestrator) checkRaceExhausted(parentID string) {
	parent, ok := o.tasks[parentID]
	if !ok || parent.Status.Terminal() {
		return
	}
	var lastErr string
	for _, sibID := range o.races[parentID] {
		sib := o.tasks[sibID]
		if sib == nil || sib.Status != types.TaskFailed {
			return
		}
		lastErr = sib.LastError
	}
	delete(o.races, parentID)
	o.failTaskLocked(parent, fmt.Errorf("all competitive attempts failed: %s", lastErr), "")
}

// recordSwarmResult folds a terminal sibling into the parent's swarm
// context and merges once every sibling is terminal.
func (o *Orchestrator) recordSwarmResult(parentID string, sib *types.Task) {
	state, ok := o.swarms[parentID]
	if !ok {
		return
	}
	state.results[sib.ID] = sib.Result

	for _, sibID := range state.siblings {
		s := o.tasks[sibID]
		if s == nil || !s.Status.Terminal() {
			return
		}
	}
	delete(o.swarms, parentID)
	o.mergeSwarm(parentID, state)
}

// mergeSwarm concatenates sibling outputs in spawn order and resolves
// the parent per the coordination merge policy.
func (o *Orchestrator) mergeSwarm(parentID string, state *swarmState) {
	parent, ok := o.tasks[parentID]
	if !ok || parent.Status.Terminal() {
		return
	}

	var output []byte
	successes := 0
	for _, sibID := range state.siblings {
		res := state.results[sibID]
		if res == nil {
			continue
		}
		if res.Success {
			successes++
		}
		output = append(output, res.Output...)
	}

	var success bool
	switch o.plan.Coordination.SwarmMerge {
	case types.SwarmMergeAllSuccess:
		success = successes == len(state.siblings)
	default:
		success = successes > 0
	}

	if !success {
		o.failTaskLocked(parent, fmt.Errorf("swarm merge failed: %d/%d siblings succeeded", successes, len(state.siblings)), "")
		return
	}
	parent.Result = &types.TaskResult{Success: true, Output: output}
	parent.Status = types.TaskCompleted
	o.completedCount++
	o.bus.Emit(types.Event{Kind: types.EventTaskCompleted, TaskID: parentID,
		Message: fmt.Sprintf("swarm merged %d/%d", successes, len(state.siblings))})
}

// checkTermination evaluates plan-level completion and failure policies
// over the top-level tasks.
func (o *Orchestrator) checkTermination() {
	if o.planDone || len(o.tasks) == 0 {
		return
	}

	topLevel, terminal, failed := 0, 0, 0
	for _, t := range o.tasks {
		if !t.TopLevel() {
			continue
		}
		topLevel++
		if t.Status.Terminal() {
			terminal++
		}
		if t.Status == types.TaskFailed {
			failed++
		}
	}
	if topLevel == 0 {
		return
	}

	coord := o.plan.Coordination
	if coord.MaxFailures > 0 && failed >= coord.MaxFailures {
		o.planDone = true
		o.bus.Emit(types.Event{Kind: types.EventPlanFailed,
			Message: fmt.Sprintf("%d failures reached the plan limit", failed)})
		o.stopLocked()
		return
	}
	if !coord.TolerateFailures && failed > 0 {
		o.planDone = true
		o.bus.Emit(types.Event{Kind: types.EventPlanFailed,
			Message: fmt.Sprintf("%d task(s) failed", failed)})
		o.stopLocked()
		return
	}
	if terminal == topLevel {
		// The loop keeps running after plan:complete; callers decide
		// when to Stop, and may submit follow-up work.
		o.planDone = true
		o.bus.Emit(types.Event{Kind: types.EventPlanComplete, Data: o.resultsLocked()})
	}
}

func (o *Orchestrator) recordMetrics(m *types.TaskMetrics) {
	if m == nil {
		return
	}
	o.totalCost += m.CostUSD
	o.totalTokens += m.Tokens
	if m.EndEpochMs > m.StartEpochMs && m.StartEpochMs > 0 {
		o.totalLatencyMs += m.EndEpochMs - m.StartEpochMs
		o.latencyN++
	}
}

func categoryOf(err error) string {
	var perr *transport.ProviderError
	if errors.As(err, &perr) {
		return string(perr.Category)
	}
	return ""
}
