package orchestrator

import (
	"fmt"
	"strings"

	"manas/internal/logging"
	"manas/internal/types"
)

// Decomposer splits a task into sub-tasks for the hierarchical strategy.
// Returning a single sub-task with the parent's id means no
// decomposition.
type Decomposer interface {
	Decompose(t *types.Task) []*types.Task
}

// identityDecomposer is the default: every task is its own plan.
type identityDecomposer struct{}

func (identityDecomposer) Decompose(t *types.Task) []*types.Task { return []*types.Task{t} }

// dispatch routes one eligible task according to the plan strategy.
// Called under the scheduler lock.
func (o *Orchestrator) dispatch(t *types.Task) error {
	if t.PreferredSlot != "" && o.pool.HasSlot(t.PreferredSlot) {
		return o.assign(t, t.PreferredSlot)
	}

	switch o.plan.Strategy {
	case types.StrategyRoundRobin:
		return o.assign(t, o.roundRobinSlot())
	case types.StrategyLeastLoaded:
		return o.assign(t, o.leastLoadedSlot())
	case types.StrategySpecialized:
		return o.assign(t, o.specializedSlot(t))
	case types.StrategyRouted:
		return o.assign(t, o.routedSlot(t))
	case types.StrategyCompetitive:
		return o.spawnRace(t)
	case types.StrategySwarm:
		return o.spawnSwarm(t)
	case types.StrategyHierarchical:
		return o.decompose(t)
	default:
		return fmt.Errorf("unknown strategy %q", o.plan.Strategy)
	}
}

func (o *Orchestrator) roundRobinSlot() string {
	ids := o.pool.SlotIDs()
	slot := ids[o.rrIndex%len(ids)]
	o.rrIndex++
	return slot
}

// leastLoadedSlot picks the slot with minimum running+queued load,
// breaking ties toward fewer completed tasks, then plan order.
func (o *Orchestrator) leastLoadedSlot() string {
	ids := o.pool.SlotIDs()
	best := ids[0]
	bestLoad, bestDone := o.pool.Load(best)
	for _, id := range ids[1:] {
		load, done := o.pool.Load(id)
		if load < bestLoad || (load == bestLoad && done < bestDone) {
			best, bestLoad, bestDone = id, load, done
		}
	}
	return best
}

// specializedSlot matches task.Type against slot capability tags: an
// exact tag wins outright, otherwise the best tag-set Jaccard score.
// With no capability overlap at all it degrades to least-loaded.
func (o *Orchestrator) specializedSlot(t *types.Task) string {
	taskTags := tokenize(t.Type)

	bestSlot := ""
	bestScore := 0.0
	for _, id := range o.pool.SlotIDs() {
		slot, _ := o.pool.Slot(id)
		for _, cap := range slot.Capabilities {
			if strings.EqualFold(cap, t.Type) {
				return id
			}
		}
		score := jaccard(taskTags, tokenizeAll(slot.Capabilities))
		if score > bestScore {
			bestSlot, bestScore = id, score
		}
	}
	if bestSlot == "" {
		return o.leastLoadedSlot()
	}
	return bestSlot
}

// routedSlot applies routing rules in order; the first matching
// predicate wins. With no match the task falls back to least-loaded.
func (o *Orchestrator) routedSlot(t *types.Task) string {
	for _, rule := range o.plan.Routing {
		if rule.Predicate != nil && rule.Predicate(t) && o.pool.HasSlot(rule.SlotID) {
			logging.Get(logging.CategoryOrchestrator).Debug("task %s routed by rule %q to %s", t.ID, rule.Name, rule.SlotID)
			return rule.SlotID
		}
	}
	return o.leastLoadedSlot()
}

func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	}) {
		out[tok] = true
	}
	return out
}

func tokenizeAll(tags []string) map[string]bool {
	out := make(map[string]bool)
	for _, tag := range tags {
		for tok := range tokenize(tag) {
			out[tok] = true
		}
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// spawnRace creates one synthetic sibling per slot; the first to finish
// wins the parent (the rest get cancelled).
func (o *Orchestrator) spawnRace(parent *types.Task) error {
	parent.Status = types.TaskRunning
	var siblings []string
	for _, slotID := range o.pool.SlotIDs() {
		sib := o.sibling(parent, slotID, "race", types.MetaRaceParent)
		siblings = append(siblings, sib.ID)
		if err := o.assign(sib, slotID); err != nil {
			return err
		}
	}
	o.races[parent.ID] = siblings
	return nil
}

// spawnSwarm creates one synthetic sibling per slot plus a shared
// context map; the parent resolves when every sibling is terminal.
func (o *Orchestrator) spawnSwarm(parent *types.Task) error {
	parent.Status = types.TaskRunning
	state := &swarmState{
		results: make(map[string]*types.TaskResult),
		shared:  make(map[string]any),
	}
	for k, v := range o.plan.Coordination.SharedContext {
		state.shared[k] = v
	}
	o.swarms[parent.ID] = state
	for _, slotID := range o.pool.SlotIDs() {
		sib := o.sibling(parent, slotID, "swarm", types.MetaSwarmParent)
		state.siblings = append(state.siblings, sib.ID)
		if err := o.assign(sib, slotID); err != nil {
			return err
		}
	}
	return nil
}

// sibling builds and registers a synthetic sub-task for one slot.
func (o *Orchestrator) sibling(parent *types.Task, slotID, kind, metaKey string) *types.Task {
	sib := &types.Task{
		ID:          fmt.Sprintf("%s:%s-%s", parent.ID, kind, slotID),
		Type:        parent.Type,
		Input:       parent.Input,
		Priority:    parent.Priority,
		Deadline:    parent.Deadline,
		MaxRetries:  parent.MaxRetries,
		Metadata:    map[string]string{metaKey: parent.ID},
		Status:      types.TaskPending,
		SubmittedAt: parent.SubmittedAt,
	}
	o.tasks[sib.ID] = sib
	return sib
}

// decompose runs the hierarchical strategy. A trivial decomposition
// dispatches the task directly; otherwise the sub-tasks are registered
// and enqueued and the parent is requeued gated on all of them.
func (o *Orchestrator) decompose(parent *types.Task) error {
	if o.split[parent.ID] {
		return o.assign(parent, o.leastLoadedSlot())
	}

	subs := o.decomposer.Decompose(parent)
	if len(subs) == 1 && subs[0].ID == parent.ID {
		return o.assign(parent, o.leastLoadedSlot())
	}

	o.split[parent.ID] = true
	for _, sub := range subs {
		if sub.ID == "" || sub.ID == parent.ID {
			sub.ID = fmt.Sprintf("%s:sub-%d", parent.ID, len(parent.DependsOn)+1)
		}
		if err := o.submitLocked(sub); err != nil {
			return err
		}
		parent.DependsOn = append(parent.DependsOn, sub.ID)
	}

	// The parent re-enters the queue behind its children.
	parent.Status = types.TaskPending
	o.seq++
	o.queue.push(parent, o.seq)
	logging.Get(logging.CategoryOrchestrator).Info("decomposed task %s into %d sub-tasks", parent.ID, len(subs))
	return nil
}
