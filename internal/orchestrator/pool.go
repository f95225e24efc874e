package orchestrator

import (
	"fmt"
	"time"

	"manas/internal/logging"
	"manas/internal/types"
)

// slotPool is the per-slot instance set plus the FIFO of tasks waiting
// for an idle instance.
type slotPool struct {
	slot       types.AgentSlot
	instances  map[string]*types.AgentInstance
	order      []string // instance ids in spawn order
	fifo       []*types.Task
	nextSuffix int
	completed  int // tasks completed through this slot
}

// Pool manages agent instances across the plan's slots. The task<->agent
// binding is kept as two lookup indices rather than mutual pointers.
//
// The pool has no lock of its own: it is owned by the scheduler and every
// method is called under the scheduler's mutex.
type Pool struct {
	bus        *Bus
	slots      map[string]*slotPool
	slotOrder  []string
	taskToInst map[string]string
	instToTask map[string]string
}

// NewPool creates pools for the plan's slots.
func NewPool(slots []types.AgentSlot, bus *Bus) (*Pool, error) {
	p := &Pool{
		bus:        bus,
		slots:      make(map[string]*slotPool, len(slots)),
		taskToInst: make(map[string]string),
		instToTask: make(map[string]string),
	}
	for _, s := range slots {
		if s.ID == "" {
			return nil, fmt.Errorf("agent slot with empty id")
		}
		if _, dup := p.slots[s.ID]; dup {
			return nil, fmt.Errorf("duplicate agent slot %q", s.ID)
		}
		p.slots[s.ID] = &slotPool{slot: s, instances: make(map[string]*types.AgentInstance)}
		p.slotOrder = append(p.slotOrder, s.ID)
	}
	return p, nil
}

// HasSlot reports whether the slot exists.
func (p *Pool) HasSlot(slotID string) bool {
	_, ok := p.slots[slotID]
	return ok
}

// SlotIDs returns slot ids in plan order.
func (p *Pool) SlotIDs() []string { return p.slotOrder }

// Slot returns the slot definition.
func (p *Pool) Slot(slotID string) (types.AgentSlot, bool) {
	sp, ok := p.slots[slotID]
	if !ok {
		return types.AgentSlot{}, false
	}
	return sp.slot, true
}

// EnsureMin spawns instances up to each slot's minInstances.
func (p *Pool) EnsureMin() {
	for _, id := range p.slotOrder {
		sp := p.slots[id]
		for len(sp.instances) < sp.slot.MinInstances {
			p.spawn(sp)
		}
	}
}

// spawn creates one instance in a slot and emits agent:spawned.
func (p *Pool) spawn(sp *slotPool) *types.AgentInstance {
	sp.nextSuffix++
	inst := &types.AgentInstance{
		ID:        fmt.Sprintf("%s-%d", sp.slot.ID, sp.nextSuffix),
		SlotID:    sp.slot.ID,
		Status:    types.AgentIdle,
		SpawnedAt: time.Now(),
	}
	sp.instances[inst.ID] = inst
	sp.order = append(sp.order, inst.ID)
	logging.Get(logging.CategoryPool).Debug("spawned %s (%d/%s in slot)", inst.ID, len(sp.instances), maxLabel(sp.slot))
	p.bus.Emit(types.Event{Kind: types.EventAgentSpawned, SlotID: sp.slot.ID, InstanceID: inst.ID})
	return inst
}

func maxLabel(s types.AgentSlot) string {
	if s.Unbounded() {
		return "inf"
	}
	return fmt.Sprintf("%d", s.MaxInstances)
}

// Assign routes a task to a slot. If an idle instance exists the task is
// bound to it and returned; otherwise the task joins the slot's FIFO and
// auto-scaling is evaluated. The returned instance is non-nil when the
// task got bound (possibly to a freshly scaled instance).
func (p *Pool) Assign(t *types.Task, slotID string) (*types.AgentInstance, error) {
	sp, ok := p.slots[slotID]
	if !ok {
		return nil, &UnknownAgentSlotError{SlotID: slotID}
	}

	if inst := p.idleInstance(sp); inst != nil {
		p.bind(sp, inst, t)
		return inst, nil
	}

	// No idle instance: queue, then evaluate auto-scale.
	sp.fifo = append(sp.fifo, t)
	t.Status = types.TaskQueued
	p.bus.Emit(types.Event{Kind: types.EventTaskQueued, TaskID: t.ID, SlotID: slotID})

	if len(sp.fifo) > len(sp.instances) {
		p.bus.Emit(types.Event{Kind: types.EventAgentOverloaded, SlotID: slotID,
			Message: fmt.Sprintf("queue depth %d exceeds %d instances", len(sp.fifo), len(sp.instances))})
	}

	if sp.slot.AutoScale && (sp.slot.Unbounded() || len(sp.instances) < sp.slot.MaxInstances) && len(sp.fifo) > 0 {
		inst := p.spawn(sp)
		next := sp.fifo[0]
		sp.fifo = sp.fifo[1:]
		p.bind(sp, inst, next)
		if next == t {
			return inst, nil
		}
		// A task queued earlier took the new instance; the caller's
		// task stays in the FIFO.
		return nil, nil
	}
	return nil, nil
}

func (p *Pool) idleInstance(sp *slotPool) *types.AgentInstance {
	for _, id := range sp.order {
		inst := sp.instances[id]
		if inst != nil && inst.Status == types.AgentIdle {
			return inst
		}
	}
	return nil
}

func (p *Pool) bind(sp *slotPool, inst *types.AgentInstance, t *types.Task) {
	inst.Status = types.AgentBusy
	inst.CurrentTask = t.ID
	p.taskToInst[t.ID] = inst.ID
	p.instToTask[inst.ID] = t.ID
	t.Status = types.TaskAssigned
	p.bus.Emit(types.Event{Kind: types.EventTaskAssigned, TaskID: t.ID, SlotID: sp.slot.ID, InstanceID: inst.ID})
}

// Free releases a task's agent on terminal transition. completed
// controls whether the instance's counter advances (true for completed
// tasks, false for cancels). If the slot's FIFO is non-empty the next
// task is bound immediately and returned with its instance.
func (p *Pool) Free(taskID string, completed bool) (*types.Task, *types.AgentInstance) {
	instID, ok := p.taskToInst[taskID]
	if !ok {
		return nil, nil
	}
	delete(p.taskToInst, taskID)
	delete(p.instToTask, instID)

	var sp *slotPool
	var inst *types.AgentInstance
	for _, cand := range p.slots {
		if i, ok := cand.instances[instID]; ok {
			sp, inst = cand, i
			break
		}
	}
	if inst == nil {
		return nil, nil
	}

	inst.CurrentTask = ""
	if completed {
		inst.TasksCompleted++
		sp.completed++
	}
	inst.Status = types.AgentIdle
	p.bus.Emit(types.Event{Kind: types.EventAgentIdle, SlotID: sp.slot.ID, InstanceID: inst.ID})

	if len(sp.fifo) > 0 {
		next := sp.fifo[0]
		sp.fifo = sp.fifo[1:]
		p.bind(sp, inst, next)
		return next, inst
	}
	return nil, nil
}

// RemoveQueued drops a task from its slot FIFO (cancellation). Reports
// whether the task was found queued.
func (p *Pool) RemoveQueued(taskID string) bool {
	for _, sp := range p.slots {
		for i, qt := range sp.fifo {
			if qt.ID == taskID {
				sp.fifo = append(sp.fifo[:i], sp.fifo[i+1:]...)
				return true
			}
		}
	}
	return false
}

// BoundInstance returns the instance currently bound to a task, if any.
func (p *Pool) BoundInstance(taskID string) *types.AgentInstance {
	instID, ok := p.taskToInst[taskID]
	if !ok {
		return nil
	}
	for _, sp := range p.slots {
		if inst, ok := sp.instances[instID]; ok {
			return inst
		}
	}
	return nil
}

// ScaleTo removes idle instances from a slot until the count reaches
// target or only busy instances remain. Busy instances are preserved.
func (p *Pool) ScaleTo(slotID string, target int) error {
	sp, ok := p.slots[slotID]
	if !ok {
		return &UnknownAgentSlotError{SlotID: slotID}
	}
	if target < 0 {
		target = 0
	}

	for len(sp.instances) > target {
		removed := false
		for i := len(sp.order) - 1; i >= 0; i-- {
			id := sp.order[i]
			inst := sp.instances[id]
			if inst != nil && inst.Status == types.AgentIdle {
				delete(sp.instances, id)
				sp.order = append(sp.order[:i], sp.order[i+1:]...)
				removed = true
				break
			}
		}
		if !removed {
			break // only busy instances left
		}
	}

	// Scaling up to target honors the slot bound.
	for len(sp.instances) < target && (sp.slot.Unbounded() || len(sp.instances) < sp.slot.MaxInstances) {
		p.spawn(sp)
	}
	return nil
}

// Load returns a slot's running+queued load and completed count for
// least-loaded routing.
func (p *Pool) Load(slotID string) (load, completed int) {
	sp := p.slots[slotID]
	busy := 0
	for _, inst := range sp.instances {
		if inst.Status == types.AgentBusy {
			busy++
		}
	}
	return busy + len(sp.fifo), sp.completed
}

// BusyCount returns the number of busy instances across all slots.
func (p *Pool) BusyCount() int {
	n := 0
	for _, sp := range p.slots {
		for _, inst := range sp.instances {
			if inst.Status == types.AgentBusy {
				n++
			}
		}
	}
	return n
}

// InstanceCount returns the instance count for a slot.
func (p *Pool) InstanceCount(slotID string) int {
	sp, ok := p.slots[slotID]
	if !ok {
		return 0
	}
	return len(sp.instances)
}

// Snapshot copies all instances for external inspection.
func (p *Pool) Snapshot() []types.AgentInstance {
	var out []types.AgentInstance
	for _, slotID := range p.slotOrder {
		sp := p.slots[slotID]
		for _, id := range sp.order {
			if inst := sp.instances[id]; inst != nil {
				out = append(out, *inst)
			}
		}
	}
	return out
}
