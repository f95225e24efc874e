package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"manas/internal/logging"
	"manas/internal/types"
)

const (
	defaultTickInterval = 100 * time.Millisecond
	defaultBackoffBase  = 1 * time.Second
	backoffCap          = 30 * time.Second
)

// Orchestrator runs one plan: it owns the main priority queue, the agent
// pool, and the task state machine. All mutable state sits behind one
// mutex; the ticker goroutine and executor workers funnel through it.
type Orchestrator struct {
	plan types.Plan
	exec types.Executor
	bus  *Bus

	mu      sync.Mutex
	pool    *Pool
	queue   *taskQueue
	tasks   map[string]*types.Task
	order   []string // submission order, for aggregated results
	cancels map[string]context.CancelFunc
	timers  map[string]*time.Timer
	swarms  map[string]*swarmState
	races   map[string][]string // race parent id -> sibling ids
	split   map[string]bool     // hierarchical parents already decomposed

	seq        uint64
	rrIndex    int
	decomposer Decomposer

	running  bool
	paused   bool
	planDone bool
	stopCh   chan struct{}
	wg       sync.WaitGroup

	startedAt time.Time

	// stats accumulators
	completedCount int
	failedCount    int
	totalCost      float64
	totalTokens    int
	totalLatencyMs int64
	latencyN       int

	tickInterval time.Duration
	backoffBase  time.Duration // scaled down in tests
}

// swarmState accumulates sibling results for one swarm parent.
type swarmState struct {
	siblings []string
	results  map[string]*types.TaskResult
	shared   map[string]any
}

// New builds an orchestrator for the plan. exec may be nil when an
// external driver reports outcomes through HandleCompletion and
// HandleFailure directly.
func New(plan types.Plan, exec types.Executor, handler types.EventHandler) (*Orchestrator, error) {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if len(plan.Slots) == 0 {
		return nil, fmt.Errorf("plan %s has no agent slots", plan.ID)
	}
	if plan.Strategy == "" {
		plan.Strategy = types.StrategyLeastLoaded
	}
	if plan.Coordination.SwarmMerge == "" {
		plan.Coordination.SwarmMerge = types.SwarmMergeAnySuccess
	}

	bus := NewBus(plan.ID, handler)
	pool, err := NewPool(plan.Slots, bus)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		plan:         plan,
		exec:         exec,
		bus:          bus,
		pool:         pool,
		queue:        newTaskQueue(),
		tasks:        make(map[string]*types.Task),
		cancels:      make(map[string]context.CancelFunc),
		timers:       make(map[string]*time.Timer),
		swarms:       make(map[string]*swarmState),
		races:        make(map[string][]string),
		split:        make(map[string]bool),
		decomposer:   identityDecomposer{},
		tickInterval: defaultTickInterval,
		backoffBase:  defaultBackoffBase,
	}, nil
}

// SetDecomposer replaces the hierarchical decomposer. Must be called
// before Start.
func (o *Orchestrator) SetDecomposer(d Decomposer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if d != nil {
		o.decomposer = d
	}
}

// Submit registers and enqueues one task, returning its id.
func (o *Orchestrator) Submit(t *types.Task) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.submitLocked(t); err != nil {
		return "", err
	}
	return t.ID, nil
}

// SubmitBatch registers all tasks or none, returning ids in input order.
func (o *Orchestrator) SubmitBatch(tasks []*types.Task) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			continue
		}
		if _, exists := o.tasks[t.ID]; exists || seen[t.ID] {
			return nil, fmt.Errorf("duplicate task id %q in batch", t.ID)
		}
		seen[t.ID] = true
	}

	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if err := o.submitLocked(t); err != nil {
			return nil, err
		}
		ids = append(ids, t.ID)
	}
	return ids, nil
}

func (o *Orchestrator) submitLocked(t *types.Task) error {
	if t == nil {
		return fmt.Errorf("nil task")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, exists := o.tasks[t.ID]; exists {
		return fmt.Errorf("task id %q already registered", t.ID)
	}
	t.Status = types.TaskPending
	t.SubmittedAt = time.Now()
	o.tasks[t.ID] = t
	o.order = append(o.order, t.ID)
	o.seq++
	o.queue.push(t, o.seq)
	return nil
}

// Start spawns the ticker loop. It is an error to start twice.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return &InvalidStateError{Op: "start", Reason: "already running"}
	}
	o.running = true
	o.paused = false
	o.stopCh = make(chan struct{})
	if o.startedAt.IsZero() {
		o.startedAt = time.Now()
	}
	o.pool.EnsureMin()
	o.bus.Emit(types.Event{Kind: types.EventPlanStart, Message: string(o.plan.Strategy)})

	stop := o.stopCh
	o.wg.Add(1)
	go o.run(stop)
	return nil
}

func (o *Orchestrator) run(stop <-chan struct{}) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			o.tick()
		}
	}
}

// Stop halts the loop, cancels in-flight work, and waits for workers to
// drain. Idempotent.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.stopLocked()
	o.mu.Unlock()
	o.wg.Wait()
}

// stopLocked releases every hold without waiting: safe to call from a
// worker goroutine via the plan-failed path.
func (o *Orchestrator) stopLocked() {
	if !o.running {
		return
	}
	o.running = false
	o.planDone = true
	close(o.stopCh)
	for id, timer := range o.timers {
		timer.Stop()
		delete(o.timers, id)
	}
	for id, cancel := range o.cancels {
		cancel()
		delete(o.cancels, id)
	}
	// Nothing survives a stop: queued, assigned, and retrying tasks all
	// transition to cancelled so no binding outlives the plan.
	for id, t := range o.tasks {
		if !t.Status.Terminal() {
			o.cancelLocked(id)
		}
	}
}

// Pause suspends dispatch; queued tasks stay queued and running tasks
// run to completion.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
}

// Resume lifts a pause.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
}

// ScaleAgent resizes a slot toward target instances. Busy instances are
// never removed and scale-up honors the slot's MaxInstances bound. An
// unknown slot id returns UnknownAgentSlotError.
func (o *Orchestrator) ScaleAgent(slotID string, target int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pool.ScaleTo(slotID, target)
}

// Cancel transitions a non-terminal task to cancelled, removing it from
// any queue and freeing its agent. Reports whether the cancel took
// effect.
func (o *Orchestrator) Cancel(taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelLocked(taskID)
}

func (o *Orchestrator) cancelLocked(taskID string) bool {
	t, ok := o.tasks[taskID]
	if !ok || t.Status.Terminal() {
		return false
	}
	if timer, ok := o.timers[taskID]; ok {
		timer.Stop()
		delete(o.timers, taskID)
	}
	if cancel, ok := o.cancels[taskID]; ok {
		cancel()
		delete(o.cancels, taskID)
	}
	o.pool.RemoveQueued(taskID)
	t.Status = types.TaskCancelled
	if next, inst := o.pool.Free(taskID, false); next != nil {
		o.startWorker(next, inst)
	}
	logging.Get(logging.CategoryOrchestrator).Info("cancelled task %s", taskID)
	if sibs, ok := o.races[taskID]; ok {
		// A cancelled race parent takes its still-live siblings with it.
		delete(o.races, taskID)
		for _, sibID := range sibs {
			o.cancelLocked(sibID)
		}
	}
	if sp := t.SwarmParent(); sp != "" {
		o.recordSwarmResult(sp, t)
	}
	o.checkTermination()
	return true
}

// Tick runs one scheduling pass. Exposed for tests that drive the
// scheduler without the ticker goroutine.
func (o *Orchestrator) Tick() { o.tick() }

func (o *Orchestrator) tick() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.paused {
		return
	}

	for {
		head := o.queue.peek()
		if head == nil {
			return
		}
		eligible, blockErr := o.dependenciesSatisfied(head)
		if blockErr != nil {
			// The head can never run; fail it and keep draining.
			o.queue.pop()
			o.failTaskLocked(head, blockErr, "")
			continue
		}
		if !eligible {
			// Strict ordering: an ineligible head halts this tick.
			return
		}
		o.queue.pop()
		if err := o.dispatch(head); err != nil {
			o.failTaskLocked(head, err, "")
		}
	}
}

// dependenciesSatisfied reports whether every dependency is completed.
// A dependency that is unknown, failed, or cancelled makes the task
// permanently unsatisfiable, returned as an error.
func (o *Orchestrator) dependenciesSatisfied(t *types.Task) (bool, error) {
	for _, dep := range t.DependsOn {
		d, ok := o.tasks[dep]
		if !ok {
			return false, &DependencyUnsatisfiableError{TaskID: t.ID, DependencyID: dep, Reason: "unknown task"}
		}
		switch d.Status {
		case types.TaskCompleted:
		case types.TaskFailed, types.TaskCancelled:
			return false, &DependencyUnsatisfiableError{TaskID: t.ID, DependencyID: dep, Reason: string(d.Status)}
		default:
			return false, nil
		}
	}
	return true, nil
}

// assign hands a task to a slot and starts a worker if it got bound.
func (o *Orchestrator) assign(t *types.Task, slotID string) error {
	inst, err := o.pool.Assign(t, slotID)
	if err != nil {
		return err
	}
	if inst != nil {
		o.startWorker(t, inst)
	}
	return nil
}

// startWorker launches the executor for a bound task. With a nil
// executor the task stays assigned until an external driver reports its
// outcome.
func (o *Orchestrator) startWorker(t *types.Task, inst *types.AgentInstance) {
	if o.exec == nil || !o.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancels[t.ID] = cancel
	t.Status = types.TaskRunning
	instCopy := *inst

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		res, err := o.exec(ctx, &instCopy, t)
		if err != nil {
			o.HandleFailure(t.ID, err)
			return
		}
		if res != nil && !res.Success {
			o.HandleFailure(t.ID, fmt.Errorf("%s", res.Error))
			return
		}
		o.HandleCompletion(t.ID, res)
	}()
}

// GetTask returns a copy of a registered task.
func (o *Orchestrator) GetTask(taskID string) (types.Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[taskID]
	if !ok {
		return types.Task{}, false
	}
	return *t, true
}
