package orchestrator

import (
	"errors"
	"testing"

	"manas/internal/types"
)

func twoSlotPlan(strategy types.Strategy) types.Plan {
	return types.Plan{
		ID:       "plan-2",
		Strategy: strategy,
		Slots: []types.AgentSlot{
			{ID: "alpha", MinInstances: 1, MaxInstances: 1},
			{ID: "beta", MinInstances: 1, MaxInstances: 1},
		},
		Coordination: types.Coordination{TolerateFailures: true},
	}
}

func assignedSlots(rec *eventRecorder) []string {
	var out []string
	for _, ev := range rec.byKind(types.EventTaskAssigned) {
		out = append(out, ev.SlotID)
	}
	return out
}

func TestRoundRobinAlternatesSlots(t *testing.T) {
	plan := twoSlotPlan(types.StrategyRoundRobin)
	plan.Slots[0].MinInstances = 2
	plan.Slots[0].MaxInstances = 2
	plan.Slots[1].MinInstances = 2
	plan.Slots[1].MaxInstances = 2
	o, rec := newTestOrchestrator(t, plan)

	_, err := o.SubmitBatch([]*types.Task{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}})
	if err != nil {
		t.Fatal(err)
	}
	o.Tick()

	want := []string{"alpha", "beta", "alpha", "beta"}
	got := assignedSlots(rec)
	if len(got) != len(want) {
		t.Fatalf("assignments = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("slot sequence = %v, want %v", got, want)
		}
	}
}

func TestLeastLoadedPicksEmptierSlot(t *testing.T) {
	o, rec := newTestOrchestrator(t, twoSlotPlan(types.StrategyLeastLoaded))

	_, err := o.SubmitBatch([]*types.Task{{ID: "a"}, {ID: "b"}})
	if err != nil {
		t.Fatal(err)
	}
	o.Tick()

	got := assignedSlots(rec)
	if len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Fatalf("slot sequence = %v, want [alpha beta]", got)
	}
}

func TestPreferredSlotOverridesStrategy(t *testing.T) {
	o, rec := newTestOrchestrator(t, twoSlotPlan(types.StrategyRoundRobin))

	if _, err := o.Submit(&types.Task{ID: "t", PreferredSlot: "beta"}); err != nil {
		t.Fatal(err)
	}
	o.Tick()

	got := assignedSlots(rec)
	if len(got) != 1 || got[0] != "beta" {
		t.Fatalf("slots = %v, want [beta]", got)
	}
}

func TestSpecializedRouting(t *testing.T) {
	plan := types.Plan{
		Strategy: types.StrategySpecialized,
		Slots: []types.AgentSlot{
			// Two coder instances leave headroom for the fallback task.
			{ID: "coder", Capabilities: []string{"code", "golang"}, MinInstances: 2},
			{ID: "reviewer", Capabilities: []string{"review"}, MinInstances: 1},
		},
		Coordination: types.Coordination{TolerateFailures: true},
	}
	o, rec := newTestOrchestrator(t, plan)

	_, err := o.SubmitBatch([]*types.Task{
		{ID: "r", Type: "review"},      // exact capability match
		{ID: "g", Type: "golang-code"}, // token overlap with coder
		{ID: "p", Type: "paint"},       // no overlap: least-loaded fallback
	})
	if err != nil {
		t.Fatal(err)
	}
	o.Tick()

	bySlot := map[string]string{}
	for _, ev := range rec.byKind(types.EventTaskAssigned) {
		bySlot[ev.TaskID] = ev.SlotID
	}
	if bySlot["r"] != "reviewer" {
		t.Errorf("review routed to %q", bySlot["r"])
	}
	if bySlot["g"] != "coder" {
		t.Errorf("golang-code routed to %q", bySlot["g"])
	}
	// No capability overlap: least-loaded fallback, ties broken by plan
	// order, lands on the coder slot's idle instance.
	if bySlot["p"] != "coder" {
		t.Errorf("paint routed to %q, want the least-loaded fallback", bySlot["p"])
	}
}

func TestRoutedFirstMatchWinsWithLeastLoadedFallback(t *testing.T) {
	plan := twoSlotPlan(types.StrategyRouted)
	plan.Routing = []types.RoutingRule{
		{Name: "security", Predicate: func(t *types.Task) bool { return t.Type == "security" }, SlotID: "beta"},
		{Name: "catch-security-again", Predicate: func(t *types.Task) bool { return t.Type == "security" }, SlotID: "alpha"},
	}
	o, rec := newTestOrchestrator(t, plan)

	_, err := o.SubmitBatch([]*types.Task{
		{ID: "s", Type: "security"},
		{ID: "m", Type: "misc"},
	})
	if err != nil {
		t.Fatal(err)
	}
	o.Tick()

	bySlot := map[string]string{}
	for _, ev := range rec.byKind(types.EventTaskAssigned) {
		bySlot[ev.TaskID] = ev.SlotID
	}
	if bySlot["s"] != "beta" {
		t.Errorf("security routed to %q, want the first matching rule's slot", bySlot["s"])
	}
	if bySlot["m"] != "alpha" {
		t.Errorf("unmatched task routed to %q, want least-loaded alpha", bySlot["m"])
	}
}

func TestCompetitiveWinnerTakesAll(t *testing.T) {
	o, rec := newTestOrchestrator(t, twoSlotPlan(types.StrategyCompetitive))

	if _, err := o.Submit(&types.Task{ID: "R"}); err != nil {
		t.Fatal(err)
	}
	o.Tick()

	for _, sibID := range []string{"R:race-alpha", "R:race-beta"} {
		sib, ok := o.GetTask(sibID)
		if !ok || sib.Status != types.TaskAssigned {
			t.Fatalf("sibling %s = %+v", sibID, sib)
		}
	}

	o.HandleCompletion("R:race-alpha", &types.TaskResult{Success: true, Output: []byte("A")})

	parent, _ := o.GetTask("R")
	if parent.Status != types.TaskCompleted {
		t.Fatalf("parent status = %s", parent.Status)
	}
	if string(parent.Result.Output) != "A" {
		t.Errorf("parent output = %q, want the winner's", parent.Result.Output)
	}
	loser, _ := o.GetTask("R:race-beta")
	if loser.Status != types.TaskCancelled {
		t.Errorf("loser status = %s, want cancelled", loser.Status)
	}

	// Exactly one completion event for the parent.
	parentDone := 0
	for _, ev := range rec.byKind(types.EventTaskCompleted) {
		if ev.TaskID == "R" {
			parentDone++
		}
	}
	if parentDone != 1 {
		t.Errorf("parent task:completed events = %d, want 1", parentDone)
	}
	if n := len(rec.byKind(types.EventPlanComplete)); n != 1 {
		t.Errorf("plan:complete events = %d, want 1", n)
	}
}

func TestCompetitiveAllSiblingsFailedFailsParent(t *testing.T) {
	o, _ := newTestOrchestrator(t, twoSlotPlan(types.StrategyCompetitive))

	if _, err := o.Submit(&types.Task{ID: "R"}); err != nil {
		t.Fatal(err)
	}
	o.Tick()

	o.HandleFailure("R:race-alpha", errors.New("boom"))
	if parent, _ := o.GetTask("R"); parent.Status.Terminal() {
		t.Fatal("parent terminal while a sibling is still live")
	}
	o.HandleFailure("R:race-beta", errors.New("boom"))

	parent, _ := o.GetTask("R")
	if parent.Status != types.TaskFailed {
		t.Fatalf("parent status = %s, want failed", parent.Status)
	}
}

func TestSwarmMergesInSpawnOrder(t *testing.T) {
	o, _ := newTestOrchestrator(t, twoSlotPlan(types.StrategySwarm))

	if _, err := o.Submit(&types.Task{ID: "S"}); err != nil {
		t.Fatal(err)
	}
	o.Tick()

	// Complete out of spawn order: merge output stays in spawn order.
	o.HandleCompletion("S:swarm-beta", &types.TaskResult{Success: true, Output: []byte("B")})
	if parent, _ := o.GetTask("S"); parent.Status.Terminal() {
		t.Fatal("parent terminal before all siblings finished")
	}
	o.HandleCompletion("S:swarm-alpha", &types.TaskResult{Success: true, Output: []byte("A")})

	parent, _ := o.GetTask("S")
	if parent.Status != types.TaskCompleted {
		t.Fatalf("parent status = %s", parent.Status)
	}
	if string(parent.Result.Output) != "AB" {
		t.Errorf("merged output = %q, want %q", parent.Result.Output, "AB")
	}
}

func TestSwarmAnySuccessToleratesSiblingFailure(t *testing.T) {
	o, _ := newTestOrchestrator(t, twoSlotPlan(types.StrategySwarm))

	if _, err := o.Submit(&types.Task{ID: "S"}); err != nil {
		t.Fatal(err)
	}
	o.Tick()
	o.HandleCompletion("S:swarm-alpha", &types.TaskResult{Success: true, Output: []byte("A")})
	o.HandleFailure("S:swarm-beta", errors.New("boom"))

	parent, _ := o.GetTask("S")
	if parent.Status != types.TaskCompleted {
		t.Fatalf("parent status = %s, want completed under any-success", parent.Status)
	}
	if string(parent.Result.Output) != "A" {
		t.Errorf("merged output = %q", parent.Result.Output)
	}
}

func TestSwarmAllSuccessFailsOnSiblingFailure(t *testing.T) {
	plan := twoSlotPlan(types.StrategySwarm)
	plan.Coordination.SwarmMerge = types.SwarmMergeAllSuccess
	o, _ := newTestOrchestrator(t, plan)

	if _, err := o.Submit(&types.Task{ID: "S"}); err != nil {
		t.Fatal(err)
	}
	o.Tick()
	o.HandleCompletion("S:swarm-alpha", &types.TaskResult{Success: true})
	o.HandleFailure("S:swarm-beta", errors.New("boom"))

	parent, _ := o.GetTask("S")
	if parent.Status != types.TaskFailed {
		t.Fatalf("parent status = %s, want failed under all-success", parent.Status)
	}
}

type splitDecomposer struct{}

func (splitDecomposer) Decompose(t *types.Task) []*types.Task {
	if t.Type != "build-all" {
		return []*types.Task{t}
	}
	return []*types.Task{
		{ID: t.ID + ":compile", Type: "compile"},
		{ID: t.ID + ":link", Type: "link"},
	}
}

func TestHierarchicalDecomposesAndGatesParent(t *testing.T) {
	o, _ := newTestOrchestrator(t, twoSlotPlan(types.StrategyHierarchical))
	o.SetDecomposer(splitDecomposer{})

	if _, err := o.Submit(&types.Task{ID: "B", Type: "build-all"}); err != nil {
		t.Fatal(err)
	}
	o.Tick()

	for _, subID := range []string{"B:compile", "B:link"} {
		sub, ok := o.GetTask(subID)
		if !ok || sub.Status != types.TaskAssigned {
			t.Fatalf("sub-task %s = %+v", subID, sub)
		}
	}
	parent, _ := o.GetTask("B")
	if parent.Status != types.TaskPending {
		t.Fatalf("parent status = %s, want pending behind sub-tasks", parent.Status)
	}
	if len(parent.DependsOn) != 2 {
		t.Fatalf("parent depends on %v", parent.DependsOn)
	}

	o.HandleCompletion("B:compile", nil)
	o.Tick()
	if parent, _ := o.GetTask("B"); parent.Status != types.TaskPending {
		t.Fatal("parent dispatched before all sub-tasks completed")
	}

	o.HandleCompletion("B:link", nil)
	o.Tick()
	parent, _ = o.GetTask("B")
	if parent.Status != types.TaskAssigned {
		t.Fatalf("parent status = %s, want assigned after sub-tasks", parent.Status)
	}

	o.HandleCompletion("B", &types.TaskResult{Success: true})
	if parent, _ := o.GetTask("B"); parent.Status != types.TaskCompleted {
		t.Fatal("parent did not complete")
	}
}

func TestHierarchicalTrivialDecompositionDispatchesDirectly(t *testing.T) {
	o, _ := newTestOrchestrator(t, twoSlotPlan(types.StrategyHierarchical))
	o.SetDecomposer(splitDecomposer{})

	if _, err := o.Submit(&types.Task{ID: "t", Type: "compile"}); err != nil {
		t.Fatal(err)
	}
	o.Tick()
	task, _ := o.GetTask("t")
	if task.Status != types.TaskAssigned {
		t.Fatalf("status = %s, want assigned without decomposition", task.Status)
	}
}

func TestCancelRaceParentCancelsSiblings(t *testing.T) {
	o, _ := newTestOrchestrator(t, twoSlotPlan(types.StrategyCompetitive))

	if _, err := o.Submit(&types.Task{ID: "R"}); err != nil {
		t.Fatal(err)
	}
	o.Tick()

	if !o.Cancel("R") {
		t.Fatal("cancel did not take effect")
	}
	for _, sibID := range []string{"R:race-alpha", "R:race-beta"} {
		sib, ok := o.GetTask(sibID)
		if !ok {
			t.Fatalf("sibling %s not registered", sibID)
		}
		if sib.Status != types.TaskCancelled {
			t.Errorf("sibling %s status = %s, want cancelled", sibID, sib.Status)
		}
	}

	o.mu.Lock()
	_, leaked := o.races["R"]
	o.mu.Unlock()
	if leaked {
		t.Error("race bookkeeping survived the parent's cancellation")
	}
}
