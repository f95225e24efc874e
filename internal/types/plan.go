package types

// Strategy selects how the scheduler routes eligible tasks onto slots.
// The set is closed; the scheduler switches on the tag.
type Strategy string

const (
	StrategyRoundRobin   Strategy = "round-robin"
	StrategyLeastLoaded  Strategy = "least-loaded"
	StrategySpecialized  Strategy = "specialized"
	StrategyCompetitive  Strategy = "competitive"
	StrategySwarm        Strategy = "swarm"
	StrategyHierarchical Strategy = "hierarchical"
	StrategyRouted       Strategy = "routed"
)

// RoutingRule routes a task to a named slot when its predicate matches.
// Rules are evaluated in order; the first match wins.
type RoutingRule struct {
	Name      string
	Predicate func(*Task) bool
	SlotID    string
}

// SwarmMergePolicy names how swarm sibling results fold into the parent.
type SwarmMergePolicy string

const (
	// SwarmMergeAnySuccess marks the parent successful if any sibling
	// succeeded. This is the default.
	SwarmMergeAnySuccess SwarmMergePolicy = "any-success"
	// SwarmMergeAllSuccess requires every sibling to succeed.
	SwarmMergeAllSuccess SwarmMergePolicy = "all-success"
)

// Coordination is the plan-level failure policy.
type Coordination struct {
	TolerateFailures bool
	MaxFailures      int // 0 = no limit
	SharedContext    map[string]any
	SwarmMerge       SwarmMergePolicy
}

// FallbackHandler may return a replacement task for a terminally failed
// one. A nil return means no replacement.
type FallbackHandler func(failed *Task, cause error) *Task

// Fallback is the plan-level recovery policy for terminally failed tasks.
type Fallback struct {
	Handler         FallbackHandler
	EscalateToHuman bool
}

// Plan describes one orchestration run: the slots, the dispatch strategy,
// and the coordination/fallback policies.
type Plan struct {
	ID           string
	Slots        []AgentSlot
	Strategy     Strategy
	Routing      []RoutingRule
	Coordination Coordination
	Fallback     Fallback
}
