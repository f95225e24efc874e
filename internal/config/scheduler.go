package config

// SchedulerConfig configures the task orchestrator.
type SchedulerConfig struct {
	// Strategy names the dispatch strategy: round-robin, least-loaded,
	// specialized, competitive, swarm, hierarchical, routed.
	Strategy string `yaml:"strategy" json:"strategy"`

	// TickMs is the processing loop cadence in milliseconds.
	TickMs int `yaml:"tick_ms" json:"tick_ms"`

	Coordination CoordinationConfig `yaml:"coordination" json:"coordination"`
	Fallback     FallbackConfig     `yaml:"fallback" json:"fallback"`
}

// CoordinationConfig is the plan-level failure policy.
type CoordinationConfig struct {
	TolerateFailures bool `yaml:"tolerate_failures" json:"tolerate_failures"`
	// MaxFailures stops the plan once this many tasks have failed.
	// 0 means no limit.
	MaxFailures int `yaml:"max_failures" json:"max_failures"`
	// SwarmMerge: any-success (default) or all-success.
	SwarmMerge string `yaml:"swarm_merge" json:"swarm_merge"`
}

// FallbackConfig is the recovery policy for terminally failed tasks.
// Custom handlers are wired programmatically, not from config.
type FallbackConfig struct {
	EscalateToHuman bool `yaml:"escalate_to_human" json:"escalate_to_human"`
}

// DefaultSchedulerConfig returns scheduler defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Strategy: "least-loaded",
		TickMs:   100,
		Coordination: CoordinationConfig{
			TolerateFailures: true,
			SwarmMerge:       "any-success",
		},
	}
}
