package config

// SvapnaConfig tunes the consolidation pipeline.
type SvapnaConfig struct {
	// Project scopes a cycle to one project path.
	Project string `yaml:"project" json:"project"`

	// MaxSessionsPerCycle bounds how many recent sessions one cycle
	// replays.
	MaxSessionsPerCycle int `yaml:"max_sessions_per_cycle" json:"max_sessions_per_cycle"`

	// SurpriseThreshold selects high-surprise turns after normalization.
	SurpriseThreshold float64 `yaml:"surprise_threshold" json:"surprise_threshold"`

	// MinPatternFrequency is the minimum samskara observation count
	// considered for crystallization.
	MinPatternFrequency int `yaml:"min_pattern_frequency" json:"min_pattern_frequency"`

	// MinSequenceLength is the shortest tool n-gram mined for vidhis.
	MinSequenceLength int `yaml:"min_sequence_length" json:"min_sequence_length"`

	// MinSuccessRate gates vidhi extraction on session success.
	MinSuccessRate float64 `yaml:"min_success_rate" json:"min_success_rate"`
}

// DefaultSvapnaConfig returns the documented consolidation defaults.
func DefaultSvapnaConfig() SvapnaConfig {
	return SvapnaConfig{
		MaxSessionsPerCycle: 50,
		SurpriseThreshold:   0.7,
		MinPatternFrequency: 3,
		MinSequenceLength:   2,
		MinSuccessRate:      0.8,
	}
}
