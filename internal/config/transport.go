package config

import "time"

// RetryConfig tunes the resilient transport retry loop.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	BaseMs      int `yaml:"base_ms" json:"base_ms"`
	CapMs       int `yaml:"cap_ms" json:"cap_ms"`
	JitterMs    int `yaml:"jitter_ms" json:"jitter_ms"`
}

// Base returns the backoff base as a duration.
func (r RetryConfig) Base() time.Duration { return time.Duration(r.BaseMs) * time.Millisecond }

// Cap returns the backoff ceiling as a duration.
func (r RetryConfig) Cap() time.Duration { return time.Duration(r.CapMs) * time.Millisecond }

// Jitter returns the jitter window as a duration.
func (r RetryConfig) Jitter() time.Duration { return time.Duration(r.JitterMs) * time.Millisecond }

// DefaultRetryConfig returns the documented retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseMs: 500, CapMs: 30000, JitterMs: 250}
}

// BreakerConfig tunes the per-provider circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	CooldownMs       int `yaml:"cooldown_ms" json:"cooldown_ms"`
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold"`
}

// Cooldown returns the open-state cooldown as a duration.
func (b BreakerConfig) Cooldown() time.Duration {
	return time.Duration(b.CooldownMs) * time.Millisecond
}

// DefaultBreakerConfig returns the documented breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, CooldownMs: 30000, SuccessThreshold: 2}
}
