// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Layer an optional YAML file and GAVEL_-prefixed env vars on top via Load.
package config

import "time"

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// PhaseLimitsS maps trial phase names to their time limit in seconds.
	PhaseLimitsS map[string]int `koanf:"phase_limits_s"`

	// JudgmentURL points at the external AI-jury endpoint. Empty means the
	// built-in stub jury (local play).
	JudgmentURL string `koanf:"judgment_url"`

	// JudgmentTimeoutS bounds each jury request.
	JudgmentTimeoutS int `koanf:"judgment_timeout_s"`

	// JudgmentQueueSize bounds pending jury requests across sessions.
	JudgmentQueueSize int `koanf:"judgment_queue_size"`

	// SubscriberBuffer sets the per-subscriber event delivery buffer.
	SubscriberBuffer int `koanf:"subscriber_buffer"`

	// ComboWindowS is the recency window for combo growth.
	ComboWindowS int `koanf:"combo_window_s"`

	// BasePoints overrides base point values per scorable event shape
	// (argument, strong_argument, evidence, objection_sustained). Shapes
	// left out keep their built-in value.
	BasePoints map[string]float64 `koanf:"base_points"`

	// ComboSteps overrides the per-shape combo increments, same keys as
	// BasePoints.
	ComboSteps map[string]float64 `koanf:"combo_steps"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel: "info",
		Addr:     ":9080",
		PhaseLimitsS: map[string]int{
			"opening_statements":    120,
			"evidence_presentation": 180,
			"witness_examination":   180,
			"closing_arguments":     120,
		},
		JudgmentTimeoutS:  20,
		JudgmentQueueSize: 64,
		SubscriberBuffer:  256,
		ComboWindowS:      30,
	}
}

// JudgmentTimeout returns the jury deadline as a duration.
func (c *Config) JudgmentTimeout() time.Duration {
	return time.Duration(c.JudgmentTimeoutS) * time.Second
}

// ComboWindow returns the combo recency window as a duration.
func (c *Config) ComboWindow() time.Duration {
	return time.Duration(c.ComboWindowS) * time.Second
}
