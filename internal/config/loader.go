package config

import (
	"errors"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/gavel/internal/domain/phase"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New())
//  2. file (YAML) if GAVEL_CONFIG is set
//  3. env (prefix GAVEL_)
func Load() (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("GAVEL_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// Environment variables: GAVEL_ADDR, GAVEL_JUDGMENT_URL, ...
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("GAVEL_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "gavel_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return errors.New("addr must not be empty")
	}
	for name, secs := range c.PhaseLimitsS {
		if !phase.Phase(name).Valid() {
			return errors.New("unknown phase in phase_limits_s: " + name)
		}
		if secs <= 0 {
			return errors.New("phase limit must be positive: " + name)
		}
	}
	if c.JudgmentTimeoutS <= 0 {
		return errors.New("judgment_timeout_s must be positive")
	}
	if c.SubscriberBuffer <= 0 {
		return errors.New("subscriber_buffer must be positive")
	}
	if c.ComboWindowS <= 0 {
		return errors.New("combo_window_s must be positive")
	}
	for shape, points := range c.BasePoints {
		if points < 0 {
			return errors.New("base points must not be negative: " + shape)
		}
	}
	for shape, step := range c.ComboSteps {
		if step < 0 {
			return errors.New("combo steps must not be negative: " + shape)
		}
	}
	return nil
}
