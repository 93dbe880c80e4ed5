package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New())
//  2. file (YAML) if MOMENTUM_CONFIG is set
//  3. env (prefix MOMENTUM_)
func Load(ctx context.Context) (*Config, error) {
	// Start with defaults
	base := New()

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("MOMENTUM_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	// Environment variables: MOMENTUM_ADDR, MOMENTUM_QUEUE_SIZE, ...
	// Map env keys like MOMENTUM_QUEUE_SIZE -> queue_size (flat keys)
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("MOMENTUM_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "momentum_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.StoreBackend != "memory" && c.StoreBackend != "sqlite":
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, c.StoreBackend)
	case c.StoreBackend == "sqlite" && c.SQLitePath == "":
		return fmt.Errorf("%w: sqlite_path must not be empty", ErrInvalidConfig)
	case c.EventQueueSize < 1:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount < 1:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.LookbackDays < 1:
		return fmt.Errorf("%w: lookback_days must be positive", ErrInvalidConfig)
	case c.HalfLifeDays <= 0:
		return fmt.Errorf("%w: half_life_days must be positive", ErrInvalidConfig)
	case c.SigmoidSteepness <= 0:
		return fmt.Errorf("%w: sigmoid_steepness must be positive", ErrInvalidConfig)
	case len(c.SmoothingTwoTap) != 2:
		return fmt.Errorf("%w: smoothing_two_tap needs exactly 2 weights", ErrInvalidConfig)
	case len(c.SmoothingThreeTap) != 3:
		return fmt.Errorf("%w: smoothing_three_tap needs exactly 3 weights", ErrInvalidConfig)
	case c.NeedsCareThreshold >= c.RisingThreshold:
		return fmt.Errorf("%w: needs_care_threshold must be below rising_threshold", ErrInvalidConfig)
	case c.HysteresisBuffer < 0:
		return fmt.Errorf("%w: hysteresis_buffer must not be negative", ErrInvalidConfig)
	case c.SweepWorkers < 1:
		return fmt.Errorf("%w: sweep_workers must be positive", ErrInvalidConfig)
	}
	return nil
}
