// Package config defines service configuration structures and loading hooks.
//
// Every engine tunable lives here so scoring experiments can be run by
// changing configuration, never code. Components receive their settings
// explicitly at construction; nothing reads process-wide mutable state.
package config

import (
	"runtime"
)

// RuleLimit configures the rate limit for one intervention rule.
type RuleLimit struct {
	// MaxPerDay caps firings per user per UTC day.
	MaxPerDay int `koanf:"max_per_day"`

	// MinHoursBetween spaces successive firings.
	MinHoursBetween float64 `koanf:"min_hours_between"`
}

// Rules contains the tunable thresholds and rate limits per rule.
type Rules struct {
	// ConsecutiveNeedsCareDays is how many NeedsCare days in a row
	// trigger coach outreach.
	ConsecutiveNeedsCareDays int       `koanf:"consecutive_needs_care_days"`
	ConsecutiveNeedsCare     RuleLimit `koanf:"consecutive_needs_care"`

	// ScoreDropPoints and ScoreDropDays define a significant drop.
	ScoreDropPoints float64   `koanf:"score_drop_points"`
	ScoreDropDays   int       `koanf:"score_drop_days"`
	ScoreDrop       RuleLimit `koanf:"score_drop"`

	// SustainedRisingRequired of SustainedRisingWindow days must be
	// Rising, including today, for a celebration.
	SustainedRisingRequired int       `koanf:"sustained_rising_required"`
	SustainedRisingWindow   int       `koanf:"sustained_rising_window"`
	SustainedRising         RuleLimit `koanf:"sustained_rising"`

	// IrregularTransitions state changes within IrregularWindow days
	// trigger a consistency reminder.
	IrregularTransitions int       `koanf:"irregular_transitions"`
	IrregularWindow      int       `koanf:"irregular_window"`
	IrregularPattern     RuleLimit `koanf:"irregular_pattern"`
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// EventQueueSize bounds the in-memory ingestion queue.
	EventQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of ingestion workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the event-ID deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// StoreBackend selects persistence: "memory" or "sqlite".
	StoreBackend string `koanf:"store_backend"`

	// SQLitePath is the database file used when StoreBackend is sqlite.
	SQLitePath string `koanf:"sqlite_path"`

	// EvalTimeoutMS bounds a single user's evaluation.
	EvalTimeoutMS int `koanf:"eval_timeout_ms"`

	// SweepTimeoutSec bounds a full batch sweep.
	SweepTimeoutSec int `koanf:"sweep_timeout_sec"`

	// SweepWorkers bounds sweep parallelism across users.
	SweepWorkers int `koanf:"sweep_workers"`

	// SweepIntervalMin runs a periodic full sweep when positive. Zero
	// leaves sweeps to the POST /sweep endpoint or an external cron.
	SweepIntervalMin int `koanf:"sweep_interval_min"`

	// LookbackDays is the event window feeding the raw score.
	LookbackDays int `koanf:"lookback_days"`

	// HalfLifeDays halves an event's contribution per elapsed period.
	HalfLifeDays float64 `koanf:"half_life_days"`

	// EventWeights maps event types to signed weights.
	EventWeights map[string]float64 `koanf:"event_weights"`

	// DefaultEventWeight is used for unknown event types.
	DefaultEventWeight float64 `koanf:"default_event_weight"`

	// SigmoidMidpoint is the raw score mapping to a normalized 50.
	SigmoidMidpoint float64 `koanf:"sigmoid_midpoint"`

	// SigmoidSteepness is the sigmoid k.
	SigmoidSteepness float64 `koanf:"sigmoid_steepness"`

	// SmoothingTwoTap weights today's normalized score against one
	// prior day's final score; SmoothingThreeTap against two. Each
	// should sum to 1.
	SmoothingTwoTap   []float64 `koanf:"smoothing_two_tap"`
	SmoothingThreeTap []float64 `koanf:"smoothing_three_tap"`

	// RisingThreshold and NeedsCareThreshold bound the three states.
	RisingThreshold    float64 `koanf:"rising_threshold"`
	NeedsCareThreshold float64 `koanf:"needs_care_threshold"`

	// HysteresisBuffer shifts the exit threshold of the previous state.
	HysteresisBuffer float64 `koanf:"hysteresis_buffer"`

	// TrendSlopeCutoff separates stable from rising/declining.
	TrendSlopeCutoff float64 `koanf:"trend_slope_cutoff"`

	// StrongSlopeCutoff is the magnitude at which a trend can override
	// the base classification.
	StrongSlopeCutoff float64 `koanf:"strong_slope_cutoff"`

	// OverrideMargin is the score distance to the adjacent threshold
	// within which an override applies.
	OverrideMargin float64 `koanf:"override_margin"`

	// TrendWindowDays and HistoryDays bound how much score history the
	// trend fit and the rule engine consume.
	TrendWindowDays int `koanf:"trend_window_days"`
	HistoryDays     int `koanf:"history_days"`

	// Rules holds per-rule thresholds and rate limits.
	Rules Rules `koanf:"rules"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:       "info",
		Addr:           ":9080",
		EventQueueSize: 100_000,
		WorkerCount:    runtime.NumCPU() * 2,
		DedupeSize:     500_000,
		StoreBackend:   "memory",
		SQLitePath:     "momentum.db",

		EvalTimeoutMS:   300,
		SweepTimeoutSec: 600,
		SweepWorkers:    16,

		LookbackDays: 30,
		HalfLifeDays: 10.0,
		EventWeights: map[string]float64{
			"app_open":            1.0,
			"lesson_complete":     3.0,
			"journal_entry":       2.0,
			"goal_met":            2.0,
			"coach_call_complete": 2.5,
			"coach_call_noshow":   -2.0,
		},
		DefaultEventWeight: 1.0,

		SigmoidMidpoint:  15.0,
		SigmoidSteepness: 0.3,

		SmoothingTwoTap:   []float64{0.7, 0.3},
		SmoothingThreeTap: []float64{0.5, 0.3, 0.2},

		RisingThreshold:    70.0,
		NeedsCareThreshold: 45.0,
		HysteresisBuffer:   2.0,
		TrendSlopeCutoff:   2.0,
		StrongSlopeCutoff:  3.0,
		OverrideMargin:     5.0,
		TrendWindowDays:    7,
		HistoryDays:        7,

		Rules: Rules{
			ConsecutiveNeedsCareDays: 2,
			ConsecutiveNeedsCare:     RuleLimit{MaxPerDay: 1, MinHoursBetween: 24},
			ScoreDropPoints:          15.0,
			ScoreDropDays:            3,
			ScoreDrop:                RuleLimit{MaxPerDay: 2, MinHoursBetween: 8},
			SustainedRisingRequired:  4,
			SustainedRisingWindow:    5,
			SustainedRising:          RuleLimit{MaxPerDay: 1, MinHoursBetween: 12},
			IrregularTransitions:     4,
			IrregularWindow:          7,
			IrregularPattern:         RuleLimit{MaxPerDay: 1, MinHoursBetween: 24},
		},
	}
}
