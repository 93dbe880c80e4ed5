// Package scoring converts a user's recent engagement events into a raw
// momentum score and compresses it into the 0-100 display range.
package scoring

import (
	"math"
	"time"

	"github.com/beewell/momentum/internal/domain/model"
)

// Default calculator configuration constants.
const (
	defaultHalfLifeDays = 10.0
	defaultLookbackDays = 30
	defaultEventWeight  = 1.0
	hoursPerDay         = 24.0
)

// Option applies a configuration option to the Calculator.
type Option func(*Calculator)

// WithHalfLife sets the decay half-life in days.
func WithHalfLife(days float64) Option {
	return func(c *Calculator) {
		if days > 0 {
			c.halfLifeDays = days
		}
	}
}

// WithLookback sets the event lookback window in days.
func WithLookback(days int) Option {
	return func(c *Calculator) {
		if days > 0 {
			c.lookbackDays = days
		}
	}
}

// WithWeights sets per-event-type weights from configuration.
func WithWeights(weights map[string]float64, defaultWeight float64) Option {
	return func(c *Calculator) {
		// Copy the weights map to avoid external modifications.
		c.weights = make(map[string]float64, len(weights))
		for eventType, weight := range weights {
			c.weights[eventType] = weight
		}
		if defaultWeight != 0 {
			c.defaultWeight = defaultWeight
		}
	}
}

// Calculator computes the raw momentum score: a weighted sum of events
// where each contribution halves every half-life days.
type Calculator struct {
	halfLifeDays  float64
	lookbackDays  int
	weights       map[string]float64
	defaultWeight float64
}

// NewCalculator creates a Calculator with configuration options.
func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{
		halfLifeDays:  defaultHalfLifeDays,
		lookbackDays:  defaultLookbackDays,
		weights:       make(map[string]float64),
		defaultWeight: defaultEventWeight,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookback returns the configured lookback window.
func (c *Calculator) Lookback() time.Duration {
	return time.Duration(c.lookbackDays) * 24 * time.Hour
}

// RawScore sums weighted, time-decayed contributions of events relative
// to asOf. Future-dated events are ignored, not errors: clock skew and
// anomalous input must never fail a calculation. Unknown event types
// contribute the default weight. O(n) in event count.
func (c *Calculator) RawScore(asOf time.Time, events []model.Event) float64 {
	lookback := c.Lookback()
	var raw float64
	for i := range events {
		age := asOf.Sub(events[i].TS)
		if age < 0 || age > lookback {
			continue
		}
		daysAgo := age.Hours() / hoursPerDay
		raw += c.weight(events[i].Type) * c.Decay(daysAgo)
	}
	return raw
}

// Decay returns the contribution multiplier for an event daysAgo old:
// 0.5^(daysAgo/halfLife). Strictly decreasing in daysAgo.
func (c *Calculator) Decay(daysAgo float64) float64 {
	return math.Pow(0.5, daysAgo/c.halfLifeDays)
}

func (c *Calculator) weight(eventType string) float64 {
	if w, ok := c.weights[eventType]; ok {
		return w
	}
	return c.defaultWeight
}
