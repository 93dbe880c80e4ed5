// Package classify maps a smoothed momentum score to one of three
// support states with boundary hysteresis and trend awareness.
package classify

import (
	"github.com/beewell/momentum/internal/domain/model"
)

// Default classification configuration constants.
const (
	defaultRisingThreshold    = 70.0
	defaultNeedsCareThreshold = 45.0
	defaultHysteresisBuffer   = 2.0
	defaultStrongSlope        = 3.0 // slope magnitude that lets a trend pre-empt hysteresis
	defaultOverrideMargin     = 5.0 // score distance to the adjacent threshold for an override
)

// Option applies a configuration option to the Classifier.
type Option func(*Classifier)

// WithThresholds sets the base Rising and NeedsCare thresholds.
func WithThresholds(rising, needsCare float64) Option {
	return func(c *Classifier) {
		if rising > needsCare {
			c.rising = rising
			c.needsCare = needsCare
		}
	}
}

// WithHysteresisBuffer sets how far a score must cross a boundary to
// leave the previous day's state.
func WithHysteresisBuffer(buffer float64) Option {
	return func(c *Classifier) {
		if buffer >= 0 {
			c.buffer = buffer
		}
	}
}

// WithTrendOverride tunes the trend override: strongSlope is the slope
// magnitude required, margin the maximum score distance to the adjacent
// threshold.
func WithTrendOverride(strongSlope, margin float64) Option {
	return func(c *Classifier) {
		if strongSlope > 0 {
			c.strongSlope = strongSlope
		}
		if margin >= 0 {
			c.margin = margin
		}
	}
}

// Classifier implements the three-state machine. The state machine is a
// pure function of (score, previous state, trend); no state is terminal
// because classification is re-evaluated daily.
type Classifier struct {
	rising      float64
	needsCare   float64
	buffer      float64
	strongSlope float64
	margin      float64
}

// NewClassifier creates a Classifier with configuration options.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		rising:      defaultRisingThreshold,
		needsCare:   defaultNeedsCareThreshold,
		buffer:      defaultHysteresisBuffer,
		strongSlope: defaultStrongSlope,
		margin:      defaultOverrideMargin,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify produces today's state from the final score, the previous
// day's state (nil on a user's first calculation), and the trend.
//
// A strongly directional trend near a boundary promotes or demotes the
// base classification one level. That deliberately trades some
// classification stability for responsiveness: a clear trajectory
// pre-empts the lag hysteresis would otherwise impose.
func (c *Classifier) Classify(score float64, prev *model.MomentumState, tr model.Trend) model.MomentumState {
	low, high := c.effectiveThresholds(prev)

	state := model.StateNeedsCare
	switch {
	case score >= high:
		state = model.StateRising
	case score >= low:
		state = model.StateSteady
	}

	return c.applyTrendOverride(state, score, tr)
}

// effectiveThresholds shifts the base thresholds by the hysteresis
// buffer according to the previous state: leaving Rising requires
// falling below rising-buffer, leaving NeedsCare requires climbing
// above needsCare+buffer. A previous Steady state, or none at all,
// leaves the base thresholds unmodified.
func (c *Classifier) effectiveThresholds(prev *model.MomentumState) (low, high float64) {
	low, high = c.needsCare, c.rising
	if prev == nil {
		return low, high
	}
	switch *prev {
	case model.StateRising:
		high = c.rising - c.buffer
	case model.StateNeedsCare:
		low = c.needsCare + c.buffer
	case model.StateSteady:
		// base thresholds apply
	}
	return low, high
}

func (c *Classifier) applyTrendOverride(state model.MomentumState, score float64, tr model.Trend) model.MomentumState {
	strong := tr.Slope > c.strongSlope || tr.Slope < -c.strongSlope
	if !strong {
		return state
	}

	switch tr.Direction {
	case model.TrendRising:
		// Promote one level when the score is already within the margin
		// of the next threshold up.
		switch state {
		case model.StateNeedsCare:
			if score >= c.needsCare-c.margin {
				return model.StateSteady
			}
		case model.StateSteady:
			if score >= c.rising-c.margin {
				return model.StateRising
			}
		case model.StateRising:
			// already at the top
		}
	case model.TrendDeclining:
		// Symmetric demotion near a threshold.
		switch state {
		case model.StateRising:
			if score <= c.rising+c.margin {
				return model.StateSteady
			}
		case model.StateSteady:
			if score <= c.needsCare+c.margin {
				return model.StateNeedsCare
			}
		case model.StateNeedsCare:
			// already at the bottom
		}
	case model.TrendStable:
		// no override
	}
	return state
}
