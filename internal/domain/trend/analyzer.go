// Package trend estimates the short-term direction of a user's momentum
// from recent final scores via an ordinary least-squares slope.
package trend

import (
	"math"

	"github.com/beewell/momentum/internal/domain/model"
)

// Default analyzer configuration constants.
const (
	defaultSlopeCutoff        = 2.0  // points/day beyond which a trend is rising or declining
	defaultRisingThreshold    = 70.0 // mirrored from classification for confidence distance
	defaultNeedsCareThreshold = 45.0
	defaultDistanceScale      = 25.0 // score distance from a threshold that maps to full confidence
	defaultVolatilityScale    = 10.0 // mean day-to-day swing that maps to zero confidence
	neutralConfidence         = 0.5
	minTrendPoints            = 2
)

// Option applies a configuration option to the Analyzer.
type Option func(*Analyzer)

// WithSlopeCutoff sets the slope magnitude separating stable from
// rising/declining.
func WithSlopeCutoff(cutoff float64) Option {
	return func(a *Analyzer) {
		if cutoff > 0 {
			a.slopeCutoff = cutoff
		}
	}
}

// WithThresholds sets the classification thresholds used by the
// confidence distance term.
func WithThresholds(rising, needsCare float64) Option {
	return func(a *Analyzer) {
		if rising > needsCare {
			a.risingThreshold = rising
			a.needsCareThreshold = needsCare
		}
	}
}

// WithConfidenceScales tunes the confidence blend: distance is the score
// gap from the nearest threshold mapping to full confidence, volatility
// is the mean day-to-day swing mapping to zero confidence.
func WithConfidenceScales(distance, volatility float64) Option {
	return func(a *Analyzer) {
		if distance > 0 {
			a.distanceScale = distance
		}
		if volatility > 0 {
			a.volatilityScale = volatility
		}
	}
}

// Analyzer fits a linear trend to recent final scores.
type Analyzer struct {
	slopeCutoff        float64
	risingThreshold    float64
	needsCareThreshold float64
	distanceScale      float64
	volatilityScale    float64
}

// NewAnalyzer creates an Analyzer with configuration options.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{
		slopeCutoff:        defaultSlopeCutoff,
		risingThreshold:    defaultRisingThreshold,
		needsCareThreshold: defaultNeedsCareThreshold,
		distanceScale:      defaultDistanceScale,
		volatilityScale:    defaultVolatilityScale,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze computes the OLS slope over the given final scores, most
// recent first, in score points per day. Fewer than two points degrades
// to a neutral stable trend rather than failing: sparse history is a
// normal condition for new users.
func (a *Analyzer) Analyze(scores []float64) model.Trend {
	n := len(scores)
	if n < minTrendPoints {
		return model.NeutralTrend()
	}

	// Fit chronologically so an improving user yields a positive slope:
	// x = 0 for the oldest point, n-1 for the most recent.
	var sumX, sumY, sumXY, sumXX float64
	for i, score := range scores {
		x := float64(n - 1 - i)
		sumX += x
		sumY += score
		sumXY += x * score
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return model.NeutralTrend()
	}
	slope := (fn*sumXY - sumX*sumY) / denom

	direction := model.TrendStable
	switch {
	case slope > a.slopeCutoff:
		direction = model.TrendRising
	case slope < -a.slopeCutoff:
		direction = model.TrendDeclining
	}

	return model.Trend{
		Direction:  direction,
		Slope:      slope,
		Confidence: a.confidence(scores),
	}
}

// confidence blends two [0,1] terms: distance of the current score from
// the nearest classification threshold (farther = more confident) and
// inverse volatility of the recent scores (steadier = more confident).
func (a *Analyzer) confidence(scores []float64) float64 {
	current := scores[0]
	dist := math.Min(
		math.Abs(current-a.risingThreshold),
		math.Abs(current-a.needsCareThreshold),
	)
	distTerm := math.Min(1, dist/a.distanceScale)

	volTerm := 1.0
	if len(scores) > 1 {
		var swings float64
		for i := 0; i < len(scores)-1; i++ {
			swings += math.Abs(scores[i] - scores[i+1])
		}
		vol := swings / float64(len(scores)-1)
		volTerm = 1 - math.Min(1, vol/a.volatilityScale)
	}

	return (distTerm + volTerm) / 2
}
