package scoring

import "math"

// Default normalizer configuration constants. The midpoint is calibrated
// so a typical moderate month of engagement maps near 50.
const (
	defaultSigmoidMidpoint  = 15.0
	defaultSigmoidSteepness = 0.3
	normalizedCeiling       = 100.0
)

// NormalizerOption applies a configuration option to the Normalizer.
type NormalizerOption func(*Normalizer)

// WithMidpoint sets the raw score that maps to a normalized 50.
func WithMidpoint(midpoint float64) NormalizerOption {
	return func(n *Normalizer) {
		n.midpoint = midpoint
	}
}

// WithSteepness sets the sigmoid steepness k.
func WithSteepness(k float64) NormalizerOption {
	return func(n *Normalizer) {
		if k > 0 {
			n.steepness = k
		}
	}
}

// Normalizer compresses the unbounded raw score into (0, 100) with a
// logistic curve. Pure function of its input; defined for all reals.
type Normalizer struct {
	midpoint  float64
	steepness float64
}

// NewNormalizer creates a Normalizer with configuration options.
func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		midpoint:  defaultSigmoidMidpoint,
		steepness: defaultSigmoidSteepness,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize maps raw to 100/(1+e^(-k*(raw-midpoint))). The result is
// strictly inside (0, 100); the sigmoid never reaches its bounds.
func (n *Normalizer) Normalize(raw float64) float64 {
	return normalizedCeiling / (1 + math.Exp(-n.steepness*(raw-n.midpoint)))
}
