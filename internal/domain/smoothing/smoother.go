// Package smoothing damps day-to-day noise in normalized scores with a
// short weighted moving average over prior final scores.
package smoothing

// Default smoothing taps. A fixed 3-tap FIR filter: enough damping to
// stop single-day spikes from flipping states, without excessive lag.
var (
	defaultTwoTap   = [2]float64{0.7, 0.3}      // today, yesterday
	defaultThreeTap = [3]float64{0.5, 0.3, 0.2} // today, yesterday, two days ago
)

// Option applies a configuration option to the Smoother.
type Option func(*Smoother)

// WithTwoTap sets the blend used when exactly one prior score exists.
func WithTwoTap(today, prev float64) Option {
	return func(s *Smoother) {
		if today > 0 && prev >= 0 {
			s.twoTap = [2]float64{today, prev}
		}
	}
}

// WithThreeTap sets the blend used when two or more prior scores exist.
func WithThreeTap(today, prev1, prev2 float64) Option {
	return func(s *Smoother) {
		if today > 0 && prev1 >= 0 && prev2 >= 0 {
			s.threeTap = [3]float64{today, prev1, prev2}
		}
	}
}

// Smoother blends today's normalized score with up to two prior days'
// final scores. Pure and deterministic; degrades to a passthrough when
// no history exists.
type Smoother struct {
	twoTap   [2]float64
	threeTap [3]float64
}

// NewSmoother creates a Smoother with configuration options.
func NewSmoother(opts ...Option) *Smoother {
	s := &Smoother{
		twoTap:   defaultTwoTap,
		threeTap: defaultThreeTap,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Smooth computes today's final score from the normalized score and the
// prior final scores, most recent first. Only the first two prior scores
// are consulted.
func (s *Smoother) Smooth(normalized float64, prior []float64) float64 {
	switch {
	case len(prior) == 0:
		return normalized
	case len(prior) == 1:
		return s.twoTap[0]*normalized + s.twoTap[1]*prior[0]
	default:
		return s.threeTap[0]*normalized + s.threeTap[1]*prior[0] + s.threeTap[2]*prior[1]
	}
}
