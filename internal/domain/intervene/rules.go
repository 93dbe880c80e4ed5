// Package intervene evaluates support rules against a user's recent
// state/score history and emits rate-limited intervention decisions.
package intervene

import (
	"time"

	"github.com/beewell/momentum/internal/domain/model"
)

// Rule names double as the reason codes on emitted records.
const (
	RuleConsecutiveNeedsCare = "consecutive_needs_care"
	RuleScoreDrop            = "score_drop"
	RuleSustainedRising      = "sustained_rising"
	RuleIrregularPattern     = "irregular_pattern"
)

// Default rule parameters.
const (
	defaultNeedsCareDays   = 2
	defaultScoreDropPoints = 15.0
	defaultScoreDropDays   = 3
	defaultRisingRequired  = 4
	defaultRisingWindow    = 5
	defaultIrregularTrans  = 4
	defaultIrregularWindow = 7
)

// History is a user's recent snapshots, most recent first. Index 0 is
// today's snapshot (the one just computed).
type History []model.ScoreSnapshot

// RateLimit caps how often a rule's intervention type may fire for one
// user.
type RateLimit struct {
	MaxPerDay  int
	MinBetween time.Duration
}

// Rule couples a predicate over history with the intervention it emits
// and its rate limit. Rules are plain data so new ones can be added
// without touching the evaluation loop.
type Rule struct {
	Name      string
	Type      model.InterventionType
	Priority  model.Priority
	Limit     RateLimit
	Predicate func(h History) bool
}

// RuleParams carries the tunable thresholds for the built-in rule set.
type RuleParams struct {
	NeedsCareDays        int     // consecutive NeedsCare days for coach outreach
	ScoreDropPoints      float64 // minimum fall to count as a drop
	ScoreDropDays        int     // window for the drop, in daily snapshots
	RisingRequired       int     // Rising days required within the window
	RisingWindow         int
	IrregularTransitions int // state changes beyond which a week is irregular
	IrregularWindow      int

	CoachLimit       RateLimit
	SupportiveLimit  RateLimit
	CelebrationLimit RateLimit
	ConsistencyLimit RateLimit
}

// DefaultRuleParams returns the stock rule tuning.
func DefaultRuleParams() RuleParams {
	return RuleParams{
		NeedsCareDays:        defaultNeedsCareDays,
		ScoreDropPoints:      defaultScoreDropPoints,
		ScoreDropDays:        defaultScoreDropDays,
		RisingRequired:       defaultRisingRequired,
		RisingWindow:         defaultRisingWindow,
		IrregularTransitions: defaultIrregularTrans,
		IrregularWindow:      defaultIrregularWindow,
		CoachLimit:           RateLimit{MaxPerDay: 1, MinBetween: 24 * time.Hour},
		SupportiveLimit:      RateLimit{MaxPerDay: 2, MinBetween: 8 * time.Hour},
		CelebrationLimit:     RateLimit{MaxPerDay: 1, MinBetween: 12 * time.Hour},
		ConsistencyLimit:     RateLimit{MaxPerDay: 1, MinBetween: 24 * time.Hour},
	}
}

// DefaultRules builds the four stock rules from params.
func DefaultRules(p RuleParams) []Rule {
	return []Rule{
		{
			Name:      RuleConsecutiveNeedsCare,
			Type:      model.InterventionCoach,
			Priority:  model.PriorityHigh,
			Limit:     p.CoachLimit,
			Predicate: consecutiveNeedsCare(p.NeedsCareDays),
		},
		{
			Name:      RuleScoreDrop,
			Type:      model.InterventionSupportive,
			Priority:  model.PriorityMedium,
			Limit:     p.SupportiveLimit,
			Predicate: scoreDrop(p.ScoreDropPoints, p.ScoreDropDays),
		},
		{
			Name:      RuleSustainedRising,
			Type:      model.InterventionCelebration,
			Priority:  model.PriorityLow,
			Limit:     p.CelebrationLimit,
			Predicate: sustainedRising(p.RisingRequired, p.RisingWindow),
		},
		{
			Name:      RuleIrregularPattern,
			Type:      model.InterventionConsistency,
			Priority:  model.PriorityLow,
			Limit:     p.ConsistencyLimit,
			Predicate: irregularPattern(p.IrregularTransitions, p.IrregularWindow),
		},
	}
}

// consecutiveNeedsCare fires when the last `days` snapshots are all
// NeedsCare.
func consecutiveNeedsCare(days int) func(History) bool {
	return func(h History) bool {
		if len(h) < days {
			return false
		}
		for _, snap := range h[:days] {
			if snap.State != model.StateNeedsCare {
				return false
			}
		}
		return true
	}
}

// scoreDrop fires when the final score fell at least `points` between
// the oldest and newest snapshot of the trailing `days` window.
func scoreDrop(points float64, days int) func(History) bool {
	return func(h History) bool {
		if len(h) < days {
			return false
		}
		return h[days-1].FinalScore-h[0].FinalScore >= points
	}
}

// sustainedRising fires when today is Rising and at least `required` of
// the last `window` days are Rising.
func sustainedRising(required, window int) func(History) bool {
	return func(h History) bool {
		if len(h) == 0 || h[0].State != model.StateRising {
			return false
		}
		if len(h) < window {
			return false
		}
		rising := 0
		for _, snap := range h[:window] {
			if snap.State == model.StateRising {
				rising++
			}
		}
		return rising >= required
	}
}

// irregularPattern fires when the state changed more than `transitions`
// times within the trailing `window` days.
func irregularPattern(transitions, window int) func(History) bool {
	return func(h History) bool {
		if len(h) < 2 {
			return false
		}
		n := len(h)
		if n > window {
			n = window
		}
		changes := 0
		for i := 0; i < n-1; i++ {
			if h[i].State != h[i+1].State {
				changes++
			}
		}
		return changes > transitions
	}
}
