// Package model contains domain models passed between layers.
package model

import "time"

// DateLayout is the civil-date format used to key daily snapshots.
const DateLayout = "2006-01-02"

// DateOf truncates an instant to its UTC calendar date.
func DateOf(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// Event represents a single engagement event for a user.
// Fields mirror the JSON schema accepted by POST /events.
type Event struct {
	EventID string    // unique id for idempotency
	UserID  string    // subject identifier
	Type    string    // engagement event type, e.g. "lesson_complete"
	TS      time.Time // event timestamp
}

// MomentumState is the daily engagement classification for a user.
type MomentumState string

// Momentum states, in descending order of engagement.
const (
	StateRising    MomentumState = "Rising"
	StateSteady    MomentumState = "Steady"
	StateNeedsCare MomentumState = "NeedsCare"
)

// Valid reports whether s is one of the known momentum states.
func (s MomentumState) Valid() bool {
	switch s {
	case StateRising, StateSteady, StateNeedsCare:
		return true
	}
	return false
}

// TrendDirection describes the short-term movement of a user's score.
type TrendDirection string

// Trend directions.
const (
	TrendRising    TrendDirection = "rising"
	TrendDeclining TrendDirection = "declining"
	TrendStable    TrendDirection = "stable"
)

// Trend is the output of linear-trend estimation over recent scores.
type Trend struct {
	Direction  TrendDirection `json:"direction"`
	Slope      float64        `json:"slope"`      // score points per day, positive = improving
	Confidence float64        `json:"confidence"` // 0..1
}

// NeutralTrend is returned when history is too sparse to estimate a slope.
func NeutralTrend() Trend {
	return Trend{Direction: TrendStable, Slope: 0, Confidence: 0.5}
}

// ScoreSnapshot is one user's momentum evaluation for one calendar date.
// Snapshots are append-only; recomputation appends a new row rather than
// editing an existing one.
type ScoreSnapshot struct {
	UserID           string        `json:"user_id"`
	Date             string        `json:"date"` // DateLayout, UTC
	RawScore         float64       `json:"raw_score"`
	NormalizedScore  float64       `json:"normalized_score"` // 0..100
	FinalScore       float64       `json:"final_score"`      // 0..100, smoothed
	State            MomentumState `json:"state"`
	Trend            Trend         `json:"trend"`
	EventsCount      int           `json:"events_count"`
	AlgorithmVersion string        `json:"algorithm_version"`
	CreatedAt        time.Time     `json:"created_at"`
}

// InterventionType identifies the kind of supportive action a rule emits.
type InterventionType string

// Intervention types.
const (
	InterventionCoach       InterventionType = "coach_intervention"
	InterventionSupportive  InterventionType = "supportive_notification"
	InterventionCelebration InterventionType = "celebration"
	InterventionConsistency InterventionType = "consistency_reminder"
)

// Valid reports whether t is a known intervention type.
func (t InterventionType) Valid() bool {
	switch t {
	case InterventionCoach, InterventionSupportive, InterventionCelebration, InterventionConsistency:
		return true
	}
	return false
}

// Priority orders interventions for downstream delivery systems.
type Priority string

// Priorities.
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// InterventionRecord is an intervention decision emitted by the rule
// engine. Immutable once created; delivery is external.
type InterventionRecord struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	Type       InterventionType `json:"type"`
	Priority   Priority         `json:"priority"`
	Reason     string           `json:"reason"` // rule name that fired
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	ActionType string           `json:"action_type,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// RateLimitState tracks per-user, per-intervention-type trigger bookkeeping.
// CountToday resets when Day rolls over.
type RateLimitState struct {
	UserID          string
	Type            InterventionType
	LastTriggeredAt time.Time
	CountToday      int
	Day             string // DateLayout, UTC
}
