package simulate

import (
	"crypto/rand"
	"math/big"
)

// Persona names a synthetic engagement pattern.
type Persona string

// Personas cover the state space the engine should separate: sustained
// engagement, a ramp-up, a fade-out, on/off bursts, and silence.
const (
	PersonaSteady   Persona = "steady"
	PersonaSurging  Persona = "surging"
	PersonaFading   Persona = "fading"
	PersonaSporadic Persona = "sporadic"
	PersonaDormant  Persona = "dormant"
)

// AllPersonas lists every persona in a stable order.
func AllPersonas() []Persona {
	return []Persona{PersonaSteady, PersonaSurging, PersonaFading, PersonaSporadic, PersonaDormant}
}

// ExpectedStates returns the momentum states a persona may legitimately
// land in after its history is scored.
func (p Persona) ExpectedStates() []string {
	switch p {
	case PersonaSteady:
		return []string{"Rising", "Steady"}
	case PersonaSurging:
		return []string{"Rising"}
	case PersonaFading:
		return []string{"Steady", "NeedsCare"}
	case PersonaSporadic:
		return []string{"Rising", "Steady", "NeedsCare"}
	case PersonaDormant:
		return []string{"NeedsCare"}
	}
	return nil
}

// dailyEventTypes returns the event types a persona produces on the
// given day, where daysAgo counts back from the simulation instant.
func (p Persona) dailyEventTypes(daysAgo, historyDays int) []string {
	switch p {
	case PersonaSteady:
		// One lesson plus an app open, every day.
		return []string{"app_open", "lesson_complete"}
	case PersonaSurging:
		// Quiet early, intense in the most recent third of the window.
		if daysAgo <= historyDays/3 {
			return []string{"app_open", "lesson_complete", "lesson_complete", "journal_entry"}
		}
		if coin() {
			return []string{"app_open"}
		}
		return nil
	case PersonaFading:
		// Mirror image of surging: engaged early, silent recently.
		if daysAgo > historyDays/3 {
			return []string{"app_open", "lesson_complete", "journal_entry"}
		}
		return nil
	case PersonaSporadic:
		// Roughly every third day, a burst.
		if daysAgo%3 == 0 {
			return []string{"app_open", "lesson_complete", "journal_entry"}
		}
		return nil
	case PersonaDormant:
		return nil
	}
	return nil
}

// coin returns a crypto-random fair coin flip.
func coin() bool {
	n, _ := rand.Int(rand.Reader, big.NewInt(2))
	return n.Int64() == 1
}
