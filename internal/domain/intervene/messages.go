package intervene

// Copy carries the user-facing text attached to an intervention. The
// engine does not deliver messages; downstream systems may use these
// templates directly or select localized copy from the reason code.
type Copy struct {
	Title      string
	Message    string
	ActionType string
}

// defaultCopy maps rule names to their stock notification copy.
var defaultCopy = map[string]Copy{
	RuleConsecutiveNeedsCare: {
		Title:      "Let's grow together!",
		Message:    "We noticed things have been tough lately. Your coach will reach out to help you get back on track.",
		ActionType: "schedule_call",
	},
	RuleScoreDrop: {
		Title:      "You've got this!",
		Message:    "A small step today makes a big difference. Try completing a lesson to rebuild your momentum.",
		ActionType: "complete_lesson",
	},
	RuleSustainedRising: {
		Title:      "You're on fire!",
		Message:    "Amazing work keeping your momentum up all week. Celebrate the streak!",
		ActionType: "view_progress",
	},
	RuleIrregularPattern: {
		Title:      "Consistency is key",
		Message:    "Your engagement has been up and down this week. A small daily habit keeps momentum steady.",
		ActionType: "set_reminder",
	},
}

// CopyFor returns the copy for a rule, falling back to overrides first.
// Unknown rules get empty copy rather than an error; the reason code
// alone is enough for callers that template their own text.
func (e *Engine) CopyFor(rule string) Copy {
	if c, ok := e.copyOverrides[rule]; ok {
		return c
	}
	return defaultCopy[rule]
}
