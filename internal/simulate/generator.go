package simulate

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/beewell/momentum/pkg/logger"
)

// user couples a generated id with its persona for later verification.
type user struct {
	ID      string
	Persona Persona
}

// generateUsers creates UsersPerMode users for each persona.
func generateUsers(config *Config) []user {
	var users []user
	for _, p := range AllPersonas() {
		for i := 0; i < config.UsersPerMode; i++ {
			users = append(users, user{ID: uuid.New().String(), Persona: p})
		}
	}
	return users
}

// generateEvents fabricates each user's event history over the trailing
// HistoryDays, following the user's persona.
func generateEvents(ctx context.Context, config *Config, users []user, now time.Time, stats *Stats) []Event {
	logger.Get().Info(ctx, "generating persona event histories",
		logger.Int("users", len(users)),
		logger.Int("historyDays", config.HistoryDays),
	)

	var events []Event
	for _, u := range users {
		for daysAgo := config.HistoryDays; daysAgo >= 0; daysAgo-- {
			day := now.AddDate(0, 0, -daysAgo)
			for i, eventType := range u.Persona.dailyEventTypes(daysAgo, config.HistoryDays) {
				// Spread events across the day so timestamps stay unique.
				ts := day.Add(time.Duration(9+i) * time.Hour)
				events = append(events, Event{
					EventID: u.ID + "_" + strconv.Itoa(daysAgo) + "_" + strconv.Itoa(i),
					UserID:  u.ID,
					Type:    eventType,
					TS:      ts.UTC().Format(time.RFC3339),
				})
			}
		}
	}

	stats.UsersSimulated = len(users)
	stats.EventsGenerated = len(events)
	logger.Get().Info(ctx, "generated events", logger.Int("count", len(events)))
	return events
}
