// Package repository defines persistence contracts for the momentum
// engine: the event stream, the append-only snapshot history, emitted
// interventions, and per-user rate-limit state.
package repository

import (
	"context"
	"time"

	"github.com/beewell/momentum/internal/domain/intervene"
	"github.com/beewell/momentum/internal/domain/model"
)

// Store provides read/write access to the engine's persistent state.
// Implementations must keep snapshot history append-only: recomputing a
// date appends a new row, it never edits an existing one.
type Store interface {
	// AppendEvent persists an engagement event.
	AppendEvent(ctx context.Context, e model.Event) error

	// EventsSince returns a user's events with TS >= since, in
	// chronological order.
	EventsSince(ctx context.Context, userID string, since time.Time) ([]model.Event, error)

	// AppendSnapshot appends a daily score snapshot.
	AppendSnapshot(ctx context.Context, snap model.ScoreSnapshot) error

	// RecentSnapshots returns up to n snapshots for distinct dates, most
	// recent date first. When a date was recomputed, only the latest row
	// for that date is returned.
	RecentSnapshots(ctx context.Context, userID string, n int) ([]model.ScoreSnapshot, error)

	// LatestSnapshot returns the newest snapshot for a user.
	// Returns ErrNotFound when the user has no snapshots.
	LatestSnapshot(ctx context.Context, userID string) (model.ScoreSnapshot, error)

	// HasSnapshot reports whether a snapshot exists for a user and date.
	HasSnapshot(ctx context.Context, userID, date string) (bool, error)

	// AppendIntervention persists an emitted intervention record.
	AppendIntervention(ctx context.Context, rec model.InterventionRecord) error

	// RecentInterventions returns up to n interventions for a user, most
	// recent first.
	RecentInterventions(ctx context.Context, userID string, n int) ([]model.InterventionRecord, error)

	// TryAcquire atomically checks and updates rate-limit state for
	// (userID, intervention type). It returns false when the daily cap
	// is reached or the minimum spacing has not elapsed; when it returns
	// true the trigger has been recorded in the same operation.
	TryAcquire(ctx context.Context, userID string, t model.InterventionType, now time.Time, limit intervene.RateLimit) (bool, error)

	// Release undoes the most recent successful TryAcquire for
	// (userID, intervention type), restoring the rate-limit state that
	// preceded it. Callers use it when the intervention record could not
	// be persisted after the slot was taken, so the limit never counts a
	// firing that left no record. Releasing a pair with no outstanding
	// acquire is a no-op.
	Release(ctx context.Context, userID string, t model.InterventionType) error

	// RateLimit returns the current rate-limit state for inspection.
	// Returns ErrNotFound when no rule of that type ever fired.
	RateLimit(ctx context.Context, userID string, t model.InterventionType) (model.RateLimitState, error)

	// Users returns the IDs of all users with at least one event or
	// snapshot, for batch sweeps.
	Users(ctx context.Context) ([]string, error)

	// Close releases any underlying resources.
	Close() error
}
