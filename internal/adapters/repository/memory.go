package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/beewell/momentum/internal/domain/intervene"
	"github.com/beewell/momentum/internal/domain/model"
	"github.com/beewell/momentum/pkg/metrics"
)

// MemoryStore implements Store with mutex-guarded maps. It is the
// default backend for single-process deployments and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	events        map[string][]model.Event
	snapshots     map[string][]model.ScoreSnapshot
	interventions map[string][]model.InterventionRecord
	limits        map[string]limitEntry
	closed        bool
}

// limitEntry holds the live rate-limit state plus the state that
// preceded the last successful acquire, so Release can restore it.
type limitEntry struct {
	cur     model.RateLimitState
	prev    model.RateLimitState
	hadPrev bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:        make(map[string][]model.Event),
		snapshots:     make(map[string][]model.ScoreSnapshot),
		interventions: make(map[string][]model.InterventionRecord),
		limits:        make(map[string]limitEntry),
	}
}

// AppendEvent persists an engagement event.
func (s *MemoryStore) AppendEvent(ctx context.Context, e model.Event) error {
	start := time.Now()
	defer func() { metrics.RecordStoreWriteLatency(float64(time.Since(start).Milliseconds())) }()

	if e.UserID == "" || e.EventID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	events := append(s.events[e.UserID], e)
	// Keep per-user events chronological; ingestion is near-ordered so
	// this is a cheap tail insertion in practice.
	for i := len(events) - 1; i > 0 && events[i].TS.Before(events[i-1].TS); i-- {
		events[i], events[i-1] = events[i-1], events[i]
	}
	s.events[e.UserID] = events
	return nil
}

// EventsSince returns a user's events with TS >= since, chronological.
func (s *MemoryStore) EventsSince(ctx context.Context, userID string, since time.Time) ([]model.Event, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds())) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []model.Event
	for _, e := range s.events[userID] {
		if !e.TS.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// AppendSnapshot appends a daily score snapshot. Existing rows are never
// modified; a recompute of the same date appends a newer row.
func (s *MemoryStore) AppendSnapshot(ctx context.Context, snap model.ScoreSnapshot) error {
	start := time.Now()
	defer func() { metrics.RecordStoreWriteLatency(float64(time.Since(start).Milliseconds())) }()

	if snap.UserID == "" || snap.Date == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.snapshots[snap.UserID] = append(s.snapshots[snap.UserID], snap)
	return nil
}

// RecentSnapshots returns up to n snapshots for distinct dates, most
// recent date first, taking the latest row when a date was recomputed.
func (s *MemoryStore) RecentSnapshots(ctx context.Context, userID string, n int) ([]model.ScoreSnapshot, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds())) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return latestPerDate(s.snapshots[userID], n), nil
}

// LatestSnapshot returns the newest snapshot for a user.
func (s *MemoryStore) LatestSnapshot(ctx context.Context, userID string) (model.ScoreSnapshot, error) {
	recent, err := s.RecentSnapshots(ctx, userID, 1)
	if err != nil {
		return model.ScoreSnapshot{}, err
	}
	if len(recent) == 0 {
		return model.ScoreSnapshot{}, ErrNotFound
	}
	return recent[0], nil
}

// HasSnapshot reports whether a snapshot exists for a user and date.
func (s *MemoryStore) HasSnapshot(ctx context.Context, userID, date string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}
	for i := range s.snapshots[userID] {
		if s.snapshots[userID][i].Date == date {
			return true, nil
		}
	}
	return false, nil
}

// AppendIntervention persists an emitted intervention record.
func (s *MemoryStore) AppendIntervention(ctx context.Context, rec model.InterventionRecord) error {
	start := time.Now()
	defer func() { metrics.RecordStoreWriteLatency(float64(time.Since(start).Milliseconds())) }()

	if rec.UserID == "" || rec.ID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.interventions[rec.UserID] = append(s.interventions[rec.UserID], rec)
	return nil
}

// RecentInterventions returns up to n interventions, most recent first.
func (s *MemoryStore) RecentInterventions(ctx context.Context, userID string, n int) ([]model.InterventionRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds())) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	all := s.interventions[userID]
	var out []model.InterventionRecord
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// TryAcquire atomically checks and updates rate-limit state under the
// store lock, so a rule can never double-fire for one user even under
// concurrent evaluation.
func (s *MemoryStore) TryAcquire(ctx context.Context, userID string, t model.InterventionType, now time.Time, limit intervene.RateLimit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}

	key := userID + "|" + string(t)
	entry, existed := s.limits[key]
	st := entry.cur
	day := model.DateOf(now)
	if st.Day != day {
		st.CountToday = 0
		st.Day = day
	}
	if limit.MaxPerDay > 0 && st.CountToday >= limit.MaxPerDay {
		return false, nil
	}
	if !st.LastTriggeredAt.IsZero() && now.Sub(st.LastTriggeredAt) < limit.MinBetween {
		return false, nil
	}

	st.UserID = userID
	st.Type = t
	st.CountToday++
	st.LastTriggeredAt = now
	s.limits[key] = limitEntry{cur: st, prev: entry.cur, hadPrev: existed}
	return true, nil
}

// Release restores the pre-acquire rate-limit state so a retried write
// can take the slot again. A first-ever acquire leaves nothing behind.
func (s *MemoryStore) Release(ctx context.Context, userID string, t model.InterventionType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	key := userID + "|" + string(t)
	entry, ok := s.limits[key]
	if !ok {
		return nil
	}
	if !entry.hadPrev {
		delete(s.limits, key)
		return nil
	}
	s.limits[key] = limitEntry{cur: entry.prev, prev: entry.prev, hadPrev: true}
	return nil
}

// RateLimit returns the current rate-limit state for inspection.
func (s *MemoryStore) RateLimit(ctx context.Context, userID string, t model.InterventionType) (model.RateLimitState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.RateLimitState{}, ErrClosed
	}
	entry, ok := s.limits[userID+"|"+string(t)]
	if !ok {
		return model.RateLimitState{}, ErrNotFound
	}
	return entry.cur, nil
}

// Users returns the IDs of all users with events or snapshots.
func (s *MemoryStore) Users(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	seen := make(map[string]struct{}, len(s.events)+len(s.snapshots))
	for id := range s.events {
		seen[id] = struct{}{}
	}
	for id := range s.snapshots {
		seen[id] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Close marks the store closed; subsequent operations fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// latestPerDate walks snapshots newest-appended-first and keeps the
// first row seen per date, then orders the result by date descending.
// Dates use a lexicographically sortable layout.
func latestPerDate(all []model.ScoreSnapshot, n int) []model.ScoreSnapshot {
	byDate := make(map[string]model.ScoreSnapshot)
	for i := len(all) - 1; i >= 0; i-- {
		if _, ok := byDate[all[i].Date]; !ok {
			byDate[all[i].Date] = all[i]
		}
	}
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if n > 0 && len(dates) > n {
		dates = dates[:n]
	}
	out := make([]model.ScoreSnapshot, 0, len(dates))
	for _, d := range dates {
		out = append(out, byDate[d])
	}
	return out
}
