package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/beewell/momentum/internal/domain/intervene"
	"github.com/beewell/momentum/internal/domain/model"
	"github.com/beewell/momentum/pkg/metrics"
)

// timeLayout is how instants are stored in SQLite text columns. The
// fractional part is fixed-width so lexicographic comparison in SQL
// matches chronological order; RFC3339Nano trims trailing zeros and
// would mis-sort sub-second neighbors.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store on a single SQLite database file. The
// pure-Go driver keeps the binary cgo-free.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path, configures
// pragmas, and runs the schema migration.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	return openSQLite(path)
}

// OpenSQLiteMemory opens an in-memory database, for tests.
func OpenSQLiteMemory() (*SQLiteStore, error) {
	return openSQLite(":memory:")
}

func openSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The modernc driver serializes access per connection; a single
	// connection also makes :memory: behave like a shared database.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.configurePragmas(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS engagement_events (
	event_id   TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	event_type TEXT NOT NULL,
	ts         TEXT NOT NULL,
	PRIMARY KEY (event_id)
);
CREATE INDEX IF NOT EXISTS idx_events_user_ts ON engagement_events(user_id, ts);

CREATE TABLE IF NOT EXISTS momentum_snapshots (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id           TEXT NOT NULL,
	date              TEXT NOT NULL,
	raw_score         REAL NOT NULL,
	normalized_score  REAL NOT NULL,
	final_score       REAL NOT NULL,
	state             TEXT NOT NULL,
	trend_direction   TEXT NOT NULL,
	trend_slope       REAL NOT NULL,
	trend_confidence  REAL NOT NULL,
	events_count      INTEGER NOT NULL,
	algorithm_version TEXT NOT NULL,
	created_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_user_date ON momentum_snapshots(user_id, date, id);

CREATE TABLE IF NOT EXISTS interventions (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	type        TEXT NOT NULL,
	priority    TEXT NOT NULL,
	reason      TEXT NOT NULL,
	title       TEXT NOT NULL,
	message     TEXT NOT NULL,
	action_type TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interventions_user ON interventions(user_id, created_at);

CREATE TABLE IF NOT EXISTS rate_limits (
	user_id           TEXT NOT NULL,
	type              TEXT NOT NULL,
	last_triggered_at TEXT NOT NULL,
	count_today       INTEGER NOT NULL,
	day               TEXT NOT NULL,
	prev_triggered_at TEXT NOT NULL DEFAULT '',
	prev_count        INTEGER NOT NULL DEFAULT 0,
	prev_day          TEXT NOT NULL DEFAULT '',
	had_prev          INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, type)
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// AppendEvent persists an engagement event. Replaying the same event ID
// is a no-op, which keeps retries idempotent.
func (s *SQLiteStore) AppendEvent(ctx context.Context, e model.Event) error {
	start := time.Now()
	defer func() { metrics.RecordStoreWriteLatency(float64(time.Since(start).Milliseconds())) }()

	if e.UserID == "" || e.EventID == "" {
		return ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO engagement_events (event_id, user_id, event_type, ts)
		 VALUES (?, ?, ?, ?) ON CONFLICT(event_id) DO NOTHING`,
		e.EventID, e.UserID, e.Type, e.TS.UTC().Format(timeLayout),
	)
	if err != nil {
		metrics.RecordStoreError()
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// EventsSince returns a user's events with TS >= since, chronological.
func (s *SQLiteStore) EventsSince(ctx context.Context, userID string, since time.Time) ([]model.Event, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds())) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, user_id, event_type, ts FROM engagement_events
		 WHERE user_id = ? AND ts >= ? ORDER BY ts ASC`,
		userID, since.UTC().Format(timeLayout),
	)
	if err != nil {
		metrics.RecordStoreError()
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var e model.Event
		var ts string
		if err := rows.Scan(&e.EventID, &e.UserID, &e.Type, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if e.TS, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("parse event ts: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// AppendSnapshot appends a daily score snapshot.
func (s *SQLiteStore) AppendSnapshot(ctx context.Context, snap model.ScoreSnapshot) error {
	start := time.Now()
	defer func() { metrics.RecordStoreWriteLatency(float64(time.Since(start).Milliseconds())) }()

	if snap.UserID == "" || snap.Date == "" {
		return ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO momentum_snapshots
		 (user_id, date, raw_score, normalized_score, final_score, state,
		  trend_direction, trend_slope, trend_confidence, events_count,
		  algorithm_version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.UserID, snap.Date, snap.RawScore, snap.NormalizedScore,
		snap.FinalScore, string(snap.State), string(snap.Trend.Direction),
		snap.Trend.Slope, snap.Trend.Confidence, snap.EventsCount,
		snap.AlgorithmVersion, snap.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		metrics.RecordStoreError()
		return fmt.Errorf("append snapshot: %w", err)
	}
	return nil
}

// RecentSnapshots returns up to n snapshots for distinct dates, most
// recent date first, latest row per date.
func (s *SQLiteStore) RecentSnapshots(ctx context.Context, userID string, n int) ([]model.ScoreSnapshot, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds())) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, date, raw_score, normalized_score, final_score, state,
		        trend_direction, trend_slope, trend_confidence, events_count,
		        algorithm_version, created_at
		 FROM momentum_snapshots
		 WHERE id IN (
		   SELECT MAX(id) FROM momentum_snapshots WHERE user_id = ? GROUP BY date
		 )
		 ORDER BY date DESC LIMIT ?`,
		userID, n,
	)
	if err != nil {
		metrics.RecordStoreError()
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.ScoreSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// LatestSnapshot returns the newest snapshot for a user.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context, userID string) (model.ScoreSnapshot, error) {
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
func (s *SQLiteStore) HasSnapshot(ctx context.Context, userID, date string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM momentum_snapshots WHERE user_id = ? AND date = ? LIMIT 1`,
		userID, date,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		metrics.RecordStoreError()
		return false, fmt.Errorf("query snapshot existence: %w", err)
	}
	return true, nil
}

// AppendIntervention persists an emitted intervention record.
func (s *SQLiteStore) AppendIntervention(ctx context.Context, rec model.InterventionRecord) error {
	start := time.Now()
	defer func() { metrics.RecordStoreWriteLatency(float64(time.Since(start).Milliseconds())) }()

	if rec.UserID == "" || rec.ID == "" {
		return ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interventions
		 (id, user_id, type, priority, reason, title, message, action_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, string(rec.Type), string(rec.Priority), rec.Reason,
		rec.Title, rec.Message, rec.ActionType, rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		metrics.RecordStoreError()
		return fmt.Errorf("append intervention: %w", err)
	}
	return nil
}

// RecentInterventions returns up to n interventions, most recent first.
func (s *SQLiteStore) RecentInterventions(ctx context.Context, userID string, n int) ([]model.InterventionRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds())) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, type, priority, reason, title, message, action_type, created_at
		 FROM interventions WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, n,
	)
	if err != nil {
		metrics.RecordStoreError()
		return nil, fmt.Errorf("query interventions: %w", err)
	}
	defer rows.Close()

	var out []model.InterventionRecord
	for rows.Next() {
		var rec model.InterventionRecord
		var itype, priority, createdAt string
		if err := rows.Scan(&rec.ID, &rec.UserID, &itype, &priority, &rec.Reason,
			&rec.Title, &rec.Message, &rec.ActionType, &createdAt); err != nil {
			return nil, fmt.Errorf("scan intervention: %w", err)
		}
		rec.Type = model.InterventionType(itype)
		rec.Priority = model.Priority(priority)
		if rec.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parse intervention created_at: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interventions: %w", err)
	}
	return out, nil
}

// TryAcquire runs the rate-limit check-and-bump inside one transaction
// so emission bookkeeping cannot double-fire under concurrency.
func (s *SQLiteStore) TryAcquire(ctx context.Context, userID string, t model.InterventionType, now time.Time, limit intervene.RateLimit) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		metrics.RecordStoreError()
		return false, fmt.Errorf("begin rate-limit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var lastTriggered, day string
	var count int
	existed := true
	err = tx.QueryRowContext(ctx,
		`SELECT last_triggered_at, count_today, day FROM rate_limits
		 WHERE user_id = ? AND type = ?`,
		userID, string(t),
	).Scan(&lastTriggered, &count, &day)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		count, day = 0, ""
		existed = false
	case err != nil:
		metrics.RecordStoreError()
		return false, fmt.Errorf("query rate limit: %w", err)
	}

	today := model.DateOf(now)
	effective := count
	if day != today {
		effective = 0
	}
	if limit.MaxPerDay > 0 && effective >= limit.MaxPerDay {
		return false, nil
	}
	if lastTriggered != "" {
		last, perr := time.Parse(timeLayout, lastTriggered)
		if perr == nil && now.Sub(last) < limit.MinBetween {
			return false, nil
		}
	}

	// The pre-acquire row is kept alongside the bump so Release can
	// restore it when the intervention record fails to persist.
	hadPrev := 0
	if existed {
		hadPrev = 1
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO rate_limits
		 (user_id, type, last_triggered_at, count_today, day,
		  prev_triggered_at, prev_count, prev_day, had_prev)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, type) DO UPDATE SET
		   last_triggered_at = excluded.last_triggered_at,
		   count_today = excluded.count_today,
		   day = excluded.day,
		   prev_triggered_at = excluded.prev_triggered_at,
		   prev_count = excluded.prev_count,
		   prev_day = excluded.prev_day,
		   had_prev = excluded.had_prev`,
		userID, string(t), now.UTC().Format(timeLayout), effective+1, today,
		lastTriggered, count, day, hadPrev,
	)
	if err != nil {
		metrics.RecordStoreError()
		return false, fmt.Errorf("update rate limit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		metrics.RecordStoreError()
		return false, fmt.Errorf("commit rate limit: %w", err)
	}
	return true, nil
}

// Release restores the pre-acquire rate-limit row so a retried write
// can take the slot again. A first-ever acquire deletes the row, which
// keeps RateLimit reporting ErrNotFound for rules that never recorded
// an intervention.
func (s *SQLiteStore) Release(ctx context.Context, userID string, t model.InterventionType) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		metrics.RecordStoreError()
		return fmt.Errorf("begin rate-limit release tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prevTriggered, prevDay string
	var prevCount, hadPrev int
	err = tx.QueryRowContext(ctx,
		`SELECT prev_triggered_at, prev_count, prev_day, had_prev FROM rate_limits
		 WHERE user_id = ? AND type = ?`,
		userID, string(t),
	).Scan(&prevTriggered, &prevCount, &prevDay, &hadPrev)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		metrics.RecordStoreError()
		return fmt.Errorf("query rate-limit release: %w", err)
	}

	if hadPrev == 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM rate_limits WHERE user_id = ? AND type = ?`,
			userID, string(t),
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE rate_limits SET
			   last_triggered_at = ?, count_today = ?, day = ?
			 WHERE user_id = ? AND type = ?`,
			prevTriggered, prevCount, prevDay, userID, string(t),
		)
	}
	if err != nil {
		metrics.RecordStoreError()
		return fmt.Errorf("restore rate limit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		metrics.RecordStoreError()
		return fmt.Errorf("commit rate-limit release: %w", err)
	}
	return nil
}

// RateLimit returns the current rate-limit state for inspection.
func (s *SQLiteStore) RateLimit(ctx context.Context, userID string, t model.InterventionType) (model.RateLimitState, error) {
	var st model.RateLimitState
	var lastTriggered string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_triggered_at, count_today, day FROM rate_limits
		 WHERE user_id = ? AND type = ?`,
		userID, string(t),
	).Scan(&lastTriggered, &st.CountToday, &st.Day)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RateLimitState{}, ErrNotFound
	}
	if err != nil {
		metrics.RecordStoreError()
		return model.RateLimitState{}, fmt.Errorf("query rate limit: %w", err)
	}
	st.UserID = userID
	st.Type = t
	if st.LastTriggeredAt, err = time.Parse(timeLayout, lastTriggered); err != nil {
		return model.RateLimitState{}, fmt.Errorf("parse rate limit timestamp: %w", err)
	}
	return st, nil
}

// Users returns the IDs of all users with events or snapshots.
func (s *SQLiteStore) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM engagement_events
		 UNION SELECT user_id FROM momentum_snapshots
		 ORDER BY user_id`,
	)
	if err != nil {
		metrics.RecordStoreError()
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (model.ScoreSnapshot, error) {
	var snap model.ScoreSnapshot
	var state, direction, createdAt string
	err := row.Scan(&snap.UserID, &snap.Date, &snap.RawScore, &snap.NormalizedScore,
		&snap.FinalScore, &state, &direction, &snap.Trend.Slope,
		&snap.Trend.Confidence, &snap.EventsCount, &snap.AlgorithmVersion, &createdAt)
	if err != nil {
		return model.ScoreSnapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}
	snap.State = model.MomentumState(state)
	snap.Trend.Direction = model.TrendDirection(direction)
	if snap.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return model.ScoreSnapshot{}, fmt.Errorf("parse snapshot created_at: %w", err)
	}
	return snap, nil
}
