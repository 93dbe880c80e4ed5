// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	service "github.com/beewell/momentum/internal/app"
	"github.com/beewell/momentum/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// SeenAndRecord atomically checks and records an event id.
	SeenAndRecord(ctx context.Context, id string) bool
	// Unrecord releases an event id after a failed enqueue.
	Unrecord(ctx context.Context, id string)

	// Enqueue pushes an event for async processing. Returns false on backpressure.
	Enqueue(ctx context.Context, e model.Event) bool

	// Evaluate recomputes one user's momentum synchronously.
	Evaluate(ctx context.Context, userID string, asOf time.Time) (model.ScoreSnapshot, []model.InterventionRecord, error)

	// Sweep evaluates every known user.
	Sweep(ctx context.Context, asOf time.Time) (service.SweepSummary, error)

	// Backfill fills missing daily snapshots.
	Backfill(ctx context.Context, asOf time.Time, days int, dryRun bool) (service.BackfillSummary, error)

	// Read operations expose momentum data.
	Momentum(ctx context.Context, userID string) (model.ScoreSnapshot, error)
	History(ctx context.Context, userID string, days int) ([]model.ScoreSnapshot, error)
	Interventions(ctx context.Context, userID string, n int) ([]model.InterventionRecord, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler        *HealthHandler
	statsHandler         *StatsHandler
	eventsHandler        *EventsHandler
	evaluateHandler      *EvaluateHandler
	sweepHandler         *SweepHandler
	backfillHandler      *BackfillHandler
	momentumHandler      *MomentumHandler
	interventionsHandler *InterventionsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:        NewHealthHandler(),
		statsHandler:         NewStatsHandler(statsProvider),
		eventsHandler:        NewEventsHandler(deps),
		evaluateHandler:      NewEvaluateHandler(deps),
		sweepHandler:         NewSweepHandler(deps),
		backfillHandler:      NewBackfillHandler(deps),
		momentumHandler:      NewMomentumHandler(deps),
		interventionsHandler: NewInterventionsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	// Specific paths first (most specific to least specific)
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/events", MetricsMiddleware(s.eventsHandler.HandlePostEvent, "events"))
	mux.HandleFunc("/evaluate", MetricsMiddleware(s.evaluateHandler.HandlePostEvaluate, "evaluate"))
	mux.HandleFunc("/sweep", MetricsMiddleware(s.sweepHandler.HandlePostSweep, "sweep"))
	mux.HandleFunc("/backfill", MetricsMiddleware(s.backfillHandler.HandlePostBackfill, "backfill"))
	mux.HandleFunc("/momentum/", MetricsMiddleware(s.momentumHandler.HandleGetMomentum, "momentum"))
	mux.HandleFunc("/interventions/", MetricsMiddleware(s.interventionsHandler.HandleGetInterventions, "interventions"))
}

// eventRequest mirrors the JSON schema for POST /events.
type eventRequest struct {
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
	Type    string `json:"type"`
	TS      string `json:"ts"`
}

func (e eventRequest) validate() error {
	switch {
	case strings.TrimSpace(e.EventID) == "":
		return errors.New("missing event_id")
	case strings.TrimSpace(e.UserID) == "":
		return errors.New("missing user_id")
	case strings.TrimSpace(e.Type) == "":
		return errors.New("missing type")
	case strings.TrimSpace(e.TS) == "":
		return errors.New("missing ts")
	}
	if _, err := time.Parse(time.RFC3339, e.TS); err != nil {
		return errors.New("invalid ts; must be RFC3339")
	}
	return nil
}

func (e eventRequest) toModel() model.Event {
	ts, _ := time.Parse(time.RFC3339, e.TS)
	return model.Event{
		EventID: e.EventID,
		UserID:  e.UserID,
		Type:    e.Type,
		TS:      ts.UTC(),
	}
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// parseAsOf reads an optional RFC3339 "as_of" value, defaulting to now.
func parseAsOf(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("invalid as_of; must be RFC3339")
	}
	return t.UTC(), nil
}

// userIDFromPath extracts the trailing path segment after prefix, e.g.
// /momentum/{user_id}.
func userIDFromPath(path, prefix string) (string, bool) {
	id := strings.TrimPrefix(path, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
