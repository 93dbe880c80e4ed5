// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	service "github.com/beewell/momentum/internal/app"
)

// BackfillDependencies defines the interface for history backfills.
type BackfillDependencies interface {
	Backfill(ctx context.Context, asOf time.Time, days int, dryRun bool) (service.BackfillSummary, error)
}

// BackfillHandler handles backfill requests.
type BackfillHandler struct {
	deps BackfillDependencies
}

// NewBackfillHandler creates a new backfill handler.
func NewBackfillHandler(deps BackfillDependencies) *BackfillHandler {
	return &BackfillHandler{deps: deps}
}

type backfillRequest struct {
	AsOf   string `json:"as_of,omitempty"`
	Days   int    `json:"days,omitempty"`
	DryRun bool   `json:"dry_run,omitempty"`
}

// HandlePostBackfill handles POST /backfill requests.
func (h *BackfillHandler) HandlePostBackfill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req backfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	asOf, err := parseAsOf(req.AsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	summary, err := h.deps.Backfill(r.Context(), asOf, req.Days, req.DryRun)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
