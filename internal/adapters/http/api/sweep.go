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

// SweepDependencies defines the interface for batch evaluation.
type SweepDependencies interface {
	Sweep(ctx context.Context, asOf time.Time) (service.SweepSummary, error)
}

// SweepHandler handles batch sweep requests.
type SweepHandler struct {
	deps SweepDependencies
}

// NewSweepHandler creates a new sweep handler.
func NewSweepHandler(deps SweepDependencies) *SweepHandler {
	return &SweepHandler{deps: deps}
}

type sweepRequest struct {
	AsOf string `json:"as_of,omitempty"`
}

// HandlePostSweep handles POST /sweep requests. The body is optional;
// an empty body sweeps as of now.
func (h *SweepHandler) HandlePostSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req sweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	asOf, err := parseAsOf(req.AsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	summary, err := h.deps.Sweep(r.Context(), asOf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
