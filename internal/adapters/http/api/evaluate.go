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

// EvaluateDependencies defines the interface for synchronous evaluation.
type EvaluateDependencies interface {
	Evaluate(ctx context.Context, userID string, asOf time.Time) (model.ScoreSnapshot, []model.InterventionRecord, error)
}

// EvaluateHandler handles on-demand evaluation requests.
type EvaluateHandler struct {
	deps EvaluateDependencies
}

// NewEvaluateHandler creates a new evaluate handler.
func NewEvaluateHandler(deps EvaluateDependencies) *EvaluateHandler {
	return &EvaluateHandler{deps: deps}
}

type evaluateRequest struct {
	UserID string `json:"user_id"`
	AsOf   string `json:"as_of,omitempty"`
}

type evaluateResponse struct {
	Snapshot      model.ScoreSnapshot        `json:"snapshot"`
	Interventions []model.InterventionRecord `json:"interventions"`
}

// HandlePostEvaluate handles POST /evaluate requests.
func (h *EvaluateHandler) HandlePostEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", errors.New("missing user_id"))
		return
	}
	asOf, err := parseAsOf(req.AsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	snap, recs, err := h.deps.Evaluate(r.Context(), req.UserID, asOf)
	if err != nil {
		if errors.Is(err, service.ErrStaleEvaluation) {
			writeError(w, http.StatusConflict, "stale_evaluation", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	if recs == nil {
		recs = []model.InterventionRecord{}
	}
	writeJSON(w, http.StatusOK, evaluateResponse{Snapshot: snap, Interventions: recs})
}
