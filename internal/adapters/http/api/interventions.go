// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/beewell/momentum/internal/domain/model"
)

// maxInterventionLimit caps the ?limit query.
const maxInterventionLimit = 100

// InterventionDependencies defines the interface for intervention reads.
type InterventionDependencies interface {
	Interventions(ctx context.Context, userID string, n int) ([]model.InterventionRecord, error)
}

// InterventionsHandler handles intervention read requests.
type InterventionsHandler struct {
	deps InterventionDependencies
}

// NewInterventionsHandler creates a new interventions handler.
func NewInterventionsHandler(deps InterventionDependencies) *InterventionsHandler {
	return &InterventionsHandler{deps: deps}
}

type interventionsResponse struct {
	UserID        string                     `json:"user_id"`
	Interventions []model.InterventionRecord `json:"interventions"`
}

// HandleGetInterventions handles GET /interventions/{user_id}?limit=N requests.
func (h *InterventionsHandler) HandleGetInterventions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	userID, ok := userIDFromPath(r.URL.Path, "/interventions/")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 || n > maxInterventionLimit {
			writeError(w, http.StatusBadRequest, "bad_request", errors.New("limit must be 1..100"))
			return
		}
		limit = n
	}

	recs, err := h.deps.Interventions(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	if recs == nil {
		recs = []model.InterventionRecord{}
	}
	writeJSON(w, http.StatusOK, interventionsResponse{UserID: userID, Interventions: recs})
}
