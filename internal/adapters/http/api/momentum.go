// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/beewell/momentum/internal/adapters/repository"
	"github.com/beewell/momentum/internal/domain/model"
)

// maxHistoryDays caps the ?days query to keep responses bounded.
const maxHistoryDays = 90

// MomentumDependencies defines the interface for momentum reads.
type MomentumDependencies interface {
	Momentum(ctx context.Context, userID string) (model.ScoreSnapshot, error)
	History(ctx context.Context, userID string, days int) ([]model.ScoreSnapshot, error)
}

// MomentumHandler handles momentum read requests.
type MomentumHandler struct {
	deps MomentumDependencies
}

// NewMomentumHandler creates a new momentum handler.
func NewMomentumHandler(deps MomentumDependencies) *MomentumHandler {
	return &MomentumHandler{deps: deps}
}

type historyResponse struct {
	UserID    string                `json:"user_id"`
	Snapshots []model.ScoreSnapshot `json:"snapshots"`
}

// HandleGetMomentum handles GET /momentum/{user_id} requests. With
// ?days=N it returns the user's recent daily history instead of just
// the latest snapshot.
func (h *MomentumHandler) HandleGetMomentum(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	userID, ok := userIDFromPath(r.URL.Path, "/momentum/")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		days, err := strconv.Atoi(daysStr)
		if err != nil || days < 1 || days > maxHistoryDays {
			writeError(w, http.StatusBadRequest, "bad_request", errors.New("days must be 1..90"))
			return
		}
		snaps, err := h.deps.History(r.Context(), userID, days)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err)
			return
		}
		if snaps == nil {
			snaps = []model.ScoreSnapshot{}
		}
		writeJSON(w, http.StatusOK, historyResponse{UserID: userID, Snapshots: snaps})
		return
	}

	snap, err := h.deps.Momentum(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
