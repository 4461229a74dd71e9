package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/lkaplan/livecomp/internal/reconcile"
	"github.com/lkaplan/livecomp/internal/schedule"
	"github.com/rs/zerolog/log"
)

// SnapshotProvider builds the full division snapshot a viewer loads on
// connect or after missing events.
type SnapshotProvider interface {
	DivisionSnapshot(ctx context.Context, divisionID uuid.UUID) (*reconcile.Snapshot, error)
}

// WebSocketHandler handles WebSocket upgrade and snapshot refresh
// requests for division viewers.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	snapshots         SnapshotProvider
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(cm *ConnectionManager, snapshots SnapshotProvider) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		snapshots:         snapshots,
	}
}

// HandleDivisionConnection handles WebSocket connections for a
// division's event feed.
func (h *WebSocketHandler) HandleDivisionConnection(w http.ResponseWriter, r *http.Request) {
	divisionIDStr := r.URL.Query().Get("division_id")
	if divisionIDStr == "" {
		http.Error(w, "division_id is required", http.StatusBadRequest)
		return
	}

	divisionID, err := uuid.Parse(divisionIDStr)
	if err != nil {
		http.Error(w, "invalid division_id format", http.StatusBadRequest)
		return
	}

	// Role tags connections for operations visibility; authorization
	// is the session layer's problem, not ours.
	role := r.URL.Query().Get("role")
	if role == "" {
		role = "viewer"
	}

	if err := h.connectionManager.UpgradeConnection(w, r, role, divisionID); err != nil {
		log.Error().
			Err(err).
			Str("division_id", divisionID.String()).
			Msg("failed to upgrade WebSocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
		return
	}
}

// HandleDivisionSnapshot serves the full snapshot a viewer loads on
// connect or when it detects a gap in the event feed.
func (h *WebSocketHandler) HandleDivisionSnapshot(w http.ResponseWriter, r *http.Request) {
	divisionIDStr := r.URL.Query().Get("division_id")
	divisionID, err := uuid.Parse(divisionIDStr)
	if err != nil {
		http.Error(w, "invalid division_id format", http.StatusBadRequest)
		return
	}

	snapshot, err := h.snapshots.DivisionSnapshot(r.Context(), divisionID)
	if err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			http.Error(w, "division not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("division_id", divisionID.String()).Msg("failed to build snapshot")
		http.Error(w, "failed to build snapshot", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		log.Error().Err(err).Msg("failed to write snapshot response")
	}
}

// HandleConnectionStats returns statistics about active connections.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	total, divisions := h.connectionManager.ConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"total_connections":    total,
		"division_connections": divisions,
	})
}
