package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/iudanet/fieldsync/internal/server/engine"
	"github.com/iudanet/fieldsync/internal/server/storage"
	"github.com/iudanet/fieldsync/pkg/api"
)

// ConflictEngine определяет операции ручного разрешения конфликтов
type ConflictEngine interface {
	PendingConflicts(ctx context.Context) (*api.ConflictListResponse, error)
	ResolveConflict(ctx context.Context, conflictID, winner string) (*api.ResolveConflictResponse, error)
}

// ConflictHandler handles manual conflict resolution requests
type ConflictHandler struct {
	logger *slog.Logger
	engine ConflictEngine
}

// NewConflictHandler creates a new conflict handler
func NewConflictHandler(logger *slog.Logger, eng ConflictEngine) *ConflictHandler {
	return &ConflictHandler{
		logger: logger,
		engine: eng,
	}
}

// HandleList обрабатывает GET /api/v1/conflicts
// Возвращает конфликты, ожидающие ручного разрешения
func (h *ConflictHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	resp, err := h.engine.PendingConflicts(r.Context())
	if err != nil {
		h.logger.Error("Failed to list conflicts", "error", err)
		WriteJSONError(w, http.StatusInternalServerError, api.CodeInternal, "failed to list conflicts")
		return
	}

	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode conflict list", "error", err)
	}
}

// HandleResolve обрабатывает POST /api/v1/conflicts/{id}/resolve
func (h *ConflictHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	conflictID := r.PathValue("id")
	if conflictID == "" {
		WriteJSONError(w, http.StatusBadRequest, api.CodeValidation, "missing conflict id")
		return
	}

	var req api.ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid resolve request body", "error", err)
		WriteJSONError(w, http.StatusBadRequest, api.CodeValidation, "invalid request body")
		return
	}

	resp, err := h.engine.ResolveConflict(r.Context(), conflictID, req.Winner)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrBadWinner):
			WriteJSONError(w, http.StatusBadRequest, api.CodeValidation, err.Error())
		case errors.Is(err, storage.ErrConflictNotFound):
			WriteJSONError(w, http.StatusNotFound, api.CodeValidation, "conflict not found")
		case errors.Is(err, storage.ErrConflictResolved):
			WriteJSONError(w, http.StatusConflict, api.CodeValidation, "conflict already resolved")
		default:
			h.logger.Error("Failed to resolve conflict", "conflict_id", conflictID, "error", err)
			WriteJSONError(w, http.StatusInternalServerError, api.CodeInternal, "failed to resolve conflict")
		}
		return
	}

	h.logger.Info("Conflict resolved manually",
		"conflict_id", conflictID,
		"resolution", resp.Resolution)

	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode resolve response", "error", err)
	}
}
