package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/iudanet/fieldsync/internal/server/engine"
	"github.com/iudanet/fieldsync/internal/validation"
	"github.com/iudanet/fieldsync/pkg/api"
)

// SyncEngine определяет интерфейс движка синхронизации
type SyncEngine interface {
	ApplyBatch(ctx context.Context, clientID string, req *api.SyncRequest) (*api.SyncResponse, error)
	ChangesSince(ctx context.Context, since int64) (*api.SyncResponse, error)
}

// SyncHandler handles synchronization requests
type SyncHandler struct {
	logger *slog.Logger
	engine SyncEngine
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(logger *slog.Logger, eng SyncEngine) *SyncHandler {
	return &SyncHandler{
		logger: logger,
		engine: eng,
	}
}

// HandlePost обрабатывает POST /api/v1/sync - батч изменений клиента
func (h *SyncHandler) HandlePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// client_id установлен AuthMiddleware
	clientID, ok := GetClientID(ctx)
	if !ok {
		h.logger.Error("Client ID not found in context")
		WriteJSONError(w, http.StatusUnauthorized, api.CodeValidation, "unauthorized")
		return
	}

	var req api.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid sync request body", "error", err)
		WriteJSONError(w, http.StatusBadRequest, api.CodeValidation, "invalid request body")
		return
	}

	// client_id тела обязан совпадать с client_id токена
	if req.ClientID != clientID {
		h.logger.Warn("Client ID mismatch",
			"token_client_id", clientID,
			"body_client_id", req.ClientID)
		WriteJSONError(w, http.StatusForbidden, api.CodeValidation, "client_id mismatch")
		return
	}

	if err := validation.ValidateClientID(req.ClientID); err != nil {
		WriteJSONError(w, http.StatusBadRequest, api.CodeValidation, err.Error())
		return
	}

	resp, err := h.engine.ApplyBatch(ctx, clientID, &req)
	if err != nil {
		if errors.Is(err, engine.ErrStaleBatch) {
			h.logger.Warn("Stale batch rejected", "client_id", clientID, "error", err)
			WriteJSONError(w, http.StatusConflict, api.CodeStaleBatch, err.Error())
			return
		}
		h.logger.Error("Failed to apply batch", "client_id", clientID, "error", err)
		WriteJSONError(w, http.StatusInternalServerError, api.CodeInternal, "failed to apply batch")
		return
	}

	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode sync response", "error", err)
	}
}

// HandleGet обрабатывает GET /api/v1/sync?since=server_seq
// Возвращает серверные изменения новее указанного watermark (catch-up)
func (h *SyncHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := GetClientID(ctx); !ok {
		h.logger.Error("Client ID not found in context")
		WriteJSONError(w, http.StatusUnauthorized, api.CodeValidation, "unauthorized")
		return
	}

	var since int64
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		var err error
		since, err = strconv.ParseInt(sinceStr, 10, 64)
		if err != nil || since < 0 {
			h.logger.Warn("Invalid since parameter", "since", sinceStr)
			WriteJSONError(w, http.StatusBadRequest, api.CodeValidation, "invalid since parameter")
			return
		}
	}

	resp, err := h.engine.ChangesSince(ctx, since)
	if err != nil {
		h.logger.Error("Failed to get changes", "since", since, "error", err)
		WriteJSONError(w, http.StatusInternalServerError, api.CodeInternal, "failed to get changes")
		return
	}

	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode sync response", "error", err)
	}
}
