package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/iudanet/fieldsync/internal/server/media"
	"github.com/iudanet/fieldsync/internal/server/storage"
	"github.com/iudanet/fieldsync/pkg/api"
)

// MediaHandler handles media upload grant requests
type MediaHandler struct {
	logger      *slog.Logger
	coordinator *media.Coordinator
}

// NewMediaHandler creates a new media handler
func NewMediaHandler(logger *slog.Logger, coordinator *media.Coordinator) *MediaHandler {
	return &MediaHandler{
		logger:      logger,
		coordinator: coordinator,
	}
}

// HandleRequestUpload обрабатывает POST /api/v1/media/request-upload
// Выдаёт одноразовый подписанный URL для загрузки файла
func (h *MediaHandler) HandleRequestUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	clientID, ok := GetClientID(ctx)
	if !ok {
		h.logger.Error("Client ID not found in context")
		WriteJSONError(w, http.StatusUnauthorized, api.CodeValidation, "unauthorized")
		return
	}

	var req api.RequestUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid upload request body", "error", err)
		WriteJSONError(w, http.StatusBadRequest, api.CodeValidation, "invalid request body")
		return
	}

	grant, uploadURL, err := h.coordinator.RequestGrant(ctx, clientID, req.Filename, req.ContentType, req.FileSize, req.SHA256)
	if err != nil {
		switch {
		case errors.Is(err, media.ErrContentType), errors.Is(err, media.ErrTooLarge):
			WriteJSONError(w, http.StatusBadRequest, api.CodeValidation, err.Error())
		default:
			h.logger.Error("Failed to issue upload grant", "client_id", clientID, "error", err)
			WriteJSONError(w, http.StatusInternalServerError, api.CodeInternal, "failed to issue grant")
		}
		return
	}

	resp := api.RequestUploadResponse{
		ExpiresAt: grant.ExpiresAt,
		GrantID:   grant.ID,
		UploadURL: uploadURL,
		FileURL:   grant.ObjectKey,
	}

	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode grant response", "error", err)
	}
}

// HandleUpload обрабатывает PUT /api/v1/media/upload/{grant_id}?exp=N&sig=S
// Принимает содержимое файла по подписанному одноразовому URL.
// Подпись в URL заменяет JWT: endpoint вне auth middleware.
func (h *MediaHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	grantID := r.PathValue("grant_id")
	if grantID == "" {
		WriteJSONError(w, http.StatusBadRequest, api.CodeValidation, "missing grant id")
		return
	}

	expiresUnix, err := strconv.ParseInt(r.URL.Query().Get("exp"), 10, 64)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, api.CodeValidation, "invalid exp parameter")
		return
	}
	signature := r.URL.Query().Get("sig")

	err = h.coordinator.Upload(r.Context(), grantID, expiresUnix, signature,
		r.Header.Get("Content-Type"), r.Body)
	if err != nil {
		switch {
		case errors.Is(err, media.ErrBadSignature):
			WriteJSONError(w, http.StatusForbidden, api.CodeValidation, "invalid upload signature")
		case errors.Is(err, media.ErrGrantExpired):
			WriteJSONError(w, http.StatusGone, api.CodeGrantExpired, "upload grant expired")
		case errors.Is(err, media.ErrGrantConsumed):
			WriteJSONError(w, http.StatusConflict, api.CodeValidation, "grant already used")
		case errors.Is(err, media.ErrContentType), errors.Is(err, media.ErrTooLarge):
			WriteJSONError(w, http.StatusBadRequest, api.CodeValidation, err.Error())
		case errors.Is(err, storage.ErrGrantNotFound):
			WriteJSONError(w, http.StatusNotFound, api.CodeValidation, "grant not found")
		default:
			h.logger.Error("Failed to accept upload", "grant_id", grantID, "error", err)
			WriteJSONError(w, http.StatusInternalServerError, api.CodeInternal, "failed to accept upload")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleFinalize обрабатывает POST /api/v1/media/finalize
// Сверяет хеш и переводит грант в completed; после этого object_key
// можно ссылать из payload изменений
func (h *MediaHandler) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := GetClientID(ctx); !ok {
		h.logger.Error("Client ID not found in context")
		WriteJSONError(w, http.StatusUnauthorized, api.CodeValidation, "unauthorized")
		return
	}

	var req api.FinalizeUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid finalize request body", "error", err)
		WriteJSONError(w, http.StatusBadRequest, api.CodeValidation, "invalid request body")
		return
	}

	objectKey, err := h.coordinator.Finalize(ctx, req.GrantID, req.SHA256)
	if err != nil {
		switch {
		case errors.Is(err, media.ErrGrantExpired):
			WriteJSONError(w, http.StatusGone, api.CodeGrantExpired, "upload grant expired")
		case errors.Is(err, media.ErrGrantConsumed):
			WriteJSONError(w, http.StatusConflict, api.CodeValidation, "grant already finalized")
		case errors.Is(err, media.ErrUploadIncomplete):
			WriteJSONError(w, http.StatusBadRequest, api.CodeValidation, "upload not completed")
		case errors.Is(err, media.ErrIntegrity):
			WriteJSONError(w, http.StatusBadRequest, api.CodeIntegrity, "content hash mismatch")
		case errors.Is(err, storage.ErrGrantNotFound):
			WriteJSONError(w, http.StatusNotFound, api.CodeValidation, "grant not found")
		default:
			h.logger.Error("Failed to finalize upload", "grant_id", req.GrantID, "error", err)
			WriteJSONError(w, http.StatusInternalServerError, api.CodeInternal, "failed to finalize upload")
		}
		return
	}

	if err := writeJSON(w, http.StatusOK, api.FinalizeUploadResponse{ObjectKey: objectKey}); err != nil {
		h.logger.Error("Failed to encode finalize response", "error", err)
	}
}
