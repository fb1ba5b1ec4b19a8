package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/iudanet/fieldsync/pkg/api"
)

// WriteJSONError пишет структурированную ошибку в формате api.ErrorResponse
func WriteJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Ошибку кодирования здесь уже некому отдать
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Message: message,
	})
}

// writeJSON пишет успешный JSON-ответ
func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
