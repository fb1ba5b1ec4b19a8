package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/iudanet/fieldsync/internal/server/auth"
	"github.com/iudanet/fieldsync/internal/server/handlers"
	"github.com/iudanet/fieldsync/pkg/api"
)

// AuthMiddleware создает middleware для проверки JWT токена устройства
func AuthMiddleware(logger *slog.Logger, cfg auth.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Извлекаем токен из заголовка Authorization
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("Missing Authorization header")
				handlers.WriteJSONError(w, http.StatusUnauthorized, api.CodeValidation, "missing token")
				return
			}

			// Ожидаем формат: "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("Invalid Authorization header format")
				handlers.WriteJSONError(w, http.StatusUnauthorized, api.CodeValidation, "invalid token format")
				return
			}

			// Валидируем токен. Истёкший токен получает отдельный код,
			// чтобы клиент обновил токен и повторил батч без потери записей
			claims, err := auth.ValidateToken(cfg, parts[1])
			if err != nil {
				if errors.Is(err, auth.ErrTokenExpired) {
					logger.Warn("Expired device token")
					handlers.WriteJSONError(w, http.StatusUnauthorized, api.CodeAuthExpired, "token expired")
					return
				}
				logger.Warn("Invalid device token", "error", err)
				handlers.WriteJSONError(w, http.StatusUnauthorized, api.CodeValidation, "invalid token")
				return
			}

			// Добавляем client_id из токена в контекст
			ctx := context.WithValue(r.Context(), handlers.ClientIDKey, claims.ClientID)

			logger.Debug("Device authenticated", "client_id", claims.ClientID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
