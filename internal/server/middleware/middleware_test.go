package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/fieldsync/internal/server/auth"
	"github.com/iudanet/fieldsync/internal/server/handlers"
	"github.com/iudanet/fieldsync/pkg/api"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func testAuthConfig() auth.Config {
	return auth.Config{
		Secret:   []byte("test-secret"),
		TokenTTL: time.Hour,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var resp api.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	handler := AuthMiddleware(setupTestLogger(), testAuthConfig())(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, api.CodeValidation, decodeError(t, rec).Code)
}

func TestAuthMiddleware_MalformedHeader(t *testing.T) {
	handler := AuthMiddleware(setupTestLogger(), testAuthConfig())(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil)
	req.Header.Set("Authorization", "Basic abc123")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	cfg := testAuthConfig()
	expiredCfg := cfg
	expiredCfg.TokenTTL = -time.Minute

	token, _, err := auth.GenerateToken(expiredCfg, "device-1")
	require.NoError(t, err)

	handler := AuthMiddleware(setupTestLogger(), cfg)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	// Отдельный код: клиент должен обновить токен и повторить батч
	assert.Equal(t, api.CodeAuthExpired, decodeError(t, rec).Code)
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	cfg := testAuthConfig()
	token, _, err := auth.GenerateToken(cfg, "device-1")
	require.NoError(t, err)

	var gotClientID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClientID, _ = handlers.GetClientID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	handler := AuthMiddleware(setupTestLogger(), cfg)(next)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "device-1", gotClientID)
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute, setupTestLogger())
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("device-1"), "request %d", i)
	}
	assert.False(t, rl.Allow("device-1"))

	// Другой ключ лимитируется независимо
	assert.True(t, rl.Allow("device-2"))
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Millisecond, setupTestLogger())
	defer rl.Stop()

	assert.True(t, rl.Allow("device-1"))
	assert.False(t, rl.Allow("device-1"))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, rl.Allow("device-1"))
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := RateLimitMiddleware(1, time.Minute, setupTestLogger())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:   "remote addr only",
			remote: "10.0.0.1:1234",
			want:   "10.0.0.1:1234",
		},
		{
			name:    "x-forwarded-for single",
			headers: map[string]string{"X-Forwarded-For": "192.168.1.1"},
			remote:  "10.0.0.1:1234",
			want:    "192.168.1.1",
		},
		{
			name:    "x-forwarded-for chain",
			headers: map[string]string{"X-Forwarded-For": "192.168.1.1,10.0.0.2"},
			remote:  "10.0.0.1:1234",
			want:    "192.168.1.1",
		},
		{
			name:    "x-real-ip",
			headers: map[string]string{"X-Real-IP": "192.168.1.2"},
			remote:  "10.0.0.1:1234",
			want:    "192.168.1.2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	handler := RecoveryMiddleware(setupTestLogger())(panicking)

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, api.CodeInternal, decodeError(t, rec).Code)
}

func TestLoggingMiddleware_CapturesStatus(t *testing.T) {
	handler := LoggingMiddleware(setupTestLogger())(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestSanitizePath(t *testing.T) {
	assert.Equal(t, "/api/v1/media/upload/***",
		sanitizePath("/api/v1/media/upload/9a1b-grant-id"))
	assert.Equal(t, "/api/v1/sync", sanitizePath("/api/v1/sync"))
	assert.Equal(t, "/api/v1/media/upload/", sanitizePath("/api/v1/media/upload/"))
}
