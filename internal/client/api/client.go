// Package api реализует HTTP клиент протокола синхронизации.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/iudanet/fieldsync/pkg/api"
)

// APIError представляет структурированную ошибку сервера
type APIError struct {
	Code       string // Code машинный код из api.ErrorResponse
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error (%d, %s): %s", e.StatusCode, e.Code, e.Message)
}

// IsTransient сообщает, имеет ли смысл повторять запрос позже.
// Сетевые сбои и 5xx временные; 4xx требуют вмешательства
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Обрыв соединения до получения ответа
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ClientAPI определяет интерфейс взаимодействия с сервером синхронизации
type ClientAPI interface {
	Sync(ctx context.Context, req *api.SyncRequest) (*api.SyncResponse, error)
	ChangesSince(ctx context.Context, since int64) (*api.SyncResponse, error)
	Conflicts(ctx context.Context) (*api.ConflictListResponse, error)
	ResolveConflict(ctx context.Context, conflictID, winner string) (*api.ResolveConflictResponse, error)
	RequestUpload(ctx context.Context, req api.RequestUploadRequest) (*api.RequestUploadResponse, error)
	Upload(ctx context.Context, uploadURL, contentType string, size int64, body io.Reader) error
	FinalizeUpload(ctx context.Context, req api.FinalizeUploadRequest) (*api.FinalizeUploadResponse, error)
}

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient создает новый API клиент
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Sync отправляет батч изменений и получает серверные изменения
func (c *Client) Sync(ctx context.Context, req *api.SyncRequest) (*api.SyncResponse, error) {
	var resp api.SyncResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/sync", req, &resp); err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}
	return &resp, nil
}

// ChangesSince запрашивает серверные изменения новее указанного watermark
func (c *Client) ChangesSince(ctx context.Context, since int64) (*api.SyncResponse, error) {
	var resp api.SyncResponse
	path := "/api/v1/sync?since=" + strconv.FormatInt(since, 10)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("changes request failed: %w", err)
	}
	return &resp, nil
}

// Conflicts запрашивает конфликты, ожидающие ручного разрешения
func (c *Client) Conflicts(ctx context.Context) (*api.ConflictListResponse, error) {
	var resp api.ConflictListResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/conflicts", nil, &resp); err != nil {
		return nil, fmt.Errorf("conflicts request failed: %w", err)
	}
	return &resp, nil
}

// ResolveConflict разрешает конфликт в пользу сервера или клиента
func (c *Client) ResolveConflict(ctx context.Context, conflictID, winner string) (*api.ResolveConflictResponse, error) {
	var resp api.ResolveConflictResponse
	path := fmt.Sprintf("/api/v1/conflicts/%s/resolve", url.PathEscape(conflictID))
	req := api.ResolveConflictRequest{Winner: winner}
	if err := c.doRequest(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, fmt.Errorf("resolve request failed: %w", err)
	}
	return &resp, nil
}

// RequestUpload запрашивает одноразовый подписанный URL для загрузки медиа
func (c *Client) RequestUpload(ctx context.Context, req api.RequestUploadRequest) (*api.RequestUploadResponse, error) {
	var resp api.RequestUploadResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/media/request-upload", req, &resp); err != nil {
		return nil, fmt.Errorf("request-upload failed: %w", err)
	}
	return &resp, nil
}

// Upload отправляет содержимое файла по подписанному URL гранта
func (c *Client) Upload(ctx context.Context, uploadURL, contentType string, size int64, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+uploadURL, body)
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = size

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.errorFromResponse(resp)
	}

	return nil
}

// FinalizeUpload подтверждает загрузку и получает ключ объекта
func (c *Client) FinalizeUpload(ctx context.Context, req api.FinalizeUploadRequest) (*api.FinalizeUploadResponse, error) {
	var resp api.FinalizeUploadResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/media/finalize", req, &resp); err != nil {
		return nil, fmt.Errorf("finalize failed: %w", err)
	}
	return &resp, nil
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path string, body, result interface{}) error {
	reqURL := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Code != "" {
			return &APIError{
				StatusCode: resp.StatusCode,
				Code:       errResp.Code,
				Message:    errResp.Message,
			}
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// errorFromResponse строит APIError из уже полученного ответа
func (c *Client) errorFromResponse(resp *http.Response) error {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read error body: %w", err)
	}

	var errResp api.ErrorResponse
	if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Code != "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       errResp.Code,
			Message:    errResp.Message,
		}
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    string(respBody),
	}
}
