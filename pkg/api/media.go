package api

import "time"

// RequestUploadRequest запрос клиента на выдачу гранта загрузки медиа
type RequestUploadRequest struct {
	Filename    string `json:"filename"`         // Filename исходное имя файла
	ContentType string `json:"content_type"`     // ContentType MIME-тип (image/jpeg, audio/ogg и т.д.)
	SHA256      string `json:"sha256,omitempty"` // SHA256 ожидаемый хеш содержимого (опционально)
	FileSize    int64  `json:"file_size"`        // FileSize размер файла в байтах
}

// RequestUploadResponse содержит одноразовый подписанный URL для загрузки
type RequestUploadResponse struct {
	ExpiresAt time.Time `json:"expires_at"` // ExpiresAt срок действия гранта
	GrantID   string    `json:"grant_id"`   // GrantID идентификатор гранта
	UploadURL string    `json:"upload_url"` // UploadURL одноразовый URL для PUT загрузки
	FileURL   string    `json:"file_url"`   // FileURL ключ объекта, валидный после finalize
}

// FinalizeUploadRequest запрос на подтверждение завершённой загрузки
type FinalizeUploadRequest struct {
	GrantID string `json:"grant_id"`
	SHA256  string `json:"sha256"` // SHA256 хеш, наблюдаемый клиентом
}

// FinalizeUploadResponse результат подтверждения загрузки
type FinalizeUploadResponse struct {
	// ObjectKey ключ объекта, который можно ссылать из payload изменений
	ObjectKey string `json:"object_key"`
}
