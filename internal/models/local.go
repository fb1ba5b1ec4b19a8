package models

import (
	"encoding/json"
	"time"
)

// LocalEntity текущее состояние сущности на устройстве.
// LocalID присваивается при создании и не меняется; ServerID заполняется
// после подтверждения CREATE сервером.
type LocalEntity struct {
	UpdatedAt     time.Time       `json:"updated_at"`
	Entity        string          `json:"entity"`
	LocalID       string          `json:"local_id"`
	ServerID      string          `json:"server_id"`
	Payload       json.RawMessage `json:"payload"`
	LastServerSeq int64           `json:"last_server_seq"` // LastServerSeq server_seq последнего применённого серверного состояния (0 = не синхронизирована)
	Deleted       bool            `json:"deleted"`
}

// SyncID возвращает идентификатор, под которым сущность известна серверу:
// серверный после подтверждения CREATE, иначе локальный
func (e *LocalEntity) SyncID() string {
	if e.ServerID != "" {
		return e.ServerID
	}
	return e.LocalID
}

// Статусы локальной очереди загрузки медиа.
const (
	UploadStatusPending   = "pending"   // файл ждёт загрузки
	UploadStatusFinalized = "finalized" // объект подтверждён сервером
)

// MediaUpload запись локальной очереди загрузки медиафайлов.
// Изменение, ссылающееся на ObjectKey, держится в журнале до finalize.
type MediaUpload struct {
	CreatedAt   time.Time `json:"created_at"`
	ID          string    `json:"id"`
	FilePath    string    `json:"file_path"`
	ContentType string    `json:"content_type"`
	SHA256      string    `json:"sha256"`
	ObjectKey   string    `json:"object_key"` // ObjectKey заполняется после request-upload
	GrantID     string    `json:"grant_id"`
	Status      string    `json:"status"`
	Size        int64     `json:"size"`
}
