package api

import (
	"encoding/json"
	"time"
)

// Операции над сущностями, передаваемые в журнале изменений.
const (
	OpCreate = "CREATE"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// Статусы применения отдельной записи батча на сервере.
const (
	StatusApplied         = "applied"
	StatusAppliedResolved = "applied_with_resolution"
	StatusConflict        = "conflict"
	StatusRejected        = "rejected"
)

// Change представляет одну запись журнала изменений клиента
type Change struct {
	Timestamp  time.Time       `json:"timestamp"`    // Timestamp время локальной записи изменения
	Entity     string          `json:"entity"`       // Entity тип сущности: "reports", "sensor_readings"
	EntityID   string          `json:"entity_id"`    // EntityID локальный или серверный идентификатор сущности
	Operation  string          `json:"operation"`    // Operation CREATE, UPDATE или DELETE
	Payload    json.RawMessage `json:"payload"`      // Payload полное состояние сущности (opaque JSON)
	ClientSeq  int64           `json:"client_seq"`   // ClientSeq монотонный номер изменения на устройстве
	BasedOnSeq int64           `json:"based_on_seq"` // BasedOnSeq server_seq состояния, на котором основано изменение (0 для CREATE)
}

// SyncRequest представляет запрос на синхронизацию от клиента
type SyncRequest struct {
	ClientID      string   `json:"client_id"`       // ClientID идентификатор устройства
	Changes       []Change `json:"changes"`         // Changes несинхронизированные изменения в порядке client_seq
	LastServerSeq int64    `json:"last_server_seq"` // LastServerSeq watermark последнего известного клиенту server_seq
}

// AppliedChange описывает результат применения одной записи батча
type AppliedChange struct {
	Status     string `json:"status"`                // Status applied, applied_with_resolution, conflict, rejected
	EntityID   string `json:"entity_id,omitempty"`   // EntityID серверный идентификатор (для CREATE)
	Resolution string `json:"resolution,omitempty"`  // Resolution имя правила при applied_with_resolution
	ConflictID string `json:"conflict_id,omitempty"` // ConflictID идентификатор ConflictRecord при status=conflict
	Reason     string `json:"reason,omitempty"`      // Reason причина при status=rejected
	ClientSeq  int64  `json:"client_seq"`            // ClientSeq номер записи клиента
	ServerSeq  int64  `json:"server_seq,omitempty"`  // ServerSeq присвоенный глобальный номер (0 если не применено)
	Conflict   bool   `json:"conflict"`              // Conflict true если запись ушла в ручное разрешение
}

// Conflict описывает обнаруженный конфликт для отображения клиенту
type Conflict struct {
	Entity      string          `json:"entity"`
	EntityID    string          `json:"entity_id"`
	ConflictID  string          `json:"conflict_id"`
	Resolution  string          `json:"resolution"` // pending_manual, auto_server_wins, auto_client_wins
	ServerValue json.RawMessage `json:"server_value"`
	ClientValue json.RawMessage `json:"client_value"`
	ClientSeq   int64           `json:"client_seq"`
}

// ServerChange представляет серверное изменение для скачивания клиентом
type ServerChange struct {
	AppliedAt time.Time       `json:"applied_at"`
	Entity    string          `json:"entity"`
	EntityID  string          `json:"entity_id"`
	Operation string          `json:"operation"`
	Payload   json.RawMessage `json:"payload"`
	ServerSeq int64           `json:"server_seq"`
	Deleted   bool            `json:"deleted"`
}

// SyncResponse представляет ответ сервера на синхронизацию
type SyncResponse struct {
	AppliedChanges []AppliedChange `json:"applied_changes"` // Результаты по каждой записи батча
	Conflicts      []Conflict      `json:"conflicts"`       // Конфликты, требующие внимания
	Changes        []ServerChange  `json:"changes"`         // Серверные изменения новее watermark клиента
	ServerSeq      int64           `json:"server_seq"`      // Максимальный server_seq на момент ответа
}

// ResolveConflictRequest запрос на ручное разрешение конфликта
type ResolveConflictRequest struct {
	// Winner определяет победителя: "server" или "client"
	Winner string `json:"winner"`
}

// ResolveConflictResponse результат ручного разрешения конфликта
type ResolveConflictResponse struct {
	ConflictID string `json:"conflict_id"`
	Resolution string `json:"resolution"`
	// ServerSeq номер изменения, которым применено клиентское значение
	// (0 при server wins - состояние сервера не менялось)
	ServerSeq int64 `json:"server_seq,omitempty"`
}

// ConflictListResponse список конфликтов, ожидающих ручного разрешения
type ConflictListResponse struct {
	Conflicts []Conflict `json:"conflicts"`
}
