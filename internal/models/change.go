package models

import (
	"encoding/json"
	"time"
)

// Operation тип операции в журнале изменений
type Operation string

// Поддерживаемые операции.
const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Valid проверяет, что операция известна
func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Типы сущностей, участвующих в синхронизации.
const (
	EntityReports        = "reports"
	EntitySensorReadings = "sensor_readings"
)

// ChangeRecord представляет одну запись локального журнала изменений.
// Запись неизменяема после создания: исправления добавляются новыми
// записями, журнал никогда не редактируется на месте.
type ChangeRecord struct {
	CreatedAt time.Time       `json:"created_at"` // CreatedAt время локальной фиксации изменения
	Entity    string          `json:"entity"`     // Entity тип сущности
	LocalID   string          `json:"local_id"`   // LocalID локальный идентификатор сущности на устройстве
	ServerID  string          `json:"server_id"`  // ServerID серверный идентификатор (заполняется после ack CREATE)
	Operation Operation       `json:"operation"`  // Operation CREATE, UPDATE или DELETE
	Payload   json.RawMessage `json:"payload"`    // Payload полное состояние сущности
	// BasedOnSeq server_seq состояния, которое клиент видел последним
	// для этой сущности (0 для CREATE и несинхронизированных сущностей)
	BasedOnSeq int64 `json:"based_on_seq"`
	ClientSeq  int64 `json:"client_seq"` // ClientSeq монотонный номер на устройстве, без пропусков
	ServerSeq  int64 `json:"server_seq"` // ServerSeq глобальный номер после подтверждения (0 = ожидает)
	Acked      bool  `json:"acked"`      // Acked запись подтверждена сервером
	Conflicted bool  `json:"conflicted"` // Conflicted запись ушла в ручное разрешение конфликта
	Rejected   bool  `json:"rejected"`   // Rejected запись отклонена валидацией сервера
}

// Pending возвращает true, если запись ещё ожидает синхронизации
func (c *ChangeRecord) Pending() bool {
	return !c.Acked && !c.Conflicted && !c.Rejected
}

// ServerChange представляет durable-запись изменения на сервере.
// Инвариант: пара (ClientID, ClientSeq) уникальна; повторное применение
// возвращает ранее присвоенный ServerSeq без побочных эффектов.
type ServerChange struct {
	AppliedAt  time.Time       `json:"applied_at"`
	ClientID   string          `json:"client_id"`
	Entity     string          `json:"entity"`
	EntityID   string          `json:"entity_id"` // EntityID серверный идентификатор сущности (UUID)
	Operation  Operation       `json:"operation"`
	Payload    json.RawMessage `json:"payload"`
	Resolution string          `json:"resolution"` // Resolution имя правила авторазрешения ("" если без конфликта)
	ServerSeq  int64           `json:"server_seq"` // ServerSeq строго возрастающий глобальный номер
	ClientSeq  int64           `json:"client_seq"`
}

// EntitySnapshot текущее материализованное состояние сущности,
// свёртка ServerChange в порядке server_seq. Источник истины для клиентов.
type EntitySnapshot struct {
	UpdatedAt time.Time       `json:"updated_at"`
	Entity    string          `json:"entity"`
	EntityID  string          `json:"entity_id"`
	Payload   json.RawMessage `json:"payload"`
	LastSeq   int64           `json:"last_seq"` // LastSeq server_seq последнего применённого изменения
	Deleted   bool            `json:"deleted"`  // Deleted сущность удалена (soft delete)
}
