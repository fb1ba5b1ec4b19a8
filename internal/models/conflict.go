package models

import (
	"encoding/json"
	"time"
)

// Статусы разрешения конфликта.
const (
	ResolutionPendingManual  = "pending_manual"
	ResolutionAutoServerWins = "auto_server_wins"
	ResolutionAutoClientWins = "auto_client_wins"
	ResolutionManualServer   = "manual_server_wins"
	ResolutionManualClient   = "manual_client_wins"
)

// Имена правил автоматического разрешения.
const (
	RuleDeleteWins       = "delete_wins"       // DELETE побеждает конкурирующий UPDATE
	RuleDeleteIdempotent = "delete_idempotent" // повторный DELETE уже удалённой сущности
	RuleFieldMerge       = "field_merge"       // слияние непересекающихся полей
)

// ConflictRecord фиксирует расхождение между входящим изменением и
// текущим состоянием сущности. Создаётся только когда резолвер не смог
// разрешить конфликт автоматически; снапшот при этом не продвигается.
type ConflictRecord struct {
	DetectedAt  time.Time       `json:"detected_at"`
	ResolvedAt  time.Time       `json:"resolved_at,omitzero"` // ResolvedAt время ручного разрешения (zero = не разрешён)
	ID          string          `json:"id"`                   // ID идентификатор конфликта (UUID)
	Entity      string          `json:"entity"`
	EntityID    string          `json:"entity_id"`
	ClientID    string          `json:"client_id"` // ClientID устройство, приславшее конфликтующее изменение
	Operation   Operation       `json:"operation"`
	ClientValue json.RawMessage `json:"client_value"` // ClientValue входящий payload
	ServerValue json.RawMessage `json:"server_value"` // ServerValue состояние снапшота на момент обнаружения
	Resolution  string          `json:"resolution"`   // Resolution pending_manual или итоговое решение
	ClientSeq   int64           `json:"client_seq"`
}

// Pending возвращает true, если конфликт ожидает ручного разрешения
func (c *ConflictRecord) Pending() bool {
	return c.Resolution == ResolutionPendingManual
}
