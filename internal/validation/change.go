package validation

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/iudanet/fieldsync/internal/models"
)

// ClientIDPattern определяет допустимый формат идентификатора устройства
// Только латинские буквы, цифры, дефис и нижнее подчеркивание
// Длина: 3-64 символа
var ClientIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,64}$`)

// MaxPayloadSize максимальный размер payload одного изменения в байтах
const MaxPayloadSize = 256 * 1024

// ValidateClientID проверяет, что идентификатор устройства соответствует формату
func ValidateClientID(clientID string) error {
	if clientID == "" {
		return fmt.Errorf("client_id cannot be empty")
	}
	if !ClientIDPattern.MatchString(clientID) {
		return fmt.Errorf("client_id must be 3-64 characters: letters, digits, '-' or '_'")
	}
	return nil
}

// ValidateEntity проверяет, что тип сущности известен движку
func ValidateEntity(entity string) error {
	switch entity {
	case models.EntityReports, models.EntitySensorReadings:
		return nil
	}
	return fmt.Errorf("unknown entity kind: %q", entity)
}

// ValidateChange проверяет структурную корректность одной записи изменения.
// Содержимое payload остаётся opaque, проверяется только что это JSON-объект
// разумного размера с корректными полями-конвертами.
func ValidateChange(entity, entityID string, op models.Operation, payload json.RawMessage) error {
	if err := ValidateEntity(entity); err != nil {
		return err
	}

	if entityID == "" {
		return fmt.Errorf("entity_id cannot be empty")
	}

	if !op.Valid() {
		return fmt.Errorf("unknown operation: %q", op)
	}

	// DELETE не несёт нового состояния, payload может быть пустым
	if op == models.OpDelete && len(payload) == 0 {
		return nil
	}

	if len(payload) == 0 {
		return fmt.Errorf("payload cannot be empty for %s", op)
	}

	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("payload exceeds %d bytes", MaxPayloadSize)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return fmt.Errorf("payload must be a JSON object: %w", err)
	}

	return nil
}
