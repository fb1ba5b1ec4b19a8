// Package conflict реализует обнаружение и разрешение конфликтов
// между входящими изменениями и текущим состоянием сущностей.
//
// Политика задана явной таблицей решений: каждая комбинация
// (состояние снапшота, входящая операция) имеет свою ветку, а
// неописанные комбинации закрываются в Unresolved, никогда не
// применяются молча.
package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/iudanet/fieldsync/internal/models"
)

// DecisionKind вид решения резолвера
type DecisionKind int

const (
	// NoConflict входящее изменение основано на актуальном состоянии
	NoConflict DecisionKind = iota
	// AutoResolved конфликт разрешён автоматическим правилом
	AutoResolved
	// Unresolved конфликт требует ручного разрешения
	Unresolved
)

// Decision результат разрешения одного входящего изменения.
// Для NoConflict и AutoResolved поля Operation/Payload описывают,
// что именно нужно применить к снапшоту.
type Decision struct {
	Payload   json.RawMessage
	Rule      string // Rule имя сработавшего правила (только для AutoResolved)
	Operation models.Operation
	Kind      DecisionKind
}

// Incoming входящее изменение в терминах резолвера
type Incoming struct {
	Payload    json.RawMessage
	Operation  models.Operation
	BasedOnSeq int64 // BasedOnSeq server_seq состояния, которое клиент видел последним
}

// History даёт доступ к историческим состояниям сущности
// для вычисления изменённых полей при слиянии
type History interface {
	// PayloadAt возвращает состояние сущности на момент server_seq
	PayloadAt(ctx context.Context, serverSeq int64) (json.RawMessage, error)
}

// Resolver принимает решения по таблице (состояние, операция)
type Resolver struct {
	history History
	logger  *slog.Logger
}

// NewResolver creates a new conflict resolver
func NewResolver(history History, logger *slog.Logger) *Resolver {
	return &Resolver{
		history: history,
		logger:  logger,
	}
}

// Resolve принимает решение для входящего изменения.
// snapshot == nil означает, что сущность никогда не создавалась.
func (r *Resolver) Resolve(ctx context.Context, snapshot *models.EntitySnapshot, in Incoming) (Decision, error) {
	// Сущности ещё нет
	if snapshot == nil {
		if in.Operation == models.OpCreate {
			return Decision{Kind: NoConflict, Operation: models.OpCreate, Payload: in.Payload}, nil
		}
		// UPDATE/DELETE несуществующей сущности: клиент ссылается на
		// неизвестную базу, автоматического решения нет
		return Decision{Kind: Unresolved}, nil
	}

	// Дубликат создания поверх существующей сущности
	if in.Operation == models.OpCreate {
		return Decision{Kind: Unresolved}, nil
	}

	// Сущность удалена на сервере
	if snapshot.Deleted {
		switch in.Operation {
		case models.OpDelete:
			// Повторное удаление: состояние не меняется
			return Decision{
				Kind:      AutoResolved,
				Rule:      models.RuleDeleteIdempotent,
				Operation: models.OpDelete,
				Payload:   snapshot.Payload,
			}, nil
		case models.OpUpdate:
			// Удаление побеждает конкурирующее обновление
			return Decision{
				Kind:      AutoResolved,
				Rule:      models.RuleDeleteWins,
				Operation: models.OpDelete,
				Payload:   snapshot.Payload,
			}, nil
		}
		return Decision{Kind: Unresolved}, nil
	}

	// База клиента совпадает с текущим состоянием: конфликта нет
	if in.BasedOnSeq == snapshot.LastSeq {
		return Decision{Kind: NoConflict, Operation: in.Operation, Payload: in.Payload}, nil
	}

	// База устарела: сервер успел применить чужие изменения
	switch in.Operation {
	case models.OpDelete:
		// Удаление побеждает промежуточные обновления
		return Decision{
			Kind:      AutoResolved,
			Rule:      models.RuleDeleteWins,
			Operation: models.OpDelete,
			Payload:   snapshot.Payload,
		}, nil
	case models.OpUpdate:
		return r.tryFieldMerge(ctx, snapshot, in)
	}

	// Неописанная комбинация: fail closed
	return Decision{Kind: Unresolved}, nil
}

// tryFieldMerge пытается слить обновление с устаревшей базой.
// Сливаются только непересекающиеся наборы полей: если клиент и сервер
// изменили разные верхнеуровневые ключи, обновление клиента накладывается
// поверх текущего состояния; пересечение уходит в ручное разрешение.
func (r *Resolver) tryFieldMerge(ctx context.Context, snapshot *models.EntitySnapshot, in Incoming) (Decision, error) {
	if in.BasedOnSeq <= 0 {
		// База неизвестна, сравнивать не с чем
		return Decision{Kind: Unresolved}, nil
	}

	base, err := r.history.PayloadAt(ctx, in.BasedOnSeq)
	if err != nil {
		// Историческое состояние недоступно - не рискуем слиянием
		r.logger.Warn("base payload unavailable, escalating to manual",
			"based_on_seq", in.BasedOnSeq, "error", err)
		return Decision{Kind: Unresolved}, nil
	}

	serverChanged, err := changedFields(base, snapshot.Payload)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to diff server payload: %w", err)
	}

	clientChanged, err := changedFields(base, in.Payload)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to diff client payload: %w", err)
	}

	// Пересечение изменённых полей означает настоящий конфликт
	for field := range clientChanged {
		if serverChanged[field] {
			r.logger.Debug("overlapping field change, escalating to manual", "field", field)
			return Decision{Kind: Unresolved}, nil
		}
	}

	merged, err := overlayFields(snapshot.Payload, in.Payload, clientChanged)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to merge payloads: %w", err)
	}

	return Decision{
		Kind:      AutoResolved,
		Rule:      models.RuleFieldMerge,
		Operation: models.OpUpdate,
		Payload:   merged,
	}, nil
}

// changedFields возвращает множество верхнеуровневых ключей,
// значения которых различаются между before и after
func changedFields(before, after json.RawMessage) (map[string]bool, error) {
	var b, a map[string]any
	if len(before) > 0 {
		if err := json.Unmarshal(before, &b); err != nil {
			return nil, fmt.Errorf("invalid before payload: %w", err)
		}
	}
	if len(after) > 0 {
		if err := json.Unmarshal(after, &a); err != nil {
			return nil, fmt.Errorf("invalid after payload: %w", err)
		}
	}

	changed := make(map[string]bool)
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !reflect.DeepEqual(av, bv) {
			changed[k] = true
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			changed[k] = true
		}
	}

	return changed, nil
}

// overlayFields накладывает перечисленные поля из overlay поверх current
func overlayFields(current, overlay json.RawMessage, fields map[string]bool) (json.RawMessage, error) {
	var cur, over map[string]json.RawMessage
	if err := json.Unmarshal(current, &cur); err != nil {
		return nil, fmt.Errorf("invalid current payload: %w", err)
	}
	if err := json.Unmarshal(overlay, &over); err != nil {
		return nil, fmt.Errorf("invalid overlay payload: %w", err)
	}

	for field := range fields {
		if v, ok := over[field]; ok {
			cur[field] = v
		} else {
			delete(cur, field)
		}
	}

	merged, err := json.Marshal(cur)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged payload: %w", err)
	}

	return merged, nil
}
