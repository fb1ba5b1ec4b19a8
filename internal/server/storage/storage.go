package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/iudanet/fieldsync/internal/models"
)

// ChangeStorage определяет интерфейс для durable-журнала серверных изменений
type ChangeStorage interface {
	// RecordChange атомарно применяет одно изменение: выделяет server_seq,
	// сохраняет ServerChange, сворачивает EntitySnapshot и (для CREATE)
	// регистрирует соответствие локального идентификатора клиента серверному.
	// expectLastSeq - ожидаемый last_seq снапшота (0 для CREATE);
	// несовпадение возвращает ErrSnapshotStale.
	// Повторное применение пары (client_id, client_seq) возвращает ErrDuplicateChange.
	RecordChange(ctx context.Context, ch *models.ServerChange, localID string, expectLastSeq int64) error

	// GetChangeByClientSeq возвращает применённое изменение по паре
	// (client_id, client_seq) для идемпотентного replay.
	// Returns ErrChangeNotFound if no such change was applied.
	GetChangeByClientSeq(ctx context.Context, clientID string, clientSeq int64) (*models.ServerChange, error)

	// PayloadAt возвращает payload изменения с данным server_seq.
	// Свёртка замещающая, поэтому это состояние сущности на момент seq.
	PayloadAt(ctx context.Context, serverSeq int64) (json.RawMessage, error)

	// ChangesSince возвращает изменения с server_seq > since в порядке server_seq
	ChangesSince(ctx context.Context, since int64, limit int) ([]*models.ServerChange, error)

	// CurrentSeq возвращает последний выделенный server_seq (0 если изменений не было)
	CurrentSeq(ctx context.Context) (int64, error)
}

// SnapshotStorage определяет интерфейс для чтения материализованных состояний
type SnapshotStorage interface {
	// GetSnapshot возвращает текущее состояние сущности.
	// Returns ErrSnapshotNotFound if entity was never created.
	GetSnapshot(ctx context.Context, entity, entityID string) (*models.EntitySnapshot, error)

	// ResolveAlias возвращает серверный идентификатор, зарегистрированный
	// для локального идентификатора клиента ("" если соответствия нет)
	ResolveAlias(ctx context.Context, clientID, entity, localID string) (string, error)
}

// WatermarkStorage хранит последний заявленный watermark каждого клиента
// для отклонения устаревших батчей
type WatermarkStorage interface {
	ClientWatermark(ctx context.Context, clientID string) (int64, error)
	SetClientWatermark(ctx context.Context, clientID string, seq int64) error
}

// ConflictStorage определяет интерфейс для очереди конфликтов
type ConflictStorage interface {
	// SaveConflict сохраняет новый ConflictRecord в состоянии pending_manual
	SaveConflict(ctx context.Context, c *models.ConflictRecord) error

	// GetConflict возвращает конфликт по идентификатору
	// Returns ErrConflictNotFound if conflict doesn't exist
	GetConflict(ctx context.Context, id string) (*models.ConflictRecord, error)

	// GetConflictByClientSeq возвращает конфликт по паре (client_id, client_seq)
	// для идемпотентного replay конфликтных записей батча
	GetConflictByClientSeq(ctx context.Context, clientID string, clientSeq int64) (*models.ConflictRecord, error)

	// ListPendingConflicts возвращает конфликты, ожидающие ручного разрешения
	ListPendingConflicts(ctx context.Context) ([]*models.ConflictRecord, error)

	// ResolveConflict помечает конфликт разрешённым (архивирует его)
	// Returns ErrConflictResolved if it was already resolved
	ResolveConflict(ctx context.Context, id, resolution string, resolvedAt time.Time) error
}

// GrantStorage определяет интерфейс для хранения медиа-грантов
type GrantStorage interface {
	// SaveGrant сохраняет новый грант в состоянии issued
	SaveGrant(ctx context.Context, g *models.MediaGrant) error

	// GetGrant возвращает грант по идентификатору
	// Returns ErrGrantNotFound if grant doesn't exist
	GetGrant(ctx context.Context, id string) (*models.MediaGrant, error)

	// UpdateGrant обновляет статус и наблюдаемый хеш гранта
	UpdateGrant(ctx context.Context, g *models.MediaGrant) error

	// GetCompletedGrantByObjectKey возвращает завершённый грант по ключу объекта.
	// Returns ErrGrantNotFound if no completed grant references the key.
	GetCompletedGrantByObjectKey(ctx context.Context, objectKey string) (*models.MediaGrant, error)
}
