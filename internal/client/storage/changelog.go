package storage

import (
	"context"

	"github.com/iudanet/fieldsync/internal/models"
)

// ChangeLogStorage defines interface for the durable local change log.
// Журнал append-only: client_seq выдается монотонно и без пропусков,
// записи не редактируются, а помечаются acked/conflicted/rejected.
type ChangeLogStorage interface {
	// Append durable-записывает изменение и возвращает присвоенный client_seq.
	// Вызывается в одной транзакции с обновлением локальной сущности
	// (см. EntityStorage), поэтому принимает готовую запись без ClientSeq
	Append(ctx context.Context, record *models.ChangeRecord) (*models.ChangeRecord, error)

	// PendingChanges returns unacknowledged records in client_seq order
	PendingChanges(ctx context.Context, limit int) ([]*models.ChangeRecord, error)

	// PendingCount returns the number of unacknowledged records
	PendingCount(ctx context.Context) (int, error)

	// GetChange retrieves a record by client_seq
	// Returns ErrChangeNotFound if record doesn't exist
	GetChange(ctx context.Context, clientSeq int64) (*models.ChangeRecord, error)

	// Acknowledge marks a record as applied by the server
	Acknowledge(ctx context.Context, clientSeq, serverSeq int64, serverID string) error

	// MarkConflicted marks a record as sent to manual conflict resolution
	MarkConflicted(ctx context.Context, clientSeq int64) error

	// MarkRejected marks a record as rejected by server validation
	MarkRejected(ctx context.Context, clientSeq int64) error
}

// EntityStorage defines interface for local entity state on the device
type EntityStorage interface {
	// SaveEntity сохраняет локальное состояние сущности вместе с
	// записью журнала в одной транзакции. Либо сохраняются оба, либо ничего
	SaveEntity(ctx context.Context, entity *models.LocalEntity, record *models.ChangeRecord) (*models.ChangeRecord, error)

	// GetEntity retrieves entity by local ID
	// Returns ErrEntityNotFound if entity doesn't exist
	GetEntity(ctx context.Context, entityType, localID string) (*models.LocalEntity, error)

	// GetEntityByServerID retrieves entity by server-assigned ID
	GetEntityByServerID(ctx context.Context, entityType, serverID string) (*models.LocalEntity, error)

	// ListEntities returns all non-deleted entities of the given type
	ListEntities(ctx context.Context, entityType string) ([]*models.LocalEntity, error)

	// ApplyServerChange применяет скачанное серверное изменение.
	// no-op, если server_seq не новее уже применённого для этой сущности
	ApplyServerChange(ctx context.Context, change *models.ServerChange) error

	// SetServerID records the server-assigned ID after a CREATE is acked
	SetServerID(ctx context.Context, entityType, localID, serverID string, serverSeq int64) error
}

// MetaStorage defines interface for sync metadata
type MetaStorage interface {
	// ClientID returns the stable device identifier, generating one on first call
	ClientID(ctx context.Context) (string, error)

	// SetClientID pins the device identifier (must match the device token claims)
	SetClientID(ctx context.Context, clientID string) error

	// Watermark returns the last server_seq this device has applied
	// Returns 0 if no sync has been performed yet
	Watermark(ctx context.Context) (int64, error)

	// SetWatermark advances the watermark; lower values are ignored
	SetWatermark(ctx context.Context, serverSeq int64) error
}

// MediaQueueStorage defines interface for the local media upload queue
type MediaQueueStorage interface {
	// SaveUpload stores or updates a media upload record
	SaveUpload(ctx context.Context, upload *models.MediaUpload) error

	// GetUpload retrieves an upload record by ID
	GetUpload(ctx context.Context, id string) (*models.MediaUpload, error)

	// GetUploadByObjectKey retrieves an upload record by object key
	GetUploadByObjectKey(ctx context.Context, objectKey string) (*models.MediaUpload, error)

	// PendingUploads returns uploads not yet finalized by the server
	PendingUploads(ctx context.Context) ([]*models.MediaUpload, error)
}
