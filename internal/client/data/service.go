// Package data реализует офлайн-операции над сущностями на устройстве.
//
// Каждая операция durable-записывает изменение в журнал вместе с новым
// состоянием сущности; синхронизация с сервером происходит отдельно.
package data

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/models"
	"github.com/iudanet/fieldsync/internal/validation"
)

// Service handles local entity operations
type Service struct {
	entities storage.EntityStorage
	media    storage.MediaQueueStorage
	logger   *slog.Logger
	clock    func() time.Time
}

// NewService creates a new data service
func NewService(entities storage.EntityStorage, media storage.MediaQueueStorage, logger *slog.Logger) *Service {
	return &Service{
		entities: entities,
		media:    media,
		logger:   logger,
		clock:    time.Now,
	}
}

// Create создаёт сущность и пишет CREATE в журнал
func (s *Service) Create(ctx context.Context, entityType string, payload json.RawMessage) (*models.LocalEntity, error) {
	localID := uuid.NewString()

	if err := validation.ValidateChange(entityType, localID, models.OpCreate, payload); err != nil {
		return nil, err
	}

	now := s.clock()
	entity := &models.LocalEntity{
		Entity:    entityType,
		LocalID:   localID,
		Payload:   payload,
		UpdatedAt: now,
	}

	record := &models.ChangeRecord{
		CreatedAt: now,
		Entity:    entityType,
		LocalID:   localID,
		Operation: models.OpCreate,
		Payload:   payload,
	}

	if _, err := s.entities.SaveEntity(ctx, entity, record); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", entityType, err)
	}

	s.logger.Info("entity created",
		"entity", entityType,
		"local_id", localID,
		"client_seq", record.ClientSeq)

	return entity, nil
}

// Update обновляет сущность и пишет UPDATE в журнал.
// based_on_seq фиксирует серверное состояние, на котором основана правка
func (s *Service) Update(ctx context.Context, entityType, id string, payload json.RawMessage) (*models.LocalEntity, error) {
	entity, err := s.lookup(ctx, entityType, id)
	if err != nil {
		return nil, err
	}

	if err := validation.ValidateChange(entityType, entity.LocalID, models.OpUpdate, payload); err != nil {
		return nil, err
	}

	now := s.clock()
	entity.Payload = payload
	entity.UpdatedAt = now

	record := &models.ChangeRecord{
		CreatedAt:  now,
		Entity:     entityType,
		LocalID:    entity.LocalID,
		ServerID:   entity.ServerID,
		Operation:  models.OpUpdate,
		Payload:    payload,
		BasedOnSeq: entity.LastServerSeq,
	}

	if _, err := s.entities.SaveEntity(ctx, entity, record); err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", entityType, err)
	}

	s.logger.Info("entity updated",
		"entity", entityType,
		"local_id", entity.LocalID,
		"client_seq", record.ClientSeq)

	return entity, nil
}

// Delete помечает сущность удалённой и пишет DELETE в журнал
func (s *Service) Delete(ctx context.Context, entityType, id string) error {
	entity, err := s.lookup(ctx, entityType, id)
	if err != nil {
		return err
	}

	now := s.clock()
	entity.Deleted = true
	entity.UpdatedAt = now

	record := &models.ChangeRecord{
		CreatedAt:  now,
		Entity:     entityType,
		LocalID:    entity.LocalID,
		ServerID:   entity.ServerID,
		Operation:  models.OpDelete,
		BasedOnSeq: entity.LastServerSeq,
	}

	if _, err := s.entities.SaveEntity(ctx, entity, record); err != nil {
		return fmt.Errorf("failed to delete %s: %w", entityType, err)
	}

	s.logger.Info("entity deleted",
		"entity", entityType,
		"local_id", entity.LocalID,
		"client_seq", record.ClientSeq)

	return nil
}

// Get возвращает сущность по локальному или серверному идентификатору
func (s *Service) Get(ctx context.Context, entityType, id string) (*models.LocalEntity, error) {
	return s.lookup(ctx, entityType, id)
}

// List возвращает все неудалённые сущности типа
func (s *Service) List(ctx context.Context, entityType string) ([]*models.LocalEntity, error) {
	if err := validation.ValidateEntity(entityType); err != nil {
		return nil, err
	}
	return s.entities.ListEntities(ctx, entityType)
}

// EnqueueMedia ставит файл в очередь загрузки и возвращает запись очереди.
// Хеш считается на месте: он сверяется сервером при finalize
func (s *Service) EnqueueMedia(ctx context.Context, filePath string) (*models.MediaUpload, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open media file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	hash := sha256.New()
	size, err := io.Copy(hash, file)
	if err != nil {
		return nil, fmt.Errorf("failed to hash media file: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(filePath))
	if contentType == "" {
		return nil, fmt.Errorf("cannot determine content type for %s", filePath)
	}

	upload := &models.MediaUpload{
		CreatedAt:   s.clock(),
		ID:          uuid.NewString(),
		FilePath:    filePath,
		ContentType: contentType,
		SHA256:      hex.EncodeToString(hash.Sum(nil)),
		Status:      models.UploadStatusPending,
		Size:        size,
	}

	if err := s.media.SaveUpload(ctx, upload); err != nil {
		return nil, fmt.Errorf("failed to enqueue upload: %w", err)
	}

	s.logger.Info("media enqueued",
		"upload_id", upload.ID,
		"file", filePath,
		"size", size)

	return upload, nil
}

// GetUpload возвращает запись очереди загрузки по идентификатору
func (s *Service) GetUpload(ctx context.Context, id string) (*models.MediaUpload, error) {
	return s.media.GetUpload(ctx, id)
}

// lookup ищет сущность сначала по локальному, затем по серверному ID
func (s *Service) lookup(ctx context.Context, entityType, id string) (*models.LocalEntity, error) {
	entity, err := s.entities.GetEntity(ctx, entityType, id)
	if err == nil {
		return entity, nil
	}
	if !errors.Is(err, storage.ErrEntityNotFound) {
		return nil, err
	}
	return s.entities.GetEntityByServerID(ctx, entityType, id)
}
