package boltdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/models"
)

// SaveEntity сохраняет состояние сущности и запись журнала в одной
// транзакции: либо применяются оба, либо ничего
func (s *Storage) SaveEntity(ctx context.Context, entity *models.LocalEntity, record *models.ChangeRecord) (*models.ChangeRecord, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := appendChange(tx, record); err != nil {
			return err
		}
		return putEntity(tx, entity)
	})
	if err != nil {
		return nil, errors.Join(storage.ErrPersistence, err)
	}

	return record, nil
}

// putEntity пишет сущность и её server_id индекс внутри транзакции
func putEntity(tx *bbolt.Tx, entity *models.LocalEntity) error {
	bucket := tx.Bucket(bucketEntities)
	if bucket == nil {
		return fmt.Errorf("entities bucket not found")
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}

	if err := bucket.Put(entityKey(entity.Entity, entity.LocalID), data); err != nil {
		return fmt.Errorf("failed to save entity: %w", err)
	}

	if entity.ServerID != "" && entity.ServerID != entity.LocalID {
		index := tx.Bucket(bucketEntityIndex)
		if index == nil {
			return fmt.Errorf("entity_index bucket not found")
		}
		if err := index.Put(entityKey(entity.Entity, entity.ServerID), []byte(entity.LocalID)); err != nil {
			return fmt.Errorf("failed to save entity index: %w", err)
		}
	}

	return nil
}

// GetEntity retrieves entity by local ID
func (s *Storage) GetEntity(ctx context.Context, entityType, localID string) (*models.LocalEntity, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var entity *models.LocalEntity

	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		entity, err = getEntity(tx, entityType, localID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return entity, nil
}

func getEntity(tx *bbolt.Tx, entityType, localID string) (*models.LocalEntity, error) {
	bucket := tx.Bucket(bucketEntities)
	if bucket == nil {
		return nil, storage.ErrEntityNotFound
	}

	data := bucket.Get(entityKey(entityType, localID))
	if data == nil {
		return nil, storage.ErrEntityNotFound
	}

	entity := &models.LocalEntity{}
	if err := json.Unmarshal(data, entity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity: %w", err)
	}
	return entity, nil
}

// GetEntityByServerID retrieves entity by server-assigned ID
func (s *Storage) GetEntityByServerID(ctx context.Context, entityType, serverID string) (*models.LocalEntity, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var entity *models.LocalEntity

	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		entity, err = getEntityByServerID(tx, entityType, serverID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return entity, nil
}

func getEntityByServerID(tx *bbolt.Tx, entityType, serverID string) (*models.LocalEntity, error) {
	// Сначала индекс server_id -> local_id, затем прямой ключ:
	// для скачанных с сервера сущностей local_id совпадает с server_id
	if index := tx.Bucket(bucketEntityIndex); index != nil {
		if localID := index.Get(entityKey(entityType, serverID)); localID != nil {
			return getEntity(tx, entityType, string(localID))
		}
	}
	return getEntity(tx, entityType, serverID)
}

// ListEntities returns all non-deleted entities of the given type
func (s *Storage) ListEntities(ctx context.Context, entityType string) ([]*models.LocalEntity, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var entities []*models.LocalEntity
	prefix := []byte(entityType + "/")

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntities)
		if bucket == nil {
			return nil
		}

		cursor := bucket.Cursor()
		for k, v := cursor.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = cursor.Next() {
			entity := &models.LocalEntity{}
			if err := json.Unmarshal(v, entity); err != nil {
				return fmt.Errorf("failed to unmarshal entity: %w", err)
			}
			if !entity.Deleted {
				entities = append(entities, entity)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entities, nil
}

// ApplyServerChange применяет скачанное серверное изменение.
// Применение идемпотентно: изменение с server_seq не новее уже
// применённого для этой сущности игнорируется
func (s *Storage) ApplyServerChange(ctx context.Context, change *models.ServerChange) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		entity, err := getEntityByServerID(tx, change.Entity, change.EntityID)
		if err != nil {
			if !errors.Is(err, storage.ErrEntityNotFound) {
				return err
			}
			// Новая для устройства сущность: local_id = server_id
			entity = &models.LocalEntity{
				Entity:   change.Entity,
				LocalID:  change.EntityID,
				ServerID: change.EntityID,
			}
		}

		if change.ServerSeq <= entity.LastServerSeq {
			return nil
		}

		entity.LastServerSeq = change.ServerSeq
		entity.UpdatedAt = change.AppliedAt
		if change.Operation == models.OpDelete {
			entity.Deleted = true
		} else {
			entity.Deleted = false
			entity.Payload = change.Payload
		}

		return putEntity(tx, entity)
	})
	if err != nil {
		return errors.Join(storage.ErrPersistence, err)
	}

	return nil
}

// SetServerID records the server-assigned ID after a CREATE is acked
func (s *Storage) SetServerID(ctx context.Context, entityType, localID, serverID string, serverSeq int64) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		entity, err := getEntity(tx, entityType, localID)
		if err != nil {
			return err
		}

		entity.ServerID = serverID
		if serverSeq > entity.LastServerSeq {
			entity.LastServerSeq = serverSeq
		}

		return putEntity(tx, entity)
	})
	if err != nil {
		if errors.Is(err, storage.ErrEntityNotFound) {
			return err
		}
		return errors.Join(storage.ErrPersistence, err)
	}

	return nil
}
