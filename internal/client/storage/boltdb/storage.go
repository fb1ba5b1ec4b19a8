// Package boltdb реализует durable клиентское хранилище поверх bbolt.
//
// Журнал изменений и состояние сущностей живут в одном файле и
// обновляются в одной транзакции: запись считается выполненной только
// после fsync на диск. Выживание журнала при падении процесса - основа
// offline-first гарантии.
package boltdb

import (
	"context"
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	// BoltDB bucket names
	bucketChangeLog   = []byte("changelog")    // client_seq (8 байт BE) -> ChangeRecord
	bucketEntities    = []byte("entities")     // entity/local_id -> LocalEntity
	bucketEntityIndex = []byte("entity_index") // entity/server_id -> local_id
	bucketMeta        = []byte("meta")         // client_id, watermark
	bucketMedia       = []byte("media")        // upload_id -> MediaUpload
)

// Storage represents BoltDB storage implementation for client
type Storage struct {
	db *bbolt.DB
}

// New creates a new BoltDB storage instance
// dbPath is the path to the BoltDB database file
func New(ctx context.Context, dbPath string) (*Storage, error) {
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	storage := &Storage{db: db}

	if err := storage.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return storage, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// initBuckets создает необходимые buckets если они не существуют
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketChangeLog,
			bucketEntities,
			bucketEntityIndex,
			bucketMeta,
			bucketMedia,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// seqKey кодирует client_seq в big-endian ключ для порядка итерации
func seqKey(seq int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(seq))
	return key
}

// entityKey строит ключ сущности вида "reports/<id>"
func entityKey(entityType, id string) []byte {
	return []byte(entityType + "/" + id)
}
