package boltdb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/iudanet/fieldsync/internal/client/storage"
)

var (
	keyClientID  = []byte("client_id")
	keyWatermark = []byte("watermark")
)

// ClientID returns the stable device identifier, generating one on first call
func (s *Storage) ClientID(ctx context.Context) (string, error) {
	if s.db == nil {
		return "", storage.ErrStorageClosed
	}

	var clientID string

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		if bucket == nil {
			return fmt.Errorf("meta bucket not found")
		}

		if data := bucket.Get(keyClientID); data != nil {
			clientID = string(data)
			return nil
		}

		clientID = uuid.NewString()
		return bucket.Put(keyClientID, []byte(clientID))
	})
	if err != nil {
		return "", errors.Join(storage.ErrPersistence, err)
	}

	return clientID, nil
}

// SetClientID pins the device identifier.
// Идентификатор должен совпадать с client_id в claims токена устройства
func (s *Storage) SetClientID(ctx context.Context, clientID string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		if bucket == nil {
			return fmt.Errorf("meta bucket not found")
		}
		return bucket.Put(keyClientID, []byte(clientID))
	})
	if err != nil {
		return errors.Join(storage.ErrPersistence, err)
	}

	return nil
}

// Watermark returns the last server_seq this device has applied
func (s *Storage) Watermark(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var watermark int64

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		if bucket == nil {
			return nil
		}

		if data := bucket.Get(keyWatermark); len(data) == 8 {
			watermark = int64(binary.BigEndian.Uint64(data))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return watermark, nil
}

// SetWatermark advances the watermark; lower values are ignored
func (s *Storage) SetWatermark(ctx context.Context, serverSeq int64) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		if bucket == nil {
			return fmt.Errorf("meta bucket not found")
		}

		if data := bucket.Get(keyWatermark); len(data) == 8 {
			if current := int64(binary.BigEndian.Uint64(data)); serverSeq <= current {
				return nil
			}
		}

		return bucket.Put(keyWatermark, seqKey(serverSeq))
	})
	if err != nil {
		return errors.Join(storage.ErrPersistence, err)
	}

	return nil
}
