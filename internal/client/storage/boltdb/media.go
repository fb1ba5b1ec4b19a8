package boltdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/models"
)

// SaveUpload stores or updates a media upload record
func (s *Storage) SaveUpload(ctx context.Context, upload *models.MediaUpload) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(upload)
	if err != nil {
		return fmt.Errorf("failed to marshal upload: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMedia)
		if bucket == nil {
			return fmt.Errorf("media bucket not found")
		}
		return bucket.Put([]byte(upload.ID), data)
	})
	if err != nil {
		return errors.Join(storage.ErrPersistence, err)
	}

	return nil
}

// GetUpload retrieves an upload record by ID
func (s *Storage) GetUpload(ctx context.Context, id string) (*models.MediaUpload, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var upload *models.MediaUpload

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMedia)
		if bucket == nil {
			return storage.ErrUploadNotFound
		}

		data := bucket.Get([]byte(id))
		if data == nil {
			return storage.ErrUploadNotFound
		}

		upload = &models.MediaUpload{}
		if err := json.Unmarshal(data, upload); err != nil {
			return fmt.Errorf("failed to unmarshal upload: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return upload, nil
}

// GetUploadByObjectKey retrieves an upload record by object key
func (s *Storage) GetUploadByObjectKey(ctx context.Context, objectKey string) (*models.MediaUpload, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var upload *models.MediaUpload

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMedia)
		if bucket == nil {
			return storage.ErrUploadNotFound
		}

		return bucket.ForEach(func(k, v []byte) error {
			if upload != nil {
				return nil
			}
			candidate := &models.MediaUpload{}
			if err := json.Unmarshal(v, candidate); err != nil {
				return fmt.Errorf("failed to unmarshal upload: %w", err)
			}
			if candidate.ObjectKey == objectKey {
				upload = candidate
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if upload == nil {
		return nil, storage.ErrUploadNotFound
	}

	return upload, nil
}

// PendingUploads returns uploads not yet finalized by the server
func (s *Storage) PendingUploads(ctx context.Context) ([]*models.MediaUpload, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var uploads []*models.MediaUpload

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMedia)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			upload := &models.MediaUpload{}
			if err := json.Unmarshal(v, upload); err != nil {
				return fmt.Errorf("failed to unmarshal upload: %w", err)
			}
			if upload.Status == models.UploadStatusPending {
				uploads = append(uploads, upload)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return uploads, nil
}
