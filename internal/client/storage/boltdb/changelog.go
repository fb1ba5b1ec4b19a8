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

// Append durable-записывает изменение в журнал.
// client_seq выдаётся через NextSequence внутри транзакции записи,
// поэтому номера монотонны и без пропусков даже при падении процесса
func (s *Storage) Append(ctx context.Context, record *models.ChangeRecord) (*models.ChangeRecord, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return appendChange(tx, record)
	})
	if err != nil {
		return nil, errors.Join(storage.ErrPersistence, err)
	}

	return record, nil
}

// appendChange пишет запись журнала внутри открытой транзакции.
// Используется и Append, и SaveEntity (атомарность сущность+журнал)
func appendChange(tx *bbolt.Tx, record *models.ChangeRecord) error {
	bucket := tx.Bucket(bucketChangeLog)
	if bucket == nil {
		return fmt.Errorf("changelog bucket not found")
	}

	seq, err := bucket.NextSequence()
	if err != nil {
		return fmt.Errorf("failed to allocate client_seq: %w", err)
	}
	record.ClientSeq = int64(seq)

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal change record: %w", err)
	}

	if err := bucket.Put(seqKey(record.ClientSeq), data); err != nil {
		return fmt.Errorf("failed to save change record: %w", err)
	}

	return nil
}

// PendingChanges returns unacknowledged records in client_seq order
func (s *Storage) PendingChanges(ctx context.Context, limit int) ([]*models.ChangeRecord, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var records []*models.ChangeRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketChangeLog)
		if bucket == nil {
			return nil
		}

		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			record := &models.ChangeRecord{}
			if err := json.Unmarshal(v, record); err != nil {
				return fmt.Errorf("failed to unmarshal change record: %w", err)
			}

			if !record.Pending() {
				continue
			}

			records = append(records, record)
			if limit > 0 && len(records) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// PendingCount returns the number of unacknowledged records
func (s *Storage) PendingCount(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketChangeLog)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			record := &models.ChangeRecord{}
			if err := json.Unmarshal(v, record); err != nil {
				return fmt.Errorf("failed to unmarshal change record: %w", err)
			}
			if record.Pending() {
				count++
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

// GetChange retrieves a record by client_seq
func (s *Storage) GetChange(ctx context.Context, clientSeq int64) (*models.ChangeRecord, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var record *models.ChangeRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketChangeLog)
		if bucket == nil {
			return storage.ErrChangeNotFound
		}

		data := bucket.Get(seqKey(clientSeq))
		if data == nil {
			return storage.ErrChangeNotFound
		}

		record = &models.ChangeRecord{}
		if err := json.Unmarshal(data, record); err != nil {
			return fmt.Errorf("failed to unmarshal change record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// Acknowledge marks a record as applied by the server
func (s *Storage) Acknowledge(ctx context.Context, clientSeq, serverSeq int64, serverID string) error {
	return s.updateChange(clientSeq, func(record *models.ChangeRecord) {
		record.Acked = true
		record.ServerSeq = serverSeq
		if serverID != "" {
			record.ServerID = serverID
		}
	})
}

// MarkConflicted marks a record as sent to manual conflict resolution
func (s *Storage) MarkConflicted(ctx context.Context, clientSeq int64) error {
	return s.updateChange(clientSeq, func(record *models.ChangeRecord) {
		record.Conflicted = true
	})
}

// MarkRejected marks a record as rejected by server validation
func (s *Storage) MarkRejected(ctx context.Context, clientSeq int64) error {
	return s.updateChange(clientSeq, func(record *models.ChangeRecord) {
		record.Rejected = true
	})
}

// updateChange читает, мутирует и пишет обратно запись журнала
func (s *Storage) updateChange(clientSeq int64, mutate func(*models.ChangeRecord)) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketChangeLog)
		if bucket == nil {
			return storage.ErrChangeNotFound
		}

		key := seqKey(clientSeq)
		data := bucket.Get(key)
		if data == nil {
			return storage.ErrChangeNotFound
		}

		record := &models.ChangeRecord{}
		if err := json.Unmarshal(data, record); err != nil {
			return fmt.Errorf("failed to unmarshal change record: %w", err)
		}

		mutate(record)

		updated, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal change record: %w", err)
		}

		return bucket.Put(key, updated)
	})
	if err != nil {
		if errors.Is(err, storage.ErrChangeNotFound) {
			return err
		}
		return errors.Join(storage.ErrPersistence, err)
	}

	return nil
}
