package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iudanet/fieldsync/internal/models"
	"github.com/iudanet/fieldsync/internal/server/storage"
)

// GetSnapshot возвращает текущее материализованное состояние сущности
// Returns ErrSnapshotNotFound if entity was never created
func (s *Storage) GetSnapshot(ctx context.Context, entity, entityID string) (*models.EntitySnapshot, error) {
	snap := &models.EntitySnapshot{}
	var payload string
	var deleted int
	var updatedAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT entity, entity_id, payload, last_seq, deleted, updated_at
		FROM entity_snapshots
		WHERE entity = ? AND entity_id = ?
	`, entity, entityID).Scan(
		&snap.Entity,
		&snap.EntityID,
		&payload,
		&snap.LastSeq,
		&deleted,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	snap.Payload = json.RawMessage(payload)
	snap.Deleted = intToBool(deleted)
	snap.UpdatedAt = unixToTime(updatedAt)

	return snap, nil
}

// ResolveAlias возвращает серверный идентификатор, зарегистрированный для
// локального идентификатора клиента ("" если соответствия нет)
func (s *Storage) ResolveAlias(ctx context.Context, clientID, entity, localID string) (string, error) {
	var entityID string
	err := s.db.QueryRowContext(ctx, `
		SELECT entity_id FROM entity_aliases
		WHERE client_id = ? AND entity = ? AND local_id = ?
	`, clientID, entity, localID).Scan(&entityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to resolve alias: %w", err)
	}

	return entityID, nil
}

// ClientWatermark возвращает последний заявленный watermark клиента
// (0 если клиент ещё не синхронизировался)
func (s *Storage) ClientWatermark(ctx context.Context, clientID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_server_seq FROM client_watermarks WHERE client_id = ?`, clientID,
	).Scan(&seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get client watermark: %w", err)
	}
	return seq, nil
}

// SetClientWatermark сохраняет watermark клиента, только увеличивая его
func (s *Storage) SetClientWatermark(ctx context.Context, clientID string, seq int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_watermarks (client_id, last_server_seq)
		VALUES (?, ?)
		ON CONFLICT (client_id) DO UPDATE
		SET last_server_seq = MAX(last_server_seq, excluded.last_server_seq)
	`, clientID, seq)
	if err != nil {
		return fmt.Errorf("failed to set client watermark: %w", err)
	}
	return nil
}
