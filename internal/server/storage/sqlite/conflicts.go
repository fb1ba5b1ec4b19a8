package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/fieldsync/internal/models"
	"github.com/iudanet/fieldsync/internal/server/storage"
)

// SaveConflict сохраняет новый ConflictRecord в состоянии pending_manual
func (s *Storage) SaveConflict(ctx context.Context, c *models.ConflictRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conflicts (
			id, entity, entity_id, client_id, client_seq,
			operation, client_value, server_value, resolution, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID,
		c.Entity,
		c.EntityID,
		c.ClientID,
		c.ClientSeq,
		string(c.Operation),
		string(c.ClientValue),
		string(c.ServerValue),
		c.Resolution,
		c.DetectedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert conflict: %w", err)
	}

	return nil
}

// GetConflict возвращает конфликт по идентификатору
// Returns ErrConflictNotFound if conflict doesn't exist
func (s *Storage) GetConflict(ctx context.Context, id string) (*models.ConflictRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, entity, entity_id, client_id, client_seq,
		       operation, client_value, server_value, resolution,
		       detected_at, resolved_at
		FROM conflicts
		WHERE id = ?
	`, id)

	return scanConflict(row)
}

// GetConflictByClientSeq возвращает конфликт по паре (client_id, client_seq)
// для идемпотентного replay конфликтных записей
func (s *Storage) GetConflictByClientSeq(ctx context.Context, clientID string, clientSeq int64) (*models.ConflictRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, entity, entity_id, client_id, client_seq,
		       operation, client_value, server_value, resolution,
		       detected_at, resolved_at
		FROM conflicts
		WHERE client_id = ? AND client_seq = ?
	`, clientID, clientSeq)

	return scanConflict(row)
}

// ListPendingConflicts возвращает конфликты, ожидающие ручного разрешения,
// в порядке обнаружения
func (s *Storage) ListPendingConflicts(ctx context.Context) ([]*models.ConflictRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity, entity_id, client_id, client_seq,
		       operation, client_value, server_value, resolution,
		       detected_at, resolved_at
		FROM conflicts
		WHERE resolution = ?
		ORDER BY detected_at ASC
	`, models.ResolutionPendingManual)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending conflicts: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var conflicts []*models.ConflictRecord
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return conflicts, nil
}

// ResolveConflict помечает конфликт разрешённым (архивирует его)
// Returns ErrConflictResolved if it was already resolved
func (s *Storage) ResolveConflict(ctx context.Context, id, resolution string, resolvedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conflicts
		SET resolution = ?, resolved_at = ?
		WHERE id = ? AND resolution = ?
	`, resolution, resolvedAt.Unix(), id, models.ResolutionPendingManual)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Либо конфликта нет, либо он уже разрешён
		if _, err := s.GetConflict(ctx, id); err != nil {
			return err
		}
		return storage.ErrConflictResolved
	}

	return nil
}

func scanConflict(row scanner) (*models.ConflictRecord, error) {
	c := &models.ConflictRecord{}
	var op, clientValue, serverValue string
	var detectedAt, resolvedAt int64

	err := row.Scan(
		&c.ID,
		&c.Entity,
		&c.EntityID,
		&c.ClientID,
		&c.ClientSeq,
		&op,
		&clientValue,
		&serverValue,
		&c.Resolution,
		&detectedAt,
		&resolvedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrConflictNotFound
		}
		return nil, fmt.Errorf("failed to scan conflict: %w", err)
	}

	c.Operation = models.Operation(op)
	c.ClientValue = json.RawMessage(clientValue)
	c.ServerValue = json.RawMessage(serverValue)
	c.DetectedAt = unixToTime(detectedAt)
	if resolvedAt > 0 {
		c.ResolvedAt = unixToTime(resolvedAt)
	}

	return c, nil
}
