package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/iudanet/fieldsync/internal/models"
	"github.com/iudanet/fieldsync/internal/server/storage"
)

// RecordChange атомарно применяет одно изменение: в одной транзакции
// выделяет server_seq, сохраняет ServerChange, сворачивает снапшот и
// для CREATE регистрирует alias локального идентификатора клиента.
// Проверка expectLastSeq - optimistic check поверх per-client
// сериализации: несовпадение означает гонку и возвращает ErrSnapshotStale.
func (s *Storage) RecordChange(ctx context.Context, ch *models.ServerChange, localID string, expectLastSeq int64) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Идемпотентность: пара (client_id, client_seq) применяется один раз
	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM server_changes WHERE client_id = ? AND client_seq = ?`,
		ch.ClientID, ch.ClientSeq,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check duplicate change: %w", err)
	}
	if exists > 0 {
		return storage.ErrDuplicateChange
	}

	// Выделяем глобальный номер внутри этой же транзакции
	seq, err := s.seq.Next(ctx, tx)
	if err != nil {
		return err
	}

	now := s.clock()
	ch.ServerSeq = seq
	ch.AppliedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO server_changes (
			server_seq, client_id, client_seq, entity, entity_id,
			operation, payload, resolution, applied_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ch.ServerSeq,
		ch.ClientID,
		ch.ClientSeq,
		ch.Entity,
		ch.EntityID,
		string(ch.Operation),
		string(ch.Payload),
		ch.Resolution,
		now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert change: %w", err)
	}

	// Сворачиваем снапшот
	if err = s.foldSnapshot(ctx, tx, ch, expectLastSeq); err != nil {
		return err
	}

	// Для CREATE запоминаем соответствие локального идентификатора серверному
	if ch.Operation == models.OpCreate && localID != "" && localID != ch.EntityID {
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO entity_aliases (client_id, entity, local_id, entity_id)
			VALUES (?, ?, ?, ?)
		`, ch.ClientID, ch.Entity, localID, ch.EntityID)
		if err != nil {
			return fmt.Errorf("failed to save entity alias: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit change: %w", err)
	}

	return nil
}

// foldSnapshot применяет одно изменение к материализованному состоянию.
// Свёртка замещающая: payload изменения становится новым состоянием.
func (s *Storage) foldSnapshot(ctx context.Context, tx *sql.Tx, ch *models.ServerChange, expectLastSeq int64) error {
	now := s.clock().Unix()

	if ch.Operation == models.OpCreate {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entity_snapshots (entity, entity_id, payload, last_seq, deleted, updated_at)
			VALUES (?, ?, ?, ?, 0, ?)
		`, ch.Entity, ch.EntityID, string(ch.Payload), ch.ServerSeq, now)
		if err != nil {
			// Существующий снапшот при CREATE означает гонку двух создателей
			if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "constraint") {
				return storage.ErrSnapshotStale
			}
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}
		return nil
	}

	deleted := 0
	if ch.Operation == models.OpDelete {
		deleted = 1
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE entity_snapshots
		SET payload = ?, last_seq = ?, deleted = ?, updated_at = ?
		WHERE entity = ? AND entity_id = ? AND last_seq = ?
	`, string(ch.Payload), ch.ServerSeq, deleted, now, ch.Entity, ch.EntityID, expectLastSeq)
	if err != nil {
		return fmt.Errorf("failed to update snapshot: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrSnapshotStale
	}

	return nil
}

// GetChangeByClientSeq возвращает применённое изменение по паре
// (client_id, client_seq) для идемпотентного replay
func (s *Storage) GetChangeByClientSeq(ctx context.Context, clientID string, clientSeq int64) (*models.ServerChange, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT server_seq, client_id, client_seq, entity, entity_id,
		       operation, payload, resolution, applied_at
		FROM server_changes
		WHERE client_id = ? AND client_seq = ?
	`, clientID, clientSeq)

	return scanChange(row)
}

// PayloadAt возвращает payload изменения с данным server_seq
// (состояние сущности на момент seq, поскольку свёртка замещающая)
func (s *Storage) PayloadAt(ctx context.Context, serverSeq int64) (json.RawMessage, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM server_changes WHERE server_seq = ?`, serverSeq,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrChangeNotFound
		}
		return nil, fmt.Errorf("failed to get payload at seq: %w", err)
	}

	return json.RawMessage(payload), nil
}

// ChangesSince возвращает изменения с server_seq > since в порядке server_seq
func (s *Storage) ChangesSince(ctx context.Context, since int64, limit int) ([]*models.ServerChange, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT server_seq, client_id, client_seq, entity, entity_id,
		       operation, payload, resolution, applied_at
		FROM server_changes
		WHERE server_seq > ?
		ORDER BY server_seq ASC
		LIMIT ?
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes since: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var changes []*models.ServerChange
	for rows.Next() {
		ch, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, ch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return changes, nil
}

// CurrentSeq возвращает последний выделенный server_seq
func (s *Storage) CurrentSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM sequence_counter WHERE id = 1`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to get current sequence: %w", err)
	}
	return seq, nil
}

// scanner покрывает *sql.Row и *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanChange(row scanner) (*models.ServerChange, error) {
	ch := &models.ServerChange{}
	var op, payload string
	var appliedAt int64

	err := row.Scan(
		&ch.ServerSeq,
		&ch.ClientID,
		&ch.ClientSeq,
		&ch.Entity,
		&ch.EntityID,
		&op,
		&payload,
		&ch.Resolution,
		&appliedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrChangeNotFound
		}
		return nil, fmt.Errorf("failed to scan change: %w", err)
	}

	ch.Operation = models.Operation(op)
	ch.Payload = json.RawMessage(payload)
	ch.AppliedAt = unixToTime(appliedAt)

	return ch, nil
}
