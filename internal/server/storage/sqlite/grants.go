package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iudanet/fieldsync/internal/models"
	"github.com/iudanet/fieldsync/internal/server/storage"
)

// SaveGrant сохраняет новый медиа-грант в состоянии issued
func (s *Storage) SaveGrant(ctx context.Context, g *models.MediaGrant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media_grants (
			id, client_id, object_key, content_type, declared_size,
			declared_sha256, observed_sha256, status, expires_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		g.ID,
		g.ClientID,
		g.ObjectKey,
		g.ContentType,
		g.DeclaredSize,
		g.DeclaredSHA256,
		g.ObservedSHA256,
		g.Status,
		g.ExpiresAt.Unix(),
		g.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert grant: %w", err)
	}

	return nil
}

// GetGrant возвращает грант по идентификатору
// Returns ErrGrantNotFound if grant doesn't exist
func (s *Storage) GetGrant(ctx context.Context, id string) (*models.MediaGrant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, object_key, content_type, declared_size,
		       declared_sha256, observed_sha256, status, expires_at, created_at
		FROM media_grants
		WHERE id = ?
	`, id)

	return scanGrant(row)
}

// UpdateGrant обновляет статус и наблюдаемый хеш гранта
func (s *Storage) UpdateGrant(ctx context.Context, g *models.MediaGrant) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE media_grants
		SET status = ?, observed_sha256 = ?
		WHERE id = ?
	`, g.Status, g.ObservedSHA256, g.ID)
	if err != nil {
		return fmt.Errorf("failed to update grant: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrGrantNotFound
	}

	return nil
}

// GetCompletedGrantByObjectKey возвращает завершённый грант по ключу объекта.
// Используется валидацией sync-батчей: ссылка на объект без завершённого
// гранта отклоняется.
func (s *Storage) GetCompletedGrantByObjectKey(ctx context.Context, objectKey string) (*models.MediaGrant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, object_key, content_type, declared_size,
		       declared_sha256, observed_sha256, status, expires_at, created_at
		FROM media_grants
		WHERE object_key = ? AND status = ?
	`, objectKey, models.GrantStatusCompleted)

	return scanGrant(row)
}

func scanGrant(row scanner) (*models.MediaGrant, error) {
	g := &models.MediaGrant{}
	var expiresAt, createdAt int64

	err := row.Scan(
		&g.ID,
		&g.ClientID,
		&g.ObjectKey,
		&g.ContentType,
		&g.DeclaredSize,
		&g.DeclaredSHA256,
		&g.ObservedSHA256,
		&g.Status,
		&expiresAt,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrGrantNotFound
		}
		return nil, fmt.Errorf("failed to scan grant: %w", err)
	}

	g.ExpiresAt = unixToTime(expiresAt)
	g.CreatedAt = unixToTime(createdAt)

	return g, nil
}
