// Package media выдаёт одноразовые гранты на загрузку бинарных вложений
// (фото, голосовые заметки) напрямую в хранилище объектов, минуя
// sync-протокол. Изменение может ссылаться только на финализированные
// ключи объектов.
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/fieldsync/internal/models"
	"github.com/iudanet/fieldsync/internal/server/storage"
)

// DefaultGrantTTL срок действия гранта по умолчанию
const DefaultGrantTTL = 15 * time.Minute

// DefaultMaxFileSize максимальный размер вложения по умолчанию (25 MiB)
const DefaultMaxFileSize = 25 << 20

// allowedContentTypes MIME-типы, разрешённые для полевых вложений
var allowedContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"audio/ogg":  ".ogg",
	"audio/mpeg": ".mp3",
	"audio/mp4":  ".m4a",
}

// Coordinator управляет жизненным циклом медиа-грантов:
// issued -> uploaded -> completed, с истечением в любой точке до completed
type Coordinator struct {
	grants      storage.GrantStorage
	blobs       *BlobStore
	signer      *Signer
	logger      *slog.Logger
	clock       func() time.Time
	grantTTL    time.Duration
	maxFileSize int64
}

// NewCoordinator creates a new media upload coordinator
func NewCoordinator(grants storage.GrantStorage, blobs *BlobStore, signer *Signer, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		grants:      grants,
		blobs:       blobs,
		signer:      signer,
		logger:      logger,
		clock:       time.Now,
		grantTTL:    DefaultGrantTTL,
		maxFileSize: DefaultMaxFileSize,
	}
}

// SetClock overrides the time source (testing)
func (c *Coordinator) SetClock(clock func() time.Time) {
	c.clock = clock
}

// RequestGrant выдаёт одноразовый грант на загрузку одного объекта.
// Возвращает грант и подписанный относительный upload URL.
func (c *Coordinator) RequestGrant(ctx context.Context, clientID, filename, contentType string, size int64, declaredSHA256 string) (*models.MediaGrant, string, error) {
	ext, ok := allowedContentTypes[contentType]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrContentType, contentType)
	}

	if size <= 0 || size > c.maxFileSize {
		return nil, "", fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}

	now := c.clock()
	id := uuid.NewString()
	grant := &models.MediaGrant{
		ID:             id,
		ClientID:       clientID,
		ObjectKey:      fmt.Sprintf("media/%s/%s%s", now.Format("2006/01"), id, ext),
		ContentType:    contentType,
		DeclaredSize:   size,
		DeclaredSHA256: strings.ToLower(declaredSHA256),
		Status:         models.GrantStatusIssued,
		ExpiresAt:      now.Add(c.grantTTL),
		CreatedAt:      now,
	}

	if err := c.grants.SaveGrant(ctx, grant); err != nil {
		return nil, "", fmt.Errorf("failed to save grant: %w", err)
	}

	uploadURL := fmt.Sprintf("/api/v1/media/upload/%s?exp=%d&sig=%s",
		grant.ID, grant.ExpiresAt.Unix(), c.signer.Sign(grant.ID, grant.ExpiresAt))

	c.logger.Info("media grant issued",
		"grant_id", grant.ID,
		"client_id", clientID,
		"filename", filename,
		"content_type", contentType,
		"size", size)

	return grant, uploadURL, nil
}

// Upload принимает содержимое объекта по подписанному URL.
// Грант должен быть в состоянии issued и не истёкшим; содержимое
// записывается в blob store, наблюдаемый хеш и размер фиксируются.
func (c *Coordinator) Upload(ctx context.Context, grantID string, expiresUnix int64, signature, contentType string, body io.Reader) error {
	now := c.clock()

	if err := c.signer.Verify(grantID, expiresUnix, signature, now); err != nil {
		return err
	}

	grant, err := c.grants.GetGrant(ctx, grantID)
	if err != nil {
		return err
	}

	if grant.ExpiredAt(now) {
		return c.expireGrant(ctx, grant)
	}

	switch grant.Status {
	case models.GrantStatusIssued:
		// ok
	case models.GrantStatusExpired:
		return ErrGrantExpired
	default:
		return ErrGrantConsumed
	}

	if contentType != "" && contentType != grant.ContentType {
		return fmt.Errorf("%w: declared %s, got %s", ErrContentType, grant.ContentType, contentType)
	}

	// Ограничиваем чтение заявленным размером плюс один байт,
	// чтобы заметить превышение без буферизации всего тела
	limited := io.LimitReader(body, grant.DeclaredSize+1)
	hash, size, err := c.blobs.Put(grant.ObjectKey, limited)
	if err != nil {
		return fmt.Errorf("failed to store object: %w", err)
	}

	if size != grant.DeclaredSize {
		_ = c.blobs.Remove(grant.ObjectKey)
		return fmt.Errorf("%w: declared %d bytes, got %d", ErrTooLarge, grant.DeclaredSize, size)
	}

	grant.Status = models.GrantStatusUploaded
	grant.ObservedSHA256 = hash
	if err := c.grants.UpdateGrant(ctx, grant); err != nil {
		return fmt.Errorf("failed to update grant: %w", err)
	}

	c.logger.Info("media object uploaded",
		"grant_id", grant.ID,
		"object_key", grant.ObjectKey,
		"size", size)

	return nil
}

// Finalize подтверждает загрузку и делает object_key пригодным для ссылок.
// Хеш, наблюдаемый клиентом, сверяется с хешом загруженного объекта
// (и с заявленным при выдаче гранта, если он был указан).
func (c *Coordinator) Finalize(ctx context.Context, grantID, observedSHA256 string) (string, error) {
	now := c.clock()

	grant, err := c.grants.GetGrant(ctx, grantID)
	if err != nil {
		return "", err
	}

	if grant.Status == models.GrantStatusCompleted {
		return "", ErrGrantConsumed
	}

	if grant.ExpiredAt(now) || grant.Status == models.GrantStatusExpired {
		return "", c.expireGrant(ctx, grant)
	}

	if grant.Status != models.GrantStatusUploaded {
		return "", ErrUploadIncomplete
	}

	observed := strings.ToLower(observedSHA256)
	if observed != grant.ObservedSHA256 ||
		(grant.DeclaredSHA256 != "" && observed != grant.DeclaredSHA256) {
		// Повреждённый объект не должен остаться доступным
		_ = c.blobs.Remove(grant.ObjectKey)
		grant.Status = models.GrantStatusExpired
		if err := c.grants.UpdateGrant(ctx, grant); err != nil {
			c.logger.Error("failed to expire grant after hash mismatch",
				"grant_id", grant.ID, "error", err)
		}
		return "", ErrIntegrity
	}

	grant.Status = models.GrantStatusCompleted
	if err := c.grants.UpdateGrant(ctx, grant); err != nil {
		return "", fmt.Errorf("failed to complete grant: %w", err)
	}

	c.logger.Info("media upload finalized",
		"grant_id", grant.ID,
		"object_key", grant.ObjectKey)

	return grant.ObjectKey, nil
}

// expireGrant помечает грант истёкшим и убирает недозагруженный объект
func (c *Coordinator) expireGrant(ctx context.Context, grant *models.MediaGrant) error {
	if grant.Status != models.GrantStatusExpired {
		grant.Status = models.GrantStatusExpired
		if err := c.grants.UpdateGrant(ctx, grant); err != nil {
			c.logger.Error("failed to mark grant expired", "grant_id", grant.ID, "error", err)
		}
		_ = c.blobs.Remove(grant.ObjectKey)
	}
	return ErrGrantExpired
}
