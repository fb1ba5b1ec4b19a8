// Package sync реализует цикл синхронизации устройства с сервером.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sethvargo/go-retry"

	httpapi "github.com/iudanet/fieldsync/internal/client/api"
	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/models"
	"github.com/iudanet/fieldsync/pkg/api"
)

// ErrAuthExpired токен устройства истёк; синхронизация приостановлена,
// журнал не тронут - после обновления токена батч уходит повторно
var ErrAuthExpired = errors.New("device token expired, sync paused")

// Service определяет интерфейс сервиса синхронизации
type Service interface {
	// SyncOnce выполняет один цикл синхронизации с сервером
	SyncOnce(ctx context.Context) (*SyncResult, error)

	// PendingCount возвращает количество записей, ожидающих отправки
	PendingCount(ctx context.Context) (int, error)
}

// SyncResult contains sync cycle results
type SyncResult struct {
	Pushed    int // отправленных и подтверждённых записей
	Held      int // записей, придержанных из-за незавершённых загрузок медиа
	Conflicts int // записей, ушедших в ручное разрешение
	Rejected  int // записей, отклонённых валидацией сервера
	Pulled    int // применённых серверных изменений
	Uploads   int // завершённых загрузок медиа
	ServerSeq int64
}

// service handles synchronization between device and server
type service struct {
	apiClient httpapi.ClientAPI
	changeLog storage.ChangeLogStorage
	entities  storage.EntityStorage
	meta      storage.MetaStorage
	media     storage.MediaQueueStorage
	logger    *slog.Logger
	batchSize int
}

// NewService creates a new sync service
func NewService(
	apiClient httpapi.ClientAPI,
	changeLog storage.ChangeLogStorage,
	entities storage.EntityStorage,
	meta storage.MetaStorage,
	media storage.MediaQueueStorage,
	batchSize int,
	logger *slog.Logger,
) Service {
	return &service{
		apiClient: apiClient,
		changeLog: changeLog,
		entities:  entities,
		meta:      meta,
		media:     media,
		logger:    logger,
		batchSize: batchSize,
	}
}

// SyncOnce performs one full sync cycle:
// 1. Retries pending media uploads
// 2. Collects unacknowledged change log records, holding back records
//    that reference unfinalized media (and later records for the same entity)
// 3. Sends the batch, retrying transient network errors with backoff
// 4. Processes per-record outcomes (ack / conflict / rejection)
// 5. Applies downloaded server changes and advances the watermark
func (s *service) SyncOnce(ctx context.Context) (*SyncResult, error) {
	result := &SyncResult{}

	uploads, err := s.processUploads(ctx)
	if err != nil {
		return nil, err
	}
	result.Uploads = uploads

	clientID, err := s.meta.ClientID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get client id: %w", err)
	}

	watermark, err := s.meta.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get watermark: %w", err)
	}

	pending, err := s.changeLog.PendingChanges(ctx, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to collect pending changes: %w", err)
	}

	batch, held, err := s.buildBatch(ctx, pending)
	if err != nil {
		return nil, err
	}
	result.Held = held

	req := &api.SyncRequest{
		ClientID:      clientID,
		Changes:       batch,
		LastServerSeq: watermark,
	}

	resp, err := s.doSync(ctx, req)
	if err != nil {
		return nil, err
	}

	for _, outcome := range resp.AppliedChanges {
		if err := s.processOutcome(ctx, outcome, result); err != nil {
			return nil, err
		}
	}

	applied, err := s.applyDownloads(ctx, resp)
	if err != nil {
		return nil, err
	}
	result.Pulled = applied
	result.ServerSeq = resp.ServerSeq

	s.logger.Info("sync cycle finished",
		"pushed", result.Pushed,
		"held", result.Held,
		"conflicts", result.Conflicts,
		"rejected", result.Rejected,
		"pulled", result.Pulled,
		"server_seq", result.ServerSeq)

	return result, nil
}

// PendingCount returns the number of records awaiting sync
func (s *service) PendingCount(ctx context.Context) (int, error) {
	return s.changeLog.PendingCount(ctx)
}

// buildBatch конвертирует записи журнала в формат протокола.
// Запись, ссылающаяся на незагруженное медиа, придерживается; более
// поздние записи той же сущности придерживаются тоже, чтобы сервер
// видел изменения сущности в исходном порядке
func (s *service) buildBatch(ctx context.Context, pending []*models.ChangeRecord) ([]api.Change, int, error) {
	batch := make([]api.Change, 0, len(pending))
	heldEntities := make(map[string]bool)
	held := 0

	for _, record := range pending {
		key := record.Entity + "/" + record.LocalID

		hold := heldEntities[key]
		if !hold {
			var err error
			hold, err = s.hasUnfinalizedMedia(ctx, record)
			if err != nil {
				return nil, 0, err
			}
		}

		if hold {
			heldEntities[key] = true
			held++
			continue
		}

		entityID := record.LocalID
		if record.ServerID != "" {
			entityID = record.ServerID
		}

		batch = append(batch, api.Change{
			ClientSeq:  record.ClientSeq,
			Entity:     record.Entity,
			EntityID:   entityID,
			Operation:  string(record.Operation),
			Payload:    record.Payload,
			BasedOnSeq: record.BasedOnSeq,
			Timestamp:  record.CreatedAt,
		})
	}

	return batch, held, nil
}

// hasUnfinalizedMedia проверяет ссылки payload на локальную очередь загрузок.
// Ключи, неизвестные очереди, считаются завершёнными (загружены другим
// устройством); сервер проверит их окончательно
func (s *service) hasUnfinalizedMedia(ctx context.Context, record *models.ChangeRecord) (bool, error) {
	for _, ref := range models.MediaRefs(record.Payload) {
		upload, err := s.media.GetUploadByObjectKey(ctx, ref)
		if err != nil {
			if errors.Is(err, storage.ErrUploadNotFound) {
				continue
			}
			return false, err
		}
		if upload.Status != models.UploadStatusFinalized {
			return true, nil
		}
	}
	return false, nil
}

// doSync отправляет батч с повтором временных сетевых ошибок
func (s *service) doSync(ctx context.Context, req *api.SyncRequest) (*api.SyncResponse, error) {
	var resp *api.SyncResponse

	backoff := retry.WithJitter(250*time.Millisecond,
		retry.WithMaxRetries(4, retry.NewExponential(500*time.Millisecond)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		resp, err = s.apiClient.Sync(ctx, req)
		if err != nil {
			if httpapi.IsTransient(err) {
				s.logger.Warn("transient sync error, will retry", "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		var apiErr *httpapi.APIError
		if errors.As(err, &apiErr) && apiErr.Code == api.CodeAuthExpired {
			return nil, ErrAuthExpired
		}
		return nil, fmt.Errorf("sync request failed: %w", err)
	}

	return resp, nil
}

// processOutcome применяет результат сервера к записи журнала
func (s *service) processOutcome(ctx context.Context, outcome api.AppliedChange, result *SyncResult) error {
	switch outcome.Status {
	case api.StatusApplied, api.StatusAppliedResolved:
		record, err := s.changeLog.GetChange(ctx, outcome.ClientSeq)
		if err != nil {
			return fmt.Errorf("failed to load acked change %d: %w", outcome.ClientSeq, err)
		}

		if err := s.changeLog.Acknowledge(ctx, outcome.ClientSeq, outcome.ServerSeq, outcome.EntityID); err != nil {
			return fmt.Errorf("failed to ack change %d: %w", outcome.ClientSeq, err)
		}

		// После подтверждения CREATE сущность получает серверный ID
		if record.Operation == models.OpCreate && outcome.EntityID != "" {
			err := s.entities.SetServerID(ctx, record.Entity, record.LocalID, outcome.EntityID, outcome.ServerSeq)
			if err != nil && !errors.Is(err, storage.ErrEntityNotFound) {
				return fmt.Errorf("failed to set server id: %w", err)
			}
		}

		result.Pushed++

	case api.StatusConflict:
		if err := s.changeLog.MarkConflicted(ctx, outcome.ClientSeq); err != nil {
			return fmt.Errorf("failed to mark conflict %d: %w", outcome.ClientSeq, err)
		}
		s.logger.Warn("change sent to manual resolution",
			"client_seq", outcome.ClientSeq,
			"conflict_id", outcome.ConflictID)
		result.Conflicts++

	case api.StatusRejected:
		if err := s.changeLog.MarkRejected(ctx, outcome.ClientSeq); err != nil {
			return fmt.Errorf("failed to mark rejection %d: %w", outcome.ClientSeq, err)
		}
		s.logger.Warn("change rejected by server",
			"client_seq", outcome.ClientSeq,
			"reason", outcome.Reason)
		result.Rejected++

	default:
		return fmt.Errorf("unknown outcome status %q for client_seq %d", outcome.Status, outcome.ClientSeq)
	}

	return nil
}

// applyDownloads применяет серверные изменения и продвигает watermark.
// Watermark продвигается только до максимального применённого server_seq:
// пропуск изменения означал бы его потерю навсегда
func (s *service) applyDownloads(ctx context.Context, resp *api.SyncResponse) (int, error) {
	applied := 0
	var maxSeq int64

	for _, ch := range resp.Changes {
		op := models.Operation(ch.Operation)
		if ch.Deleted {
			op = models.OpDelete
		}

		err := s.entities.ApplyServerChange(ctx, &models.ServerChange{
			ServerSeq: ch.ServerSeq,
			Entity:    ch.Entity,
			EntityID:  ch.EntityID,
			Operation: op,
			Payload:   ch.Payload,
			AppliedAt: ch.AppliedAt,
		})
		if err != nil {
			return applied, fmt.Errorf("failed to apply server change %d: %w", ch.ServerSeq, err)
		}

		applied++
		if ch.ServerSeq > maxSeq {
			maxSeq = ch.ServerSeq
		}
	}

	// Пустой список изменений означает, что мы видели всё до resp.ServerSeq
	if maxSeq == 0 {
		maxSeq = resp.ServerSeq
	}

	if maxSeq > 0 {
		if err := s.meta.SetWatermark(ctx, maxSeq); err != nil {
			return applied, fmt.Errorf("failed to advance watermark: %w", err)
		}
	}

	return applied, nil
}

// processUploads прогоняет очередь загрузки медиа: грант, PUT, finalize.
// Ошибки загрузки не останавливают цикл - изменения с этими ссылками
// будут придержаны, загрузка повторится в следующем цикле
func (s *service) processUploads(ctx context.Context) (int, error) {
	pending, err := s.media.PendingUploads(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending uploads: %w", err)
	}

	finalized := 0
	for _, upload := range pending {
		if err := s.processUpload(ctx, upload); err != nil {
			var apiErr *httpapi.APIError
			if errors.As(err, &apiErr) && apiErr.Code == api.CodeAuthExpired {
				return finalized, ErrAuthExpired
			}
			s.logger.Warn("media upload failed, will retry",
				"upload_id", upload.ID,
				"error", err)
			continue
		}
		finalized++
	}

	return finalized, nil
}

// processUpload выполняет полный цикл загрузки одного файла
func (s *service) processUpload(ctx context.Context, upload *models.MediaUpload) error {
	grantResp, err := s.apiClient.RequestUpload(ctx, api.RequestUploadRequest{
		Filename:    upload.FilePath,
		ContentType: upload.ContentType,
		FileSize:    upload.Size,
		SHA256:      upload.SHA256,
	})
	if err != nil {
		return fmt.Errorf("failed to request grant: %w", err)
	}

	upload.GrantID = grantResp.GrantID
	upload.ObjectKey = grantResp.FileURL
	if err := s.media.SaveUpload(ctx, upload); err != nil {
		return err
	}

	file, err := os.Open(upload.FilePath)
	if err != nil {
		return fmt.Errorf("failed to open media file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	if err := s.apiClient.Upload(ctx, grantResp.UploadURL, upload.ContentType, upload.Size, file); err != nil {
		return fmt.Errorf("failed to upload: %w", err)
	}

	finalizeResp, err := s.apiClient.FinalizeUpload(ctx, api.FinalizeUploadRequest{
		GrantID: upload.GrantID,
		SHA256:  upload.SHA256,
	})
	if err != nil {
		return fmt.Errorf("failed to finalize: %w", err)
	}

	upload.ObjectKey = finalizeResp.ObjectKey
	upload.Status = models.UploadStatusFinalized
	if err := s.media.SaveUpload(ctx, upload); err != nil {
		return err
	}

	s.logger.Info("media upload finalized",
		"upload_id", upload.ID,
		"object_key", upload.ObjectKey)

	return nil
}
