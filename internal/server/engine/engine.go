// Package engine применяет sync-батчи к серверному состоянию.
//
// Дисциплина атомарности: per-item atomic commits с идемпотентным
// replay. Каждая запись батча коммитится в собственной транзакции;
// повторная отправка батча после потерянного ответа возвращает
// сохранённые результаты без повторных побочных эффектов.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/fieldsync/internal/models"
	"github.com/iudanet/fieldsync/internal/server/conflict"
	"github.com/iudanet/fieldsync/internal/server/storage"
	"github.com/iudanet/fieldsync/internal/validation"
	"github.com/iudanet/fieldsync/pkg/api"
)

// ErrStaleBatch батч заявил watermark старше уже применённого этим клиентом
var ErrStaleBatch = errors.New("batch watermark is stale")

// DefaultDownloadLimit максимум серверных изменений в одном ответе
const DefaultDownloadLimit = 1000

// Store объединяет серверные хранилища, нужные движку
type Store interface {
	storage.ChangeStorage
	storage.SnapshotStorage
	storage.WatermarkStorage
	storage.ConflictStorage
	storage.GrantStorage
}

// Engine валидирует и применяет батчи изменений
type Engine struct {
	store         Store
	resolver      *conflict.Resolver
	logger        *slog.Logger
	locks         *clientLocks
	clock         func() time.Time
	downloadLimit int
}

// New creates a new sync engine
func New(store Store, resolver *conflict.Resolver, logger *slog.Logger) *Engine {
	return &Engine{
		store:         store,
		resolver:      resolver,
		logger:        logger,
		locks:         newClientLocks(),
		clock:         time.Now,
		downloadLimit: DefaultDownloadLimit,
	}
}

// SetClock overrides the time source (testing)
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

// ApplyBatch применяет батч одного клиента.
// Записи применяются строго в порядке батча; батчи одного клиента
// сериализованы per-client мьютексом, разные клиенты идут параллельно.
func (e *Engine) ApplyBatch(ctx context.Context, clientID string, req *api.SyncRequest) (*api.SyncResponse, error) {
	unlock := e.locks.lock(clientID)
	defer unlock()

	// Stale-batch rejection: заявленный watermark не может быть старше
	// уже применённого этим клиентом
	stored, err := e.store.ClientWatermark(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to get client watermark: %w", err)
	}
	if req.LastServerSeq < stored {
		return nil, fmt.Errorf("%w: declared %d, already applied %d",
			ErrStaleBatch, req.LastServerSeq, stored)
	}

	resp := &api.SyncResponse{
		AppliedChanges: make([]api.AppliedChange, 0, len(req.Changes)),
		Conflicts:      []api.Conflict{},
	}

	for _, change := range req.Changes {
		outcome, conflictDetail, err := e.applyItem(ctx, clientID, change)
		if err != nil {
			return nil, fmt.Errorf("failed to apply client_seq %d: %w", change.ClientSeq, err)
		}

		resp.AppliedChanges = append(resp.AppliedChanges, outcome)
		if conflictDetail != nil {
			resp.Conflicts = append(resp.Conflicts, *conflictDetail)
		}
	}

	// Скачивание: серверные изменения новее watermark клиента.
	// Собственные только что применённые записи тоже попадают в ответ;
	// клиентская свёртка по last_seq делает повторное применение no-op.
	downloads, err := e.store.ChangesSince(ctx, req.LastServerSeq, e.downloadLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to get changes since %d: %w", req.LastServerSeq, err)
	}
	for _, ch := range downloads {
		resp.Changes = append(resp.Changes, api.ServerChange{
			ServerSeq: ch.ServerSeq,
			Entity:    ch.Entity,
			EntityID:  ch.EntityID,
			Operation: string(ch.Operation),
			Payload:   ch.Payload,
			Deleted:   ch.Operation == models.OpDelete,
			AppliedAt: ch.AppliedAt,
		})
	}

	resp.ServerSeq, err = e.store.CurrentSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current sequence: %w", err)
	}

	if err := e.store.SetClientWatermark(ctx, clientID, req.LastServerSeq); err != nil {
		return nil, fmt.Errorf("failed to set client watermark: %w", err)
	}

	e.logger.Info("batch applied",
		"client_id", clientID,
		"items", len(req.Changes),
		"conflicts", len(resp.Conflicts),
		"downloads", len(resp.Changes),
		"server_seq", resp.ServerSeq)

	return resp, nil
}

// ChangesSince возвращает только серверные изменения для GET-синхронизации
func (e *Engine) ChangesSince(ctx context.Context, since int64) (*api.SyncResponse, error) {
	downloads, err := e.store.ChangesSince(ctx, since, e.downloadLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to get changes since %d: %w", since, err)
	}

	resp := &api.SyncResponse{
		AppliedChanges: []api.AppliedChange{},
		Conflicts:      []api.Conflict{},
	}
	for _, ch := range downloads {
		resp.Changes = append(resp.Changes, api.ServerChange{
			ServerSeq: ch.ServerSeq,
			Entity:    ch.Entity,
			EntityID:  ch.EntityID,
			Operation: string(ch.Operation),
			Payload:   ch.Payload,
			Deleted:   ch.Operation == models.OpDelete,
			AppliedAt: ch.AppliedAt,
		})
	}

	resp.ServerSeq, err = e.store.CurrentSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current sequence: %w", err)
	}

	return resp, nil
}

// applyItem применяет одну запись батча и возвращает её результат
func (e *Engine) applyItem(ctx context.Context, clientID string, change api.Change) (api.AppliedChange, *api.Conflict, error) {
	// Идемпотентный replay: пара (client_id, client_seq) уже применялась
	if applied, err := e.store.GetChangeByClientSeq(ctx, clientID, change.ClientSeq); err == nil {
		outcome := api.AppliedChange{
			ClientSeq: change.ClientSeq,
			ServerSeq: applied.ServerSeq,
			EntityID:  applied.EntityID,
			Status:    api.StatusApplied,
		}
		if applied.Resolution != "" {
			outcome.Status = api.StatusAppliedResolved
			outcome.Resolution = applied.Resolution
		}
		return outcome, nil, nil
	} else if !errors.Is(err, storage.ErrChangeNotFound) {
		return api.AppliedChange{}, nil, err
	}

	// Replay конфликтной записи возвращает тот же конфликт
	if c, err := e.store.GetConflictByClientSeq(ctx, clientID, change.ClientSeq); err == nil {
		return conflictOutcome(change.ClientSeq, c), conflictDetail(c), nil
	} else if !errors.Is(err, storage.ErrConflictNotFound) {
		return api.AppliedChange{}, nil, err
	}

	op := models.Operation(change.Operation)

	// Структурная валидация: отклонённая запись не повторяется клиентом
	if err := validation.ValidateChange(change.Entity, change.EntityID, op, change.Payload); err != nil {
		e.logger.Warn("change rejected",
			"client_id", clientID,
			"client_seq", change.ClientSeq,
			"error", err)
		return rejectedOutcome(change.ClientSeq, err.Error()), nil, nil
	}

	// Ссылки на медиа должны указывать на финализированные объекты
	for _, ref := range models.MediaRefs(change.Payload) {
		if _, err := e.store.GetCompletedGrantByObjectKey(ctx, ref); err != nil {
			if errors.Is(err, storage.ErrGrantNotFound) {
				e.logger.Warn("change references unfinalized media",
					"client_id", clientID,
					"client_seq", change.ClientSeq,
					"object_key", ref)
				return rejectedOutcome(change.ClientSeq,
					fmt.Sprintf("unfinalized media reference: %s", ref)), nil, nil
			}
			return api.AppliedChange{}, nil, err
		}
	}

	// Определяем серверный идентификатор сущности
	entityID, localID, err := e.resolveEntityID(ctx, clientID, change.Entity, change.EntityID, op)
	if err != nil {
		return api.AppliedChange{}, nil, err
	}

	// Загружаем текущее состояние
	snapshot, err := e.store.GetSnapshot(ctx, change.Entity, entityID)
	if err != nil && !errors.Is(err, storage.ErrSnapshotNotFound) {
		return api.AppliedChange{}, nil, err
	}

	decision, err := e.resolver.Resolve(ctx, snapshot, conflict.Incoming{
		Operation:  op,
		Payload:    change.Payload,
		BasedOnSeq: change.BasedOnSeq,
	})
	if err != nil {
		return api.AppliedChange{}, nil, fmt.Errorf("conflict resolution failed: %w", err)
	}

	switch decision.Kind {
	case conflict.NoConflict, conflict.AutoResolved:
		sc := &models.ServerChange{
			ClientID:   clientID,
			ClientSeq:  change.ClientSeq,
			Entity:     change.Entity,
			EntityID:   entityID,
			Operation:  decision.Operation,
			Payload:    decision.Payload,
			Resolution: decision.Rule,
		}

		var expectLastSeq int64
		if snapshot != nil {
			expectLastSeq = snapshot.LastSeq
		}

		if err := e.store.RecordChange(ctx, sc, localID, expectLastSeq); err != nil {
			return api.AppliedChange{}, nil, err
		}

		outcome := api.AppliedChange{
			ClientSeq: change.ClientSeq,
			ServerSeq: sc.ServerSeq,
			EntityID:  entityID,
			Status:    api.StatusApplied,
		}
		if decision.Kind == conflict.AutoResolved {
			outcome.Status = api.StatusAppliedResolved
			outcome.Resolution = decision.Rule
		}
		return outcome, nil, nil

	case conflict.Unresolved:
		record := &models.ConflictRecord{
			ID:          uuid.NewString(),
			Entity:      change.Entity,
			EntityID:    entityID,
			ClientID:    clientID,
			ClientSeq:   change.ClientSeq,
			Operation:   op,
			ClientValue: change.Payload,
			Resolution:  models.ResolutionPendingManual,
			DetectedAt:  e.clock(),
		}
		if snapshot != nil {
			record.ServerValue = snapshot.Payload
		}

		if err := e.store.SaveConflict(ctx, record); err != nil {
			return api.AppliedChange{}, nil, fmt.Errorf("failed to save conflict: %w", err)
		}

		e.logger.Info("conflict detected",
			"client_id", clientID,
			"client_seq", change.ClientSeq,
			"entity", change.Entity,
			"entity_id", entityID,
			"conflict_id", record.ID)

		return conflictOutcome(change.ClientSeq, record), conflictDetail(record), nil
	}

	return api.AppliedChange{}, nil, fmt.Errorf("unknown decision kind: %d", decision.Kind)
}

// resolveEntityID возвращает серверный идентификатор сущности и
// локальный идентификатор клиента (для регистрации alias при CREATE)
func (e *Engine) resolveEntityID(ctx context.Context, clientID, entity, givenID string, op models.Operation) (entityID, localID string, err error) {
	if op == models.OpCreate {
		// Новая сущность получает серверный UUID; локальный
		// идентификатор клиента регистрируется как alias
		return uuid.NewString(), givenID, nil
	}

	// UPDATE/DELETE могут ссылаться либо на серверный идентификатор,
	// либо на локальный, ещё не переписанный клиентом после ack CREATE
	alias, err := e.store.ResolveAlias(ctx, clientID, entity, givenID)
	if err != nil {
		return "", "", err
	}
	if alias != "" {
		return alias, "", nil
	}

	return givenID, "", nil
}

func rejectedOutcome(clientSeq int64, reason string) api.AppliedChange {
	return api.AppliedChange{
		ClientSeq: clientSeq,
		Status:    api.StatusRejected,
		Reason:    reason,
	}
}

func conflictOutcome(clientSeq int64, c *models.ConflictRecord) api.AppliedChange {
	return api.AppliedChange{
		ClientSeq:  clientSeq,
		Status:     api.StatusConflict,
		Conflict:   true,
		ConflictID: c.ID,
	}
}

func conflictDetail(c *models.ConflictRecord) *api.Conflict {
	return &api.Conflict{
		ClientSeq:   c.ClientSeq,
		Entity:      c.Entity,
		EntityID:    c.EntityID,
		ConflictID:  c.ID,
		ServerValue: c.ServerValue,
		ClientValue: c.ClientValue,
		Resolution:  c.Resolution,
	}
}
