package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/iudanet/fieldsync/internal/models"
	"github.com/iudanet/fieldsync/internal/server/storage"
	"github.com/iudanet/fieldsync/pkg/api"
)

// ErrBadWinner передан победитель, отличный от "server" и "client"
var ErrBadWinner = errors.New("winner must be \"server\" or \"client\"")

// PendingConflicts возвращает конфликты, ожидающие ручного разрешения
func (e *Engine) PendingConflicts(ctx context.Context) (*api.ConflictListResponse, error) {
	records, err := e.store.ListPendingConflicts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending conflicts: %w", err)
	}

	resp := &api.ConflictListResponse{Conflicts: make([]api.Conflict, 0, len(records))}
	for _, c := range records {
		resp.Conflicts = append(resp.Conflicts, *conflictDetail(c))
	}
	return resp, nil
}

// ResolveConflict разрешает конфликт вручную.
// При server wins состояние сервера не меняется: помечаем конфликт
// разрешённым. При client wins сохранённое клиентское значение
// применяется как новое изменение с исходной парой (client_id,
// client_seq), чтобы replay этой записи увидел применённый результат.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID, winner string) (*api.ResolveConflictResponse, error) {
	record, err := e.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}

	switch winner {
	case "server":
		if err := e.store.ResolveConflict(ctx, conflictID, models.ResolutionManualServer, e.clock()); err != nil {
			return nil, err
		}

		e.logger.Info("conflict resolved",
			"conflict_id", conflictID,
			"resolution", models.ResolutionManualServer)

		return &api.ResolveConflictResponse{
			ConflictID: conflictID,
			Resolution: models.ResolutionManualServer,
		}, nil

	case "client":
		unlock := e.locks.lock(record.ClientID)
		defer unlock()

		if !record.Pending() {
			return nil, storage.ErrConflictResolved
		}

		sc := &models.ServerChange{
			ClientID:   record.ClientID,
			ClientSeq:  record.ClientSeq,
			Entity:     record.Entity,
			EntityID:   record.EntityID,
			Operation:  record.Operation,
			Payload:    record.ClientValue,
			Resolution: models.ResolutionManualClient,
		}

		var expectLastSeq int64
		snapshot, err := e.store.GetSnapshot(ctx, record.Entity, record.EntityID)
		if err != nil && !errors.Is(err, storage.ErrSnapshotNotFound) {
			return nil, err
		}
		if snapshot != nil {
			expectLastSeq = snapshot.LastSeq
		}

		// CREATE поверх существующей сущности применяем как UPDATE,
		// чтобы не порождать вторую сущность с тем же идентификатором
		if sc.Operation == models.OpCreate && snapshot != nil {
			sc.Operation = models.OpUpdate
		}

		if err := e.store.RecordChange(ctx, sc, "", expectLastSeq); err != nil {
			return nil, fmt.Errorf("failed to apply client value: %w", err)
		}

		if err := e.store.ResolveConflict(ctx, conflictID, models.ResolutionManualClient, e.clock()); err != nil {
			return nil, err
		}

		e.logger.Info("conflict resolved",
			"conflict_id", conflictID,
			"resolution", models.ResolutionManualClient,
			"server_seq", sc.ServerSeq)

		return &api.ResolveConflictResponse{
			ConflictID: conflictID,
			Resolution: models.ResolutionManualClient,
			ServerSeq:  sc.ServerSeq,
		}, nil

	default:
		return nil, fmt.Errorf("%w: got %q", ErrBadWinner, winner)
	}
}
