package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/fieldsync/internal/models"
	"github.com/iudanet/fieldsync/internal/server/conflict"
	"github.com/iudanet/fieldsync/internal/server/sequence"
	"github.com/iudanet/fieldsync/internal/server/storage"
	"github.com/iudanet/fieldsync/internal/server/storage/sqlite"
	"github.com/iudanet/fieldsync/pkg/api"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// setupEngine создает движок поверх реального sqlite-хранилища
func setupEngine(t *testing.T) (*Engine, *sqlite.Storage) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := sqlite.New(context.Background(), dbPath, sequence.NewAllocator())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	logger := setupTestLogger()
	resolver := conflict.NewResolver(store, logger)

	return New(store, resolver, logger), store
}

func createChange(clientSeq int64, entityID, payload string) api.Change {
	return api.Change{
		ClientSeq: clientSeq,
		Entity:    models.EntityReports,
		EntityID:  entityID,
		Operation: api.OpCreate,
		Payload:   json.RawMessage(payload),
		Timestamp: time.Now(),
	}
}

func updateChange(clientSeq int64, entityID, payload string, basedOn int64) api.Change {
	return api.Change{
		ClientSeq:  clientSeq,
		Entity:     models.EntityReports,
		EntityID:   entityID,
		Operation:  api.OpUpdate,
		Payload:    json.RawMessage(payload),
		BasedOnSeq: basedOn,
		Timestamp:  time.Now(),
	}
}

func TestApplyBatch_CreateUpdateFlow(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	resp, err := eng.ApplyBatch(ctx, "device-1", &api.SyncRequest{
		ClientID: "device-1",
		Changes:  []api.Change{createChange(1, "local-1", `{"reporter":"amina"}`)},
	})
	require.NoError(t, err)
	require.Len(t, resp.AppliedChanges, 1)

	created := resp.AppliedChanges[0]
	assert.Equal(t, api.StatusApplied, created.Status)
	assert.NotEmpty(t, created.EntityID)
	assert.NotEqual(t, "local-1", created.EntityID)
	assert.Equal(t, int64(1), created.ServerSeq)

	// Самостоятельно применённая запись возвращается и в downloads
	require.Len(t, resp.Changes, 1)
	assert.Equal(t, created.EntityID, resp.Changes[0].EntityID)

	// UPDATE по локальному идентификатору резолвится через alias
	resp2, err := eng.ApplyBatch(ctx, "device-1", &api.SyncRequest{
		ClientID:      "device-1",
		Changes:       []api.Change{updateChange(2, "local-1", `{"reporter":"amina","region":"north"}`, created.ServerSeq)},
		LastServerSeq: resp.ServerSeq,
	})
	require.NoError(t, err)
	require.Len(t, resp2.AppliedChanges, 1)
	assert.Equal(t, api.StatusApplied, resp2.AppliedChanges[0].Status)
	assert.Equal(t, created.EntityID, resp2.AppliedChanges[0].EntityID)
}

func TestApplyBatch_IdempotentReplay(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	req := &api.SyncRequest{
		ClientID: "device-1",
		Changes:  []api.Change{createChange(1, "local-1", `{"reporter":"amina"}`)},
	}

	resp1, err := eng.ApplyBatch(ctx, "device-1", req)
	require.NoError(t, err)

	// Повтор того же батча (потерянный ответ) возвращает тот же результат
	resp2, err := eng.ApplyBatch(ctx, "device-1", req)
	require.NoError(t, err)

	assert.Equal(t, resp1.AppliedChanges[0].ServerSeq, resp2.AppliedChanges[0].ServerSeq)
	assert.Equal(t, resp1.AppliedChanges[0].EntityID, resp2.AppliedChanges[0].EntityID)
	assert.Equal(t, api.StatusApplied, resp2.AppliedChanges[0].Status)
}

func TestApplyBatch_StaleBatch(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	resp, err := eng.ApplyBatch(ctx, "device-1", &api.SyncRequest{
		ClientID: "device-1",
		Changes:  []api.Change{createChange(1, "local-1", `{"a":1}`)},
	})
	require.NoError(t, err)

	// Watermark продвинулся
	_, err = eng.ApplyBatch(ctx, "device-1", &api.SyncRequest{
		ClientID:      "device-1",
		LastServerSeq: resp.ServerSeq,
	})
	require.NoError(t, err)

	// Батч с устаревшим watermark отклоняется целиком
	_, err = eng.ApplyBatch(ctx, "device-1", &api.SyncRequest{
		ClientID:      "device-1",
		Changes:       []api.Change{createChange(2, "local-2", `{"a":2}`)},
		LastServerSeq: 0,
	})
	assert.ErrorIs(t, err, ErrStaleBatch)
}

func TestApplyBatch_RejectedChange(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		change api.Change
	}{
		{
			name: "unknown entity",
			change: api.Change{
				ClientSeq: 1,
				Entity:    "unknown",
				EntityID:  "e1",
				Operation: api.OpCreate,
				Payload:   json.RawMessage(`{"a":1}`),
			},
		},
		{
			name: "empty payload on create",
			change: api.Change{
				ClientSeq: 1,
				Entity:    models.EntityReports,
				EntityID:  "e1",
				Operation: api.OpCreate,
			},
		},
		{
			name: "payload not an object",
			change: api.Change{
				ClientSeq: 1,
				Entity:    models.EntityReports,
				EntityID:  "e1",
				Operation: api.OpCreate,
				Payload:   json.RawMessage(`[1,2,3]`),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := eng.ApplyBatch(ctx, "device-1", &api.SyncRequest{
				ClientID: "device-1",
				Changes:  []api.Change{tt.change},
			})
			require.NoError(t, err)
			require.Len(t, resp.AppliedChanges, 1)

			outcome := resp.AppliedChanges[0]
			assert.Equal(t, api.StatusRejected, outcome.Status)
			assert.NotEmpty(t, outcome.Reason)
			assert.Zero(t, outcome.ServerSeq)
		})
	}
}

func TestApplyBatch_UnfinalizedMediaReference(t *testing.T) {
	eng, store := setupEngine(t)
	ctx := context.Background()

	payload := `{"reporter_id":"amina","voice_note":"media/x/voice.ogg"}`

	resp, err := eng.ApplyBatch(ctx, "device-1", &api.SyncRequest{
		ClientID: "device-1",
		Changes:  []api.Change{createChange(1, "local-1", payload)},
	})
	require.NoError(t, err)
	require.Len(t, resp.AppliedChanges, 1)
	assert.Equal(t, api.StatusRejected, resp.AppliedChanges[0].Status)
	assert.Contains(t, resp.AppliedChanges[0].Reason, "unfinalized media reference")

	// После финализации гранта та же запись проходит
	now := time.Now()
	require.NoError(t, store.SaveGrant(ctx, &models.MediaGrant{
		ID:          "g1",
		ClientID:    "device-1",
		ObjectKey:   "media/x/voice.ogg",
		ContentType: "audio/ogg",
		Status:      models.GrantStatusCompleted,
		CreatedAt:   now,
		ExpiresAt:   now.Add(15 * time.Minute),
	}))

	resp, err = eng.ApplyBatch(ctx, "device-1", &api.SyncRequest{
		ClientID: "device-1",
		Changes:  []api.Change{createChange(2, "local-1", payload)},
	})
	require.NoError(t, err)
	assert.Equal(t, api.StatusApplied, resp.AppliedChanges[0].Status)
}

func TestApplyBatch_TwoClientConflict(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	// device-1 создаёт сущность
	resp, err := eng.ApplyBatch(ctx, "device-1", &api.SyncRequest{
		ClientID: "device-1",
		Changes:  []api.Change{createChange(1, "local-1", `{"status":"open","notes":"first"}`)},
	})
	require.NoError(t, err)
	entityID := resp.AppliedChanges[0].EntityID
	baseSeq := resp.AppliedChanges[0].ServerSeq

	// device-1 обновляет: база уходит вперёд
	resp, err = eng.ApplyBatch(ctx, "device-1", &api.SyncRequest{
		ClientID:      "device-1",
		Changes:       []api.Change{updateChange(2, entityID, `{"status":"closed","notes":"first"}`, baseSeq)},
		LastServerSeq: resp.ServerSeq,
	})
	require.NoError(t, err)
	require.Equal(t, api.StatusApplied, resp.AppliedChanges[0].Status)

	// device-2 обновляет то же поле от устаревшей базы
	resp2, err := eng.ApplyBatch(ctx, "device-2", &api.SyncRequest{
		ClientID: "device-2",
		Changes:  []api.Change{updateChange(1, entityID, `{"status":"invalid","notes":"first"}`, baseSeq)},
	})
	require.NoError(t, err)
	require.Len(t, resp2.AppliedChanges, 1)

	outcome := resp2.AppliedChanges[0]
	assert.Equal(t, api.StatusConflict, outcome.Status)
	assert.True(t, outcome.Conflict)
	assert.NotEmpty(t, outcome.ConflictID)
	require.Len(t, resp2.Conflicts, 1)
	assert.Equal(t, models.ResolutionPendingManual, resp2.Conflicts[0].Resolution)

	// Replay конфликтной записи возвращает тот же конфликт
	resp3, err := eng.ApplyBatch(ctx, "device-2", &api.SyncRequest{
		ClientID: "device-2",
		Changes:  []api.Change{updateChange(1, entityID, `{"status":"invalid","notes":"first"}`, baseSeq)},
	})
	require.NoError(t, err)
	assert.Equal(t, outcome.ConflictID, resp3.AppliedChanges[0].ConflictID)
}

func TestApplyBatch_AutoFieldMerge(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	resp, err := eng.ApplyBatch(ctx, "device-1", &api.SyncRequest{
		ClientID: "device-1",
		Changes:  []api.Change{createChange(1, "local-1", `{"status":"open","notes":"base"}`)},
	})
	require.NoError(t, err)
	entityID := resp.AppliedChanges[0].EntityID
	baseSeq := resp.AppliedChanges[0].ServerSeq

	// device-1 меняет status
	resp, err = eng.ApplyBatch(ctx, "device-1", &api.SyncRequest{
		ClientID:      "device-1",
		Changes:       []api.Change{updateChange(2, entityID, `{"status":"closed","notes":"base"}`, baseSeq)},
		LastServerSeq: resp.ServerSeq,
	})
	require.NoError(t, err)

	// device-2 меняет notes от той же устаревшей базы: поля не пересекаются
	resp2, err := eng.ApplyBatch(ctx, "device-2", &api.SyncRequest{
		ClientID: "device-2",
		Changes:  []api.Change{updateChange(1, entityID, `{"status":"open","notes":"updated"}`, baseSeq)},
	})
	require.NoError(t, err)
	require.Len(t, resp2.AppliedChanges, 1)

	outcome := resp2.AppliedChanges[0]
	assert.Equal(t, api.StatusAppliedResolved, outcome.Status)
	assert.Equal(t, models.RuleFieldMerge, outcome.Resolution)
	assert.Empty(t, resp2.Conflicts)

	// Слитое состояние содержит оба изменения
	found := false
	for _, ch := range resp2.Changes {
		if ch.ServerSeq == outcome.ServerSeq {
			assert.JSONEq(t, `{"status":"closed","notes":"updated"}`, string(ch.Payload))
			found = true
		}
	}
	assert.True(t, found, "merged change present in downloads")
}

func TestApplyBatch_DeleteWins(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	resp, err := eng.ApplyBatch(ctx, "device-1", &api.SyncRequest{
		ClientID: "device-1",
		Changes:  []api.Change{createChange(1, "local-1", `{"a":1}`)},
	})
	require.NoError(t, err)
	entityID := resp.AppliedChanges[0].EntityID
	baseSeq := resp.AppliedChanges[0].ServerSeq

	resp, err = eng.ApplyBatch(ctx, "device-1", &api.SyncRequest{
		ClientID:      "device-1",
		Changes:       []api.Change{updateChange(2, entityID, `{"a":2}`, baseSeq)},
		LastServerSeq: resp.ServerSeq,
	})
	require.NoError(t, err)

	// DELETE от устаревшей базы побеждает
	resp2, err := eng.ApplyBatch(ctx, "device-2", &api.SyncRequest{
		ClientID: "device-2",
		Changes: []api.Change{{
			ClientSeq:  1,
			Entity:     models.EntityReports,
			EntityID:   entityID,
			Operation:  api.OpDelete,
			BasedOnSeq: baseSeq,
		}},
	})
	require.NoError(t, err)

	outcome := resp2.AppliedChanges[0]
	assert.Equal(t, api.StatusAppliedResolved, outcome.Status)
	assert.Equal(t, models.RuleDeleteWins, outcome.Resolution)
}

func TestResolveConflict_ServerWins(t *testing.T) {
	eng, store := setupEngine(t)
	ctx := context.Background()

	conflictID := makeConflict(t, eng)

	before, err := store.CurrentSeq(ctx)
	require.NoError(t, err)

	resp, err := eng.ResolveConflict(ctx, conflictID, "server")
	require.NoError(t, err)
	assert.Equal(t, models.ResolutionManualServer, resp.Resolution)
	assert.Zero(t, resp.ServerSeq)

	// Server wins не порождает новое изменение
	after, err := store.CurrentSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// Повторное разрешение отклоняется
	_, err = eng.ResolveConflict(ctx, conflictID, "server")
	assert.ErrorIs(t, err, storage.ErrConflictResolved)
}

func TestResolveConflict_ClientWins(t *testing.T) {
	eng, store := setupEngine(t)
	ctx := context.Background()

	conflictID := makeConflict(t, eng)

	record, err := store.GetConflict(ctx, conflictID)
	require.NoError(t, err)

	resp, err := eng.ResolveConflict(ctx, conflictID, "client")
	require.NoError(t, err)
	assert.Equal(t, models.ResolutionManualClient, resp.Resolution)
	assert.NotZero(t, resp.ServerSeq)

	// Клиентское значение применено к снапшоту
	snap, err := store.GetSnapshot(ctx, record.Entity, record.EntityID)
	require.NoError(t, err)
	assert.JSONEq(t, string(record.ClientValue), string(snap.Payload))
	assert.Equal(t, resp.ServerSeq, snap.LastSeq)

	// Replay исходной записи клиента теперь возвращает applied
	batch, err := eng.ApplyBatch(ctx, record.ClientID, &api.SyncRequest{
		ClientID: record.ClientID,
		Changes: []api.Change{{
			ClientSeq: record.ClientSeq,
			Entity:    record.Entity,
			EntityID:  record.EntityID,
			Operation: string(record.Operation),
			Payload:   record.ClientValue,
		}},
	})
	require.NoError(t, err)
	outcome := batch.AppliedChanges[0]
	assert.Equal(t, api.StatusAppliedResolved, outcome.Status)
	assert.Equal(t, resp.ServerSeq, outcome.ServerSeq)
}

func TestResolveConflict_BadWinner(t *testing.T) {
	eng, _ := setupEngine(t)

	conflictID := makeConflict(t, eng)

	_, err := eng.ResolveConflict(context.Background(), conflictID, "merge")
	assert.ErrorIs(t, err, ErrBadWinner)
}

func TestResolveConflict_NotFound(t *testing.T) {
	eng, _ := setupEngine(t)

	_, err := eng.ResolveConflict(context.Background(), "missing", "server")
	assert.ErrorIs(t, err, storage.ErrConflictNotFound)
}

func TestPendingConflicts(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	resp, err := eng.PendingConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, resp.Conflicts)

	conflictID := makeConflict(t, eng)

	resp, err = eng.PendingConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, resp.Conflicts, 1)
	assert.Equal(t, conflictID, resp.Conflicts[0].ConflictID)
}

func TestChangesSince_Download(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	resp, err := eng.ApplyBatch(ctx, "device-1", &api.SyncRequest{
		ClientID: "device-1",
		Changes: []api.Change{
			createChange(1, "local-1", `{"a":1}`),
			createChange(2, "local-2", `{"b":2}`),
		},
	})
	require.NoError(t, err)

	// Свежий клиент видит всё
	got, err := eng.ChangesSince(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got.Changes, 2)
	assert.Equal(t, resp.ServerSeq, got.ServerSeq)

	// Клиент с актуальным watermark не получает ничего
	got, err = eng.ChangesSince(ctx, resp.ServerSeq)
	require.NoError(t, err)
	assert.Empty(t, got.Changes)
}

// makeConflict создаёт конфликт UPDATE-над-UPDATE с пересекающимися полями
func makeConflict(t *testing.T, eng *Engine) string {
	t.Helper()
	ctx := context.Background()

	resp, err := eng.ApplyBatch(ctx, "device-1", &api.SyncRequest{
		ClientID: "device-1",
		Changes:  []api.Change{createChange(1, "local-1", `{"status":"open"}`)},
	})
	require.NoError(t, err)
	entityID := resp.AppliedChanges[0].EntityID
	baseSeq := resp.AppliedChanges[0].ServerSeq

	resp, err = eng.ApplyBatch(ctx, "device-1", &api.SyncRequest{
		ClientID:      "device-1",
		Changes:       []api.Change{updateChange(2, entityID, `{"status":"closed"}`, baseSeq)},
		LastServerSeq: resp.ServerSeq,
	})
	require.NoError(t, err)

	resp2, err := eng.ApplyBatch(ctx, "device-2", &api.SyncRequest{
		ClientID: "device-2",
		Changes:  []api.Change{updateChange(1, entityID, `{"status":"invalid"}`, baseSeq)},
	})
	require.NoError(t, err)
	require.Equal(t, api.StatusConflict, resp2.AppliedChanges[0].Status)

	return resp2.AppliedChanges[0].ConflictID
}
