package boltdb

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/models"
)

func createTestStorage(t *testing.T) *Storage {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "client.db")
	store, err := New(context.Background(), dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

func testRecord(entity, localID string, op models.Operation, payload string) *models.ChangeRecord {
	record := &models.ChangeRecord{
		CreatedAt: time.Now(),
		Entity:    entity,
		LocalID:   localID,
		Operation: op,
	}
	if payload != "" {
		record.Payload = json.RawMessage(payload)
	}
	return record
}

func TestAppend_GaplessMonotonicSeq(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	for want := int64(1); want <= 5; want++ {
		record, err := store.Append(ctx, testRecord(models.EntityReports, "local-1", models.OpUpdate, `{"a":1}`))
		require.NoError(t, err)
		assert.Equal(t, want, record.ClientSeq)
	}
}

func TestSaveEntity_SharesSequenceWithAppend(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	first, err := store.Append(ctx, testRecord(models.EntityReports, "local-1", models.OpCreate, `{"a":1}`))
	require.NoError(t, err)

	entity := &models.LocalEntity{
		Entity:  models.EntityReports,
		LocalID: "local-2",
		Payload: json.RawMessage(`{"b":2}`),
	}
	second, err := store.SaveEntity(ctx, entity, testRecord(models.EntityReports, "local-2", models.OpCreate, `{"b":2}`))
	require.NoError(t, err)

	// Оба пути выдачи номеров идут через один счётчик журнала
	assert.Equal(t, first.ClientSeq+1, second.ClientSeq)
}

func TestPendingChanges_SurviveReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "client.db")
	ctx := context.Background()

	store, err := New(ctx, dbPath)
	require.NoError(t, err)

	_, err = store.Append(ctx, testRecord(models.EntityReports, "local-1", models.OpCreate, `{"a":1}`))
	require.NoError(t, err)
	_, err = store.Append(ctx, testRecord(models.EntityReports, "local-2", models.OpCreate, `{"b":2}`))
	require.NoError(t, err)

	// "Падение" процесса: закрываем и открываем заново
	require.NoError(t, store.Close())

	store, err = New(ctx, dbPath)
	require.NoError(t, err)
	defer store.Close()

	pending, err := store.PendingChanges(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(1), pending[0].ClientSeq)
	assert.Equal(t, int64(2), pending[1].ClientSeq)

	// Счётчик не переиспользует выданные номера после рестарта
	record, err := store.Append(ctx, testRecord(models.EntityReports, "local-3", models.OpCreate, `{"c":3}`))
	require.NoError(t, err)
	assert.Equal(t, int64(3), record.ClientSeq)
}

func TestPendingChanges_Limit(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Append(ctx, testRecord(models.EntityReports, "local-1", models.OpUpdate, `{"a":1}`))
		require.NoError(t, err)
	}

	pending, err := store.PendingChanges(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestAcknowledge(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	record, err := store.Append(ctx, testRecord(models.EntityReports, "local-1", models.OpCreate, `{"a":1}`))
	require.NoError(t, err)

	require.NoError(t, store.Acknowledge(ctx, record.ClientSeq, 42, "server-uuid"))

	got, err := store.GetChange(ctx, record.ClientSeq)
	require.NoError(t, err)
	assert.True(t, got.Acked)
	assert.Equal(t, int64(42), got.ServerSeq)
	assert.Equal(t, "server-uuid", got.ServerID)
	assert.False(t, got.Pending())

	pending, err := store.PendingChanges(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMarkConflictedAndRejected(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	first, err := store.Append(ctx, testRecord(models.EntityReports, "local-1", models.OpUpdate, `{"a":1}`))
	require.NoError(t, err)
	second, err := store.Append(ctx, testRecord(models.EntityReports, "local-2", models.OpUpdate, `{"b":2}`))
	require.NoError(t, err)

	require.NoError(t, store.MarkConflicted(ctx, first.ClientSeq))
	require.NoError(t, store.MarkRejected(ctx, second.ClientSeq))

	count, err := store.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	got, err := store.GetChange(ctx, first.ClientSeq)
	require.NoError(t, err)
	assert.True(t, got.Conflicted)

	got, err = store.GetChange(ctx, second.ClientSeq)
	require.NoError(t, err)
	assert.True(t, got.Rejected)
}

func TestUpdateChange_NotFound(t *testing.T) {
	store := createTestStorage(t)

	err := store.Acknowledge(context.Background(), 99, 1, "")
	assert.ErrorIs(t, err, storage.ErrChangeNotFound)
}

func TestSaveAndGetEntity(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	entity := &models.LocalEntity{
		UpdatedAt: time.Now(),
		Entity:    models.EntityReports,
		LocalID:   "local-1",
		Payload:   json.RawMessage(`{"a":1}`),
	}
	_, err := store.SaveEntity(ctx, entity, testRecord(models.EntityReports, "local-1", models.OpCreate, `{"a":1}`))
	require.NoError(t, err)

	got, err := store.GetEntity(ctx, models.EntityReports, "local-1")
	require.NoError(t, err)
	assert.Equal(t, "local-1", got.LocalID)
	assert.JSONEq(t, `{"a":1}`, string(got.Payload))

	_, err = store.GetEntity(ctx, models.EntityReports, "missing")
	assert.ErrorIs(t, err, storage.ErrEntityNotFound)
}

func TestSetServerID_IndexLookup(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	entity := &models.LocalEntity{
		Entity:  models.EntityReports,
		LocalID: "local-1",
		Payload: json.RawMessage(`{"a":1}`),
	}
	_, err := store.SaveEntity(ctx, entity, testRecord(models.EntityReports, "local-1", models.OpCreate, `{"a":1}`))
	require.NoError(t, err)

	require.NoError(t, store.SetServerID(ctx, models.EntityReports, "local-1", "server-uuid", 7))

	// Поиск по серверному идентификатору находит сущность через индекс
	got, err := store.GetEntityByServerID(ctx, models.EntityReports, "server-uuid")
	require.NoError(t, err)
	assert.Equal(t, "local-1", got.LocalID)
	assert.Equal(t, "server-uuid", got.ServerID)
	assert.Equal(t, int64(7), got.LastServerSeq)
	assert.Equal(t, "server-uuid", got.SyncID())

	err = store.SetServerID(ctx, models.EntityReports, "missing", "x", 1)
	assert.ErrorIs(t, err, storage.ErrEntityNotFound)
}

func TestListEntities_SkipsDeleted(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		entity := &models.LocalEntity{
			Entity:  models.EntityReports,
			LocalID: id,
			Payload: json.RawMessage(`{}`),
		}
		_, err := store.SaveEntity(ctx, entity, testRecord(models.EntityReports, id, models.OpCreate, `{}`))
		require.NoError(t, err)
	}

	// Удаляем одну
	deleted := &models.LocalEntity{
		Entity:  models.EntityReports,
		LocalID: "a",
		Deleted: true,
	}
	_, err := store.SaveEntity(ctx, deleted, testRecord(models.EntityReports, "a", models.OpDelete, ""))
	require.NoError(t, err)

	entities, err := store.ListEntities(ctx, models.EntityReports)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "b", entities[0].LocalID)

	// Сущности другого типа не попадают в выборку
	entities, err = store.ListEntities(ctx, models.EntitySensorReadings)
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestApplyServerChange(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	change := &models.ServerChange{
		AppliedAt: time.Now(),
		Entity:    models.EntityReports,
		EntityID:  "server-uuid",
		Operation: models.OpCreate,
		Payload:   json.RawMessage(`{"a":1}`),
		ServerSeq: 5,
	}
	require.NoError(t, store.ApplyServerChange(ctx, change))

	// Новая для устройства сущность: local_id = server_id
	got, err := store.GetEntityByServerID(ctx, models.EntityReports, "server-uuid")
	require.NoError(t, err)
	assert.Equal(t, "server-uuid", got.LocalID)
	assert.Equal(t, int64(5), got.LastServerSeq)

	// Изменение не новее применённого игнорируется
	stale := &models.ServerChange{
		Entity:    models.EntityReports,
		EntityID:  "server-uuid",
		Operation: models.OpUpdate,
		Payload:   json.RawMessage(`{"a":0}`),
		ServerSeq: 5,
	}
	require.NoError(t, store.ApplyServerChange(ctx, stale))

	got, err = store.GetEntityByServerID(ctx, models.EntityReports, "server-uuid")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got.Payload))

	// Более новое изменение применяется
	newer := &models.ServerChange{
		Entity:    models.EntityReports,
		EntityID:  "server-uuid",
		Operation: models.OpUpdate,
		Payload:   json.RawMessage(`{"a":2}`),
		ServerSeq: 6,
	}
	require.NoError(t, store.ApplyServerChange(ctx, newer))

	got, err = store.GetEntityByServerID(ctx, models.EntityReports, "server-uuid")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(got.Payload))

	// DELETE помечает сущность удалённой
	del := &models.ServerChange{
		Entity:    models.EntityReports,
		EntityID:  "server-uuid",
		Operation: models.OpDelete,
		ServerSeq: 7,
	}
	require.NoError(t, store.ApplyServerChange(ctx, del))

	got, err = store.GetEntityByServerID(ctx, models.EntityReports, "server-uuid")
	require.NoError(t, err)
	assert.True(t, got.Deleted)
}

func TestClientID_StableAcrossCalls(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	first, err := store.ClientID(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := store.ClientID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSetClientID(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SetClientID(ctx, "device-1"))

	got, err := store.ClientID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "device-1", got)
}

func TestWatermark_Monotonic(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	wm, err := store.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), wm)

	require.NoError(t, store.SetWatermark(ctx, 10))

	wm, err = store.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), wm)

	// Откат назад игнорируется
	require.NoError(t, store.SetWatermark(ctx, 5))

	wm, err = store.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), wm)
}

func TestMediaQueue(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	upload := &models.MediaUpload{
		CreatedAt:   time.Now(),
		ID:          "u1",
		FilePath:    "/sdcard/voice.ogg",
		ContentType: "audio/ogg",
		SHA256:      "abc",
		ObjectKey:   "media/x/u1.ogg",
		Status:      models.UploadStatusPending,
		Size:        100,
	}
	require.NoError(t, store.SaveUpload(ctx, upload))

	got, err := store.GetUpload(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "media/x/u1.ogg", got.ObjectKey)

	byKey, err := store.GetUploadByObjectKey(ctx, "media/x/u1.ogg")
	require.NoError(t, err)
	assert.Equal(t, "u1", byKey.ID)

	pending, err := store.PendingUploads(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	// Финализация убирает запись из pending
	upload.Status = models.UploadStatusFinalized
	require.NoError(t, store.SaveUpload(ctx, upload))

	pending, err = store.PendingUploads(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = store.GetUpload(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrUploadNotFound)

	_, err = store.GetUploadByObjectKey(ctx, "media/none")
	assert.ErrorIs(t, err, storage.ErrUploadNotFound)
}
