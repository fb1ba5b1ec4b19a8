package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOperationValid(t *testing.T) {
	assert.True(t, OpCreate.Valid())
	assert.True(t, OpUpdate.Valid())
	assert.True(t, OpDelete.Valid())
	assert.False(t, Operation("MERGE").Valid())
	assert.False(t, Operation("create").Valid())
	assert.False(t, Operation("").Valid())
}

func TestChangeRecordPending(t *testing.T) {
	rec := &ChangeRecord{}
	assert.True(t, rec.Pending())

	assert.False(t, (&ChangeRecord{Acked: true}).Pending())
	assert.False(t, (&ChangeRecord{Conflicted: true}).Pending())
	assert.False(t, (&ChangeRecord{Rejected: true}).Pending())
}

func TestConflictRecordPending(t *testing.T) {
	assert.True(t, (&ConflictRecord{Resolution: ResolutionPendingManual}).Pending())
	assert.False(t, (&ConflictRecord{Resolution: ResolutionManualServer}).Pending())
	assert.False(t, (&ConflictRecord{Resolution: ResolutionManualClient}).Pending())
}

func TestMediaGrantExpiredAt(t *testing.T) {
	now := time.Now()
	grant := &MediaGrant{ExpiresAt: now.Add(time.Minute)}

	assert.False(t, grant.ExpiredAt(now))
	assert.False(t, grant.ExpiredAt(now.Add(time.Minute)))
	assert.True(t, grant.ExpiredAt(now.Add(time.Minute+time.Second)))
}

func TestLocalEntitySyncID(t *testing.T) {
	e := &LocalEntity{LocalID: "local-1"}
	assert.Equal(t, "local-1", e.SyncID())

	e.ServerID = "uuid-1"
	assert.Equal(t, "uuid-1", e.SyncID())
}

func TestMediaRefs(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []string
	}{
		{
			name:    "voice note only",
			payload: `{"reporter_id":"a","voice_note":"media/x/v.ogg"}`,
			want:    []string{"media/x/v.ogg"},
		},
		{
			name:    "photos only",
			payload: `{"photos":["media/x/1.jpg","media/x/2.jpg"]}`,
			want:    []string{"media/x/1.jpg", "media/x/2.jpg"},
		},
		{
			name:    "both",
			payload: `{"voice_note":"media/x/v.ogg","photos":["media/x/1.jpg"]}`,
			want:    []string{"media/x/1.jpg", "media/x/v.ogg"},
		},
		{
			name:    "no refs",
			payload: `{"reporter_id":"a"}`,
			want:    []string{},
		},
		{
			name:    "empty payload",
			payload: "",
			want:    nil,
		},
		{
			name:    "broken json",
			payload: `{broken`,
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MediaRefs(json.RawMessage(tt.payload))
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
