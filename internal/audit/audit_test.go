package audit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRecorder_ListByChat(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRecorder()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	require.NoError(t, r.Record(ctx, Entry{EventType: EventExecution, ChatID: "c1", CreatedAt: base}))
	require.NoError(t, r.Record(ctx, Entry{EventType: EventRollback, ChatID: "c1", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, r.Record(ctx, Entry{EventType: EventExecution, ChatID: "c2"}))

	entries, err := r.ListByChat(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, EventRollback, entries[0].EventType)
	assert.NotEmpty(t, entries[0].ID)

	entries, err = r.ListByChat(ctx, "c1", 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	all := r.All()
	require.Len(t, all, 3)
	assert.False(t, all[2].CreatedAt.IsZero())
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Record(context.Background(), Entry{}))
	entries, err := Nop{}.ListByChat(context.Background(), "c", 10)
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMongoRecorder(t *testing.T) {
	uri := os.Getenv("AUDIT_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("AUDIT_TEST_MONGO_URI not set")
	}
	ctx := context.Background()

	r, err := NewMongoRecorder(ctx, uri, "sitepilot_test")
	require.NoError(t, err)
	defer r.Close(ctx)

	chatID := "chat-" + time.Now().Format("150405.000000")
	require.NoError(t, r.Record(ctx, Entry{EventType: EventExecution, ChatID: chatID, Success: true, Message: "ok"}))

	entries, err := r.ListByChat(ctx, chatID, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ok", entries[0].Message)
	assert.True(t, entries[0].Success)
}
