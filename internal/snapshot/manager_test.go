package snapshot_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/michelebogoni/sitepilot/internal/logger"
	"github.com/michelebogoni/sitepilot/internal/models"
	"github.com/michelebogoni/sitepilot/internal/snapshot"
	"github.com/michelebogoni/sitepilot/internal/state"
	"github.com/michelebogoni/sitepilot/internal/wordpress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	created []*models.Snapshot
}

func (n *recordingNotifier) PublishSnapshotCreated(_ context.Context, snap *models.Snapshot) error {
	n.created = append(n.created, snap)
	return nil
}

func sampleOperations() []models.Operation {
	return []models.Operation{
		{
			Type:   "update_post",
			Target: "post:42",
			Before: models.StateMap{"post_id": float64(42), "post_title": "A", "meta": map[string]interface{}{"_views": "1"}},
			After:  models.StateMap{"post_id": float64(42), "post_title": "B", "meta": map[string]interface{}{"_views": "2"}},
			Status: "completed",
		},
		{
			Type:   "update_option",
			Target: "option:blogname",
			Before: nil,
			After:  models.StateMap{"option_name": "blogname", "value": "New", "autoload": true},
		},
	}
}

func TestCreateSnapshot_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	notifier := &recordingNotifier{}
	manager := snapshot.NewManager(snapshot.NewMemoryRepository(), dir, logger.NewNop(), snapshot.WithNotifier(notifier))

	ops := sampleOperations()
	id, err := manager.CreateSnapshot(ctx, "chat-1", "msg-1", "act-1", ops)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	snap, err := manager.GetSnapshot(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, ops, snap.Operations)
	assert.LessOrEqual(t, len(snap.RollbackInstructions), len(snap.Operations))
	require.Len(t, snap.RollbackInstructions, 1)
	assert.Equal(t, models.InstructionRestorePost, snap.RollbackInstructions[0].Kind)
	assert.Equal(t, snapshot.InstructionVersion, snap.InstructionVersion)
	assert.Equal(t, "chat-1", snap.ChatID)
	assert.Positive(t, snap.SizeBytes)
	require.Len(t, notifier.created, 1)
	assert.Equal(t, id, notifier.created[0].ID)
}

func TestCreateSnapshot_CapturedOperationsReadBackEqual(t *testing.T) {
	ctx := context.Background()
	store := wordpress.NewMemoryStore()
	capturer := state.NewCapturer(store, store)
	notifier := &recordingNotifier{}
	manager := snapshot.NewManager(snapshot.NewMemoryRepository(), t.TempDir(), logger.NewNop(), snapshot.WithNotifier(notifier))

	id, err := store.InsertPost(ctx, wordpress.Post{Title: "A", Type: "page", Parent: 3, MenuOrder: 2, Author: 1})
	require.NoError(t, err)
	require.NoError(t, store.SetPostMeta(ctx, id, "_views", "1"))
	require.NoError(t, store.SetPostTerms(ctx, id, "category", []int64{4, 5}))
	menuID, err := store.InsertTerm(ctx, wordpress.Term{Name: "Main", Slug: "main", Taxonomy: "nav_menu"})
	require.NoError(t, err)
	require.NoError(t, store.SetMenuItems(ctx, menuID, []int64{10, 11}))

	refs := []state.EntityRef{
		{Type: state.EntityPost, ID: strconv.FormatInt(id, 10)},
		{Type: state.EntityMenu, ID: strconv.FormatInt(menuID, 10)},
	}
	before := make([]models.StateMap, len(refs))
	for i, ref := range refs {
		before[i], err = capturer.Capture(ctx, ref)
		require.NoError(t, err)
	}

	post, err := store.GetPost(ctx, id)
	require.NoError(t, err)
	post.Title = "B"
	require.NoError(t, store.UpdatePost(ctx, *post))
	require.NoError(t, store.SetMenuItems(ctx, menuID, []int64{11}))

	var ops []models.Operation
	for i, ref := range refs {
		after, err := capturer.Capture(ctx, ref)
		require.NoError(t, err)
		op, changed := state.DeriveOperation(ref, before[i], after)
		require.True(t, changed)
		ops = append(ops, op)
	}

	snapID, err := manager.CreateSnapshot(ctx, "chat-1", "msg-1", "act-1", ops)
	require.NoError(t, err)

	snap, err := manager.GetSnapshot(ctx, snapID)
	require.NoError(t, err)
	assert.Equal(t, ops, snap.Operations)
	require.Len(t, notifier.created, 1)
	assert.Equal(t, ops, notifier.created[0].Operations)
}

func TestCreateSnapshot_NormalizesGoTypedOperations(t *testing.T) {
	ctx := context.Background()
	manager := snapshot.NewManager(snapshot.NewMemoryRepository(), t.TempDir(), logger.NewNop())

	ops := []models.Operation{{
		Type:   "update_menu",
		Target: "menu:9",
		Before: models.StateMap{"term_id": int64(9), "items": []int64{1, 2}},
		After:  models.StateMap{"term_id": int64(9), "items": []int64{2}},
	}}
	id, err := manager.CreateSnapshot(ctx, "chat-1", "msg-1", "act-1", ops)
	require.NoError(t, err)

	snap, err := manager.GetSnapshot(ctx, id)
	require.NoError(t, err)

	want, err := models.NormalizeOperations(ops)
	require.NoError(t, err)
	assert.Equal(t, want, snap.Operations)
	assert.Equal(t, []interface{}{float64(1), float64(2)}, snap.Operations[0].Before["items"])
	assert.Equal(t, []int64{1, 2}, snap.RollbackInstructions[0].State.Int64Slice("items"))
}

func TestCreateSnapshot_WritesJSONMirror(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	day := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	manager := snapshot.NewManager(snapshot.NewMemoryRepository(), dir, logger.NewNop(),
		snapshot.WithClock(func() time.Time { return day }))

	id, err := manager.CreateSnapshot(ctx, "c/../7", "m", "a", sampleOperations())
	require.NoError(t, err)

	snap, err := manager.GetSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2026-03-14", "chat-c_7", "snapshot-"+id+".json"), snap.FilePath)

	data, err := os.ReadFile(snap.FilePath)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), snap.SizeBytes)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, field := range []string{"snapshot_id", "chat_id", "message_id", "action_id", "timestamp", "operations", "rollback_instructions"} {
		assert.Contains(t, doc, field)
	}
	assert.Equal(t, "2026-03-14T09:30:00Z", doc["timestamp"])
	assert.Contains(t, string(data), "\n  \"snapshot_id\"")
}

func TestCreateSnapshot_DirectoryNotWritable(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "backups")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o644))

	manager := snapshot.NewManager(snapshot.NewMemoryRepository(), blocker, logger.NewNop())

	_, err := manager.CreateSnapshot(context.Background(), "chat", "m", "a", sampleOperations())
	assert.ErrorIs(t, err, snapshot.ErrDirectoryNotWritable)
}

func TestRetrieval_ExcludesSoftDeleted(t *testing.T) {
	ctx := context.Background()
	manager := snapshot.NewManager(snapshot.NewMemoryRepository(), t.TempDir(), logger.NewNop())

	first, err := manager.CreateSnapshot(ctx, "chat", "msg-1", "act-1", sampleOperations())
	require.NoError(t, err)
	second, err := manager.CreateSnapshot(ctx, "chat", "msg-2", "act-2", sampleOperations())
	require.NoError(t, err)

	byAction, err := manager.GetActionSnapshot(ctx, "act-2")
	require.NoError(t, err)
	assert.Equal(t, second, byAction.ID)

	byMessage, err := manager.GetMessageSnapshot(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, first, byMessage.ID)

	require.NoError(t, manager.DeleteSnapshot(ctx, first))

	_, err = manager.GetSnapshot(ctx, first)
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
	_, err = manager.GetMessageSnapshot(ctx, "msg-1")
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
	assert.ErrorIs(t, manager.DeleteSnapshot(ctx, first), snapshot.ErrNotFound)

	chatSnaps, err := manager.GetChatSnapshots(ctx, "chat")
	require.NoError(t, err)
	require.Len(t, chatSnaps, 1)
	assert.Equal(t, second, chatSnaps[0].ID)

	count, err := manager.DeleteChatSnapshots(ctx, "chat")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	chatSnaps, err = manager.GetChatSnapshots(ctx, "chat")
	require.NoError(t, err)
	assert.Empty(t, chatSnaps)
}

func TestCleanupOldSnapshots_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := now.Add(-40 * 24 * time.Hour)
	manager := snapshot.NewManager(snapshot.NewMemoryRepository(), dir, logger.NewNop(),
		snapshot.WithClock(func() time.Time { return clock }))

	oldID, err := manager.CreateSnapshot(ctx, "chat", "m1", "a1", sampleOperations())
	require.NoError(t, err)
	old, err := manager.GetSnapshot(ctx, oldID)
	require.NoError(t, err)

	clock = now
	freshID, err := manager.CreateSnapshot(ctx, "chat", "m2", "a2", sampleOperations())
	require.NoError(t, err)

	expired, err := manager.ExpiredSnapshots(ctx, 30)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, oldID, expired[0].ID)

	removed, err := manager.CleanupOldSnapshots(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(old.FilePath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Dir(filepath.Dir(old.FilePath)))
	assert.True(t, os.IsNotExist(err), "empty day directory is pruned")
	_, err = os.Stat(dir)
	assert.NoError(t, err, "backup root is kept")

	removed, err = manager.CleanupOldSnapshots(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	_, err = manager.GetSnapshot(ctx, freshID)
	assert.NoError(t, err)
}

func TestEnforceSizeLimit_EvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo := snapshot.NewMemoryRepository()
	manager := snapshot.NewManager(repo, dir, logger.NewNop())

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var paths []string
	for i, id := range []string{"oldest", "middle", "newest"} {
		sub := filepath.Join(dir, "2026-01-0"+string(rune('1'+i)), "chat-x")
		require.NoError(t, os.MkdirAll(sub, 0o755))
		path := filepath.Join(sub, "snapshot-"+id+".json")
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
		paths = append(paths, path)

		require.NoError(t, repo.Insert(ctx, snapshot.Record{
			ID:           id,
			ChatID:       "x",
			Operations:   []byte("[]"),
			Instructions: []byte("[]"),
			FilePath:     path,
			SizeBytes:    1024 * 1024,
			CreatedAt:    base.Add(time.Duration(i) * time.Hour),
		}))
	}

	removed, err := manager.EnforceSizeLimit(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = manager.GetSnapshot(ctx, "oldest")
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
	_, err = os.Stat(paths[0])
	assert.True(t, os.IsNotExist(err))
	_, err = manager.GetSnapshot(ctx, "middle")
	assert.NoError(t, err)

	removed, err = manager.EnforceSizeLimit(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
