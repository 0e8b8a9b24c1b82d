package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/michelebogoni/sitepilot/internal/config"
	"github.com/michelebogoni/sitepilot/internal/logger"
	"github.com/michelebogoni/sitepilot/internal/models"
	"github.com/michelebogoni/sitepilot/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStop_BeforeStartIsSafe(t *testing.T) {
	o := NewOrchestrator(config.FromEnv(), logger.NewNop())
	assert.NoError(t, o.Stop())
}

func TestRunMaintenance_RemovesExpiredSnapshots(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := now.Add(-40 * 24 * time.Hour)

	cfg := config.FromEnv()
	cfg.SnapshotRetentionDays = 30
	cfg.SnapshotMaxSizeMB = 100

	o := NewOrchestrator(cfg, logger.NewNop())
	o.snapshots = snapshot.NewManager(snapshot.NewMemoryRepository(), t.TempDir(), logger.NewNop(),
		snapshot.WithClock(func() time.Time { return clock }))

	op := models.Operation{
		Type:   "update_option",
		Target: "option:blogname",
		Before: models.StateMap{"option_name": "blogname", "value": "Old"},
		After:  models.StateMap{"option_name": "blogname", "value": "New"},
	}
	oldID, err := o.snapshots.CreateSnapshot(ctx, "chat-1", "msg-1", "act-1", []models.Operation{op})
	require.NoError(t, err)

	clock = now
	freshID, err := o.snapshots.CreateSnapshot(ctx, "chat-1", "msg-2", "act-2", []models.Operation{op})
	require.NoError(t, err)

	o.runMaintenance(ctx)

	_, err = o.snapshots.GetSnapshot(ctx, oldID)
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
	_, err = o.snapshots.GetSnapshot(ctx, freshID)
	assert.NoError(t, err)
}
