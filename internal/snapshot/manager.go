// Package snapshot persists before/after operation lists together with their
// frozen rollback instructions, as a database row mirrored to a JSON file.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/michelebogoni/sitepilot/internal/logger"
	"github.com/michelebogoni/sitepilot/internal/models"
)

// Notifier is told about every snapshot that was created.
type Notifier interface {
	PublishSnapshotCreated(ctx context.Context, snap *models.Snapshot) error
}

type Manager struct {
	repo      Repository
	backupDir string
	notifier  Notifier
	now       func() time.Time
	log       *logger.Logger
}

type Option func(*Manager)

func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(repo Repository, backupDir string, log *logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		repo:      repo,
		backupDir: backupDir,
		now:       time.Now,
		log:       log.With("component", "snapshot"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) BackupDir() string {
	return m.backupDir
}

// CreateSnapshot stores operations and their rollback instructions. The row
// is written first; the JSON mirror is best effort.
func (m *Manager) CreateSnapshot(ctx context.Context, chatID, messageID, actionID string, operations []models.Operation) (string, error) {
	now := m.now().UTC()
	dir := chatDir(m.backupDir, now, chatID)
	if err := ensureWritable(dir); err != nil {
		return "", err
	}

	operations, err := models.NormalizeOperations(operations)
	if err != nil {
		return "", fmt.Errorf("failed to encode operations: %w", err)
	}
	instructions := BuildInstructions(operations)

	opsJSON, err := json.Marshal(operations)
	if err != nil {
		return "", fmt.Errorf("failed to encode operations: %w", err)
	}
	instructionsJSON, err := json.Marshal(instructions)
	if err != nil {
		return "", fmt.Errorf("failed to encode rollback instructions: %w", err)
	}

	id := uuid.NewString()
	path := filepath.Join(dir, "snapshot-"+id+".json")

	rec := Record{
		ID:                 id,
		ChatID:             chatID,
		MessageID:          messageID,
		ActionID:           actionID,
		Operations:         opsJSON,
		Instructions:       instructionsJSON,
		InstructionVersion: InstructionVersion,
		FilePath:           path,
		CreatedAt:          now,
	}
	if err := m.repo.Insert(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to save snapshot: %w", err)
	}

	size, err := writeDocument(path, fileDocument{
		SnapshotID:           id,
		ChatID:               chatID,
		MessageID:            messageID,
		ActionID:             actionID,
		Timestamp:            now.Format(time.RFC3339),
		InstructionVersion:   InstructionVersion,
		Operations:           operations,
		RollbackInstructions: instructions,
	})
	if err != nil {
		m.log.Warn("Snapshot file not written", "snapshot_id", id, "path", path, "error", err)
	} else if err := m.repo.UpdateSize(ctx, id, size); err != nil {
		m.log.Warn("Failed to record snapshot size", "snapshot_id", id, "error", err)
	} else {
		rec.SizeBytes = size
	}

	m.log.Info("Snapshot created",
		"snapshot_id", id,
		"chat_id", chatID,
		"operations", len(operations),
		"instructions", len(instructions),
	)

	if m.notifier != nil {
		if snap, err := decodeRecord(&rec); err == nil {
			if err := m.notifier.PublishSnapshotCreated(ctx, snap); err != nil {
				m.log.Warn("Failed to publish snapshot event", "snapshot_id", id, "error", err)
			}
		}
	}

	return id, nil
}

func decodeRecord(rec *Record) (*models.Snapshot, error) {
	snap := &models.Snapshot{
		ID:                 rec.ID,
		ChatID:             rec.ChatID,
		MessageID:          rec.MessageID,
		ActionID:           rec.ActionID,
		InstructionVersion: rec.InstructionVersion,
		FilePath:           rec.FilePath,
		SizeBytes:          rec.SizeBytes,
		CreatedAt:          rec.CreatedAt,
		Deleted:            rec.Deleted,
		DeletedAt:          rec.DeletedAt,
	}

	if err := json.Unmarshal(rec.Operations, &snap.Operations); err != nil {
		return nil, fmt.Errorf("failed to decode operations of snapshot %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal(rec.Instructions, &snap.RollbackInstructions); err != nil {
		return nil, fmt.Errorf("failed to decode rollback instructions of snapshot %s: %w", rec.ID, err)
	}
	if snap.Operations == nil {
		snap.Operations = []models.Operation{}
	}
	if snap.RollbackInstructions == nil {
		snap.RollbackInstructions = []models.RollbackInstruction{}
	}
	return snap, nil
}

func (m *Manager) decodeOne(rec *Record, err error) (*models.Snapshot, error) {
	if err != nil {
		return nil, err
	}
	return decodeRecord(rec)
}

func (m *Manager) GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	return m.decodeOne(m.repo.Get(ctx, id))
}

func (m *Manager) GetActionSnapshot(ctx context.Context, actionID string) (*models.Snapshot, error) {
	return m.decodeOne(m.repo.GetByAction(ctx, actionID))
}

func (m *Manager) GetMessageSnapshot(ctx context.Context, messageID string) (*models.Snapshot, error) {
	return m.decodeOne(m.repo.GetByMessage(ctx, messageID))
}

// GetChatSnapshots returns the chat's live snapshots, newest first.
func (m *Manager) GetChatSnapshots(ctx context.Context, chatID string) ([]*models.Snapshot, error) {
	records, err := m.repo.ListByChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	snaps := make([]*models.Snapshot, 0, len(records))
	for i := range records {
		snap, err := decodeRecord(&records[i])
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func (m *Manager) DeleteSnapshot(ctx context.Context, id string) error {
	if err := m.repo.SoftDelete(ctx, id, m.now().UTC()); err != nil {
		return err
	}
	m.log.Info("Snapshot deleted", "snapshot_id", id)
	return nil
}

// DeleteChatSnapshots soft-deletes every snapshot of a chat. Callers deleting
// a chat must invoke it; nothing cascades on its own.
func (m *Manager) DeleteChatSnapshots(ctx context.Context, chatID string) (int, error) {
	count, err := m.repo.SoftDeleteByChat(ctx, chatID, m.now().UTC())
	if err != nil {
		return 0, err
	}
	m.log.Info("Chat snapshots deleted", "chat_id", chatID, "count", count)
	return count, nil
}

// ExpiredSnapshots lists the rows CleanupOldSnapshots would remove,
// soft-deleted ones included.
func (m *Manager) ExpiredSnapshots(ctx context.Context, days int) ([]Record, error) {
	if days < 0 {
		return nil, fmt.Errorf("retention days must not be negative: %d", days)
	}

	cutoff := m.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	return m.repo.ListOlderThan(ctx, cutoff)
}

// CleanupOldSnapshots hard-deletes rows and files created more than days ago.
func (m *Manager) CleanupOldSnapshots(ctx context.Context, days int) (int, error) {
	records, err := m.ExpiredSnapshots(ctx, days)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, rec := range records {
		if err := m.purge(ctx, rec); err != nil {
			m.log.Warn("Failed to purge snapshot", "snapshot_id", rec.ID, "error", err)
			continue
		}
		removed++
	}

	m.prune()
	m.log.Info("Old snapshots cleaned up", "days", days, "removed", removed)
	return removed, nil
}

// EnforceSizeLimit evicts the oldest snapshots until the total recorded size
// fits in maxMB megabytes.
func (m *Manager) EnforceSizeLimit(ctx context.Context, maxMB int) (int, error) {
	if maxMB < 0 {
		return 0, fmt.Errorf("size limit must not be negative: %d", maxMB)
	}

	budget := int64(maxMB) * 1024 * 1024
	total, err := m.repo.TotalSize(ctx)
	if err != nil {
		return 0, err
	}
	if total <= budget {
		return 0, nil
	}

	records, err := m.repo.ListOldestFirst(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, rec := range records {
		if total <= budget {
			break
		}
		if err := m.purge(ctx, rec); err != nil {
			m.log.Warn("Failed to evict snapshot", "snapshot_id", rec.ID, "error", err)
			continue
		}
		total -= rec.SizeBytes
		removed++
	}

	m.prune()
	m.log.Info("Snapshot size limit enforced", "max_mb", maxMB, "removed", removed, "remaining_bytes", total)
	return removed, nil
}

func (m *Manager) purge(ctx context.Context, rec Record) error {
	if err := m.repo.HardDelete(ctx, rec.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := removeFile(rec.FilePath); err != nil {
		m.log.Warn("Failed to remove snapshot file", "snapshot_id", rec.ID, "path", rec.FilePath, "error", err)
	}
	return nil
}

func (m *Manager) prune() {
	if _, err := pruneEmptyDirs(m.backupDir); err != nil {
		m.log.Warn("Failed to prune backup directories", "error", err)
	}
}
