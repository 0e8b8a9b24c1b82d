package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/michelebogoni/sitepilot/internal/models"
)

var ErrDirectoryNotWritable = errors.New("snapshot directory is not writable")

// fileDocument is the on-disk JSON mirror of a snapshot row.
type fileDocument struct {
	SnapshotID           string                       `json:"snapshot_id"`
	ChatID               string                       `json:"chat_id"`
	MessageID            string                       `json:"message_id"`
	ActionID             string                       `json:"action_id"`
	Timestamp            string                       `json:"timestamp"`
	InstructionVersion   int                          `json:"instruction_version"`
	Operations           []models.Operation           `json:"operations"`
	RollbackInstructions []models.RollbackInstruction `json:"rollback_instructions"`
}

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// chatDir is BACKUP_DIR/YYYY-MM-DD/chat-<id>.
func chatDir(root string, day time.Time, chatID string) string {
	segment := unsafeSegment.ReplaceAllString(chatID, "_")
	if segment == "" {
		segment = "unknown"
	}
	return filepath.Join(root, day.Format("2006-01-02"), "chat-"+segment)
}

func ensureWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDirectoryNotWritable, dir, err)
	}

	f, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDirectoryNotWritable, dir, err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return nil
}

func writeDocument(path string, doc fileDocument) (int64, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to encode snapshot file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("failed to write snapshot file: %w", err)
	}
	return int64(len(data)), nil
}

func removeFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// pruneEmptyDirs removes empty directories below root, deepest first.
// root itself is kept.
func pruneEmptyDirs(root string) (int, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], string(filepath.Separator)) > strings.Count(dirs[j], string(filepath.Separator))
	})

	removed := 0
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err == nil {
			removed++
		}
	}
	return removed, nil
}
