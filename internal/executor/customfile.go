package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/michelebogoni/sitepilot/internal/models"
)

const manifestName = "manifest.json"

// ManifestEntry records one file written by CustomFileMethod and what was
// there before it.
type ManifestEntry struct {
	ID              string    `json:"id"`
	File            string    `json:"file"`
	Title           string    `json:"title,omitempty"`
	Description     string    `json:"description,omitempty"`
	ChatID          string    `json:"chat_id,omitempty"`
	ActionID        string    `json:"action_id,omitempty"`
	ExistedBefore   bool      `json:"existed_before"`
	PreviousContent string    `json:"previous_content,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type manifest struct {
	Entries []ManifestEntry `json:"entries"`
}

// CustomFileMethod writes the payload to a managed PHP file under dir, runs
// that file, and keeps a manifest so the write can be undone.
type CustomFileMethod struct {
	dir         string
	interpreter Interpreter
	mu          sync.Mutex
}

func NewCustomFileMethod(dir string, interpreter Interpreter) *CustomFileMethod {
	return &CustomFileMethod{dir: dir, interpreter: interpreter}
}

func (c *CustomFileMethod) Name() string {
	return MethodCustomFile
}

func (c *CustomFileMethod) Available(context.Context) bool {
	if c.dir == "" {
		return false
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return false
	}
	f, err := os.CreateTemp(c.dir, ".writable-*")
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(f.Name())
	return true
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (c *CustomFileMethod) fileName(req Request, id string) string {
	name := ""
	if req.Location != "" {
		name = unsafeFileChars.ReplaceAllString(filepath.Base(req.Location), "-")
		name = strings.Trim(name, ".-")
	}
	if name == "" || name == manifestName {
		name = "sitepilot-" + id[:8]
	}
	if !strings.HasSuffix(strings.ToLower(name), ".php") {
		name += ".php"
	}
	return name
}

func fileContent(req Request) string {
	var b strings.Builder
	b.WriteString("<?php\n")
	if req.Title != "" {
		b.WriteString("// " + strings.ReplaceAll(req.Title, "\n", " ") + "\n")
	}
	b.WriteString(StripTags(req.Code))
	b.WriteString("\n")
	return b.String()
}

func (c *CustomFileMethod) Run(ctx context.Context, req Request) (*Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.NewString()
	name := c.fileName(req, id)
	path := filepath.Join(c.dir, name)

	previous, err := os.ReadFile(path)
	existed := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	content := fileContent(req)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", name, err)
	}

	revert := func() {
		if existed {
			_ = os.WriteFile(path, previous, 0o644)
		} else {
			_ = os.Remove(path)
		}
	}

	res, err := c.interpreter.RunFile(ctx, path)
	if err != nil {
		revert()
		return nil, err
	}
	if res.Failed() {
		revert()
		return nil, &CodeError{Message: res.FailureMessage()}
	}

	m, err := c.load()
	if err != nil {
		revert()
		return nil, err
	}
	m.Entries = append(m.Entries, ManifestEntry{
		ID:              id,
		File:            name,
		Title:           req.Title,
		Description:     req.Description,
		ChatID:          req.ChatID,
		ActionID:        req.ActionID,
		ExistedBefore:   existed,
		PreviousContent: string(previous),
		CreatedAt:       time.Now().UTC(),
	})
	if err := c.save(m); err != nil {
		revert()
		return nil, err
	}

	after := models.StateMap{"file_id": id, "path": path, "content": content}
	op := models.Operation{
		Type:   "custom_file_create",
		Target: "custom_file:" + id,
		Before: models.StateMap{},
		After:  after,
		Status: "completed",
	}
	if existed {
		op.Type = "custom_file_modify"
		op.Before = models.StateMap{"file_id": id, "path": path, "content": string(previous)}
	}

	return &Outcome{
		Output:      res.Stdout,
		Stderr:      res.Stderr,
		ReturnValue: res.ReturnValue,
		Identifier:  id,
		Truncated:   res.Truncated,
		Operations:  []models.Operation{op},
	}, nil
}

// Rollback restores the file's previous content, or removes it if the run
// created it, and drops the manifest entry.
func (c *CustomFileMethod) Rollback(_ context.Context, identifier string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.load()
	if err != nil {
		return err
	}

	idx := -1
	for i, e := range m.Entries {
		if e.ID == identifier {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("custom file %s not found in manifest", identifier)
	}

	entry := m.Entries[idx]
	path := filepath.Join(c.dir, entry.File)
	if entry.ExistedBefore {
		if err := os.WriteFile(path, []byte(entry.PreviousContent), 0o644); err != nil {
			return fmt.Errorf("failed to restore %s: %w", entry.File, err)
		}
	} else if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", entry.File, err)
	}

	m.Entries = append(m.Entries[:idx], m.Entries[idx+1:]...)
	return c.save(m)
}

// Entries returns the current manifest.
func (c *CustomFileMethod) Entries() ([]ManifestEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.load()
	if err != nil {
		return nil, err
	}
	return m.Entries, nil
}

func (c *CustomFileMethod) load() (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, manifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return &manifest{Entries: []ManifestEntry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

func (c *CustomFileMethod) save(m *manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	tmp := filepath.Join(c.dir, manifestName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(c.dir, manifestName)); err != nil {
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}
