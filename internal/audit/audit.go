// Package audit keeps an append-only trail of executions and rollbacks.
package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventExecution = "execution"
	EventRollback  = "rollback"
	EventDispatch  = "dispatch"
)

// Entry is one audited event. Payload holds the serialised result.
type Entry struct {
	ID         string                 `json:"id" bson:"_id"`
	EventType  string                 `json:"event_type" bson:"event_type"`
	ChatID     string                 `json:"chat_id,omitempty" bson:"chat_id,omitempty"`
	ActionID   string                 `json:"action_id,omitempty" bson:"action_id,omitempty"`
	SnapshotID string                 `json:"snapshot_id,omitempty" bson:"snapshot_id,omitempty"`
	Success    bool                   `json:"success" bson:"success"`
	Message    string                 `json:"message,omitempty" bson:"message,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty" bson:"payload,omitempty"`
	CreatedAt  time.Time              `json:"created_at" bson:"created_at"`
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) error
	ListByChat(ctx context.Context, chatID string, limit int) ([]Entry, error)
}

// prepare fills the id and timestamp when the caller left them empty.
func prepare(e *Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

func (Nop) ListByChat(context.Context, string, int) ([]Entry, error) { return nil, nil }

type MemoryRecorder struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (m *MemoryRecorder) Record(_ context.Context, entry Entry) error {
	prepare(&entry)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// ListByChat returns newest first.
func (m *MemoryRecorder) ListByChat(_ context.Context, chatID string, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for _, e := range m.entries {
		if e.ChatID == chatID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// All returns every entry in insertion order.
func (m *MemoryRecorder) All() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Entry(nil), m.entries...)
}

var (
	_ Recorder = Nop{}
	_ Recorder = (*MemoryRecorder)(nil)
	_ Recorder = (*MongoRecorder)(nil)
)
