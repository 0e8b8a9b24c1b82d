package snapshot

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("snapshot not found")

// Record is a snapshot row. Operations and Instructions hold raw JSON.
type Record struct {
	ID                 string
	ChatID             string
	MessageID          string
	ActionID           string
	Operations         []byte
	Instructions       []byte
	InstructionVersion int
	FilePath           string
	SizeBytes          int64
	CreatedAt          time.Time
	Deleted            bool
	DeletedAt          *time.Time
}

// Repository persists snapshot rows. Get, GetByAction, GetByMessage and
// ListByChat skip soft-deleted rows; the eviction listings include them.
type Repository interface {
	Insert(ctx context.Context, rec Record) error
	UpdateSize(ctx context.Context, id string, size int64) error

	Get(ctx context.Context, id string) (*Record, error)
	GetByAction(ctx context.Context, actionID string) (*Record, error)
	GetByMessage(ctx context.Context, messageID string) (*Record, error)
	ListByChat(ctx context.Context, chatID string) ([]Record, error)

	ListOlderThan(ctx context.Context, cutoff time.Time) ([]Record, error)
	ListOldestFirst(ctx context.Context) ([]Record, error)
	TotalSize(ctx context.Context) (int64, error)

	SoftDelete(ctx context.Context, id string, at time.Time) error
	SoftDeleteByChat(ctx context.Context, chatID string, at time.Time) (int, error)
	HardDelete(ctx context.Context, id string) error
}
