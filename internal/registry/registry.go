// Package registry tracks declared actions and their status transitions.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/michelebogoni/sitepilot/internal/models"
)

var ErrActionNotFound = errors.New("action not found")

type Store interface {
	Register(ctx context.Context, action *models.Action) error
	// UpdateStatus moves the action to status and stamps started/completed
	// times. A non-nil result replaces the stored one.
	UpdateStatus(ctx context.Context, actionID string, status models.ActionStatus, result *models.ExecutionResult) error
	Get(ctx context.Context, actionID string) (*models.Action, error)
	ListByStatus(ctx context.Context, status models.ActionStatus) ([]*models.Action, error)
	ListByChat(ctx context.Context, chatID string) ([]*models.Action, error)
}

// applyStatus mutates action for a transition to status.
func applyStatus(action *models.Action, status models.ActionStatus, result *models.ExecutionResult, now time.Time) {
	action.Status = status
	if result != nil {
		action.Result = result
	}
	switch status {
	case models.ActionExecuting:
		action.StartedAt = &now
	case models.ActionCompleted, models.ActionFailed:
		action.CompletedAt = &now
	}
}

func sortByCreation(actions []*models.Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].CreatedAt.Before(actions[j].CreatedAt)
	})
}

type MemoryStore struct {
	mu      sync.RWMutex
	actions map[string]models.Action
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{actions: make(map[string]models.Action)}
}

func (m *MemoryStore) Register(_ context.Context, action *models.Action) error {
	if action.ID == "" {
		return errors.New("action id is required")
	}
	a := *action
	if a.Status == "" {
		a.Status = models.ActionPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions[a.ID] = a
	return nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, actionID string, status models.ActionStatus, result *models.ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.actions[actionID]
	if !ok {
		return ErrActionNotFound
	}
	applyStatus(&a, status, result, time.Now())
	m.actions[actionID] = a
	return nil
}

func (m *MemoryStore) Get(_ context.Context, actionID string) (*models.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.actions[actionID]
	if !ok {
		return nil, ErrActionNotFound
	}
	return &a, nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, status models.ActionStatus) ([]*models.Action, error) {
	return m.filter(func(a models.Action) bool { return a.Status == status }), nil
}

func (m *MemoryStore) ListByChat(_ context.Context, chatID string) ([]*models.Action, error) {
	return m.filter(func(a models.Action) bool { return a.ChatID == chatID }), nil
}

func (m *MemoryStore) filter(keep func(models.Action) bool) []*models.Action {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Action, 0)
	for _, a := range m.actions {
		if keep(a) {
			out = append(out, &a)
		}
	}
	sortByCreation(out)
	return out
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
