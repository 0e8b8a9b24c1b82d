package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/michelebogoni/sitepilot/internal/models"
	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{rdb: rdb}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func actionKey(id string) string {
	return fmt.Sprintf("action:%s", id)
}

func statusKey(status models.ActionStatus) string {
	return fmt.Sprintf("actions:status:%s", status)
}

func chatKey(chatID string) string {
	return fmt.Sprintf("actions:chat:%s", chatID)
}

func (s *RedisStore) Register(ctx context.Context, action *models.Action) error {
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

	data, err := json.Marshal(&a)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, actionKey(a.ID), data, 0)
		pipe.SAdd(ctx, statusKey(a.Status), a.ID)
		if a.ChatID != "" {
			pipe.ZAdd(ctx, chatKey(a.ChatID), redis.Z{Score: float64(a.CreatedAt.UnixNano()), Member: a.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store action: %w", err)
	}
	return nil
}

func (s *RedisStore) UpdateStatus(ctx context.Context, actionID string, status models.ActionStatus, result *models.ExecutionResult) error {
	action, err := s.Get(ctx, actionID)
	if err != nil {
		return err
	}
	oldStatus := action.Status
	applyStatus(action, status, result, time.Now())

	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, statusKey(oldStatus), actionID)
		pipe.Set(ctx, actionKey(actionID), data, 0)
		pipe.SAdd(ctx, statusKey(status), actionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update action status: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, actionID string) (*models.Action, error) {
	data, err := s.rdb.Get(ctx, actionKey(actionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrActionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action: %w", err)
	}

	var action models.Action
	if err := json.Unmarshal(data, &action); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action: %w", err)
	}
	return &action, nil
}

func (s *RedisStore) ListByStatus(ctx context.Context, status models.ActionStatus) ([]*models.Action, error) {
	ids, err := s.rdb.SMembers(ctx, statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list actions by status: %w", err)
	}
	actions := s.load(ctx, ids)
	sortByCreation(actions)
	return actions, nil
}

func (s *RedisStore) ListByChat(ctx context.Context, chatID string) ([]*models.Action, error) {
	ids, err := s.rdb.ZRange(ctx, chatKey(chatID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list chat actions: %w", err)
	}
	return s.load(ctx, ids), nil
}

// load skips ids whose record has expired or cannot be decoded.
func (s *RedisStore) load(ctx context.Context, ids []string) []*models.Action {
	actions := make([]*models.Action, 0, len(ids))
	for _, id := range ids {
		action, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		actions = append(actions, action)
	}
	return actions
}
