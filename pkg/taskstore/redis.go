package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"maestro/pkg/models"
)

// RedisStore persists task state in Redis. State keys carry the task TTL;
// lease keys are written with SET NX and their own shorter TTL.
type RedisStore struct {
	client *redis.Client
	opts   Options
}

// NewRedisStore connects to Redis using a redis:// URL.
func NewRedisStore(ctx context.Context, url string, opts Options) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisStore{client: client, opts: opts}, nil
}

func taskKey(id string) string { return "task:" + id }
func lockKey(id string) string { return "task:" + id + ":lock" }

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, task *models.TaskState) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task state: %w", err)
	}
	if err := s.client.Set(ctx, taskKey(task.ID), data, s.opts.TTL).Err(); err != nil {
		return fmt.Errorf("failed to save task state: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (*models.TaskState, error) {
	data, err := s.client.Get(ctx, taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task state: %w", err)
	}
	var task models.TaskState
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task state: %w", err)
	}
	return &task, nil
}

// List implements Store. SCAN is acceptable here: the keyspace is bounded
// by the task TTL and the in-flight cap, not unbounded growth.
func (s *RedisStore) List(ctx context.Context, limit int) ([]*models.TaskState, error) {
	var tasks []*models.TaskState
	iter := s.client.Scan(ctx, 0, "task:*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if len(key) > 5 && key[len(key)-5:] == ":lock" {
			continue
		}
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load task state: %w", err)
		}
		var task models.TaskState
		if err := json.Unmarshal(data, &task); err != nil {
			continue // skip unreadable entries rather than failing the listing
		}
		tasks = append(tasks, &task)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan task keys: %w", err)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt)
	})
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// AcquireLock implements Store.
func (s *RedisStore) AcquireLock(ctx context.Context, id string) error {
	ok, err := s.client.SetNX(ctx, lockKey(id), "1", s.opts.LockTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire task lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskLocked, id)
	}
	return nil
}

// ReleaseLock implements Store.
func (s *RedisStore) ReleaseLock(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, lockKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to release task lock: %w", err)
	}
	return nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)
