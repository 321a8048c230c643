package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/taishanglaojun/wearsync/pkg/model"
)

// taskHashKey is the Redis hash holding one JSON-encoded task per field.
const taskHashKey = "wearsync:tasks"

// RedisBackend persists tasks in a Redis hash. Intended for deployments
// where the cache lives on the bridged phone rather than on-device.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to the Redis instance at addr.
func NewRedisBackend(addr, password string, db int) *RedisBackend {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisBackend{client: rdb}
}

// Upsert writes a task durably. HSET completes server-side before the
// reply, which satisfies the write-before-acknowledge contract.
func (r *RedisBackend) Upsert(ctx context.Context, t model.Task) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	if err := r.client.HSet(ctx, taskHashKey, t.ID, payload).Err(); err != nil {
		return fmt.Errorf("upsert task %s: %w", t.ID, err)
	}
	return nil
}

// Load returns every durable task.
func (r *RedisBackend) Load(ctx context.Context) ([]model.Task, error) {
	fields, err := r.client.HGetAll(ctx, taskHashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	tasks := make([]model.Task, 0, len(fields))
	for id, payload := range fields {
		var t model.Task
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return nil, fmt.Errorf("corrupt task record %s: %w", id, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Close releases the client connection pool.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
