// Package cache provides the per-file counter store backing completion
// detection, plus a small in-process TTL cache for hot-path lookups.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/havenhealth/eligibility-app/eligibility/constants"
)

// CounterStore tracks per-file row counters. Counters are authoritative for
// completion detection, so increments must be atomic.
type CounterStore interface {
	Incr(ctx context.Context, fileID int64, key string) (int64, error)
	IncrBy(ctx context.Context, fileID int64, key string, delta int64) (int64, error)
	Get(ctx context.Context, fileID int64, key string) (int64, error)
	Set(ctx context.Context, fileID int64, key string, value int64) error
	// DeleteFile removes every counter for the file.
	DeleteFile(ctx context.Context, fileID int64) error
}

var counterKeys = []string{
	constants.FileCountCacheKey,
	constants.FileCountSuccessCacheKey,
	constants.FileCountErrorCacheKey,
}

func counterKey(fileID int64, key string) string {
	return fmt.Sprintf("%s:%d:%s", constants.FileCacheNamespace, fileID, key)
}

// RedisCounterStore backs the counters with Redis INCR/GET/SET.
type RedisCounterStore struct {
	client *redis.Client
}

func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

func (s *RedisCounterStore) Incr(ctx context.Context, fileID int64, key string) (int64, error) {
	n, err := s.client.Incr(ctx, counterKey(fileID, key)).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to increment %s for file %d", key, fileID)
	}
	return n, nil
}

func (s *RedisCounterStore) IncrBy(ctx context.Context, fileID int64, key string, delta int64) (int64, error) {
	n, err := s.client.IncrBy(ctx, counterKey(fileID, key), delta).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to increment %s for file %d", key, fileID)
	}
	return n, nil
}

func (s *RedisCounterStore) Get(ctx context.Context, fileID int64, key string) (int64, error) {
	value, err := s.client.Get(ctx, counterKey(fileID, key)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read %s for file %d", key, fileID)
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "non-numeric counter %s for file %d", key, fileID)
	}
	return n, nil
}

func (s *RedisCounterStore) Set(ctx context.Context, fileID int64, key string, value int64) error {
	if err := s.client.Set(ctx, counterKey(fileID, key), value, 0).Err(); err != nil {
		return errors.Wrapf(err, "failed to set %s for file %d", key, fileID)
	}
	return nil
}

func (s *RedisCounterStore) DeleteFile(ctx context.Context, fileID int64) error {
	keys := make([]string, len(counterKeys))
	for i, key := range counterKeys {
		keys[i] = counterKey(fileID, key)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrapf(err, "failed to delete counters for file %d", fileID)
	}
	return nil
}

// MemoryCounterStore is an in-process CounterStore for tests and local runs.
type MemoryCounterStore struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{values: make(map[string]int64)}
}

func (s *MemoryCounterStore) Incr(ctx context.Context, fileID int64, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[counterKey(fileID, key)]++
	return s.values[counterKey(fileID, key)], nil
}

func (s *MemoryCounterStore) IncrBy(ctx context.Context, fileID int64, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[counterKey(fileID, key)] += delta
	return s.values[counterKey(fileID, key)], nil
}

func (s *MemoryCounterStore) Get(ctx context.Context, fileID int64, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[counterKey(fileID, key)], nil
}

func (s *MemoryCounterStore) Set(ctx context.Context, fileID int64, key string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[counterKey(fileID, key)] = value
	return nil
}

func (s *MemoryCounterStore) DeleteFile(ctx context.Context, fileID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range counterKeys {
		delete(s.values, counterKey(fileID, key))
	}
	return nil
}
