// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// store.go provides the Valkey-backed key/value store behind the cache
// Service. It owns the connection and raw byte handling; it knows nothing
// about entities or payload encoding.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultScanBatch is the COUNT hint passed to SCAN.
	DefaultScanBatch = 100

	// DefaultMaxScanIterations caps a single ScanDelete loop.
	DefaultMaxScanIterations = 10000
)

// Store is the minimal key/value surface the Service needs.
type Store interface {
	// Get returns the raw value, or (nil, nil) when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// SetWithTTL stores val under key for ttl.
	SetWithTTL(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// Delete removes keys. Absent keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// ScanDelete removes every key matching the glob pattern and returns how
	// many were deleted.
	ScanDelete(ctx context.Context, pattern string) (int, error)
}

// Client is the subset of go-redis commands RedisStore uses. *redis.Client,
// *redis.ClusterClient and redis.UniversalClient all satisfy it.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// RedisStore implements Store on top of Valkey.
type RedisStore struct {
	client        Client
	scanBatch     int64
	maxIterations int
}

// StoreOption customizes a RedisStore.
type StoreOption func(*RedisStore)

// WithScanBatch sets the SCAN COUNT hint. Non-positive values are ignored.
func WithScanBatch(n int) StoreOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.scanBatch = int64(n)
		}
	}
}

// WithMaxScanIterations caps the number of SCAN round trips per pattern.
// Non-positive values are ignored.
func WithMaxScanIterations(n int) StoreOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.maxIterations = n
		}
	}
}

// NewRedisStore creates a store backed by the given Valkey client.
func NewRedisStore(client Client, opts ...StoreOption) *RedisStore {
	s := &RedisStore{
		client:        client,
		scanBatch:     DefaultScanBatch,
		maxIterations: DefaultMaxScanIterations,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the raw bytes stored under key, nil on miss.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Warn("cache get error", "key", key, "error", err)
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	return val, nil
}

// SetWithTTL stores val under key. The TTL must be positive: entries without
// expiry would outlive any missed invalidation forever.
func (s *RedisStore) SetWithTTL(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl %s for %s", ErrInvalidArgument, ttl, key)
	}
	if err := s.client.Set(ctx, key, val, ttl).Err(); err != nil {
		slog.Warn("cache set error", "key", key, "error", err)
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Delete removes keys. DEL ignores keys that do not exist.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("cache delete error", "keys", keys, "error", err)
		return fmt.Errorf("%w: del: %v", ErrUnavailable, err)
	}
	return nil
}

// Exists reports whether key is present.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: exists %s: %v", ErrUnavailable, key, err)
	}
	return n == 1, nil
}

// ScanDelete removes every key matching pattern by walking the keyspace with
// SCAN and deleting each non-empty batch. The loop ends when the cursor comes
// back to zero, or fails with ErrScanAborted after maxIterations rounds.
func (s *RedisStore) ScanDelete(ctx context.Context, pattern string) (int, error) {
	var cursor uint64
	var deleted int
	for i := 0; ; i++ {
		if i >= s.maxIterations {
			slog.Warn("cache scan aborted", "pattern", pattern, "iterations", i, "deleted", deleted)
			return deleted, fmt.Errorf("%w: %s after %d iterations", ErrScanAborted, pattern, i)
		}

		keys, next, err := s.client.Scan(ctx, cursor, pattern, s.scanBatch).Result()
		if err != nil {
			slog.Warn("cache scan error", "pattern", pattern, "error", err)
			return deleted, fmt.Errorf("%w: scan %s: %v", ErrUnavailable, pattern, err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				slog.Warn("cache bulk delete error", "pattern", pattern, "error", err)
				return deleted, fmt.Errorf("%w: del %s: %v", ErrUnavailable, pattern, err)
			}
			deleted += len(keys)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	if deleted > 0 {
		slog.Debug("cache pattern cleared", "pattern", pattern, "deleted", deleted)
	}
	return deleted, nil
}
