// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// service.go orchestrates read-through caching and the invalidation fan-out
// that runs after every write. Cache tier failures never reach the caller:
// reads fall through to the compute function and writes log and continue.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync/atomic"
	"time"

	"chanlytics/internal/channel"
	"chanlytics/internal/entity"
)

// DefaultTTL is used by Get when no TTL is given.
const DefaultTTL = time.Hour

// FetchFn computes a value from the source of truth on a cache miss.
type FetchFn[T any] func(ctx context.Context) (T, error)

// ChanneledMapper exposes the base class -> channeled classes mapping of the
// entity registry.
type ChanneledMapper interface {
	ChanneledMap() map[string][]string
}

// Stats is a snapshot of the Service counters.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Corrupt     int64 `json:"corrupt"`
	Unavailable int64 `json:"unavailable"`
	SetFailures int64 `json:"set_failures"`
}

type counters struct {
	hits        atomic.Int64
	misses      atomic.Int64
	corrupt     atomic.Int64
	unavailable atomic.Int64
	setFailures atomic.Int64
}

// Service owns the read-through orchestration and the invalidation policy.
type Service struct {
	store      Store
	entities   ChanneledMapper
	defaultTTL time.Duration
	stats      counters
}

// Option customizes a Service.
type Option func(*Service)

// WithDefaultTTL overrides DefaultTTL. Non-positive values are ignored.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// NewService creates a Service over store. entities supplies the channeled
// counterparts used by the invalidation fan-out.
func NewService(store Store, entities ChanneledMapper, opts ...Option) *Service {
	s := &Service{
		store:      store,
		entities:   entities,
		defaultTTL: DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultTTL returns the TTL used by Get.
func (s *Service) DefaultTTL() time.Duration {
	return s.defaultTTL
}

// Stats returns the current counters.
func (s *Service) Stats() Stats {
	return Stats{
		Hits:        s.stats.hits.Load(),
		Misses:      s.stats.misses.Load(),
		Corrupt:     s.stats.corrupt.Load(),
		Unavailable: s.stats.unavailable.Load(),
		SetFailures: s.stats.setFailures.Load(),
	}
}

// Get is GetWithTTL with the Service default TTL.
func Get[T any](ctx context.Context, s *Service, key string, fn FetchFn[T]) (T, error) {
	return GetWithTTL(ctx, s, key, s.defaultTTL, fn)
}

// GetWithTTL returns the cached value for key, or runs fn, caches its result
// for ttl and returns it. A payload that fails to decode into T and an
// unreachable store are both treated as misses. Errors from fn are returned
// unchanged and nothing is cached.
//
// T must be a concrete type: payloads are tagged with the dynamic type they
// were encoded from, so an interface T could never match and is rejected
// with ErrInvalidArgument.
func GetWithTTL[T any](ctx context.Context, s *Service, key string, ttl time.Duration, fn FetchFn[T]) (T, error) {
	var zero T
	if key == "" {
		return zero, fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	if ttl <= 0 {
		return zero, fmt.Errorf("%w: ttl %s for %s", ErrInvalidArgument, ttl, key)
	}
	if fn == nil {
		return zero, fmt.Errorf("%w: nil fetch function for %s", ErrInvalidArgument, key)
	}
	if reflect.TypeFor[T]().Kind() == reflect.Interface {
		return zero, fmt.Errorf("%w: interface type %s for %s", ErrInvalidArgument, typeName[T](), key)
	}

	raw, err := s.store.Get(ctx, key)
	switch {
	case err != nil:
		s.stats.unavailable.Add(1)
		slog.Warn("cache read failed, serving from source", "key", key, "error", err)
	case raw != nil:
		v, derr := decode[T](raw)
		if derr == nil {
			s.stats.hits.Add(1)
			slog.Debug("cache hit", "key", key)
			return v, nil
		}
		s.stats.corrupt.Add(1)
		slog.Warn("cache payload discarded", "key", key, "error", derr)
	}

	s.stats.misses.Add(1)
	v, err := fn(ctx)
	if err != nil {
		return zero, err
	}
	s.put(ctx, key, v, ttl)
	return v, nil
}

// Set stores value under key for ttl. Only argument and encoding errors are
// returned; store failures are logged.
func (s *Service) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl %s for %s", ErrInvalidArgument, ttl, key)
	}
	raw, err := encode(value)
	if err != nil {
		return err
	}
	if err := s.store.SetWithTTL(ctx, key, raw, ttl); err != nil {
		s.stats.setFailures.Add(1)
		slog.Warn("cache set failed", "key", key, "error", err)
	}
	return nil
}

// put is the best-effort write used after a miss.
func (s *Service) put(ctx context.Context, key string, value any, ttl time.Duration) {
	if err := s.Set(ctx, key, value, ttl); err != nil {
		s.stats.setFailures.Add(1)
		slog.Warn("cache set failed", "key", key, "error", err)
	}
}

// Report summarizes one InvalidateMultipleEntities call.
type Report struct {
	DirectKeys int   // keys passed to direct deletes
	Patterns   int   // patterns scanned
	Deleted    int   // keys removed by pattern scans
	Failed     int   // deletion units that failed
	Err        error // joined failures, nil when Failed == 0
}

// InvalidateMultipleEntities removes every cache entry that a write to the
// given entities may have made stale. entities maps an entity class to an id,
// a slice of ids or nil. ch scopes the channeled fan-out; channel.None skips
// it.
//
// For each entity class:
//   - direct keys entity:{class}:{id} are deleted, except for channeled
//     classes, whose direct keys are only reached through their base class;
//   - list_{class}_* and count_{class}_* are always deleted, since list keys
//     embed a hash of arbitrary filters and cannot be rebuilt;
//   - with a channel, each channeled counterpart loses its direct keys (when
//     the request also names it) and all of its channeled list and count keys
//     for that channel.
//
// Every deletion is attempted even if an earlier one fails.
func (s *Service) InvalidateMultipleEntities(ctx context.Context, entities map[string]any, ch channel.Channel) Report {
	channeled := s.entities.ChanneledMap()

	var r Report
	var errs []error
	record := func(err error) {
		if err != nil {
			r.Failed++
			errs = append(errs, err)
		}
	}

	types := make([]string, 0, len(entities))
	for t := range entities {
		types = append(types, t)
	}
	sort.Strings(types)

	for _, entityType := range types {
		ids := normalizeIDs(entities[entityType])

		if !(entity.IsChanneled(entityType) && len(ids) > 0) {
			keys := make([]string, 0, len(ids))
			for _, id := range ids {
				keys = append(keys, ForEntity(entityType, id))
			}
			record(s.deleteKeys(ctx, keys, &r))
		}

		record(s.scanDelete(ctx, ListPattern(entityType), &r))
		record(s.scanDelete(ctx, CountPattern(entityType), &r))

		counterparts, ok := channeled[entityType]
		if !ok || ch.IsNone() {
			continue
		}
		for _, cc := range counterparts {
			if raw, named := entities[cc]; named {
				ccIDs := normalizeIDs(raw)
				keys := make([]string, 0, len(ccIDs))
				for _, id := range ccIDs {
					keys = append(keys, ForChanneledEntity(ch.String(), cc, id))
				}
				record(s.deleteKeys(ctx, keys, &r))
			}
			record(s.scanDelete(ctx, ChanneledListPattern(cc, ch.String()), &r))
			record(s.scanDelete(ctx, ChanneledCountPattern(cc, ch.String()), &r))
		}
	}

	r.Err = errors.Join(errs...)
	if r.Failed > 0 {
		slog.Warn("cache invalidation incomplete",
			"entities", types,
			"channel", ch.String(),
			"failed", r.Failed,
			"error", r.Err,
		)
	} else {
		slog.Debug("cache invalidated",
			"entities", types,
			"channel", ch.String(),
			"direct_keys", r.DirectKeys,
			"patterns", r.Patterns,
			"deleted", r.Deleted,
		)
	}
	return r
}

func (s *Service) deleteKeys(ctx context.Context, keys []string, r *Report) error {
	if len(keys) == 0 {
		return nil
	}
	r.DirectKeys += len(keys)
	if err := s.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("delete %v: %w", keys, err)
	}
	return nil
}

func (s *Service) scanDelete(ctx context.Context, pattern string, r *Report) error {
	r.Patterns++
	n, err := s.store.ScanDelete(ctx, pattern)
	r.Deleted += n
	if err != nil {
		return fmt.Errorf("scan delete %s: %w", pattern, err)
	}
	return nil
}

// normalizeIDs turns a scalar, a slice or nil into a list of non-nil ids.
// Pointers are dereferenced; nil pointers are dropped.
func normalizeIDs(v any) []any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return []any{string(rv.Bytes())}
		}
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if id, ok := scalarID(rv.Index(i)); ok {
				out = append(out, id)
			}
		}
		return out
	default:
		if id, ok := scalarID(rv); ok {
			return []any{id}
		}
		return nil
	}
}

func scalarID(rv reflect.Value) (any, bool) {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil, false
	}
	return rv.Interface(), true
}
