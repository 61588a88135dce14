// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// handler_test.go provides shared test infrastructure for handler tests.
// Repositories and the invalidation log are in-memory fakes; the cache runs
// on an in-process Valkey-compatible server.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"chanlytics/internal/cache"
	"chanlytics/internal/channel"
	"chanlytics/internal/entity"
	"chanlytics/internal/models"
	"chanlytics/internal/store"
)

// memTable is one fake entity table.
type memTable struct {
	rows   map[int64]models.Record
	nextID int64
	reads  int
	counts int
}

// memRepos is an in-memory RepositoryFactory. Channeled repositories share
// their table and only see rows of their channel.
type memRepos struct {
	mu      sync.Mutex
	tables  map[string]*memTable
	readErr error
}

func newMemRepos() *memRepos {
	return &memRepos{tables: make(map[string]*memTable)}
}

func (m *memRepos) table(name string) *memTable {
	t, ok := m.tables[name]
	if !ok {
		t = &memTable{rows: make(map[int64]models.Record)}
		m.tables[name] = t
	}
	return t
}

func (m *memRepos) Base(table string) store.Repository {
	return &memRepo{repos: m, name: table}
}

func (m *memRepos) Channeled(table string, ch channel.Channel) store.Repository {
	return &memRepo{repos: m, name: table, ch: ch}
}

// seed inserts a row directly and returns its id.
func (m *memRepos) seed(table string, ch channel.Channel, entityID *int64, data string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.table(table)
	t.nextID++
	now := time.Now().UTC()
	rec := models.Record{
		ID:        t.nextID,
		EntityID:  entityID,
		Channel:   ch.String(),
		Data:      json.RawMessage(data),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !ch.IsNone() {
		rec.PlatformID = "gid-" + ch.String()
	}
	t.rows[rec.ID] = rec
	return rec.ID
}

// reads returns how many reads reached a table.
func (m *memRepos) reads(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table(table).reads
}

func (m *memRepos) counts(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table(table).counts
}

type memRepo struct {
	repos *memRepos
	name  string
	ch    channel.Channel
}

func (r *memRepo) visible(rec models.Record) bool {
	return rec.Channel == r.ch.String()
}

func (r *memRepo) Read(ctx context.Context, id int64, filters store.Filters) (*models.Record, error) {
	r.repos.mu.Lock()
	defer r.repos.mu.Unlock()
	if r.repos.readErr != nil {
		return nil, r.repos.readErr
	}
	t := r.repos.table(r.name)
	t.reads++
	rec, ok := t.rows[id]
	if !ok || !r.visible(rec) {
		return nil, nil
	}
	return &rec, nil
}

func (r *memRepo) ReadMultiple(ctx context.Context, p store.ListParams) ([]models.Record, error) {
	r.repos.mu.Lock()
	defer r.repos.mu.Unlock()
	if r.repos.readErr != nil {
		return nil, r.repos.readErr
	}
	t := r.repos.table(r.name)
	t.reads++
	out := []models.Record{}
	for _, rec := range t.rows {
		if r.visible(rec) && matches(rec, p.Filters) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if p.Limit > 0 {
		page := max(p.Page, 1)
		start := min((page-1)*p.Limit, len(out))
		out = out[start:min(start+p.Limit, len(out))]
	}
	return out, nil
}

// matches applies equality filters the way the SQL store does: id and
// entity_id compare columns, anything else compares a data field.
func matches(rec models.Record, filters store.Filters) bool {
	for k, v := range filters {
		switch k {
		case "id":
			if fmt.Sprint(rec.ID) != fmt.Sprint(v) {
				return false
			}
		case "entity_id":
			if rec.EntityID == nil || fmt.Sprint(*rec.EntityID) != fmt.Sprint(v) {
				return false
			}
		default:
			if fmt.Sprint(rec.Field(k)) != fmt.Sprint(v) {
				return false
			}
		}
	}
	return true
}

func (r *memRepo) CountElements(ctx context.Context, filters store.Filters) (int64, error) {
	r.repos.mu.Lock()
	defer r.repos.mu.Unlock()
	t := r.repos.table(r.name)
	t.counts++
	var n int64
	for _, rec := range t.rows {
		if r.visible(rec) && matches(rec, filters) {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) Create(ctx context.Context, in store.Input) (*models.Record, error) {
	r.repos.mu.Lock()
	defer r.repos.mu.Unlock()
	t := r.repos.table(r.name)
	t.nextID++
	now := time.Now().UTC()
	rec := models.Record{
		ID:         t.nextID,
		EntityID:   in.EntityID,
		Channel:    r.ch.String(),
		PlatformID: in.PlatformID,
		Data:       dataOrEmpty(in.Data),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	t.rows[rec.ID] = rec
	return &rec, nil
}

func (r *memRepo) Update(ctx context.Context, id int64, in store.Input) (*models.Record, error) {
	r.repos.mu.Lock()
	defer r.repos.mu.Unlock()
	t := r.repos.table(r.name)
	rec, ok := t.rows[id]
	if !ok || !r.visible(rec) {
		return nil, nil
	}
	rec.EntityID = in.EntityID
	rec.PlatformID = in.PlatformID
	rec.Data = dataOrEmpty(in.Data)
	rec.UpdatedAt = time.Now().UTC()
	t.rows[id] = rec
	return &rec, nil
}

func (r *memRepo) Delete(ctx context.Context, id int64) (bool, error) {
	r.repos.mu.Lock()
	defer r.repos.mu.Unlock()
	t := r.repos.table(r.name)
	rec, ok := t.rows[id]
	if !ok || !r.visible(rec) {
		return false, nil
	}
	delete(t.rows, id)
	return true, nil
}

func dataOrEmpty(data json.RawMessage) json.RawMessage {
	if len(data) == 0 {
		return json.RawMessage(`{}`)
	}
	return data
}

// memCacheLog is an in-memory CacheLog.
type memCacheLog struct {
	mu      sync.Mutex
	entries []store.CacheLogEntry
	listErr error
}

func (l *memCacheLog) Log(ctx context.Context, entityType, ref string, ch channel.Channel, action string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, store.CacheLogEntry{
		ID:            int64(len(l.entries) + 1),
		EntityType:    entityType,
		EntityRef:     ref,
		Channel:       ch.String(),
		Action:        action,
		InvalidatedAt: time.Now().UTC(),
	})
}

func (l *memCacheLog) RecentEntries(ctx context.Context, limit int) ([]store.CacheLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listErr != nil {
		return nil, l.listErr
	}
	out := []store.CacheLogEntry{}
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}

func (l *memCacheLog) all() []store.CacheLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]store.CacheLogEntry(nil), l.entries...)
}

// testEnv holds all dependencies for handler tests.
type testEnv struct {
	MR      *miniredis.Miniredis
	Repos   *memRepos
	Log     *memCacheLog
	Cache   *cache.Service
	Handler http.Handler
}

// newTestEnv wires every handler group behind a chi router with the same
// routes the server uses.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	reg := entity.DefaultRegistry()
	svc := cache.NewService(cache.NewRedisStore(client), reg)
	repos := newMemRepos()
	log := &memCacheLog{}

	deps := Deps{Registry: reg, Repos: repos, Cache: svc, CacheLog: log}
	crud := NewCrud(deps)
	chd := NewChanneledCrud(deps)
	admin := NewCacheAdmin(deps)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/cache/invalidate", admin.Invalidate)
		r.Get("/cache/stats", admin.Stats)
		r.Get("/cache/log", admin.Log)

		r.Route("/channels/{channel}/{entity}", func(r chi.Router) {
			r.Get("/", chd.List)
			r.Post("/", chd.Create)
			r.Get("/count", chd.Count)
			r.Get("/{id}", chd.Get)
			r.Put("/{id}", chd.Update)
			r.Delete("/{id}", chd.Delete)
		})

		r.Route("/{entity}", func(r chi.Router) {
			r.Get("/", crud.List)
			r.Post("/", crud.Create)
			r.Get("/count", crud.Count)
			r.Get("/{id}", crud.Get)
			r.Put("/{id}", crud.Update)
			r.Delete("/{id}", crud.Delete)
		})
	})

	return &testEnv{MR: mr, Repos: repos, Log: log, Cache: svc, Handler: r}
}

// do sends a request through the test router.
func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.Handler.ServeHTTP(rec, req)
	return rec
}

// decodeData unmarshals the "data" member of a success response.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data %q: %v", env.Data, err)
	}
}

// cacheKeys lists every key currently in the cache, sorted.
func (e *testEnv) cacheKeys() []string {
	keys := e.MR.Keys()
	sort.Strings(keys)
	return keys
}

// keysWithPrefix returns the cache keys starting with prefix.
func (e *testEnv) keysWithPrefix(prefix string) []string {
	var out []string
	for _, k := range e.cacheKeys() {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

var errRepoDown = errors.New("repository down")
