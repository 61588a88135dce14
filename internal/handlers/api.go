// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package handlers contains the JSON HTTP handlers of the chanlytics API.
// Handlers are grouped by concern (base entities, channeled entities, cache
// administration) and receive their dependencies through the handler struct.
// Reads go through the cache service; every successful write invalidates the
// affected cache entries and records the event in the invalidation log.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"chanlytics/internal/cache"
	"chanlytics/internal/channel"
	"chanlytics/internal/entity"
	"chanlytics/internal/store"
)

// RepositoryFactory opens the repository backing an entity table.
type RepositoryFactory interface {
	Base(table string) store.Repository
	Channeled(table string, ch channel.Channel) store.Repository
}

// CacheLog records and lists cache invalidation events.
type CacheLog interface {
	Log(ctx context.Context, entityType, ref string, ch channel.Channel, action string)
	RecentEntries(ctx context.Context, limit int) ([]store.CacheLogEntry, error)
}

// TTLs holds the cache lifetimes per kind of key.
type TTLs struct {
	Entity time.Duration
	List   time.Duration
	Count  time.Duration
}

// DefaultTTLs are used for any TTL left at zero. A zero Entity TTL falls
// back to the cache service's default TTL.
var DefaultTTLs = TTLs{
	Entity: time.Hour,
	List:   5 * time.Minute,
	Count:  5 * time.Minute,
}

func (t TTLs) withDefaults(svc *cache.Service) TTLs {
	if t.Entity <= 0 && svc != nil {
		t.Entity = svc.DefaultTTL()
	}
	if t.Entity <= 0 {
		t.Entity = DefaultTTLs.Entity
	}
	if t.List <= 0 {
		t.List = DefaultTTLs.List
	}
	if t.Count <= 0 {
		t.Count = DefaultTTLs.Count
	}
	return t
}

// Deps groups what the entity handlers need.
type Deps struct {
	Registry *entity.Registry
	Repos    RepositoryFactory
	Cache    *cache.Service
	CacheLog CacheLog
	TTLs     TTLs
}

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// envelope is the success response shape.
type envelope struct {
	Data any `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// internalError logs err and sends a generic 500.
func internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.Error(msg, "error", err, "method", r.Method, "path", r.URL.Path)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// parseID reads the {id} URL parameter.
func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// lookupEntity resolves the {entity} URL parameter.
func lookupEntity(reg *entity.Registry, r *http.Request) (entity.Config, bool) {
	return reg.Lookup(chi.URLParam(r, "entity"))
}

// Reserved list query parameters; everything else is a filter.
const (
	paramLimit = "limit"
	paramPage  = "page"
	paramIDs   = "ids"
)

// integerFilters are filter keys whose values are sent to the database as
// integers.
var integerFilters = map[string]bool{"id": true, "entity_id": true}

// parseFilters turns every non-reserved query parameter into an equality
// filter. Repeated parameters keep their first value.
func parseFilters(q url.Values) (store.Filters, string) {
	var filters store.Filters
	for key, values := range q {
		if key == paramLimit || key == paramPage || key == paramIDs || len(values) == 0 {
			continue
		}
		if filters == nil {
			filters = store.Filters{}
		}
		if integerFilters[key] {
			n, err := strconv.ParseInt(values[0], 10, 64)
			if err != nil {
				return nil, "filter " + key + " must be an integer"
			}
			filters[key] = n
			continue
		}
		filters[key] = values[0]
	}
	return filters, ""
}

// parseListParams reads limit, page, ids and filters from the query string.
func parseListParams(r *http.Request) (store.ListParams, string) {
	q := r.URL.Query()
	p := store.ListParams{Limit: store.DefaultLimit, Page: 1}

	if v := q.Get(paramLimit); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, "limit must be a positive integer"
		}
		if n > store.MaxLimit {
			n = store.MaxLimit
		}
		p.Limit = n
	}
	if v := q.Get(paramPage); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, "page must be a positive integer"
		}
		p.Page = n
	}
	if v := q.Get(paramIDs); v != "" {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return p, "ids must be a comma-separated list of integers"
			}
			p.IDs = append(p.IDs, id)
		}
	}

	filters, msg := parseFilters(q)
	if msg != "" {
		return p, msg
	}
	p.Filters = filters
	return p, ""
}

// decodeInput reads a write request body.
func decodeInput(w http.ResponseWriter, r *http.Request) (store.Input, string) {
	var in store.Input
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return in, "invalid JSON body"
	}
	return in, ""
}

// countResult is the payload of count endpoints.
type countResult struct {
	Count int64 `json:"count"`
}
