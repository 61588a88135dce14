// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"chanlytics/internal/cache"
	"chanlytics/internal/channel"
	"chanlytics/internal/entity"
	"chanlytics/internal/store"
)

// Cache log listing limits.
const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

// CacheAdmin serves the cache administration endpoints under /api/cache.
type CacheAdmin struct {
	registry *entity.Registry
	cache    *cache.Service
	log      CacheLog
}

// NewCacheAdmin creates the cache administration handler group.
func NewCacheAdmin(deps Deps) *CacheAdmin {
	return &CacheAdmin{registry: deps.Registry, cache: deps.Cache, log: deps.CacheLog}
}

// invalidateRequest is the body of a manual invalidation. Entities maps a
// class name to an id, a list of ids or null.
type invalidateRequest struct {
	Entities map[string]any `json:"entities"`
	Channel  string         `json:"channel"`
}

// reportResponse is the JSON form of cache.Report.
type reportResponse struct {
	DirectKeys int    `json:"direct_keys"`
	Patterns   int    `json:"patterns"`
	Deleted    int    `json:"deleted"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
}

// Invalidate runs a manual invalidation. It answers 200 when every deletion
// succeeded and 503 when the cache left some of them undone.
func (h *CacheAdmin) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Entities) == 0 {
		writeError(w, http.StatusBadRequest, "entities is required")
		return
	}

	classes := make([]string, 0, len(req.Entities))
	for class := range req.Entities {
		if !h.registry.KnownClass(class) {
			writeError(w, http.StatusBadRequest, "unknown entity class "+strconv.Quote(class))
			return
		}
		classes = append(classes, class)
	}
	sort.Strings(classes)

	ch := channel.None
	if req.Channel != "" {
		parsed, err := channel.Parse(req.Channel)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown channel")
			return
		}
		ch = parsed
	}

	report := h.cache.InvalidateMultipleEntities(r.Context(), req.Entities, ch)
	for _, class := range classes {
		h.log.Log(r.Context(), class, logRef(req.Entities[class]), ch, store.ActionManual)
	}

	resp := reportResponse{
		DirectKeys: report.DirectKeys,
		Patterns:   report.Patterns,
		Deleted:    report.Deleted,
		Failed:     report.Failed,
	}
	status := http.StatusOK
	if report.Failed > 0 {
		resp.Error = report.Err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// logRef renders the ids of a manual invalidation for the log.
func logRef(v any) string {
	switch ids := v.(type) {
	case nil:
		return "*"
	case []any:
		if len(ids) == 0 {
			return "*"
		}
		b, _ := json.Marshal(ids)
		return string(b)
	default:
		return fmt.Sprint(ids)
	}
}

// Stats returns the cache hit and miss counters since startup.
func (h *CacheAdmin) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.Stats())
}

// Log returns the most recent invalidation events.
func (h *CacheAdmin) Log(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogLimit)
	}

	entries, err := h.log.RecentEntries(r.Context(), limit)
	if err != nil {
		internalError(w, r, "list cache log failed", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
