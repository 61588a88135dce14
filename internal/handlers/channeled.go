// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"chanlytics/internal/cache"
	"chanlytics/internal/channel"
	"chanlytics/internal/entity"
	"chanlytics/internal/models"
	"chanlytics/internal/store"
)

// ChanneledCrud serves the per-channel entity endpoints under
// /api/channels/{channel}/{entity}.
type ChanneledCrud struct {
	Deps
}

// NewChanneledCrud creates the channeled entity handler group.
func NewChanneledCrud(deps Deps) *ChanneledCrud {
	deps.TTLs = deps.TTLs.withDefaults(deps.Cache)
	return &ChanneledCrud{Deps: deps}
}

// resolve reads {channel} and {entity} and writes a 404 when either is
// unknown or the entity has no channeled counterpart.
func (h *ChanneledCrud) resolve(w http.ResponseWriter, r *http.Request) (entity.Config, channel.Channel, bool) {
	ch, err := channel.Parse(chi.URLParam(r, "channel"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown channel")
		return entity.Config{}, channel.None, false
	}
	cfg, ok := lookupEntity(h.Registry, r)
	if !ok || !cfg.HasChanneled() {
		writeError(w, http.StatusNotFound, "unknown entity")
		return entity.Config{}, channel.None, false
	}
	return cfg, ch, true
}

func (h *ChanneledCrud) repo(cfg entity.Config, ch channel.Channel) store.Repository {
	return h.Repos.Channeled(cfg.ChanneledTable, ch)
}

// List returns one page of channeled records for the channel.
func (h *ChanneledCrud) List(w http.ResponseWriter, r *http.Request) {
	cfg, ch, ok := h.resolve(w, r)
	if !ok {
		return
	}
	params, msg := parseListParams(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	key := cache.ForChanneledList(cfg.ChanneledClass, ch.String(), params)
	items, err := cache.GetWithTTL(r.Context(), h.Cache, key, h.TTLs.List, func(ctx context.Context) ([]models.Record, error) {
		return h.repo(cfg, ch).ReadMultiple(ctx, params)
	})
	if err != nil {
		internalError(w, r, "list channeled records failed", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// Count returns the number of channeled records matching the filters.
func (h *ChanneledCrud) Count(w http.ResponseWriter, r *http.Request) {
	cfg, ch, ok := h.resolve(w, r)
	if !ok {
		return
	}
	filters, msg := parseFilters(r.URL.Query())
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	key := cache.ForChanneledCount(cfg.ChanneledClass, ch.String(), filters)
	n, err := cache.GetWithTTL(r.Context(), h.Cache, key, h.TTLs.Count, func(ctx context.Context) (int64, error) {
		return h.repo(cfg, ch).CountElements(ctx, filters)
	})
	if err != nil {
		internalError(w, r, "count channeled records failed", err)
		return
	}
	writeJSON(w, http.StatusOK, countResult{Count: n})
}

// Get returns one channeled record, cached under
// entity:{channel}:{ChanneledClass}:{id}.
func (h *ChanneledCrud) Get(w http.ResponseWriter, r *http.Request) {
	cfg, ch, ok := h.resolve(w, r)
	if !ok {
		return
	}
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	key := cache.ForChanneledEntity(ch.String(), cfg.ChanneledClass, id)
	rec, err := cache.GetWithTTL(r.Context(), h.Cache, key, h.TTLs.Entity, func(ctx context.Context) (*models.Record, error) {
		return h.repo(cfg, ch).Read(ctx, id, nil)
	})
	if err != nil {
		internalError(w, r, "read channeled record failed", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Create inserts a channeled record for the channel.
func (h *ChanneledCrud) Create(w http.ResponseWriter, r *http.Request) {
	cfg, ch, ok := h.resolve(w, r)
	if !ok {
		return
	}
	in, msg := decodeInput(w, r)
	if msg == "" {
		msg = validateInput(in, true)
	}
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	rec, err := h.repo(cfg, ch).Create(r.Context(), in)
	if err != nil {
		internalError(w, r, "create channeled record failed", err)
		return
	}

	h.invalidate(r.Context(), cfg, ch, rec.ID, []*int64{rec.EntityID}, store.ActionCreate)
	writeJSON(w, http.StatusCreated, rec)
}

// Update replaces a channeled record. When the link to the base entity
// changes, both the old and the new base entity are invalidated.
func (h *ChanneledCrud) Update(w http.ResponseWriter, r *http.Request) {
	cfg, ch, ok := h.resolve(w, r)
	if !ok {
		return
	}
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	in, msg := decodeInput(w, r)
	if msg == "" {
		msg = validateInput(in, true)
	}
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	repo := h.repo(cfg, ch)
	prev, err := repo.Read(r.Context(), id, nil)
	if err != nil {
		internalError(w, r, "read channeled record failed", err)
		return
	}
	if prev == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	rec, err := repo.Update(r.Context(), id, in)
	if err != nil {
		internalError(w, r, "update channeled record failed", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	h.invalidate(r.Context(), cfg, ch, id, linkedIDs(prev.EntityID, rec.EntityID), store.ActionUpdate)
	writeJSON(w, http.StatusOK, rec)
}

// Delete removes a channeled record.
func (h *ChanneledCrud) Delete(w http.ResponseWriter, r *http.Request) {
	cfg, ch, ok := h.resolve(w, r)
	if !ok {
		return
	}
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	repo := h.repo(cfg, ch)
	prev, err := repo.Read(r.Context(), id, nil)
	if err != nil {
		internalError(w, r, "read channeled record failed", err)
		return
	}
	if prev == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	deleted, err := repo.Delete(r.Context(), id)
	if err != nil {
		internalError(w, r, "delete channeled record failed", err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	h.invalidate(r.Context(), cfg, ch, id, []*int64{prev.EntityID}, store.ActionDelete)
	w.WriteHeader(http.StatusNoContent)
}

// invalidate drops the cache entries of a channeled record and of the base
// entities it links to. The base class must be named for the channeled
// fan-out to run, so it is always present, with no ids when unlinked.
func (h *ChanneledCrud) invalidate(ctx context.Context, cfg entity.Config, ch channel.Channel, id int64, entityIDs []*int64, action string) {
	h.Cache.InvalidateMultipleEntities(ctx, map[string]any{
		cfg.Class:          entityIDs,
		cfg.ChanneledClass: id,
	}, ch)
	h.CacheLog.Log(ctx, cfg.ChanneledClass, strconv.FormatInt(id, 10), ch, action)
}

// linkedIDs returns the distinct non-nil base ids among prev and next.
func linkedIDs(prev, next *int64) []*int64 {
	if prev != nil && next != nil && *prev == *next {
		return []*int64{next}
	}
	return []*int64{prev, next}
}
