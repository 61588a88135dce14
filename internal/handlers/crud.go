// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"chanlytics/internal/cache"
	"chanlytics/internal/channel"
	"chanlytics/internal/entity"
	"chanlytics/internal/models"
	"chanlytics/internal/store"
)

// Crud serves the base entity endpoints under /api/{entity}.
type Crud struct {
	Deps
}

// NewCrud creates the base entity handler group.
func NewCrud(deps Deps) *Crud {
	deps.TTLs = deps.TTLs.withDefaults(deps.Cache)
	return &Crud{Deps: deps}
}

func (c *Crud) repo(cfg entity.Config) store.Repository {
	return c.Repos.Base(cfg.Table)
}

// List returns one page of records, cached under list_{Class}_{digest}.
func (c *Crud) List(w http.ResponseWriter, r *http.Request) {
	cfg, ok := lookupEntity(c.Registry, r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown entity")
		return
	}
	params, msg := parseListParams(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	key := cache.ForList(cfg.Class, params)
	items, err := cache.GetWithTTL(r.Context(), c.Cache, key, c.TTLs.List, func(ctx context.Context) ([]models.Record, error) {
		return c.repo(cfg).ReadMultiple(ctx, params)
	})
	if err != nil {
		internalError(w, r, "list records failed", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// Count returns the number of records matching the query filters.
func (c *Crud) Count(w http.ResponseWriter, r *http.Request) {
	cfg, ok := lookupEntity(c.Registry, r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown entity")
		return
	}
	filters, msg := parseFilters(r.URL.Query())
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	key := cache.ForCount(cfg.Class, filters)
	n, err := cache.GetWithTTL(r.Context(), c.Cache, key, c.TTLs.Count, func(ctx context.Context) (int64, error) {
		return c.repo(cfg).CountElements(ctx, filters)
	})
	if err != nil {
		internalError(w, r, "count records failed", err)
		return
	}
	writeJSON(w, http.StatusOK, countResult{Count: n})
}

// Get returns a single record, cached under entity:{Class}:{id}.
func (c *Crud) Get(w http.ResponseWriter, r *http.Request) {
	cfg, ok := lookupEntity(c.Registry, r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown entity")
		return
	}
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	key := cache.ForEntity(cfg.Class, id)
	rec, err := cache.GetWithTTL(r.Context(), c.Cache, key, c.TTLs.Entity, func(ctx context.Context) (*models.Record, error) {
		return c.repo(cfg).Read(ctx, id, nil)
	})
	if err != nil {
		internalError(w, r, "read record failed", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Create inserts a record and invalidates the entity's cached lists.
func (c *Crud) Create(w http.ResponseWriter, r *http.Request) {
	cfg, ok := lookupEntity(c.Registry, r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown entity")
		return
	}
	in, msg := decodeInput(w, r)
	if msg == "" {
		msg = validateInput(in, false)
	}
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	rec, err := c.repo(cfg).Create(r.Context(), in)
	if err != nil {
		internalError(w, r, "create record failed", err)
		return
	}

	c.invalidate(r.Context(), cfg, rec.ID, store.ActionCreate)
	writeJSON(w, http.StatusCreated, rec)
}

// Update replaces a record and invalidates its cache entries.
func (c *Crud) Update(w http.ResponseWriter, r *http.Request) {
	cfg, ok := lookupEntity(c.Registry, r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown entity")
		return
	}
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	in, msg := decodeInput(w, r)
	if msg == "" {
		msg = validateInput(in, false)
	}
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	rec, err := c.repo(cfg).Update(r.Context(), id, in)
	if err != nil {
		internalError(w, r, "update record failed", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	c.invalidate(r.Context(), cfg, id, store.ActionUpdate)
	writeJSON(w, http.StatusOK, rec)
}

// Delete removes a record and invalidates its cache entries.
func (c *Crud) Delete(w http.ResponseWriter, r *http.Request) {
	cfg, ok := lookupEntity(c.Registry, r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown entity")
		return
	}
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	// Deleting a base row nulls entity_id on its channeled rows, so their
	// cached copies go stale in every channel. Collect them first.
	var linked map[channel.Channel][]int64
	if cfg.HasChanneled() {
		var err error
		linked, err = c.linkedChanneled(r.Context(), cfg, id)
		if err != nil {
			internalError(w, r, "read linked records failed", err)
			return
		}
	}

	deleted, err := c.repo(cfg).Delete(r.Context(), id)
	if err != nil {
		internalError(w, r, "delete record failed", err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if cfg.HasChanneled() {
		for _, ch := range channel.All() {
			c.Cache.InvalidateMultipleEntities(r.Context(), map[string]any{
				cfg.Class:          id,
				cfg.ChanneledClass: linked[ch],
			}, ch)
		}
		c.CacheLog.Log(r.Context(), cfg.Class, strconv.FormatInt(id, 10), channel.None, store.ActionDelete)
	} else {
		c.invalidate(r.Context(), cfg, id, store.ActionDelete)
	}
	w.WriteHeader(http.StatusNoContent)
}

// linkedChanneled returns the ids of the channeled rows pointing at base
// record id, per channel.
func (c *Crud) linkedChanneled(ctx context.Context, cfg entity.Config, id int64) (map[channel.Channel][]int64, error) {
	linked := make(map[channel.Channel][]int64)
	for _, ch := range channel.All() {
		repo := c.Repos.Channeled(cfg.ChanneledTable, ch)
		for page := 1; ; page++ {
			rows, err := repo.ReadMultiple(ctx, store.ListParams{
				Filters: store.Filters{"entity_id": id},
				Limit:   store.MaxLimit,
				Page:    page,
			})
			if err != nil {
				return nil, fmt.Errorf("read %s %s rows linked to %d: %w", ch, cfg.ChanneledTable, id, err)
			}
			for _, row := range rows {
				linked[ch] = append(linked[ch], row.ID)
			}
			if len(rows) < store.MaxLimit {
				break
			}
		}
	}
	return linked, nil
}

// invalidate drops every cache entry a write to a base record may have made
// stale and logs the event. Base writes carry no channel.
func (c *Crud) invalidate(ctx context.Context, cfg entity.Config, id int64, action string) {
	c.Cache.InvalidateMultipleEntities(ctx, map[string]any{cfg.Class: id}, channel.None)
	c.CacheLog.Log(ctx, cfg.Class, strconv.FormatInt(id, 10), channel.None, action)
}
