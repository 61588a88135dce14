// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// cache_log.go records cache invalidation events in the database for
// audit and debugging purposes. Each entry captures what was invalidated,
// in which channel, when, and why (create/update/delete/manual).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"chanlytics/internal/channel"
)

// Invalidation actions recorded in the log.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionManual = "manual"
)

// CacheLogStore handles cache invalidation log operations.
type CacheLogStore struct {
	db *sql.DB
}

// NewCacheLogStore creates a new CacheLogStore.
func NewCacheLogStore(db *sql.DB) *CacheLogStore {
	return &CacheLogStore{db: db}
}

// Log records a cache invalidation event. ref identifies the invalidated
// record (an id, or a summary for multi-entity requests). Failures are
// logged and swallowed.
func (s *CacheLogStore) Log(ctx context.Context, entityType, ref string, ch channel.Channel, action string) {
	var chValue sql.NullString
	if !ch.IsNone() {
		chValue = sql.NullString{String: ch.String(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_invalidation_log (entity_type, entity_ref, channel, action)
		VALUES ($1, $2, $3, $4)
	`, entityType, ref, chValue, action)
	if err != nil {
		slog.Warn("failed to log cache invalidation",
			"entity_type", entityType,
			"entity_ref", ref,
			"channel", ch.String(),
			"action", action,
			"error", err,
		)
		return
	}
	slog.Debug("cache invalidation logged",
		"entity_type", entityType,
		"entity_ref", ref,
		"channel", ch.String(),
		"action", action,
	)
}

// RecentEntries returns the most recent cache invalidation events for
// debugging. Limited to the specified count.
func (s *CacheLogStore) RecentEntries(ctx context.Context, limit int) ([]CacheLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_ref, COALESCE(channel, ''), action, invalidated_at
		FROM cache_invalidation_log
		ORDER BY invalidated_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query cache log: %w", err)
	}
	defer rows.Close()

	entries := []CacheLogEntry{}
	for rows.Next() {
		var e CacheLogEntry
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityRef, &e.Channel, &e.Action, &e.InvalidatedAt); err != nil {
			return nil, fmt.Errorf("scan cache log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CacheLogEntry represents a single cache invalidation event.
type CacheLogEntry struct {
	ID            int64     `json:"id"`
	EntityType    string    `json:"entity_type"`
	EntityRef     string    `json:"entity_ref"`
	Channel       string    `json:"channel,omitempty"`
	Action        string    `json:"action"`
	InvalidatedAt time.Time `json:"invalidated_at"`
}
