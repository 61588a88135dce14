// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// entity.go implements the per-entity repository shared by every entity
// table. Base tables hold a JSONB payload; channeled tables add the channel,
// the platform id and an optional link to the base entity.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"chanlytics/internal/channel"
	"chanlytics/internal/models"
)

// Pagination limits for ReadMultiple.
const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// Filters are equality filters. Keys naming a table column filter on that
// column, any other key filters on the matching top-level key of data.
type Filters map[string]any

// ListParams selects a page of records.
type ListParams struct {
	Limit   int     `json:"limit"`
	Page    int     `json:"page"`
	IDs     []int64 `json:"ids,omitempty"`
	Filters Filters `json:"filters,omitempty"`
}

// Input is the writable part of a record.
type Input struct {
	EntityID   *int64          `json:"entity_id,omitempty"`
	PlatformID string          `json:"platform_id,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// Repository is the persistence capability every entity exposes.
type Repository interface {
	Read(ctx context.Context, id int64, filters Filters) (*models.Record, error)
	ReadMultiple(ctx context.Context, p ListParams) ([]models.Record, error)
	CountElements(ctx context.Context, filters Filters) (int64, error)
	Create(ctx context.Context, in Input) (*models.Record, error)
	Update(ctx context.Context, id int64, in Input) (*models.Record, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// Repositories opens entity stores over a shared connection pool.
type Repositories struct {
	db *sql.DB
}

// NewRepositories creates a Repositories over db.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{db: db}
}

// Base returns the repository of a base entity table.
func (r *Repositories) Base(table string) Repository {
	return NewEntityStore(r.db, table)
}

// Channeled returns the repository of a channeled table scoped to ch.
func (r *Repositories) Channeled(table string, ch channel.Channel) Repository {
	return NewChanneledStore(r.db, table, ch)
}

var (
	baseColumns      = []string{"id", "data", "created_at", "updated_at"}
	channeledColumns = []string{"id", "entity_id", "channel", "platform_id", "data", "created_at", "updated_at"}
)

// EntityStore handles the rows of one entity table.
type EntityStore struct {
	db      *sql.DB
	table   string
	channel channel.Channel
	qb      sq.StatementBuilderType
}

// NewEntityStore creates a store over a base entity table.
func NewEntityStore(db *sql.DB, table string) *EntityStore {
	return &EntityStore{
		db:    db,
		table: pgx.Identifier{table}.Sanitize(),
		qb:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// NewChanneledStore creates a store over a channeled entity table, scoped to
// the rows of a single channel.
func NewChanneledStore(db *sql.DB, table string, ch channel.Channel) *EntityStore {
	s := NewEntityStore(db, table)
	s.channel = ch
	return s
}

func (s *EntityStore) channeled() bool {
	return !s.channel.IsNone()
}

func (s *EntityStore) columns() []string {
	if s.channeled() {
		return channeledColumns
	}
	return baseColumns
}

// where turns filters into predicates, in key order so that identical
// filters build identical SQL.
func (s *EntityStore) where(filters Filters) sq.And {
	cols := make(map[string]bool, len(s.columns()))
	for _, c := range s.columns() {
		cols[c] = true
	}

	var preds sq.And
	if s.channeled() {
		preds = append(preds, sq.Eq{"channel": s.channel.String()})
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := filters[k]
		switch {
		case k == "channel" && s.channeled():
			// Already scoped.
		case cols[k] && k != "data" && k != "created_at" && k != "updated_at":
			preds = append(preds, sq.Eq{k: v})
		default:
			preds = append(preds, sq.Expr("data->>? = ?", k, fmt.Sprint(v)))
		}
	}
	return preds
}

func (s *EntityStore) selectQuery(filters Filters) sq.SelectBuilder {
	q := s.qb.Select(s.columns()...).From(s.table)
	if preds := s.where(filters); len(preds) > 0 {
		q = q.Where(preds)
	}
	return q
}

func (s *EntityStore) listQuery(p ListParams) sq.SelectBuilder {
	limit, page := p.Limit, p.Page
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if page < 1 {
		page = 1
	}

	q := s.selectQuery(p.Filters)
	if len(p.IDs) > 0 {
		q = q.Where(sq.Eq{"id": p.IDs})
	}
	return q.OrderBy("id").
		Limit(uint64(limit)).
		Offset(uint64((page - 1) * limit))
}

func (s *EntityStore) countQuery(filters Filters) sq.SelectBuilder {
	q := s.qb.Select("COUNT(*)").From(s.table)
	if preds := s.where(filters); len(preds) > 0 {
		q = q.Where(preds)
	}
	return q
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *EntityStore) scan(row rowScanner) (*models.Record, error) {
	r := &models.Record{}
	var data []byte
	if s.channeled() {
		var entityID sql.NullInt64
		if err := row.Scan(&r.ID, &entityID, &r.Channel, &r.PlatformID, &data, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		if entityID.Valid {
			id := entityID.Int64
			r.EntityID = &id
		}
	} else {
		if err := row.Scan(&r.ID, &data, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
	}
	r.Data = json.RawMessage(data)
	// The driver returns timestamps in time.Local; cached copies decode as
	// UTC, so both paths are pinned to UTC.
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

// Read retrieves a record by id. Returns nil if not found.
func (s *EntityStore) Read(ctx context.Context, id int64, filters Filters) (*models.Record, error) {
	query, args, err := s.selectQuery(filters).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build read %s: %w", s.table, err)
	}
	r, err := s.scan(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s %d: %w", s.table, id, err)
	}
	return r, nil
}

// ReadMultiple returns one page of records ordered by id.
func (s *EntityStore) ReadMultiple(ctx context.Context, p ListParams) ([]models.Record, error) {
	query, args, err := s.listQuery(p).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list %s: %w", s.table, err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.table, err)
	}
	defer rows.Close()

	items := []models.Record{}
	for rows.Next() {
		r, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.table, err)
		}
		items = append(items, *r)
	}
	return items, rows.Err()
}

// CountElements returns the number of records matching filters.
func (s *EntityStore) CountElements(ctx context.Context, filters Filters) (int64, error) {
	query, args, err := s.countQuery(filters).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count %s: %w", s.table, err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", s.table, err)
	}
	return n, nil
}

func payload(in Input) string {
	if len(in.Data) == 0 {
		return "{}"
	}
	return string(in.Data)
}

// Create inserts a record and returns it.
func (s *EntityStore) Create(ctx context.Context, in Input) (*models.Record, error) {
	q := s.qb.Insert(s.table)
	if s.channeled() {
		q = q.Columns("entity_id", "channel", "platform_id", "data").
			Values(in.EntityID, s.channel.String(), in.PlatformID, payload(in))
	} else {
		q = q.Columns("data").Values(payload(in))
	}
	query, args, err := q.Suffix("RETURNING " + strings.Join(s.columns(), ", ")).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build create %s: %w", s.table, err)
	}
	r, err := s.scan(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", s.table, err)
	}
	return r, nil
}

// Update replaces the writable fields of a record. Returns nil if not found.
func (s *EntityStore) Update(ctx context.Context, id int64, in Input) (*models.Record, error) {
	q := s.qb.Update(s.table).
		Set("data", payload(in)).
		Set("updated_at", sq.Expr("NOW()"))
	if s.channeled() {
		q = q.Set("entity_id", in.EntityID).Set("platform_id", in.PlatformID)
	}
	q = q.Where(sq.Eq{"id": id})
	if s.channeled() {
		q = q.Where(sq.Eq{"channel": s.channel.String()})
	}
	query, args, err := q.Suffix("RETURNING " + strings.Join(s.columns(), ", ")).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update %s: %w", s.table, err)
	}
	r, err := s.scan(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update %s %d: %w", s.table, id, err)
	}
	return r, nil
}

func (s *EntityStore) deleteQuery(id int64) (string, []any, error) {
	q := s.qb.Delete(s.table).Where(sq.Eq{"id": id})
	if s.channeled() {
		q = q.Where(sq.Eq{"channel": s.channel.String()})
	}
	return q.ToSql()
}

// Delete removes a record. It reports whether a row was deleted.
func (s *EntityStore) Delete(ctx context.Context, id int64) (bool, error) {
	query, args, err := s.deleteQuery(id)
	if err != nil {
		return false, fmt.Errorf("build delete %s: %w", s.table, err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete %s %d: %w", s.table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s %d: %w", s.table, id, err)
	}
	return n > 0, nil
}
