// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package models

import (
	"encoding/json"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Record is one row of an entity table. Base entities (customers, orders,
// products, ...) leave the channel fields empty; channeled entities carry the
// channel they were imported from, the id the platform uses for them, and
// optionally the id of the base entity they were matched to.
type Record struct {
	ID         int64           `json:"id"`
	EntityID   *int64          `json:"entity_id,omitempty"`
	Channel    string          `json:"channel,omitempty"`
	PlatformID string          `json:"platform_id,omitempty"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Field decodes a single top-level key of Data. It returns nil when Data is
// not a JSON object or the key is absent.
func (r *Record) Field(key string) any {
	var obj map[string]any
	if err := json.Unmarshal(r.Data, &obj); err != nil {
		return nil
	}
	return obj[key]
}

// DecodeMsgpack restores a cached record. msgpack decodes timestamps in the
// local zone; records always carry UTC, as the repositories return them.
func (r *Record) DecodeMsgpack(dec *msgpack.Decoder) error {
	type plain Record
	if err := dec.Decode((*plain)(r)); err != nil {
		return err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return nil
}
