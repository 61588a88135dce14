// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// keys.go is the single place where cache keys are built. Every reader and
// every invalidation path goes through these helpers so the formats cannot
// drift apart.
//
// Entity types are case-sensitive class short names ("Customer",
// "ChanneledCustomer"). Ids and channel names are written verbatim: delimiter
// characters (":" and "_") inside them are not escaped, so an id containing
// ":" can collide with a channeled key. Ids in this system are integers, which
// keeps that limitation theoretical.
package cache

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	entityPrefix         = "entity"
	listPrefix           = "list"
	countPrefix          = "count"
	channeledListPrefix  = "channeled_list"
	channeledCountPrefix = "channeled_count"
)

// ForEntity returns the key of a single base entity: entity:{entityType}:{id}.
func ForEntity(entityType string, id any) string {
	return fmt.Sprintf("%s:%s:%v", entityPrefix, entityType, id)
}

// ForChanneledEntity returns the key of a single channeled entity:
// entity:{channel}:{entityType}:{id}.
func ForChanneledEntity(channel, entityType string, id any) string {
	return fmt.Sprintf("%s:%s:%s:%v", entityPrefix, channel, entityType, id)
}

// ForList returns list_{entityType}_{digest(params)}.
func ForList(entityType string, params any) string {
	return listPrefix + "_" + entityType + "_" + Digest(params)
}

// ForCount returns count_{entityType}_{digest(params)}.
func ForCount(entityType string, params any) string {
	return countPrefix + "_" + entityType + "_" + Digest(params)
}

// ForChanneledList returns channeled_list_{entityType}_{channel}_{digest(filters)}.
func ForChanneledList(entityType, channel string, filters any) string {
	return channeledListPrefix + "_" + entityType + "_" + channel + "_" + Digest(filters)
}

// ForChanneledCount returns channeled_count_{entityType}_{channel}_{digest(filters)}.
func ForChanneledCount(entityType, channel string, filters any) string {
	return channeledCountPrefix + "_" + entityType + "_" + channel + "_" + Digest(filters)
}

// ListPattern matches every list key of entityType.
func ListPattern(entityType string) string {
	return listPrefix + "_" + entityType + "_*"
}

// CountPattern matches every count key of entityType.
func CountPattern(entityType string) string {
	return countPrefix + "_" + entityType + "_*"
}

// ChanneledListPattern matches every channeled list key of entityType in channel.
func ChanneledListPattern(entityType, channel string) string {
	return channeledListPrefix + "_" + entityType + "_" + channel + "_*"
}

// ChanneledCountPattern matches every channeled count key of entityType in channel.
func ChanneledCountPattern(entityType, channel string) string {
	return channeledCountPrefix + "_" + entityType + "_" + channel + "_*"
}

// Digest returns the hex md5 of the canonical JSON encoding of v. Map keys are
// sorted at every level and struct fields keep declaration order, so two
// logically equal queries produce the same digest whatever order their
// filters were inserted in.
//
// Values JSON rejects (NaN or infinite floats) are hashed from a msgpack
// encoding with sorted string map keys. Values neither codec can encode
// (funcs, chans, cycles) hash by type name alone, so they share one digest
// per type.
func Digest(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data = fallbackEncoding(v, err)
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func fallbackEncoding(v any, jsonErr error) []byte {
	var uve *json.UnsupportedValueError
	cyclic := errors.As(jsonErr, &uve) && strings.HasPrefix(uve.Str, "encountered a cycle")
	if !cyclic {
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetSortMapKeys(true)
		if err := enc.Encode(v); err == nil {
			return append([]byte("msgpack:"), buf.Bytes()...)
		}
	}
	return []byte(fmt.Sprintf("unencodable:%T", v))
}
