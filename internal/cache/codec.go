// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package cache

import (
	"fmt"
	"reflect"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// payloadVersion is bumped whenever the envelope layout changes, turning
// every old entry into a miss.
const payloadVersion = 1

// envelope wraps an encoded value with enough metadata to reject partial,
// foreign or tampered payloads before decoding them.
type envelope struct {
	Version uint8  `msgpack:"v"`
	Type    string `msgpack:"t"`
	Sum     uint64 `msgpack:"s"`
	Data    []byte `msgpack:"d"`
}

func typeName[T any]() string {
	return reflect.TypeFor[T]().String()
}

// encode serializes v into a checksummed envelope tagged with the dynamic
// type of v. A typed nil pointer keeps its pointer type.
func encode(v any) ([]byte, error) {
	name := "<nil>"
	if t := reflect.TypeOf(v); t != nil {
		name = t.String()
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return msgpack.Marshal(&envelope{
		Version: payloadVersion,
		Type:    name,
		Sum:     xxhash.Sum64(data),
		Data:    data,
	})
}

// decode reverses encode. Any mismatch is reported as ErrCorrupt. T must be
// concrete; an interface T is an ErrInvalidArgument.
func decode[T any](raw []byte) (T, error) {
	var zero T
	if reflect.TypeFor[T]().Kind() == reflect.Interface {
		return zero, fmt.Errorf("%w: cannot decode into interface type %s", ErrInvalidArgument, typeName[T]())
	}

	var env envelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return zero, fmt.Errorf("%w: envelope: %v", ErrCorrupt, err)
	}
	if env.Version != payloadVersion {
		return zero, fmt.Errorf("%w: version %d", ErrCorrupt, env.Version)
	}
	if want := typeName[T](); env.Type != want {
		return zero, fmt.Errorf("%w: type %q, want %q", ErrCorrupt, env.Type, want)
	}
	if xxhash.Sum64(env.Data) != env.Sum {
		return zero, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	var out T
	if err := msgpack.Unmarshal(env.Data, &out); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out, nil
}
