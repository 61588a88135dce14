// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package cache

import "errors"

// Cache tier error taxonomy. Failures are wrapped with fmt.Errorf("...: %w")
// so callers match them with errors.Is.
var (
	// ErrUnavailable reports a connection or timeout failure talking to Valkey.
	ErrUnavailable = errors.New("cache unavailable")

	// ErrCorrupt reports a stored payload that cannot be decoded into the
	// requested type. The Service treats it as a miss.
	ErrCorrupt = errors.New("cache payload corrupt")

	// ErrInvalidArgument reports malformed input such as an empty key or a
	// non-positive TTL.
	ErrInvalidArgument = errors.New("invalid cache argument")

	// ErrScanAborted reports a SCAN loop that hit the iteration cap before
	// the cursor returned to zero.
	ErrScanAborted = errors.New("cache scan aborted")
)
