package handlers

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"chanlytics/internal/store"
)

// Validation limits for record inputs.
const (
	maxDataLen       = 512_000
	maxPlatformIDLen = 255
)

// validateInput checks a write request and returns the first error found.
// Channeled records must carry the id the platform knows them by.
func validateInput(in store.Input, channeled bool) string {
	if len(in.Data) > maxDataLen {
		return "Data is too large (max 512,000 bytes)."
	}
	if len(in.Data) > 0 {
		trimmed := bytes.TrimSpace(in.Data)
		if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
			return "Data must be a JSON object."
		}
	}

	if !channeled {
		if in.PlatformID != "" || in.EntityID != nil {
			return "platform_id and entity_id are only accepted on channeled entities."
		}
		return ""
	}

	platformID := strings.TrimSpace(in.PlatformID)
	if platformID == "" {
		return "platform_id is required."
	}
	if utf8.RuneCountInString(platformID) > maxPlatformIDLen {
		return "platform_id is too long (max 255 characters)."
	}
	if in.EntityID != nil && *in.EntityID <= 0 {
		return "entity_id must be a positive integer."
	}
	return ""
}
