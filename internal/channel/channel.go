// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package channel defines the closed set of external platforms data is
// imported from.
package channel

import (
	"fmt"
	"strings"
)

// Channel identifies an external commerce or marketing platform. The zero
// value means "no channel".
type Channel string

const (
	None            Channel = ""
	Shopify         Channel = "shopify"
	NetSuite        Channel = "netsuite"
	Klaviyo         Channel = "klaviyo"
	Amazon          Channel = "amazon"
	Facebook        Channel = "facebook"
	GoogleAnalytics Channel = "google_analytics"
)

var all = []Channel{Shopify, NetSuite, Klaviyo, Amazon, Facebook, GoogleAnalytics}

// All returns every known channel.
func All() []Channel {
	out := make([]Channel, len(all))
	copy(out, all)
	return out
}

// Parse resolves a channel name case-insensitively.
func Parse(s string) (Channel, error) {
	name := Channel(strings.ToLower(strings.TrimSpace(s)))
	for _, c := range all {
		if c == name {
			return c, nil
		}
	}
	return None, fmt.Errorf("unknown channel %q", s)
}

// IsNone reports whether c is the zero channel.
func (c Channel) IsNone() bool {
	return c == None
}

func (c Channel) String() string {
	return string(c)
}
