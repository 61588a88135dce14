// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package cache provides the Valkey (Redis-compatible) cache tier: client
// initialization, cache key derivation, the backing Store, and the Service
// that performs read-through caching and write-triggered invalidation.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ValkeyOptions configures the shared Valkey client.
type ValkeyOptions struct {
	Host     string
	Port     string
	Password string
	DB       int
	// Timeout bounds dial, read and write operations. Zero keeps the
	// go-redis defaults.
	Timeout time.Duration
}

// Addr returns the host:port address of the Valkey server.
func (o ValkeyOptions) Addr() string {
	return fmt.Sprintf("%s:%s", o.Host, o.Port)
}

// ConnectValkey creates a Valkey client and verifies the connection with a ping.
// The client is safe for concurrent use and is meant to be created once per
// process and shared by every request handler.
func ConnectValkey(opts ValkeyOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr(),
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.Timeout,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey ping: %w", err)
	}

	slog.Info("valkey connected", "addr", opts.Addr(), "db", opts.DB)
	return client, nil
}
