// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleTTL is how long a client may stay silent before its limiter is dropped.
const idleTTL = 10 * time.Minute

// limiterEntry holds the token bucket of a single client.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides per-IP rate limiting with a token bucket per client.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*limiterEntry
	rps     rate.Limit
	burst   int
	stopCh  chan struct{}
	once    sync.Once

	// trustProxy makes clientIP honor X-Forwarded-For and X-Real-IP.
	trustProxy bool
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// TrustProxyHeaders keys clients by X-Forwarded-For or X-Real-IP instead of
// the connection address. Only enable it behind a proxy that overwrites
// those headers; otherwise any client can pick its own key.
func TrustProxyHeaders() RateLimiterOption {
	return func(rl *RateLimiter) { rl.trustProxy = true }
}

// NewRateLimiter creates a rate limiter that refills rps tokens per second
// up to burst. It starts a background goroutine to drop idle clients.
func NewRateLimiter(rps float64, burst int, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*limiterEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rl)
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				rl.cleanup(now)
			case <-rl.stopCh:
				return
			}
		}
	}()

	return rl
}

// Stop terminates the background cleanup goroutine. It is safe to call more
// than once.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

// allow reports whether key may make a request at now.
func (rl *RateLimiter) allow(key string, now time.Time) bool {
	rl.mu.Lock()
	entry, ok := rl.clients[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[key] = entry
	}
	entry.lastSeen = now
	rl.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

// cleanup removes clients idle for longer than idleTTL.
func (rl *RateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, entry := range rl.clients {
		if now.Sub(entry.lastSeen) > idleTTL {
			delete(rl.clients, key)
		}
	}
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// retryAfter is the time, in whole seconds, for one token to refill.
func (rl *RateLimiter) retryAfter() string {
	secs := 1
	if rl.rps > 0 {
		secs = int(math.Ceil(1 / float64(rl.rps)))
		if secs < 1 {
			secs = 1
		}
	}
	return strconv.Itoa(secs)
}

// Middleware returns an HTTP middleware that rate-limits by client IP.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r, rl.trustProxy), time.Now()) {
			w.Header().Set("Retry-After", rl.retryAfter())
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the client's IP address. The X-Forwarded-For and
// X-Real-IP headers are only read when trustProxy is set.
func clientIP(r *http.Request, trustProxy bool) string {
	if !trustProxy {
		return remoteHost(r.RemoteAddr)
	}

	// Check X-Forwarded-For first (may contain multiple IPs).
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first (leftmost) IP, the original client.
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	// Check X-Real-IP.
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	return remoteHost(r.RemoteAddr)
}

// remoteHost strips the port from a RemoteAddr.
func remoteHost(addr string) string {
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
