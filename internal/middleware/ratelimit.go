// Package middleware provides HTTP middleware for the messaging gateway.
package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coordination-labs/messaging-gateway/internal/httputil"
	"github.com/coordination-labs/messaging-gateway/internal/logging"
	"github.com/coordination-labs/messaging-gateway/internal/metrics"
)

type window struct {
	count int
	start time.Time
}

// RateLimiter is a fixed-window admission counter keyed by client identity.
// Once the window elapses the counter resets; at the ceiling, requests are
// denied with 429 and standard RateLimit-* headers.
type RateLimiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	name     string
	limit    int
	interval time.Duration
	message  string
	logger   *logging.Logger
	now      func() time.Time
}

// NewRateLimiter creates a limiter admitting `limit` requests per `interval`
// per client identity. The message is returned verbatim in the denial body.
func NewRateLimiter(name string, limit int, interval time.Duration, message string, logger *logging.Logger) *RateLimiter {
	if logger == nil {
		logger = logging.NewDefault("ratelimit")
	}
	return &RateLimiter{
		windows:  make(map[string]*window),
		name:     name,
		limit:    limit,
		interval: interval,
		message:  message,
		logger:   logger,
		now:      time.Now,
	}
}

// Allow records one admission attempt for key. It returns whether the
// request is admitted, how many admissions remain in the window, and when
// the window resets.
func (rl *RateLimiter) Allow(key string) (allowed bool, remaining int, reset time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= rl.interval {
		w = &window{start: now}
		rl.windows[key] = w
	}

	reset = rl.interval - now.Sub(w.start)
	if w.count >= rl.limit {
		return false, 0, reset
	}
	w.count++
	return true, rl.limit - w.count, reset
}

// Handler returns the admission middleware.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientIdentity(r)
		allowed, remaining, reset := rl.Allow(key)

		resetSeconds := int(reset.Seconds() + 0.5)
		w.Header().Set("RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("RateLimit-Reset", strconv.Itoa(resetSeconds))

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(resetSeconds))
			rl.logger.LogSecurityEvent(r.Context(), "rate_limit_exceeded", map[string]interface{}{
				"limiter": rl.name,
				"key":     key,
				"path":    r.URL.Path,
				"method":  r.Method,
			})
			metrics.RecordRateLimited(rl.name)
			httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.Response{
				Success: false,
				Message: rl.message,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Cleanup drops windows that have fully elapsed.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, w := range rl.windows {
		if now.Sub(w.start) >= rl.interval {
			delete(rl.windows, key)
		}
	}
}

// StartCleanup starts a background goroutine that periodically prunes
// elapsed windows.
func (rl *RateLimiter) StartCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			rl.Cleanup()
		}
	}()
}

// ClientIdentity derives the admission key for a request: the first
// X-Forwarded-For hop when present, otherwise the remote address host.
func ClientIdentity(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
