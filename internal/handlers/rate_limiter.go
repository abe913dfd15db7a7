package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/httpx"
)

type simpleRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string]rateEntry
}

type rateEntry struct {
	count int
	reset time.Time
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) *simpleRateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &simpleRateLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]rateEntry),
	}
}

// Allow counts a hit against key and reports whether it fits in the current window, along with
// the time the window resets.
func (l *simpleRateLimiter) Allow(key string) (bool, time.Time) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || now.After(entry.reset) {
		entry = rateEntry{count: 1, reset: now.Add(l.window)}
		l.store[key] = entry
		l.pruneExpiredLocked(now)
		return true, entry.reset
	}

	if entry.count >= l.limit {
		return false, entry.reset
	}
	entry.count++
	l.store[key] = entry
	return true, entry.reset
}

func (l *simpleRateLimiter) pruneExpiredLocked(now time.Time) {
	for key, entry := range l.store {
		if now.After(entry.reset) {
			delete(l.store, key)
		}
	}
}

// RateLimit caps write requests per authenticated user, falling back to the client address. A
// non-positive limit disables it.
func RateLimit(limit int, window time.Duration, clock func() time.Time) func(http.Handler) http.Handler {
	limiter := newSimpleRateLimiter(limit, window, clock)
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.RemoteAddr
			if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.UID != "" {
				key = "uid:" + identity.UID
			}
			allowed, reset := limiter.Allow(key)
			if !allowed {
				retryAfter := int(reset.Sub(limiter.clock()).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				httpx.WriteError(r.Context(), w, httpx.NewError(httpx.CodeRateLimited, "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
