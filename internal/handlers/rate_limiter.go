package handlers

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hanko-field/order-engine/internal/platform/httpx"
)

// fixedWindowLimiter counts requests per key inside a fixed window.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]windowCount
}

type windowCount struct {
	count int
	reset time.Time
}

func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) *fixedWindowLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]windowCount),
	}
}

// allow reports whether key may proceed and, when it may not, how long until
// its window resets.
func (l *fixedWindowLimiter) allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.windows[key]
	if !ok || !now.Before(entry.reset) {
		l.windows[key] = windowCount{count: 1, reset: now.Add(l.window)}
		l.pruneLocked(now)
		return true, 0
	}
	if entry.count >= l.limit {
		return false, entry.reset.Sub(now)
	}
	entry.count++
	l.windows[key] = entry
	return true, 0
}

func (l *fixedWindowLimiter) pruneLocked(now time.Time) {
	for key, entry := range l.windows {
		if !now.Before(entry.reset) {
			delete(l.windows, key)
		}
	}
}

// RateLimitMiddleware throttles callers by remote address. It protects the
// unauthenticated webhook group from floods. A non-positive limit disables it.
func RateLimitMiddleware(limit int, window time.Duration) func(http.Handler) http.Handler {
	return rateLimitMiddleware(newFixedWindowLimiter(limit, window, nil))
}

func rateLimitMiddleware(limiter *fixedWindowLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retryAfter := limiter.allow(clientKey(r))
			if !ok {
				seconds := int(retryAfter.Round(time.Second) / time.Second)
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
