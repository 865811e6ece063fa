// Package ratelimitmw implements per-key rate limiting as transport
// middleware, one golang.org/x/time/rate.Limiter per session or client IP
// (grounded on the ingress middleware's per-client limiter map).
package ratelimitmw

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/relaymcp/relay/internal/netutil"
)

// KeyFunc extracts the rate-limit bucket key from a request. ByClientIP
// and BySessionHeader cover the two expected uses; callers may supply
// their own.
type KeyFunc func(r *http.Request) string

// ByClientIP keys on the client IP. X-Forwarded-For / X-Real-IP are only
// trusted when RemoteAddr is loopback, i.e. the request arrived through a
// reverse proxy running on the same host; otherwise a client could spoof
// either header to evade its own limiter bucket.
func ByClientIP(r *http.Request) string {
	if netutil.IsLoopback(r.RemoteAddr) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if parts := strings.Split(xff, ","); len(parts) > 0 {
				return strings.TrimSpace(parts[0])
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// BySessionHeader keys on Mcp-Session-Id, falling back to ByClientIP for
// the session-less first POST.
func BySessionHeader(r *http.Request) string {
	if id := r.Header.Get("Mcp-Session-Id"); id != "" {
		return id
	}
	return ByClientIP(r)
}

// Middleware limits requests per key to rps with the given burst,
// discarding every limiter once the map exceeds maxLimiters entries (mirroring
// the teacher's "clear if the map grows too large" cleanup strategy
// rather than per-entry expiry bookkeeping).
func Middleware(keyFn KeyFunc, rps float64, burst int, maxLimiters int) func(http.Handler) http.Handler {
	m := &limiterMap{limiters: make(map[string]*rate.Limiter), rps: rate.Limit(rps), burst: burst, max: maxLimiters}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.allow(keyFn(r)) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type limiterMap struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
	max      int
}

func (m *limiterMap) allow(key string) bool {
	m.mu.Lock()
	if m.max > 0 && len(m.limiters) > m.max {
		m.limiters = make(map[string]*rate.Limiter)
	}
	l, ok := m.limiters[key]
	if !ok {
		l = rate.NewLimiter(m.rps, m.burst)
		m.limiters[key] = l
	}
	m.mu.Unlock()
	return l.Allow()
}
