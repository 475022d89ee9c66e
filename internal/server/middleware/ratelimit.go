package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IPLimiter hands out one token bucket per client IP. Buckets idle for
// longer than ttl are dropped on the next sweep.
type IPLimiter struct {
	rps   rate.Limit
	burst int
	ttl   time.Duration

	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPLimiter creates an IPLimiter allowing rps requests per second per IP.
func NewIPLimiter(rps float64, burst int) *IPLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		ttl:       10 * time.Minute,
		clients:   make(map[string]*client),
		lastSweep: time.Now(),
	}
}

// Allow reports whether a request from ip may proceed now.
func (l *IPLimiter) Allow(ip string) bool {
	now := time.Now()
	l.mu.Lock()
	if now.Sub(l.lastSweep) > l.ttl {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > l.ttl {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}
	c, ok := l.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	l.mu.Unlock()
	return c.limiter.AllowN(now, 1)
}

// RateLimit returns middleware that rejects clients exceeding their
// per-IP budget with 429. A nil limiter disables the check.
func RateLimit(limiter *IPLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || limiter.Allow(extractClientIP(r)) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
		})
	}
}

// extractClientIP attempts to determine the real client IP from standard
// proxy headers, falling back to the direct remote address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
