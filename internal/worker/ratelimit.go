package worker

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// client is the limiter state for one remote address.
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientRateLimiter applies a token bucket per client address. Idle clients
// are forgotten after maxIdle.
type ClientRateLimiter struct {
	now       func() time.Time
	clients   map[string]*client
	lastSweep time.Time
	rate      rate.Limit
	burst     int
	maxIdle   time.Duration
	requests  int64
	rejected  int64
	mu        sync.Mutex
}

// NewClientRateLimiter allows perSecond requests per second per client with
// the given burst.
func NewClientRateLimiter(perSecond float64, burst int) *ClientRateLimiter {
	return &ClientRateLimiter{
		now:       time.Now,
		clients:   make(map[string]*client),
		lastSweep: time.Now(),
		rate:      rate.Limit(perSecond),
		burst:     burst,
		maxIdle:   10 * time.Minute,
	}
}

// Allow reports whether a request from addr may proceed.
func (l *ClientRateLimiter) Allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.maxIdle {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > l.maxIdle {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	l.requests++
	c, ok := l.clients[addr]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[addr] = c
	}
	c.lastSeen = now
	if !c.limiter.AllowN(now, 1) {
		l.rejected++
		return false
	}
	return true
}

// GetStats reports limiter counters for the status resource.
func (l *ClientRateLimiter) GetStats() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return map[string]any{
		"rate":           float64(l.rate),
		"burst":          l.burst,
		"active_clients": len(l.clients),
		"total_requests": l.requests,
		"total_rejected": l.rejected,
	}
}

// ClientRateLimitMiddleware rejects requests over the per-client rate with 429.
// RealIP must run first for proxied clients to be told apart.
func ClientRateLimitMiddleware(l *ClientRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(clientKey(r.RemoteAddr)) {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey strips the port from a remote address.
func clientKey(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
