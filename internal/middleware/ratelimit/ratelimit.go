// Package ratelimit limits requests per client IP with token buckets.
package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pendergraft/contraverify/internal/middleware/realip"
)

// Config holds the configuration for rate limiting
type Config struct {
	Enabled bool
	// RequestsPerMin is the sustained number of requests allowed per minute per IP
	RequestsPerMin int
	BurstSize      int
	// CleanupMinutes is both the sweep interval and the idle time after which
	// a client's bucket is dropped
	CleanupMinutes int
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter holds one token bucket per client IP.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// New creates a Limiter and starts its sweeper. Call Stop to release it.
func New(cfg Config) *Limiter {
	idle := time.Duration(cfg.CleanupMinutes) * time.Minute
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}

	l := &Limiter{
		clients: make(map[string]*client),
		limit:   rate.Limit(float64(cfg.RequestsPerMin) / 60.0),
		burst:   burst,
		idle:    idle,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Stop ends the sweeper. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

// sweep drops buckets of clients idle for longer than the cleanup interval.
func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idle)
	for ip, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}

// reserve takes a token for ip and returns how long the caller must wait; zero means allowed.
func (l *Limiter) reserve(ip string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now

	if c.limiter.AllowN(now, 1) {
		return 0
	}
	r := c.limiter.ReserveN(now, 1)
	if !r.OK() {
		return time.Minute
	}
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return wait
}

// Handler wraps next, rejecting clients over their budget with 429.
func (l *Limiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wait := l.reserve(realip.GetClientIP(r))
		if wait == 0 {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"code":    "rate_limited",
				"message": "Too many requests. Please try again later.",
			},
		})
	})
}

// Middleware returns a rate limiting middleware with the given configuration,
// or a pass-through when disabled. The limiter lives for the process lifetime.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	return New(cfg).Handler
}
