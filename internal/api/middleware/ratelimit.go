package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyFunc names the bucket a request is charged to. An empty result charges
// the client IP instead.
type KeyFunc func(r *http.Request) string

// RateLimitConfig configures a Limiter.
type RateLimitConfig struct {
	// Rate and Burst apply to each bucket chosen by Key, or to each client
	// IP when Key is nil or returns "".
	Rate  rate.Limit
	Burst int
	Key   KeyFunc

	// IPRate and IPBurst, when IPRate is set, also cap every client IP
	// across all of its keys. Keys come from the request, so without a
	// ceiling a client could mint a fresh bucket per request.
	IPRate  rate.Limit
	IPBurst int

	// CleanupInterval is how often idle buckets are swept; MaxAge is how
	// long one may sit idle before it goes.
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

// WebhookRateLimitConfig limits provider webhooks per call: a live call
// produces a handful of requests per turn. Providers send every call from
// a shared pool of addresses, so the per-IP ceiling is sized for many
// concurrent calls.
func WebhookRateLimitConfig(key KeyFunc) RateLimitConfig {
	return RateLimitConfig{
		Rate:            rate.Limit(5),
		Burst:           10,
		Key:             key,
		IPRate:          rate.Limit(50),
		IPBurst:         100,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// DiagnosticsRateLimitConfig limits the test endpoints per client IP. Each
// request spends upstream API quota.
func DiagnosticsRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            rate.Limit(1),
		Burst:           5,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter holds token buckets keyed per call or per client IP.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	cfg     RateLimitConfig
	stopCh  chan struct{}
}

// NewLimiter creates a Limiter and starts its background sweep.
func NewLimiter(cfg RateLimitConfig) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// take spends one token from the named bucket.
func (l *Limiter) take(name string, r rate.Limit, burst int) bool {
	l.mu.Lock()
	b, ok := l.buckets[name]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(r, burst)}
		l.buckets[name] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	return b.limiter.Allow()
}

// Allow charges a request and reports whether it may proceed, along with
// the bucket that decided.
func (l *Limiter) Allow(r *http.Request) (string, bool) {
	ip := extractIP(r)

	key := ""
	if l.cfg.Key != nil {
		key = l.cfg.Key(r)
	}
	if key == "" {
		name := "ip:" + ip
		return name, l.take(name, l.cfg.Rate, l.cfg.Burst)
	}

	if l.cfg.IPRate > 0 {
		name := "ip:" + ip
		if !l.take(name, l.cfg.IPRate, l.cfg.IPBurst) {
			return name, false
		}
	}
	name := "key:" + key
	return name, l.take(name, l.cfg.Rate, l.cfg.Burst)
}

// Stop terminates the background sweep.
func (l *Limiter) Stop() {
	close(l.stopCh)
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// cleanup drops buckets idle for longer than MaxAge. Ended calls leave
// their buckets behind until then.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.cfg.MaxAge)
	removed := 0
	for name, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, name)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("rate limiter cleanup", "removed", removed, "remaining", len(l.buckets))
	}
}

// RateLimit returns middleware that answers 429 with Retry-After once the
// request's bucket is empty.
func RateLimit(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name, ok := l.Allow(r)
			if !ok {
				slog.Warn("rate limit exceeded",
					"bucket", name,
					"method", r.Method,
					"path", r.URL.Path,
				)
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(errorEnvelope{Error: "rate limit exceeded"}) //nolint:errcheck
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractIP returns RemoteAddr without its port. chi's RealIP runs first
// when the service sits behind a proxy or tunnel.
func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
