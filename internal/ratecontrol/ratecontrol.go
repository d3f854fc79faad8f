// Package ratecontrol throttles chat requests per caller. Each authenticated
// subject gets its own token bucket; idle buckets are dropped after a TTL so
// the map does not grow without bound.
package ratecontrol

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quayline/orchestrator/internal/auth"
)

// PerCaller hands out one limiter per caller key.
type PerCaller struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	logger  *zap.Logger
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a PerCaller allowing rps requests per second with the given
// burst per caller.
func New(rps float64, burst int, logger *zap.Logger) *PerCaller {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &PerCaller{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(rps),
		burst:   burst,
		ttl:     10 * time.Minute,
		logger:  logger,
	}
}

// Allow reports whether the caller may proceed now.
func (p *PerCaller) Allow(key string) bool {
	p.mu.Lock()
	b, ok := p.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.buckets[key] = b
	}
	b.lastSeen = time.Now()
	if len(p.buckets) > 1024 {
		p.evictStaleLocked()
	}
	p.mu.Unlock()
	return b.limiter.Allow()
}

func (p *PerCaller) evictStaleLocked() {
	cutoff := time.Now().Add(-p.ttl)
	for key, b := range p.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(p.buckets, key)
		}
	}
}

// Wrap rejects over-limit requests with 429. Callers are keyed by their
// authenticated subject, falling back to the remote address.
func (p *PerCaller) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if user, ok := auth.FromContext(r.Context()); ok {
			key = user.Subject
		}
		if !p.Allow(key) {
			p.logger.Debug("request throttled", zap.String("caller", key))
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
