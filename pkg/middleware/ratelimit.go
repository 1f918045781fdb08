package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
	"github.com/ekaya-inc/ekaya-connect/pkg/metrics"
)

// RateLimitConfig configures per-member rate limiting of the dispatch API.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate allowed per access token.
	RequestsPerSecond float64
	// Burst is the token bucket capacity.
	Burst int
}

// RejectionRecorder is notified of every rate-limited request.
type RejectionRecorder interface {
	LogRateLimited(r *http.Request)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per member.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	recorder RejectionRecorder
	now      func() time.Time
}

// NewRateLimiter creates a RateLimiter. recorder may be nil.
func NewRateLimiter(cfg RateLimitConfig, recorder RejectionRecorder) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    cfg.Burst,
		recorder: recorder,
		now:      time.Now,
	}
}

// Allow consumes a token from key's bucket.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	entry, ok := rl.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = entry
	}
	now := rl.now()
	entry.lastSeen = now
	rl.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

// Cleanup drops buckets idle for longer than maxAge.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	cutoff := rl.now().Add(-maxAge)
	for key, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}

// Limit rejects requests over the member's budget with 429.
// It runs after the access token middleware; unauthenticated requests are keyed by remote address.
func (rl *RateLimiter) Limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rl.Allow(rateLimitKey(r)) {
			next(w, r)
			return
		}

		metrics.RateLimitHits.Inc()
		if rl.recorder != nil {
			rl.recorder.LogRateLimited(r)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":    false,
			"error":      "rate_limited",
			"message":    "Rate limit exceeded",
			"error_code": http.StatusTooManyRequests,
			"hint":       "Slow down and retry after the Retry-After interval.",
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if p, ok := auth.GetPrincipal(r.Context()); ok {
		return strconv.FormatInt(p.OrganisationID, 10) + ":" + p.UserID.String()
	}
	return r.RemoteAddr
}
