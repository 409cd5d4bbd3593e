package server

import (
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"matchgate/internal/errors"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

const limiterEvictionAge = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per caller. Callers are keyed by API key
// or client IP; idle buckets are evicted in the background.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rejected map[string]int64
	rate     rate.Limit
	burst    int
	now      func() time.Time
	logger   *errors.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewRateLimiter allows requestsPerMin per caller with bursts of burstCapacity.
func NewRateLimiter(requestsPerMin int, burstCapacity int, logger *errors.Logger) *RateLimiter {
	if logger == nil {
		logger = errors.Discard()
	}
	rl := &RateLimiter{
		buckets:  make(map[string]*bucket),
		rejected: make(map[string]int64),
		rate:     rate.Limit(float64(requestsPerMin) / 60.0),
		burst:    max(1, burstCapacity),
		now:      time.Now,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go rl.evictLoop(limiterEvictionAge)
	return rl
}

// Admit takes a token from key's bucket. When the bucket is empty it returns
// false and how long until the next token.
func (rl *RateLimiter) Admit(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now

	if b.limiter.AllowN(now, 1) {
		return true, 0
	}
	rl.rejected[keyType(key)]++

	if rl.rate <= 0 {
		return false, time.Minute
	}
	res := b.limiter.ReserveN(now, 1)
	wait := res.DelayFrom(now)
	res.CancelAt(now)
	return false, wait
}

// GetStats returns current rate limiter statistics
func (rl *RateLimiter) GetStats() map[string]any {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rejected := make(map[string]int64, len(rl.rejected))
	for k, v := range rl.rejected {
		rejected[k] = v
	}
	return map[string]any{
		"active_limiters": len(rl.buckets),
		"rate_per_minute": float64(rl.rate) * 60.0,
		"burst_capacity":  rl.burst,
		"rejected":        rejected,
	}
}

func (rl *RateLimiter) evictLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle(interval)
		case <-rl.done:
			return
		}
	}
}

// evictIdle drops buckets not used for longer than age.
func (rl *RateLimiter) evictIdle(age time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-age)
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
	rl.logger.Debug("Rate limiter eviction completed", "remaining_limiters", len(rl.buckets))
}

// Close stops background eviction. It is safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.done) })
}

// rateLimitMiddleware rejects callers over their budget with 429 and a
// Retry-After header.
func (s *Server) rateLimitMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	if s.RateLimiter == nil || s.RateLimit == nil || !s.RateLimit.Enabled {
		return func(next http.HandlerFunc) http.HandlerFunc { return next }
	}

	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			key := getRateLimitKey(r, s.RateLimit.ByAPIKey, s.RateLimit.ByIP)
			if key == "" {
				next(w, r)
				return
			}

			ok, wait := s.RateLimiter.Admit(key)
			if ok {
				next(w, r)
				return
			}

			s.Logger.Info("Rate limit exceeded",
				"key_type", keyType(key),
				"endpoint", r.URL.Path,
				"client_ip", getClientIP(r),
				"retry_after", wait)
			s.Observability.RecordRateLimitHit(r.Context(), "inbound",
				attribute.String("key_type", keyType(key)))
			w.Header().Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(wait.Seconds())))))
			writeErrorResponse(w, "Rate limit exceeded", "Too many requests", http.StatusTooManyRequests)
		}
	}
}

// getRateLimitKey picks the bucket key: the API key when enabled and
// present, else the client IP when enabled.
func getRateLimitKey(r *http.Request, byAPIKey, byIP bool) string {
	if byAPIKey {
		if apiKey := apiKeyFrom(r); apiKey != "" {
			return "api:" + apiKey
		}
	}
	if byIP {
		return "ip:" + getClientIP(r)
	}
	return ""
}

func keyType(key string) string {
	kind, _, _ := strings.Cut(key, ":")
	return kind
}

// getClientIP prefers the first valid address in X-Forwarded-For, then
// X-Real-IP, then the peer address.
func getClientIP(r *http.Request) string {
	for candidate := range strings.SplitSeq(r.Header.Get("X-Forwarded-For"), ",") {
		if addr, err := netip.ParseAddr(strings.TrimSpace(candidate)); err == nil {
			return addr.String()
		}
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.String()
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
