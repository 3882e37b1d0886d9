package server

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimitRule is a token-bucket rule: Rate tokens refill per second up to
// Burst. A zero rule disables limiting.
type RateLimitRule struct {
	Rate  float64
	Burst int
}

// PerMinuteRule builds a rule that admits n requests per minute with a burst
// of n. n <= 0 disables limiting.
func PerMinuteRule(n int) RateLimitRule {
	if n <= 0 {
		return RateLimitRule{}
	}
	return RateLimitRule{Rate: float64(n) / 60.0, Burst: n}
}

// RateLimiter tracks one token bucket per client key. The clock is injectable
// for tests.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rateBucket
	now     func() time.Time
}

type rateBucket struct {
	tokens float64
	last   time.Time
}

func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		buckets: make(map[string]*rateBucket),
		now:     now,
	}
}

// Allow consumes one token from key's bucket. When the bucket is empty it
// reports false and how long until a token refills.
func (l *RateLimiter) Allow(key string, rule RateLimitRule) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	if rule.Rate <= 0 || rule.Burst <= 0 {
		return true, 0
	}

	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[key]
	if !ok {
		bucket = &rateBucket{
			tokens: float64(rule.Burst),
			last:   now,
		}
		l.buckets[key] = bucket
	}

	elapsed := now.Sub(bucket.last).Seconds()
	if elapsed > 0 {
		bucket.tokens = math.Min(float64(rule.Burst), bucket.tokens+elapsed*rule.Rate)
		bucket.last = now
	}

	if bucket.tokens >= 1 {
		bucket.tokens -= 1
		return true, 0
	}

	needed := 1 - bucket.tokens
	waitSec := needed / rule.Rate
	if waitSec < 0 {
		waitSec = 0
	}
	retryAfter := time.Duration(math.Ceil(waitSec*1000.0)) * time.Millisecond
	return false, retryAfter
}

// RateLimitMiddleware applies rule per client. The authenticated principal is
// the client key when present; otherwise the remote host. Rejections answer
// 429 with a Retry-After header and a JSON error body.
func RateLimitMiddleware(limiter *RateLimiter, rule RateLimitRule) func(http.Handler) http.Handler {
	if limiter == nil {
		limiter = NewRateLimiter(nil)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryAfter := limiter.Allow(clientKey(r), rule)
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			retryAfterSeconds := int(math.Ceil(retryAfter.Seconds()))
			if retryAfterSeconds <= 0 {
				retryAfterSeconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error: errorBody{
					Type:    "rate_limited",
					Code:    "rate_limit_exceeded",
					Message: "too many run requests, retry later",
				},
			})
		})
	}
}

func clientKey(r *http.Request) string {
	if p := Principal(r.Context()); p != "" {
		return p
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
