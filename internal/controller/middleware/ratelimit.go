package middleware

import (
	"net/http"
	"sync"
	"time"

	"pipeplane/internal/store"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per tenant. Buckets are rebuilt after the TTL
// so changes to a tenant's limits take effect without a restart.
type RateLimiter struct {
	ttl      time.Duration
	now      func() time.Time
	limiters sync.Map // tenant ID -> *cachedLimiter
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithTTL sets how long a tenant's limiter is reused.
func WithTTL(ttl time.Duration) Option {
	return func(rl *RateLimiter) { rl.ttl = ttl }
}

func NewRateLimiter(opts ...Option) *RateLimiter {
	rl := &RateLimiter{ttl: 5 * time.Minute, now: time.Now}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Middleware enforces the authenticated tenant's rate limit. RateLimit=0 means unlimited.
// It must run after AuthMiddleware.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant, ok := TenantFromContext(r.Context())
			if !ok {
				unauthorized(w, "Unauthorized")
				return
			}

			if tenant.RateLimit > 0 && !rl.limiterFor(tenant).Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) limiterFor(tenant *store.Tenant) *rate.Limiter {
	now := rl.now()
	if v, ok := rl.limiters.Load(tenant.ID); ok {
		cached := v.(*cachedLimiter)
		if now.Before(cached.expiresAt) {
			return cached.limiter
		}
	}

	burst := tenant.RateLimitBurst
	if burst <= 0 {
		burst = tenant.RateLimit
	}
	limiter := rate.NewLimiter(rate.Limit(tenant.RateLimit), burst)
	rl.limiters.Store(tenant.ID, &cachedLimiter{
		limiter:   limiter,
		expiresAt: now.Add(rl.ttl),
	})
	return limiter
}
