package httpserver

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/crisgenomics/cris-query/internal/apperror"
)

const (
	limiterIdleTTL    = 15 * time.Minute
	limiterCleanupInt = 10 * time.Minute
)

// IPRateLimiter keeps one token bucket per client IP. Idle buckets expire.
type IPRateLimiter struct {
	limiters *cache.Cache
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewIPRateLimiter creates a limiter allowing r requests per second with bursts of b.
func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: cache.New(limiterIdleTTL, limiterCleanupInt),
		rate:     r,
		burst:    b,
	}
}

// getLimiter returns or creates the limiter for ip and refreshes its expiry.
func (l *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, found := l.limiters.Get(ip); found {
		limiter := v.(*rate.Limiter)
		l.limiters.SetDefault(ip, limiter)
		return limiter
	}
	limiter := rate.NewLimiter(l.rate, l.burst)
	l.limiters.SetDefault(ip, limiter)
	return limiter
}

// Allow reports whether a request from ip may proceed.
func (l *IPRateLimiter) Allow(ip string) bool {
	return l.getLimiter(ip).Allow()
}

// Middleware rejects requests over the limit with 429.
func (l *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			writeError(c, apperror.NewRateLimited())
			return
		}
		c.Next()
	}
}
