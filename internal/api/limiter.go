package api

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RateLimiter is a per-client token bucket kept in process memory. Idle
// buckets are dropped by Prune.
type RateLimiter struct {
	limiters sync.Map
	cfg      config.APIRateLimitConfig
	now      func() time.Time
}

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen atomic.Int64
}

func NewRateLimiter(cfg config.APIRateLimitConfig) *RateLimiter {
	return &RateLimiter{
		cfg: cfg,
		now: time.Now,
	}
}

func (l *RateLimiter) getLimiter(key string) *rate.Limiter {
	now := l.now().UnixNano()
	if v, ok := l.limiters.Load(key); ok {
		if cl, ok := v.(*clientLimiter); ok {
			cl.lastSeen.Store(now)
			return cl.lim
		}
	}

	burst := l.cfg.Burst
	if burst <= 0 {
		burst = 5
	}

	cl := &clientLimiter{lim: rate.NewLimiter(rate.Limit(l.cfg.RPS), burst)}
	cl.lastSeen.Store(now)
	actual, loaded := l.limiters.LoadOrStore(key, cl)
	if loaded {
		if actualCl, ok := actual.(*clientLimiter); ok {
			actualCl.lastSeen.Store(now)
			return actualCl.lim
		}
	}
	return cl.lim
}

// Prune drops buckets not used for idle and returns how many went. A dropped
// client starts again with a full burst.
func (l *RateLimiter) Prune(idle time.Duration) int {
	cutoff := l.now().Add(-idle).UnixNano()
	n := 0
	l.limiters.Range(func(key, v any) bool {
		cl, ok := v.(*clientLimiter)
		if !ok || cl.lastSeen.Load() < cutoff {
			l.limiters.Delete(key)
			n++
		}
		return true
	})
	return n
}

// Len is the number of tracked clients.
func (l *RateLimiter) Len() int {
	n := 0
	l.limiters.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

// Middleware limits by actor when authenticated and by client IP otherwise.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.cfg.RPS <= 0 {
			c.Next()
			return
		}
		if !l.getLimiter(clientKey(c)).Allow() {
			abortError(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		c.Next()
	}
}

func clientKey(c *gin.Context) string {
	if actor := actorFrom(c); actor.ID != "" {
		return "actor:" + actor.ID
	}
	if ip := c.ClientIP(); ip != "" {
		return "ip:" + ip
	}
	return "unknown"
}

// bookingQuota caps booking creation per actor in a shared store so the limit
// holds across instances. Store errors let the request through.
func bookingQuota(store domain.RateLimitStore, perHour int, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || perHour <= 0 {
			c.Next()
			return
		}
		allowed, err := store.CheckRateLimit(c.Request.Context(), "bookings:"+clientKey(c), perHour, time.Hour)
		if err != nil {
			logger.Warn().Err(err).Msg("Booking quota check failed, allowing request")
			c.Next()
			return
		}
		if !allowed {
			abortError(c, http.StatusTooManyRequests, "rate_limited", "too many bookings, try again later")
			return
		}
		c.Next()
	}
}
