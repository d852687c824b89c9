package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig tunes the per-client request limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig is the fallback when no limit is configured.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
	}
}

// Buckets idle this long are dropped on the next sweep so the client
// map does not grow without bound.
const staleAfter = 10 * time.Minute

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per client key.
type clientLimiter struct {
	cfg RateLimitConfig

	mu        sync.Mutex
	clients   map[string]*bucket
	lastSweep time.Time
}

func newClientLimiter(cfg RateLimitConfig) *clientLimiter {
	return &clientLimiter{
		cfg:       cfg,
		clients:   make(map[string]*bucket),
		lastSweep: time.Now(),
	}
}

// take spends one token for key. When the bucket is empty it returns
// false and the whole seconds the client should wait before retrying.
func (l *clientLimiter) take(key string, now time.Time) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > staleAfter {
		for k, b := range l.clients {
			if now.Sub(b.lastSeen) > staleAfter {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.clients[key]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.BurstSize)}
		l.clients[key] = b
	} else {
		b.tokens += now.Sub(b.lastSeen).Seconds() * l.cfg.RequestsPerSecond
		if ceiling := float64(l.cfg.BurstSize); b.tokens > ceiling {
			b.tokens = ceiling
		}
	}
	b.lastSeen = now

	if b.tokens < 1 {
		wait := 1
		if l.cfg.RequestsPerSecond > 0 {
			wait = int(math.Ceil((1 - b.tokens) / l.cfg.RequestsPerSecond))
			if wait < 1 {
				wait = 1
			}
		}
		return false, wait
	}
	b.tokens--
	return true, 0
}

// RateLimit throttles requests per client IP with a token bucket. The
// limiter runs ahead of authentication, so the client address is the
// only key available to it.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	limiter := newClientLimiter(cfg)
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, wait := limiter.take(c.RealIP(), time.Now())
			c.Response().Header().Set("X-RateLimit-Limit", limitHeader)
			if !ok {
				c.Response().Header().Set("Retry-After", strconv.Itoa(wait))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
