package ratelimit

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// RateLimiter is a per-client token bucket. Idle buckets expire on their
// own.
type RateLimiter struct {
	buckets *gocache.Cache
	rate    float64
	burst   float64
	logger  *zap.Logger
	now     func() time.Time
}

type Config struct {
	// RequestsPerSecond is the sustained refill rate.
	RequestsPerSecond float64
	Burst             int
	IdleTTL           time.Duration
	Logger            *zap.Logger
}

func New(cfg Config) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &RateLimiter{
		buckets: gocache.New(cfg.IdleTTL, cfg.IdleTTL/2),
		rate:    cfg.RequestsPerSecond,
		burst:   float64(cfg.Burst),
		logger:  cfg.Logger,
		now:     time.Now,
	}
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.IP()
		if sessionID := c.Get("X-Session-ID"); sessionID != "" {
			key = "session:" + sessionID
		}

		if !rl.Allow(key) {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return c.Next()
	}
}

// Allow takes one token from key's bucket.
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()
	b := rl.bucket(key, now)

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = min(rl.burst, b.tokens+elapsed*rl.rate)
		b.lastRefill = now
	}

	// Touch so active clients keep their bucket.
	rl.buckets.SetDefault(key, b)

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) bucket(key string, now time.Time) *bucket {
	if v, ok := rl.buckets.Get(key); ok {
		return v.(*bucket)
	}
	fresh := &bucket{tokens: rl.burst, lastRefill: now}
	if err := rl.buckets.Add(key, fresh, gocache.DefaultExpiration); err != nil {
		// Lost the race; use the winner's bucket.
		if v, ok := rl.buckets.Get(key); ok {
			return v.(*bucket)
		}
	}
	return fresh
}

func (rl *RateLimiter) Len() int {
	return rl.buckets.ItemCount()
}
