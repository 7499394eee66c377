// ratelimit.go provides Gin middleware that enforces per-client rate limits, returning
// 429 responses when the configured requests-per-minute threshold is exceeded.
//
// Two limiters are available. RateLimiter keeps token buckets in process memory and
// suits a single replica. RedisRateLimiter uses the GCRA implementation of redis_rate so
// every replica shares one budget per client.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cct-registry/cct-registry/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the maximum number of requests allowed per minute
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often to clean up expired entries
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 200,
		BurstSize:         50,
		CleanupInterval:   5 * time.Minute,
	}
}

// RateLimitConfigFrom converts the security.rate_limiting section, falling back to the
// defaults for unset values
func RateLimitConfigFrom(cfg config.RateLimitingConfig) RateLimitConfig {
	out := DefaultRateLimitConfig()
	if cfg.RequestsPerMinute > 0 {
		out.RequestsPerMinute = cfg.RequestsPerMinute
	}
	if cfg.Burst > 0 {
		out.BurstSize = cfg.Burst
	}
	return out
}

// LimitResult is the outcome of one rate limit check
type LimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key may proceed
type Limiter interface {
	Take(ctx context.Context, key string) (LimitResult, error)
}

// rateLimitEntry tracks request counts for a single client
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter implements an in-memory token bucket rate limiter
type RateLimiter struct {
	config   RateLimitConfig
	entries  map[string]*rateLimitEntry
	mu       sync.RWMutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter with the given config
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:  config,
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// cleanup periodically removes entries idle for more than 10 minutes
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, entry := range rl.entries {
				if now.Sub(entry.lastUpdate) > 10*time.Minute {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Allow checks if a request from the given key should be allowed
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, exists := rl.entries[key]

	if !exists {
		rl.entries[key] = &rateLimitEntry{
			tokens:     float64(rl.config.BurstSize) - 1,
			lastUpdate: now,
		}
		return true
	}

	entry.tokens = rl.refill(entry, now)
	entry.lastUpdate = now

	if entry.tokens >= 1 {
		entry.tokens--
		return true
	}

	return false
}

func (rl *RateLimiter) refill(entry *rateLimitEntry, now time.Time) float64 {
	tokensPerSecond := float64(rl.config.RequestsPerMinute) / 60.0
	tokensToAdd := now.Sub(entry.lastUpdate).Seconds() * tokensPerSecond
	return min(float64(rl.config.BurstSize), entry.tokens+tokensToAdd)
}

// RemainingTokens returns how many tokens are left for a key
func (rl *RateLimiter) RemainingTokens(key string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	entry, exists := rl.entries[key]
	if !exists {
		return rl.config.BurstSize
	}
	return int(rl.refill(entry, time.Now()))
}

// Take implements Limiter
func (rl *RateLimiter) Take(_ context.Context, key string) (LimitResult, error) {
	allowed := rl.Allow(key)
	res := LimitResult{
		Allowed:   allowed,
		Limit:     rl.config.RequestsPerMinute,
		Remaining: rl.RemainingTokens(key),
	}
	if !allowed {
		res.RetryAfter = time.Minute
	}
	return res, nil
}

// RedisRateLimiter shares rate limit state across replicas through Redis
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisRateLimiter creates a Redis-backed limiter allowing RequestsPerMinute with a
// burst of BurstSize per key
func NewRedisRateLimiter(client redis.UniversalClient, cfg RateLimitConfig) *RedisRateLimiter {
	limit := redis_rate.PerMinute(cfg.RequestsPerMinute)
	if cfg.BurstSize > 0 {
		limit.Burst = cfg.BurstSize
	}
	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit:   limit,
		prefix:  "cct:ratelimit:",
	}
}

// Take implements Limiter
func (rl *RedisRateLimiter) Take(ctx context.Context, key string) (LimitResult, error) {
	res, err := rl.limiter.Allow(ctx, rl.prefix+key, rl.limit)
	if err != nil {
		return LimitResult{}, err
	}
	out := LimitResult{
		Allowed:   res.Allowed > 0,
		Limit:     rl.limit.Rate,
		Remaining: res.Remaining,
	}
	if !out.Allowed {
		out.RetryAfter = res.RetryAfter
	}
	return out, nil
}

// RateLimitMiddleware creates a Gin middleware that rate limits requests. A limiter
// error lets the request through.
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		res, err := limiter.Take(c.Request.Context(), key)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(res.Remaining, 0)))

		if !res.Allowed {
			retryAfter := int(res.RetryAfter.Round(time.Second).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"code":        "rate_limited",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}

// getRateLimitKey determines the key to use for rate limiting.
// Priority: account > api key > IP address
func getRateLimitKey(c *gin.Context) string {
	if account := c.GetString(AccountIDKey); account != "" {
		return "account:" + account
	}

	if keyID := c.GetString(APIKeyIDKey); keyID != "" {
		return "apikey:" + keyID
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
