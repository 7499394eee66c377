package validator

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "cct:eligibility:"

// Cached remembers another gate's answers in Redis for ttl. Redis failures fall
// through to the wrapped gate so a cache outage never blocks trading decisions.
type Cached struct {
	next   Gate
	client redis.UniversalClient
	ttl    time.Duration
}

// NewCached wraps next with a Redis-backed answer cache
func NewCached(next Gate, client redis.UniversalClient, ttl time.Duration) *Cached {
	return &Cached{next: next, client: client, ttl: ttl}
}

// IsEligible returns the cached answer if present, otherwise asks the wrapped gate
func (c *Cached) IsEligible(ctx context.Context, subject Subject) (bool, error) {
	key := cacheKeyPrefix + subject.Key()

	val, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return val == "1", nil
	case err != redis.Nil:
		slog.Warn("eligibility cache read failed", "subject", subject.Key(), "error", err)
	}

	eligible, err := c.next.IsEligible(ctx, subject)
	if err != nil {
		return false, err
	}

	stored := "0"
	if eligible {
		stored = "1"
	}
	if err := c.client.Set(ctx, key, stored, c.ttl).Err(); err != nil {
		slog.Warn("eligibility cache write failed", "subject", subject.Key(), "error", err)
	}
	return eligible, nil
}
