// api_key_cleanup.go implements the APIKeyCleanup background job, which periodically
// deletes API keys whose expires_at has passed. Expired keys are already refused at
// authentication time; the job only keeps the api_keys table from growing without bound.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExpiredKeyDeleter removes expired API keys. *repositories.APIKeyRepository satisfies it.
type ExpiredKeyDeleter interface {
	DeleteExpiredKeys(ctx context.Context) (int64, error)
}

// APIKeyCleanup periodically purges expired API keys
type APIKeyCleanup struct {
	keys     ExpiredKeyDeleter
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewAPIKeyCleanup creates the job. A non-positive interval defaults to 24h.
func NewAPIKeyCleanup(keys ExpiredKeyDeleter, interval time.Duration) *APIKeyCleanup {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &APIKeyCleanup{
		keys:     keys,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start runs an initial purge immediately, then repeats on the interval until ctx is
// cancelled or Stop is called.
func (c *APIKeyCleanup) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	slog.Info("API key cleanup started", "interval", c.interval)

	c.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			c.RunOnce(ctx)
		case <-c.stopChan:
			slog.Info("API key cleanup stopped")
			return
		case <-ctx.Done():
			slog.Info("API key cleanup context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. It is safe to call more than once.
func (c *APIKeyCleanup) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

// RunOnce deletes expired keys and returns how many were removed
func (c *APIKeyCleanup) RunOnce(ctx context.Context) int64 {
	n, err := c.keys.DeleteExpiredKeys(ctx)
	if err != nil {
		slog.Error("API key cleanup: failed to delete expired keys", "error", err)
		return 0
	}
	if n > 0 {
		slog.Info("API key cleanup: expired keys deleted", "count", n)
	}
	return n
}
