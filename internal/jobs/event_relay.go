// event_relay.go implements the EventRelay background job, the delivery half of the
// sale event outbox. Settlement writes each SaleEvent in the same transaction as the
// sale itself; the relay then polls for events without a published_at stamp, hands
// them to the configured sink in sequence order, and stamps them once the sink has
// accepted the batch. A sink failure leaves the batch unstamped so the next tick
// retries it, which makes delivery at-least-once. Consumers deduplicate on event id.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cct-registry/cct-registry/internal/config"
	"github.com/cct-registry/cct-registry/internal/db/models"
	"github.com/cct-registry/cct-registry/internal/events"
	"github.com/cct-registry/cct-registry/internal/telemetry"
)

// OutboxStore is the slice of the ledger the relay reads and stamps
type OutboxStore interface {
	ListUnpublished(ctx context.Context, limit int) ([]*models.SaleEvent, error)
	MarkPublished(ctx context.Context, sequences []int64, at time.Time) error
}

// EventRelay periodically delivers unpublished sale events to a sink
type EventRelay struct {
	store     OutboxStore
	sink      events.Sink
	interval  time.Duration
	batchSize int
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewEventRelay creates a relay. Non-positive interval and batch size fall back to
// 5 seconds and 100 events.
func NewEventRelay(store OutboxStore, sink events.Sink, cfg *config.EventsConfig) *EventRelay {
	interval := cfg.RelayInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &EventRelay{
		store:     store,
		sink:      sink,
		interval:  interval,
		batchSize: batchSize,
		stopChan:  make(chan struct{}),
	}
}

// Start runs the relay loop until ctx is cancelled or Stop is called. It drains the
// outbox once immediately, then on every tick.
func (r *EventRelay) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("event relay started", "sink", r.sink.Name(), "interval", r.interval, "batch_size", r.batchSize)

	r.tick(ctx)

	for {
		select {
		case <-ticker.C:
			r.tick(ctx)
		case <-r.stopChan:
			slog.Info("event relay stopped")
			return
		case <-ctx.Done():
			slog.Info("event relay context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. It is safe to call more than once.
func (r *EventRelay) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
}

func (r *EventRelay) tick(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		slog.Error("event relay: delivery failed, will retry", "sink", r.sink.Name(), "error", err)
	}
}

// RunOnce drains the outbox in batches and returns how many events were delivered.
// It stops at the first failing batch.
func (r *EventRelay) RunOnce(ctx context.Context) (int, error) {
	delivered := 0
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		batch, err := r.store.ListUnpublished(ctx, r.batchSize)
		if err != nil {
			return delivered, fmt.Errorf("failed to list unpublished sale events: %w", err)
		}
		if len(batch) == 0 {
			return delivered, nil
		}

		if err := r.sink.Publish(ctx, batch); err != nil {
			telemetry.EventRelayFailuresTotal.Inc()
			return delivered, fmt.Errorf("failed to publish %d sale events to %s: %w", len(batch), r.sink.Name(), err)
		}

		sequences := make([]int64, len(batch))
		for i, ev := range batch {
			sequences[i] = ev.Sequence
		}
		if err := r.store.MarkPublished(ctx, sequences, time.Now()); err != nil {
			// The batch was delivered but not stamped; it will be delivered again.
			telemetry.EventRelayFailuresTotal.Inc()
			return delivered, fmt.Errorf("failed to mark sale events published: %w", err)
		}

		delivered += len(batch)
		telemetry.EventsPublishedTotal.Add(float64(len(batch)))
		slog.Debug("event relay: batch delivered", "sink", r.sink.Name(),
			"count", len(batch), "first_sequence", sequences[0], "last_sequence", sequences[len(sequences)-1])

		if len(batch) < r.batchSize {
			return delivered, nil
		}
	}
}
