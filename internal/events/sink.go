// Package events delivers committed sale events to downstream consumers. The ledger
// writes every SaleEvent in the same transaction as the sale itself; the relay job then
// reads unpublished events in sequence order and hands them to a Sink. Delivery is at
// least once: a batch is marked published only after its Sink returns nil, so consumers
// must deduplicate on the event id.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cct-registry/cct-registry/internal/config"
	"github.com/cct-registry/cct-registry/internal/db/models"
)

// Envelope is the wire form of one sale event
type Envelope struct {
	Type     string            `json:"type"`
	Sequence int64             `json:"sequence"`
	Event    *models.SaleEvent `json:"event"`
}

// EventType is the envelope type of every sale event
const EventType = "cct.sale.settled"

// Encode renders ev as a JSON envelope
func Encode(ev *models.SaleEvent) ([]byte, error) {
	data, err := json.Marshal(Envelope{Type: EventType, Sequence: ev.Sequence, Event: ev})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sale event %d: %w", ev.Sequence, err)
	}
	return data, nil
}

// Sink defines the interface for sale event delivery
type Sink interface {
	// Publish delivers events in order. A nil return means every event was accepted.
	Publish(ctx context.Context, events []*models.SaleEvent) error
	// Name identifies the sink in logs
	Name() string
	// Close releases any resources
	Close() error
}

// MultiSink fans events out to several sinks. Publish fails if any sink fails, so the
// batch is retried everywhere; sinks must tolerate duplicates.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink wraps sinks
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Publish sends events to every sink, attempting all of them before reporting failure
func (m *MultiSink) Publish(ctx context.Context, events []*models.SaleEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, events); err != nil {
			slog.Error("event sink publish failed", "sink", s.Name(), "events", len(events), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Name returns "multi"
func (m *MultiSink) Name() string {
	return "multi"
}

// Len returns the number of wrapped sinks
func (m *MultiSink) Len() int {
	return len(m.sinks)
}

// Close closes all sinks
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes each event to the application log. It is the fallback when no
// downstream sink is configured.
type LogSink struct{}

// Publish logs every event at info level
func (LogSink) Publish(_ context.Context, events []*models.SaleEvent) error {
	for _, ev := range events {
		slog.Info("sale event",
			"sequence", ev.Sequence,
			"event_id", ev.ID,
			"org_id", ev.OrgID,
			"project_index", ev.ProjectIndex,
			"buyer", ev.Buyer,
			"quantity", ev.Quantity,
			"amount_paid", ev.AmountPaid,
		)
	}
	return nil
}

// Name returns "log"
func (LogSink) Name() string { return "log" }

// Close is a no-op
func (LogSink) Close() error { return nil }

// NewSinkFromConfig builds the sinks enabled in cfg. Kafka is enabled by a broker list,
// the webhook by a URL and the file sink by a path. With none of them set the relay
// falls back to LogSink.
func NewSinkFromConfig(cfg config.EventsConfig) (Sink, error) {
	var sinks []Sink

	if len(cfg.Kafka.Brokers) > 0 {
		ks, err := NewKafkaSink(cfg.Kafka)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka sink: %w", err)
		}
		sinks = append(sinks, ks)
	}
	if cfg.Webhook.URL != "" {
		sinks = append(sinks, NewWebhookSink(cfg.Webhook.URL, cfg.Webhook.Headers,
			time.Duration(cfg.Webhook.TimeoutSecs)*time.Second))
	}
	if cfg.File.Path != "" {
		fs, err := NewFileSink(cfg.File.Path, cfg.File.MaxSizeMB, cfg.File.MaxBackups)
		if err != nil {
			_ = NewMultiSink(sinks...).Close()
			return nil, fmt.Errorf("failed to create file sink: %w", err)
		}
		sinks = append(sinks, fs)
	}

	switch len(sinks) {
	case 0:
		return LogSink{}, nil
	case 1:
		return sinks[0], nil
	default:
		return NewMultiSink(sinks...), nil
	}
}
