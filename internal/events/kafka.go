package events

import (
	"context"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/cct-registry/cct-registry/internal/config"
	"github.com/cct-registry/cct-registry/internal/db/models"
)

// producer is the subset of *kgo.Client the sink needs
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaSink publishes events to a Kafka topic. Records are keyed by org_id/project_index
// so every sale of one project lands on the same partition in sequence order.
type KafkaSink struct {
	client producer
	topic  string
}

// NewKafkaSink connects a franz-go client to the configured brokers
func NewKafkaSink(cfg config.KafkaSinkConfig) (*KafkaSink, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return &KafkaSink{client: client, topic: cfg.Topic}, nil
}

func newKafkaSinkWithProducer(p producer, topic string) *KafkaSink {
	return &KafkaSink{client: p, topic: topic}
}

// Publish produces one record per event and waits for every acknowledgement
func (k *KafkaSink) Publish(ctx context.Context, events []*models.SaleEvent) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(events))
	for _, ev := range events {
		value, err := Encode(ev)
		if err != nil {
			return err
		}
		records = append(records, &kgo.Record{
			Topic: k.topic,
			Key:   []byte(ev.OrgID + "/" + strconv.Itoa(ev.ProjectIndex)),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "event_id", Value: []byte(ev.ID)},
				{Key: "event_type", Value: []byte(EventType)},
			},
		})
	}
	if err := k.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce %d sale events: %w", len(records), err)
	}
	return nil
}

// Name returns "kafka"
func (k *KafkaSink) Name() string { return "kafka" }

// Close flushes and closes the client
func (k *KafkaSink) Close() error {
	k.client.Close()
	return nil
}
