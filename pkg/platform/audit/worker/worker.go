// Package worker relays committed outbox rows to Kafka.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "boxoffice/pkg/platform/audit"
	"boxoffice/pkg/platform/audit/store/postgres"
)

const (
	defaultInterval  = time.Second
	defaultBatchSize = 100
)

// Source yields batches of unpublished outbox rows. postgres.Store satisfies it.
type Source interface {
	ProcessPending(ctx context.Context, limit int, publish func(context.Context, []postgres.OutboxEntry) error) (int, error)
}

// Producer is the subset of *kgo.Client the relay needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Relay polls the outbox and publishes each row to the topic of its category,
// keyed by aggregate id so events for one order stay ordered within a partition.
type Relay struct {
	source      Source
	producer    Producer
	topicPrefix string
	interval    time.Duration
	batchSize   int
	logger      *slog.Logger
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithTopicPrefix(prefix string) Option {
	return func(r *Relay) {
		r.topicPrefix = prefix
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func NewRelay(source Source, producer Producer, opts ...Option) *Relay {
	r := &Relay{
		source:    source,
		producer:  producer,
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is cancelled. A full batch triggers an immediate re-poll
// so a backlog drains without waiting for the ticker.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		n, err := r.RelayOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "outbox relay batch failed", "error", err)
		}
		if err == nil && n == r.batchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes at most one batch and returns how many rows it published.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	return r.source.ProcessPending(ctx, r.batchSize, r.publish)
}

func (r *Relay) publish(ctx context.Context, entries []postgres.OutboxEntry) error {
	records := make([]*kgo.Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, &kgo.Record{
			Topic: r.topicFor(e.Category),
			Key:   []byte(e.AggregateID),
			Value: e.Payload,
			Headers: []kgo.RecordHeader{
				{Key: "event_type", Value: []byte(e.EventType)},
				{Key: "event_id", Value: []byte(e.ID.String())},
			},
			Timestamp: e.CreatedAt,
		})
	}
	if err := r.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce outbox batch: %w", err)
	}
	r.logger.DebugContext(ctx, "outbox batch relayed", "count", len(records))
	return nil
}

func (r *Relay) topicFor(category audit.EventCategory) string {
	if category == "" {
		category = audit.CategoryLifecycle
	}
	return category.Topic(r.topicPrefix)
}
