// Package outbox relays settled checkout events to Kafka.
package outbox

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event is an unpublished outbox row.
type Event struct {
	ID          string
	AggregateID string
	Type        string
	Payload     []byte
	CreatedAt   time.Time
}

// Source reads pending events and acknowledges delivered ones.
type Source interface {
	ListUnpublished(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []string) error
}

// Writer is the subset of *kafka.Writer the poller uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter returns a writer for topic on the given brokers.
func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// Poller periodically publishes unpublished events. Delivery is at least
// once: a crash between write and acknowledgement republishes the batch.
type Poller struct {
	source   Source
	writer   Writer
	interval time.Duration
	batch    int

	lastFlush atomic.Int64
}

// NewPoller creates a Poller. Non-positive interval and batch fall back to
// one second and 100 events.
func NewPoller(source Source, writer Writer, interval time.Duration, batch int) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Poller{source: source, writer: writer, interval: interval, batch: batch}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	lg := zctx.From(ctx).Named("outbox")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := p.Flush(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				lg.Warn("Publish outbox events", zap.Error(err))
				continue
			}
			if n > 0 {
				lg.Debug("Published outbox events", zap.Int("count", n))
			}
		}
	}
}

// LastFlush returns when Flush last succeeded, or the zero time.
func (p *Poller) LastFlush() time.Time {
	if ns := p.lastFlush.Load(); ns != 0 {
		return time.Unix(0, ns)
	}
	return time.Time{}
}

// Flush publishes one batch and returns how many events were acknowledged.
func (p *Poller) Flush(ctx context.Context) (int, error) {
	events, err := p.source.ListUnpublished(ctx, p.batch)
	if err != nil {
		return 0, errors.Wrap(err, "list events")
	}
	if len(events) == 0 {
		p.lastFlush.Store(time.Now().UnixNano())
		return 0, nil
	}

	msgs := make([]kafka.Message, len(events))
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
		msgs[i] = kafka.Message{
			Key:   []byte(e.AggregateID),
			Value: e.Payload,
			Time:  e.CreatedAt,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(e.Type)},
				{Key: "event_id", Value: []byte(e.ID)},
			},
		}
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, errors.Wrap(err, "write messages")
	}
	if err := p.source.MarkPublished(ctx, ids); err != nil {
		return 0, errors.Wrap(err, "mark published")
	}
	p.lastFlush.Store(time.Now().UnixNano())
	return len(events), nil
}
