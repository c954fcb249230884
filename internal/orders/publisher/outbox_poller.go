// Package publisher relays order events from the outbox table to Kafka.
package publisher

import (
	"context"
	"time"

	r "github.com/fjod/craft_market/internal/orders/repository"
	"github.com/fjod/craft_market/pkg/metrics"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const DefaultTopic = "order-events"

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type OutboxPoller struct {
	timeout   time.Duration
	eventTick time.Duration
	batch     int
	repo      r.OutboxRepository
	writer    MessageWriter
	log       *zap.Logger
	metrics   *metrics.Metrics
}

func NewOutboxPoller(repo r.OutboxRepository, log *zap.Logger, m *metrics.Metrics, topic string, brokers ...string) *OutboxPoller {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return NewWithWriter(repo, w, log, m)
}

func NewWithWriter(repo r.OutboxRepository, w MessageWriter, log *zap.Logger, m *metrics.Metrics) *OutboxPoller {
	if log == nil {
		log = zap.NewNop()
	}
	return &OutboxPoller{
		timeout:   5 * time.Second,
		eventTick: time.Second,
		batch:     100,
		repo:      repo,
		writer:    w,
		log:       log.Named("outbox"),
		metrics:   m,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	defer eventTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() {
	if err := p.writer.Close(); err != nil {
		p.log.Warn("error closing writer", zap.Error(err))
	}
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.repo.GetUnprocessedEvents(ctx, p.batch)
	if err != nil {
		p.log.Warn("failed to fetch events", zap.Error(err))
		return
	}

	for _, event := range events {
		// stop at the first failure so events of one order stay in order
		if errPublish := p.publishToKafka(ctx, event); errPublish != nil {
			p.log.Warn("failed to publish event", zap.Int64("event_id", event.ID), zap.Error(errPublish))
			return
		}

		if errMark := p.repo.MarkEventAsProcessed(ctx, event.ID); errMark != nil {
			p.log.Warn("failed to mark event as processed", zap.Int64("event_id", event.ID), zap.Error(errMark))
			return
		}
		p.metrics.Published(event.EventType)
	}
}

func (p *OutboxPoller) publishToKafka(ctx context.Context, event *r.OutboxEvent) error {
	wctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.AggregateID), // order id keeps one order's events on one partition
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}

	return p.writer.WriteMessages(wctx, msg)
}
