// Package poller consumes order events and clears the buyer's cart once an
// order has been placed. It is the retry path for the in-line clear done at
// checkout, so it only removes a cart nobody has touched since the order.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	DefaultTopic   = "order-events"
	DefaultGroupID = "cart-clear-consumer"

	eventTypeHeader  = "event_type"
	eventOrderPlaced = "order.placed"
)

// MessageReader is the subset of *kafka.Reader the poller uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type CartClearer interface {
	ClearCartUpdatedBefore(ctx context.Context, userID string, before time.Time) error
}

type Poller struct {
	carts      CartClearer
	reader     MessageReader
	log        *zap.Logger
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewPoller(carts CartClearer, log *zap.Logger, topic string, brokers ...string) *Poller {
	if topic == "" {
		topic = DefaultTopic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  DefaultGroupID,
		MaxBytes: 10e6, // 10MB
	})
	return NewWithReader(carts, reader, log)
}

func NewWithReader(carts CartClearer, reader MessageReader, log *zap.Logger) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		carts:      carts,
		reader:     reader,
		log:        log.Named("cart_poller"),
		backoff:    200 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.handleNext(ctx)
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Warn("error closing reader", zap.Error(err))
	}
}

type orderPlaced struct {
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	PlacedAt   time.Time `json:"placed_at"`
}

// handleNext commits a message once it is handled or cannot ever be. A clear
// that keeps failing holds the offset until ctx ends, so the event is
// redelivered after a restart.
func (p *Poller) handleNext(ctx context.Context) {
	m, err := p.reader.FetchMessage(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.log.Warn("error reading message", zap.Error(err))
		}
		return
	}

	if headerValue(m, eventTypeHeader) == eventOrderPlaced {
		if !p.clear(ctx, m) {
			return
		}
	}

	if errCommit := p.reader.CommitMessages(ctx, m); errCommit != nil {
		p.log.Warn("commit failed", zap.Int64("offset", m.Offset), zap.Error(errCommit))
	}
}

// clear reports whether the message is done with.
func (p *Poller) clear(ctx context.Context, m kafka.Message) bool {
	var evt orderPlaced
	if err := json.Unmarshal(m.Value, &evt); err != nil {
		p.log.Warn("error parsing message", zap.Error(err))
		return true
	}
	if evt.CustomerID == "" {
		p.log.Warn("missing customer_id", zap.String("order_id", evt.OrderID))
		return true
	}
	if evt.PlacedAt.IsZero() {
		p.log.Warn("missing placed_at", zap.String("order_id", evt.OrderID))
		return true
	}

	wait := p.backoff
	for attempt := 1; ; attempt++ {
		err := p.carts.ClearCartUpdatedBefore(ctx, evt.CustomerID, evt.PlacedAt)
		if err == nil {
			p.log.Debug("cart cleared", zap.String("order_id", evt.OrderID), zap.String("customer_id", evt.CustomerID))
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		p.log.Warn("failed to clear cart",
			zap.String("order_id", evt.OrderID),
			zap.String("customer_id", evt.CustomerID),
			zap.Int("attempt", attempt),
			zap.Duration("next_try", wait),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		wait = min(wait*2, p.maxBackoff)
	}
}

func headerValue(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
