package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fjod/craft_market/internal/orders/domain"
	r "github.com/fjod/craft_market/internal/orders/repository"
	"github.com/fjod/craft_market/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/zap"
)

type MockRepository struct {
	mu           sync.Mutex
	OutboxEvents []*r.OutboxEvent
	FetchErr     error
	MarkErr      error
	Processed    []int64
}

func (m *MockRepository) GetUnprocessedEvents(context.Context, int) ([]*r.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	var out []*r.OutboxEvent
	for _, e := range m.OutboxEvents {
		if !m.isProcessed(e.ID) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockRepository) MarkEventAsProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MarkErr != nil {
		return m.MarkErr
	}
	m.Processed = append(m.Processed, id)
	return nil
}

func (m *MockRepository) isProcessed(id int64) bool {
	for _, p := range m.Processed {
		if p == id {
			return true
		}
	}
	return false
}

func (m *MockRepository) processed() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.Processed...)
}

type MockWriter struct {
	mu       sync.Mutex
	Messages []kafkaGo.Message
	FailOn   int // 1-based write number that fails; 0 never
	writes   int
}

func (w *MockWriter) WriteMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	if w.writes == w.FailOn {
		return errors.New("broker not available")
	}
	w.Messages = append(w.Messages, msgs...)
	return nil
}

func (w *MockWriter) Close() error { return nil }

func event(id int64, orderID, eventType string) *r.OutboxEvent {
	return &r.OutboxEvent{
		ID:          id,
		AggregateID: orderID,
		EventType:   eventType,
		Payload:     json.RawMessage(fmt.Sprintf(`{"order_id":%q,"customer_id":"buyer-1"}`, orderID)),
		CreatedAt:   time.Now(),
	}
}

func TestProcessUnpublishedEvents_PublishesAndMarks(t *testing.T) {
	repo := &MockRepository{OutboxEvents: []*r.OutboxEvent{
		event(1, "order-1", domain.EventOrderPlaced),
		event(2, "order-1", domain.EventOrderStatusChanged),
	}}
	w := &MockWriter{}
	m := metrics.New(prometheus.NewRegistry())
	p := NewWithWriter(repo, w, zap.NewNop(), m)

	p.processUnpublishedEvents(context.Background())

	require.Len(t, w.Messages, 2)
	assert.Equal(t, []byte("order-1"), w.Messages[0].Key)
	assert.Equal(t, "event_type", w.Messages[0].Headers[0].Key)
	assert.Equal(t, []byte(domain.EventOrderPlaced), w.Messages[0].Headers[0].Value)
	assert.Equal(t, []int64{1, 2}, repo.processed())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxPublished.WithLabelValues(domain.EventOrderPlaced)))
}

func TestProcessUnpublishedEvents_StopsAtFirstFailure(t *testing.T) {
	repo := &MockRepository{OutboxEvents: []*r.OutboxEvent{
		event(1, "order-1", domain.EventOrderPlaced),
		event(2, "order-1", domain.EventOrderStatusChanged),
	}}
	w := &MockWriter{FailOn: 1}
	p := NewWithWriter(repo, w, zap.NewNop(), nil)

	p.processUnpublishedEvents(context.Background())
	assert.Empty(t, repo.processed())
	assert.Empty(t, w.Messages)

	// next tick retries from the same event
	p.processUnpublishedEvents(context.Background())
	assert.Equal(t, []int64{1, 2}, repo.processed())
}

func TestProcessUnpublishedEvents_FetchError(t *testing.T) {
	repo := &MockRepository{FetchErr: errors.New("db down")}
	w := &MockWriter{}
	p := NewWithWriter(repo, w, zap.NewNop(), nil)

	p.processUnpublishedEvents(context.Background())
	assert.Empty(t, w.Messages)
}

func TestRun_StopsOnCancel(t *testing.T) {
	repo := &MockRepository{OutboxEvents: []*r.OutboxEvent{event(1, "order-1", domain.EventOrderPlaced)}}
	p := NewWithWriter(repo, &MockWriter{}, zap.NewNop(), nil)
	p.eventTick = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(repo.processed()) == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func setupKafka(t *testing.T) (string, func()) {
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	return brokers[0], cleanup
}

func TestOutboxPoller_PublishesEventsToKafka(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping kafka integration test in short mode")
	}
	brokerAddr, cleanup := setupKafka(t)
	defer cleanup()

	repo := &MockRepository{OutboxEvents: []*r.OutboxEvent{event(1, "order-123", domain.EventOrderPlaced)}}
	poller := NewOutboxPoller(repo, zap.NewNop(), nil, DefaultTopic, brokerAddr)
	defer poller.Close()
	poller.timeout = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	go poller.Run(ctx)

	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers:  []string{brokerAddr},
		Topic:    DefaultTopic,
		GroupID:  "test-consumer",
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "order-123", string(msg.Key))
	assert.Equal(t, domain.EventOrderPlaced, string(msg.Headers[0].Value))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, "buyer-1", payload["customer_id"])

	require.Eventually(t, func() bool { return len(repo.processed()) == 1 }, 10*time.Second, 100*time.Millisecond)
}
