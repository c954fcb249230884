package repository

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/fjod/craft_market/internal/apperrors"
	"github.com/fjod/craft_market/internal/orders/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*Repository, func()) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations",
	}

	repo, err := NewRepository(ctx, creds)
	require.NoError(t, err)

	err = repo.RunMigrations(creds)
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

func newTestOrder(customerID, paymentRef string) *domain.Order {
	return &domain.Order{
		ID:         uuid.New(),
		CustomerID: customerID,
		Items: []domain.OrderItem{
			{ProductID: "prod-mug", SellerID: "artisan-clay", Quantity: 2, Price: decimal.RequireFromString("30.00")},
			{ProductID: "prod-scarf", SellerID: "artisan-loom", Quantity: 1, Price: decimal.RequireFromString("45.50")},
		},
		TotalAmount:     decimal.RequireFromString("105.50"),
		Currency:        "USD",
		ShippingAddress: "Ada Lovelace, 1 Loom St, London, LDN, N1 9GU, UK",
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPaid,
		PaymentRef:      paymentRef,
		OrderDate:       time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestCreateOrder_RoundTrip(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := newTestOrder("buyer-1", "CAP-1")
	require.NoError(t, repo.CreateOrder(ctx, order))

	got, err := repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.CustomerID, got.CustomerID)
	assert.True(t, order.TotalAmount.Equal(got.TotalAmount))
	assert.Equal(t, domain.OrderStatusPending, got.Status)
	assert.Equal(t, domain.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, order.ShippingAddress, got.ShippingAddress)
	require.Len(t, got.Items, 2)
	assert.True(t, got.Items[1].Price.Equal(decimal.RequireFromString("45.5")))
	assert.WithinDuration(t, order.OrderDate, got.OrderDate, time.Millisecond)

	byRef, err := repo.GetOrderByPaymentRef(ctx, "CAP-1")
	require.NoError(t, err)
	assert.Equal(t, order.ID, byRef.ID)
}

func TestCreateOrder_WritesOutboxEvent(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := newTestOrder("buyer-1", "CAP-1")
	require.NoError(t, repo.CreateOrder(ctx, order))

	events, err := repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOrderPlaced, events[0].EventType)
	assert.Equal(t, order.ID.String(), events[0].AggregateID)

	var payload domain.OrderPlacedEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "buyer-1", payload.CustomerID)
	assert.ElementsMatch(t, []string{"artisan-clay", "artisan-loom"}, payload.SellerIDs)

	require.NoError(t, repo.MarkEventAsProcessed(ctx, events[0].ID))
	events, err = repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestCreateOrder_DuplicatePaymentRef(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.CreateOrder(ctx, newTestOrder("buyer-1", "CAP-1")))

	err := repo.CreateOrder(ctx, newTestOrder("buyer-1", "CAP-1"))
	assert.ErrorIs(t, err, ErrDuplicatePayment)

	events, err := repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1, "rolled back insert leaves no outbox row")
}

func TestGetOrderByID_NotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := repo.GetOrderByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestListOrders(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	first := newTestOrder("buyer-1", "CAP-1")
	first.OrderDate = time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	second := newTestOrder("buyer-1", "CAP-2")
	second.Items = second.Items[:1]
	other := newTestOrder("buyer-2", "CAP-3")
	other.Items = other.Items[1:]
	for _, o := range []*domain.Order{first, second, other} {
		require.NoError(t, repo.CreateOrder(ctx, o))
	}

	mine, err := repo.ListOrdersByCustomer(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID, "newest first")

	clay, err := repo.ListOrdersBySeller(ctx, "artisan-clay")
	require.NoError(t, err)
	assert.Len(t, clay, 2)

	loom, err := repo.ListOrdersBySeller(ctx, "artisan-loom")
	require.NoError(t, err)
	assert.Len(t, loom, 2)

	none, err := repo.ListOrdersBySeller(ctx, "artisan-wood")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdateStatus_CompareAndSet(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := newTestOrder("buyer-1", "CAP-1")
	require.NoError(t, repo.CreateOrder(ctx, order))

	updated, err := repo.UpdateStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusShipped, "artisan-clay")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusShipped, updated.Status)

	_, err = repo.UpdateStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled, "artisan-clay")
	assert.ErrorIs(t, err, ErrStatusConflict)

	_, err = repo.UpdateStatus(ctx, uuid.New(), domain.OrderStatusPending, domain.OrderStatusShipped, "artisan-clay")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	events, err := repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventOrderStatusChanged, events[1].EventType)
}

func TestUpdateStatus_ConcurrentWritersOneWins(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := newTestOrder("buyer-1", "CAP-1")
	require.NoError(t, repo.CreateOrder(ctx, order))

	targets := []domain.OrderStatus{domain.OrderStatusShipped, domain.OrderStatusCancelled}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = repo.UpdateStatus(ctx, order.ID, domain.OrderStatusPending, to, "artisan-clay")
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrStatusConflict)
	}
	assert.Equal(t, 1, succeeded)
}
