package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/craft_market/internal/apperrors"
	"github.com/fjod/craft_market/internal/orders/domain"
	"github.com/google/uuid"
)

var (
	ErrOrderNotFound = fmt.Errorf("%w: order not found", apperrors.ErrNotFound)
	// ErrDuplicatePayment means an order already exists for the payment reference.
	ErrDuplicatePayment = errors.New("order for this payment already exists")
	// ErrStatusConflict means the order left the expected status before the update landed.
	ErrStatusConflict = fmt.Errorf("%w: order status changed concurrently", apperrors.ErrInvalidTransition)
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     json.RawMessage
	CreatedAt   time.Time
}

type OrderRepository interface {
	// CreateOrder stores the order and its order.placed event atomically.
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByPaymentRef(ctx context.Context, paymentRef string) (*domain.Order, error)
	ListOrdersByCustomer(ctx context.Context, customerID string) ([]*domain.Order, error)
	ListOrdersBySeller(ctx context.Context, sellerID string) ([]*domain.Order, error)
	// UpdateStatus moves the order from -> to only if it is still in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, changedBy string) (*domain.Order, error)
}

type OutboxRepository interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}
