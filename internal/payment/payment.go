// Package payment wraps an external provider's two-phase order handshake:
// create a provider order for the charge amount, then capture it once the
// buyer approves. A capture whose order is rejected is refunded.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrDeclined is returned by providers when the payer's instrument is refused.
var ErrDeclined = errors.New("declined by provider")

// Approval is what a successful capture yields.
type Approval struct {
	ProviderOrderID string
	CaptureID       string
	PayerID         string
	Amount          decimal.Decimal
	Currency        string
	CapturedAt      time.Time
}

type Provider interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency string) (string, error)
	CaptureOrder(ctx context.Context, providerOrderID string) (Approval, error)
	// RefundCapture returns the full captured amount. Refunding twice is not an error.
	RefundCapture(ctx context.Context, capture Approval) error
}
