package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/craft_market/internal/apperrors"
	"github.com/fjod/craft_market/pkg/circuitbreaker"
	"github.com/fjod/craft_market/pkg/metrics"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var (
	ErrAttemptCaptured   = fmt.Errorf("%w: payment already captured", apperrors.ErrValidation)
	ErrAttemptInProgress = fmt.Errorf("%w: payment capture in progress", apperrors.ErrValidation)
	ErrAttemptFailed     = fmt.Errorf("%w: payment attempt failed, start a new one", apperrors.ErrValidation)
	ErrNotCaptured       = fmt.Errorf("%w: payment was not captured", apperrors.ErrValidation)
)

type AttemptState int

const (
	AttemptCreated AttemptState = iota
	AttemptCapturing
	AttemptCaptured
	AttemptFailed
	AttemptRefunded
)

func (s AttemptState) String() string {
	switch s {
	case AttemptCreated:
		return "created"
	case AttemptCapturing:
		return "capturing"
	case AttemptCaptured:
		return "captured"
	case AttemptFailed:
		return "failed"
	case AttemptRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Attempt is one provider order. It can be captured at most once.
type Attempt struct {
	ProviderOrderID string
	Amount          decimal.Decimal
	Currency        string

	mu       sync.Mutex
	state    AttemptState
	approval Approval
}

func (a *Attempt) State() AttemptState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Approval returns the capture result once the attempt is captured.
func (a *Attempt) Approval() (Approval, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.approval, a.state == AttemptCaptured
}

// OnApproved receives the capture result. It is the only path to order placement.
type OnApproved func(ctx context.Context, approval Approval) error

type Adapter struct {
	provider       Provider
	currency       string
	captureTimeout time.Duration
	cb             *gobreaker.CircuitBreaker[any]
	log            *zap.Logger
	metrics        *metrics.Metrics
}

func NewAdapter(provider Provider, currency string, log *zap.Logger, m *metrics.Metrics) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	settings := circuitbreaker.DefaultSettings("payment-provider")
	settings.IsExpected = func(err error) bool { return errors.Is(err, ErrDeclined) }
	return &Adapter{
		provider:       provider,
		currency:       currency,
		captureTimeout: 30 * time.Second,
		cb:             circuitbreaker.New[any](settings, log),
		log:            log.Named("payment"),
		metrics:        m,
	}
}

// Begin creates a provider order for amount.
func (a *Adapter) Begin(ctx context.Context, amount decimal.Decimal) (*Attempt, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: charge amount must be positive, got %s", apperrors.ErrValidation, amount.StringFixed(2))
	}

	v, err := a.cb.Execute(func() (any, error) {
		return a.provider.CreateOrder(ctx, amount, a.currency)
	})
	if err != nil {
		a.log.Warn("create provider order failed", zap.String("amount", amount.StringFixed(2)), zap.Error(err))
		return nil, a.mapError("create order", err)
	}

	return &Attempt{
		ProviderOrderID: v.(string),
		Amount:          amount,
		Currency:        a.currency,
		state:           AttemptCreated,
	}, nil
}

// Capture captures the attempt and, on success, calls onApproved exactly once.
// The provider call ignores cancellation of ctx: a capture that was requested
// runs to completion or to the adapter's own timeout. A decline or provider
// error never reaches onApproved.
func (a *Adapter) Capture(ctx context.Context, att *Attempt, onApproved OnApproved) (Approval, error) {
	att.mu.Lock()
	switch att.state {
	case AttemptCaptured:
		att.mu.Unlock()
		return Approval{}, ErrAttemptCaptured
	case AttemptCapturing:
		att.mu.Unlock()
		return Approval{}, ErrAttemptInProgress
	case AttemptFailed:
		att.mu.Unlock()
		return Approval{}, ErrAttemptFailed
	case AttemptRefunded:
		att.mu.Unlock()
		return Approval{}, ErrAttemptCaptured
	}
	att.state = AttemptCapturing
	att.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	cctx, cancel := context.WithTimeout(detached, a.captureTimeout)
	defer cancel()

	v, err := a.cb.Execute(func() (any, error) {
		return a.provider.CaptureOrder(cctx, att.ProviderOrderID)
	})
	if err != nil {
		att.mu.Lock()
		att.state = AttemptFailed
		att.mu.Unlock()

		mapped := a.mapError("capture order", err)
		outcome := "error"
		if errors.Is(mapped, apperrors.ErrPaymentDeclined) {
			outcome = "declined"
		}
		a.metrics.PaymentCapture(outcome)
		a.log.Warn("capture failed",
			zap.String("provider_order_id", att.ProviderOrderID),
			zap.String("outcome", outcome),
			zap.Error(err))
		return Approval{}, mapped
	}

	approval := v.(Approval)
	att.mu.Lock()
	att.state = AttemptCaptured
	att.approval = approval
	att.mu.Unlock()
	a.metrics.PaymentCapture("captured")

	if onApproved == nil {
		return approval, nil
	}
	if errCb := onApproved(detached, approval); errCb != nil {
		return approval, errCb
	}
	return approval, nil
}

// Refund returns a captured attempt's money. It runs detached from ctx
// cancellation like Capture, and a refunded attempt stays refunded.
func (a *Adapter) Refund(ctx context.Context, att *Attempt) error {
	att.mu.Lock()
	switch att.state {
	case AttemptRefunded:
		att.mu.Unlock()
		return nil
	case AttemptCaptured:
	default:
		att.mu.Unlock()
		return ErrNotCaptured
	}
	capture := att.approval
	att.mu.Unlock()

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.captureTimeout)
	defer cancel()

	_, err := a.cb.Execute(func() (any, error) {
		return nil, a.provider.RefundCapture(rctx, capture)
	})
	if err != nil {
		a.metrics.PaymentRefund("error")
		a.log.Error("refund failed",
			zap.String("provider_order_id", capture.ProviderOrderID),
			zap.String("capture_id", capture.CaptureID),
			zap.Error(err))
		return a.mapError("refund capture", err)
	}

	att.mu.Lock()
	att.state = AttemptRefunded
	att.mu.Unlock()
	a.metrics.PaymentRefund("refunded")
	a.log.Info("capture refunded",
		zap.String("capture_id", capture.CaptureID),
		zap.String("amount", capture.Amount.StringFixed(2)))
	return nil
}

func (a *Adapter) mapError(op string, err error) error {
	switch {
	case errors.Is(err, ErrDeclined):
		return fmt.Errorf("%w: %s: %w", apperrors.ErrPaymentDeclined, op, err)
	case circuitbreaker.IsOpen(err):
		return fmt.Errorf("%w: %s: payment provider circuit open", apperrors.ErrRemoteUnavailable, op)
	default:
		return fmt.Errorf("%w: %s: %w", apperrors.ErrRemoteUnavailable, op, err)
	}
}
