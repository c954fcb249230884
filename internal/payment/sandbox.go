package payment

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Refusal int

const (
	RefusalUnknown Refusal = iota
	RefusalInsufficientFunds
	RefusalCardExpired
	RefusalSuspectedFraud
	RefusalLimitExceeded
	RefusalDoNotHonor
)

func (r Refusal) String() string {
	switch r {
	case RefusalInsufficientFunds:
		return "insufficient funds"
	case RefusalCardExpired:
		return "card expired"
	case RefusalSuspectedFraud:
		return "suspected fraud"
	case RefusalLimitExceeded:
		return "limit exceeded"
	case RefusalDoNotHonor:
		return "do not honor"
	default:
		return "unknown reason"
	}
}

// Roller yields a number in [0, 100] deciding the sandbox capture outcome.
type Roller interface {
	Roll() int
}

type RandomRoll struct{}

func (RandomRoll) Roll() int {
	return rand.Intn(101) // 101 because Intn is exclusive of the upper bound
}

// FixedRoll always returns the same roll; useful for deterministic sandboxes.
type FixedRoll int

func (f FixedRoll) Roll() int { return int(f) }

// decide approves rolls below 95; higher rolls map to a refusal reason.
func decide(roll int) (bool, Refusal) {
	if roll < 95 {
		return true, RefusalUnknown
	}
	reason := roll - 95
	if reason == 0 || reason > 5 {
		return false, RefusalUnknown
	}
	return false, Refusal(reason)
}

// sandboxRetention bounds how long provider orders are remembered, captured or not.
const sandboxRetention = 6 * time.Hour

type sandboxOrder struct {
	amount    decimal.Decimal
	currency  string
	createdAt time.Time
	captured  bool
	refunded  bool
	capture   Approval
}

// SandboxProvider approves or declines locally. Capturing the same provider
// order twice returns the first capture. Orders older than the retention
// period are forgotten.
type SandboxProvider struct {
	roller    Roller
	now       func() time.Time
	retention time.Duration

	mu     sync.Mutex
	orders map[string]*sandboxOrder
}

var _ Provider = (*SandboxProvider)(nil)

func NewSandboxProvider(roller Roller) *SandboxProvider {
	if roller == nil {
		roller = RandomRoll{}
	}
	return &SandboxProvider{
		roller:    roller,
		now:       time.Now,
		retention: sandboxRetention,
		orders:    make(map[string]*sandboxOrder),
	}
}

func (p *SandboxProvider) CreateOrder(ctx context.Context, amount decimal.Decimal, currency string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "SBX-" + uuid.NewString()
	now := p.now()
	p.mu.Lock()
	p.pruneLocked(now)
	p.orders[id] = &sandboxOrder{amount: amount, currency: currency, createdAt: now}
	p.mu.Unlock()
	return id, nil
}

func (p *SandboxProvider) CaptureOrder(ctx context.Context, providerOrderID string) (Approval, error) {
	if err := ctx.Err(); err != nil {
		return Approval{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[providerOrderID]
	if !ok {
		return Approval{}, fmt.Errorf("sandbox order %s not found", providerOrderID)
	}
	if o.refunded {
		return Approval{}, fmt.Errorf("sandbox order %s was refunded", providerOrderID)
	}
	if o.captured {
		return o.capture, nil
	}

	approved, refusal := decide(p.roller.Roll())
	if !approved {
		return Approval{}, fmt.Errorf("%w: %s", ErrDeclined, refusal)
	}

	o.captured = true
	o.capture = Approval{
		ProviderOrderID: providerOrderID,
		CaptureID:       fmt.Sprintf("TXN-%s", uuid.NewString()),
		PayerID:         "sandbox-payer",
		Amount:          o.amount,
		Currency:        o.currency,
		CapturedAt:      p.now().UTC(),
	}
	return o.capture, nil
}

func (p *SandboxProvider) RefundCapture(ctx context.Context, capture Approval) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[capture.ProviderOrderID]
	if !ok || !o.captured || o.capture.CaptureID != capture.CaptureID {
		return fmt.Errorf("sandbox capture %s not found", capture.CaptureID)
	}
	o.refunded = true
	return nil
}

// Len reports how many provider orders are remembered.
func (p *SandboxProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}

func (p *SandboxProvider) pruneLocked(now time.Time) {
	cutoff := now.Add(-p.retention)
	for id, o := range p.orders {
		if o.createdAt.Before(cutoff) {
			delete(p.orders, id)
		}
	}
}
