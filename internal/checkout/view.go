package checkout

import (
	"github.com/fjod/craft_market/internal/cart/store"
	ordersdomain "github.com/fjod/craft_market/internal/orders/domain"
	"github.com/fjod/craft_market/internal/payment"
	"github.com/fjod/craft_market/internal/pricing"
)

type View struct {
	Step      Step              `json:"step"`
	Lines     []store.Line      `json:"-"`
	Breakdown pricing.Breakdown `json:"breakdown"`
	Shipping  ShippingInfo      `json:"shipping"`
	PromoCode string            `json:"promo_code,omitempty"`
	// CanProceed is whether Next would pass its guard right now.
	CanProceed bool `json:"can_proceed"`
	// Busy is set while the cart is loading or a payment is being prepared or captured.
	Busy bool `json:"busy"`
	// Charge is the frozen amount once the buyer is at the payment step.
	Charge            *ChargeSnapshot     `json:"charge,omitempty"`
	PaymentState      string              `json:"payment_state,omitempty"`
	AwaitingPlacement bool                `json:"awaiting_placement"`
	RefundPending     bool                `json:"refund_pending"`
	Order             *ordersdomain.Order `json:"order,omitempty"`
}

// View recomputes the live breakdown and reports what the buyer can do next.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.cart.Lines()
	_, breakdown := s.cart.Snapshot(s.promo)
	busy := s.paying || s.preparing || s.cart.Loading()

	v := View{
		Step:              s.step,
		Lines:             lines,
		Breakdown:         breakdown,
		Shipping:          s.shipping,
		PromoCode:         s.promo.Code,
		Busy:              busy,
		AwaitingPlacement: s.awaitingPlacement(),
		RefundPending:     s.refundDue != nil,
		Order:             s.order,
	}
	if s.charge != nil {
		charge := *s.charge
		v.Charge = &charge
	}
	if s.attempt != nil {
		v.PaymentState = s.attempt.State().String()
	}

	switch s.step {
	case StepCart:
		v.CanProceed = !busy && len(lines) > 0
	case StepShipping:
		v.CanProceed = !busy && s.shipping.Complete() && len(lines) > 0
	case StepPayment:
		v.CanProceed = !busy && s.order == nil && s.refundDue == nil &&
			(s.attempt == nil || s.attempt.State() != payment.AttemptCapturing)
	}
	return v
}
