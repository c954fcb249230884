package pricing

import (
	"context"
	"fmt"
	"strings"

	"github.com/fjod/craft_market/internal/apperrors"
	"github.com/shopspring/decimal"
)

const DefaultPromoCode = "CRAFT10"

var ErrPromoRejected = fmt.Errorf("%w: promo code is not valid", apperrors.ErrValidation)

// PromoResolver looks up a promo code. A promotions store can replace the
// static resolver without touching Compute.
type PromoResolver interface {
	Resolve(ctx context.Context, code string) (Promotion, error)
}

// StaticPromoResolver accepts exactly one reserved code, compared case-insensitively.
type StaticPromoResolver struct {
	code    string
	percent decimal.Decimal
}

func NewStaticPromoResolver(code string) *StaticPromoResolver {
	return &StaticPromoResolver{
		code:    strings.TrimSpace(code),
		percent: DefaultPromoPercent,
	}
}

func (r *StaticPromoResolver) Resolve(_ context.Context, code string) (Promotion, error) {
	code = strings.TrimSpace(code)
	if r.code == "" || !strings.EqualFold(code, r.code) {
		return Promotion{}, ErrPromoRejected
	}
	return Promotion{Code: strings.ToUpper(r.code), Percent: r.percent}, nil
}
