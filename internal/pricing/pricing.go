// Package pricing turns cart lines and an optional promotion into the monetary
// breakdown shown to the buyer and charged at checkout. Everything here is pure.
package pricing

import (
	"github.com/shopspring/decimal"
)

var (
	FreeShippingThreshold = decimal.NewFromInt(100)
	FlatShipping          = decimal.NewFromInt(10)
	DefaultPromoPercent   = decimal.NewFromInt(10)

	hundred = decimal.NewFromInt(100)
)

type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Promotion is a resolved promo code. The zero value means no promotion.
type Promotion struct {
	Code    string
	Percent decimal.Decimal
}

func (p Promotion) Active() bool {
	return p.Percent.IsPositive()
}

// Anomaly flags a line that was excluded from the subtotal.
type Anomaly struct {
	Index  int
	Reason string
}

type Breakdown struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	Shipping  decimal.Decimal `json:"shipping"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
	Anomalies []Anomaly       `json:"-"`
}

// Compute must be re-run after every cart mutation and before every checkout
// step change. Lines with a negative price or quantity contribute nothing and
// are reported in Anomalies for the caller to log.
func Compute(lines []Line, promo Promotion) Breakdown {
	subtotal := decimal.Zero
	var anomalies []Anomaly

	for i, l := range lines {
		if l.Quantity < 0 {
			anomalies = append(anomalies, Anomaly{Index: i, Reason: "negative quantity"})
			continue
		}
		if l.UnitPrice.IsNegative() {
			anomalies = append(anomalies, Anomaly{Index: i, Reason: "negative unit price"})
			continue
		}
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}

	shipping := FlatShipping
	if subtotal.GreaterThanOrEqual(FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	discount := decimal.Zero
	if promo.Active() {
		discount = subtotal.Mul(promo.Percent).Div(hundred).Round(2)
	}

	total := subtotal.Add(shipping).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Breakdown{
		Subtotal:  subtotal,
		Shipping:  shipping,
		Discount:  discount,
		Total:     total,
		Anomalies: anomalies,
	}
}

// Equal compares two amounts at cent precision.
func Equal(a, b decimal.Decimal) bool {
	return a.Round(2).Equal(b.Round(2))
}
