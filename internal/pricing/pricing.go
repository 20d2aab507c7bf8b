// Package pricing computes booking prices on integer minor units.
package pricing

import (
	"fmt"

	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Engine holds the rates applied to every quote. It has no mutable state and
// is safe for concurrent use.
type Engine struct {
	serviceFeePct decimal.Decimal
	taxPct        decimal.Decimal
	childRatio    decimal.Decimal
}

type Options struct {
	ServiceFeePercent float64
	TaxPercent        float64
	ChildPriceRatio   float64
}

func DefaultOptions() Options {
	return Options{ServiceFeePercent: 5, TaxPercent: 0, ChildPriceRatio: 0.7}
}

func NewEngine(opts Options) *Engine {
	return &Engine{
		serviceFeePct: decimal.NewFromFloat(opts.ServiceFeePercent),
		taxPct:        decimal.NewFromFloat(opts.TaxPercent),
		childRatio:    decimal.NewFromFloat(opts.ChildPriceRatio),
	}
}

type Input struct {
	Activity     *models.Activity
	Slot         *models.Availability
	Participants models.Participants
	Currency     models.Currency
	Discount     *models.DiscountRule
}

// Compute prices the participants for the slot. The service fee is taken on
// the subtotal before discount; tax applies to the discounted subtotal.
func (e *Engine) Compute(in Input) (models.PriceBreakdown, error) {
	if in.Activity == nil || in.Slot == nil {
		return models.PriceBreakdown{}, domain.Validationf("activity and slot are required")
	}
	if in.Participants.Adults < 0 || in.Participants.Children < 0 {
		return models.PriceBreakdown{}, domain.Validationf("participant counts must not be negative")
	}
	cur := in.Currency
	if cur == "" {
		cur = models.CurrencyIDR
	}

	adult := in.Activity.AdultPrice.For(cur)
	if in.Slot.AdultPriceOverride != nil {
		adult = in.Slot.AdultPriceOverride.For(cur)
	}

	var child int64
	switch {
	case in.Slot.ChildPriceOverride != nil:
		child = in.Slot.ChildPriceOverride.For(cur)
	case in.Activity.ChildPrice != nil:
		child = in.Activity.ChildPrice.For(cur)
	default:
		child = decimal.NewFromInt(adult).Mul(e.childRatio).Round(0).IntPart()
	}
	if adult < 0 || child < 0 {
		return models.PriceBreakdown{}, fmt.Errorf("%w: negative unit price for %s", domain.ErrValidation, in.Activity.ID)
	}

	subtotal := int64(in.Participants.Adults)*adult + int64(in.Participants.Children)*child
	fee := percentOf(subtotal, e.serviceFeePct)
	discount := discountFor(in.Discount, subtotal, cur)
	tax := percentOf(subtotal-discount, e.taxPct)

	return models.PriceBreakdown{
		Currency:       cur,
		UnitPrice:      adult,
		ChildUnitPrice: child,
		Subtotal:       subtotal,
		ServiceFee:     fee,
		DiscountAmount: discount,
		TaxAmount:      tax,
		Total:          subtotal + fee + tax - discount,
	}, nil
}

// percentOf rounds half away from zero to the minor unit.
func percentOf(amount int64, pct decimal.Decimal) int64 {
	if amount == 0 || pct.IsZero() {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(pct).Div(hundred).Round(0).IntPart()
}

func discountFor(rule *models.DiscountRule, subtotal int64, cur models.Currency) int64 {
	if rule == nil || subtotal <= 0 {
		return 0
	}
	var d int64
	if rule.PercentOff > 0 {
		d = percentOf(subtotal, decimal.NewFromFloat(rule.PercentOff))
	} else {
		d = rule.AmountOff.For(cur)
	}
	if d < 0 {
		return 0
	}
	if d > subtotal {
		return subtotal
	}
	return d
}
