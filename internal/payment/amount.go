package payment

import (
	"slotbook/internal/models"

	"github.com/shopspring/decimal"
)

// providerExponent is the provider's fixed minor-unit convention: every
// currency is sent with two decimals, so rupiah goes out multiplied by 100.
const providerExponent = 2

// ToProviderAmount converts a local minor-unit amount to provider units.
func ToProviderAmount(amount int64, cur models.Currency) int64 {
	return decimal.New(amount, -cur.MinorUnitExponent()).Shift(providerExponent).Round(0).IntPart()
}

// FromProviderAmount converts provider units back to local minor units,
// truncating any sub-unit remainder.
func FromProviderAmount(amount int64, cur models.Currency) int64 {
	return decimal.New(amount, -providerExponent).Shift(cur.MinorUnitExponent()).Truncate(0).IntPart()
}
