package models

// DiscountRule is what a promo code resolves to. Either PercentOff or
// AmountOff applies; PercentOff wins when both are set.
type DiscountRule struct {
	Code       string   `yaml:"code" json:"code"`
	PercentOff float64  `yaml:"percent_off" json:"percent_off,omitempty"`
	AmountOff  PriceSet `yaml:"amount_off" json:"amount_off,omitempty"`
}

// PaymentLedgerEntry joins a payment with the booking it pays for.
type PaymentLedgerEntry struct {
	Payment          Payment
	BookingReference string
	BookingStatus    BookingStatus
}

// Mismatch describes a payment whose state disagrees with its booking, or ""
// when the pair is consistent.
func (e PaymentLedgerEntry) Mismatch() string {
	switch e.Payment.Status {
	case PaymentCompleted:
		if e.BookingStatus != BookingConfirmed && e.BookingStatus != BookingCompleted && e.BookingStatus != BookingNoShow {
			if e.Payment.RefundAmount > 0 {
				return "refund requested, not settled"
			}
			return "completed payment on " + string(e.BookingStatus) + " booking"
		}
	case PaymentRefunded:
		if e.BookingStatus != BookingRefunded {
			return "refunded payment on " + string(e.BookingStatus) + " booking"
		}
	}
	return ""
}
