package models

import "time"

type Participants struct {
	Adults   int `json:"adults"`
	Children int `json:"children"`
}

func (p Participants) Total() int {
	return p.Adults + p.Children
}

// PriceBreakdown is the immutable pricing snapshot stored on a booking.
// Total = Subtotal + ServiceFee + TaxAmount - DiscountAmount.
type PriceBreakdown struct {
	Currency       Currency `json:"currency"`
	UnitPrice      int64    `json:"unit_price"`
	ChildUnitPrice int64    `json:"child_unit_price"`
	Subtotal       int64    `json:"subtotal"`
	ServiceFee     int64    `json:"service_fee"`
	DiscountAmount int64    `json:"discount_amount"`
	TaxAmount      int64    `json:"tax_amount"`
	Total          int64    `json:"total_amount"`
}

type Booking struct {
	ID                  string         `json:"id"`
	Reference           string         `json:"reference"`
	ActivityID          string         `json:"activity_id"`
	AvailabilityID      string         `json:"availability_id"`
	CustomerID          string         `json:"customer_id,omitempty"`
	Status              BookingStatus  `json:"status"`
	Participants        Participants   `json:"participants"`
	Pricing             PriceBreakdown `json:"pricing"`
	PromoCode           string         `json:"promo_code,omitempty"`
	ContactName         string         `json:"contact_name"`
	ContactEmail        string         `json:"contact_email"`
	ContactPhone        string         `json:"contact_phone"`
	SpecialRequests     string         `json:"special_requests,omitempty"`
	CancellationReason  string         `json:"cancellation_reason,omitempty"`
	CancelledByCustomer bool           `json:"cancelled_by_customer"`
	SpotsReleased       bool           `json:"-"`
	HoldExpiresAt       time.Time      `json:"hold_expires_at"`
	ConfirmedAt         *time.Time     `json:"confirmed_at,omitempty"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	CancelledAt         *time.Time     `json:"cancelled_at,omitempty"`
	RefundedAt          *time.Time     `json:"refunded_at,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// SetStatus moves the booking to next and stamps the matching timestamp.
// Callers check CanTransitionTo first.
func (b *Booking) SetStatus(next BookingStatus, at time.Time) {
	b.Status = next
	b.UpdatedAt = at
	switch next {
	case BookingConfirmed:
		b.ConfirmedAt = &at
	case BookingCompleted, BookingNoShow:
		b.CompletedAt = &at
	case BookingCancelled:
		b.CancelledAt = &at
	case BookingRefunded:
		b.RefundedAt = &at
	}
}

type Payment struct {
	ID               string        `json:"id"`
	BookingID        string        `json:"booking_id"`
	Amount           int64         `json:"amount"`
	Currency         Currency      `json:"currency"`
	ProviderAmount   int64         `json:"provider_amount"`
	ProviderIntentID string        `json:"provider_intent_id,omitempty"`
	ClientToken      string        `json:"-"`
	Status           PaymentStatus `json:"status"`
	FailureReason    string        `json:"failure_reason,omitempty"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
	RefundAmount     int64         `json:"refund_amount"`
	RefundReference  string        `json:"refund_reference,omitempty"`
	RefundedAt       *time.Time    `json:"refunded_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// RefundPending reports whether a refund was decided locally but not yet
// accepted by the provider.
func (p *Payment) RefundPending() bool {
	return p.Status != PaymentRefunded && p.RefundAmount > 0 && p.RefundReference == ""
}
