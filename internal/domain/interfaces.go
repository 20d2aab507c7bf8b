package domain

import (
	"context"
	"time"

	"slotbook/internal/models"
)

// Reader holds the lookups available both inside and outside a transaction.
type Reader interface {
	GetActivity(ctx context.Context, id string) (*models.Activity, error)
	GetAvailability(ctx context.Context, id string) (*models.Availability, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error)
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	GetPaymentByIntent(ctx context.Context, intentID string) (*models.Payment, error)
	ListPaymentsByBooking(ctx context.Context, bookingID string) ([]*models.Payment, error)
}

// Tx is a unit of work. Lock* methods take a row lock where the dialect
// supports it; on SQLite the transaction itself is exclusive.
type Tx interface {
	Reader
	ReserveSpots(ctx context.Context, availabilityID string, count int) error
	ReleaseSpots(ctx context.Context, bookingID, availabilityID string, count int) (bool, error)
	LockBooking(ctx context.Context, reference string) (*models.Booking, error)
	LockBookingByID(ctx context.Context, id string) (*models.Booking, error)
	LockPaymentByIntent(ctx context.Context, intentID string) (*models.Payment, error)
	ReferenceExists(ctx context.Context, reference string) (bool, error)
	InsertBooking(ctx context.Context, b *models.Booking) error
	UpdateBooking(ctx context.Context, b *models.Booking) error
	InsertPayment(ctx context.Context, p *models.Payment) error
	UpdatePayment(ctx context.Context, p *models.Payment) error
}

type Store interface {
	Reader
	InTx(ctx context.Context, fn func(tx Tx) error) error
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*models.Booking, error)
	ListConfirmedBefore(ctx context.Context, date string, limit int) ([]*models.Booking, error)
	ListStalePayments(ctx context.Context, before time.Time, limit int) ([]*models.Payment, error)
	ListPendingRefunds(ctx context.Context, limit int) ([]*models.Payment, error)
}

// IntentRequest asks the provider for a new payment intent. Amount is in
// provider minor units.
type IntentRequest struct {
	IdempotencyKey   string
	Amount           int64
	Currency         models.Currency
	BookingReference string
}

type Intent struct {
	ID            string
	ClientToken   string
	Amount        int64
	Currency      models.Currency
	Status        models.PaymentStatus
	FailureReason string
}

type RefundRequest struct {
	IdempotencyKey string
	IntentID       string
	Amount         int64
}

type Refund struct {
	ID     string
	Status string
}

// PaymentProvider is the external gateway. Implementations bound every call
// in time and wrap transport failures with ErrPaymentProvider.
type PaymentProvider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	GetIntent(ctx context.Context, intentID string) (*Intent, error)
	Refund(ctx context.Context, req RefundRequest) (*Refund, error)
}

// IdempotencyStore remembers processed webhook event ids.
type IdempotencyStore interface {
	IsProcessed(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) error
}

// RateLimitStore counts hits per key inside a fixed window.
type RateLimitStore interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// ReferenceGenerator hands out candidate booking references. Uniqueness is
// checked by the caller.
type ReferenceGenerator interface {
	Next() string
}

// PromoResolver turns a promo code into a discount rule.
type PromoResolver interface {
	Resolve(ctx context.Context, code string) (*models.DiscountRule, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
