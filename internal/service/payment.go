package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/logging"
	"slotbook/internal/models"
	"slotbook/internal/payment"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// IntentResult is what the client needs to complete the charge.
type IntentResult struct {
	PaymentID           string          `json:"payment_id"`
	IntentID            string          `json:"intent_id"`
	ProviderClientToken string          `json:"provider_client_token"`
	Amount              int64           `json:"amount"`
	ProviderAmount      int64           `json:"provider_amount"`
	Currency            models.Currency `json:"currency"`
}

// PaymentService is the payment gateway adapter: it opens provider intents for
// bookings and pulls provider status on demand.
type PaymentService struct {
	store    domain.Store
	provider domain.PaymentProvider
	settler  *settler
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewPaymentService(d Deps, settler *settler) *PaymentService {
	return &PaymentService{
		store:    d.Store,
		provider: d.Provider,
		settler:  settler,
		now:      d.Now,
		logger:   logging.Component(d.Logger, "payments"),
	}
}

// CreateIntent opens, or reuses, the provider intent for a pending booking.
// The local payment row is committed before the provider is called and its id
// is the provider idempotency key, so a crash between the two is recovered by
// calling again.
func (s *PaymentService) CreateIntent(ctx context.Context, actor models.Actor, reference, currency string) (*IntentResult, error) {
	if s.provider == nil {
		return nil, domain.ProviderError("create intent", errors.New("no payment provider configured"))
	}

	var (
		p          *models.Payment
		bookingRef string
	)
	err := s.store.InTx(ctx, func(tx domain.Tx) error {
		b, err := tx.LockBooking(ctx, reference)
		if err != nil {
			return err
		}
		if !canView(actor, b) {
			return fmt.Errorf("%w: booking %s belongs to another customer", domain.ErrAuthorization, reference)
		}
		bookingRef = b.Reference

		if currency != "" {
			cur, ok := models.ParseCurrency(currency)
			if !ok {
				return domain.Validationf("unsupported currency %q", currency)
			}
			if cur != b.Pricing.Currency {
				return domain.Validationf("booking %s is priced in %s", b.Reference, b.Pricing.Currency)
			}
		}

		payments, err := tx.ListPaymentsByBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		for _, existing := range payments {
			if existing.Status == models.PaymentCompleted {
				return fmt.Errorf("%w: booking %s is already paid", domain.ErrConflict, b.Reference)
			}
		}
		if b.Status != models.BookingPending {
			return &domain.InvalidTransitionError{
				Entity: "booking " + b.Reference,
				From:   string(b.Status),
				To:     string(models.BookingConfirmed),
			}
		}

		for _, existing := range payments {
			if existing.Status == models.PaymentPending || existing.Status == models.PaymentProcessing {
				p = existing
				return nil
			}
		}

		now := s.now()
		p = &models.Payment{
			ID:             uuid.NewString(),
			BookingID:      b.ID,
			Amount:         b.Pricing.Total,
			Currency:       b.Pricing.Currency,
			ProviderAmount: payment.ToProviderAmount(b.Pricing.Total, b.Pricing.Currency),
			Status:         models.PaymentPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return tx.InsertPayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	if p.ProviderIntentID != "" && p.ClientToken != "" {
		return intentResult(p), nil
	}

	intent, err := s.provider.CreateIntent(ctx, domain.IntentRequest{
		IdempotencyKey:   p.ID,
		Amount:           p.ProviderAmount,
		Currency:         p.Currency,
		BookingReference: bookingRef,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("booking", bookingRef).Str("payment_id", p.ID).Msg("Create intent failed")
		return nil, err
	}

	err = s.store.InTx(ctx, func(tx domain.Tx) error {
		if _, err := tx.LockBookingByID(ctx, p.BookingID); err != nil {
			return err
		}
		current, err := tx.GetPayment(ctx, p.ID)
		if err != nil {
			return err
		}
		current.ProviderIntentID = intent.ID
		current.ClientToken = intent.ClientToken
		if err := tx.UpdatePayment(ctx, current); err != nil {
			return err
		}
		p = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("booking", bookingRef).
		Str("payment_id", p.ID).
		Str("intent_id", intent.ID).
		Int64("provider_amount", p.ProviderAmount).
		Msg("Payment intent created")
	return intentResult(p), nil
}

func intentResult(p *models.Payment) *IntentResult {
	return &IntentResult{
		PaymentID:           p.ID,
		IntentID:            p.ProviderIntentID,
		ProviderClientToken: p.ClientToken,
		Amount:              p.Amount,
		ProviderAmount:      p.ProviderAmount,
		Currency:            p.Currency,
	}
}

// ConfirmPayment pulls the intent's status from the provider and applies it.
// It races safely with the webhook path: an already applied status is a no-op.
func (s *PaymentService) ConfirmPayment(ctx context.Context, actor models.Actor, intentID string) (*models.Payment, error) {
	if s.provider == nil {
		return nil, domain.ProviderError("get intent", errors.New("no payment provider configured"))
	}
	p, err := s.store.GetPaymentByIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() {
		b, err := s.store.GetBooking(ctx, p.BookingID)
		if err != nil {
			return nil, err
		}
		if !canView(actor, b) {
			return nil, fmt.Errorf("%w: payment %s belongs to another customer", domain.ErrAuthorization, p.ID)
		}
	}

	intent, err := s.provider.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status == models.PaymentPending {
		return p, nil
	}
	return s.settler.settle(ctx, intentID, settlement{Status: intent.Status, FailureReason: intent.FailureReason})
}
