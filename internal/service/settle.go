package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/events"
	"slotbook/internal/logging"
	"slotbook/internal/models"
	"slotbook/internal/payment"

	"github.com/rs/zerolog"
)

const (
	reasonDuplicatePayment = "duplicate payment for booking"
	reasonBookingCancelled = "booking cancelled"
	reasonHoldExpired      = "reservation expired"
)

// settlement is what the provider reported for an intent.
type settlement struct {
	Status        models.PaymentStatus
	FailureReason string
	// RefundProviderAmount is in provider units; zero means the whole
	// requested refund.
	RefundProviderAmount int64
	RefundID             string
}

// settler owns every payment state change after intent creation. Each call
// locks the booking row first and the payment second, the same order the
// lifecycle uses, so a cancel racing a webhook is serialized.
type settler struct {
	store    domain.Store
	provider domain.PaymentProvider
	eventBus domain.EventPublisher
	loc      *time.Location
	now      func() time.Time
	logger   *zerolog.Logger
}

func newSettler(d Deps, loc *time.Location) *settler {
	return &settler{
		store:    d.Store,
		provider: d.Provider,
		eventBus: d.Events,
		loc:      loc,
		now:      d.Now,
		logger:   logging.Component(d.Logger, "payments"),
	}
}

// settle applies st to the payment behind intentID and cascades to its
// booking. Statuses the payment is already in, or has moved past, are no-ops,
// so duplicate and out-of-order deliveries converge on the same state.
func (s *settler) settle(ctx context.Context, intentID string, st settlement) (*models.Payment, error) {
	p0, err := s.store.GetPaymentByIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}

	var (
		fx      effects
		settled *models.Payment
	)
	err = s.store.InTx(ctx, func(tx domain.Tx) error {
		b, err := tx.LockBookingByID(ctx, p0.BookingID)
		if err != nil {
			return err
		}
		p, err := tx.LockPaymentByIntent(ctx, intentID)
		if err != nil {
			return err
		}
		settled = p

		switch st.Status {
		case models.PaymentCompleted:
			return s.applySucceeded(ctx, tx, b, p, &fx)
		case models.PaymentFailed:
			return s.applyFailed(ctx, tx, b, p, st.FailureReason, &fx)
		case models.PaymentProcessing:
			return s.applyProcessing(ctx, tx, p)
		case models.PaymentRefunded:
			return s.applyRefunded(ctx, tx, b, p, st, &fx)
		default:
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	s.flush(ctx, &fx)
	return settled, nil
}

func (s *settler) applySucceeded(ctx context.Context, tx domain.Tx, b *models.Booking, p *models.Payment, fx *effects) error {
	if !p.Status.CanTransitionTo(models.PaymentCompleted) {
		return nil
	}
	now := s.now()

	siblings, err := tx.ListPaymentsByBooking(ctx, b.ID)
	if err != nil {
		return err
	}
	for _, other := range siblings {
		if other.ID != p.ID && other.Status == models.PaymentCompleted {
			// The customer paid twice. Keep the first payment and give this one back.
			p.Status = models.PaymentFailed
			p.FailureReason = reasonDuplicatePayment
			p.PaidAt = &now
			p.RefundAmount = p.Amount
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return err
			}
			s.logger.Warn().
				Str("anomaly", "duplicate_payment").
				Str("booking", b.Reference).
				Str("payment_id", p.ID).
				Msg("Second successful payment for booking, refunding")
			fx.refund(p)
			return nil
		}
	}

	p.Status = models.PaymentCompleted
	p.PaidAt = &now
	p.FailureReason = ""

	switch b.Status {
	case models.BookingPending:
		prev := b.Status
		if err := moveBooking(b, models.BookingConfirmed, now); err != nil {
			return err
		}
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		fx.publish(events.EventBookingConfirmed, bookingPayload(b, nil, nil, models.SystemActor, prev))
	case models.BookingCancelled, models.BookingRefunded:
		// Paid after the booking was already given up: refund in full.
		p.RefundAmount = p.Amount
		s.logger.Warn().
			Str("anomaly", "payment_on_cancelled_booking").
			Str("booking", b.Reference).
			Str("payment_id", p.ID).
			Msg("Payment succeeded for a cancelled booking, refunding")
		fx.refund(p)
	}

	if err := tx.UpdatePayment(ctx, p); err != nil {
		return err
	}
	fx.publish(events.EventPaymentCompleted, paymentPayload(p, b.Reference))
	return nil
}

func (s *settler) applyFailed(ctx context.Context, tx domain.Tx, b *models.Booking, p *models.Payment, reason string, fx *effects) error {
	if !p.Status.CanTransitionTo(models.PaymentFailed) {
		return nil
	}
	if reason == "" {
		reason = "payment failed"
	}
	p.Status = models.PaymentFailed
	p.FailureReason = reason
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return err
	}
	fx.publish(events.EventPaymentFailed, paymentPayload(p, b.Reference))
	return nil
}

func (s *settler) applyProcessing(ctx context.Context, tx domain.Tx, p *models.Payment) error {
	if !p.Status.CanTransitionTo(models.PaymentProcessing) {
		return nil
	}
	p.Status = models.PaymentProcessing
	return tx.UpdatePayment(ctx, p)
}

func (s *settler) applyRefunded(ctx context.Context, tx domain.Tx, b *models.Booking, p *models.Payment, st settlement, fx *effects) error {
	if !p.Status.CanTransitionTo(models.PaymentRefunded) {
		return nil
	}
	now := s.now()
	wasCompleted := p.Status == models.PaymentCompleted

	p.Status = models.PaymentRefunded
	p.RefundedAt = &now
	if st.RefundProviderAmount > 0 {
		p.RefundAmount = payment.FromProviderAmount(st.RefundProviderAmount, p.Currency)
	}
	if p.RefundAmount == 0 {
		p.RefundAmount = p.Amount
	}
	if p.RefundReference == "" {
		p.RefundReference = st.RefundID
	}
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return err
	}
	fx.publish(events.EventPaymentRefunded, paymentPayload(p, b.Reference))

	switch {
	case !wasCompleted:
		// A duplicate or failed charge being returned; the booking follows
		// its own completed payment.
	case b.Status == models.BookingCancelled:
		prev := b.Status
		if err := moveBooking(b, models.BookingRefunded, now); err != nil {
			return err
		}
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		fx.publish(events.EventBookingRefunded, bookingPayload(b, nil, nil, models.SystemActor, prev))
	case b.Status == models.BookingRefunded:
	default:
		s.logger.Warn().
			Str("anomaly", "refund_on_active_booking").
			Str("booking", b.Reference).
			Str("booking_status", string(b.Status)).
			Str("payment_id", p.ID).
			Msg("Refund settled for a booking that is not cancelled, booking left untouched")
	}
	return nil
}

// issueRefund asks the provider to return p.RefundAmount. The provider
// idempotency key is derived from the payment, so retries never refund twice.
func (s *settler) issueRefund(ctx context.Context, p models.Payment) error {
	if p.ProviderIntentID == "" || p.RefundAmount <= 0 || p.RefundReference != "" {
		return nil
	}
	if s.provider == nil {
		return domain.ProviderError("refund", errors.New("no payment provider configured"))
	}

	refund, err := s.provider.Refund(ctx, domain.RefundRequest{
		IdempotencyKey: "refund-" + p.ID,
		IntentID:       p.ProviderIntentID,
		Amount:         payment.ToProviderAmount(p.RefundAmount, p.Currency),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("payment_id", p.ID).Int64("amount", p.RefundAmount).Msg("Refund request failed")
		return fmt.Errorf("refund payment %s: %w", p.ID, err)
	}

	err = s.store.InTx(ctx, func(tx domain.Tx) error {
		if _, err := tx.LockBookingByID(ctx, p.BookingID); err != nil {
			return err
		}
		current, err := tx.LockPaymentByIntent(ctx, p.ProviderIntentID)
		if err != nil {
			return err
		}
		if current.RefundReference != "" {
			return nil
		}
		current.RefundReference = refund.ID
		return tx.UpdatePayment(ctx, current)
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("payment_id", p.ID).
		Str("refund_id", refund.ID).
		Str("refund_status", refund.Status).
		Int64("amount", p.RefundAmount).
		Msg("Refund requested")

	if refund.Status == "succeeded" {
		_, err = s.settle(ctx, p.ProviderIntentID, settlement{Status: models.PaymentRefunded, RefundID: refund.ID})
		return err
	}
	return nil
}

// flush publishes events and issues refunds collected during a committed
// transaction. Refund failures are left for the retry sweep.
func (s *settler) flush(ctx context.Context, fx *effects) {
	publishAll(s.eventBus, s.logger, fx)
	for _, p := range fx.refunds {
		if err := s.issueRefund(ctx, p); err != nil {
			s.logger.Warn().Err(err).Str("payment_id", p.ID).Msg("Refund deferred to retry sweep")
		}
	}
}
