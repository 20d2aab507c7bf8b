package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/events"
	"slotbook/internal/logging"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
)

// LifecycleService drives booking state changes that are not caused by a
// payment: operator confirmation, cancellation, attendance and hold expiry.
type LifecycleService struct {
	store    domain.Store
	ledger   *Ledger
	settler  *settler
	eventBus domain.EventPublisher
	loc      *time.Location
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewLifecycleService(d Deps, ledger *Ledger, settler *settler, loc *time.Location) *LifecycleService {
	return &LifecycleService{
		store:    d.Store,
		ledger:   ledger,
		settler:  settler,
		eventBus: d.Events,
		loc:      loc,
		now:      d.Now,
		logger:   logging.Component(d.Logger, "lifecycle"),
	}
}

// Confirm is the operator's manual confirmation for on-request activities.
// Instant-booking activities are confirmed only by a completed payment.
func (s *LifecycleService) Confirm(ctx context.Context, actor models.Actor, reference string) (*models.Booking, error) {
	if err := requireStaff(actor, "confirm"); err != nil {
		return nil, err
	}

	var (
		b  *models.Booking
		fx effects
	)
	err := s.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		b, err = tx.LockBooking(ctx, reference)
		if err != nil {
			return err
		}
		activity, err := tx.GetActivity(ctx, b.ActivityID)
		if err != nil {
			return err
		}
		if activity.InstantBooking {
			return fmt.Errorf("%w: activity %s is confirmed by payment only", domain.ErrInvalidTransition, activity.ID)
		}

		prev := b.Status
		if err := moveBooking(b, models.BookingConfirmed, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		fx.publish(events.EventBookingConfirmed, bookingPayload(b, activity, nil, actor, prev))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("booking", b.Reference).Str("actor", actor.ID).Msg("Booking confirmed by operator")
	publishAll(s.eventBus, s.logger, &fx)
	return b, nil
}

// Cancel releases the booking's spots and, when it was paid, requests the
// refund its activity's policy allows.
func (s *LifecycleService) Cancel(ctx context.Context, actor models.Actor, reference, reason string) (*models.Booking, error) {
	if !actor.IsCustomer() && !actor.IsStaff() {
		return nil, fmt.Errorf("%w: unknown actor", domain.ErrAuthorization)
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > 500 {
		return nil, domain.Validationf("reason must be at most 500 characters")
	}

	var (
		b  *models.Booking
		fx effects
	)
	err := s.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		b, err = tx.LockBooking(ctx, reference)
		if err != nil {
			return err
		}
		if !canView(actor, b) {
			return fmt.Errorf("%w: booking %s belongs to another customer", domain.ErrAuthorization, reference)
		}
		return s.cancelLocked(ctx, tx, b, actor, reason, &fx)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("booking", b.Reference).
		Str("actor", actor.ID).
		Bool("by_customer", b.CancelledByCustomer).
		Msg("Booking cancelled")
	s.settler.flush(ctx, &fx)
	return b, nil
}

func (s *LifecycleService) cancelLocked(ctx context.Context, tx domain.Tx, b *models.Booking, actor models.Actor, reason string, fx *effects) error {
	now := s.now()
	prev := b.Status
	if err := moveBooking(b, models.BookingCancelled, now); err != nil {
		return err
	}
	if _, err := s.ledger.Release(ctx, tx, b); err != nil {
		return err
	}
	b.CancellationReason = reason
	b.CancelledByCustomer = actor.IsCustomer()
	if err := tx.UpdateBooking(ctx, b); err != nil {
		return err
	}

	activity, err := tx.GetActivity(ctx, b.ActivityID)
	if err != nil {
		return err
	}
	slot, err := tx.GetAvailability(ctx, b.AvailabilityID)
	if err != nil {
		return err
	}

	payments, err := tx.ListPaymentsByBooking(ctx, b.ID)
	if err != nil {
		return err
	}
	for _, p := range payments {
		switch p.Status {
		case models.PaymentCompleted:
			if p.RefundAmount > 0 {
				continue
			}
			startsAt, err := slot.StartsAt(s.loc)
			if err != nil {
				return err
			}
			p.RefundAmount = activity.CancellationPolicy.RefundAmount(p.Amount, startsAt, now)
			if p.RefundAmount == 0 {
				s.logger.Info().Str("booking", b.Reference).Str("policy", string(activity.CancellationPolicy)).
					Msg("Cancellation outside refund window, no refund")
				continue
			}
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return err
			}
			fx.refund(p)
		case models.PaymentPending:
			// An unpaid intent must not confirm a cancelled booking later;
			// if it still succeeds, settlement refunds it.
			p.Status = models.PaymentFailed
			p.FailureReason = reasonBookingCancelled
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return err
			}
		}
	}

	fx.publish(events.EventBookingCancelled, bookingPayload(b, activity, slot, actor, prev))
	return nil
}

func (s *LifecycleService) Complete(ctx context.Context, actor models.Actor, reference string) (*models.Booking, error) {
	return s.attend(ctx, actor, reference, models.BookingCompleted, events.EventBookingCompleted)
}

func (s *LifecycleService) NoShow(ctx context.Context, actor models.Actor, reference string) (*models.Booking, error) {
	return s.attend(ctx, actor, reference, models.BookingNoShow, events.EventBookingNoShow)
}

func (s *LifecycleService) attend(ctx context.Context, actor models.Actor, reference string, next models.BookingStatus, eventType string) (*models.Booking, error) {
	if err := requireStaff(actor, string(next)); err != nil {
		return nil, err
	}
	var (
		b  *models.Booking
		fx effects
	)
	err := s.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		if b, err = tx.LockBooking(ctx, reference); err != nil {
			return err
		}
		prev := b.Status
		if err := moveBooking(b, next, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		fx.publish(eventType, bookingPayload(b, nil, nil, actor, prev))
		return nil
	})
	if err != nil {
		return nil, err
	}
	publishAll(s.eventBus, s.logger, &fx)
	return b, nil
}

// ExpireHold cancels a pending booking whose hold lapsed without a payment in
// flight. It reports false when the booking no longer qualifies.
func (s *LifecycleService) ExpireHold(ctx context.Context, bookingID string) (bool, error) {
	var (
		expired bool
		fx      effects
	)
	err := s.store.InTx(ctx, func(tx domain.Tx) error {
		b, err := tx.LockBookingByID(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status != models.BookingPending || b.HoldExpiresAt.After(s.now()) {
			return nil
		}
		payments, err := tx.ListPaymentsByBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		for _, p := range payments {
			if p.Status == models.PaymentCompleted || p.Status == models.PaymentProcessing {
				return nil
			}
		}
		if err := s.cancelLocked(ctx, tx, b, models.SystemActor, reasonHoldExpired, &fx); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if expired {
		s.settler.flush(ctx, &fx)
	}
	return expired, nil
}

// CompleteByID marks a confirmed booking completed on behalf of the system.
func (s *LifecycleService) CompleteByID(ctx context.Context, bookingID string) (bool, error) {
	var (
		done bool
		fx   effects
	)
	err := s.store.InTx(ctx, func(tx domain.Tx) error {
		b, err := tx.LockBookingByID(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status != models.BookingConfirmed {
			return nil
		}
		prev := b.Status
		if err := moveBooking(b, models.BookingCompleted, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		fx.publish(events.EventBookingCompleted, bookingPayload(b, nil, nil, models.SystemActor, prev))
		done = true
		return nil
	})
	if err != nil {
		return false, err
	}
	publishAll(s.eventBus, s.logger, &fx)
	return done, nil
}
