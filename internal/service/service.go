// Package service holds the booking engine: reservation, lifecycle,
// payment settlement, webhook reconciliation and background sweeps.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/domain"
	"slotbook/internal/events"
	"slotbook/internal/logging"
	"slotbook/internal/metrics"
	"slotbook/internal/models"
	"slotbook/internal/pricing"
	"slotbook/internal/reference"

	"github.com/rs/zerolog"
)

// Deps are the collaborators shared by every service.
type Deps struct {
	Store       domain.Store
	Provider    domain.PaymentProvider
	Events      domain.EventPublisher
	Promos      domain.PromoResolver
	Idempotency domain.IdempotencyStore
	Pricing     *pricing.Engine
	References  domain.ReferenceGenerator
	Now         func() time.Time
	Logger      *zerolog.Logger
}

// Services is the wired set used by the API and the sweeper.
type Services struct {
	Bookings  *BookingService
	Lifecycle *LifecycleService
	Payments  *PaymentService
	Webhooks  *WebhookReconciler
	Sweeps    *Sweeps
}

func New(cfg *config.Config, d Deps) *Services {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Logger == nil {
		nop := zerolog.Nop()
		d.Logger = &nop
	}
	if d.Pricing == nil {
		d.Pricing = pricing.NewEngine(pricing.Options{
			ServiceFeePercent: cfg.Booking.ServiceFeePercent,
			TaxPercent:        cfg.Booking.TaxPercent,
			ChildPriceRatio:   cfg.Booking.ChildPriceRatio,
		})
	}

	loc := cfg.Booking.Location()
	if d.References == nil {
		now := d.Now
		d.References = reference.NewRandomGenerator(cfg.Booking.ReferencePrefix, func() time.Time {
			return now().In(loc)
		})
	}
	ledger := NewLedger(logging.Component(d.Logger, "ledger"))
	settler := newSettler(d, loc)

	bookings := NewBookingService(d, ledger, cfg.Booking)
	lifecycle := NewLifecycleService(d, ledger, settler, loc)
	payments := NewPaymentService(d, settler)
	webhooks := NewWebhookReconciler(settler, d.Idempotency, cfg.Payment, cfg.Redis.EventTTL, d.Logger)
	sweeps := NewSweeps(d, lifecycle, payments, settler, cfg.Worker, loc)

	return &Services{
		Bookings:  bookings,
		Lifecycle: lifecycle,
		Payments:  payments,
		Webhooks:  webhooks,
		Sweeps:    sweeps,
	}
}

type pendingEvent struct {
	eventType string
	payload   interface{}
}

// effects collects what must happen only after a transaction commits.
type effects struct {
	events  []pendingEvent
	refunds []models.Payment
}

func (e *effects) publish(eventType string, payload interface{}) {
	e.events = append(e.events, pendingEvent{eventType: eventType, payload: payload})
}

func (e *effects) refund(p *models.Payment) {
	e.refunds = append(e.refunds, *p)
}

func publishAll(publisher domain.EventPublisher, logger *zerolog.Logger, fx *effects) {
	if publisher == nil {
		return
	}
	for _, ev := range fx.events {
		if err := publisher.PublishJSON(ev.eventType, ev.payload); err != nil {
			logger.Error().Err(err).Str("event_type", ev.eventType).Msg("publish event error")
		}
	}
}

// moveBooking applies one state-machine step or returns InvalidTransitionError.
func moveBooking(b *models.Booking, next models.BookingStatus, at time.Time) error {
	if !b.Status.CanTransitionTo(next) {
		return &domain.InvalidTransitionError{
			Entity: "booking " + b.Reference,
			From:   string(b.Status),
			To:     string(next),
		}
	}
	metrics.IncBookingTransition(string(b.Status), string(next))
	b.SetStatus(next, at)
	return nil
}

func bookingPayload(b *models.Booking, activity *models.Activity, slot *models.Availability, actor models.Actor, prev models.BookingStatus) events.BookingEventPayload {
	p := events.BookingEventPayload{
		BookingID:     b.ID,
		Reference:     b.Reference,
		ActivityID:    b.ActivityID,
		Status:        string(b.Status),
		Adults:        b.Participants.Adults,
		Children:      b.Participants.Children,
		TotalAmount:   b.Pricing.Total,
		Currency:      string(b.Pricing.Currency),
		ContactName:   b.ContactName,
		Reason:        b.CancellationReason,
		ChangedBy:     actor.ID,
		ChangedByRole: string(actor.Role),
	}
	if prev != b.Status {
		p.PreviousStatus = string(prev)
	}
	if activity != nil {
		p.ActivityName = activity.Name
	}
	if slot != nil {
		p.Date = slot.Date
		p.StartTime = slot.StartTime
	}
	return p
}

func paymentPayload(p *models.Payment, bookingRef string) events.PaymentEventPayload {
	return events.PaymentEventPayload{
		PaymentID:        p.ID,
		BookingID:        p.BookingID,
		BookingReference: bookingRef,
		IntentID:         p.ProviderIntentID,
		Status:           string(p.Status),
		Amount:           p.Amount,
		Currency:         string(p.Currency),
		RefundAmount:     p.RefundAmount,
		FailureReason:    p.FailureReason,
	}
}

// canView reports whether actor may see or act on b as its owner.
func canView(actor models.Actor, b *models.Booking) bool {
	if actor.IsStaff() {
		return true
	}
	if !actor.IsCustomer() {
		return false
	}
	if b.CustomerID != "" && b.CustomerID == actor.ID {
		return true
	}
	return actor.Email != "" && strings.EqualFold(strings.TrimSpace(actor.Email), strings.TrimSpace(b.ContactEmail))
}

func requireStaff(actor models.Actor, action string) error {
	if !actor.IsStaff() {
		return fmt.Errorf("%w: %s requires operator role", domain.ErrAuthorization, action)
	}
	return nil
}

func contextDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
