package service

import (
	"context"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/domain"
	"slotbook/internal/logging"
	"slotbook/internal/models"
	"slotbook/internal/worker"

	"github.com/rs/zerolog"
)

// Sweeps are the background jobs that keep bookings and payments moving when
// no request arrives to do it.
type Sweeps struct {
	store     domain.Store
	lifecycle *LifecycleService
	payments  *PaymentService
	settler   *settler
	cfg       config.WorkerConfig
	loc       *time.Location
	now       func() time.Time
	logger    *zerolog.Logger
}

func NewSweeps(d Deps, lifecycle *LifecycleService, payments *PaymentService, settler *settler, cfg config.WorkerConfig, loc *time.Location) *Sweeps {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ReconcileAfter <= 0 {
		cfg.ReconcileAfter = 15 * time.Minute
	}
	return &Sweeps{
		store:     d.Store,
		lifecycle: lifecycle,
		payments:  payments,
		settler:   settler,
		cfg:       cfg,
		loc:       loc,
		now:       d.Now,
		logger:    logging.Component(d.Logger, "sweeps"),
	}
}

func (s *Sweeps) Jobs() []worker.Job {
	return []worker.Job{
		{Name: "expire_holds", Interval: s.cfg.SweepInterval, Run: s.ExpireHolds},
		{Name: "complete_past", Interval: s.cfg.SweepInterval, Run: s.CompletePast},
		{Name: "reconcile_payments", Interval: s.cfg.SweepInterval, Run: s.ReconcilePayments},
		{Name: "retry_refunds", Interval: s.cfg.SweepInterval, Run: s.RetryRefunds},
	}
}

// ExpireHolds cancels pending bookings whose reservation hold lapsed.
func (s *Sweeps) ExpireHolds(ctx context.Context) (int, error) {
	bookings, err := s.store.ListExpiredHolds(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, b := range bookings {
		if contextDone(ctx) {
			break
		}
		expired, err := s.lifecycle.ExpireHold(ctx, b.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("booking", b.Reference).Msg("Failed to expire hold")
			continue
		}
		if expired {
			n++
		}
	}
	return n, nil
}

// CompletePast completes confirmed bookings whose slot date is before today
// in the booking timezone.
func (s *Sweeps) CompletePast(ctx context.Context) (int, error) {
	today := s.now().In(s.loc).Format(models.DateLayout)
	bookings, err := s.store.ListConfirmedBefore(ctx, today, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, b := range bookings {
		if contextDone(ctx) {
			break
		}
		done, err := s.lifecycle.CompleteByID(ctx, b.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("booking", b.Reference).Msg("Failed to complete booking")
			continue
		}
		if done {
			n++
		}
	}
	return n, nil
}

// ReconcilePayments re-checks in-flight payments the webhook never settled.
func (s *Sweeps) ReconcilePayments(ctx context.Context) (int, error) {
	stale, err := s.store.ListStalePayments(ctx, s.now().Add(-s.cfg.ReconcileAfter), s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range stale {
		if contextDone(ctx) {
			break
		}
		updated, err := s.payments.ConfirmPayment(ctx, models.SystemActor, p.ProviderIntentID)
		if err != nil {
			s.logger.Warn().Err(err).Str("payment_id", p.ID).Msg("Payment reconciliation failed")
			continue
		}
		if updated.Status != p.Status {
			n++
		}
	}
	return n, nil
}

// RetryRefunds issues refunds that were decided but never accepted by the
// provider.
func (s *Sweeps) RetryRefunds(ctx context.Context) (int, error) {
	pending, err := s.store.ListPendingRefunds(ctx, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range pending {
		if contextDone(ctx) {
			break
		}
		if err := s.settler.issueRefund(ctx, *p); err != nil {
			s.logger.Warn().Err(err).Str("payment_id", p.ID).Msg("Refund retry failed")
			continue
		}
		n++
	}
	return n, nil
}
