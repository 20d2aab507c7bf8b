package service

import (
	"context"
	"errors"

	"slotbook/internal/domain"
	"slotbook/internal/metrics"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
)

// Ledger is the only writer of slot capacity. Both operations run inside the
// caller's transaction so a later failure rolls the capacity change back.
type Ledger struct {
	logger *zerolog.Logger
}

func NewLedger(logger *zerolog.Logger) *Ledger {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Ledger{logger: logger}
}

// Reserve takes count spots from the slot or fails with ErrNotFound,
// ErrSlotClosed or ErrCapacity.
func (l *Ledger) Reserve(ctx context.Context, tx domain.Tx, slotID string, count int) error {
	err := tx.ReserveSpots(ctx, slotID, count)
	metrics.IncReservation(reservationResult(err))
	if err != nil {
		l.logger.Debug().Err(err).Str("availability_id", slotID).Int("count", count).Msg("Reservation rejected")
		return err
	}
	return nil
}

// Release returns the booking's spots once. It reports false when they were
// already returned.
func (l *Ledger) Release(ctx context.Context, tx domain.Tx, b *models.Booking) (bool, error) {
	count := b.Participants.Total()
	released, err := tx.ReleaseSpots(ctx, b.ID, b.AvailabilityID, count)
	if err != nil {
		return false, err
	}
	if released {
		b.SpotsReleased = true
		metrics.AddSpotsReleased(count)
		l.logger.Debug().Str("booking", b.Reference).Int("count", count).Msg("Spots released")
	}
	return released, nil
}

func reservationResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrCapacity):
		return "capacity"
	case errors.Is(err, domain.ErrSlotClosed):
		return "closed"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
