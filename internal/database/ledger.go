package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"slotbook/internal/domain"
	"slotbook/internal/models"
)

// ReserveSpots decrements capacity with one conditional UPDATE. Concurrent
// reservations never observe a stale count: the row is re-checked under the
// write lock, so at most available_spots of them succeed.
func (t *Tx) ReserveSpots(ctx context.Context, availabilityID string, count int) error {
	if count <= 0 {
		return domain.Validationf("reserve count must be positive, got %d", count)
	}

	res, err := t.exec(ctx, `UPDATE availabilities
		SET available_spots = available_spots - ?,
			status = CASE WHEN available_spots - ? = 0 THEN 'full' ELSE status END,
			updated_at = ?
		WHERE id = ? AND status <> 'cancelled' AND available_spots >= ?`,
		count, count, nowUTC(), availabilityID, count)
	if err != nil {
		return fmt.Errorf("failed to reserve spots: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read reserve result: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// Nothing changed: find out why.
	var (
		status    string
		available int
	)
	err = t.queryRow(ctx, `SELECT status, available_spots FROM availabilities WHERE id = ?`, availabilityID).
		Scan(&status, &available)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFoundf("availability %s", availabilityID)
	}
	if err != nil {
		return fmt.Errorf("failed to inspect availability: %w", err)
	}
	if models.SlotStatus(status) == models.SlotCancelled {
		return fmt.Errorf("%w: availability %s is cancelled", domain.ErrSlotClosed, availabilityID)
	}
	return fmt.Errorf("%w: requested %d, available %d", domain.ErrCapacity, count, available)
}

// ReleaseSpots returns a booking's spots to its slot at most once. The
// booking's spots_released flag is the guard; false means nothing was done.
func (t *Tx) ReleaseSpots(ctx context.Context, bookingID, availabilityID string, count int) (bool, error) {
	if count <= 0 {
		return false, domain.Validationf("release count must be positive, got %d", count)
	}
	now := nowUTC()

	res, err := t.exec(ctx, `UPDATE bookings SET spots_released = ?, updated_at = ?
		WHERE id = ? AND spots_released = ?`, true, now, bookingID, false)
	if err != nil {
		return false, fmt.Errorf("failed to mark spots released: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read release guard result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	res, err = t.exec(ctx, `UPDATE availabilities
		SET available_spots = CASE WHEN available_spots + ? > total_spots THEN total_spots ELSE available_spots + ? END,
			status = CASE WHEN status = 'full' THEN 'open' ELSE status END,
			updated_at = ?
		WHERE id = ?`, count, count, now, availabilityID)
	if err != nil {
		return false, fmt.Errorf("failed to release spots: %w", err)
	}
	if affected, err = res.RowsAffected(); err == nil && affected == 0 {
		return false, domain.NotFoundf("availability %s", availabilityID)
	}
	return true, nil
}
