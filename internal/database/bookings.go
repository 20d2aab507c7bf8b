package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/models"
)

var bookingFields = []string{
	"id", "reference", "activity_id", "availability_id", "customer_id", "status", "adults", "children",
	"currency", "unit_price", "child_unit_price", "subtotal", "service_fee", "discount_amount", "tax_amount",
	"total_amount", "promo_code", "contact_name", "contact_email", "contact_phone", "special_requests",
	"cancellation_reason", "cancelled_by_customer", "spots_released", "hold_expires_at", "confirmed_at",
	"completed_at", "cancelled_at", "refunded_at", "created_at", "updated_at",
}

func bookingColumns(alias string) string {
	if alias == "" {
		return strings.Join(bookingFields, ", ")
	}
	cols := make([]string, len(bookingFields))
	for i, f := range bookingFields {
		cols[i] = alias + "." + f
	}
	return strings.Join(cols, ", ")
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b                                  models.Booking
		status, currency                   string
		customerID, promo, special, reason sql.NullString
		confirmed, completed, cancelled    sql.NullTime
		refunded                           sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.Reference, &b.ActivityID, &b.AvailabilityID, &customerID, &status,
		&b.Participants.Adults, &b.Participants.Children,
		&currency, &b.Pricing.UnitPrice, &b.Pricing.ChildUnitPrice, &b.Pricing.Subtotal, &b.Pricing.ServiceFee,
		&b.Pricing.DiscountAmount, &b.Pricing.TaxAmount, &b.Pricing.Total,
		&promo, &b.ContactName, &b.ContactEmail, &b.ContactPhone, &special,
		&reason, &b.CancelledByCustomer, &b.SpotsReleased, &b.HoldExpiresAt,
		&confirmed, &completed, &cancelled, &refunded, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = models.BookingStatus(status)
	b.Pricing.Currency = models.Currency(currency)
	b.CustomerID = customerID.String
	b.PromoCode = promo.String
	b.SpecialRequests = special.String
	b.CancellationReason = reason.String
	b.ConfirmedAt = timePtr(confirmed)
	b.CompletedAt = timePtr(completed)
	b.CancelledAt = timePtr(cancelled)
	b.RefundedAt = timePtr(refunded)
	b.HoldExpiresAt = b.HoldExpiresAt.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

func (q queries) scanBookings(rows *sql.Rows) ([]*models.Booking, error) {
	defer rows.Close()
	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}

func (q queries) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := scanBooking(q.queryRow(ctx, `SELECT `+bookingColumns("")+` FROM bookings WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "booking %s", id)
	}
	return b, nil
}

func (q queries) GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error) {
	b, err := scanBooking(q.queryRow(ctx, `SELECT `+bookingColumns("")+` FROM bookings WHERE reference = ?`, reference))
	if err != nil {
		return nil, notFound(err, "booking %s", reference)
	}
	return b, nil
}

func (t *Tx) LockBooking(ctx context.Context, reference string) (*models.Booking, error) {
	query := t.forUpdate(`SELECT ` + bookingColumns("") + ` FROM bookings WHERE reference = ?`)
	b, err := scanBooking(t.queryRow(ctx, query, reference))
	if err != nil {
		return nil, notFound(err, "booking %s", reference)
	}
	return b, nil
}

func (t *Tx) LockBookingByID(ctx context.Context, id string) (*models.Booking, error) {
	query := t.forUpdate(`SELECT ` + bookingColumns("") + ` FROM bookings WHERE id = ?`)
	b, err := scanBooking(t.queryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "booking %s", id)
	}
	return b, nil
}

func (t *Tx) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var n int
	if err := t.queryRow(ctx, `SELECT COUNT(*) FROM bookings WHERE reference = ?`, reference).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check reference: %w", err)
	}
	return n > 0, nil
}

func (t *Tx) InsertBooking(ctx context.Context, b *models.Booking) error {
	now := nowUTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = b.CreatedAt

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(bookingFields)), ", ")
	_, err := t.exec(ctx, `INSERT INTO bookings (`+bookingColumns("")+`) VALUES (`+placeholders+`)`,
		b.ID, b.Reference, b.ActivityID, b.AvailabilityID, nullString(b.CustomerID), string(b.Status),
		b.Participants.Adults, b.Participants.Children,
		string(b.Pricing.Currency), b.Pricing.UnitPrice, b.Pricing.ChildUnitPrice, b.Pricing.Subtotal,
		b.Pricing.ServiceFee, b.Pricing.DiscountAmount, b.Pricing.TaxAmount, b.Pricing.Total,
		nullString(b.PromoCode), b.ContactName, b.ContactEmail, b.ContactPhone, nullString(b.SpecialRequests),
		nullString(b.CancellationReason), b.CancelledByCustomer, b.SpotsReleased, b.HoldExpiresAt.UTC(),
		nullTime(b.ConfirmedAt), nullTime(b.CompletedAt), nullTime(b.CancelledAt), nullTime(b.RefundedAt),
		b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: booking reference %s already used", domain.ErrConflict, b.Reference)
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

// UpdateBooking writes the mutable lifecycle columns. The pricing snapshot and
// the spots_released guard are never touched here.
func (t *Tx) UpdateBooking(ctx context.Context, b *models.Booking) error {
	b.UpdatedAt = nowUTC()
	res, err := t.exec(ctx, `UPDATE bookings SET
			status = ?, cancellation_reason = ?, cancelled_by_customer = ?,
			confirmed_at = ?, completed_at = ?, cancelled_at = ?, refunded_at = ?, updated_at = ?
		WHERE id = ?`,
		string(b.Status), nullString(b.CancellationReason), b.CancelledByCustomer,
		nullTime(b.ConfirmedAt), nullTime(b.CompletedAt), nullTime(b.CancelledAt), nullTime(b.RefundedAt),
		b.UpdatedAt.UTC(), b.ID)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return domain.NotFoundf("booking %s", b.ID)
	}
	return nil
}

// ListExpiredHolds returns pending bookings whose reservation hold has lapsed.
func (db *DB) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*models.Booking, error) {
	rows, err := db.query(ctx, `SELECT `+bookingColumns("")+` FROM bookings
		WHERE status = ? AND hold_expires_at < ?
		ORDER BY hold_expires_at LIMIT ?`, string(models.BookingPending), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired holds: %w", err)
	}
	return db.scanBookings(rows)
}

// ListConfirmedBefore returns confirmed bookings whose slot date is before date.
func (db *DB) ListConfirmedBefore(ctx context.Context, date string, limit int) ([]*models.Booking, error) {
	rows, err := db.query(ctx, `SELECT `+bookingColumns("b")+` FROM bookings b
		JOIN availabilities a ON a.id = b.availability_id
		WHERE b.status = ? AND a.date < ?
		ORDER BY a.date LIMIT ?`, string(models.BookingConfirmed), date, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list past confirmed bookings: %w", err)
	}
	return db.scanBookings(rows)
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
