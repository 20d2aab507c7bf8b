package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/models"
)

const paymentColumns = `id, booking_id, amount, currency, provider_amount, provider_intent_id, client_token, status,
	failure_reason, paid_at, refund_amount, refund_reference, refunded_at, created_at, updated_at`

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p                             models.Payment
		currency, status              string
		intentID, token, failure, ref sql.NullString
		paidAt, refundedAt            sql.NullTime
	)
	err := row.Scan(&p.ID, &p.BookingID, &p.Amount, &currency, &p.ProviderAmount, &intentID, &token, &status,
		&failure, &paidAt, &p.RefundAmount, &ref, &refundedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Currency = models.Currency(currency)
	p.Status = models.PaymentStatus(status)
	p.ProviderIntentID = intentID.String
	p.ClientToken = token.String
	p.FailureReason = failure.String
	p.RefundReference = ref.String
	p.PaidAt = timePtr(paidAt)
	p.RefundedAt = timePtr(refundedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (q queries) scanPayments(rows *sql.Rows) ([]*models.Payment, error) {
	defer rows.Close()
	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

func (q queries) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	p, err := scanPayment(q.queryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "payment %s", id)
	}
	return p, nil
}

func (q queries) GetPaymentByIntent(ctx context.Context, intentID string) (*models.Payment, error) {
	p, err := scanPayment(q.queryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE provider_intent_id = ?`, intentID))
	if err != nil {
		return nil, notFound(err, "payment intent %s", intentID)
	}
	return p, nil
}

func (q queries) ListPaymentsByBooking(ctx context.Context, bookingID string) ([]*models.Payment, error) {
	rows, err := q.query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id = ? ORDER BY created_at`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return q.scanPayments(rows)
}

func (t *Tx) LockPaymentByIntent(ctx context.Context, intentID string) (*models.Payment, error) {
	query := t.forUpdate(`SELECT ` + paymentColumns + ` FROM payments WHERE provider_intent_id = ?`)
	p, err := scanPayment(t.queryRow(ctx, query, intentID))
	if err != nil {
		return nil, notFound(err, "payment intent %s", intentID)
	}
	return p, nil
}

func (t *Tx) InsertPayment(ctx context.Context, p *models.Payment) error {
	now := nowUTC()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := t.exec(ctx, `INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.BookingID, p.Amount, string(p.Currency), p.ProviderAmount, nullString(p.ProviderIntentID),
		nullString(p.ClientToken), string(p.Status), nullString(p.FailureReason), nullTime(p.PaidAt),
		p.RefundAmount, nullString(p.RefundReference), nullTime(p.RefundedAt), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: payment for booking %s", domain.ErrConflict, p.BookingID)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// UpdatePayment writes every mutable column. A second completed payment for
// the same booking is rejected by the partial unique index as ErrConflict.
func (t *Tx) UpdatePayment(ctx context.Context, p *models.Payment) error {
	p.UpdatedAt = nowUTC()
	res, err := t.exec(ctx, `UPDATE payments SET
			provider_intent_id = ?, client_token = ?, status = ?, failure_reason = ?, paid_at = ?,
			refund_amount = ?, refund_reference = ?, refunded_at = ?, updated_at = ?
		WHERE id = ?`,
		nullString(p.ProviderIntentID), nullString(p.ClientToken), string(p.Status), nullString(p.FailureReason),
		nullTime(p.PaidAt), p.RefundAmount, nullString(p.RefundReference), nullTime(p.RefundedAt), p.UpdatedAt, p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: payment %s", domain.ErrConflict, p.ID)
		}
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return domain.NotFoundf("payment %s", p.ID)
	}
	return nil
}

// ListStalePayments returns in-flight payments not updated since before.
func (db *DB) ListStalePayments(ctx context.Context, before time.Time, limit int) ([]*models.Payment, error) {
	rows, err := db.query(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE status IN (?, ?) AND provider_intent_id IS NOT NULL AND updated_at < ?
		ORDER BY updated_at LIMIT ?`,
		string(models.PaymentPending), string(models.PaymentProcessing), before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale payments: %w", err)
	}
	return db.scanPayments(rows)
}

// ListPendingRefunds returns payments with a refund decided but not accepted
// by the provider yet.
func (db *DB) ListPendingRefunds(ctx context.Context, limit int) ([]*models.Payment, error) {
	rows, err := db.query(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE refund_amount > 0 AND refund_reference IS NULL AND status <> ? AND provider_intent_id IS NOT NULL
		ORDER BY updated_at LIMIT ?`, string(models.PaymentRefunded), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending refunds: %w", err)
	}
	return db.scanPayments(rows)
}

// ListPaymentsBetween joins payments created in [from, to) with their bookings.
func (db *DB) ListPaymentsBetween(ctx context.Context, from, to time.Time) ([]models.PaymentLedgerEntry, error) {
	rows, err := db.query(ctx, `SELECT `+prefixed("p", paymentColumns)+`, b.reference, b.status
		FROM payments p JOIN bookings b ON b.id = p.booking_id
		WHERE p.created_at >= ? AND p.created_at < ?
		ORDER BY p.created_at`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var entries []models.PaymentLedgerEntry
	for rows.Next() {
		var (
			ref, status string
			scanner     = &trailingScanner{rows: rows, extra: []interface{}{&ref, &status}}
		)
		p, err := scanPayment(scanner)
		if err != nil {
			return nil, err
		}
		entries = append(entries, models.PaymentLedgerEntry{
			Payment:          *p,
			BookingReference: ref,
			BookingStatus:    models.BookingStatus(status),
		})
	}
	return entries, rows.Err()
}

// trailingScanner lets scanPayment read a row that carries extra columns.
type trailingScanner struct {
	rows  *sql.Rows
	extra []interface{}
}

func (s *trailingScanner) Scan(dest ...interface{}) error {
	return s.rows.Scan(append(dest, s.extra...)...)
}
