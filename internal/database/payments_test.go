package database

import (
	"context"
	"testing"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertPayment(t *testing.T, db *DB, p *models.Payment) {
	t.Helper()
	require.NoError(t, db.InTx(context.Background(), func(tx domain.Tx) error {
		return tx.InsertPayment(context.Background(), p)
	}))
}

func updatePayment(db *DB, p *models.Payment) error {
	return db.InTx(context.Background(), func(tx domain.Tx) error {
		return tx.UpdatePayment(context.Background(), p)
	})
}

func TestPaymentLifecycle(t *testing.T) {
	db := setupTestDB(t)
	seedFixture(t, db, 10)
	ctx := context.Background()
	insertBooking(t, db, newTestBooking("b-1", "BK-2030-JJJJJJ", 2, 1))

	p := &models.Payment{
		ID:             "pay-1",
		BookingID:      "b-1",
		Amount:         1312500,
		Currency:       models.CurrencyIDR,
		ProviderAmount: 131250000,
		Status:         models.PaymentPending,
	}
	insertPayment(t, db, p)

	_, err := db.GetPaymentByIntent(ctx, "pi_1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	p.ProviderIntentID = "pi_1"
	p.ClientToken = "pi_1_secret"
	require.NoError(t, updatePayment(db, p))

	paidAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, db.InTx(ctx, func(tx domain.Tx) error {
		locked, err := tx.LockPaymentByIntent(ctx, "pi_1")
		if err != nil {
			return err
		}
		locked.Status = models.PaymentCompleted
		locked.PaidAt = &paidAt
		return tx.UpdatePayment(ctx, locked)
	}))

	got, err := db.GetPaymentByIntent(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, got.Status)
	assert.Equal(t, "pi_1_secret", got.ClientToken)
	require.NotNil(t, got.PaidAt)
	assert.True(t, paidAt.Equal(*got.PaidAt))

	list, err := db.ListPaymentsByBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestOnlyOneCompletedPaymentPerBooking(t *testing.T) {
	db := setupTestDB(t)
	seedFixture(t, db, 10)
	insertBooking(t, db, newTestBooking("b-1", "BK-2030-KKKKKK", 1, 0))

	first := &models.Payment{ID: "pay-1", BookingID: "b-1", Amount: 10, Currency: models.CurrencyIDR, Status: models.PaymentCompleted}
	second := &models.Payment{ID: "pay-2", BookingID: "b-1", Amount: 10, Currency: models.CurrencyIDR, Status: models.PaymentPending}
	insertPayment(t, db, first)
	insertPayment(t, db, second)

	second.Status = models.PaymentCompleted
	assert.ErrorIs(t, updatePayment(db, second), domain.ErrConflict)
}

func TestPaymentSweepQueries(t *testing.T) {
	db := setupTestDB(t)
	seedFixture(t, db, 10)
	ctx := context.Background()
	insertBooking(t, db, newTestBooking("b-1", "BK-2030-LLLLLL", 1, 0))
	insertBooking(t, db, newTestBooking("b-2", "BK-2030-MMMMMM", 1, 0))

	stale := &models.Payment{ID: "pay-1", BookingID: "b-1", Amount: 10, Currency: models.CurrencyIDR,
		ProviderIntentID: "pi_1", Status: models.PaymentProcessing}
	refund := &models.Payment{ID: "pay-2", BookingID: "b-2", Amount: 10, Currency: models.CurrencyIDR,
		ProviderIntentID: "pi_2", Status: models.PaymentCompleted, RefundAmount: 10}
	insertPayment(t, db, stale)
	insertPayment(t, db, refund)

	got, err := db.ListStalePayments(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pay-1", got[0].ID)

	got, err = db.ListStalePayments(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = db.ListPendingRefunds(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pay-2", got[0].ID)

	refund.RefundReference = "re_1"
	require.NoError(t, updatePayment(db, refund))
	got, err = db.ListPendingRefunds(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	entries, err := db.ListPaymentsBetween(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "BK-2030-MMMMMM", entries[1].BookingReference)
	assert.Equal(t, models.BookingPending, entries[1].BookingStatus)
	assert.NotEmpty(t, entries[1].Mismatch())
}
