package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	seedFixture(t, db, 10)
	ctx := context.Background()

	b := newTestBooking("b-1", "BK-2030-CCCCCC", 2, 1)
	b.CustomerID = "cust-7"
	b.PromoCode = "WELCOME"
	insertBooking(t, db, b)

	got, err := db.GetBookingByReference(ctx, b.Reference)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, b.Pricing, got.Pricing)
	assert.Equal(t, b.Participants, got.Participants)
	assert.Equal(t, "cust-7", got.CustomerID)
	assert.Equal(t, "WELCOME", got.PromoCode)
	assert.Equal(t, models.BookingPending, got.Status)
	assert.True(t, b.HoldExpiresAt.Equal(got.HoldExpiresAt))
	assert.Nil(t, got.ConfirmedAt)

	_, err = db.GetBookingByReference(ctx, "BK-2030-NOPE00")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInsertBookingDuplicateReference(t *testing.T) {
	db := setupTestDB(t)
	seedFixture(t, db, 10)
	ctx := context.Background()

	insertBooking(t, db, newTestBooking("b-1", "BK-2030-DDDDDD", 1, 0))

	err := db.InTx(ctx, func(tx domain.Tx) error {
		exists, err := tx.ReferenceExists(ctx, "BK-2030-DDDDDD")
		require.NoError(t, err)
		assert.True(t, exists)
		return tx.InsertBooking(ctx, newTestBooking("b-2", "BK-2030-DDDDDD", 1, 0))
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestUpdateBookingKeepsPricing(t *testing.T) {
	db := setupTestDB(t)
	seedFixture(t, db, 10)
	ctx := context.Background()

	b := newTestBooking("b-1", "BK-2030-EEEEEE", 2, 1)
	insertBooking(t, db, b)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, db.InTx(ctx, func(tx domain.Tx) error {
		locked, err := tx.LockBooking(ctx, b.Reference)
		if err != nil {
			return err
		}
		locked.SetStatus(models.BookingCancelled, now)
		locked.CancellationReason = "change of plans"
		locked.CancelledByCustomer = true
		locked.Pricing.Total = 1
		return tx.UpdateBooking(ctx, locked)
	}))

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, got.Status)
	assert.Equal(t, "change of plans", got.CancellationReason)
	assert.True(t, got.CancelledByCustomer)
	require.NotNil(t, got.CancelledAt)
	assert.True(t, now.Equal(*got.CancelledAt))
	assert.Equal(t, int64(1312500), got.Pricing.Total)
}

func TestListExpiredHolds(t *testing.T) {
	db := setupTestDB(t)
	seedFixture(t, db, 10)
	ctx := context.Background()

	expired := newTestBooking("b-1", "BK-2030-FFFFFF", 1, 0)
	expired.HoldExpiresAt = time.Now().UTC().Add(-time.Minute)
	fresh := newTestBooking("b-2", "BK-2030-GGGGGG", 1, 0)
	insertBooking(t, db, expired)
	insertBooking(t, db, fresh)

	got, err := db.ListExpiredHolds(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b-1", got[0].ID)
}

func TestListConfirmedBefore(t *testing.T) {
	db := setupTestDB(t)
	seedFixture(t, db, 10)
	ctx := context.Background()

	b := newTestBooking("b-1", "BK-2030-HHHHHH", 1, 0)
	b.SetStatus(models.BookingConfirmed, time.Now().UTC())
	insertBooking(t, db, b)

	got, err := db.ListConfirmedBefore(ctx, "2030-06-02", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.Reference, got[0].Reference)

	got, err = db.ListConfirmedBefore(ctx, fixtureDate, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoadAndSeedCatalog(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
activities:
  - id: act-dive
    name: Tulamben wreck dive
    adult_price: {idr: 1200000, usd: 7800}
    max_group_size: 6
    instant_booking: true
    cancellation_policy: strict
availabilities:
  - id: dive-0601
    activity_id: act-dive
    date: "2030-06-01"
    start_time: "07:00"
    total_spots: 6
    adult_price_override: {idr: 1500000, usd: 9800}
`), 0o644))

	cat, err := LoadCatalog(path)
	require.NoError(t, err)
	require.NoError(t, db.SeedCatalog(ctx, cat))

	act, err := db.GetActivity(ctx, "act-dive")
	require.NoError(t, err)
	assert.Nil(t, act.ChildPrice)
	assert.True(t, act.InstantBooking)
	assert.Equal(t, models.PolicyStrict, act.CancellationPolicy)

	slot, err := db.GetAvailability(ctx, "dive-0601")
	require.NoError(t, err)
	assert.Equal(t, 6, slot.AvailableSpots)
	assert.Equal(t, models.SlotOpen, slot.Status)
	require.NotNil(t, slot.AdultPriceOverride)
	assert.Equal(t, int64(1500000), slot.AdultPriceOverride.IDR)
	assert.Nil(t, slot.ChildPriceOverride)

	// reseeding keeps ledger-owned capacity
	require.NoError(t, reserve(db, "dive-0601", 2))
	require.NoError(t, db.SeedCatalog(ctx, cat))
	slot, err = db.GetAvailability(ctx, "dive-0601")
	require.NoError(t, err)
	assert.Equal(t, 4, slot.AvailableSpots)
}

func TestCatalogValidate(t *testing.T) {
	tests := []struct {
		name string
		cat  Catalog
	}{
		{"missing activity id", Catalog{Activities: []models.Activity{{Name: "x", MaxGroupSize: 1}}}},
		{"bad policy", Catalog{Activities: []models.Activity{{ID: "a", MaxGroupSize: 1, CancellationPolicy: "lenient"}}}},
		{"unknown activity", Catalog{Availabilities: []models.Availability{{ID: "s", ActivityID: "a", Date: "2030-01-01", TotalSpots: 1}}}},
		{"bad date", Catalog{
			Activities:     []models.Activity{{ID: "a", MaxGroupSize: 1}},
			Availabilities: []models.Availability{{ID: "s", ActivityID: "a", Date: "01/01/2030", TotalSpots: 1}},
		}},
		{"spots above total", Catalog{
			Activities:     []models.Activity{{ID: "a", MaxGroupSize: 1}},
			Availabilities: []models.Availability{{ID: "s", ActivityID: "a", Date: "2030-01-01", TotalSpots: 1, AvailableSpots: 3}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cat.Validate())
		})
	}
}
