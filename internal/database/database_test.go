package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"}, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

const fixtureDate = "2030-06-01"

// seedFixture creates act-1 (500,000 / 250,000 IDR) with slot-1 holding spots.
func seedFixture(t *testing.T, db *DB, spots int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.UpsertActivity(ctx, &models.Activity{
		ID:                 "act-1",
		Name:               "Ubud rice terrace walk",
		AdultPrice:         models.PriceSet{IDR: 500000, USD: 3200},
		ChildPrice:         &models.PriceSet{IDR: 250000, USD: 1600},
		MaxGroupSize:       10,
		CancellationPolicy: models.PolicyModerate,
	}))
	require.NoError(t, db.UpsertAvailability(ctx, &models.Availability{
		ID:             "slot-1",
		ActivityID:     "act-1",
		Date:           fixtureDate,
		StartTime:      "08:00",
		EndTime:        "12:00",
		TotalSpots:     spots,
		AvailableSpots: spots,
	}))
}

func newTestBooking(id, ref string, adults, children int) *models.Booking {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Booking{
		ID:             id,
		Reference:      ref,
		ActivityID:     "act-1",
		AvailabilityID: "slot-1",
		Status:         models.BookingPending,
		Participants:   models.Participants{Adults: adults, Children: children},
		Pricing: models.PriceBreakdown{
			Currency:       models.CurrencyIDR,
			UnitPrice:      500000,
			ChildUnitPrice: 250000,
			Subtotal:       1250000,
			ServiceFee:     62500,
			Total:          1312500,
		},
		ContactName:   "Ayu",
		ContactEmail:  "ayu@example.com",
		ContactPhone:  "+62811000000",
		HoldExpiresAt: now.Add(30 * time.Minute),
		CreatedAt:     now,
	}
}

func insertBooking(t *testing.T, db *DB, b *models.Booking) {
	t.Helper()
	require.NoError(t, db.InTx(context.Background(), func(tx domain.Tx) error {
		return tx.InsertBooking(context.Background(), b)
	}))
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(config.DatabaseConfig{Path: dbPath}, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, config.DriverSQLite, db.Dialect())
}

func TestNewDB_UnsupportedDriver(t *testing.T) {
	logger := zerolog.Nop()
	_, err := NewDB(config.DatabaseConfig{Driver: "oracle"}, &logger)
	assert.Error(t, err)
}

func TestCreateTablesIdempotent(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.createTables(context.Background()))
}

func TestRebind(t *testing.T) {
	sqlite := queries{driver: config.DriverSQLite}
	pg := queries{driver: config.DriverPostgres}

	q := `SELECT * FROM bookings WHERE id = ? AND status = ?`
	assert.Equal(t, q, sqlite.rebind(q))
	assert.Equal(t, `SELECT * FROM bookings WHERE id = $1 AND status = $2`, pg.rebind(q))

	assert.Equal(t, "SELECT 1", sqlite.forUpdate("SELECT 1"))
	assert.Equal(t, "SELECT 1 FOR UPDATE", pg.forUpdate("SELECT 1"))
}

func TestInTxRollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	seedFixture(t, db, 5)
	ctx := context.Background()

	err := db.InTx(ctx, func(tx domain.Tx) error {
		require.NoError(t, tx.ReserveSpots(ctx, "slot-1", 3))
		return domain.Validationf("reference exhausted")
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	slot, err := db.GetAvailability(ctx, "slot-1")
	require.NoError(t, err)
	assert.Equal(t, 5, slot.AvailableSpots)
}

func TestDB_ClosedErrors(t *testing.T) {
	logger := zerolog.Nop()
	db, err := NewDB(config.DatabaseConfig{Path: ":memory:"}, &logger)
	require.NoError(t, err)
	db.Close()

	ctx := context.Background()
	_, err = db.GetBooking(ctx, "x")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)

	err = db.InTx(ctx, func(tx domain.Tx) error { return nil })
	assert.Error(t, err)
}
