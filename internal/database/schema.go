package database

import (
	"context"
	"fmt"
	"strings"

	"slotbook/internal/config"
)

// Column types differ between dialects; {ts} and {bool} are substituted.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		adult_price_idr BIGINT NOT NULL,
		adult_price_usd BIGINT NOT NULL,
		child_price_idr BIGINT,
		child_price_usd BIGINT,
		max_group_size INTEGER NOT NULL,
		instant_booking {bool} NOT NULL DEFAULT FALSE,
		cancellation_policy TEXT NOT NULL,
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS availabilities (
		id TEXT PRIMARY KEY,
		activity_id TEXT NOT NULL REFERENCES activities(id),
		date TEXT NOT NULL,
		start_time TEXT NOT NULL DEFAULT '',
		end_time TEXT NOT NULL DEFAULT '',
		total_spots INTEGER NOT NULL,
		available_spots INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		adult_override_idr BIGINT,
		adult_override_usd BIGINT,
		child_override_idr BIGINT,
		child_override_usd BIGINT,
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL,
		CHECK (available_spots >= 0 AND available_spots <= total_spots)
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		reference TEXT NOT NULL UNIQUE,
		activity_id TEXT NOT NULL REFERENCES activities(id),
		availability_id TEXT NOT NULL REFERENCES availabilities(id),
		customer_id TEXT,
		status TEXT NOT NULL,
		adults INTEGER NOT NULL,
		children INTEGER NOT NULL DEFAULT 0,
		currency TEXT NOT NULL,
		unit_price BIGINT NOT NULL,
		child_unit_price BIGINT NOT NULL,
		subtotal BIGINT NOT NULL,
		service_fee BIGINT NOT NULL,
		discount_amount BIGINT NOT NULL,
		tax_amount BIGINT NOT NULL,
		total_amount BIGINT NOT NULL,
		promo_code TEXT,
		contact_name TEXT NOT NULL,
		contact_email TEXT NOT NULL,
		contact_phone TEXT NOT NULL,
		special_requests TEXT,
		cancellation_reason TEXT,
		cancelled_by_customer {bool} NOT NULL DEFAULT FALSE,
		spots_released {bool} NOT NULL DEFAULT FALSE,
		hold_expires_at {ts} NOT NULL,
		confirmed_at {ts},
		completed_at {ts},
		cancelled_at {ts},
		refunded_at {ts},
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL REFERENCES bookings(id),
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		provider_amount BIGINT NOT NULL,
		provider_intent_id TEXT,
		client_token TEXT,
		status TEXT NOT NULL,
		failure_reason TEXT,
		paid_at {ts},
		refund_amount BIGINT NOT NULL DEFAULT 0,
		refund_reference TEXT,
		refunded_at {ts},
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_availabilities_activity ON availabilities(activity_id, date)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_status_hold ON bookings(status, hold_expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_availability ON bookings(availability_id)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_booking ON payments(booking_id)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status, updated_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_intent ON payments(provider_intent_id) WHERE provider_intent_id IS NOT NULL`,
	// at most one completed payment per booking
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_one_completed ON payments(booking_id) WHERE status = 'completed'`,
}

func (db *DB) createTables(ctx context.Context) error {
	ts, boolean := "DATETIME", "BOOLEAN"
	if db.driver == config.DriverPostgres {
		ts = "TIMESTAMPTZ"
	}
	replacer := strings.NewReplacer("{ts}", ts, "{bool}", boolean)

	for _, stmt := range schema {
		query := replacer.Replace(stmt)
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}
