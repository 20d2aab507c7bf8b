package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"slotbook/internal/models"

	"gopkg.in/yaml.v3"
)

const activityColumns = `id, name, adult_price_idr, adult_price_usd, child_price_idr, child_price_usd,
	max_group_size, instant_booking, cancellation_policy, created_at, updated_at`

const availabilityColumns = `id, activity_id, date, start_time, end_time, total_spots, available_spots, status,
	adult_override_idr, adult_override_usd, child_override_idr, child_override_usd, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func priceSetPtr(idr, usd sql.NullInt64) *models.PriceSet {
	if !idr.Valid && !usd.Valid {
		return nil
	}
	return &models.PriceSet{IDR: idr.Int64, USD: usd.Int64}
}

func nullPrices(p *models.PriceSet) (sql.NullInt64, sql.NullInt64) {
	if p == nil {
		return sql.NullInt64{}, sql.NullInt64{}
	}
	return sql.NullInt64{Int64: p.IDR, Valid: true}, sql.NullInt64{Int64: p.USD, Valid: true}
}

func scanActivity(row rowScanner) (*models.Activity, error) {
	var (
		a                  models.Activity
		childIDR, childUSD sql.NullInt64
		policy             string
	)
	err := row.Scan(&a.ID, &a.Name, &a.AdultPrice.IDR, &a.AdultPrice.USD, &childIDR, &childUSD,
		&a.MaxGroupSize, &a.InstantBooking, &policy, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.ChildPrice = priceSetPtr(childIDR, childUSD)
	a.CancellationPolicy = models.CancellationPolicy(policy)
	return &a, nil
}

func scanAvailability(row rowScanner) (*models.Availability, error) {
	var (
		a                  models.Availability
		status             string
		adultIDR, adultUSD sql.NullInt64
		childIDR, childUSD sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.ActivityID, &a.Date, &a.StartTime, &a.EndTime, &a.TotalSpots, &a.AvailableSpots,
		&status, &adultIDR, &adultUSD, &childIDR, &childUSD, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = models.SlotStatus(status)
	a.AdultPriceOverride = priceSetPtr(adultIDR, adultUSD)
	a.ChildPriceOverride = priceSetPtr(childIDR, childUSD)
	return &a, nil
}

func (q queries) GetActivity(ctx context.Context, id string) (*models.Activity, error) {
	row := q.queryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = ?`, id)
	a, err := scanActivity(row)
	if err != nil {
		return nil, notFound(err, "activity %s", id)
	}
	return a, nil
}

func (q queries) GetAvailability(ctx context.Context, id string) (*models.Availability, error) {
	row := q.queryRow(ctx, `SELECT `+availabilityColumns+` FROM availabilities WHERE id = ?`, id)
	a, err := scanAvailability(row)
	if err != nil {
		return nil, notFound(err, "availability %s", id)
	}
	return a, nil
}

// UpsertActivity inserts or refreshes an activity from the catalog.
func (db *DB) UpsertActivity(ctx context.Context, a *models.Activity) error {
	now := nowUTC()
	childIDR, childUSD := nullPrices(a.ChildPrice)
	_, err := db.exec(ctx, `INSERT INTO activities (`+activityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			adult_price_idr = excluded.adult_price_idr,
			adult_price_usd = excluded.adult_price_usd,
			child_price_idr = excluded.child_price_idr,
			child_price_usd = excluded.child_price_usd,
			max_group_size = excluded.max_group_size,
			instant_booking = excluded.instant_booking,
			cancellation_policy = excluded.cancellation_policy,
			updated_at = excluded.updated_at`,
		a.ID, a.Name, a.AdultPrice.IDR, a.AdultPrice.USD, childIDR, childUSD,
		a.MaxGroupSize, a.InstantBooking, string(a.CancellationPolicy), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert activity %s: %w", a.ID, err)
	}
	return nil
}

// UpsertAvailability inserts a slot or refreshes its schedule and prices.
// Capacity and status of an existing slot belong to the ledger and are kept.
func (db *DB) UpsertAvailability(ctx context.Context, a *models.Availability) error {
	now := nowUTC()
	if a.Status == "" {
		a.Status = models.SlotOpen
	}
	adultIDR, adultUSD := nullPrices(a.AdultPriceOverride)
	childIDR, childUSD := nullPrices(a.ChildPriceOverride)
	_, err := db.exec(ctx, `INSERT INTO availabilities (`+availabilityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			adult_override_idr = excluded.adult_override_idr,
			adult_override_usd = excluded.adult_override_usd,
			child_override_idr = excluded.child_override_idr,
			child_override_usd = excluded.child_override_usd,
			updated_at = excluded.updated_at`,
		a.ID, a.ActivityID, a.Date, a.StartTime, a.EndTime, a.TotalSpots, a.AvailableSpots, string(a.Status),
		adultIDR, adultUSD, childIDR, childUSD, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert availability %s: %w", a.ID, err)
	}
	return nil
}

// Catalog is the fixture format for activities and their slots.
type Catalog struct {
	Activities     []models.Activity     `yaml:"activities"`
	Availabilities []models.Availability `yaml:"availabilities"`
}

func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

func (c *Catalog) Validate() error {
	activities := make(map[string]bool, len(c.Activities))
	for i := range c.Activities {
		a := &c.Activities[i]
		if a.ID == "" {
			return fmt.Errorf("activity %q has no id", a.Name)
		}
		if activities[a.ID] {
			return fmt.Errorf("duplicate activity id: %s", a.ID)
		}
		if a.MaxGroupSize <= 0 {
			return fmt.Errorf("activity %s: max_group_size must be positive", a.ID)
		}
		if a.CancellationPolicy == "" {
			a.CancellationPolicy = models.PolicyFlexible
		}
		if !a.CancellationPolicy.Valid() {
			return fmt.Errorf("activity %s: unknown cancellation policy %q", a.ID, a.CancellationPolicy)
		}
		activities[a.ID] = true
	}

	slots := make(map[string]bool, len(c.Availabilities))
	for i := range c.Availabilities {
		s := &c.Availabilities[i]
		if s.ID == "" || slots[s.ID] {
			return fmt.Errorf("availability id %q missing or duplicated", s.ID)
		}
		if !activities[s.ActivityID] {
			return fmt.Errorf("availability %s references unknown activity %s", s.ID, s.ActivityID)
		}
		if _, err := time.Parse(models.DateLayout, s.Date); err != nil {
			return fmt.Errorf("availability %s: bad date %q", s.ID, s.Date)
		}
		if s.TotalSpots <= 0 {
			return fmt.Errorf("availability %s: total_spots must be positive", s.ID)
		}
		if s.AvailableSpots == 0 && s.Status != models.SlotFull {
			s.AvailableSpots = s.TotalSpots
		}
		if s.AvailableSpots < 0 || s.AvailableSpots > s.TotalSpots {
			return fmt.Errorf("availability %s: available_spots out of range", s.ID)
		}
		if s.Status == "" {
			s.Status = models.SlotOpen
		}
		slots[s.ID] = true
	}
	return nil
}

// SeedCatalog upserts every activity and slot of the catalog.
func (db *DB) SeedCatalog(ctx context.Context, cat *Catalog) error {
	for i := range cat.Activities {
		if err := db.UpsertActivity(ctx, &cat.Activities[i]); err != nil {
			return err
		}
	}
	for i := range cat.Availabilities {
		if err := db.UpsertAvailability(ctx, &cat.Availabilities[i]); err != nil {
			return err
		}
	}
	db.logger.Info().
		Int("activities", len(cat.Activities)).
		Int("availabilities", len(cat.Availabilities)).
		Msg("Catalog seeded")
	return nil
}
