package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/database"
	"slotbook/internal/domain"
	"slotbook/internal/events"
	"slotbook/internal/models"
	"slotbook/internal/payment"
	"slotbook/internal/promo"
	"slotbook/internal/reference"
	"slotbook/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testWebhookSecret = "whsec_test"
	slotDate          = "2030-06-01"
)

var customer = models.Actor{ID: "cust-1", Email: "ayu@example.com", Role: models.RoleCustomer}
var operator = models.Actor{ID: "op-1", Role: models.RoleOperator}

// fakeProvider keeps intents in memory and honours idempotency keys.
type fakeProvider struct {
	mu           sync.Mutex
	byKey        map[string]*domain.Intent
	intents      map[string]*domain.Intent
	refunds      []domain.RefundRequest
	refundStatus string
	refundErr    error
	createCalls  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		byKey:        make(map[string]*domain.Intent),
		intents:      make(map[string]*domain.Intent),
		refundStatus: "pending",
	}
}

func (f *fakeProvider) CreateIntent(_ context.Context, req domain.IntentRequest) (*domain.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if in, ok := f.byKey[req.IdempotencyKey]; ok {
		return in, nil
	}
	id := fmt.Sprintf("pi_%d", len(f.intents)+1)
	in := &domain.Intent{
		ID:          id,
		ClientToken: id + "_secret",
		Amount:      req.Amount,
		Currency:    req.Currency,
		Status:      models.PaymentPending,
	}
	f.byKey[req.IdempotencyKey] = in
	f.intents[id] = in
	return in, nil
}

func (f *fakeProvider) GetIntent(_ context.Context, id string) (*domain.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.intents[id]
	if !ok {
		return nil, domain.NotFoundf("intent %s", id)
	}
	cp := *in
	return &cp, nil
}

func (f *fakeProvider) Refund(_ context.Context, req domain.RefundRequest) (*domain.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	f.refunds = append(f.refunds, req)
	return &domain.Refund{ID: fmt.Sprintf("re_%d", len(f.refunds)), Status: f.refundStatus}, nil
}

func (f *fakeProvider) setStatus(id string, st models.PaymentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[id].Status = st
}

func (f *fakeProvider) refundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refunds)
}

type testEnv struct {
	db       *database.DB
	svc      *Services
	provider *fakeProvider
	idem     *repository.MemoryStore

	mu     sync.Mutex
	now    time.Time
	events []string
}

func (e *testEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

func (e *testEnv) published() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func testConfig() *config.Config {
	return &config.Config{
		Redis: config.RedisConfig{EventTTL: time.Hour},
		Payment: config.PaymentConfig{
			WebhookSecret:    testWebhookSecret,
			WebhookTolerance: 5 * time.Minute,
		},
		Booking: config.BookingConfig{
			ReferencePrefix:   "BK",
			HoldTTL:           30 * time.Minute,
			ReferenceRetries:  5,
			ServiceFeePercent: 5,
			ChildPriceRatio:   0.7,
			DefaultCurrency:   "IDR",
			Timezone:          "UTC",
		},
		Worker: config.WorkerConfig{
			ReconcileAfter: 15 * time.Minute,
			BatchSize:      50,
		},
	}
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"}, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		db:       db,
		provider: newFakeProvider(),
		idem:     repository.NewMemoryStore(),
		now:      time.Date(2030, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	seedCatalog(t, db)

	bus := events.NewEventBus()
	bus.Subscribe(events.Wildcard, func(ev *events.Event) error {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.events = append(env.events, ev.Type)
		return nil
	})

	cfg := testConfig()
	env.svc = New(cfg, Deps{
		Store:       db,
		Provider:    env.provider,
		Events:      bus,
		Promos:      promo.NewStaticResolver([]models.DiscountRule{{Code: "BALI10", PercentOff: 10}}),
		Idempotency: env.idem,
		References:  reference.NewGenerator("BK", 42, env.clock),
		Now:         env.clock,
		Logger:      &logger,
	})
	return env
}

// seedCatalog creates an instant-booking activity with slot-1 (10 spots) and
// slot-tight (1 spot), and an on-request activity with slot-req.
func seedCatalog(t *testing.T, db *database.DB) {
	t.Helper()
	cat := &database.Catalog{
		Activities: []models.Activity{
			{
				ID:                 "act-1",
				Name:               "Ubud rice terrace walk",
				AdultPrice:         models.PriceSet{IDR: 500000, USD: 3200},
				ChildPrice:         &models.PriceSet{IDR: 250000, USD: 1600},
				MaxGroupSize:       10,
				InstantBooking:     true,
				CancellationPolicy: models.PolicyModerate,
			},
			{
				ID:                 "act-req",
				Name:               "Private batik class",
				AdultPrice:         models.PriceSet{IDR: 800000, USD: 5000},
				MaxGroupSize:       4,
				CancellationPolicy: models.PolicyStrict,
			},
		},
		Availabilities: []models.Availability{
			{ID: "slot-1", ActivityID: "act-1", Date: slotDate, StartTime: "08:00", TotalSpots: 10},
			{ID: "slot-tight", ActivityID: "act-1", Date: slotDate, StartTime: "14:00", TotalSpots: 1},
			{ID: "slot-req", ActivityID: "act-req", Date: slotDate, StartTime: "10:00", TotalSpots: 4},
		},
	}
	require.NoError(t, cat.Validate())
	require.NoError(t, db.SeedCatalog(context.Background(), cat))
}

func bookingRequest(slotID string, adults, children int) CreateBookingRequest {
	activityID := "act-1"
	if slotID == "slot-req" {
		activityID = "act-req"
	}
	return CreateBookingRequest{
		QuoteRequest: QuoteRequest{
			ActivityID:     activityID,
			AvailabilityID: slotID,
			Adults:         adults,
			Children:       children,
		},
		ContactName:  "Ayu Lestari",
		ContactEmail: "ayu@example.com",
		ContactPhone: "+62 812 0000 0000",
	}
}

func (e *testEnv) book(t *testing.T, slotID string, adults, children int) *models.Booking {
	t.Helper()
	b, err := e.svc.Bookings.CreateBooking(context.Background(), customer, bookingRequest(slotID, adults, children))
	require.NoError(t, err)
	return b
}

func (e *testEnv) spots(t *testing.T, slotID string) int {
	t.Helper()
	slot, err := e.db.GetAvailability(context.Background(), slotID)
	require.NoError(t, err)
	return slot.AvailableSpots
}

func (e *testEnv) booking(t *testing.T, ref string) *models.Booking {
	t.Helper()
	b, err := e.db.GetBookingByReference(context.Background(), ref)
	require.NoError(t, err)
	return b
}

func (e *testEnv) payment(t *testing.T, intentID string) *models.Payment {
	t.Helper()
	p, err := e.db.GetPaymentByIntent(context.Background(), intentID)
	require.NoError(t, err)
	return p
}

// webhook signs and delivers one provider event.
func (e *testEnv) webhook(t *testing.T, id, eventType string, data payment.EventData) (*WebhookResult, error) {
	t.Helper()
	body, err := json.Marshal(payment.Event{ID: id, Type: eventType, Created: e.clock().Unix(), Data: data})
	require.NoError(t, err)
	return e.svc.Webhooks.Handle(context.Background(), payment.Sign(body, testWebhookSecret, e.clock()), body)
}

// paidBooking books slot-1 for two adults and settles the payment through the
// webhook.
func (e *testEnv) paidBooking(t *testing.T) (*models.Booking, *IntentResult) {
	t.Helper()
	b := e.book(t, "slot-1", 2, 0)
	intent, err := e.svc.Payments.CreateIntent(context.Background(), customer, b.Reference, "")
	require.NoError(t, err)
	_, err = e.webhook(t, "evt_paid_"+b.Reference, payment.EventIntentSucceeded, payment.EventData{IntentID: intent.IntentID})
	require.NoError(t, err)
	return e.booking(t, b.Reference), intent
}
