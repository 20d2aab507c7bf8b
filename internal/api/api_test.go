package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/database"
	"slotbook/internal/domain"
	"slotbook/internal/events"
	"slotbook/internal/models"
	"slotbook/internal/repository"
	"slotbook/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret     = "jwt-test-secret"
	testIssuer        = "slotbook-test"
	testWebhookSecret = "whsec_api"
)

var (
	customer = models.Actor{ID: "cust-1", Email: "ayu@example.com", Role: models.RoleCustomer}
	stranger = models.Actor{ID: "cust-2", Email: "other@example.com", Role: models.RoleCustomer}
	operator = models.Actor{ID: "op-1", Role: models.RoleOperator}
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubProvider settles nothing by itself; tests flip intent status.
type stubProvider struct {
	mu      sync.Mutex
	intents map[string]*domain.Intent
	byKey   map[string]string
}

func newStubProvider() *stubProvider {
	return &stubProvider{intents: make(map[string]*domain.Intent), byKey: make(map[string]string)}
}

func (p *stubProvider) CreateIntent(_ context.Context, req domain.IntentRequest) (*domain.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.byKey[req.IdempotencyKey]; ok {
		return p.intents[id], nil
	}
	id := fmt.Sprintf("pi_api_%d", len(p.intents)+1)
	in := &domain.Intent{ID: id, ClientToken: id + "_secret", Amount: req.Amount, Currency: req.Currency, Status: models.PaymentPending}
	p.intents[id] = in
	p.byKey[req.IdempotencyKey] = id
	return in, nil
}

func (p *stubProvider) GetIntent(_ context.Context, id string) (*domain.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.intents[id]
	if !ok {
		return nil, domain.NotFoundf("intent %s", id)
	}
	cp := *in
	return &cp, nil
}

func (p *stubProvider) Refund(_ context.Context, req domain.RefundRequest) (*domain.Refund, error) {
	return &domain.Refund{ID: "re_" + req.IdempotencyKey, Status: "pending"}, nil
}

func (p *stubProvider) succeed(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents[id].Status = models.PaymentCompleted
}

type apiEnv struct {
	db       *database.DB
	provider *stubProvider
	limits   *repository.MemoryStore
	auth     *HTTPAuth
	router   *gin.Engine
}

func testAPIConfig() *config.Config {
	return &config.Config{
		Redis: config.RedisConfig{EventTTL: time.Hour},
		API: config.APIConfig{
			Auth:      config.APIAuthConfig{JWTSecret: testJWTSecret, Issuer: testIssuer},
			RateLimit: config.APIRateLimitConfig{RPS: 1000, Burst: 1000, BookingsPerHour: 3},
		},
		Payment: config.PaymentConfig{WebhookSecret: testWebhookSecret, WebhookTolerance: 5 * time.Minute},
		Booking: config.BookingConfig{
			ReferencePrefix:   "BK",
			HoldTTL:           30 * time.Minute,
			ReferenceRetries:  5,
			ServiceFeePercent: 5,
			ChildPriceRatio:   0.7,
			DefaultCurrency:   "IDR",
			Timezone:          "UTC",
		},
		Worker: config.WorkerConfig{ReconcileAfter: 15 * time.Minute, BatchSize: 50},
	}
}

func setupAPI(t *testing.T) *apiEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"}, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cat := &database.Catalog{
		Activities: []models.Activity{{
			ID:                 "act-1",
			Name:               "Mount Batur sunrise trek",
			AdultPrice:         models.PriceSet{IDR: 500000, USD: 3200},
			MaxGroupSize:       10,
			InstantBooking:     true,
			CancellationPolicy: models.PolicyModerate,
		}},
		Availabilities: []models.Availability{
			{ID: "slot-1", ActivityID: "act-1", Date: "2030-06-01", StartTime: "04:00", TotalSpots: 10},
			{ID: "slot-old", ActivityID: "act-1", Date: "2020-01-01", StartTime: "04:00", TotalSpots: 10},
		},
	}
	require.NoError(t, cat.Validate())
	require.NoError(t, db.SeedCatalog(context.Background(), cat))

	cfg := testAPIConfig()
	env := &apiEnv{db: db, provider: newStubProvider(), limits: repository.NewMemoryStore()}
	svc := service.New(cfg, service.Deps{
		Store:       db,
		Provider:    env.provider,
		Events:      events.NewEventBus(),
		Idempotency: repository.NewMemoryStore(),
		Logger:      &logger,
	})
	env.auth = NewHTTPAuth(cfg.API.Auth)
	env.router = NewRouter(cfg.API, RouterDeps{Services: svc, Limits: env.limits, DB: db, Logger: &logger})
	return env
}

func (e *apiEnv) token(t *testing.T, actor models.Actor) string {
	t.Helper()
	tok, err := e.auth.IssueToken(actor, time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends a JSON request as actor; a zero actor sends no token.
func (e *apiEnv) do(t *testing.T, actor models.Actor, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor.ID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, actor))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func bookingBody(slotID string, adults int) gin.H {
	return gin.H{
		"activity_id":     "act-1",
		"availability_id": slotID,
		"adults":          adults,
		"contact_name":    "Ayu Lestari",
		"contact_email":   "ayu@example.com",
		"contact_phone":   "+62 812 0000 0000",
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e *apiEnv) createBooking(t *testing.T) models.Booking {
	t.Helper()
	rec := e.do(t, customer, http.MethodPost, "/api/v1/bookings", bookingBody("slot-1", 2))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[models.Booking](t, rec)
}
