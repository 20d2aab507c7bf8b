// Package payment talks to the card payment provider over its REST API.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/domain"
	"slotbook/internal/metrics"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
)

// Client implements domain.PaymentProvider. Every call is bounded by the
// configured timeout in addition to the caller's context.
type Client struct {
	baseURL    string
	secretKey  string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zerolog.Logger
}

func NewClient(cfg config.PaymentConfig, httpClient *http.Client, logger *zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger,
	}
}

type intentBody struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type intentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	LastError    *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type refundBody struct {
	PaymentIntent string `json:"payment_intent"`
	Amount        int64  `json:"amount"`
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.Intent, error) {
	body := intentBody{
		Amount:   req.Amount,
		Currency: strings.ToLower(string(req.Currency)),
		Metadata: map[string]string{"booking_reference": req.BookingReference},
	}
	var resp intentResponse
	if err := c.do(ctx, "create_intent", http.MethodPost, "/v1/payment_intents", req.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}
	return resp.toIntent(), nil
}

func (c *Client) GetIntent(ctx context.Context, intentID string) (*domain.Intent, error) {
	var resp intentResponse
	if err := c.do(ctx, "get_intent", http.MethodGet, "/v1/payment_intents/"+intentID, "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.toIntent(), nil
}

func (c *Client) Refund(ctx context.Context, req domain.RefundRequest) (*domain.Refund, error) {
	body := refundBody{PaymentIntent: req.IntentID, Amount: req.Amount}
	var resp refundResponse
	if err := c.do(ctx, "refund", http.MethodPost, "/v1/refunds", req.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}
	return &domain.Refund{ID: resp.ID, Status: resp.Status}, nil
}

func (r *intentResponse) toIntent() *domain.Intent {
	intent := &domain.Intent{
		ID:          r.ID,
		ClientToken: r.ClientSecret,
		Amount:      r.Amount,
		Currency:    models.Currency(strings.ToUpper(r.Currency)),
		Status:      MapIntentStatus(r.Status, r.LastError != nil),
	}
	if r.LastError != nil {
		intent.FailureReason = r.LastError.Message
	}
	return intent
}

// MapIntentStatus translates provider intent states to local payment states.
func MapIntentStatus(status string, hasError bool) models.PaymentStatus {
	switch status {
	case "succeeded":
		return models.PaymentCompleted
	case "processing":
		return models.PaymentProcessing
	case "canceled":
		return models.PaymentFailed
	case "requires_payment_method":
		if hasError {
			return models.PaymentFailed
		}
		return models.PaymentPending
	default:
		return models.PaymentPending
	}
}

func (c *Client) do(ctx context.Context, op, method, path, idempotencyKey string, in, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveProvider(op, err, time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if in != nil {
		raw, mErr := json.Marshal(in)
		if mErr != nil {
			return fmt.Errorf("encode %s request: %w", op, mErr)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ProviderError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.ProviderError(op, err)
	}

	if resp.StatusCode >= 300 {
		var apiErr errorResponse
		_ = json.Unmarshal(raw, &apiErr)
		msg := apiErr.Error.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		c.logger.Warn().
			Str("operation", op).
			Int("status", resp.StatusCode).
			Str("error_type", apiErr.Error.Type).
			Msg("Payment provider rejected request")
		if resp.StatusCode == http.StatusNotFound {
			return domain.NotFoundf("provider %s: %s", op, msg)
		}
		return domain.ProviderError(op, fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return domain.ProviderError(op, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}
