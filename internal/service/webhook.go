package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/domain"
	"slotbook/internal/logging"
	"slotbook/internal/metrics"
	"slotbook/internal/models"
	"slotbook/internal/payment"

	"github.com/rs/zerolog"
)

type WebhookResult struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
}

// WebhookReconciler applies provider deliveries. Every handler is safe to run
// again for the same event, so the processed-event cache only saves work.
type WebhookReconciler struct {
	settler   *settler
	processed domain.IdempotencyStore
	secret    string
	tolerance time.Duration
	eventTTL  time.Duration
	now       func() time.Time
	logger    *zerolog.Logger
}

func NewWebhookReconciler(settler *settler, processed domain.IdempotencyStore, cfg config.PaymentConfig, eventTTL time.Duration, logger *zerolog.Logger) *WebhookReconciler {
	if eventTTL <= 0 {
		eventTTL = 72 * time.Hour
	}
	return &WebhookReconciler{
		settler:   settler,
		processed: processed,
		secret:    cfg.WebhookSecret,
		tolerance: cfg.WebhookTolerance,
		eventTTL:  eventTTL,
		now:       settler.now,
		logger:    logging.Component(logger, "webhooks"),
	}
}

// Handle verifies and applies one delivery. Signature and payload errors are
// final; anything else is returned so the provider redelivers.
func (w *WebhookReconciler) Handle(ctx context.Context, signature string, body []byte) (*WebhookResult, error) {
	if err := payment.VerifySignature(signature, body, w.secret, w.tolerance, w.now()); err != nil {
		metrics.IncWebhook("unknown", "rejected")
		w.logger.Warn().Bool("security", true).Err(err).Int("body_bytes", len(body)).Msg("Webhook signature rejected")
		return nil, err
	}

	ev, err := payment.ParseEvent(body)
	if err != nil {
		metrics.IncWebhook("unknown", "invalid")
		return nil, err
	}
	res := &WebhookResult{EventID: ev.ID, Type: ev.Type}
	log := w.logger.With().Str("event_id", ev.ID).Str("event_type", ev.Type).Logger()

	if w.processed != nil {
		seen, err := w.processed.IsProcessed(ctx, ev.ID)
		if err != nil {
			log.Warn().Err(err).Msg("Idempotency check failed, processing anyway")
		} else if seen {
			metrics.IncWebhook(ev.Type, "duplicate")
			res.Duplicate = true
			return res, nil
		}
	}

	st, known := settlementFor(ev)
	if !known {
		metrics.IncWebhook(ev.Type, "ignored")
		log.Debug().Msg("Ignoring unhandled webhook event")
		res.Ignored = true
		return res, nil
	}

	if _, err := w.settler.settle(ctx, ev.Data.IntentID, st); err != nil {
		metrics.IncWebhook(ev.Type, "error")
		if errors.Is(err, domain.ErrNotFound) {
			// The intent may belong to a payment row not yet visible here.
			log.Warn().Str("intent_id", ev.Data.IntentID).Msg("Webhook for unknown intent")
			return nil, fmt.Errorf("reconcile event %s: intent %s not found yet", ev.ID, ev.Data.IntentID)
		}
		log.Error().Err(err).Msg("Webhook processing failed")
		return nil, fmt.Errorf("reconcile event %s: %w", ev.ID, err)
	}

	if w.processed != nil {
		if err := w.processed.MarkProcessed(ctx, ev.ID, w.eventTTL); err != nil {
			log.Warn().Err(err).Msg("Failed to mark event processed")
		}
	}
	metrics.IncWebhook(ev.Type, "applied")
	log.Info().Str("intent_id", ev.Data.IntentID).Msg("Webhook applied")
	return res, nil
}

func settlementFor(ev *payment.Event) (settlement, bool) {
	switch ev.Type {
	case payment.EventIntentSucceeded:
		return settlement{Status: models.PaymentCompleted}, true
	case payment.EventIntentFailed:
		return settlement{Status: models.PaymentFailed, FailureReason: ev.Data.FailureReason}, true
	case payment.EventIntentProcessing:
		return settlement{Status: models.PaymentProcessing}, true
	case payment.EventChargeRefunded:
		return settlement{
			Status:               models.PaymentRefunded,
			RefundProviderAmount: ev.Data.RefundAmount,
			RefundID:             ev.Data.RefundID,
		}, true
	}
	return settlement{}, false
}
