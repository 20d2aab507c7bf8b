package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"slotbook/internal/domain"
	"slotbook/internal/models"
	"slotbook/internal/payment"
	"slotbook/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const maxWebhookBody = 1 << 20

type handlers struct {
	svc    *service.Services
	db     Pinger
	logger *zerolog.Logger
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type intentRequest struct {
	Currency string `json:"currency"`
}

func (h *handlers) health(c *gin.Context) {
	if h.db != nil {
		if err := h.db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) quote(c *gin.Context) {
	var req service.QuoteRequest
	if !bindJSON(c, &req) {
		return
	}
	q, err := h.svc.Bookings.Quote(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h *handlers) createBooking(c *gin.Context) {
	var req service.CreateBookingRequest
	if !bindJSON(c, &req) {
		return
	}
	b, err := h.svc.Bookings.CreateBooking(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *handlers) getBooking(c *gin.Context) {
	b, err := h.svc.Bookings.GetBooking(c.Request.Context(), actorFrom(c), c.Param("reference"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *handlers) cancelBooking(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	b, err := h.svc.Lifecycle.Cancel(c.Request.Context(), actorFrom(c), c.Param("reference"), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *handlers) confirmBooking(c *gin.Context) {
	h.transition(c, h.svc.Lifecycle.Confirm)
}

func (h *handlers) completeBooking(c *gin.Context) {
	h.transition(c, h.svc.Lifecycle.Complete)
}

func (h *handlers) noShow(c *gin.Context) {
	h.transition(c, h.svc.Lifecycle.NoShow)
}

func (h *handlers) transition(c *gin.Context, fn func(ctx context.Context, actor models.Actor, ref string) (*models.Booking, error)) {
	b, err := fn(c.Request.Context(), actorFrom(c), c.Param("reference"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *handlers) createIntent(c *gin.Context) {
	var req intentRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.Payments.CreateIntent(c.Request.Context(), actorFrom(c), c.Param("reference"), req.Currency)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *handlers) confirmPayment(c *gin.Context) {
	p, err := h.svc.Payments.ConfirmPayment(c.Request.Context(), actorFrom(c), c.Param("intent_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// paymentWebhook answers 200 for applied and already applied events, 400 for
// deliveries that will never succeed and 500 so the provider retries.
func (h *handlers) paymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		abortError(c, http.StatusBadRequest, "validation", "unreadable body")
		return
	}
	res, err := h.svc.Webhooks.Handle(c.Request.Context(), c.GetHeader(payment.SignatureHeader), body)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSignature):
			abortError(c, http.StatusBadRequest, "signature", "signature verification failed")
		case errors.Is(err, domain.ErrValidation):
			abortError(c, http.StatusBadRequest, "validation", err.Error())
		default:
			abortError(c, http.StatusInternalServerError, "retry", "processing failed, retry later")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "result": res})
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		abortError(c, http.StatusBadRequest, "validation", "invalid JSON body")
		return false
	}
	return true
}

// fail maps domain errors to statuses. Only server faults are logged.
func (h *handlers) fail(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("route", c.FullPath()).Msg("request failed")
		msg := "internal error"
		if status == http.StatusBadGateway {
			msg = "payment provider unavailable, retry later"
		}
		abortError(c, status, code, msg)
		return
	}
	abortError(c, status, code, err.Error())
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity, "validation"
	case errors.Is(err, domain.ErrSlotClosed):
		return http.StatusBadRequest, "slot_closed"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrCapacity):
		return http.StatusConflict, "capacity"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrAuthorization):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, domain.ErrSignature):
		return http.StatusBadRequest, "signature"
	case errors.Is(err, domain.ErrPaymentProvider):
		return http.StatusBadGateway, "provider"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func abortError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message, "code": code})
}
