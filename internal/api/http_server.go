package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/domain"
	"slotbook/internal/metrics"
	"slotbook/internal/models"
	"slotbook/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps are what the HTTP surface needs from the rest of the process.
type RouterDeps struct {
	Services *service.Services
	Limits   domain.RateLimitStore
	DB       Pinger
	Logger   *zerolog.Logger

	// RateLimiter is created from cfg.RateLimit when nil.
	RateLimiter *RateLimiter
}

// NewRouter builds the public API. Every /api/v1 route except the provider
// webhook requires a bearer token.
func NewRouter(cfg config.APIConfig, d RouterDeps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	httpLogger := logger.With().Str("component", "http").Logger()

	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, rec any) {
		httpLogger.Error().Interface("panic", rec).Str("path", c.Request.URL.Path).Msg("handler panic")
		abortError(c, http.StatusInternalServerError, "internal", "internal error")
	}))
	r.Use(requestLogger(&httpLogger))

	h := &handlers{svc: d.Services, db: d.DB, logger: &httpLogger}
	auth := NewHTTPAuth(cfg.Auth)
	limiter := d.RateLimiter
	if limiter == nil {
		limiter = NewRateLimiter(cfg.RateLimit)
	}

	r.GET("/healthz", h.health)

	v1 := r.Group("/api/v1")
	v1.POST("/webhooks/payments", limiter.Middleware(), h.paymentWebhook)

	authed := v1.Group("", auth.Authenticate(), limiter.Middleware())
	authed.POST("/quotes", h.quote)
	authed.POST("/bookings", bookingQuota(d.Limits, cfg.RateLimit.BookingsPerHour, &httpLogger), h.createBooking)
	authed.GET("/bookings/:reference", h.getBooking)
	authed.POST("/bookings/:reference/cancel", h.cancelBooking)
	authed.POST("/bookings/:reference/payment-intent", h.createIntent)
	authed.POST("/payments/:intent_id/confirm", h.confirmPayment)

	staff := authed.Group("", RequireRole(models.RoleOperator))
	staff.POST("/bookings/:reference/confirm", h.confirmBooking)
	staff.POST("/bookings/:reference/complete", h.completeBooking)
	staff.POST("/bookings/:reference/no-show", h.noShow)

	return r
}

func requestLogger(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		dur := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.ObserveHTTP(c.Request.Method, route, status, dur)

		ev := logger.Debug()
		if status >= http.StatusInternalServerError {
			ev = logger.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", dur).
			Str("remote", c.ClientIP()).
			Msg("http request")
	}
}

// HTTPServer wraps the router in an http.Server with the configured timeouts.
type HTTPServer struct {
	server *http.Server
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIHTTPConfig, handler http.Handler, logger *zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      30 * time.Second,
		},
		logger: logger,
	}
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
