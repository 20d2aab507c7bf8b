package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "slotbook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Spot reservations by outcome.",
		},
		[]string{"result"},
	)

	spotsReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spots_released_total",
			Help:      "Spots returned to slots by cancellations and expiries.",
		},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking state transitions.",
		},
		[]string{"from", "to"},
	)

	providerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_provider_requests_total",
			Help:      "Payment provider calls by operation and outcome.",
		},
		[]string{"operation", "result"},
	)

	providerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_provider_request_duration_seconds",
			Help:      "Payment provider call latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Payment webhook deliveries by type and outcome.",
		},
		[]string{"type", "result"},
	)

	sweptItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_items_total",
			Help:      "Items handled by background sweeps.",
		},
		[]string{"job"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by sink and outcome.",
		},
		[]string{"sink", "result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			reservations, spotsReleased, bookingTransitions,
			providerRequests, providerDuration,
			webhookEvents, sweptItems, notifications,
		)
	})
}

func ObserveHTTP(method, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// IncReservation records a reserve attempt: ok, capacity, closed, not_found or error.
func IncReservation(result string) {
	reservations.WithLabelValues(result).Inc()
}

func AddSpotsReleased(n int) {
	spotsReleased.Add(float64(n))
}

func IncBookingTransition(from, to string) {
	bookingTransitions.WithLabelValues(from, to).Inc()
}

func ObserveProvider(operation string, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	providerRequests.WithLabelValues(operation, result).Inc()
	providerDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func IncWebhook(eventType, result string) {
	webhookEvents.WithLabelValues(eventType, result).Inc()
}

func AddSwept(job string, n int) {
	sweptItems.WithLabelValues(job).Add(float64(n))
}

func IncNotification(sink, result string) {
	notifications.WithLabelValues(sink, result).Inc()
}
