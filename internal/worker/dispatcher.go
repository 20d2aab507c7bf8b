package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"slotbook/internal/events"
	"slotbook/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Sink delivers one event to an external system.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev *events.Event) error
}

// Dispatcher fans bus events out to sinks on background workers. Delivery is
// fire-and-forget for the publisher: a full queue drops the event and a sink
// that keeps failing gets the event pushed to the Redis dead-letter list.
type Dispatcher struct {
	sinks         []Sink
	queue         chan *events.Event
	retryPolicy   RetryPolicy
	redis         *redis.Client
	deadLetterKey string
	logger        *zerolog.Logger
	wg            sync.WaitGroup
}

type deadLetter struct {
	Sink     string        `json:"sink"`
	Error    string        `json:"error"`
	Event    *events.Event `json:"event"`
	FailedAt time.Time     `json:"failed_at"`
}

// NewDispatcher builds a dispatcher with sane defaults.
func NewDispatcher(sinks []Sink, queueSize int, retry RetryPolicy, redisClient *redis.Client, logger *zerolog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 500 * time.Millisecond
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 30 * time.Second
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Dispatcher{
		sinks:         sinks,
		queue:         make(chan *events.Event, queueSize),
		retryPolicy:   retry,
		redis:         redisClient,
		deadLetterKey: "slotbook:notify:deadletter",
		logger:        logger,
	}
}

// Handle is an events.EventHandler. It never blocks the publisher.
func (d *Dispatcher) Handle(ev *events.Event) error {
	select {
	case d.queue <- ev:
	default:
		d.logger.Warn().Str("event_type", ev.Type).Str("event_id", ev.ID).Msg("Notification queue full, event dropped")
		metrics.IncNotification("queue", "dropped")
	}
	return nil
}

// Start launches workers; they stop when ctx is done.
func (d *Dispatcher) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-d.queue:
					d.dispatch(ctx, ev)
				}
			}
		}()
	}
	d.logger.Info().Int("workers", workers).Int("sinks", len(d.sinks)).Msg("Notification dispatcher started")
}

// Wait blocks until all workers have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, ev *events.Event) {
	for _, sink := range d.sinks {
		if err := d.deliverWithRetry(ctx, sink, ev); err != nil {
			d.logger.Error().Err(err).
				Str("sink", sink.Name()).
				Str("event_type", ev.Type).
				Str("event_id", ev.ID).
				Msg("Notification delivery failed")
			metrics.IncNotification(sink.Name(), "failed")
			d.pushDeadLetter(ctx, sink.Name(), ev, err)
			continue
		}
		metrics.IncNotification(sink.Name(), "ok")
	}
}

func (d *Dispatcher) deliverWithRetry(ctx context.Context, sink Sink, ev *events.Event) error {
	var err error
	for attempt := 1; attempt <= d.retryPolicy.MaxRetries; attempt++ {
		if err = sink.Deliver(ctx, ev); err == nil {
			return nil
		}
		if attempt == d.retryPolicy.MaxRetries {
			break
		}
		timer := time.NewTimer(d.retryPolicy.NextDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func (d *Dispatcher) pushDeadLetter(ctx context.Context, sink string, ev *events.Event, cause error) {
	if d.redis == nil {
		return
	}
	data, err := json.Marshal(deadLetter{Sink: sink, Error: cause.Error(), Event: ev, FailedAt: time.Now().UTC()})
	if err != nil {
		d.logger.Error().Err(err).Str("event_id", ev.ID).Msg("Encode dead letter")
		return
	}
	// The worker ctx may already be cancelled on shutdown.
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := d.redis.LPush(pushCtx, d.deadLetterKey, data).Err(); err != nil {
		d.logger.Error().Err(err).Str("event_id", ev.ID).Msg("Dead letter push failed")
	}
}
