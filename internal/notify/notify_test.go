package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"slotbook/internal/config"
	"slotbook/internal/events"
	"slotbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func bookingEvent(t *testing.T, eventType string) *events.Event {
	t.Helper()
	ev, err := events.NewJSONEvent(eventType, events.BookingEventPayload{
		BookingID:    "b-1",
		Reference:    "BK-2030-ABCDEF",
		ActivityName: "Sunrise trek",
		Date:         "2030-06-01",
		StartTime:    "05:00",
		Status:       "pending",
		Adults:       2,
		Children:     1,
		TotalAmount:  1312500,
		Currency:     "IDR",
		ContactName:  "Dewi",
	})
	require.NoError(t, err)
	return &ev
}

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w)
	ev := bookingEvent(t, events.EventBookingCreated)

	require.NoError(t, sink.Deliver(context.Background(), ev))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "b-1", string(w.msgs[0].Key))
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)
	assert.Equal(t, events.EventBookingCreated, string(w.msgs[0].Headers[0].Value))

	var decoded events.Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)

	w.err = errors.New("broker down")
	assert.Error(t, sink.Deliver(context.Background(), ev))

	assert.NoError(t, sink.Close())
	assert.True(t, w.closed)
	assert.Equal(t, "kafka", sink.Name())
}

func TestKafkaSinkKeyFallsBackToEventID(t *testing.T) {
	w := &fakeWriter{}
	ev := &events.Event{ID: "evt-1", Type: "other", Payload: json.RawMessage(`{}`)}
	require.NoError(t, NewKafkaSink(w).Deliver(context.Background(), ev))
	assert.Equal(t, "evt-1", string(w.msgs[0].Key))
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter(config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "slotbook.events"})
	assert.Equal(t, "slotbook.events", w.Topic)
	assert.Equal(t, kafka.RequireOne, w.RequiredAcks)
}

func TestTelegramSink(t *testing.T) {
	sender := &fakeSender{}
	sink := NewTelegramSink(sender, 42)

	require.NoError(t, sink.Deliver(context.Background(), bookingEvent(t, events.EventBookingCreated)))
	require.Len(t, sender.sent, 1)
	msg := sender.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Contains(t, msg.Text, "New booking: BK-2030-ABCDEF")
	assert.Contains(t, msg.Text, "Total: 1312500 IDR")

	require.NoError(t, sink.Deliver(context.Background(), bookingEvent(t, events.EventPaymentCompleted)))
	assert.Len(t, sender.sent, 1)

	sender.err = errors.New("flood wait")
	assert.Error(t, sink.Deliver(context.Background(), bookingEvent(t, events.EventBookingCancelled)))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "48.50 USD", FormatAmount(4850, models.CurrencyUSD))
	assert.Equal(t, "1312500 IDR", FormatAmount(1312500, models.CurrencyIDR))
}
