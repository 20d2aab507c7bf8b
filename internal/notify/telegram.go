package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"slotbook/internal/events"
	"slotbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
)

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink posts booking lifecycle changes to the operators' chat.
type TelegramSink struct {
	bot    messageSender
	chatID int64
}

func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return bot, nil
}

func NewTelegramSink(bot messageSender, chatID int64) *TelegramSink {
	return &TelegramSink{bot: bot, chatID: chatID}
}

func (s *TelegramSink) Name() string { return "telegram" }

var operatorTitles = map[string]string{
	events.EventBookingCreated:   "New booking",
	events.EventBookingConfirmed: "Booking confirmed",
	events.EventBookingCancelled: "Booking cancelled",
	events.EventBookingRefunded:  "Booking refunded",
}

// Deliver ignores events operators do not act on.
func (s *TelegramSink) Deliver(ctx context.Context, ev *events.Event) error {
	title, ok := operatorTitles[ev.Type]
	if !ok {
		return nil
	}

	var p events.BookingEventPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return fmt.Errorf("decode booking payload: %w", err)
	}

	msg := tgbotapi.NewMessage(s.chatID, FormatBookingMessage(title, p))
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func FormatBookingMessage(title string, p events.BookingEventPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", title, p.Reference)
	if p.ActivityName != "" {
		fmt.Fprintf(&b, "Activity: %s\n", p.ActivityName)
	}
	if p.Date != "" {
		fmt.Fprintf(&b, "When: %s %s\n", p.Date, p.StartTime)
	}
	fmt.Fprintf(&b, "Guests: %d adults, %d children\n", p.Adults, p.Children)
	fmt.Fprintf(&b, "Total: %s\n", FormatAmount(p.TotalAmount, models.Currency(p.Currency)))
	if p.ContactName != "" {
		fmt.Fprintf(&b, "Contact: %s\n", p.ContactName)
	}
	if p.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", p.Reason)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatAmount renders minor units in major units, e.g. 4850 USD as "48.50 USD".
func FormatAmount(amount int64, cur models.Currency) string {
	exp := cur.MinorUnitExponent()
	return decimal.New(amount, -exp).StringFixed(exp) + " " + string(cur)
}
