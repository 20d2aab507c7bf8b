package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/domain"
	"slotbook/internal/events"
	"slotbook/internal/logging"
	"slotbook/internal/models"
	"slotbook/internal/pricing"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type QuoteRequest struct {
	ActivityID     string `json:"activity_id" validate:"required,max=64"`
	AvailabilityID string `json:"availability_id" validate:"required,max=64"`
	Adults         int    `json:"adults" validate:"gte=1"`
	Children       int    `json:"children" validate:"gte=0"`
	PromoCode      string `json:"promo_code,omitempty" validate:"max=64"`
	Currency       string `json:"currency,omitempty" validate:"omitempty,oneof=IDR USD idr usd"`
}

type CreateBookingRequest struct {
	QuoteRequest
	ContactName     string `json:"contact_name" validate:"required,max=200"`
	ContactEmail    string `json:"contact_email" validate:"required,email,max=254"`
	ContactPhone    string `json:"contact_phone" validate:"required,max=32"`
	SpecialRequests string `json:"special_requests,omitempty" validate:"max=2000"`
}

type Quote struct {
	ActivityID     string                `json:"activity_id"`
	AvailabilityID string                `json:"availability_id"`
	Participants   models.Participants   `json:"participants"`
	Pricing        models.PriceBreakdown `json:"pricing"`
	AvailableSpots int                   `json:"available_spots"`
}

// errReferenceTaken makes CreateBooking retry the whole transaction after a
// reference collision that slipped past ReferenceExists.
var errReferenceTaken = errors.New("booking reference taken")

// BookingService is the reservation orchestrator.
type BookingService struct {
	store      domain.Store
	ledger     *Ledger
	pricing    *pricing.Engine
	promos     domain.PromoResolver
	references domain.ReferenceGenerator
	eventBus   domain.EventPublisher
	validate   *validator.Validate
	cfg        config.BookingConfig
	loc        *time.Location
	now        func() time.Time
	logger     *zerolog.Logger
}

func NewBookingService(d Deps, ledger *Ledger, cfg config.BookingConfig) *BookingService {
	if cfg.ReferenceRetries <= 0 {
		cfg.ReferenceRetries = 5
	}
	return &BookingService{
		store:      d.Store,
		ledger:     ledger,
		pricing:    d.Pricing,
		promos:     d.Promos,
		references: d.References,
		eventBus:   d.Events,
		validate:   newValidator(),
		cfg:        cfg,
		loc:        cfg.Location(),
		now:        d.Now,
		logger:     logging.Component(d.Logger, "bookings"),
	}
}

// Quote prices a request without reserving anything.
func (s *BookingService) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	currency, err := s.currency(req.Currency)
	if err != nil {
		return nil, err
	}
	discount, err := s.resolvePromo(ctx, req.PromoCode)
	if err != nil {
		return nil, err
	}

	activity, slot, err := s.lookup(ctx, s.store, req.ActivityID, req.AvailabilityID)
	if err != nil {
		return nil, err
	}
	participants := models.Participants{Adults: req.Adults, Children: req.Children}
	if err := s.checkBookable(activity, slot, participants); err != nil {
		return nil, err
	}

	price, err := s.pricing.Compute(pricing.Input{
		Activity:     activity,
		Slot:         slot,
		Participants: participants,
		Currency:     currency,
		Discount:     discount,
	})
	if err != nil {
		return nil, err
	}
	return &Quote{
		ActivityID:     activity.ID,
		AvailabilityID: slot.ID,
		Participants:   participants,
		Pricing:        price,
		AvailableSpots: slot.AvailableSpots,
	}, nil
}

// CreateBooking reserves spots and persists a pending booking in one
// transaction. Nothing is written when any step fails.
func (s *BookingService) CreateBooking(ctx context.Context, actor models.Actor, req CreateBookingRequest) (*models.Booking, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	currency, err := s.currency(req.Currency)
	if err != nil {
		return nil, err
	}
	discount, err := s.resolvePromo(ctx, req.PromoCode)
	if err != nil {
		return nil, err
	}
	participants := models.Participants{Adults: req.Adults, Children: req.Children}

	var (
		booking  *models.Booking
		activity *models.Activity
		slot     *models.Availability
	)
	for attempt := 1; ; attempt++ {
		err = s.store.InTx(ctx, func(tx domain.Tx) error {
			var err error
			activity, slot, err = s.lookup(ctx, tx, req.ActivityID, req.AvailabilityID)
			if err != nil {
				return err
			}
			if err := s.checkBookable(activity, slot, participants); err != nil {
				return err
			}
			if err := s.ledger.Reserve(ctx, tx, slot.ID, participants.Total()); err != nil {
				return err
			}

			price, err := s.pricing.Compute(pricing.Input{
				Activity:     activity,
				Slot:         slot,
				Participants: participants,
				Currency:     currency,
				Discount:     discount,
			})
			if err != nil {
				return err
			}

			ref, err := s.uniqueReference(ctx, tx)
			if err != nil {
				return err
			}

			now := s.now()
			booking = &models.Booking{
				ID:              uuid.NewString(),
				Reference:       ref,
				ActivityID:      activity.ID,
				AvailabilityID:  slot.ID,
				Status:          models.BookingPending,
				Participants:    participants,
				Pricing:         price,
				ContactName:     strings.TrimSpace(req.ContactName),
				ContactEmail:    strings.TrimSpace(req.ContactEmail),
				ContactPhone:    strings.TrimSpace(req.ContactPhone),
				SpecialRequests: strings.TrimSpace(req.SpecialRequests),
				HoldExpiresAt:   now.Add(s.cfg.HoldTTL),
				CreatedAt:       now,
			}
			if discount != nil {
				booking.PromoCode = discount.Code
			}
			if actor.IsCustomer() {
				booking.CustomerID = actor.ID
			}

			if err := tx.InsertBooking(ctx, booking); err != nil {
				if errors.Is(err, domain.ErrConflict) {
					return errReferenceTaken
				}
				return err
			}
			return nil
		})
		if errors.Is(err, errReferenceTaken) && attempt < s.cfg.ReferenceRetries {
			continue
		}
		break
	}
	if err != nil {
		if errors.Is(err, errReferenceTaken) {
			return nil, fmt.Errorf("could not allocate a booking reference: %w", domain.ErrConflict)
		}
		return nil, err
	}

	s.logger.Info().
		Str("booking", booking.Reference).
		Str("availability_id", booking.AvailabilityID).
		Int("participants", participants.Total()).
		Int64("total", booking.Pricing.Total).
		Str("currency", string(booking.Pricing.Currency)).
		Msg("Booking created")

	if s.eventBus != nil {
		payload := bookingPayload(booking, activity, slot, actor, booking.Status)
		if err := s.eventBus.PublishJSON(events.EventBookingCreated, payload); err != nil {
			s.logger.Error().Err(err).Str("booking", booking.Reference).Msg("publish event error")
		}
	}
	return booking, nil
}

// GetBooking returns the booking if actor owns it or is staff.
func (s *BookingService) GetBooking(ctx context.Context, actor models.Actor, reference string) (*models.Booking, error) {
	b, err := s.store.GetBookingByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !canView(actor, b) {
		return nil, fmt.Errorf("%w: booking %s belongs to another customer", domain.ErrAuthorization, reference)
	}
	return b, nil
}

func (s *BookingService) lookup(ctx context.Context, r domain.Reader, activityID, slotID string) (*models.Activity, *models.Availability, error) {
	activity, err := r.GetActivity(ctx, activityID)
	if err != nil {
		return nil, nil, err
	}
	slot, err := r.GetAvailability(ctx, slotID)
	if err != nil {
		return nil, nil, err
	}
	if slot.ActivityID != activity.ID {
		return nil, nil, domain.NotFoundf("availability %s for activity %s", slotID, activityID)
	}
	return activity, slot, nil
}

// checkBookable rejects cancelled or already started slots as closed. A full
// slot is a capacity problem, not a closed one.
func (s *BookingService) checkBookable(activity *models.Activity, slot *models.Availability, p models.Participants) error {
	if slot.Status == models.SlotCancelled {
		return fmt.Errorf("%w: availability %s is cancelled", domain.ErrSlotClosed, slot.ID)
	}
	startsAt, err := slot.StartsAt(s.loc)
	if err != nil {
		return err
	}
	if !startsAt.After(s.now()) {
		return fmt.Errorf("%w: availability %s is in the past", domain.ErrSlotClosed, slot.ID)
	}
	if activity.MaxGroupSize > 0 && p.Total() > activity.MaxGroupSize {
		return domain.Validationf("group of %d exceeds the maximum of %d", p.Total(), activity.MaxGroupSize)
	}
	if slot.Status == models.SlotFull || slot.AvailableSpots < p.Total() {
		return fmt.Errorf("%w: requested %d, available %d", domain.ErrCapacity, p.Total(), slot.AvailableSpots)
	}
	return nil
}

func (s *BookingService) uniqueReference(ctx context.Context, tx domain.Tx) (string, error) {
	for i := 0; i < s.cfg.ReferenceRetries; i++ {
		ref := s.references.Next()
		exists, err := tx.ReferenceExists(ctx, ref)
		if err != nil {
			return "", err
		}
		if !exists {
			return ref, nil
		}
		s.logger.Warn().Str("reference", ref).Msg("Booking reference collision, regenerating")
	}
	return "", errReferenceTaken
}

func (s *BookingService) currency(raw string) (models.Currency, error) {
	if raw == "" {
		raw = s.cfg.DefaultCurrency
	}
	cur, ok := models.ParseCurrency(raw)
	if !ok {
		return "", domain.Validationf("unsupported currency %q", raw)
	}
	return cur, nil
}

func (s *BookingService) resolvePromo(ctx context.Context, code string) (*models.DiscountRule, error) {
	if s.promos == nil || strings.TrimSpace(code) == "" {
		return nil, nil
	}
	return s.promos.Resolve(ctx, code)
}
