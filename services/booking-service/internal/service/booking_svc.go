package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/asiradnan/musical-bassoon/pkg/obs"
	"github.com/asiradnan/musical-bassoon/services/booking-service/internal/domain"
	"github.com/asiradnan/musical-bassoon/services/booking-service/internal/lock"
	"github.com/asiradnan/musical-bassoon/services/booking-service/internal/repository"
)

// Store is the persistence the controller needs. repository.BookingRepo
// implements it.
type Store interface {
	Occupied(ctx context.Context, room domain.Room, date string) ([]domain.Booking, error)
	CreateWithNoOverlap(ctx context.Context, b *domain.Booking, ev *domain.OutboxEvent) error
	ByID(ctx context.Context, id string) (*domain.Booking, error)
	Update(ctx context.Context, id string, fn domain.Mutation) (*domain.Booking, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Booking, error)
	ListAll(ctx context.Context) ([]domain.Booking, error)
}

// Options is the static studio configuration injected into the controller.
type Options struct {
	Rates domain.RateTable
	Hours domain.OpeningHours
	// MinDuration is the shortest bookable window; zero means one hour.
	MinDuration time.Duration
	Policy      domain.CancellationPolicy
	Location    *time.Location
	Clock       domain.Clock
	Locker      lock.Locker
	Logger      *logrus.Logger
}

type BookingSvc struct {
	store    Store
	rates    domain.RateTable
	hours    domain.OpeningHours
	minimum  int // minutes
	policy   domain.CancellationPolicy
	loc      *time.Location
	clock    domain.Clock
	locker   lock.Locker
	log      *logrus.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

func NewBookingSvc(store Store, opts Options) *BookingSvc {
	if opts.Rates == nil {
		opts.Rates = domain.DefaultRateTable()
	}
	if opts.Hours == (domain.OpeningHours{}) {
		opts.Hours = domain.AllDay()
	}
	if opts.MinDuration <= 0 {
		opts.MinDuration = domain.DefaultMinDuration
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Policy.Location == nil || opts.Policy.MinNotice <= 0 {
		opts.Policy = domain.NewCancellationPolicy(opts.Policy.MinNotice, opts.Location)
	}
	if opts.Clock == nil {
		opts.Clock = domain.RealClock{}
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewKeyedMutex()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &BookingSvc{
		store:    store,
		rates:    opts.Rates,
		hours:    opts.Hours,
		minimum:  int(opts.MinDuration / time.Minute),
		policy:   opts.Policy,
		loc:      opts.Location,
		clock:    opts.Clock,
		locker:   opts.Locker,
		log:      opts.Logger,
		validate: v,
		tracer:   obs.Tracer("booking-service"),
	}
}

// CreateInput is a requested booking window.
type CreateInput struct {
	Room      string `json:"room" validate:"required"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"startTime" validate:"required,datetime=15:04"`
	EndTime   string `json:"endTime" validate:"required,datetime=15:04"`
	Notes     string `json:"notes" validate:"max=2000"`
}

// RoomRate is one entry of the public room list.
type RoomRate struct {
	Room       domain.Room `json:"id"`
	HourlyRate string      `json:"price"`
}

func (s *BookingSvc) Rooms() []RoomRate {
	rooms := s.rates.Rooms()
	out := make([]RoomRate, 0, len(rooms))
	for _, r := range rooms {
		rate, _ := s.rates.Rate(r)
		out = append(out, RoomRate{Room: r, HourlyRate: rate.StringFixed(2)})
	}
	return out
}

// Availability lists the windows already taken in a room on a date. It is a
// hint for pickers; Create re-checks on its own.
func (s *BookingSvc) Availability(ctx context.Context, room, date string) ([]domain.TimeWindow, error) {
	if room == "" || date == "" {
		return nil, domain.ErrMissingRoomDate
	}
	if _, ok := s.rates.Rate(domain.Room(room)); !ok {
		return nil, domain.ErrUnknownRoom
	}
	if _, err := domain.ParseDate(date, s.loc); err != nil {
		return nil, domain.BadRequest(err.Error())
	}
	list, err := s.store.Occupied(ctx, domain.Room(room), date)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TimeWindow, 0, len(list))
	for i := range list {
		out = append(out, list[i].Window())
	}
	return out, nil
}

func (s *BookingSvc) Create(ctx context.Context, actor domain.Actor, in CreateInput) (*domain.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.Create")
	defer span.End()

	if actor.UserID == "" {
		return nil, domain.ErrNoUser
	}
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return nil, validationError(err)
	}
	room := domain.Room(in.Room)
	if _, ok := s.rates.Rate(room); !ok {
		return nil, domain.ErrUnknownRoom
	}
	start, err := domain.ParseClock(in.StartTime)
	if err != nil {
		return nil, domain.BadRequest(err.Error())
	}
	end, err := domain.ParseClock(in.EndTime)
	if err != nil {
		return nil, domain.BadRequest(err.Error())
	}
	if end <= start {
		return nil, domain.ErrInvalidTimeRange
	}
	day, err := domain.ParseDate(in.Date, s.loc)
	if err != nil {
		return nil, domain.BadRequest(err.Error())
	}
	now := s.clock.Now().In(s.loc)
	if day.Before(domain.StartOfDay(now)) {
		return nil, domain.ErrPastDate
	}
	if !s.hours.Contains(start, end) {
		return nil, domain.ErrOutsideHours
	}
	if end-start < s.minimum {
		return nil, domain.ErrTooShort
	}

	minutes := end - start
	price, _ := s.rates.Price(room, minutes)
	b := &domain.Booking{
		ID:         uuid.NewString(),
		UserID:     actor.UserID,
		UserEmail:  actor.Email,
		Room:       room,
		Date:       in.Date,
		StartTime:  domain.FormatClock(start),
		EndTime:    domain.FormatClock(end),
		TotalHours: float64(minutes) / 60,
		Price:      price,
		Notes:      strings.TrimSpace(in.Notes),
		CreatedAt:  now,
	}
	span.SetAttributes(
		attribute.String("booking.room", string(b.Room)),
		attribute.String("booking.date", b.Date),
	)
	ev, err := domain.NewOutboxEvent(domain.RKBookingCreated, domain.EventFor(b), now)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, repository.SlotKey(room, b.Date))
	if err != nil {
		return nil, fmt.Errorf("lock slot: %w", err)
	}
	defer unlock()

	if err := s.store.CreateWithNoOverlap(ctx, b, ev); err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"booking_id": b.ID, "user_id": b.UserID, "room": b.Room,
		"date": b.Date, "start": b.StartTime, "end": b.EndTime,
	}).Info("booking created")
	return b, nil
}

// Pay records the payment collaborator's result. Replaying the same payment id
// is a no-op; a different payment on a paid booking is rejected.
func (s *BookingSvc) Pay(ctx context.Context, actor domain.Actor, id string, pr domain.PaymentResult) (*domain.Booking, error) {
	if id == "" {
		return nil, domain.BadRequest("booking id is required")
	}
	raw, err := json.Marshal(pr)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	b, err := s.store.Update(ctx, id, func(b *domain.Booking) (*domain.OutboxEvent, error) {
		if !actor.CanAccess(b) {
			return nil, domain.ErrForbidden
		}
		if b.IsCancelled {
			return nil, domain.ErrAlreadyCancelled
		}
		if b.IsPaid {
			if prev, ok := b.Payment(); ok && pr.ID != "" && prev.ID == pr.ID {
				return nil, domain.ErrUnchanged
			}
			return nil, domain.ErrAlreadyPaid
		}
		b.IsPaid = true
		b.PaidAt = &now
		b.PaymentResult = raw
		return domain.NewOutboxEvent(domain.RKBookingPaid, domain.EventFor(b), now)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"booking_id": b.ID, "payment_id": pr.ID}).Info("booking paid")
	return b, nil
}

// Cancel marks the booking cancelled. Owners must respect the notice period;
// admins may cancel at any time, past bookings included. Payment state is
// left as is; refunds belong to the payment collaborator.
func (s *BookingSvc) Cancel(ctx context.Context, actor domain.Actor, id string) (*domain.Booking, error) {
	if id == "" {
		return nil, domain.BadRequest("booking id is required")
	}
	now := s.clock.Now()
	b, err := s.store.Update(ctx, id, func(b *domain.Booking) (*domain.OutboxEvent, error) {
		if !actor.CanAccess(b) {
			return nil, domain.ErrForbidden
		}
		if b.IsCancelled {
			return nil, domain.ErrAlreadyCancelled
		}
		if !actor.Admin {
			ok, err := s.policy.Allows(now, b.Date, b.StartTime)
			if err != nil {
				return nil, fmt.Errorf("booking %s: %w", b.ID, err)
			}
			if !ok {
				return nil, domain.ErrPolicyViolation
			}
		}
		b.IsCancelled = true
		b.CancelledAt = &now
		return domain.NewOutboxEvent(domain.RKBookingCancelled, domain.EventFor(b), now)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"booking_id": b.ID, "by": actor.UserID, "admin": actor.Admin}).Info("booking cancelled")
	return b, nil
}

func (s *BookingSvc) Get(ctx context.Context, actor domain.Actor, id string) (*domain.Booking, error) {
	b, err := s.store.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(b) {
		return nil, domain.ErrForbidden
	}
	return b, nil
}

func (s *BookingSvc) ListForUser(ctx context.Context, userID string) ([]domain.Booking, error) {
	if userID == "" {
		return nil, domain.ErrNoUser
	}
	return s.store.ListByUser(ctx, userID)
}

func (s *BookingSvc) ListAll(ctx context.Context, actor domain.Actor) ([]domain.Booking, error) {
	if !actor.Admin {
		return nil, domain.ErrForbidden
	}
	return s.store.ListAll(ctx)
}

func validationError(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return domain.BadRequest(err.Error())
	}
	msgs := make([]string, 0, len(ves))
	for _, fe := range ves {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "datetime":
			msgs = append(msgs, fmt.Sprintf("%s must match %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
		}
	}
	return domain.BadRequest(strings.Join(msgs, "; "))
}
