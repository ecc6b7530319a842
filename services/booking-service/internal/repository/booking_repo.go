package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/asiradnan/musical-bassoon/services/booking-service/internal/domain"
)

type BookingRepo struct{ db *gorm.DB }

func NewBookingRepo(db *gorm.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

func (r *BookingRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.Booking{}, &domain.OutboxEvent{})
}

// SlotKey identifies the (room, date) pair that create serializes on.
func SlotKey(room domain.Room, date string) string {
	return string(room) + "|" + date
}

// Occupied returns the non-cancelled bookings of a room on a date, earliest first.
func (r *BookingRepo) Occupied(ctx context.Context, room domain.Room, date string) ([]domain.Booking, error) {
	var out []domain.Booking
	err := r.db.WithContext(ctx).
		Where("room = ? AND date = ? AND is_cancelled = ?", room, date, false).
		Order("start_time ASC").
		Find(&out).Error
	return out, err
}

// CreateWithNoOverlap re-checks for overlapping bookings and inserts b (and its
// outbox event) in one transaction. On postgres the transaction first takes an
// advisory lock on the (room, date) key so concurrent creates for the same slot
// run one after another even when no row exists yet to lock.
func (r *BookingRepo) CreateWithNoOverlap(ctx context.Context, b *domain.Booking, ev *domain.OutboxEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", SlotKey(b.Room, b.Date)).Error; err != nil {
				return fmt.Errorf("advisory lock: %w", err)
			}
		}

		var existing []domain.Booking
		err := tx.Model(&domain.Booking{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("room = ? AND date = ? AND is_cancelled = ?", b.Room, b.Date, false).
			Where("start_time < ? AND end_time > ?", b.EndTime, b.StartTime). // overlap condition
			Find(&existing).Error
		if err != nil {
			return err
		}
		if c, ok := domain.FindConflict(b.Window(), existing); ok {
			return fmt.Errorf("%w (overlaps %s %s-%s)", domain.ErrConflict, c.ID, c.StartTime, c.EndTime)
		}

		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		if err := tx.Create(b).Error; err != nil {
			return err
		}
		if ev != nil {
			return tx.Create(ev).Error
		}
		return nil
	})
}

func (r *BookingRepo) ByID(ctx context.Context, id string) (*domain.Booking, error) {
	var b domain.Booking
	if err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// Update loads the booking under a row lock, applies fn and saves the result
// with the event fn returns. fn returning domain.ErrUnchanged commits nothing
// and yields the booking as loaded.
func (r *BookingRepo) Update(ctx context.Context, id string, fn domain.Mutation) (*domain.Booking, error) {
	var loaded, b domain.Booking
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&loaded, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		b = loaded
		ev, err := fn(&b)
		if err != nil {
			return err
		}
		if err := tx.Save(&b).Error; err != nil {
			return err
		}
		if ev != nil {
			return tx.Create(ev).Error
		}
		return nil
	})
	if errors.Is(err, domain.ErrUnchanged) {
		return &loaded, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListByUser returns the user's bookings, latest date first.
func (r *BookingRepo) ListByUser(ctx context.Context, userID string) ([]domain.Booking, error) {
	var out []domain.Booking
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("date DESC").Order("start_time DESC").
		Find(&out).Error
	return out, err
}

// ListAll returns every booking, latest date first.
func (r *BookingRepo) ListAll(ctx context.Context) ([]domain.Booking, error) {
	var out []domain.Booking
	err := r.db.WithContext(ctx).
		Order("date DESC").Order("start_time DESC").
		Find(&out).Error
	return out, err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}
