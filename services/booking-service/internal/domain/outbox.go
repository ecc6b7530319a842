package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Routing keys published on the booking exchange.
const (
	RKBookingCreated   = "booking.created"
	RKBookingPaid      = "booking.paid"
	RKBookingCancelled = "booking.cancelled"
)

// OutboxEvent is a domain event committed in the same transaction as the
// booking change that produced it, relayed to the broker afterwards.
// Consumers dedupe on ID, which is sent as the AMQP message id.
type OutboxEvent struct {
	ID           string         `gorm:"primaryKey;size:36"`
	RoutingKey   string         `gorm:"size:64;not null"`
	Payload      datatypes.JSON `gorm:"not null"`
	CreatedAt    time.Time      `gorm:"index"`
	DispatchedAt *time.Time     `gorm:"index"`
	Attempts     int            `gorm:"not null;default:0"`
	LastError    string         `gorm:"type:text"`
	// lease held by the dispatcher currently publishing the event
	ClaimedBy    string         `gorm:"size:64;index"`
	ClaimedUntil *time.Time     `gorm:"index"`
}

func NewOutboxEvent(key string, payload any, at time.Time) (*OutboxEvent, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &OutboxEvent{ID: uuid.NewString(), RoutingKey: key, Payload: datatypes.JSON(b), CreatedAt: at}, nil
}

// BookingEvent is the payload of every booking.* event. The notification
// service needs the owner's email and the slot to render its message.
type BookingEvent struct {
	BookingID  string  `json:"booking_id"`
	UserID     string  `json:"user_id"`
	Email      string  `json:"email"`
	Room       string  `json:"room"`
	Date       string  `json:"date"`
	StartTime  string  `json:"start_time"`
	EndTime    string  `json:"end_time"`
	TotalHours float64 `json:"total_hours"`
	Price      string  `json:"price"`
	IsPaid     bool    `json:"is_paid"`
	PaymentID  string  `json:"payment_id,omitempty"`
}

func EventFor(b *Booking) BookingEvent {
	ev := BookingEvent{
		BookingID:  b.ID,
		UserID:     b.UserID,
		Email:      b.UserEmail,
		Room:       string(b.Room),
		Date:       b.Date,
		StartTime:  b.StartTime,
		EndTime:    b.EndTime,
		TotalHours: b.TotalHours,
		Price:      b.Price.StringFixed(2),
		IsPaid:     b.IsPaid,
	}
	if pr, ok := b.Payment(); ok {
		ev.PaymentID = pr.ID
	}
	return ev
}
