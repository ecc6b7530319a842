package events

import (
	"encoding/json"
	"fmt"
)

// Routing keys the booking service publishes.
const (
	RKBookingCreated   = "booking.created"
	RKBookingPaid      = "booking.paid"
	RKBookingCancelled = "booking.cancelled"
)

// Booking carries enough of the booking to render a message to its owner.
type Booking struct {
	BookingID  string  `json:"booking_id"`
	UserID     string  `json:"user_id"`
	Email      string  `json:"email"`
	Room       string  `json:"room"`
	Date       string  `json:"date"` // YYYY-MM-DD
	StartTime  string  `json:"start_time"`
	EndTime    string  `json:"end_time"`
	TotalHours float64 `json:"total_hours"`
	Price      string  `json:"price"`
	IsPaid     bool    `json:"is_paid"`
	PaymentID  string  `json:"payment_id,omitempty"`
}

func MustUnmarshal[T any](b []byte) (T, error) {
	var t T
	if err := json.Unmarshal(b, &t); err != nil {
		var zero T
		return zero, fmt.Errorf("decode payload failed: %w", err)
	}
	return t, nil
}
