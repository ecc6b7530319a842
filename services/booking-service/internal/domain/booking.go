package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Booking is a reservation of one room for a window on one calendar date.
// Records are never deleted; cancellation is a terminal flag.
type Booking struct {
	ID        string `gorm:"primaryKey;size:36" json:"_id"`
	UserID    string `gorm:"size:64;index;not null" json:"user"`
	UserEmail string `gorm:"size:255" json:"userEmail,omitempty"`
	Room      Room   `gorm:"size:64;not null;index:idx_bookings_room_date,priority:1" json:"room"`
	// Date is YYYY-MM-DD; StartTime and EndTime are canonical HH:MM so string
	// order matches clock order.
	Date       string          `gorm:"size:10;not null;index:idx_bookings_room_date,priority:2" json:"date"`
	StartTime  string          `gorm:"size:5;not null" json:"startTime"`
	EndTime    string          `gorm:"size:5;not null" json:"endTime"`
	TotalHours float64         `gorm:"not null" json:"totalHours"`
	Price      decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`

	IsPaid        bool           `gorm:"not null;default:false" json:"isPaid"`
	PaidAt        *time.Time     `json:"paidAt,omitempty"`
	PaymentResult datatypes.JSON `json:"paymentResult,omitempty"`

	IsCancelled bool       `gorm:"not null;default:false;index" json:"isCancelled"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`

	Notes     string    `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PaymentResult is what the payment collaborator reports, kept verbatim.
type PaymentResult struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	UpdateTime   string `json:"update_time"`
	EmailAddress string `json:"email_address"`
}

// TimeWindow is an occupied [StartTime, EndTime) span.
type TimeWindow struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

func (b *Booking) Window() TimeWindow {
	return TimeWindow{StartTime: b.StartTime, EndTime: b.EndTime}
}

// Payment decodes the stored payment result, if any.
func (b *Booking) Payment() (PaymentResult, bool) {
	var pr PaymentResult
	if len(b.PaymentResult) == 0 {
		return pr, false
	}
	if err := json.Unmarshal(b.PaymentResult, &pr); err != nil {
		return pr, false
	}
	return pr, true
}

// Actor is the caller of a lifecycle operation.
type Actor struct {
	UserID string
	Email  string
	Admin  bool
}

// SystemActor is used by internal consumers acting on behalf of collaborators.
var SystemActor = Actor{UserID: "system", Admin: true}

// CanAccess reports whether the actor owns the booking or is privileged.
func (a Actor) CanAccess(b *Booking) bool {
	return a.Admin || (a.UserID != "" && a.UserID == b.UserID)
}

// Mutation edits a booking under the store's row lock. It returns the outbox
// event to record alongside the change, or ErrUnchanged to commit nothing.
type Mutation func(b *Booking) (*OutboxEvent, error)
