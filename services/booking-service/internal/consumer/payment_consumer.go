package consumer

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/asiradnan/musical-bassoon/services/booking-service/internal/domain"
)

// PaymentPaid is the payment collaborator's event.
type PaymentPaid struct {
	Event   string `json:"event"`   // "payment.paid"
	Version int    `json:"version"` // 1
	Data    struct {
		PaymentID    string `json:"payment_id"`
		BookingID    string `json:"booking_id"`
		Status       string `json:"status"`
		UpdateTime   string `json:"update_time"`
		EmailAddress string `json:"email_address"`
	} `json:"data"`
}

// Payer is the slice of the booking service the consumer drives.
type Payer interface {
	Pay(ctx context.Context, actor domain.Actor, id string, pr domain.PaymentResult) (*domain.Booking, error)
}

// Deliveries yields broker messages. *mq.Consumer implements it.
type Deliveries interface {
	Deliveries(ctx context.Context) (<-chan amqp.Delivery, error)
}

type PaymentConsumer struct {
	payer Payer
	cons  Deliveries
	log   *logrus.Logger
}

func NewPaymentConsumer(payer Payer, cons Deliveries, log *logrus.Logger) *PaymentConsumer {
	return &PaymentConsumer{payer: payer, cons: cons, log: log}
}

type outcome int

const (
	ack outcome = iota
	requeue
	drop // nack without requeue, dead-lettered when the queue has a DLX
)

func (pc *PaymentConsumer) Run(ctx context.Context) error {
	msgs, err := pc.cons.Deliveries(ctx)
	if err != nil {
		return err
	}
	go func() {
		for d := range msgs {
			switch pc.process(ctx, d.RoutingKey, d.Body) {
			case ack:
				_ = d.Ack(false)
			case requeue:
				_ = d.Nack(false, true)
			case drop:
				_ = d.Nack(false, false)
			}
		}
	}()
	return nil
}

func (pc *PaymentConsumer) process(ctx context.Context, key string, body []byte) outcome {
	if key != "payment.paid" {
		return ack
	}
	var evt PaymentPaid
	if err := json.Unmarshal(body, &evt); err != nil {
		pc.log.WithError(err).Warn("[booking-consumer] unmarshal error")
		return drop
	}
	if evt.Data.BookingID == "" || evt.Data.PaymentID == "" {
		pc.log.Warn("[booking-consumer] invalid event payload")
		return ack
	}
	pr := domain.PaymentResult{
		ID:           evt.Data.PaymentID,
		Status:       evt.Data.Status,
		UpdateTime:   evt.Data.UpdateTime,
		EmailAddress: evt.Data.EmailAddress,
	}
	if pr.Status == "" {
		pr.Status = "COMPLETED"
	}
	fields := logrus.Fields{"booking_id": evt.Data.BookingID, "payment_id": evt.Data.PaymentID}
	_, err := pc.payer.Pay(ctx, domain.SystemActor, evt.Data.BookingID, pr)
	switch {
	case err == nil:
		return ack
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrAlreadyCancelled),
		errors.Is(err, domain.ErrAlreadyPaid):
		// Permanent for this event; the payment collaborator reconciles refunds.
		pc.log.WithFields(fields).WithError(err).Warn("[booking-consumer] payment not applied")
		return ack
	default:
		pc.log.WithFields(fields).WithError(err).Error("[booking-consumer] pay error")
		return requeue
	}
}
