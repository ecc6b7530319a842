package worker

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/asiradnan/musical-bassoon/services/notification-service/internal/events"
	"github.com/asiradnan/musical-bassoon/services/notification-service/internal/notifier"
)

type Config struct {
	RabbitURL   string
	Exchange    string
	Queue       string
	Bindings    []string
	Prefetch    int
	UseDLX      bool
	DLXName     string
	DLXQueue    string
	ServiceName string
	// DedupeSize bounds the set of recently delivered message ids.
	DedupeSize int
}

// errPermanent marks deliveries that will never succeed on retry.
var errPermanent = errors.New("permanent")

type Consumer struct {
	cfg      Config
	notifier notifier.Notifier
	log      *logrus.Logger
	seen     *lru.Cache[string, struct{}]

	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewConsumer(cfg Config, n notifier.Notifier, log *logrus.Logger) *Consumer {
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = 4096
	}
	seen, _ := lru.New[string, struct{}](cfg.DedupeSize)
	return &Consumer{cfg: cfg, notifier: n, log: log, seen: seen}
}

func (c *Consumer) Connect() error {
	conn, err := amqp.Dial(c.cfg.RabbitURL)
	if err != nil {
		return fmt.Errorf("rabbit dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel failed: %w", err)
	}
	fail := func(step string, err error) error {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("%s failed: %w", step, err)
	}

	args := amqp.Table{}
	if c.cfg.UseDLX {
		args["x-dead-letter-exchange"] = c.cfg.DLXName
	}
	q, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, args)
	if err != nil {
		return fail("declare queue", err)
	}
	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fail("declare exchange "+c.cfg.Exchange, err)
	}
	for _, key := range c.cfg.Bindings {
		if err := ch.QueueBind(q.Name, key, c.cfg.Exchange, false, nil); err != nil {
			return fail("bind key "+key, err)
		}
	}

	if c.cfg.UseDLX {
		if err := ch.ExchangeDeclare(c.cfg.DLXName, "topic", true, false, false, false, nil); err != nil {
			return fail("declare dlx", err)
		}
		if _, err := ch.QueueDeclare(c.cfg.DLXQueue, true, false, false, false, nil); err != nil {
			return fail("declare dlq", err)
		}
		if err := ch.QueueBind(c.cfg.DLXQueue, "#", c.cfg.DLXName, false, nil); err != nil {
			return fail("bind dlq", err)
		}
	}

	if c.cfg.Prefetch <= 0 {
		c.cfg.Prefetch = 8
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fail("set qos", err)
	}

	c.conn = conn
	c.ch = ch
	return nil
}

func (c *Consumer) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.ch.ConsumeWithContext(ctx, c.cfg.Queue, c.cfg.ServiceName, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume failed: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			err := c.handle(ctx, d.MessageId, d.RoutingKey, d.Body)
			switch {
			case err == nil:
				_ = d.Ack(false)
			case errors.Is(err, errPermanent) || d.Redelivered:
				// second failure goes to the DLQ
				c.log.WithField("key", d.RoutingKey).WithError(err).Warn("[notify] dead-lettering")
				_ = d.Nack(false, false)
			default:
				c.log.WithField("key", d.RoutingKey).WithError(err).Warn("[notify] handle error, requeue")
				_ = d.Nack(false, true)
			}
		}
	}
}

// handle renders and sends one event. A message id that was already
// delivered is acknowledged without sending again.
func (c *Consumer) handle(ctx context.Context, id, key string, body []byte) error {
	if id != "" && c.seen.Contains(id) {
		c.log.WithFields(logrus.Fields{"key": key, "message_id": id}).Debug("[notify] duplicate skipped")
		return nil
	}
	var render func(events.Booking) (string, string, error)
	switch key {
	case events.RKBookingCreated:
		render = notifier.Confirmation
	case events.RKBookingPaid:
		render = notifier.PaymentReceived
	case events.RKBookingCancelled:
		render = notifier.Cancellation
	default:
		c.log.WithField("key", key).Debug("[notify] skip unknown key")
		return nil
	}

	ev, err := events.MustUnmarshal[events.Booking](body)
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	if ev.Email == "" {
		c.log.WithField("booking_id", ev.BookingID).Warn("[notify] no recipient, skipped")
		return nil
	}
	subject, html, err := render(ev)
	if err != nil {
		return fmt.Errorf("%w: render: %v", errPermanent, err)
	}
	if err := c.notifier.Notify(ctx, ev.Email, subject, html); err != nil {
		if errors.Is(err, notifier.ErrRecipient) {
			return fmt.Errorf("%w: %v", errPermanent, err)
		}
		return err
	}
	if id != "" {
		c.seen.Add(id, struct{}{})
	}
	return nil
}
