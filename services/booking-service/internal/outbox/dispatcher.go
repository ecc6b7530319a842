package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/asiradnan/musical-bassoon/pkg/mq"
	"github.com/asiradnan/musical-bassoon/services/booking-service/internal/domain"
)

// Source is where committed events wait for delivery. repository.OutboxRepo
// implements it. Claim must not hand an event leased to one owner to another
// until the lease expires or is released.
type Source interface {
	Claim(ctx context.Context, owner string, limit int, lease time.Duration, now time.Time) ([]domain.OutboxEvent, error)
	Release(ctx context.Context, owner string) error
	MarkDispatched(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// Publisher delivers one event to the broker. *mq.Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, key string, m mq.Message) error
}

type Dispatcher struct {
	id       string
	src      Source
	pub      Publisher
	interval time.Duration
	batch    int
	lease    time.Duration
	clock    domain.Clock
	log      *logrus.Logger
}

func NewDispatcher(src Source, pub Publisher, interval time.Duration, batch int, log *logrus.Logger) *Dispatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	return &Dispatcher{
		id:       uuid.NewString(),
		src:      src,
		pub:      pub,
		interval: interval,
		batch:    batch,
		lease:    leaseFor(interval),
		clock:    domain.RealClock{},
		log:      log,
	}
}

// leaseFor gives a batch several poll intervals to drain before another
// replica may take it over.
func leaseFor(interval time.Duration) time.Duration {
	if l := 10 * interval; l > 30*time.Second {
		return l
	}
	return 30 * time.Second
}

// Run relays events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.WithError(err).Warn("[outbox] dispatch pass failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce claims one batch and publishes it in commit order. It stops at
// the first publish failure so later events are not delivered ahead of it;
// whatever is left of the batch is released for the next pass.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	events, err := d.src.Claim(ctx, d.id, d.batch, d.lease, d.clock.Now())
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	defer func() {
		if err := d.src.Release(context.WithoutCancel(ctx), d.id); err != nil {
			d.log.WithError(err).Warn("[outbox] release claim failed")
		}
	}()
	sent := 0
	for _, ev := range events {
		msg := mq.Message{ID: ev.ID, Body: ev.Payload, Timestamp: ev.CreatedAt}
		if err := d.pub.Publish(ctx, ev.RoutingKey, msg); err != nil {
			d.log.WithFields(logrus.Fields{
				"event_id": ev.ID, "routing_key": ev.RoutingKey, "attempts": ev.Attempts + 1,
			}).WithError(err).Warn("[outbox] publish failed")
			if merr := d.src.MarkFailed(ctx, ev.ID, err.Error()); merr != nil {
				return sent, merr
			}
			return sent, nil
		}
		if err := d.src.MarkDispatched(ctx, ev.ID, d.clock.Now().UTC()); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
