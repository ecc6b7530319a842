package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/asiradnan/musical-bassoon/services/booking-service/internal/domain"
)

type OutboxRepo struct{ db *gorm.DB }

func NewOutboxRepo(db *gorm.DB) *OutboxRepo {
	return &OutboxRepo{db: db}
}

// Claim leases up to limit undispatched events to owner, oldest first.
// Rows leased by another owner are skipped until their lease runs out, so
// replicas sharing the table never publish the same event concurrently.
func (r *OutboxRepo) Claim(ctx context.Context, owner string, limit int, lease time.Duration, now time.Time) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	now = now.UTC()
	var out []domain.OutboxEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []domain.OutboxEvent
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("dispatched_at IS NULL").
			Where("claimed_until IS NULL OR claimed_until < ?", now).
			Order("created_at ASC").Order("id ASC").
			Limit(limit).
			Find(&rows).Error
		if err != nil {
			return err
		}
		until := now.Add(lease)
		for _, ev := range rows {
			// the lease predicate is repeated so a row taken between the
			// select and here is left alone
			res := tx.Model(&domain.OutboxEvent{}).
				Where("id = ? AND dispatched_at IS NULL", ev.ID).
				Where("claimed_until IS NULL OR claimed_until < ?", now).
				Updates(map[string]any{"claimed_by": owner, "claimed_until": until})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				ev.ClaimedBy, ev.ClaimedUntil = owner, &until
				out = append(out, ev)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Release drops every lease owner still holds on undispatched events.
func (r *OutboxRepo) Release(ctx context.Context, owner string) error {
	return r.db.WithContext(ctx).Model(&domain.OutboxEvent{}).
		Where("claimed_by = ? AND dispatched_at IS NULL", owner).
		Updates(map[string]any{"claimed_by": "", "claimed_until": nil}).Error
}

func (r *OutboxRepo) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"dispatched_at": at,
			"attempts":      gorm.Expr("attempts + 1"),
			"last_error":    "",
		}).Error
}

func (r *OutboxRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	return r.db.WithContext(ctx).Model(&domain.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
		}).Error
}
