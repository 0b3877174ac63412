package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const maxBackoff = time.Hour

// backoff is the wait before retry n: 1m, 2m, 4m ... capped at an hour.
func backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if n > 7 {
		return maxBackoff
	}
	if d := time.Minute << (n - 1); d < maxBackoff {
		return d
	}
	return maxBackoff
}

// Retrier redelivers failed notifications whose next retry is due
type Retrier struct {
	db          *gorm.DB
	sender      Sender
	metrics     *DeliveryMetrics
	maxAttempts int
	batchSize   int
	interval    time.Duration
	logger      logrus.FieldLogger
	now         func() time.Time
}

func NewRetrier(db *gorm.DB, sender Sender, metrics *DeliveryMetrics, maxAttempts int, interval time.Duration, logger logrus.FieldLogger) *Retrier {
	return &Retrier{
		db:          db,
		sender:      sender,
		metrics:     metrics,
		maxAttempts: maxAttempts,
		batchSize:   100,
		interval:    interval,
		logger:      logger,
		now:         time.Now,
	}
}

// Run retries due notifications every interval until ctx is done.
func (r *Retrier) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.WithField("interval", r.interval.String()).Info("retry loop started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("retry loop stopped")
			return
		case <-ticker.C:
			if n, err := r.RetryDue(ctx); err != nil {
				r.logger.WithError(err).Error("failed to retry notifications")
			} else if n > 0 {
				r.logger.WithField("count", n).Info("retried failed notifications")
			}
		}
	}
}

// RetryDue retries one batch of due notifications, oldest first, and
// returns how many it attempted.
func (r *Retrier) RetryDue(ctx context.Context) (int, error) {
	var due []FailedNotification
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", StatusPending, r.now()).
		Order("next_retry_at").
		Limit(r.batchSize).
		Find(&due).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load due notifications: %w", err)
	}

	for i := range due {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		if err := r.retry(ctx, &due[i]); err != nil {
			r.logger.WithError(err).WithField("notification_id", due[i].ID).Error("failed to update notification")
		}
	}
	return len(due), nil
}

func (r *Retrier) retry(ctx context.Context, f *FailedNotification) error {
	sendErr := r.sender.Send(ctx, f.Delivery())
	r.metrics.Observe("retry", sendErr)

	now := r.now()
	updates := map[string]interface{}{"updated_at": now}

	switch {
	case sendErr == nil:
		updates["status"] = StatusResolved
		updates["resolved_at"] = now
	case f.RetryCount+1 >= r.maxAttempts:
		updates["retry_count"] = f.RetryCount + 1
		updates["status"] = StatusPermanentlyFailed
		updates["resolved_at"] = now
		updates["error_message"] = "max retries reached: " + sendErr.Error()
		r.logger.WithField("notification_id", f.ID).Warn("notification permanently failed")
	default:
		updates["retry_count"] = f.RetryCount + 1
		updates["next_retry_at"] = now.Add(backoff(f.RetryCount + 1))
		updates["error_message"] = sendErr.Error()
	}

	return r.db.WithContext(ctx).Model(f).Updates(updates).Error
}
