package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	StatusPending           = "pending"
	StatusResolved          = "resolved"
	StatusPermanentlyFailed = "permanently_failed"
)

// FailedNotification is a delivery that the webhook refused, kept for retry
type FailedNotification struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Channel      string     `gorm:"type:varchar(100);not null;index" json:"channel"`
	Message      string     `gorm:"type:text;not null" json:"message"`
	ReceivedAt   time.Time  `json:"received_at"`
	ErrorMessage string     `gorm:"type:text;not null" json:"error_message"`
	RetryCount   int        `gorm:"not null;default:0" json:"retry_count"`
	Status       string     `gorm:"type:varchar(32);not null;default:'pending';index:idx_failed_notifications_due,priority:1" json:"status"`
	NextRetryAt  *time.Time `gorm:"index:idx_failed_notifications_due,priority:2" json:"next_retry_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

func (FailedNotification) TableName() string {
	return "failed_notifications"
}

func (f *FailedNotification) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

// Delivery rebuilds the webhook body of the failed notification.
func (f *FailedNotification) Delivery() Delivery {
	return Delivery{Channel: f.Channel, Message: f.Message, ReceivedAt: f.ReceivedAt}
}

// RetryStats counts failed notifications by status
type RetryStats struct {
	Pending           int64 `json:"pending"`
	Resolved          int64 `json:"resolved"`
	PermanentlyFailed int64 `json:"permanently_failed"`
}

// recordFailure stores d for its first retry one minute after now.
func recordFailure(ctx context.Context, db *gorm.DB, d Delivery, cause error, now time.Time) error {
	next := now.Add(backoff(1))
	return db.WithContext(ctx).Create(&FailedNotification{
		Channel:      d.Channel,
		Message:      d.Message,
		ReceivedAt:   d.ReceivedAt,
		ErrorMessage: cause.Error(),
		Status:       StatusPending,
		NextRetryAt:  &next,
	}).Error
}

// GetRetryStats counts failed notifications by status
func GetRetryStats(ctx context.Context, db *gorm.DB) (RetryStats, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := db.WithContext(ctx).Model(&FailedNotification{}).
		Select("status, count(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return RetryStats{}, err
	}

	var stats RetryStats
	for _, row := range rows {
		switch row.Status {
		case StatusPending:
			stats.Pending = row.Count
		case StatusResolved:
			stats.Resolved = row.Count
		case StatusPermanentlyFailed:
			stats.PermanentlyFailed = row.Count
		}
	}
	return stats, nil
}
