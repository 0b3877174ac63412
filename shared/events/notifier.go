// Package events delivers best-effort notifications to external channels.
package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

//go:generate mockgen -build_flags=--mod=mod -package events -destination ./mock_notifier.go -source=./notifier.go

// Notifier sends a message to a named channel. Implementations must not
// block the caller on delivery.
type Notifier interface {
	Notify(ctx context.Context, channel, message string) error
}

// Notification is the wire form of a message on a channel
type Notification struct {
	Channel string    `json:"channel"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// LogNotifier writes notifications to the log. Used when no broker is configured.
type LogNotifier struct {
	logger logrus.FieldLogger
}

func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, channel, message string) error {
	n.logger.WithField("channel", channel).Info(message)
	return nil
}
