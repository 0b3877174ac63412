package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/suite33/backoffice/shared/events"
)

// MessageReader is the part of *kafka.Reader the consumer uses
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaReader joins groupID and reads every topic in topics.
func NewKafkaReader(brokers []string, groupID string, topics []string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     time.Second,
	})
}

const maxHandleDelay = 30 * time.Second

// Consumer forwards notifications from Kafka to the webhook. A delivery
// that fails is stored for the retrier, and the offset is committed once
// the message is either delivered or stored.
type Consumer struct {
	reader     MessageReader
	sender     Sender
	db         *gorm.DB
	metrics    *DeliveryMetrics
	logger     logrus.FieldLogger
	now        func() time.Time
	retryDelay time.Duration
}

func NewConsumer(reader MessageReader, sender Sender, db *gorm.DB, metrics *DeliveryMetrics, logger logrus.FieldLogger) *Consumer {
	return &Consumer{
		reader:     reader,
		sender:     sender,
		db:         db,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
		retryDelay: time.Second,
	}
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("notification consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("notification consumer stopped")
				return
			}
			c.logger.WithError(err).Error("failed to fetch message")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if !c.process(ctx, msg) {
			c.logger.Info("notification consumer stopped")
			return
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.WithError(err).Error("failed to commit offset")
		}
	}
}

// process handles msg until it succeeds or ctx is done. The next message
// is not fetched meanwhile: committing a later offset on the partition
// would skip this one for good.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	delay := c.retryDelay
	for {
		err := c.handle(ctx, msg)
		if err == nil {
			return true
		}

		c.logger.WithError(err).WithFields(logrus.Fields{
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
			"retry_in":  delay.String(),
		}).Error("failed to handle notification")

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxHandleDelay {
			delay = maxHandleDelay
		}
	}
}

// handle delivers one message, falling back to storing it for retry.
// Malformed messages are dropped.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	delivery, err := decode(msg, c.now())
	if err != nil {
		c.logger.WithError(err).WithField("topic", msg.Topic).Warn("dropping malformed notification")
		return nil
	}

	sendErr := c.sender.Send(ctx, delivery)
	c.metrics.Observe("live", sendErr)
	if sendErr == nil {
		return nil
	}
	if errors.Is(sendErr, context.Canceled) && ctx.Err() != nil {
		return sendErr
	}

	c.logger.WithError(sendErr).WithField("channel", delivery.Channel).Warn("webhook delivery failed, storing for retry")
	if err := recordFailure(context.WithoutCancel(ctx), c.db, delivery, sendErr, c.now()); err != nil {
		return fmt.Errorf("failed to store failed notification: %w", err)
	}
	return nil
}

func decode(msg kafka.Message, now time.Time) (Delivery, error) {
	var n events.Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		return Delivery{}, fmt.Errorf("invalid notification: %w", err)
	}
	if n.Message == "" {
		return Delivery{}, errors.New("notification has no message")
	}
	if n.Channel == "" {
		n.Channel = msg.Topic
	}
	return Delivery{Channel: n.Channel, Message: n.Message, ReceivedAt: now.UTC()}, nil
}
