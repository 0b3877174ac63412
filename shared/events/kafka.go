package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

var (
	// ErrQueueFull is returned when the notification was dropped
	ErrQueueFull = errors.New("notification queue full, message dropped")
	// ErrNotifierClosed is returned after Close
	ErrNotifierClosed = errors.New("notifier is closed")
)

// MessageWriter is the part of *kafka.Writer the notifier uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes notifications to the Kafka topic named by the
// channel. Notify only enqueues; a worker pool does the writes.
type KafkaNotifier struct {
	writer       MessageWriter
	queue        chan kafka.Message
	workerCount  int
	writeTimeout time.Duration
	shutdownChan chan struct{}
	mu           sync.RWMutex // guards closed against in-flight enqueues
	closed       bool
	closeOnce    sync.Once
	wg           sync.WaitGroup
	logger       logrus.FieldLogger
	now          func() time.Time
}

// NewKafkaNotifier creates a notifier writing to brokers with 10 workers
// behind a 1000 message buffer.
func NewKafkaNotifier(brokers []string, logger logrus.FieldLogger) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           10 * time.Millisecond,
		BatchSize:              100,
		AllowAutoTopicCreation: true,
	}
	return newKafkaNotifier(writer, 1000, 10, logger)
}

func newKafkaNotifier(writer MessageWriter, queueSize, workers int, logger logrus.FieldLogger) *KafkaNotifier {
	n := &KafkaNotifier{
		writer:       writer,
		queue:        make(chan kafka.Message, queueSize),
		workerCount:  workers,
		writeTimeout: 5 * time.Second,
		shutdownChan: make(chan struct{}),
		logger:       logger,
		now:          time.Now,
	}
	n.startWorkers()
	return n
}

func (n *KafkaNotifier) startWorkers() {
	for i := 0; i < n.workerCount; i++ {
		n.wg.Add(1)
		go n.worker(i)
	}
	n.logger.WithField("workers", n.workerCount).Info("kafka notifier started")
}

func (n *KafkaNotifier) worker(id int) {
	defer n.wg.Done()

	for {
		select {
		case msg := <-n.queue:
			n.write(id, msg)
		case <-n.shutdownChan:
			// drain what was accepted before Close
			for {
				select {
				case msg := <-n.queue:
					n.write(id, msg)
				default:
					return
				}
			}
		}
	}
}

func (n *KafkaNotifier) write(id int, msg kafka.Message) {
	// Detached from the request: the caller has usually responded already.
	ctx, cancel := context.WithTimeout(context.Background(), n.writeTimeout)
	defer cancel()

	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		n.logger.WithError(err).WithFields(logrus.Fields{
			"worker": id,
			"topic":  msg.Topic,
		}).Warn("failed to publish notification")
	}
}

// Notify enqueues message for channel without blocking. When the buffer is
// full the message is dropped and ErrQueueFull returned.
func (n *KafkaNotifier) Notify(_ context.Context, channel, message string) error {
	value, err := json.Marshal(Notification{Channel: channel, Message: message, SentAt: n.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msg := kafka.Message{
		Topic: channel,
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("notification")},
			{Key: "channel", Value: []byte(channel)},
		},
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrNotifierClosed
	}

	select {
	case n.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting messages, waits for queued ones and closes the writer.
func (n *KafkaNotifier) Close() error {
	var err error
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		n.mu.Unlock()

		close(n.shutdownChan)
		n.wg.Wait()

		if cerr := n.writer.Close(); cerr != nil {
			err = fmt.Errorf("failed to close Kafka writer: %w", cerr)
		}
		n.logger.Info("kafka notifier stopped")
	})
	return err
}
