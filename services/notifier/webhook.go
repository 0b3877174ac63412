package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/suite33/backoffice/shared/utils"
)

// Delivery is the JSON body posted to the webhook
type Delivery struct {
	Channel    string    `json:"channel"`
	Message    string    `json:"message"`
	ReceivedAt time.Time `json:"received_at"`
}

// Sender delivers a notification to its final destination
type Sender interface {
	Send(ctx context.Context, d Delivery) error
}

// WebhookStatus is a snapshot of the webhook's recent health
type WebhookStatus struct {
	Endpoint    string             `json:"endpoint"`
	Breaker     utils.CircuitState `json:"breaker"`
	LastSuccess *time.Time         `json:"last_success,omitempty"`
	LastError   string             `json:"last_error,omitempty"`
}

// WebhookClient posts notifications to an HTTP endpoint. Calls are rate
// limited and pass through a circuit breaker; any non-2xx status is a failure.
type WebhookClient struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *utils.CircuitBreaker

	mutex       sync.RWMutex
	lastSuccess time.Time
	lastError   error
}

func NewWebhookClient(endpoint string, limit rate.Limit, burst int, breaker *utils.CircuitBreaker) *WebhookClient {
	return &WebhookClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(limit, burst),
		breaker: breaker,
	}
}

func (c *WebhookClient) Send(ctx context.Context, d Delivery) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.post(ctx, d)
	})

	c.mutex.Lock()
	if err == nil {
		c.lastSuccess = time.Now()
		c.lastError = nil
	} else {
		c.lastError = err
	}
	c.mutex.Unlock()

	return err
}

func (c *WebhookClient) post(ctx context.Context, d Delivery) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Suite33-Channel", d.Channel)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Status returns the current health of the webhook
func (c *WebhookClient) Status() WebhookStatus {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	status := WebhookStatus{Endpoint: c.endpoint, Breaker: c.breaker.GetState()}
	if !c.lastSuccess.IsZero() {
		last := c.lastSuccess
		status.LastSuccess = &last
	}
	if c.lastError != nil {
		status.LastError = c.lastError.Error()
	}
	return status
}

// logSender stands in for the webhook when none is configured.
type logSender struct {
	logger logrus.FieldLogger
}

func (s logSender) Send(_ context.Context, d Delivery) error {
	s.logger.WithField("channel", d.Channel).Info(d.Message)
	return nil
}
