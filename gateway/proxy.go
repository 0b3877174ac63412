package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/suite33/backoffice/shared/utils"
)

// hopHeaders are meaningful only for a single connection and are not forwarded.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
}

// ServiceClient handles HTTP communication with one backend service
type ServiceClient struct {
	name       string
	baseURL    string
	httpClient *http.Client
	logger     logrus.FieldLogger
}

// ServiceClients holds all service clients
type ServiceClients struct {
	Auth     *ServiceClient
	Business *ServiceClient
	Records  *ServiceClient
	Notifier *ServiceClient
}

// NewServiceClient creates a new service client
func NewServiceClient(name, baseURL string, logger logrus.FieldLogger) *ServiceClient {
	return &ServiceClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.WithField("upstream", name),
	}
}

// ProxyRequest forwards the request to the service unchanged and relays
// the response, including every Set-Cookie header.
func (sc *ServiceClient) ProxyRequest(c *gin.Context) {
	targetURL := sc.baseURL + c.Request.URL.Path
	if c.Request.URL.RawQuery != "" {
		targetURL += "?" + c.Request.URL.RawQuery
	}

	var body io.Reader
	if c.Request.Body != nil {
		bodyBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			utils.BadRequestResponse(c, "Failed to read request body")
			return
		}
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, targetURL, body)
	if err != nil {
		utils.InternalServerErrorResponse(c, "Failed to create request")
		return
	}

	for key, values := range c.Request.Header {
		if hopHeaders[key] {
			continue
		}
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("X-Forwarded-For", c.ClientIP())

	resp, err := sc.httpClient.Do(req)
	if err != nil {
		sc.logger.WithError(err).Warn("upstream request failed")
		utils.ErrorResponse(c, http.StatusBadGateway, "Failed to communicate with service")
		return
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadGateway, "Failed to read response")
		return
	}

	for key, values := range resp.Header {
		if hopHeaders[key] {
			continue
		}
		for _, value := range values {
			c.Writer.Header().Add(key, value)
		}
	}

	c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), responseBody)
}

// HealthCheck checks if the service answers its health endpoint
func (sc *ServiceClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sc.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service returned status %d", resp.StatusCode)
	}

	return nil
}

// ServiceStatus is the health of one backend
type ServiceStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// GetServiceStatus checks every service concurrently and reports whether
// all of them are healthy.
func (scs *ServiceClients) GetServiceStatus(ctx context.Context) (map[string]ServiceStatus, bool) {
	clients := []*ServiceClient{scs.Auth, scs.Business, scs.Records, scs.Notifier}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		status  = make(map[string]ServiceStatus, len(clients))
		healthy = true
	)
	for _, client := range clients {
		wg.Add(1)
		go func(client *ServiceClient) {
			defer wg.Done()
			err := client.HealthCheck(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				healthy = false
				status[client.name] = ServiceStatus{Error: err.Error()}
				return
			}
			status[client.name] = ServiceStatus{Healthy: true}
		}(client)
	}
	wg.Wait()

	return status, healthy
}
