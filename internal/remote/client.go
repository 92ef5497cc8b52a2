package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/platewise/mealsync/internal/config"
	"github.com/platewise/mealsync/internal/events"
	"github.com/platewise/mealsync/internal/models"
)

// Client handles HTTP communication with the PlateWise API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	logger     *events.Logger

	mu    sync.RWMutex
	token string

	// Retry configuration
	maxRetries int
	retryDelay time.Duration
}

// NewClient creates an API client.
func NewClient(cfg *config.APIConfig, logger *events.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		retryDelay: retryDelay,
		logger:     logger.WithField("component", "api_client"),
	}
}

// SetToken sets the authentication token used on subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current authentication token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do executes one JSON API call with transport-level retry. Transient
// failures (network errors, 408/429, 5xx) are retried with exponential
// backoff; anything else is mapped to *models.APIError and returned as
// is for the caller's taxonomy checks.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	url := c.baseURL + path

	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"method": method,
		"url":    url,
		"size":   len(body),
	}).Debug("Sending request")

	var (
		status    int
		requestID string
		respBody  []byte
	)

	err := c.retry(ctx, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if token := c.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		status = resp.StatusCode
		requestID = resp.Header.Get("X-Request-Id")

		if retryableStatus(status) {
			return apiErrorFrom(status, requestID, respBody)
		}

		return nil
	})

	if err != nil {
		return err
	}

	c.logger.WithFields(map[string]interface{}{
		"status": status,
		"size":   len(respBody),
	}).Debug("Received response")

	if status < 200 || status >= 300 {
		return apiErrorFrom(status, requestID, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}

	return nil
}

// retry executes a function with exponential backoff.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying request")

			select {
			case <-time.After(delay):
				delay *= 2 // Exponential backoff
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !retryableError(err) {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// retryableStatus reports HTTP statuses worth replaying.
func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		(status >= 500 && status < 600)
}

// retryableError treats network-level failures as transient and defers
// to the APIError taxonomy for everything the server answered.
func retryableError(err error) bool {
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

// apiErrorFrom maps an HTTP error response onto the error taxonomy.
// The body is decoded when the server sent a structured error; status
// fills the gaps otherwise.
func apiErrorFrom(status int, requestID string, body []byte) *models.APIError {
	apiErr := &models.APIError{}
	if len(body) > 0 {
		_ = json.Unmarshal(body, apiErr)
	}

	apiErr.StatusCode = status
	if apiErr.RequestID == "" {
		apiErr.RequestID = requestID
	}
	if apiErr.Message == "" {
		if msg := strings.TrimSpace(string(body)); msg != "" && len(msg) < 256 {
			apiErr.Message = msg
		} else {
			apiErr.Message = http.StatusText(status)
		}
	}
	if apiErr.Code == "" {
		apiErr.Code = codeForStatus(status)
	}

	return apiErr
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return models.ErrCodeAuth
	case status == http.StatusConflict:
		return models.ErrCodeConflict
	case status == http.StatusTooManyRequests:
		return models.ErrCodeRateLimit
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return models.ErrCodeValidation
	case status >= 500:
		return models.ErrCodeServer
	default:
		return models.ErrCodeNetwork
	}
}
