// File: internal/notification/webhook.go
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/smartdevs17/notfound-triage/internal/models"
	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

const maxRetryDelay = 30 * time.Second

// WebhookSender delivers notifications to a single HTTP endpoint
type WebhookSender struct {
	config     *NotificationManagerConfig
	logger     *NotificationLogger
	httpClient *http.Client
}

// WebhookPayload defines the webhook payload structure
type WebhookPayload struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Version   string                 `json:"version"`
}

// WebhookResponse represents a webhook response
type WebhookResponse struct {
	StatusCode   int           `json:"status_code"`
	ResponseTime time.Duration `json:"response_time"`
	Success      bool          `json:"success"`
	Error        error         `json:"error,omitempty"`
	Body         string        `json:"body,omitempty"`
}

// NewWebhookSender creates a new webhook sender
func NewWebhookSender(config *NotificationManagerConfig, logger *NotificationLogger) *WebhookSender {
	return &WebhookSender{
		config: config,
		logger: logger.WithField("component", "webhook_sender"),
		httpClient: &http.Client{
			Timeout: config.NotificationTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// SendWebhook posts n to the configured URL, retrying with exponential
// backoff. n.Attempts is updated with the number of attempts made.
func (ws *WebhookSender) SendWebhook(ctx context.Context, n *models.Notification) error {
	payload := &WebhookPayload{
		ID:        n.ID,
		Type:      string(n.Type),
		Timestamp: n.CreatedAt,
		Source:    "notfound-triage",
		Data:      n.Data,
		Version:   "1.0",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal webhook payload", err.Error())
	}

	maxAttempts := ws.config.RetryAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var last *WebhookResponse
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := ws.calculateRetryDelay(attempt)
			ws.logger.LogRetryAttempt("webhook", attempt, maxAttempts, delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		n.Attempts = attempt
		last = ws.sendSingleWebhook(ctx, n.ID, body)
		ws.logger.LogWebhookResponse(ws.config.WebhookURL, last.StatusCode, last.ResponseTime, last.Error)
		if last.Success {
			return nil
		}
		// Client errors other than throttling will not succeed on retry.
		if last.StatusCode >= 400 && last.StatusCode < 500 && last.StatusCode != http.StatusTooManyRequests {
			break
		}
	}

	return last.Error
}

// sendSingleWebhook sends a single webhook request
func (ws *WebhookSender) sendSingleWebhook(ctx context.Context, id string, body []byte) *WebhookResponse {
	startTime := time.Now()
	response := &WebhookResponse{}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		response.Error = utils.NewAppError(utils.ErrCodeInternal, "Failed to create webhook request", err.Error())
		response.ResponseTime = time.Since(startTime)
		return response
	}
	ws.setRequestHeaders(req, id)

	resp, err := ws.httpClient.Do(req)
	response.ResponseTime = time.Since(startTime)
	if err != nil {
		response.Error = utils.NewAppError(utils.ErrCodeExternal, "Failed to send webhook", err.Error())
		return response
	}
	defer resp.Body.Close()

	response.StatusCode = resp.StatusCode

	// Read response body (limited to prevent memory issues)
	limited, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	response.Body = string(limited)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		response.Success = true
	} else {
		response.Error = utils.NewAppError(utils.ErrCodeExternal,
			"Webhook returned non-success status",
			fmt.Sprintf("status: %d, body: %s", resp.StatusCode, response.Body))
	}

	return response
}

// setRequestHeaders sets HTTP request headers
func (ws *WebhookSender) setRequestHeaders(req *http.Request, id string) {
	for key, value := range ws.config.Headers {
		req.Header.Set(key, value)
	}

	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "NotFound-Triage/1.0")
	}
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	// Stable across retries so receivers can deduplicate.
	req.Header.Set("X-Request-ID", id)
}

// calculateRetryDelay returns base * 2^(attempt-2), capped
func (ws *WebhookSender) calculateRetryDelay(attempt int) time.Duration {
	if ws.config.RetryDelay <= 0 {
		return 0
	}
	delay := ws.config.RetryDelay << uint(attempt-2)
	if delay <= 0 || delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}
