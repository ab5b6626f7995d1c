// File: internal/notification/notification.go
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/smartdevs17/notfound-triage/internal/config"
	"github.com/smartdevs17/notfound-triage/internal/metrics"
	"github.com/smartdevs17/notfound-triage/internal/models"
	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

// Notifier publishes triage events. Notify never blocks the caller.
type Notifier interface {
	Start(ctx context.Context) error
	Stop() error
	IsHealthy() bool

	Notify(n *models.Notification) bool
	GetStats() *NotificationStats
}

// NotificationManager queues notifications and delivers them to a webhook
// from a fixed set of workers, throttled by a shared rate limiter.
type NotificationManager struct {
	config  *NotificationManagerConfig
	logger  *NotificationLogger
	sender  *WebhookSender
	limiter *rate.Limiter
	metrics *metrics.Manager

	mu      sync.RWMutex
	running bool
	queue   chan *models.Notification
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	statsMu sync.Mutex
	stats   NotificationStats
}

// NotificationManagerConfig holds notification manager configuration
type NotificationManagerConfig struct {
	WebhookURL          string            `json:"webhook_url"`
	Headers             map[string]string `json:"headers,omitempty"`
	Workers             int               `json:"workers"`
	QueueSize           int               `json:"queue_size"`
	NotificationTimeout time.Duration     `json:"notification_timeout"`
	RetryAttempts       int               `json:"retry_attempts"`
	RetryDelay          time.Duration     `json:"retry_delay"`
	RateLimit           float64           `json:"rate_limit"`
	RateBurst           int               `json:"rate_burst"`
}

// NotificationStats provides notification statistics
type NotificationStats struct {
	TotalNotificationsSent    uint64     `json:"total_notifications_sent"`
	TotalNotificationsFailed  uint64     `json:"total_notifications_failed"`
	TotalNotificationsDropped uint64     `json:"total_notifications_dropped"`
	QueueLength               int        `json:"queue_length"`
	LastError                 *string    `json:"last_error,omitempty"`
	LastErrorTime             *time.Time `json:"last_error_time,omitempty"`
}

// ConfigFromSettings maps the notifications config section
func ConfigFromSettings(cfg *config.NotificationConfig) *NotificationManagerConfig {
	return &NotificationManagerConfig{
		WebhookURL:          cfg.WebhookURL,
		Headers:             cfg.Headers,
		Workers:             cfg.Workers,
		QueueSize:           cfg.QueueSize,
		NotificationTimeout: cfg.Timeout,
		RetryAttempts:       cfg.MaxRetries,
		RetryDelay:          cfg.RetryDelay,
		RateLimit:           cfg.RateLimit,
		RateBurst:           cfg.RateBurst,
	}
}

// NewNotificationManager creates a new notification manager. metricsManager
// may be nil.
func NewNotificationManager(cfg *NotificationManagerConfig, metricsManager *metrics.Manager) *NotificationManager {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	logger := NewNotificationLogger()
	return &NotificationManager{
		config:  cfg,
		logger:  logger,
		sender:  NewWebhookSender(cfg, logger),
		limiter: rate.NewLimiter(limit, burst),
		metrics: metricsManager,
	}
}

// Start launches the delivery workers
func (nm *NotificationManager) Start(ctx context.Context) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if nm.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Notification manager already running", "")
	}
	if nm.config.WebhookURL == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Webhook URL is required", "")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	nm.cancel = cancel
	nm.queue = make(chan *models.Notification, nm.config.QueueSize)
	nm.running = true

	for i := 0; i < nm.config.Workers; i++ {
		nm.wg.Add(1)
		go nm.worker(workerCtx, nm.queue)
	}

	nm.logger.Info("Notification manager started", map[string]interface{}{
		"workers":    nm.config.Workers,
		"queue_size": nm.config.QueueSize,
		"url":        nm.config.WebhookURL,
	})
	return nil
}

// Stop stops accepting notifications and waits for queued ones to be
// attempted. The context passed to Start bounds how long that can take.
func (nm *NotificationManager) Stop() error {
	nm.mu.Lock()
	if !nm.running {
		nm.mu.Unlock()
		return nil
	}
	nm.running = false
	close(nm.queue)
	nm.mu.Unlock()

	nm.wg.Wait()
	nm.cancel()

	nm.logger.Info("Notification manager stopped")
	return nil
}

// IsHealthy returns whether the notification manager is running
func (nm *NotificationManager) IsHealthy() bool {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	return nm.running
}

// Notify enqueues n for delivery. It returns false when the manager is not
// running or the queue is full.
func (nm *NotificationManager) Notify(n *models.Notification) bool {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	nm.mu.RLock()
	defer nm.mu.RUnlock()

	if !nm.running {
		return false
	}

	select {
	case nm.queue <- n:
		return true
	default:
		nm.statsMu.Lock()
		nm.stats.TotalNotificationsDropped++
		nm.statsMu.Unlock()
		nm.logger.LogDropped(string(n.Type), nm.config.QueueSize)
		if nm.metrics != nil {
			nm.metrics.GetPrometheusMetrics().RecordNotificationFailure("webhook", string(n.Type), "queue_full")
		}
		return false
	}
}

// GetStats returns a snapshot of delivery statistics
func (nm *NotificationManager) GetStats() *NotificationStats {
	nm.statsMu.Lock()
	stats := nm.stats
	nm.statsMu.Unlock()

	nm.mu.RLock()
	if nm.running {
		stats.QueueLength = len(nm.queue)
	}
	nm.mu.RUnlock()
	return &stats
}

func (nm *NotificationManager) worker(ctx context.Context, queue <-chan *models.Notification) {
	defer nm.wg.Done()
	for n := range queue {
		nm.deliver(ctx, n)
	}
}

func (nm *NotificationManager) deliver(ctx context.Context, n *models.Notification) {
	if err := nm.limiter.Wait(ctx); err != nil {
		nm.recordFailure(n, err)
		return
	}

	start := time.Now()
	err := nm.sender.SendWebhook(ctx, n)
	if err != nil {
		nm.recordFailure(n, err)
		return
	}

	sentAt := time.Now().UTC()
	n.SentAt = &sentAt

	nm.statsMu.Lock()
	nm.stats.TotalNotificationsSent++
	nm.statsMu.Unlock()

	nm.logger.LogNotificationSuccess(n.ID, string(n.Type), n.Attempts, time.Since(start))
	if nm.metrics != nil {
		nm.metrics.GetPrometheusMetrics().RecordNotificationSent("webhook", string(n.Type), time.Since(start))
	}
}

func (nm *NotificationManager) recordFailure(n *models.Notification, err error) {
	msg := err.Error()
	now := time.Now().UTC()
	n.Error = &msg

	nm.statsMu.Lock()
	nm.stats.TotalNotificationsFailed++
	nm.stats.LastError = &msg
	nm.stats.LastErrorTime = &now
	nm.statsMu.Unlock()

	nm.logger.LogNotificationFailure(n.ID, string(n.Type), err, n.Attempts)
	if nm.metrics != nil {
		nm.metrics.GetPrometheusMetrics().RecordNotificationFailure("webhook", string(n.Type), utils.ErrorCode(err))
	}
}

// NopNotifier discards every notification. It is used when webhooks are
// disabled.
type NopNotifier struct{}

func (NopNotifier) Start(ctx context.Context) error { return nil }
func (NopNotifier) Stop() error { return nil }
func (NopNotifier) IsHealthy() bool { return true }
func (NopNotifier) Notify(n *models.Notification) bool { return false }
func (NopNotifier) GetStats() *NotificationStats { return &NotificationStats{} }

// NewRedirectCreated builds the event emitted after a redirect is stored so
// the redirect-serving layer can refresh.
func NewRedirectCreated(result *models.RedirectResult, entryPath string) *models.Notification {
	return &models.Notification{
		Type: models.NotificationRedirectCreated,
		Data: map[string]interface{}{
			"source":        result.Redirect.Source,
			"target":        result.Redirect.Target,
			"status":        string(result.Redirect.Status),
			"http_status":   result.Redirect.Status.HTTPStatus(),
			"entry_path":    entryPath,
			"entry_deleted": result.EntryDeleted,
		},
	}
}

// NewEntryThreshold builds the event emitted when an entry's hit count first
// reaches threshold.
func NewEntryThreshold(entry *models.LogEntry, threshold int64) *models.Notification {
	return &models.Notification{
		Type: models.NotificationEntryThreshold,
		Data: map[string]interface{}{
			"path":       entry.Path,
			"hits":       entry.Hits,
			"threshold":  threshold,
			"is_bot":     entry.IsBot,
			"device":     entry.Device,
			"first_seen": entry.FirstSeen,
			"last_seen":  entry.LastSeen,
		},
	}
}
