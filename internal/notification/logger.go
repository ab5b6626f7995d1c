// File: internal/notification/logger.go
package notification

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

// NotificationLogger handles logging for notification operations
type NotificationLogger struct {
	entry *logrus.Entry
}

// NewNotificationLogger creates a logger tagged with the notification component
func NewNotificationLogger() *NotificationLogger {
	return &NotificationLogger{
		entry: utils.GetLogger().WithField("component", "notification"),
	}
}

// WithContext adds context to the logger
func (nl *NotificationLogger) WithContext(context map[string]interface{}) *NotificationLogger {
	return &NotificationLogger{entry: nl.entry.WithFields(logrus.Fields(context))}
}

// WithField adds a single field to the logger context
func (nl *NotificationLogger) WithField(key string, value interface{}) *NotificationLogger {
	return &NotificationLogger{entry: nl.entry.WithField(key, value)}
}

// Debug logs a debug message
func (nl *NotificationLogger) Debug(message string, context ...map[string]interface{}) {
	nl.with(context).Debug(message)
}

// Info logs an info message
func (nl *NotificationLogger) Info(message string, context ...map[string]interface{}) {
	nl.with(context).Info(message)
}

// Warn logs a warning message
func (nl *NotificationLogger) Warn(message string, context ...map[string]interface{}) {
	nl.with(context).Warn(message)
}

// Error logs an error message
func (nl *NotificationLogger) Error(message string, context ...map[string]interface{}) {
	nl.with(context).Error(message)
}

func (nl *NotificationLogger) with(context []map[string]interface{}) *logrus.Entry {
	entry := nl.entry
	for _, ctx := range context {
		entry = entry.WithFields(logrus.Fields(ctx))
	}
	return entry
}

// LogNotificationSuccess logs a delivered notification
func (nl *NotificationLogger) LogNotificationSuccess(notificationID, notificationType string, attempts int, duration time.Duration) {
	nl.Info("Notification delivered", map[string]interface{}{
		"notification_id":   notificationID,
		"notification_type": notificationType,
		"attempts":          attempts,
		"duration_ms":       duration.Milliseconds(),
	})
}

// LogNotificationFailure logs a notification that exhausted its retries
func (nl *NotificationLogger) LogNotificationFailure(notificationID, notificationType string, err error, attempts int) {
	nl.Error("Notification failed", map[string]interface{}{
		"notification_id":   notificationID,
		"notification_type": notificationType,
		"attempts":          attempts,
		"error":             err.Error(),
	})
}

// LogWebhookResponse logs a webhook response
func (nl *NotificationLogger) LogWebhookResponse(url string, statusCode int, duration time.Duration, err error) {
	context := map[string]interface{}{
		"url":         url,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}

	if err != nil {
		context["error"] = err.Error()
		nl.Warn("Webhook attempt failed", context)
	} else {
		nl.Debug("Webhook completed", context)
	}
}

// LogRetryAttempt logs a retry attempt
func (nl *NotificationLogger) LogRetryAttempt(operation string, attempt int, maxAttempts int, delay time.Duration) {
	nl.Debug("Retrying operation", map[string]interface{}{
		"operation":    operation,
		"attempt":      attempt,
		"max_attempts": maxAttempts,
		"retry_delay":  delay.String(),
	})
}

// LogDropped logs a notification rejected by a full queue
func (nl *NotificationLogger) LogDropped(notificationType string, queueSize int) {
	nl.Warn("Notification queue full, dropping notification", map[string]interface{}{
		"notification_type": notificationType,
		"queue_size":        queueSize,
	})
}
