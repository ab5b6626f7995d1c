package models

import (
	"time"
)

// NotificationType defines the type of notification
type NotificationType string

const (
	NotificationRedirectCreated NotificationType = "redirect.created"
	NotificationEntryThreshold  NotificationType = "entry.threshold"
)

// Notification is an outbound webhook delivery
type Notification struct {
	ID        string                 `json:"id"`
	Type      NotificationType       `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Attempts  int                    `json:"attempts"`
	CreatedAt time.Time              `json:"created_at"`
	SentAt    *time.Time             `json:"sent_at,omitempty"`
	Error     *string                `json:"error,omitempty"`
}
