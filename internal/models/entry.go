package models

import "time"

// Device labels assigned by the classifier
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
)

// Extension categories assigned by the classifier
const (
	ExtensionNone  = ""
	ExtensionSpam  = "spam"
	ExtensionImage = "image"
)

// Classification is the result of labelling a single not-found request
type Classification struct {
	IsBot     bool   `json:"is_bot"`
	Device    string `json:"device"`
	Extension string `json:"extension,omitempty"`
}

// LogEntry is the aggregate of all not-found hits for one normalized path
type LogEntry struct {
	Path        string    `json:"path" db:"path"`
	Hits        int64     `json:"hits" db:"hits"`
	FirstSeen   time.Time `json:"first_seen" db:"first_seen"`
	LastSeen    time.Time `json:"last_seen" db:"last_seen"`
	IsBot       bool      `json:"is_bot" db:"is_bot"`
	Device      string    `json:"device" db:"device"`
	UserAgent   string    `json:"user_agent,omitempty" db:"user_agent"`
	IsIgnored   bool      `json:"is_ignored" db:"is_ignored"`
	HasRedirect bool      `json:"has_redirect" db:"has_redirect"`
}

// Clone returns a copy that callers may mutate freely
func (e *LogEntry) Clone() *LogEntry {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// Hit is a single inbound not-found notification from the serving pipeline
type Hit struct {
	RequestPath string    `json:"request_path"`
	UserAgent   string    `json:"user_agent"`
	Timestamp   time.Time `json:"timestamp"`
}
