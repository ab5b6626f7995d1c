// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/notfound-triage/internal/models"
)

// Storage defines the persistence contract for log entries, ignore patterns
// and redirects. Implementations must make RecordHit an atomic per-path upsert
// and must not serialize writes for unrelated paths behind one lock.
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Log entry operations
	RecordHit(ctx context.Context, hit *HitRecord) (*models.LogEntry, error)
	GetEntry(ctx context.Context, path string) (*models.LogEntry, error)
	ListEntries(ctx context.Context) ([]*models.LogEntry, error)
	DeleteEntry(ctx context.Context, path string) error
	DeleteAllEntries(ctx context.Context) (int64, error)
	DeleteEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error)
	SetEntryIgnored(ctx context.Context, path string, ignored bool) (*models.LogEntry, error)

	// Ignore pattern operations
	SaveIgnorePattern(ctx context.Context, pattern *models.IgnorePattern) error
	ListIgnorePatterns(ctx context.Context) ([]*models.IgnorePattern, error)
	DeleteIgnorePattern(ctx context.Context, id string) error

	// Redirect operations. CreateRedirect fails with DUPLICATE_SOURCE when the
	// source is taken; otherwise, in the same atomic step, it deletes the entry
	// at entryPath (retire) or flags it as redirected. It reports whether an
	// entry was actually deleted.
	CreateRedirect(ctx context.Context, redirect *models.Redirect, entryPath string, retire bool) (bool, error)
	GetRedirect(ctx context.Context, source string) (*models.Redirect, error)
	ListRedirects(ctx context.Context) ([]*models.Redirect, error)
	DeleteRedirect(ctx context.Context, source string) error

	// Statistics and monitoring
	GetStats(ctx context.Context) (*StorageStats, error)
	GetHealth() *StorageHealth
}

// HitRecord is one classified not-found hit ready to be counted
type HitRecord struct {
	Path           string
	Classification models.Classification
	UserAgent      string
	SeenAt         time.Time
	Ignored        bool
}

// StorageStats provides storage statistics
type StorageStats struct {
	Backend        string     `json:"backend"`
	TotalEntries   int64      `json:"total_entries"`
	TotalHits      int64      `json:"total_hits"`
	TotalPatterns  int64      `json:"total_patterns"`
	TotalRedirects int64      `json:"total_redirects"`
	OldestEntry    *time.Time `json:"oldest_entry,omitempty"`
	LatestEntry    *time.Time `json:"latest_entry,omitempty"`
}

// StorageHealth reports backend reachability
type StorageHealth struct {
	Healthy bool   `json:"healthy"`
	Backend string `json:"backend"`
	Error   string `json:"error,omitempty"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
	BusyTimeout      time.Duration `json:"busy_timeout"`
	RedisAddr        string        `json:"redis_addr"`
	RedisPassword    string        `json:"redis_password"`
	RedisDB          int           `json:"redis_db"`
	KeyPrefix        string        `json:"key_prefix"`
}

func healthFromPing(backend string, err error) *StorageHealth {
	h := &StorageHealth{Healthy: err == nil, Backend: backend}
	if err != nil {
		h.Error = err.Error()
	}
	return h
}
