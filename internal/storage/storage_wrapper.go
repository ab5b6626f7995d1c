package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/notfound-triage/internal/metrics"
	"github.com/smartdevs17/notfound-triage/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metricsManager *metrics.Manager
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, metricsManager *metrics.Manager) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage:        storage,
		metricsManager: metricsManager,
	}
}

func (s *StorageWithMetrics) observe(operation, table string, start time.Time, err error) {
	if s.metricsManager == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(operation, table, status, time.Since(start))
}

// RecordHit upserts a hit and records metrics
func (s *StorageWithMetrics) RecordHit(ctx context.Context, hit *HitRecord) (*models.LogEntry, error) {
	start := time.Now()
	entry, err := s.Storage.RecordHit(ctx, hit)
	s.observe("upsert", "log_entries", start, err)
	return entry, err
}

// ListEntries loads the entry snapshot and records metrics
func (s *StorageWithMetrics) ListEntries(ctx context.Context) ([]*models.LogEntry, error) {
	start := time.Now()
	entries, err := s.Storage.ListEntries(ctx)
	s.observe("select", "log_entries", start, err)
	return entries, err
}

// DeleteEntry removes an entry and records metrics
func (s *StorageWithMetrics) DeleteEntry(ctx context.Context, path string) error {
	start := time.Now()
	err := s.Storage.DeleteEntry(ctx, path)
	s.observe("delete", "log_entries", start, err)
	return err
}

// DeleteAllEntries clears entries and records metrics
func (s *StorageWithMetrics) DeleteAllEntries(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := s.Storage.DeleteAllEntries(ctx)
	s.observe("delete_all", "log_entries", start, err)
	return n, err
}

// DeleteEntriesBefore prunes entries and records metrics
func (s *StorageWithMetrics) DeleteEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	start := time.Now()
	n, err := s.Storage.DeleteEntriesBefore(ctx, cutoff)
	s.observe("prune", "log_entries", start, err)
	return n, err
}

// SetEntryIgnored updates the flag and records metrics
func (s *StorageWithMetrics) SetEntryIgnored(ctx context.Context, path string, ignored bool) (*models.LogEntry, error) {
	start := time.Now()
	entry, err := s.Storage.SetEntryIgnored(ctx, path, ignored)
	s.observe("update", "log_entries", start, err)
	return entry, err
}

// SaveIgnorePattern stores a pattern and records metrics
func (s *StorageWithMetrics) SaveIgnorePattern(ctx context.Context, pattern *models.IgnorePattern) error {
	start := time.Now()
	err := s.Storage.SaveIgnorePattern(ctx, pattern)
	s.observe("insert", "ignore_patterns", start, err)
	return err
}

// DeleteIgnorePattern removes a pattern and records metrics
func (s *StorageWithMetrics) DeleteIgnorePattern(ctx context.Context, id string) error {
	start := time.Now()
	err := s.Storage.DeleteIgnorePattern(ctx, id)
	s.observe("delete", "ignore_patterns", start, err)
	return err
}

// CreateRedirect inserts a redirect and records metrics
func (s *StorageWithMetrics) CreateRedirect(ctx context.Context, redirect *models.Redirect, entryPath string, retire bool) (bool, error) {
	start := time.Now()
	deleted, err := s.Storage.CreateRedirect(ctx, redirect, entryPath, retire)
	s.observe("insert", "redirects", start, err)
	return deleted, err
}

// DeleteRedirect removes a redirect and records metrics
func (s *StorageWithMetrics) DeleteRedirect(ctx context.Context, source string) error {
	start := time.Now()
	err := s.Storage.DeleteRedirect(ctx, source)
	s.observe("delete", "redirects", start, err)
	return err
}
