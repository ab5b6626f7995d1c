package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/notfound-triage/internal/models"
	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

const memoryShardCount = 64

type entryShard struct {
	mu      sync.RWMutex
	entries map[string]*models.LogEntry
}

// MemoryStorage keeps everything in process. Entries are spread over
// independently locked shards keyed by a hash of the path, so hits for
// different paths rarely contend. Nothing survives a restart.
type MemoryStorage struct {
	shards [memoryShardCount]*entryShard
	logger *logrus.Entry

	mu        sync.RWMutex
	patterns  map[string]*models.IgnorePattern
	redirects map[string]*models.Redirect
}

// NewMemoryStorage creates an empty in-memory storage
func NewMemoryStorage() *MemoryStorage {
	m := &MemoryStorage{
		logger:    utils.GetLogger().WithField("component", "memory_storage"),
		patterns:  make(map[string]*models.IgnorePattern),
		redirects: make(map[string]*models.Redirect),
	}
	for i := range m.shards {
		m.shards[i] = &entryShard{entries: make(map[string]*models.LogEntry)}
	}
	return m
}

func (m *MemoryStorage) shard(path string) *entryShard {
	return m.shards[xxhash.Sum64String(path)%memoryShardCount]
}

// Connect is a no-op for the in-memory backend
func (m *MemoryStorage) Connect() error {
	m.logger.Warn("Using in-memory storage; data will not survive a restart")
	return nil
}

// Close is a no-op for the in-memory backend
func (m *MemoryStorage) Close() error { return nil }

// Ping always succeeds
func (m *MemoryStorage) Ping() error { return nil }

// Migrate is a no-op for the in-memory backend
func (m *MemoryStorage) Migrate() error { return nil }

// RecordHit increments or creates the entry under its shard lock. A new
// entry whose path already has a redirect starts flagged.
func (m *MemoryStorage) RecordHit(ctx context.Context, hit *HitRecord) (*models.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, redirected := m.redirects[hit.Path]

	s := m.shard(hit.Path)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[hit.Path]
	if !ok {
		e = &models.LogEntry{
			Path:        hit.Path,
			FirstSeen:   hit.SeenAt,
			LastSeen:    hit.SeenAt,
			HasRedirect: redirected,
		}
		s.entries[hit.Path] = e
	}

	e.Hits++
	if hit.SeenAt.Before(e.FirstSeen) {
		e.FirstSeen = hit.SeenAt
	}
	if hit.SeenAt.After(e.LastSeen) {
		e.LastSeen = hit.SeenAt
	}
	e.IsBot = hit.Classification.IsBot
	e.Device = hit.Classification.Device
	e.UserAgent = hit.UserAgent
	e.IsIgnored = hit.Ignored

	return e.Clone(), nil
}

// GetEntry retrieves a single entry by path
func (m *MemoryStorage) GetEntry(ctx context.Context, path string) (*models.LogEntry, error) {
	s := m.shard(path)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[path]
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Log entry not found", path)
	}
	return e.Clone(), nil
}

// ListEntries copies every entry, locking one shard at a time
func (m *MemoryStorage) ListEntries(ctx context.Context) ([]*models.LogEntry, error) {
	entries := []*models.LogEntry{}
	for _, s := range m.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			entries = append(entries, e.Clone())
		}
		s.mu.RUnlock()
	}
	return entries, nil
}

// DeleteEntry removes an entry; deleting a missing path is a no-op
func (m *MemoryStorage) DeleteEntry(ctx context.Context, path string) error {
	s := m.shard(path)
	s.mu.Lock()
	delete(s.entries, path)
	s.mu.Unlock()
	return nil
}

// DeleteAllEntries removes every entry
func (m *MemoryStorage) DeleteAllEntries(ctx context.Context) (int64, error) {
	var n int64
	for _, s := range m.shards {
		s.mu.Lock()
		n += int64(len(s.entries))
		s.entries = make(map[string]*models.LogEntry)
		s.mu.Unlock()
	}
	return n, nil
}

// DeleteEntriesBefore removes entries last seen before cutoff
func (m *MemoryStorage) DeleteEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for _, s := range m.shards {
		s.mu.Lock()
		for path, e := range s.entries {
			if e.LastSeen.Before(cutoff) {
				delete(s.entries, path)
				n++
			}
		}
		s.mu.Unlock()
	}
	return n, nil
}

// SetEntryIgnored updates only the denormalized ignored flag
func (m *MemoryStorage) SetEntryIgnored(ctx context.Context, path string, ignored bool) (*models.LogEntry, error) {
	s := m.shard(path)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[path]
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Log entry not found", path)
	}
	e.IsIgnored = ignored
	return e.Clone(), nil
}

// SaveIgnorePattern stores a validated pattern
func (m *MemoryStorage) SaveIgnorePattern(ctx context.Context, pattern *models.IgnorePattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := *pattern
	m.patterns[p.ID] = &p
	return nil
}

// ListIgnorePatterns returns patterns ordered by creation time
func (m *MemoryStorage) ListIgnorePatterns(ctx context.Context) ([]*models.IgnorePattern, error) {
	m.mu.RLock()
	patterns := make([]*models.IgnorePattern, 0, len(m.patterns))
	for _, p := range m.patterns {
		c := *p
		patterns = append(patterns, &c)
	}
	m.mu.RUnlock()

	sortPatterns(patterns)
	return patterns, nil
}

// DeleteIgnorePattern removes a pattern; missing ids are a no-op
func (m *MemoryStorage) DeleteIgnorePattern(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.patterns, id)
	m.mu.Unlock()
	return nil
}

// CreateRedirect checks and inserts under the redirect lock, then updates the
// entry under its shard lock. Lock order is always redirects then shard.
func (m *MemoryStorage) CreateRedirect(ctx context.Context, redirect *models.Redirect, entryPath string, retire bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.redirects[redirect.Source]; exists {
		return false, utils.NewAppError(utils.ErrCodeDuplicateSource, "Redirect already exists for source", redirect.Source)
	}
	r := *redirect
	m.redirects[r.Source] = &r

	s := m.shard(entryPath)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryPath]
	if !ok {
		return false, nil
	}
	if retire {
		delete(s.entries, entryPath)
		return true, nil
	}
	e.HasRedirect = true
	return false, nil
}

// GetRedirect retrieves a redirect by source path
func (m *MemoryStorage) GetRedirect(ctx context.Context, source string) (*models.Redirect, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.redirects[source]
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Redirect not found", source)
	}
	c := *r
	return &c, nil
}

// ListRedirects returns redirects ordered by source
func (m *MemoryStorage) ListRedirects(ctx context.Context) ([]*models.Redirect, error) {
	m.mu.RLock()
	redirects := make([]*models.Redirect, 0, len(m.redirects))
	for _, r := range m.redirects {
		c := *r
		redirects = append(redirects, &c)
	}
	m.mu.RUnlock()

	sortRedirects(redirects)
	return redirects, nil
}

// DeleteRedirect removes a redirect; missing sources are a no-op
func (m *MemoryStorage) DeleteRedirect(ctx context.Context, source string) error {
	m.mu.Lock()
	delete(m.redirects, source)
	m.mu.Unlock()
	return nil
}

// GetStats returns aggregate counts
func (m *MemoryStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	entries, _ := m.ListEntries(ctx)
	stats := statsFromEntries("memory", entries)

	m.mu.RLock()
	stats.TotalPatterns = int64(len(m.patterns))
	stats.TotalRedirects = int64(len(m.redirects))
	m.mu.RUnlock()

	return stats, nil
}

// GetHealth always reports healthy
func (m *MemoryStorage) GetHealth() *StorageHealth {
	return healthFromPing("memory", nil)
}

func statsFromEntries(backend string, entries []*models.LogEntry) *StorageStats {
	stats := &StorageStats{Backend: backend, TotalEntries: int64(len(entries))}
	for _, e := range entries {
		stats.TotalHits += e.Hits
		if stats.OldestEntry == nil || e.FirstSeen.Before(*stats.OldestEntry) {
			t := e.FirstSeen
			stats.OldestEntry = &t
		}
		if stats.LatestEntry == nil || e.LastSeen.After(*stats.LatestEntry) {
			t := e.LastSeen
			stats.LatestEntry = &t
		}
	}
	return stats
}

func sortPatterns(patterns []*models.IgnorePattern) {
	sort.Slice(patterns, func(i, j int) bool {
		if !patterns[i].CreatedAt.Equal(patterns[j].CreatedAt) {
			return patterns[i].CreatedAt.Before(patterns[j].CreatedAt)
		}
		return patterns[i].ID < patterns[j].ID
	})
}

func sortRedirects(redirects []*models.Redirect) {
	sort.Slice(redirects, func(i, j int) bool { return redirects[i].Source < redirects[j].Source })
}
