// Package triage is the operational facade of the not-found triage engine. It
// ties the classifier, the pattern matcher, the entry store and the query
// pipeline together and exposes the admin operations.
package triage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/notfound-triage/internal/classifier"
	"github.com/smartdevs17/notfound-triage/internal/config"
	"github.com/smartdevs17/notfound-triage/internal/metrics"
	"github.com/smartdevs17/notfound-triage/internal/models"
	"github.com/smartdevs17/notfound-triage/internal/notification"
	"github.com/smartdevs17/notfound-triage/internal/pattern"
	"github.com/smartdevs17/notfound-triage/internal/query"
	"github.com/smartdevs17/notfound-triage/internal/storage"
	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

// Options tunes the service
type Options struct {
	ExportTimeout  time.Duration
	DefaultPerPage int
	HitThreshold   int64
}

// OptionsFromConfig maps the relevant config sections
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		ExportTimeout:  cfg.Query.ExportTimeout,
		DefaultPerPage: cfg.Query.DefaultPerPage,
	}
	if cfg.Notifications.Enabled {
		opts.HitThreshold = cfg.Notifications.HitThreshold
	}
	return opts
}

// Service implements the write path and the admin operations
type Service struct {
	store    storage.Storage
	matcher  *pattern.Matcher
	notifier notification.Notifier
	metrics  *metrics.Manager
	opts     Options
	logger   *logrus.Entry
	now      func() time.Time

	// patternMu serializes pattern edits together with the flag refresh
	// that follows them.
	patternMu sync.Mutex
}

// NewService creates a service. notifier and metricsManager may be nil.
func NewService(store storage.Storage, matcher *pattern.Matcher, notifier notification.Notifier, metricsManager *metrics.Manager, opts Options) *Service {
	if notifier == nil {
		notifier = notification.NopNotifier{}
	}
	if opts.ExportTimeout <= 0 {
		opts.ExportTimeout = 30 * time.Second
	}
	opts.DefaultPerPage = query.NormalizePerPage(opts.DefaultPerPage)

	return &Service{
		store:    store,
		matcher:  matcher,
		notifier: notifier,
		metrics:  metricsManager,
		opts:     opts,
		logger:   utils.GetLogger().WithField("component", "triage_service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// LoadPatterns replaces the matcher's set with the stored patterns
func (s *Service) LoadPatterns(ctx context.Context) error {
	patterns, err := s.store.ListIgnorePatterns(ctx)
	if err != nil {
		return err
	}
	s.matcher.Load(patterns)
	if s.metrics != nil {
		s.metrics.GetPrometheusMetrics().UpdateIgnorePatterns(s.matcher.Len())
	}
	s.logger.WithField("patterns", s.matcher.Len()).Debug("Ignore patterns loaded")
	return nil
}

// RecordHit normalizes, classifies and counts one not-found hit
func (s *Service) RecordHit(ctx context.Context, hit models.Hit) (*models.LogEntry, error) {
	if strings.TrimSpace(hit.RequestPath) == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Request path is required")
	}
	if hit.Timestamp.IsZero() {
		hit.Timestamp = s.now()
	}

	path := utils.NormalizePath(hit.RequestPath)
	entry, err := s.store.RecordHit(ctx, &storage.HitRecord{
		Path:           path,
		Classification: classifier.Classify(path, hit.UserAgent),
		UserAgent:      hit.UserAgent,
		SeenAt:         hit.Timestamp.UTC(),
		Ignored:        s.matcher.IsIgnored(path),
	})
	if err != nil {
		return nil, err
	}

	if s.opts.HitThreshold > 0 && entry.Hits == s.opts.HitThreshold {
		s.notifier.Notify(notification.NewEntryThreshold(entry, s.opts.HitThreshold))
	}
	return entry, nil
}

// Get returns one entry with its ignored flag evaluated live
func (s *Service) Get(ctx context.Context, path string) (*models.LogEntry, error) {
	path = utils.NormalizePath(path)
	entry, err := s.store.GetEntry(ctx, path)
	if err != nil {
		return nil, err
	}
	entry.IsIgnored = s.matcher.IsIgnored(path)
	return entry, nil
}

// List returns one page of the filtered, sorted view
func (s *Service) List(ctx context.Context, opts query.Options) (*query.Result, error) {
	if opts.PerPage == 0 {
		opts.PerPage = s.opts.DefaultPerPage
	}
	entries, err := s.store.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	return query.Run(ctx, entries, s.matcher, opts)
}

// DeleteEntry removes one entry. Missing paths are a no-op.
func (s *Service) DeleteEntry(ctx context.Context, path string) error {
	return s.store.DeleteEntry(ctx, utils.NormalizePath(path))
}

// ClearAll removes every entry and reports how many were removed
func (s *Service) ClearAll(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteAllEntries(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.WithField("deleted", n).Info("Cleared all log entries")
	return n, nil
}

// Ignore suppresses path with an exact pattern. A path that is already
// ignored, by any pattern, gets no new pattern.
func (s *Service) Ignore(ctx context.Context, path string) (*models.LogEntry, error) {
	path = utils.NormalizePath(path)
	if _, err := s.store.GetEntry(ctx, path); err != nil {
		return nil, err
	}

	s.patternMu.Lock()
	defer s.patternMu.Unlock()

	if !s.matcher.IsIgnored(path) {
		p := &models.IgnorePattern{
			ID:        uuid.NewString(),
			Type:      models.PatternExact,
			Pattern:   path,
			CreatedAt: s.now(),
		}
		if err := s.store.SaveIgnorePattern(ctx, p); err != nil {
			return nil, err
		}
		if err := s.LoadPatterns(ctx); err != nil {
			return nil, err
		}
		s.logger.WithFields(logrus.Fields{"path": path, "pattern_id": p.ID}).Info("Entry ignored")
	}

	return s.store.SetEntryIgnored(ctx, path, true)
}

// Unignore removes the exact patterns for path. The entry stays ignored when
// a wildcard or regex pattern still matches it.
func (s *Service) Unignore(ctx context.Context, path string) (*models.LogEntry, error) {
	path = utils.NormalizePath(path)
	if _, err := s.store.GetEntry(ctx, path); err != nil {
		return nil, err
	}

	s.patternMu.Lock()
	defer s.patternMu.Unlock()

	removed := 0
	for _, c := range s.matcher.Patterns() {
		if !c.IsExactFor(path) {
			continue
		}
		if err := s.store.DeleteIgnorePattern(ctx, c.ID); err != nil {
			return nil, err
		}
		removed++
	}
	if removed > 0 {
		if err := s.LoadPatterns(ctx); err != nil {
			return nil, err
		}
		s.logger.WithFields(logrus.Fields{"path": path, "removed": removed}).Info("Entry unignored")
	}

	return s.store.SetEntryIgnored(ctx, path, s.matcher.IsIgnored(path))
}

// CreateIgnorePattern validates, stores and activates a pattern. A pattern
// that fails to compile is never stored.
func (s *Service) CreateIgnorePattern(ctx context.Context, patternType models.PatternType, source string) (*models.IgnorePattern, error) {
	patternType = models.PatternType(strings.ToLower(strings.TrimSpace(string(patternType))))
	source = strings.TrimSpace(source)
	if _, err := pattern.Compile(patternType, source); err != nil {
		return nil, err
	}

	p := &models.IgnorePattern{
		ID:        uuid.NewString(),
		Type:      patternType,
		Pattern:   source,
		CreatedAt: s.now(),
	}

	s.patternMu.Lock()
	defer s.patternMu.Unlock()

	if err := s.store.SaveIgnorePattern(ctx, p); err != nil {
		return nil, err
	}
	if err := s.LoadPatterns(ctx); err != nil {
		return nil, err
	}
	s.refreshFlags(ctx)

	s.logger.WithFields(logrus.Fields{
		"pattern_id": p.ID,
		"type":       p.Type,
		"pattern":    p.Pattern,
	}).Info("Ignore pattern created")
	return p, nil
}

// DeleteIgnorePattern removes a pattern. Unknown ids are a no-op.
func (s *Service) DeleteIgnorePattern(ctx context.Context, id string) error {
	s.patternMu.Lock()
	defer s.patternMu.Unlock()

	if err := s.store.DeleteIgnorePattern(ctx, id); err != nil {
		return err
	}
	if err := s.LoadPatterns(ctx); err != nil {
		return err
	}
	s.refreshFlags(ctx)
	return nil
}

// ListPatterns returns the stored patterns in creation order
func (s *Service) ListPatterns(ctx context.Context) ([]*models.IgnorePattern, error) {
	return s.store.ListIgnorePatterns(ctx)
}

// ListRedirects returns every redirect ordered by source
func (s *Service) ListRedirects(ctx context.Context) ([]*models.Redirect, error) {
	return s.store.ListRedirects(ctx)
}

// DeleteRedirect removes a redirect. Unknown sources are a no-op.
func (s *Service) DeleteRedirect(ctx context.Context, source string) error {
	return s.store.DeleteRedirect(ctx, utils.NormalizePath(source))
}

// Stats returns storage statistics
func (s *Service) Stats(ctx context.Context) (*storage.StorageStats, error) {
	return s.store.GetStats(ctx)
}

// Health reports storage reachability
func (s *Service) Health() *storage.StorageHealth {
	return s.store.GetHealth()
}

// refreshFlags brings the denormalized ignored flag of every stored entry in
// line with the current pattern set. Failures are logged only: listings never
// read the flag.
func (s *Service) refreshFlags(ctx context.Context) {
	entries, err := s.store.ListEntries(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to list entries for ignored flag refresh")
		return
	}

	updated := 0
	for _, e := range entries {
		ignored := s.matcher.IsIgnored(e.Path)
		if ignored == e.IsIgnored {
			continue
		}
		if _, err := s.store.SetEntryIgnored(ctx, e.Path, ignored); err != nil {
			if errors.Is(err, utils.ErrNotFound) {
				continue
			}
			s.logger.WithFields(logrus.Fields{"path": e.Path, "error": err}).Warn("Failed to refresh ignored flag")
			continue
		}
		updated++
	}

	if updated > 0 {
		s.logger.WithField("updated", updated).Debug("Refreshed ignored flags")
	}
}
