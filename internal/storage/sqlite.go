// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/smartdevs17/notfound-triage/internal/models"
	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

const sqliteEntryColumns = `path, hits, first_seen, last_seen, is_bot, device, user_agent, is_ignored, has_redirect`

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Entry
	migrations []*Migration
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.GetLogger().WithField("component", "sqlite_storage"),
		migrations: GetSQLiteMigrations(),
	}
}

// dsn appends the per-connection pragmas. Every pooled connection needs its
// own busy timeout, so they go in the DSN rather than a one-off Exec.
func (s *SQLiteStorage) dsn() string {
	busy := s.config.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	sep := "?"
	if strings.Contains(s.config.ConnectionString, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		s.config.ConnectionString, sep, busy.Milliseconds())
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	// Ensure directory exists
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// Configure connection pool
	maxConns := s.config.MaxConnections
	if maxConns <= 0 {
		maxConns = 4
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxIdleTime(s.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to ping SQLite database", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeStorageUnavailable, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	return applyMigrations(s.db, s.migrations,
		"INSERT INTO schema_migrations (version, description, checksum) VALUES (?, ?, ?)", s.logger)
}

// RecordHit upserts the entry for hit.Path in a single statement
func (s *SQLiteStorage) RecordHit(ctx context.Context, hit *HitRecord) (*models.LogEntry, error) {
	query := `
		INSERT INTO log_entries
		(path, hits, first_seen, last_seen, is_bot, device, user_agent, is_ignored, has_redirect)
		VALUES (?, 1, ?, ?, ?, ?, ?, ?, EXISTS(SELECT 1 FROM redirects WHERE source = ?))
		ON CONFLICT(path) DO UPDATE SET
			hits = log_entries.hits + 1,
			first_seen = MIN(log_entries.first_seen, excluded.first_seen),
			last_seen = MAX(log_entries.last_seen, excluded.last_seen),
			is_bot = excluded.is_bot,
			device = excluded.device,
			user_agent = excluded.user_agent,
			is_ignored = excluded.is_ignored
		RETURNING ` + sqliteEntryColumns

	seen := hit.SeenAt.UnixNano()
	row := s.db.QueryRowContext(ctx, query,
		hit.Path, seen, seen, hit.Classification.IsBot, hit.Classification.Device,
		hit.UserAgent, hit.Ignored, hit.Path)

	entry, err := scanSQLiteEntry(row)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to record hit", err.Error())
	}
	return entry, nil
}

// GetEntry retrieves a single entry by path
func (s *SQLiteStorage) GetEntry(ctx context.Context, path string) (*models.LogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sqliteEntryColumns+" FROM log_entries WHERE path = ?", path)

	entry, err := scanSQLiteEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "Log entry not found", path)
		}
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to get log entry", err.Error())
	}
	return entry, nil
}

// ListEntries returns every stored entry in no particular order
func (s *SQLiteStorage) ListEntries(ctx context.Context) ([]*models.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+sqliteEntryColumns+" FROM log_entries")
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to query log entries", err.Error())
	}
	defer rows.Close()

	entries := []*models.LogEntry{}
	for rows.Next() {
		entry, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to scan log entry", err.Error())
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to iterate log entries", err.Error())
	}

	return entries, nil
}

// DeleteEntry removes an entry; deleting a missing path is a no-op
func (s *SQLiteStorage) DeleteEntry(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM log_entries WHERE path = ?", path); err != nil {
		return utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to delete log entry", err.Error())
	}
	return nil
}

// DeleteAllEntries removes every entry
func (s *SQLiteStorage) DeleteAllEntries(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM log_entries")
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to clear log entries", err.Error())
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// DeleteEntriesBefore removes entries last seen before cutoff
func (s *SQLiteStorage) DeleteEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM log_entries WHERE last_seen < ?", cutoff.UnixNano())
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to delete stale log entries", err.Error())
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// SetEntryIgnored updates only the denormalized ignored flag
func (s *SQLiteStorage) SetEntryIgnored(ctx context.Context, path string, ignored bool) (*models.LogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		"UPDATE log_entries SET is_ignored = ? WHERE path = ? RETURNING "+sqliteEntryColumns,
		ignored, path)

	entry, err := scanSQLiteEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "Log entry not found", path)
		}
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to update ignored flag", err.Error())
	}
	return entry, nil
}

// SaveIgnorePattern stores a validated pattern
func (s *SQLiteStorage) SaveIgnorePattern(ctx context.Context, pattern *models.IgnorePattern) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO ignore_patterns (id, type, pattern, created_at) VALUES (?, ?, ?, ?)",
		pattern.ID, string(pattern.Type), pattern.Pattern, pattern.CreatedAt.UnixNano())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to save ignore pattern", err.Error())
	}
	return nil
}

// ListIgnorePatterns returns patterns ordered by creation time
func (s *SQLiteStorage) ListIgnorePatterns(ctx context.Context) ([]*models.IgnorePattern, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, type, pattern, created_at FROM ignore_patterns ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to query ignore patterns", err.Error())
	}
	defer rows.Close()

	patterns := []*models.IgnorePattern{}
	for rows.Next() {
		var p models.IgnorePattern
		var patternType string
		var created int64
		if err := rows.Scan(&p.ID, &patternType, &p.Pattern, &created); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to scan ignore pattern", err.Error())
		}
		p.Type = models.PatternType(patternType)
		p.CreatedAt = time.Unix(0, created).UTC()
		patterns = append(patterns, &p)
	}
	return patterns, rows.Err()
}

// DeleteIgnorePattern removes a pattern; missing ids are a no-op
func (s *SQLiteStorage) DeleteIgnorePattern(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM ignore_patterns WHERE id = ?", id); err != nil {
		return utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to delete ignore pattern", err.Error())
	}
	return nil
}

// CreateRedirect inserts the redirect and retires or flags the entry in one
// transaction. The insert runs first so the write lock is taken up front.
func (s *SQLiteStorage) CreateRedirect(ctx context.Context, redirect *models.Redirect, entryPath string, retire bool) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO redirects (source, target, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source) DO NOTHING
	`, redirect.Source, redirect.Target, string(redirect.Status), redirect.CreatedAt.UnixNano())
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to insert redirect", err.Error())
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return false, utils.NewAppError(utils.ErrCodeDuplicateSource, "Redirect already exists for source", redirect.Source)
	}

	if retire {
		result, err = tx.ExecContext(ctx, "DELETE FROM log_entries WHERE path = ?", entryPath)
	} else {
		_, err = tx.ExecContext(ctx, "UPDATE log_entries SET has_redirect = TRUE WHERE path = ?", entryPath)
	}
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to update source entry", err.Error())
	}
	deleted := false
	if retire {
		n, _ := result.RowsAffected()
		deleted = n > 0
	}

	if err := tx.Commit(); err != nil {
		return false, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to commit transaction", err.Error())
	}
	return deleted, nil
}

// GetRedirect retrieves a redirect by source path
func (s *SQLiteStorage) GetRedirect(ctx context.Context, source string) (*models.Redirect, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT source, target, status, created_at FROM redirects WHERE source = ?", source)

	r, err := scanSQLiteRedirect(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "Redirect not found", source)
		}
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to get redirect", err.Error())
	}
	return r, nil
}

// ListRedirects returns redirects ordered by source
func (s *SQLiteStorage) ListRedirects(ctx context.Context) ([]*models.Redirect, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT source, target, status, created_at FROM redirects ORDER BY source ASC")
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to query redirects", err.Error())
	}
	defer rows.Close()

	redirects := []*models.Redirect{}
	for rows.Next() {
		r, err := scanSQLiteRedirect(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to scan redirect", err.Error())
		}
		redirects = append(redirects, r)
	}
	return redirects, rows.Err()
}

// DeleteRedirect removes a redirect; missing sources are a no-op
func (s *SQLiteStorage) DeleteRedirect(ctx context.Context, source string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM redirects WHERE source = ?", source); err != nil {
		return utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to delete redirect", err.Error())
	}
	return nil
}

// GetStats returns aggregate counts
func (s *SQLiteStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{Backend: "sqlite"}

	var oldest, latest sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(hits), 0), MIN(first_seen), MAX(last_seen) FROM log_entries",
	).Scan(&stats.TotalEntries, &stats.TotalHits, &oldest, &latest)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to get entry stats", err.Error())
	}
	if oldest.Valid {
		t := time.Unix(0, oldest.Int64).UTC()
		stats.OldestEntry = &t
	}
	if latest.Valid {
		t := time.Unix(0, latest.Int64).UTC()
		stats.LatestEntry = &t
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ignore_patterns").Scan(&stats.TotalPatterns); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to count patterns", err.Error())
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM redirects").Scan(&stats.TotalRedirects); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to count redirects", err.Error())
	}

	return stats, nil
}

// GetHealth reports whether the database answers pings
func (s *SQLiteStorage) GetHealth() *StorageHealth {
	return healthFromPing("sqlite", s.Ping())
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteEntry(row rowScanner) (*models.LogEntry, error) {
	var e models.LogEntry
	var first, last int64
	err := row.Scan(&e.Path, &e.Hits, &first, &last, &e.IsBot, &e.Device,
		&e.UserAgent, &e.IsIgnored, &e.HasRedirect)
	if err != nil {
		return nil, err
	}
	e.FirstSeen = time.Unix(0, first).UTC()
	e.LastSeen = time.Unix(0, last).UTC()
	return &e, nil
}

func scanSQLiteRedirect(row rowScanner) (*models.Redirect, error) {
	var r models.Redirect
	var status string
	var created int64
	if err := row.Scan(&r.Source, &r.Target, &status, &created); err != nil {
		return nil, err
	}
	r.Status = models.StatusClass(status)
	r.CreatedAt = time.Unix(0, created).UTC()
	return &r, nil
}
