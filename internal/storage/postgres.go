package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/notfound-triage/internal/models"
	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

const postgresEntryColumns = `path, hits, first_seen, last_seen, is_bot, device, user_agent, is_ignored, has_redirect`

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Entry
	migrations []*Migration
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		config:     config,
		logger:     utils.GetLogger().WithField("component", "postgres_storage"),
		migrations: GetPostgresMigrations(),
	}
}

// Connect establishes database connection
func (p *PostgreSQLStorage) Connect() error {
	connector, err := pq.NewConnector(p.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Invalid PostgreSQL connection string", err.Error())
	}
	db := sql.OpenDB(connector)

	// Configure connection pool
	db.SetMaxOpenConns(p.config.MaxConnections)
	db.SetMaxIdleConns(p.config.MaxConnections / 2)
	db.SetConnMaxIdleTime(p.config.MaxIdleTime)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to ping PostgreSQL database", err.Error())
	}

	p.db = db
	p.logger.Info("PostgreSQL database connected")

	return nil
}

// Close closes the database connection
func (p *PostgreSQLStorage) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		p.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgreSQLStorage) Ping() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeStorageUnavailable, "Database not connected", "")
	}
	return p.db.Ping()
}

// Migrate runs database migrations
func (p *PostgreSQLStorage) Migrate() error {
	return applyMigrations(p.db, p.migrations,
		"INSERT INTO schema_migrations (version, description, checksum) VALUES ($1, $2, $3)", p.logger)
}

// RecordHit upserts the entry; the row lock taken by ON CONFLICT serializes
// concurrent hits for the same path only.
func (p *PostgreSQLStorage) RecordHit(ctx context.Context, hit *HitRecord) (*models.LogEntry, error) {
	query := `
		INSERT INTO log_entries
		(path, hits, first_seen, last_seen, is_bot, device, user_agent, is_ignored, has_redirect)
		VALUES ($1, 1, $2, $2, $3, $4, $5, $6, EXISTS (SELECT 1 FROM redirects WHERE source = $1))
		ON CONFLICT (path) DO UPDATE SET
			hits = log_entries.hits + 1,
			first_seen = LEAST(log_entries.first_seen, EXCLUDED.first_seen),
			last_seen = GREATEST(log_entries.last_seen, EXCLUDED.last_seen),
			is_bot = EXCLUDED.is_bot,
			device = EXCLUDED.device,
			user_agent = EXCLUDED.user_agent,
			is_ignored = EXCLUDED.is_ignored
		RETURNING ` + postgresEntryColumns

	row := p.db.QueryRowContext(ctx, query,
		hit.Path, hit.SeenAt.UTC(), hit.Classification.IsBot, hit.Classification.Device,
		hit.UserAgent, hit.Ignored)

	entry, err := scanPostgresEntry(row)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to record hit", err.Error())
	}
	return entry, nil
}

// GetEntry retrieves a single entry by path
func (p *PostgreSQLStorage) GetEntry(ctx context.Context, path string) (*models.LogEntry, error) {
	row := p.db.QueryRowContext(ctx,
		"SELECT "+postgresEntryColumns+" FROM log_entries WHERE path = $1", path)

	entry, err := scanPostgresEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "Log entry not found", path)
		}
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to get log entry", err.Error())
	}
	return entry, nil
}

// ListEntries returns every stored entry in no particular order
func (p *PostgreSQLStorage) ListEntries(ctx context.Context) ([]*models.LogEntry, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT "+postgresEntryColumns+" FROM log_entries")
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to query log entries", err.Error())
	}
	defer rows.Close()

	entries := []*models.LogEntry{}
	for rows.Next() {
		entry, err := scanPostgresEntry(rows)
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
func (p *PostgreSQLStorage) DeleteEntry(ctx context.Context, path string) error {
	if _, err := p.db.ExecContext(ctx, "DELETE FROM log_entries WHERE path = $1", path); err != nil {
		return utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to delete log entry", err.Error())
	}
	return nil
}

// DeleteAllEntries removes every entry
func (p *PostgreSQLStorage) DeleteAllEntries(ctx context.Context) (int64, error) {
	result, err := p.db.ExecContext(ctx, "DELETE FROM log_entries")
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to clear log entries", err.Error())
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// DeleteEntriesBefore removes entries last seen before cutoff
func (p *PostgreSQLStorage) DeleteEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := p.db.ExecContext(ctx, "DELETE FROM log_entries WHERE last_seen < $1", cutoff.UTC())
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to delete stale log entries", err.Error())
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// SetEntryIgnored updates only the denormalized ignored flag
func (p *PostgreSQLStorage) SetEntryIgnored(ctx context.Context, path string, ignored bool) (*models.LogEntry, error) {
	row := p.db.QueryRowContext(ctx,
		"UPDATE log_entries SET is_ignored = $1 WHERE path = $2 RETURNING "+postgresEntryColumns,
		ignored, path)

	entry, err := scanPostgresEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "Log entry not found", path)
		}
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to update ignored flag", err.Error())
	}
	return entry, nil
}

// SaveIgnorePattern stores a validated pattern
func (p *PostgreSQLStorage) SaveIgnorePattern(ctx context.Context, pattern *models.IgnorePattern) error {
	_, err := p.db.ExecContext(ctx,
		"INSERT INTO ignore_patterns (id, type, pattern, created_at) VALUES ($1, $2, $3, $4)",
		pattern.ID, string(pattern.Type), pattern.Pattern, pattern.CreatedAt.UTC())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to save ignore pattern", err.Error())
	}
	return nil
}

// ListIgnorePatterns returns patterns ordered by creation time
func (p *PostgreSQLStorage) ListIgnorePatterns(ctx context.Context) ([]*models.IgnorePattern, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT id, type, pattern, created_at FROM ignore_patterns ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to query ignore patterns", err.Error())
	}
	defer rows.Close()

	patterns := []*models.IgnorePattern{}
	for rows.Next() {
		var ip models.IgnorePattern
		var patternType string
		if err := rows.Scan(&ip.ID, &patternType, &ip.Pattern, &ip.CreatedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to scan ignore pattern", err.Error())
		}
		ip.Type = models.PatternType(patternType)
		patterns = append(patterns, &ip)
	}
	return patterns, rows.Err()
}

// DeleteIgnorePattern removes a pattern; missing ids are a no-op
func (p *PostgreSQLStorage) DeleteIgnorePattern(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, "DELETE FROM ignore_patterns WHERE id = $1", id); err != nil {
		return utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to delete ignore pattern", err.Error())
	}
	return nil
}

// CreateRedirect inserts the redirect and retires or flags the entry in one
// transaction
func (p *PostgreSQLStorage) CreateRedirect(ctx context.Context, redirect *models.Redirect, entryPath string, retire bool) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO redirects (source, target, status, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source) DO NOTHING
	`, redirect.Source, redirect.Target, string(redirect.Status), redirect.CreatedAt.UTC())
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to insert redirect", err.Error())
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return false, utils.NewAppError(utils.ErrCodeDuplicateSource, "Redirect already exists for source", redirect.Source)
	}

	if retire {
		result, err = tx.ExecContext(ctx, "DELETE FROM log_entries WHERE path = $1", entryPath)
	} else {
		_, err = tx.ExecContext(ctx, "UPDATE log_entries SET has_redirect = TRUE WHERE path = $1", entryPath)
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
func (p *PostgreSQLStorage) GetRedirect(ctx context.Context, source string) (*models.Redirect, error) {
	var r models.Redirect
	var status string
	err := p.db.QueryRowContext(ctx,
		"SELECT source, target, status, created_at FROM redirects WHERE source = $1", source,
	).Scan(&r.Source, &r.Target, &status, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "Redirect not found", source)
		}
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to get redirect", err.Error())
	}
	r.Status = models.StatusClass(status)
	return &r, nil
}

// ListRedirects returns redirects ordered by source
func (p *PostgreSQLStorage) ListRedirects(ctx context.Context) ([]*models.Redirect, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT source, target, status, created_at FROM redirects ORDER BY source ASC")
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to query redirects", err.Error())
	}
	defer rows.Close()

	redirects := []*models.Redirect{}
	for rows.Next() {
		var r models.Redirect
		var status string
		if err := rows.Scan(&r.Source, &r.Target, &status, &r.CreatedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to scan redirect", err.Error())
		}
		r.Status = models.StatusClass(status)
		redirects = append(redirects, &r)
	}
	return redirects, rows.Err()
}

// DeleteRedirect removes a redirect; missing sources are a no-op
func (p *PostgreSQLStorage) DeleteRedirect(ctx context.Context, source string) error {
	if _, err := p.db.ExecContext(ctx, "DELETE FROM redirects WHERE source = $1", source); err != nil {
		return utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to delete redirect", err.Error())
	}
	return nil
}

// GetStats returns aggregate counts
func (p *PostgreSQLStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{Backend: "postgres"}

	var oldest, latest sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(hits), 0), MIN(first_seen), MAX(last_seen),
		       (SELECT COUNT(*) FROM ignore_patterns),
		       (SELECT COUNT(*) FROM redirects)
		FROM log_entries
	`).Scan(&stats.TotalEntries, &stats.TotalHits, &oldest, &latest, &stats.TotalPatterns, &stats.TotalRedirects)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to get storage stats", err.Error())
	}
	if oldest.Valid {
		stats.OldestEntry = &oldest.Time
	}
	if latest.Valid {
		stats.LatestEntry = &latest.Time
	}
	return stats, nil
}

// GetHealth reports whether the database answers pings
func (p *PostgreSQLStorage) GetHealth() *StorageHealth {
	return healthFromPing("postgres", p.Ping())
}

func scanPostgresEntry(row rowScanner) (*models.LogEntry, error) {
	var e models.LogEntry
	err := row.Scan(&e.Path, &e.Hits, &e.FirstSeen, &e.LastSeen, &e.IsBot, &e.Device,
		&e.UserAgent, &e.IsIgnored, &e.HasRedirect)
	if err != nil {
		return nil, err
	}
	e.FirstSeen = e.FirstSeen.UTC()
	e.LastSeen = e.LastSeen.UTC()
	return &e, nil
}
