package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

// Migration represents a database migration
type Migration struct {
	ID          int       `db:"id"`
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         string    `db:"sql"`
	AppliedAt   time.Time `db:"applied_at"`
	Checksum    string    `db:"checksum"`
}

func (m *Migration) checksum() string {
	sum := sha256.Sum256([]byte(m.SQL))
	return hex.EncodeToString(sum[:])
}

// GetSQLiteMigrations returns SQLite migration scripts. Timestamps are stored
// as unix nanoseconds so MIN/MAX compare numerically.
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create log_entries table",
			SQL: `
				CREATE TABLE IF NOT EXISTS log_entries (
					path TEXT PRIMARY KEY,
					hits INTEGER NOT NULL DEFAULT 1,
					first_seen INTEGER NOT NULL,
					last_seen INTEGER NOT NULL,
					is_bot BOOLEAN NOT NULL DEFAULT FALSE,
					device TEXT NOT NULL DEFAULT 'desktop',
					user_agent TEXT NOT NULL DEFAULT '',
					is_ignored BOOLEAN NOT NULL DEFAULT FALSE,
					has_redirect BOOLEAN NOT NULL DEFAULT FALSE
				);

				CREATE INDEX IF NOT EXISTS idx_log_entries_last_seen ON log_entries(last_seen);
				CREATE INDEX IF NOT EXISTS idx_log_entries_hits ON log_entries(hits);
			`,
		},
		{
			Version:     "002",
			Description: "Create ignore_patterns table",
			SQL: `
				CREATE TABLE IF NOT EXISTS ignore_patterns (
					id TEXT PRIMARY KEY,
					type TEXT NOT NULL,
					pattern TEXT NOT NULL,
					created_at INTEGER NOT NULL
				);
			`,
		},
		{
			Version:     "003",
			Description: "Create redirects table",
			SQL: `
				CREATE TABLE IF NOT EXISTS redirects (
					source TEXT PRIMARY KEY,
					target TEXT NOT NULL,
					status TEXT NOT NULL,
					created_at INTEGER NOT NULL
				);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create log_entries table",
			SQL: `
				CREATE TABLE IF NOT EXISTS log_entries (
					path TEXT PRIMARY KEY,
					hits BIGINT NOT NULL DEFAULT 1,
					first_seen TIMESTAMP WITH TIME ZONE NOT NULL,
					last_seen TIMESTAMP WITH TIME ZONE NOT NULL,
					is_bot BOOLEAN NOT NULL DEFAULT FALSE,
					device TEXT NOT NULL DEFAULT 'desktop',
					user_agent TEXT NOT NULL DEFAULT '',
					is_ignored BOOLEAN NOT NULL DEFAULT FALSE,
					has_redirect BOOLEAN NOT NULL DEFAULT FALSE
				);

				CREATE INDEX IF NOT EXISTS idx_log_entries_last_seen ON log_entries(last_seen);
				CREATE INDEX IF NOT EXISTS idx_log_entries_hits ON log_entries(hits);
			`,
		},
		{
			Version:     "002",
			Description: "Create ignore_patterns table",
			SQL: `
				CREATE TABLE IF NOT EXISTS ignore_patterns (
					id TEXT PRIMARY KEY,
					type TEXT NOT NULL,
					pattern TEXT NOT NULL,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     "003",
			Description: "Create redirects table",
			SQL: `
				CREATE TABLE IF NOT EXISTS redirects (
					source TEXT PRIMARY KEY,
					target TEXT NOT NULL,
					status TEXT NOT NULL,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);
			`,
		},
	}
}

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		checksum TEXT NOT NULL
	)
`

// applyMigrations runs every migration not yet recorded in schema_migrations.
// insertSQL records a version and differs only in placeholder style.
func applyMigrations(db *sql.DB, migrations []*Migration, insertSQL string, logger *logrus.Entry) error {
	if db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	if _, err := db.Exec(createMigrationsTable); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create migrations table", err.Error())
	}

	applied := make(map[string]string)
	rows, err := db.Query("SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to read applied migrations", err.Error())
	}
	for rows.Next() {
		var version, checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			rows.Close()
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan migration", err.Error())
		}
		applied[version] = checksum
	}
	rows.Close()

	logger.Info("Starting database migrations")

	for _, migration := range migrations {
		sum := migration.checksum()
		if existing, ok := applied[migration.Version]; ok {
			if existing != sum {
				logger.WithField("version", migration.Version).Warn("Applied migration checksum differs from source")
			}
			continue
		}

		logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		if _, err := db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
		if _, err := db.Exec(insertSQL, migration.Version, migration.Description, sum); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Failed to record migration %s", migration.Version),
				err.Error())
		}
	}

	logger.Info("Database migrations completed")
	return nil
}
