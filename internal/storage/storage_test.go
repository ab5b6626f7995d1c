package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/notfound-triage/internal/config"
	"github.com/smartdevs17/notfound-triage/internal/metrics"
	"github.com/smartdevs17/notfound-triage/internal/models"
	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func hitAt(path string, at time.Time) *HitRecord {
	return &HitRecord{
		Path:           path,
		Classification: models.Classification{Device: models.DeviceDesktop},
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0)",
		SeenAt:         at,
	}
}

func newSQLiteForTest(t *testing.T) Storage {
	t.Helper()
	s := NewSQLiteStorage(&StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "triage.db"),
		MaxConnections:   4,
	})
	require.NoError(t, s.Connect())
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func newMemoryForTest(t *testing.T) Storage {
	t.Helper()
	s := NewMemoryStorage()
	require.NoError(t, s.Connect())
	return s
}

func newRedisForTest(t *testing.T) Storage {
	t.Helper()
	addr := os.Getenv("TRIAGE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TRIAGE_TEST_REDIS_ADDR not set")
	}
	s := NewRedisStorage(&StorageConfig{
		Type:           "redis",
		RedisAddr:      addr,
		MaxConnections: 10,
		KeyPrefix:      "triage-test:" + uuid.NewString() + ":",
	})
	require.NoError(t, s.Connect())
	t.Cleanup(func() {
		ctx := context.Background()
		s.DeleteAllEntries(ctx)
		s.client.Del(ctx, s.patternsKey(), s.redirectsKey())
		s.Close()
	})
	return s
}

func newPostgresForTest(t *testing.T) Storage {
	t.Helper()
	dsn := os.Getenv("TRIAGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TRIAGE_TEST_POSTGRES_DSN not set")
	}
	s := NewPostgreSQLStorage(&StorageConfig{
		Type:             "postgres",
		ConnectionString: dsn,
		MaxConnections:   10,
	})
	require.NoError(t, s.Connect())
	require.NoError(t, s.Migrate())

	clean := func() {
		ctx := context.Background()
		s.DeleteAllEntries(ctx)
		s.db.ExecContext(ctx, "DELETE FROM ignore_patterns")
		s.db.ExecContext(ctx, "DELETE FROM redirects")
	}
	clean()
	t.Cleanup(func() {
		clean()
		s.Close()
	})
	return s
}

func TestMemoryStorage(t *testing.T) { runStorageSuite(t, newMemoryForTest) }
func TestSQLiteStorage(t *testing.T) { runStorageSuite(t, newSQLiteForTest) }
func TestRedisStorage(t *testing.T) { runStorageSuite(t, newRedisForTest) }
func TestPostgresStorage(t *testing.T) { runStorageSuite(t, newPostgresForTest) }

func runStorageSuite(t *testing.T, newStore func(t *testing.T) Storage) {
	t.Run("record hit creates and increments", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		e, err := s.RecordHit(ctx, hitAt("/missing", baseTime))
		require.NoError(t, err)
		assert.Equal(t, int64(1), e.Hits)
		assert.True(t, e.FirstSeen.Equal(baseTime))
		assert.True(t, e.LastSeen.Equal(baseTime))

		bot := hitAt("/missing", baseTime.Add(time.Minute))
		bot.Classification = models.Classification{IsBot: true, Device: models.DeviceBot}
		bot.UserAgent = "Googlebot/2.1"
		e, err = s.RecordHit(ctx, bot)
		require.NoError(t, err)
		assert.Equal(t, int64(2), e.Hits)
		assert.True(t, e.IsBot)
		assert.Equal(t, models.DeviceBot, e.Device)
		assert.Equal(t, "Googlebot/2.1", e.UserAgent)

		got, err := s.GetEntry(ctx, "/missing")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Hits)
	})

	t.Run("out of order hits keep first and last seen bounds", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.RecordHit(ctx, hitAt("/a", baseTime))
		require.NoError(t, err)
		_, err = s.RecordHit(ctx, hitAt("/a", baseTime.Add(-time.Hour)))
		require.NoError(t, err)
		e, err := s.RecordHit(ctx, hitAt("/a", baseTime.Add(-time.Minute)))
		require.NoError(t, err)

		assert.True(t, e.FirstSeen.Equal(baseTime.Add(-time.Hour)))
		assert.True(t, e.LastSeen.Equal(baseTime))
		assert.Equal(t, int64(3), e.Hits)
	})

	t.Run("concurrent hits on one path are all counted", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const workers, perWorker = 10, 20
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					at := baseTime.Add(time.Duration(w*perWorker+i) * time.Second)
					_, err := s.RecordHit(ctx, hitAt("/hot", at))
					assert.NoError(t, err)
				}
			}(w)
		}
		wg.Wait()

		e, err := s.GetEntry(ctx, "/hot")
		require.NoError(t, err)
		assert.Equal(t, int64(workers*perWorker), e.Hits)
		assert.True(t, e.FirstSeen.Equal(baseTime))
		assert.True(t, e.LastSeen.Equal(baseTime.Add((workers*perWorker-1)*time.Second)))
	})

	t.Run("missing entry is not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetEntry(context.Background(), "/nope")
		assert.True(t, errors.Is(err, utils.ErrNotFound))

		_, err = s.SetEntryIgnored(context.Background(), "/nope", true)
		assert.True(t, errors.Is(err, utils.ErrNotFound))
	})

	t.Run("deletes are idempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.RecordHit(ctx, hitAt("/gone", baseTime))
		require.NoError(t, err)
		require.NoError(t, s.DeleteEntry(ctx, "/gone"))
		require.NoError(t, s.DeleteEntry(ctx, "/gone"))

		_, err = s.GetEntry(ctx, "/gone")
		assert.True(t, errors.Is(err, utils.ErrNotFound))

		n, err := s.DeleteAllEntries(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("delete all and list", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			_, err := s.RecordHit(ctx, hitAt(fmt.Sprintf("/p%d", i), baseTime))
			require.NoError(t, err)
		}
		entries, err := s.ListEntries(ctx)
		require.NoError(t, err)
		assert.Len(t, entries, 5)

		n, err := s.DeleteAllEntries(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)

		entries, err = s.ListEntries(ctx)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("delete entries before cutoff", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.RecordHit(ctx, hitAt("/old", baseTime.Add(-48*time.Hour)))
		require.NoError(t, err)
		_, err = s.RecordHit(ctx, hitAt("/new", baseTime))
		require.NoError(t, err)

		n, err := s.DeleteEntriesBefore(ctx, baseTime.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		entries, err := s.ListEntries(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "/new", entries[0].Path)
	})

	t.Run("ignored flag", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.RecordHit(ctx, hitAt("/wp-login.php", baseTime))
		require.NoError(t, err)

		e, err := s.SetEntryIgnored(ctx, "/wp-login.php", true)
		require.NoError(t, err)
		assert.True(t, e.IsIgnored)
		assert.Equal(t, int64(1), e.Hits)

		e, err = s.SetEntryIgnored(ctx, "/wp-login.php", false)
		require.NoError(t, err)
		assert.False(t, e.IsIgnored)
	})

	t.Run("ignore patterns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first := &models.IgnorePattern{ID: "b", Type: models.PatternWildcard, Pattern: "/wp-*", CreatedAt: baseTime}
		second := &models.IgnorePattern{ID: "a", Type: models.PatternRegex, Pattern: `\.php$`, CreatedAt: baseTime.Add(time.Second)}
		require.NoError(t, s.SaveIgnorePattern(ctx, second))
		require.NoError(t, s.SaveIgnorePattern(ctx, first))

		patterns, err := s.ListIgnorePatterns(ctx)
		require.NoError(t, err)
		require.Len(t, patterns, 2)
		assert.Equal(t, "b", patterns[0].ID)
		assert.Equal(t, models.PatternWildcard, patterns[0].Type)
		assert.Equal(t, "/wp-*", patterns[0].Pattern)
		assert.Equal(t, "a", patterns[1].ID)

		require.NoError(t, s.DeleteIgnorePattern(ctx, "b"))
		require.NoError(t, s.DeleteIgnorePattern(ctx, "b"))
		patterns, err = s.ListIgnorePatterns(ctx)
		require.NoError(t, err)
		assert.Len(t, patterns, 1)
	})

	t.Run("redirect retires entry when source matches", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.RecordHit(ctx, hitAt("/old-page", baseTime))
		require.NoError(t, err)

		r := &models.Redirect{Source: "/old-page", Target: "/new-page", Status: models.StatusPermanent, CreatedAt: baseTime}
		deleted, err := s.CreateRedirect(ctx, r, "/old-page", true)
		require.NoError(t, err)
		assert.True(t, deleted)

		_, err = s.GetEntry(ctx, "/old-page")
		assert.True(t, errors.Is(err, utils.ErrNotFound))

		got, err := s.GetRedirect(ctx, "/old-page")
		require.NoError(t, err)
		assert.Equal(t, "/new-page", got.Target)
		assert.Equal(t, models.StatusPermanent, got.Status)
	})

	t.Run("redirect flags entry when source differs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.RecordHit(ctx, hitAt("/Old-Page", baseTime))
		require.NoError(t, err)

		r := &models.Redirect{Source: "/old-page", Target: "/new-page", Status: models.StatusTemporary, CreatedAt: baseTime}
		deleted, err := s.CreateRedirect(ctx, r, "/Old-Page", false)
		require.NoError(t, err)
		assert.False(t, deleted)

		e, err := s.GetEntry(ctx, "/Old-Page")
		require.NoError(t, err)
		assert.True(t, e.HasRedirect)
	})

	t.Run("redirect for an unlogged path deletes nothing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r := &models.Redirect{Source: "/never-hit", Target: "/x", Status: models.StatusPermanent, CreatedAt: baseTime}
		deleted, err := s.CreateRedirect(ctx, r, "/never-hit", true)
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("entry recreated after retirement keeps its redirect flag", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.RecordHit(ctx, hitAt("/old-page", baseTime))
		require.NoError(t, err)
		r := &models.Redirect{Source: "/old-page", Target: "/new-page", Status: models.StatusPermanent, CreatedAt: baseTime}
		_, err = s.CreateRedirect(ctx, r, "/old-page", true)
		require.NoError(t, err)

		e, err := s.RecordHit(ctx, hitAt("/old-page", baseTime.Add(time.Hour)))
		require.NoError(t, err)
		assert.Equal(t, int64(1), e.Hits)
		assert.True(t, e.HasRedirect)

		other, err := s.RecordHit(ctx, hitAt("/other", baseTime))
		require.NoError(t, err)
		assert.False(t, other.HasRedirect)

		require.NoError(t, s.DeleteRedirect(ctx, "/old-page"))
		require.NoError(t, s.DeleteEntry(ctx, "/old-page"))
		e, err = s.RecordHit(ctx, hitAt("/old-page", baseTime.Add(2*time.Hour)))
		require.NoError(t, err)
		assert.False(t, e.HasRedirect)
	})

	t.Run("duplicate redirect source is rejected without side effects", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.RecordHit(ctx, hitAt("/dup", baseTime))
		require.NoError(t, err)

		existing := &models.Redirect{Source: "/dup", Target: "/one", Status: models.StatusPermanent, CreatedAt: baseTime}
		_, err = s.CreateRedirect(ctx, existing, "/elsewhere", false)
		require.NoError(t, err)

		again := &models.Redirect{Source: "/dup", Target: "/two", Status: models.StatusPermanent, CreatedAt: baseTime}
		deleted, err := s.CreateRedirect(ctx, again, "/dup", true)
		assert.True(t, errors.Is(err, utils.ErrDuplicateSource))
		assert.False(t, deleted)

		e, err := s.GetEntry(ctx, "/dup")
		require.NoError(t, err)
		assert.Equal(t, int64(1), e.Hits)

		got, err := s.GetRedirect(ctx, "/dup")
		require.NoError(t, err)
		assert.Equal(t, "/one", got.Target)
	})

	t.Run("concurrent redirects for one source admit exactly one", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		var mu sync.Mutex
		created, dup := 0, 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				r := &models.Redirect{Source: "/race", Target: fmt.Sprintf("/t%d", i), Status: models.StatusPermanent, CreatedAt: baseTime}
				_, err := s.CreateRedirect(ctx, r, "/race", true)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					created++
				case errors.Is(err, utils.ErrDuplicateSource):
					dup++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, created)
		assert.Equal(t, 7, dup)
	})

	t.Run("list and delete redirects", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, src := range []string{"/b", "/a"} {
			r := &models.Redirect{Source: src, Target: "/x", Status: models.StatusPermanent, CreatedAt: baseTime}
			_, err := s.CreateRedirect(ctx, r, src, true)
			require.NoError(t, err)
		}
		redirects, err := s.ListRedirects(ctx)
		require.NoError(t, err)
		require.Len(t, redirects, 2)
		assert.Equal(t, "/a", redirects[0].Source)

		require.NoError(t, s.DeleteRedirect(ctx, "/a"))
		require.NoError(t, s.DeleteRedirect(ctx, "/a"))
		_, err = s.GetRedirect(ctx, "/a")
		assert.True(t, errors.Is(err, utils.ErrNotFound))
	})

	t.Run("stats", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.RecordHit(ctx, hitAt("/x", baseTime))
		require.NoError(t, err)
		_, err = s.RecordHit(ctx, hitAt("/x", baseTime.Add(time.Hour)))
		require.NoError(t, err)
		_, err = s.RecordHit(ctx, hitAt("/y", baseTime.Add(-time.Hour)))
		require.NoError(t, err)
		require.NoError(t, s.SaveIgnorePattern(ctx, &models.IgnorePattern{ID: "p", Type: models.PatternExact, Pattern: "/y", CreatedAt: baseTime}))

		stats, err := s.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.TotalEntries)
		assert.Equal(t, int64(3), stats.TotalHits)
		assert.Equal(t, int64(1), stats.TotalPatterns)
		assert.Equal(t, int64(0), stats.TotalRedirects)
		require.NotNil(t, stats.OldestEntry)
		require.NotNil(t, stats.LatestEntry)
		assert.True(t, stats.OldestEntry.Equal(baseTime.Add(-time.Hour)))
		assert.True(t, stats.LatestEntry.Equal(baseTime.Add(time.Hour)))

		assert.True(t, s.GetHealth().Healthy)
	})
}

func TestSQLiteMigrateIsRepeatable(t *testing.T) {
	s := NewSQLiteStorage(&StorageConfig{
		ConnectionString: filepath.Join(t.TempDir(), "nested", "triage.db"),
		MaxConnections:   2,
	})
	require.NoError(t, s.Connect())
	defer s.Close()

	require.NoError(t, s.Migrate())
	require.NoError(t, s.Migrate())

	var applied int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, len(GetSQLiteMigrations()), applied)
}

func TestNewStorage(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StorageConfig
		want    interface{}
		wantErr bool
	}{
		{"memory", config.StorageConfig{Type: "memory"}, &MemoryStorage{}, false},
		{"sqlite", config.StorageConfig{Type: "SQLite", ConnectionString: "x.db", MaxConnections: 1}, &SQLiteStorage{}, false},
		{"postgresql alias", config.StorageConfig{Type: "postgresql", ConnectionString: "postgres://x", MaxConnections: 1}, &PostgreSQLStorage{}, false},
		{"redis", config.StorageConfig{Type: "redis", RedisAddr: "localhost:6379"}, &RedisStorage{}, false},
		{"redis without address", config.StorageConfig{Type: "redis"}, nil, true},
		{"sqlite without path", config.StorageConfig{Type: "sqlite", MaxConnections: 1}, nil, true},
		{"unknown", config.StorageConfig{Type: "mongo"}, nil, true},
		{"empty", config.StorageConfig{}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStorage(&tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, utils.ErrCodeConfiguration, utils.ErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, s)
		})
	}

	assert.NoError(t, ValidateStorageConfig(GetDefaultStorageConfig()))
}

func TestStorageWithMetricsRecordsOperations(t *testing.T) {
	mm := metrics.NewManager()
	s := NewStorageWithMetrics(newMemoryForTest(t), mm)
	ctx := context.Background()

	_, err := s.RecordHit(ctx, hitAt("/m", baseTime))
	require.NoError(t, err)
	_, err = s.SetEntryIgnored(ctx, "/missing", true)
	require.Error(t, err)

	families, err := mm.Gatherer().Gather()
	require.NoError(t, err)

	counts := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "triage_database_operations_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			key := ""
			for _, l := range m.GetLabel() {
				key += l.GetName() + "=" + l.GetValue() + ","
			}
			counts[key] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, counts["operation=upsert,status=success,table=log_entries,"])
	assert.Equal(t, 1.0, counts["operation=update,status=error,table=log_entries,"])
}
