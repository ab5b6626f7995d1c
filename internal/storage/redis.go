package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/notfound-triage/internal/models"
	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

// Timestamps are stored as unix microseconds: Lua numbers are doubles and
// nanoseconds would lose precision.
var recordHitScript = redis.NewScript(`
local seen = tonumber(ARGV[2])
local hits = redis.call('HINCRBY', KEYS[1], 'hits', 1)
if hits == 1 then
	redis.call('HSET', KEYS[1], 'path', ARGV[1], 'first_seen', ARGV[2], 'last_seen', ARGV[2],
		'has_redirect', tostring(redis.call('HEXISTS', KEYS[3], ARGV[1])))
	redis.call('SADD', KEYS[2], ARGV[1])
else
	local first = tonumber(redis.call('HGET', KEYS[1], 'first_seen'))
	if first == nil or seen < first then
		redis.call('HSET', KEYS[1], 'first_seen', ARGV[2])
	end
	local last = tonumber(redis.call('HGET', KEYS[1], 'last_seen'))
	if last == nil or seen > last then
		redis.call('HSET', KEYS[1], 'last_seen', ARGV[2])
	end
end
redis.call('HSET', KEYS[1], 'is_bot', ARGV[3], 'device', ARGV[4], 'user_agent', ARGV[5], 'is_ignored', ARGV[6])
return redis.call('HGETALL', KEYS[1])
`)

var setIgnoredScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return false
end
redis.call('HSET', KEYS[1], 'is_ignored', ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)

var createRedirectScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
if ARGV[4] == '1' then
	redis.call('SREM', KEYS[3], ARGV[3])
	return 1 + redis.call('DEL', KEYS[2])
elseif redis.call('EXISTS', KEYS[2]) == 1 then
	redis.call('HSET', KEYS[2], 'has_redirect', '1')
end
return 1
`)

// RedisStorage implements Storage on Redis. Each entry is a hash; an index set
// tracks the known paths. Multi-step mutations run as Lua scripts so each one
// is atomic on the server.
type RedisStorage struct {
	client *redis.Client
	config *StorageConfig
	prefix string
	logger *logrus.Entry
}

// NewRedisStorage creates a new Redis storage instance
func NewRedisStorage(config *StorageConfig) *RedisStorage {
	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "triage:"
	}
	return &RedisStorage{
		config: config,
		prefix: prefix,
		logger: utils.GetLogger().WithField("component", "redis_storage"),
	}
}

func (r *RedisStorage) entryKey(path string) string { return r.prefix + "entry:" + path }
func (r *RedisStorage) indexKey() string            { return r.prefix + "entries" }
func (r *RedisStorage) patternsKey() string         { return r.prefix + "patterns" }
func (r *RedisStorage) redirectsKey() string        { return r.prefix + "redirects" }

// Connect establishes the client and verifies the server answers
func (r *RedisStorage) Connect() error {
	r.client = redis.NewClient(&redis.Options{
		Addr:            r.config.RedisAddr,
		Password:        r.config.RedisPassword,
		DB:              r.config.RedisDB,
		PoolSize:        r.config.MaxConnections,
		ConnMaxIdleTime: r.config.MaxIdleTime,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.client.Close()
		r.client = nil
		return utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to ping Redis", err.Error())
	}

	r.logger.WithField("addr", r.config.RedisAddr).Info("Redis storage connected")
	return nil
}

// Close closes the client
func (r *RedisStorage) Close() error {
	if r.client != nil {
		err := r.client.Close()
		r.client = nil
		r.logger.Info("Redis connection closed")
		return err
	}
	return nil
}

// Ping checks server connectivity
func (r *RedisStorage) Ping() error {
	if r.client == nil {
		return utils.NewAppError(utils.ErrCodeStorageUnavailable, "Redis not connected", "")
	}
	return r.client.Ping(context.Background()).Err()
}

// Migrate is a no-op; Redis is schemaless
func (r *RedisStorage) Migrate() error { return nil }

// RecordHit runs the upsert script for the path
func (r *RedisStorage) RecordHit(ctx context.Context, hit *HitRecord) (*models.LogEntry, error) {
	res, err := recordHitScript.Run(ctx, r.client,
		[]string{r.entryKey(hit.Path), r.indexKey(), r.redirectsKey()},
		hit.Path, hit.SeenAt.UnixMicro(), boolFlag(hit.Classification.IsBot),
		hit.Classification.Device, hit.UserAgent, boolFlag(hit.Ignored),
	).Result()
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to record hit", err.Error())
	}
	return entryFromReply(res)
}

// GetEntry retrieves a single entry by path
func (r *RedisStorage) GetEntry(ctx context.Context, path string) (*models.LogEntry, error) {
	fields, err := r.client.HGetAll(ctx, r.entryKey(path)).Result()
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to get log entry", err.Error())
	}
	if len(fields) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Log entry not found", path)
	}
	return entryFromFields(fields), nil
}

// ListEntries loads every indexed entry with one pipelined round trip
func (r *RedisStorage) ListEntries(ctx context.Context) ([]*models.LogEntry, error) {
	paths, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to list entry index", err.Error())
	}

	entries := []*models.LogEntry{}
	if len(paths) == 0 {
		return entries, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(paths))
	for i, p := range paths {
		cmds[i] = pipe.HGetAll(ctx, r.entryKey(p))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to load log entries", err.Error())
	}

	for _, cmd := range cmds {
		fields := cmd.Val()
		// Deleted between SMEMBERS and HGETALL.
		if len(fields) == 0 {
			continue
		}
		entries = append(entries, entryFromFields(fields))
	}
	return entries, nil
}

// DeleteEntry removes an entry; deleting a missing path is a no-op
func (r *RedisStorage) DeleteEntry(ctx context.Context, path string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.entryKey(path))
		pipe.SRem(ctx, r.indexKey(), path)
		return nil
	})
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to delete log entry", err.Error())
	}
	return nil
}

// DeleteAllEntries removes every indexed entry
func (r *RedisStorage) DeleteAllEntries(ctx context.Context) (int64, error) {
	paths, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to list entry index", err.Error())
	}
	if err := r.deletePaths(ctx, paths); err != nil {
		return 0, err
	}
	return int64(len(paths)), nil
}

// DeleteEntriesBefore removes entries last seen before cutoff
func (r *RedisStorage) DeleteEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	entries, err := r.ListEntries(ctx)
	if err != nil {
		return 0, err
	}

	var stale []string
	for _, e := range entries {
		if e.LastSeen.Before(cutoff) {
			stale = append(stale, e.Path)
		}
	}
	if err := r.deletePaths(ctx, stale); err != nil {
		return 0, err
	}
	return int64(len(stale)), nil
}

func (r *RedisStorage) deletePaths(ctx context.Context, paths []string) error {
	const batch = 500
	for start := 0; start < len(paths); start += batch {
		end := start + batch
		if end > len(paths) {
			end = len(paths)
		}
		chunk := paths[start:end]

		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			members := make([]interface{}, len(chunk))
			for i, p := range chunk {
				pipe.Del(ctx, r.entryKey(p))
				members[i] = p
			}
			pipe.SRem(ctx, r.indexKey(), members...)
			return nil
		})
		if err != nil {
			return utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to delete log entries", err.Error())
		}
	}
	return nil
}

// SetEntryIgnored updates only the denormalized ignored flag
func (r *RedisStorage) SetEntryIgnored(ctx context.Context, path string, ignored bool) (*models.LogEntry, error) {
	res, err := setIgnoredScript.Run(ctx, r.client, []string{r.entryKey(path)}, boolFlag(ignored)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "Log entry not found", path)
		}
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to update ignored flag", err.Error())
	}
	return entryFromReply(res)
}

// SaveIgnorePattern stores a validated pattern
func (r *RedisStorage) SaveIgnorePattern(ctx context.Context, pattern *models.IgnorePattern) error {
	data, err := json.Marshal(pattern)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal ignore pattern", err.Error())
	}
	if err := r.client.HSet(ctx, r.patternsKey(), pattern.ID, data).Err(); err != nil {
		return utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to save ignore pattern", err.Error())
	}
	return nil
}

// ListIgnorePatterns returns patterns ordered by creation time
func (r *RedisStorage) ListIgnorePatterns(ctx context.Context) ([]*models.IgnorePattern, error) {
	raw, err := r.client.HGetAll(ctx, r.patternsKey()).Result()
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to list ignore patterns", err.Error())
	}

	patterns := make([]*models.IgnorePattern, 0, len(raw))
	for id, data := range raw {
		var p models.IgnorePattern
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			r.logger.WithFields(logrus.Fields{"pattern_id": id, "error": err}).Warn("Skipping undecodable ignore pattern")
			continue
		}
		patterns = append(patterns, &p)
	}
	sortPatterns(patterns)
	return patterns, nil
}

// DeleteIgnorePattern removes a pattern; missing ids are a no-op
func (r *RedisStorage) DeleteIgnorePattern(ctx context.Context, id string) error {
	if err := r.client.HDel(ctx, r.patternsKey(), id).Err(); err != nil {
		return utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to delete ignore pattern", err.Error())
	}
	return nil
}

// CreateRedirect runs the check-insert-retire script. The script returns 0
// for a taken source, 2 when it deleted the entry, else 1.
func (r *RedisStorage) CreateRedirect(ctx context.Context, redirect *models.Redirect, entryPath string, retire bool) (bool, error) {
	data, err := json.Marshal(redirect)
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal redirect", err.Error())
	}

	created, err := createRedirectScript.Run(ctx, r.client,
		[]string{r.redirectsKey(), r.entryKey(entryPath), r.indexKey()},
		redirect.Source, data, entryPath, boolFlag(retire),
	).Int()
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to create redirect", err.Error())
	}
	if created == 0 {
		return false, utils.NewAppError(utils.ErrCodeDuplicateSource, "Redirect already exists for source", redirect.Source)
	}
	return created == 2, nil
}

// GetRedirect retrieves a redirect by source path
func (r *RedisStorage) GetRedirect(ctx context.Context, source string) (*models.Redirect, error) {
	data, err := r.client.HGet(ctx, r.redirectsKey(), source).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "Redirect not found", source)
		}
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to get redirect", err.Error())
	}

	var redirect models.Redirect
	if err := json.Unmarshal([]byte(data), &redirect); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to decode redirect", err.Error())
	}
	return &redirect, nil
}

// ListRedirects returns redirects ordered by source
func (r *RedisStorage) ListRedirects(ctx context.Context) ([]*models.Redirect, error) {
	raw, err := r.client.HGetAll(ctx, r.redirectsKey()).Result()
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to list redirects", err.Error())
	}

	redirects := make([]*models.Redirect, 0, len(raw))
	for source, data := range raw {
		var redirect models.Redirect
		if err := json.Unmarshal([]byte(data), &redirect); err != nil {
			r.logger.WithFields(logrus.Fields{"source": source, "error": err}).Warn("Skipping undecodable redirect")
			continue
		}
		redirects = append(redirects, &redirect)
	}
	sortRedirects(redirects)
	return redirects, nil
}

// DeleteRedirect removes a redirect; missing sources are a no-op
func (r *RedisStorage) DeleteRedirect(ctx context.Context, source string) error {
	if err := r.client.HDel(ctx, r.redirectsKey(), source).Err(); err != nil {
		return utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to delete redirect", err.Error())
	}
	return nil
}

// GetStats returns aggregate counts
func (r *RedisStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	entries, err := r.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	stats := statsFromEntries("redis", entries)

	if stats.TotalPatterns, err = r.client.HLen(ctx, r.patternsKey()).Result(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to count patterns", err.Error())
	}
	if stats.TotalRedirects, err = r.client.HLen(ctx, r.redirectsKey()).Result(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorageUnavailable, "Failed to count redirects", err.Error())
	}
	return stats, nil
}

// GetHealth reports whether the server answers pings
func (r *RedisStorage) GetHealth() *StorageHealth {
	return healthFromPing("redis", r.Ping())
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// entryFromReply decodes the flat field/value array returned by HGETALL
// inside a script.
func entryFromReply(res interface{}) (*models.LogEntry, error) {
	flat, ok := res.([]interface{})
	if !ok || len(flat)%2 != 0 {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "Unexpected script reply", "")
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}
	return entryFromFields(fields), nil
}

func entryFromFields(f map[string]string) *models.LogEntry {
	hits, _ := strconv.ParseInt(f["hits"], 10, 64)
	first, _ := strconv.ParseInt(f["first_seen"], 10, 64)
	last, _ := strconv.ParseInt(f["last_seen"], 10, 64)
	return &models.LogEntry{
		Path:        f["path"],
		Hits:        hits,
		FirstSeen:   time.UnixMicro(first).UTC(),
		LastSeen:    time.UnixMicro(last).UTC(),
		IsBot:       f["is_bot"] == "1",
		Device:      f["device"],
		UserAgent:   f["user_agent"],
		IsIgnored:   f["is_ignored"] == "1",
		HasRedirect: f["has_redirect"] == "1",
	}
}
