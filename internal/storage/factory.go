// File: internal/storage/factory.go
package storage

import (
	"strings"

	"github.com/smartdevs17/notfound-triage/internal/config"
	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

var supportedTypes = []string{"memory", "sqlite", "postgres", "postgresql", "redis"}

// NewStorage creates a new storage instance based on configuration
func NewStorage(cfg *config.StorageConfig) (Storage, error) {
	if err := ValidateStorageConfig(cfg); err != nil {
		return nil, err
	}

	storageConfig := &StorageConfig{
		Type:             strings.ToLower(cfg.Type),
		ConnectionString: cfg.ConnectionString,
		MaxConnections:   cfg.MaxConnections,
		MaxIdleTime:      cfg.MaxIdleTime,
		BusyTimeout:      cfg.BusyTimeout,
		RedisAddr:        cfg.RedisAddr,
		RedisPassword:    cfg.RedisPassword,
		RedisDB:          cfg.RedisDB,
		KeyPrefix:        cfg.KeyPrefix,
	}

	switch storageConfig.Type {
	case "memory":
		return NewMemoryStorage(), nil
	case "sqlite":
		return NewSQLiteStorage(storageConfig), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStorage(storageConfig), nil
	case "redis":
		return NewRedisStorage(storageConfig), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported storage type", cfg.Type)
	}
}

// ValidateStorageConfig validates storage configuration
func ValidateStorageConfig(cfg *config.StorageConfig) error {
	if cfg.Type == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage type is required", "")
	}

	kind := strings.ToLower(cfg.Type)
	supported := false
	for _, t := range supportedTypes {
		if kind == t {
			supported = true
			break
		}
	}
	if !supported {
		return utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported storage type",
			"Supported types: "+strings.Join(supportedTypes, ", "))
	}

	switch kind {
	case "sqlite", "postgres", "postgresql":
		if cfg.ConnectionString == "" {
			return utils.NewAppError(utils.ErrCodeConfiguration, "Storage connection string is required", "")
		}
		if cfg.MaxConnections <= 0 {
			return utils.NewAppError(utils.ErrCodeConfiguration, "Max connections must be positive", "")
		}
	case "redis":
		if cfg.RedisAddr == "" {
			return utils.NewAppError(utils.ErrCodeConfiguration, "Redis address is required", "")
		}
	}

	return nil
}

// GetDefaultStorageConfig returns default storage configuration
func GetDefaultStorageConfig() *config.StorageConfig {
	return &config.StorageConfig{
		Type:             "sqlite",
		ConnectionString: "./data/triage.db",
		MaxConnections:   25,
		KeyPrefix:        "triage:",
	}
}
