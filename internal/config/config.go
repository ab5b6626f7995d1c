// File: internal/config/config.go
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

// EnvPrefix is prepended to every environment override, e.g.
// TRIAGE_STORAGE_TYPE=redis.
const EnvPrefix = "TRIAGE"

// Config holds all configuration for the application
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Ingest        IngestConfig       `mapstructure:"ingest"`
	Query         QueryConfig        `mapstructure:"query"`
	Retention     RetentionConfig    `mapstructure:"retention"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Server        ServerConfig       `mapstructure:"server"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// StorageConfig contains backend configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // memory, sqlite, postgres, redis
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
	BusyTimeout      time.Duration `mapstructure:"busy_timeout"`
	RedisAddr        string        `mapstructure:"redis_addr"`
	RedisPassword    string        `mapstructure:"redis_password"`
	RedisDB          int           `mapstructure:"redis_db"`
	KeyPrefix        string        `mapstructure:"key_prefix"`
}

// IngestConfig controls the asynchronous hit recorder
type IngestConfig struct {
	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// QueryConfig controls listing and export
type QueryConfig struct {
	ExportTimeout  time.Duration `mapstructure:"export_timeout"`
	DefaultPerPage int           `mapstructure:"default_per_page"`
}

// RetentionConfig controls the background sweeper
type RetentionConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// NotificationConfig contains webhook notification configuration
type NotificationConfig struct {
	Enabled      bool              `mapstructure:"enabled"`
	WebhookURL   string            `mapstructure:"webhook_url"`
	Headers      map[string]string `mapstructure:"headers"`
	QueueSize    int               `mapstructure:"queue_size"`
	Workers      int               `mapstructure:"workers"`
	HitThreshold int64             `mapstructure:"hit_threshold"`
	RateLimit    float64           `mapstructure:"rate_limit"` // deliveries per second
	RateBurst    int               `mapstructure:"rate_burst"`
	MaxRetries   int               `mapstructure:"max_retries"`
	RetryDelay   time.Duration     `mapstructure:"retry_delay"`
	Timeout      time.Duration     `mapstructure:"timeout"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	EnableMetrics   bool          `mapstructure:"enable_metrics"`
	EnableHealth    bool          `mapstructure:"enable_health"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, stderr, file, discard
	File   string `mapstructure:"file"`
}

// Load reads an optional .env file, then the yaml config file, then
// TRIAGE_* environment variables, on top of the defaults.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Error reading .env file", err.Error())
	}

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Common unprefixed aliases used by container platforms.
	v.BindEnv("storage.connection_string", EnvPrefix+"_STORAGE_CONNECTION_STRING", "DATABASE_URL")
	v.BindEnv("storage.redis_addr", EnvPrefix+"_STORAGE_REDIS_ADDR", "REDIS_ADDR")
	v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Error reading config file", err.Error())
		}
		utils.GetLogger().Debug("Config file not found, using defaults and environment variables")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Error unmarshaling config", err.Error())
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "notfound-triage")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./data/triage.db")
	v.SetDefault("storage.max_connections", 25)
	v.SetDefault("storage.max_idle_time", "15m")
	v.SetDefault("storage.busy_timeout", "5s")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.key_prefix", "triage:")

	// Ingest defaults
	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.queue_size", 1024)
	v.SetDefault("ingest.write_timeout", "5s")

	// Query defaults
	v.SetDefault("query.export_timeout", "30s")
	v.SetDefault("query.default_per_page", 20)

	// Retention defaults
	v.SetDefault("retention.enabled", false)
	v.SetDefault("retention.max_age", "720h")
	v.SetDefault("retention.sweep_interval", "1h")

	// Notification defaults
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.webhook_url", "")
	v.SetDefault("notifications.queue_size", 100)
	v.SetDefault("notifications.workers", 2)
	v.SetDefault("notifications.hit_threshold", 100)
	v.SetDefault("notifications.rate_limit", 5.0)
	v.SetDefault("notifications.rate_burst", 10)
	v.SetDefault("notifications.max_retries", 3)
	v.SetDefault("notifications.retry_delay", "1s")
	v.SetDefault("notifications.timeout", "10s")

	// Server defaults
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "35s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file", "")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Type) {
	case "memory":
	case "sqlite", "postgres", "postgresql":
		if c.Storage.ConnectionString == "" {
			return configError("storage connection string is required")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return configError("redis address is required")
		}
	default:
		return configError("unsupported storage type: " + c.Storage.Type)
	}

	if c.Ingest.Workers <= 0 {
		return configError("ingest workers must be positive")
	}
	if c.Ingest.QueueSize <= 0 {
		return configError("ingest queue size must be positive")
	}
	if c.Query.ExportTimeout <= 0 {
		return configError("export timeout must be positive")
	}
	if c.Retention.Enabled {
		if c.Retention.MaxAge <= 0 {
			return configError("retention max age must be positive")
		}
		if c.Retention.SweepInterval <= 0 {
			return configError("retention sweep interval must be positive")
		}
	}
	if c.Notifications.Enabled {
		if c.Notifications.WebhookURL == "" {
			return configError("webhook URL is required when notifications are enabled")
		}
		if c.Notifications.Workers <= 0 {
			return configError("notification workers must be positive")
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return configError("server port must be between 1 and 65535")
	}
	return nil
}

func configError(msg string) error {
	return utils.NewAppError(utils.ErrCodeConfiguration, msg, "")
}
