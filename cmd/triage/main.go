// File: cmd/triage/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/notfound-triage/internal/config"
	"github.com/smartdevs17/notfound-triage/internal/ingest"
	"github.com/smartdevs17/notfound-triage/internal/metrics"
	"github.com/smartdevs17/notfound-triage/internal/notification"
	"github.com/smartdevs17/notfound-triage/internal/pattern"
	"github.com/smartdevs17/notfound-triage/internal/retention"
	"github.com/smartdevs17/notfound-triage/internal/server"
	"github.com/smartdevs17/notfound-triage/internal/storage"
	"github.com/smartdevs17/notfound-triage/internal/triage"
	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the main application
type Application struct {
	config    *config.Config
	logger    *logrus.Logger
	metrics   *metrics.Manager
	storage   storage.Storage
	notifier  notification.Notifier
	service   *triage.Service
	recorder  *ingest.Recorder
	sweeper   *retention.Sweeper
	server    *server.HTTPServer
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	app.metrics = metrics.NewManager()

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initializeNotification(); err != nil {
		return fmt.Errorf("failed to initialize notification: %w", err)
	}

	if err := app.initializeService(); err != nil {
		return fmt.Errorf("failed to initialize triage service: %w", err)
	}

	app.recorder = ingest.NewRecorder(app.service, &app.config.Ingest, app.metrics)

	if app.config.Retention.Enabled {
		app.sweeper = retention.NewSweeper(app.storage, &app.config.Retention, app.metrics)
	}

	if err := app.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeStorage opens, migrates and instruments the configured backend
func (app *Application) initializeStorage() error {
	store, err := openStorage(&app.config.Storage)
	if err != nil {
		return err
	}
	app.storage = storage.NewStorageWithMetrics(store, app.metrics)

	app.logger.WithField("type", app.config.Storage.Type).Info("Storage layer initialized successfully")
	return nil
}

// initializeNotification sets up the webhook notifier, or a no-op one when
// notifications are disabled
func (app *Application) initializeNotification() error {
	if !app.config.Notifications.Enabled {
		app.notifier = notification.NopNotifier{}
		app.logger.Info("Notifications disabled")
		return nil
	}

	nm := notification.NewNotificationManager(notification.ConfigFromSettings(&app.config.Notifications), app.metrics)
	if err := nm.Start(app.ctx); err != nil {
		return err
	}
	app.notifier = nm

	app.logger.Info("Notification manager initialized successfully")
	return nil
}

// initializeService builds the triage service and loads the stored patterns
func (app *Application) initializeService() error {
	app.service = triage.NewService(
		app.storage,
		pattern.NewMatcher(),
		app.notifier,
		app.metrics,
		triage.OptionsFromConfig(app.config),
	)
	return app.service.LoadPatterns(app.ctx)
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	server.Version = AppVersion

	var err error
	app.server, err = server.NewHTTPServer(&app.config.Server, app.service, app.recorder, app.notifier, app.metrics)
	return err
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting not-found triage service")

	if err := app.recorder.Start(); err != nil {
		return fmt.Errorf("failed to start hit recorder: %w", err)
	}

	if app.sweeper != nil {
		if err := app.sweeper.Start(app.ctx); err != nil {
			return fmt.Errorf("failed to start retention sweeper: %w", err)
		}
	}

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"storage":        app.config.Storage.Type,
		"retention":      app.config.Retention.Enabled,
	}).Info("Not-found triage service started successfully")

	return nil
}

// Stop stops the application gracefully. The server stops first so no new
// hits arrive, then the recorder drains what is queued.
func (app *Application) Stop() error {
	app.logger.Info("Stopping not-found triage service")

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.recorder != nil {
		if err := app.recorder.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop hit recorder")
		}
	}

	if app.sweeper != nil {
		if err := app.sweeper.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop retention sweeper")
		}
	}

	if app.notifier != nil {
		if err := app.notifier.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop notification manager")
		}
	}

	app.cancel()

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}

	app.logger.WithField("uptime", time.Since(app.startTime).String()).Info("Not-found triage service stopped successfully")
	return nil
}

// openStorage creates, connects and migrates the configured backend
func openStorage(cfg *config.StorageConfig) (storage.Storage, error) {
	store, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	if err := store.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to storage: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run storage migrations: %w", err)
	}
	return store, nil
}

// loadConfig loads configuration and applies command line overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if level := viper.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if viper.GetBool("debug") {
		cfg.App.Debug = true
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:          "notfound-triage",
	Short:        "Not-found request triage service",
	Long:         `Ingests not-found requests, aggregates and classifies them, and lets operators ignore noise or resolve entries into redirects.`,
	Version:      AppVersion,
	SilenceUsage: true,
	RunE:         runServe,
}

// serveCmd is an explicit alias for the root command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the triage service",
	RunE:  runServe,
}

// runServe runs the service until SIGINT or SIGTERM
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		app.Stop()
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	app.logger.Info("Received shutdown signal, stopping application")

	return app.Stop()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("notfound-triage %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Storage: %s\n", cfg.Storage.Type)
		fmt.Printf("Server: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
		fmt.Printf("Ingest: %d workers, queue %d\n", cfg.Ingest.Workers, cfg.Ingest.QueueSize)
		fmt.Printf("Retention: %v\n", cfg.Retention.Enabled)
		fmt.Printf("Notifications: %v\n", cfg.Notifications.Enabled)

		return nil
	},
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(patternsCmd)
	configCmd.AddCommand(validateConfigCmd)
	patternsCmd.AddCommand(listPatternsCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
