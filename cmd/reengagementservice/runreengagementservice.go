// --- File: cmd/reengagementservice/runreengagementservice.go ---
package main

import (
	"context"
	"database/sql"
	_ "embed"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-reengagement-service/internal/platform/vapid"
	"github.com/tinywideclouds/go-reengagement-service/internal/platform/web"
	"github.com/tinywideclouds/go-reengagement-service/internal/scheduler"
	"github.com/tinywideclouds/go-reengagement-service/internal/storage/cache"
	sqlitestore "github.com/tinywideclouds/go-reengagement-service/internal/storage/sqlite"
	"github.com/tinywideclouds/go-reengagement-service/pkg/dispatch"
	"github.com/tinywideclouds/go-reengagement-service/reengagementservice"
	"github.com/tinywideclouds/go-reengagement-service/reengagementservice/config"
)

//go:embed local.yaml
var configFile []byte

func main() {
	// Local development convenience; a missing .env is fine.
	_ = godotenv.Load()

	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-reengagement-service")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Signer ---
	// Unusable key material means every dispatch would fail auth; refuse
	// to serve traffic at all.
	var signer *vapid.Signer
	if cfg.Vapid.GenerateOnBoot {
		signer, err = vapid.GenerateSigner(cfg.Vapid.SubscriberEmail)
		if err == nil {
			logger.Warn("Generated fresh VAPID keys; existing client subscriptions are now invalid",
				"public_key", signer.PublicKey())
		}
	} else {
		signer, err = vapid.NewSigner(cfg.Vapid.PublicKey, cfg.Vapid.PrivateKey, cfg.Vapid.SubscriberEmail)
	}
	if err != nil {
		logger.Error("VAPID signer failed", "err", err)
		os.Exit(1)
	}

	// --- Subscriber Store ---
	sqlDB, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Error("Database open failed", "err", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	clock := clockwork.NewRealClock()
	sqlStore := sqlitestore.NewStore(sqlDB, cfg.Database.Driver, clock)
	if err := sqlStore.Migrate(ctx); err != nil {
		logger.Error("Database migration failed", "err", err)
		os.Exit(1)
	}
	var store dispatch.SubscriberStore = sqlStore
	logger.Info("SubscriberStore initialized", "driver", cfg.Database.Driver)

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		store = cache.NewCachedSubscriberStore(store, redisClient, time.Hour)
		logger.Info("SubscriberStore upgraded", "type", "redis_cached_sqlite")
	}

	// --- Dispatcher & Scheduler ---
	dispatcher := web.NewDispatcher(signer, cfg.Scheduler.DeliveryTimeout, logger)

	sched := scheduler.New(store, dispatcher, scheduler.Config{
		ScanInterval:        cfg.Scheduler.ScanInterval,
		InactivityThreshold: cfg.Scheduler.InactivityThreshold,
		FanOut:              cfg.Scheduler.FanOut,
		MaxConcurrentSweeps: cfg.Scheduler.MaxConcurrentSweeps,
	}, clock, logger)

	// --- Service ---
	service, err := reengagementservice.New(cfg, store, dispatcher, signer, sched, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	logger.Info("Starting service...", "listen_addr", cfg.ListenAddr)
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}
