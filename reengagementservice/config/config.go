// --- File: reengagementservice/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
	// GenerateOnBoot creates a fresh key pair at startup instead of
	// loading configured material. Every restart then invalidates
	// credentials previously handed to clients, so this is a deliberate
	// choice for demos, never an accident.
	GenerateOnBoot bool
}

type DatabaseConfig struct {
	Driver string
	DSN    string
}

type SchedulerConfig struct {
	ScanInterval        time.Duration
	InactivityThreshold time.Duration
	DeliveryTimeout     time.Duration
	FanOut              int
	MaxConcurrentSweeps int
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ListenAddr string

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Vapid      VapidConfig
	Database   DatabaseConfig
	Scheduler  SchedulerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// VAPID Overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Vapid.SubscriberEmail = val
	}
	if val := os.Getenv("VAPID_GENERATE_ON_BOOT"); val != "" {
		generate, _ := strconv.ParseBool(val)
		cfg.Vapid.GenerateOnBoot = generate
	}

	// Database Overrides
	if val := os.Getenv("DATABASE_DRIVER"); val != "" {
		cfg.Database.Driver = val
	}
	if val := os.Getenv("DATABASE_DSN"); val != "" {
		cfg.Database.DSN = val
	}

	// Scheduler Overrides
	if val := os.Getenv("SCAN_INTERVAL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid SCAN_INTERVAL %q: %w", val, err)
		}
		cfg.Scheduler.ScanInterval = d
	}
	if val := os.Getenv("INACTIVITY_THRESHOLD"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid INACTIVITY_THRESHOLD %q: %w", val, err)
		}
		cfg.Scheduler.InactivityThreshold = d
	}
	if val := os.Getenv("DELIVERY_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid DELIVERY_TIMEOUT %q: %w", val, err)
		}
		cfg.Scheduler.DeliveryTimeout = d
	}
	if val := os.Getenv("FAN_OUT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Scheduler.FanOut = n
		}
	}
	if val := os.Getenv("MAX_CONCURRENT_SWEEPS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Scheduler.MaxConcurrentSweeps = n
		}
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// Final Validation
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite3"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:reengage.db?_journal_mode=WAL&_busy_timeout=5000"
	}
	if cfg.Vapid.SubscriberEmail == "" {
		return nil, fmt.Errorf("vapid subscriber_email is required (set via YAML or VAPID_SUB_EMAIL env var)")
	}
	if cfg.Vapid.GenerateOnBoot && cfg.Vapid.PrivateKey != "" {
		return nil, fmt.Errorf("vapid generate_on_boot conflicts with configured key material; choose one")
	}
	if !cfg.Vapid.GenerateOnBoot && cfg.Vapid.PrivateKey == "" {
		return nil, fmt.Errorf("vapid private_key is required unless generate_on_boot is set")
	}
	if cfg.Scheduler.ScanInterval < 0 || cfg.Scheduler.InactivityThreshold < 0 {
		return nil, fmt.Errorf("scheduler durations must be positive")
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
