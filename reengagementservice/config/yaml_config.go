// --- File: reengagementservice/config/yaml_config.go ---
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
	GenerateOnBoot  bool   `yaml:"generate_on_boot"`
}

type YamlDatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// YamlSchedulerConfig keeps durations as strings ("90s", "2m") so the file
// stays readable.
type YamlSchedulerConfig struct {
	ScanInterval        string `yaml:"scan_interval"`
	InactivityThreshold string `yaml:"inactivity_threshold"`
	DeliveryTimeout     string `yaml:"delivery_timeout"`
	FanOut              int    `yaml:"fan_out"`
	MaxConcurrentSweeps int    `yaml:"max_concurrent_sweeps"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ListenAddr      string              `yaml:"listen_addr"`
	CorsConfig      YamlCorsConfig      `yaml:"cors"`
	RedisConfig     YamlRedisConfig     `yaml:"redis"`
	VapidConfig     YamlVapidConfig     `yaml:"vapid"`
	DatabaseConfig  YamlDatabaseConfig  `yaml:"database"`
	SchedulerConfig YamlSchedulerConfig `yaml:"scheduler"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ListenAddr: baseCfg.ListenAddr,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
			GenerateOnBoot:  baseCfg.VapidConfig.GenerateOnBoot,
		},
		Database: DatabaseConfig{
			Driver: baseCfg.DatabaseConfig.Driver,
			DSN:    baseCfg.DatabaseConfig.DSN,
		},
		Scheduler: SchedulerConfig{
			FanOut:              baseCfg.SchedulerConfig.FanOut,
			MaxConcurrentSweeps: baseCfg.SchedulerConfig.MaxConcurrentSweeps,
		},
	}

	var err error
	if cfg.Scheduler.ScanInterval, err = parseDuration(baseCfg.SchedulerConfig.ScanInterval, "scan_interval"); err != nil {
		return nil, err
	}
	if cfg.Scheduler.InactivityThreshold, err = parseDuration(baseCfg.SchedulerConfig.InactivityThreshold, "inactivity_threshold"); err != nil {
		return nil, err
	}
	if cfg.Scheduler.DeliveryTimeout, err = parseDuration(baseCfg.SchedulerConfig.DeliveryTimeout, "delivery_timeout"); err != nil {
		return nil, err
	}

	logger.Debug("YAML config mapping complete",
		"listen_addr", cfg.ListenAddr,
		"scan_interval", cfg.Scheduler.ScanInterval,
		"inactivity_threshold", cfg.Scheduler.InactivityThreshold,
	)

	return cfg, nil
}

func parseDuration(raw, field string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid scheduler %s %q: %w", field, raw, err)
	}
	return d, nil
}
