// --- File: reengagementservice/config/yaml_config_test.go ---
package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-reengagement-service/reengagementservice/config"
)

func TestNewConfigFromYaml(t *testing.T) {
	logger := newTestLogger()

	t.Run("Success - maps all fields correctly", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			ListenAddr: ":9000",
			CorsConfig: config.YamlCorsConfig{
				AllowedOrigins: []string{"http://yaml.com"},
				Role:           "editor",
			},
			RedisConfig: config.YamlRedisConfig{
				Addr:    "localhost:6379",
				DB:      2,
				Enabled: true,
			},
			VapidConfig: config.YamlVapidConfig{
				PublicKey:       "yaml-public-key",
				PrivateKey:      "yaml-private-key",
				SubscriberEmail: "yaml@test.com",
			},
			DatabaseConfig: config.YamlDatabaseConfig{
				Driver: "sqlite3",
				DSN:    "file:yaml.db",
			},
			SchedulerConfig: config.YamlSchedulerConfig{
				ScanInterval:        "90s",
				InactivityThreshold: "2m",
				DeliveryTimeout:     "10s",
				FanOut:              6,
				MaxConcurrentSweeps: 2,
			},
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, ":9000", cfg.ListenAddr)
		assert.Equal(t, []string{"http://yaml.com"}, cfg.CorsConfig.AllowedOrigins)
		assert.Equal(t, middleware.CorsRoleEditor, cfg.CorsConfig.Role)

		assert.True(t, cfg.Redis.Enabled)
		assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
		assert.Equal(t, 2, cfg.Redis.DB)

		assert.Equal(t, "yaml-public-key", cfg.Vapid.PublicKey)
		assert.Equal(t, "yaml-private-key", cfg.Vapid.PrivateKey)
		assert.Equal(t, "yaml@test.com", cfg.Vapid.SubscriberEmail)

		assert.Equal(t, "file:yaml.db", cfg.Database.DSN)

		assert.Equal(t, 90*time.Second, cfg.Scheduler.ScanInterval)
		assert.Equal(t, 2*time.Minute, cfg.Scheduler.InactivityThreshold)
		assert.Equal(t, 10*time.Second, cfg.Scheduler.DeliveryTimeout)
		assert.Equal(t, 6, cfg.Scheduler.FanOut)
		assert.Equal(t, 2, cfg.Scheduler.MaxConcurrentSweeps)
	})

	t.Run("Success - empty durations map to zero", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			VapidConfig: config.YamlVapidConfig{
				SubscriberEmail: "yaml@test.com",
				GenerateOnBoot:  true,
			},
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)
		require.NoError(t, err)

		assert.Zero(t, cfg.Scheduler.ScanInterval)
		assert.Zero(t, cfg.Scheduler.InactivityThreshold)
	})

	t.Run("Failure - malformed duration", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			SchedulerConfig: config.YamlSchedulerConfig{
				ScanInterval: "often",
			},
		}

		_, err := config.NewConfigFromYaml(yamlCfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scan_interval")
	})
}
