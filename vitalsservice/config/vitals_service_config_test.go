package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-vitals-service/internal/realtime"
	"github.com/tinywideclouds/go-vitals-service/vitalsservice/config"
)

// newBaseConfig creates a mock "Stage 1" config,
// simulating what NewConfigFromYaml would produce.
func newBaseConfig() *config.AppConfig {
	return &config.AppConfig{
		ProjectID:     "base-project",
		RunMode:       config.RunModeProd,
		APIPort:       "9090",
		WebSocketPort: "9091",
		Auth:          config.YamlAuthConfig{Mode: config.AuthModeHMAC, HMACSecret: "base-secret"},
		Realtime:      realtime.DefaultConfig(),
		Ingestion: config.YamlIngestionConfig{
			Source:     config.SourcePubsub,
			NumWorkers: 1,
			Pubsub:     config.YamlPubsubConfig{TopicID: "telemetry", SubscriptionID: "telemetry-sub", DLQTopicID: "telemetry-dlq"},
		},
		Binding:  config.BindingConfig{Type: config.BackendFirestore},
		Redis:    config.YamlRedisConfig{Addr: "base-redis:6379"},
		Postgres: config.YamlPostgresConfig{URL: "postgres://base"},
	}
}

// clearEnv blanks every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GCP_PROJECT_ID", "API_PORT", "WEBSOCKET_PORT", "REDIS_ADDR", "POSTGRES_URL", "MQTT_BROKER", "MQTT_USERNAME", "MQTT_PASSWORD",
		"JWKS_URL", "JWT_SECRET", "OTEL_EXPORTER_OTLP_ENDPOINT", "LOG_LEVEL", "CORS_ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	t.Run("Success - All overrides applied", func(t *testing.T) {
		// Arrange
		clearEnv(t)
		baseCfg := newBaseConfig()
		t.Setenv("GCP_PROJECT_ID", "env-project")
		t.Setenv("API_PORT", "8000")
		t.Setenv("WEBSOCKET_PORT", "8001")
		t.Setenv("REDIS_ADDR", "env-redis:6379")
		t.Setenv("POSTGRES_URL", "postgres://env")
		t.Setenv("MQTT_BROKER", "tcp://env:1883")
		t.Setenv("JWT_SECRET", "env-secret")
		t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "env-otel:4317")
		t.Setenv("LOG_LEVEL", "warn")
		t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, ,https://b.example.com")

		// Act
		cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)

		// Assert
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, "env-project", cfg.ProjectID)
		assert.Equal(t, "8000", cfg.APIPort)
		assert.Equal(t, "8001", cfg.WebSocketPort)
		assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
		assert.Equal(t, "postgres://env", cfg.Postgres.URL)
		assert.Equal(t, "tcp://env:1883", cfg.Ingestion.MQTT.Broker)
		assert.Equal(t, "env-secret", cfg.Auth.HMACSecret)
		assert.Equal(t, "env-otel:4317", cfg.Telemetry.OTLPEndpoint)
		assert.Equal(t, "warn", cfg.LogLevel)
		assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Realtime.AllowedOrigins)

		// Non-overridden fields remain
		assert.Equal(t, config.RunModeProd, cfg.RunMode)
		assert.Equal(t, 1, cfg.Ingestion.NumWorkers)
	})

	t.Run("Success - local mode skips backend checks", func(t *testing.T) {
		clearEnv(t)
		cfg := newBaseConfig()
		cfg.RunMode = config.RunModeLocal
		cfg.ProjectID = ""
		cfg.Binding.Type = ""

		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)
	})

	failures := []struct {
		name    string
		mutate  func(*config.AppConfig)
		message string
	}{
		{"Missing API_PORT", func(c *config.AppConfig) { c.APIPort = "" }, "API_PORT is not set"},
		{"Missing WEBSOCKET_PORT", func(c *config.AppConfig) { c.WebSocketPort = "" }, "WEBSOCKET_PORT is not set"},
		{"Bad run mode", func(c *config.AppConfig) { c.RunMode = "staging" }, "invalid run_mode"},
		{"Missing HMAC secret", func(c *config.AppConfig) { c.Auth.HMACSecret = "" }, "JWT_SECRET is not set"},
		{"Missing JWKS url", func(c *config.AppConfig) { c.Auth = config.YamlAuthConfig{Mode: config.AuthModeJWKS} }, "JWKS_URL is not set"},
		{"Unknown auth mode", func(c *config.AppConfig) { c.Auth.Mode = "basic" }, "invalid auth mode"},
		{"Zero queue capacity", func(c *config.AppConfig) { c.Realtime.QueueCapacity = 0 }, "queue_capacity"},
		{"Zero workers", func(c *config.AppConfig) { c.Ingestion.NumWorkers = 0 }, "num_workers"},
		{"Unknown source", func(c *config.AppConfig) { c.Ingestion.Source = "kafka" }, "invalid ingestion source"},
		{"Missing GCP_PROJECT_ID", func(c *config.AppConfig) { c.ProjectID = "" }, "GCP_PROJECT_ID is not set"},
		{"Missing MQTT broker", func(c *config.AppConfig) { c.Ingestion.Source = config.SourceMQTT }, "MQTT_BROKER is not set"},
		{"Missing subscription", func(c *config.AppConfig) { c.Ingestion.Pubsub.SubscriptionID = "" }, "subscription_id"},
		{"Missing dead letter topic", func(c *config.AppConfig) { c.Ingestion.Pubsub.DLQTopicID = "" }, "dlq_topic_id"},
		{"Postgres binding without url", func(c *config.AppConfig) {
			c.Binding.Type = config.BackendPostgres
			c.Postgres.URL = ""
		}, "POSTGRES_URL is not set"},
		{"Cache without redis", func(c *config.AppConfig) {
			c.Binding.CacheTTL = 1
			c.Redis.Addr = ""
		}, "REDIS_ADDR is required"},
		{"Unknown latest store", func(c *config.AppConfig) { c.Recorder.Latest = "memcached" }, "invalid recorder.latest"},
		{"Unknown measurement store", func(c *config.AppConfig) { c.Recorder.Measurements = "mysql" }, "invalid recorder.measurements"},
	}
	for _, tc := range failures {
		t.Run("Failure - "+tc.name, func(t *testing.T) {
			clearEnv(t)
			cfg := newBaseConfig()
			tc.mutate(cfg)

			got, err := config.UpdateConfigWithEnvOverrides(cfg, logger)

			require.Error(t, err)
			assert.Nil(t, got)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}
