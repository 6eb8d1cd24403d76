package config_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	// Import the package we are testing
	"github.com/tinywideclouds/go-vitals-service/vitalsservice/config"
)

func newTestLogger() zerolog.Logger {
	return zerolog.Nop()
}

const sampleYaml = `
project_id: yaml-project
run_mode: prod
log_level: debug
api_port: "8080"
websocket_port: "8081"
auth:
  mode: jwks
  jwks_url: https://id.example.com/.well-known/jwks.json
  issuer: https://id.example.com
realtime:
  queue_capacity: 32
  auth_timeout: 3s
  ping_interval: 15s
  max_missed_pongs: 3
  allowed_origins: ["https://app.example.com"]
ingestion:
  source: mqtt
  num_workers: 8
  mqtt:
    broker: tcp://mqtt:1883
    topic: vitals/devices/+/telemetry
    qos: 1
binding:
  type: postgres
  cache_ttl: 45s
recorder:
  latest: redis
  measurements: postgres
redis:
  addr: redis:6379
postgres:
  url: postgres://vitals@db/vitals
telemetry:
  otlp_endpoint: otel:4317
`

func TestNewConfigFromYaml(t *testing.T) {
	t.Run("Success - maps all fields correctly from YAML struct", func(t *testing.T) {
		// Arrange
		var yamlCfg config.YamlConfig
		require.NoError(t, yaml.Unmarshal([]byte(sampleYaml), &yamlCfg))

		// Act
		cfg, err := config.NewConfigFromYaml(&yamlCfg, newTestLogger())

		// Assert
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "yaml-project", cfg.ProjectID)
		assert.Equal(t, "prod", cfg.RunMode)
		assert.Equal(t, "8080", cfg.APIPort)
		assert.Equal(t, "8081", cfg.WebSocketPort)
		assert.Equal(t, config.AuthModeJWKS, cfg.Auth.Mode)
		assert.Equal(t, 32, cfg.Realtime.QueueCapacity)
		assert.Equal(t, 3*time.Second, cfg.Realtime.AuthTimeout)
		assert.Equal(t, 15*time.Second, cfg.Realtime.PingInterval)
		assert.Equal(t, 3, cfg.Realtime.MaxMissedPongs)
		assert.Equal(t, []string{"https://app.example.com"}, cfg.Realtime.AllowedOrigins)
		assert.Equal(t, 8, cfg.Ingestion.NumWorkers)
		assert.Equal(t, byte(1), cfg.Ingestion.MQTT.QoS)
		assert.Equal(t, 45*time.Second, cfg.Binding.CacheTTL)
		assert.Equal(t, "redis:6379", cfg.Redis.Addr)
		assert.Equal(t, "otel:4317", cfg.Telemetry.OTLPEndpoint)
	})

	t.Run("Success - unset realtime values keep defaults", func(t *testing.T) {
		cfg, err := config.NewConfigFromYaml(&config.YamlConfig{}, newTestLogger())
		require.NoError(t, err)

		assert.Equal(t, 64, cfg.Realtime.QueueCapacity)
		assert.Equal(t, 5*time.Second, cfg.Realtime.AuthTimeout)
		assert.Equal(t, 20*time.Second, cfg.Realtime.PingInterval)
		assert.Equal(t, 2, cfg.Realtime.MaxMissedPongs)
		assert.Equal(t, time.Duration(0), cfg.Binding.CacheTTL)
	})

	t.Run("Failure - bad duration", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{Realtime: config.YamlRealtimeConfig{PingInterval: "soon"}}
		_, err := config.NewConfigFromYaml(yamlCfg, newTestLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "realtime.ping_interval")
	})
}
