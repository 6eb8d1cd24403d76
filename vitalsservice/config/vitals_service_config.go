package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/internal/realtime"
)

const (
	RunModeLocal = "local"
	RunModeProd  = "prod"

	AuthModeJWKS = "jwks"
	AuthModeHMAC = "hmac"

	SourceMQTT   = "mqtt"
	SourcePubsub = "pubsub"
	SourceHTTP   = "http"

	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"
)

// BindingConfig selects the device binding backend. A positive CacheTTL
// puts the Redis read-through cache in front of it.
type BindingConfig struct {
	Type       string
	Collection string
	CacheTTL   time.Duration
}

// AppConfig is the canonical, validated configuration object used throughout the application.
// It is created by NewConfigFromYaml (Stage 1) and finalized by
// UpdateConfigWithEnvOverrides (Stage 2).
type AppConfig struct {
	ProjectID     string
	RunMode       string
	LogLevel      string
	APIPort       string
	WebSocketPort string
	Auth          YamlAuthConfig
	Realtime      realtime.Config
	Ingestion     YamlIngestionConfig
	Binding       BindingConfig
	Recorder      YamlRecorderConfig
	Redis         YamlRedisConfig
	Postgres      YamlPostgresConfig
	Telemetry     YamlTelemetryConfig
}

// UsesGCP reports whether any selected backend needs a GCP project.
func (c *AppConfig) UsesGCP() bool {
	return c.Ingestion.Source == SourcePubsub ||
		c.Binding.Type == BackendFirestore ||
		c.Recorder.Latest == BackendFirestore ||
		c.Recorder.Measurements == BackendFirestore
}

// UpdateConfigWithEnvOverrides takes the base configuration (created from YAML)
// and completes it by applying environment variables and final validation.
// This function completes "Stage 2" of configuration loading.
func UpdateConfigWithEnvOverrides(cfg *AppConfig, logger zerolog.Logger) (*AppConfig, error) {
	logger.Debug().Msg("Applying environment variable overrides...")

	overrides := []struct {
		env    string
		target *string
	}{
		{"GCP_PROJECT_ID", &cfg.ProjectID},
		{"API_PORT", &cfg.APIPort},
		{"WEBSOCKET_PORT", &cfg.WebSocketPort},
		{"REDIS_ADDR", &cfg.Redis.Addr},
		{"POSTGRES_URL", &cfg.Postgres.URL},
		{"MQTT_BROKER", &cfg.Ingestion.MQTT.Broker},
		{"MQTT_USERNAME", &cfg.Ingestion.MQTT.Username},
		{"MQTT_PASSWORD", &cfg.Ingestion.MQTT.Password},
		{"JWKS_URL", &cfg.Auth.JWKSURL},
		{"JWT_SECRET", &cfg.Auth.HMACSecret},
		{"OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint},
		{"LOG_LEVEL", &cfg.LogLevel},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			logger.Debug().Str("key", o.env).Str("source", "env").Msg("Overriding config value")
			*o.target = v
		}
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug().Str("key", "CORS_ALLOWED_ORIGINS").Str("source", "env").Msg("Overriding config value")
		var cleanOrigins []string
		for _, o := range strings.Split(corsOrigins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.Realtime.AllowedOrigins = cleanOrigins
	}

	if err := validate(cfg); err != nil {
		logger.Error().Err(err).Msg("Final config validation failed")
		return nil, err
	}

	logger.Debug().Msg("Configuration finalized and validated successfully")
	return cfg, nil
}

func validate(cfg *AppConfig) error {
	if cfg.APIPort == "" {
		return fmt.Errorf("API_PORT is not set in config or env var")
	}
	if cfg.WebSocketPort == "" {
		return fmt.Errorf("WEBSOCKET_PORT is not set in config or env var")
	}
	if cfg.RunMode != RunModeLocal && cfg.RunMode != RunModeProd {
		return fmt.Errorf("invalid run_mode %q (must be 'local' or 'prod')", cfg.RunMode)
	}

	switch cfg.Auth.Mode {
	case AuthModeJWKS:
		if cfg.Auth.JWKSURL == "" {
			return fmt.Errorf("JWKS_URL is not set in config or env var")
		}
	case AuthModeHMAC:
		if cfg.Auth.HMACSecret == "" {
			return fmt.Errorf("JWT_SECRET is not set in config or env var")
		}
	default:
		return fmt.Errorf("invalid auth mode %q (must be 'jwks' or 'hmac')", cfg.Auth.Mode)
	}

	if cfg.Realtime.QueueCapacity < 1 {
		return fmt.Errorf("realtime.queue_capacity must be at least 1, got %d", cfg.Realtime.QueueCapacity)
	}
	if cfg.Ingestion.NumWorkers < 1 {
		return fmt.Errorf("ingestion.num_workers must be at least 1, got %d", cfg.Ingestion.NumWorkers)
	}

	switch cfg.Ingestion.Source {
	case SourceMQTT, SourcePubsub, SourceHTTP:
	default:
		return fmt.Errorf("invalid ingestion source %q (must be 'mqtt', 'pubsub' or 'http')", cfg.Ingestion.Source)
	}

	// Local mode fakes every backend.
	if cfg.RunMode == RunModeLocal {
		return nil
	}

	if cfg.UsesGCP() && cfg.ProjectID == "" {
		return fmt.Errorf("GCP_PROJECT_ID is not set in config or env var")
	}
	switch cfg.Ingestion.Source {
	case SourceMQTT:
		if cfg.Ingestion.MQTT.Broker == "" {
			return fmt.Errorf("MQTT_BROKER is not set in config or env var")
		}
	case SourcePubsub:
		if cfg.Ingestion.Pubsub.TopicID == "" || cfg.Ingestion.Pubsub.SubscriptionID == "" {
			return fmt.Errorf("ingestion.pubsub topic_id and subscription_id are required")
		}
		if cfg.Ingestion.Pubsub.DLQTopicID == "" {
			return fmt.Errorf("ingestion.pubsub dlq_topic_id is required")
		}
	}

	switch cfg.Binding.Type {
	case BackendFirestore:
	case BackendPostgres:
		if cfg.Postgres.URL == "" {
			return fmt.Errorf("POSTGRES_URL is not set in config or env var")
		}
	default:
		return fmt.Errorf("invalid binding type %q (must be 'firestore' or 'postgres')", cfg.Binding.Type)
	}
	if cfg.Binding.CacheTTL > 0 && cfg.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR is required when binding.cache_ttl is set")
	}

	switch cfg.Recorder.Latest {
	case "", BackendFirestore:
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis latest store")
		}
	default:
		return fmt.Errorf("invalid recorder.latest %q", cfg.Recorder.Latest)
	}
	switch cfg.Recorder.Measurements {
	case "", BackendFirestore:
	case BackendPostgres:
		if cfg.Postgres.URL == "" {
			return fmt.Errorf("POSTGRES_URL is required for the postgres measurement store")
		}
	default:
		return fmt.Errorf("invalid recorder.measurements %q", cfg.Recorder.Measurements)
	}
	return nil
}
