package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/internal/realtime"
)

// --- YAML-Specific Structs ---

type YamlAuthConfig struct {
	Mode       string `yaml:"mode"` // "jwks" or "hmac"
	JWKSURL    string `yaml:"jwks_url"`
	HMACSecret string `yaml:"hmac_secret"`
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
}

// YamlRealtimeConfig carries durations as Go duration strings ("20s").
type YamlRealtimeConfig struct {
	QueueCapacity   int      `yaml:"queue_capacity"`
	AuthTimeout     string   `yaml:"auth_timeout"`
	PingInterval    string   `yaml:"ping_interval"`
	MaxMissedPongs  int      `yaml:"max_missed_pongs"`
	WriteTimeout    string   `yaml:"write_timeout"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
	MaxMessageBytes int64    `yaml:"max_message_bytes"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

type YamlMQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type YamlPubsubConfig struct {
	TopicID        string `yaml:"topic_id"`
	SubscriptionID string `yaml:"subscription_id"`
	DLQTopicID     string `yaml:"dlq_topic_id"`
}

type YamlIngestionConfig struct {
	Source     string           `yaml:"source"` // "mqtt", "pubsub" or "http"
	NumWorkers int              `yaml:"num_workers"`
	MQTT       YamlMQTTConfig   `yaml:"mqtt"`
	Pubsub     YamlPubsubConfig `yaml:"pubsub"`
}

type YamlBindingConfig struct {
	Type       string `yaml:"type"` // "firestore" or "postgres"
	Collection string `yaml:"collection"`
	CacheTTL   string `yaml:"cache_ttl"`
}

type YamlRecorderConfig struct {
	Latest       string `yaml:"latest"`       // "", "redis" or "firestore"
	Measurements string `yaml:"measurements"` // "", "postgres" or "firestore"
}

type YamlRedisConfig struct {
	Addr string `yaml:"addr"`
}

type YamlPostgresConfig struct {
	URL string `yaml:"url"`
}

type YamlTelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// YamlConfig defines the structure for unmarshaling the embedded config.yaml file.
type YamlConfig struct {
	ProjectID     string              `yaml:"project_id"`
	RunMode       string              `yaml:"run_mode"`
	LogLevel      string              `yaml:"log_level"`
	APIPort       string              `yaml:"api_port"`
	WebSocketPort string              `yaml:"websocket_port"`
	Auth          YamlAuthConfig      `yaml:"auth"`
	Realtime      YamlRealtimeConfig  `yaml:"realtime"`
	Ingestion     YamlIngestionConfig `yaml:"ingestion"`
	Binding       YamlBindingConfig   `yaml:"binding"`
	Recorder      YamlRecorderConfig  `yaml:"recorder"`
	Redis         YamlRedisConfig     `yaml:"redis"`
	Postgres      YamlPostgresConfig  `yaml:"postgres"`
	Telemetry     YamlTelemetryConfig `yaml:"telemetry"`
}

// --- Stage 1 Function ---

// NewConfigFromYaml converts the raw unmarshaled data (YamlConfig) into a
// base AppConfig. Durations are parsed here; unset realtime values keep the
// realtime defaults.
func NewConfigFromYaml(yamlCfg *YamlConfig, logger zerolog.Logger) (*AppConfig, error) {
	logger.Debug().Msg("Mapping YAML config to base config struct")

	rt := realtime.DefaultConfig()
	if yamlCfg.Realtime.QueueCapacity != 0 {
		rt.QueueCapacity = yamlCfg.Realtime.QueueCapacity
	}
	if yamlCfg.Realtime.MaxMissedPongs != 0 {
		rt.MaxMissedPongs = yamlCfg.Realtime.MaxMissedPongs
	}
	if yamlCfg.Realtime.MaxMessageBytes != 0 {
		rt.MaxMessageBytes = yamlCfg.Realtime.MaxMessageBytes
	}
	rt.AllowedOrigins = yamlCfg.Realtime.AllowedOrigins

	durations := []struct {
		key    string
		raw    string
		target *time.Duration
	}{
		{"realtime.auth_timeout", yamlCfg.Realtime.AuthTimeout, &rt.AuthTimeout},
		{"realtime.ping_interval", yamlCfg.Realtime.PingInterval, &rt.PingInterval},
		{"realtime.write_timeout", yamlCfg.Realtime.WriteTimeout, &rt.WriteTimeout},
		{"realtime.shutdown_timeout", yamlCfg.Realtime.ShutdownTimeout, &rt.ShutdownTimeout},
	}
	for _, d := range durations {
		if err := parseDuration(d.key, d.raw, d.target); err != nil {
			return nil, err
		}
	}

	var cacheTTL time.Duration
	if err := parseDuration("binding.cache_ttl", yamlCfg.Binding.CacheTTL, &cacheTTL); err != nil {
		return nil, err
	}

	appCfg := &AppConfig{
		ProjectID:     yamlCfg.ProjectID,
		RunMode:       yamlCfg.RunMode,
		LogLevel:      yamlCfg.LogLevel,
		APIPort:       yamlCfg.APIPort,
		WebSocketPort: yamlCfg.WebSocketPort,
		Auth:          yamlCfg.Auth,
		Realtime:      rt,
		Ingestion:     yamlCfg.Ingestion,
		Binding: BindingConfig{
			Type:       yamlCfg.Binding.Type,
			Collection: yamlCfg.Binding.Collection,
			CacheTTL:   cacheTTL,
		},
		Recorder:  yamlCfg.Recorder,
		Redis:     yamlCfg.Redis,
		Postgres:  yamlCfg.Postgres,
		Telemetry: yamlCfg.Telemetry,
	}

	logger.Debug().
		Str("project_id", appCfg.ProjectID).
		Str("run_mode", appCfg.RunMode).
		Str("api_port", appCfg.APIPort).
		Str("websocket_port", appCfg.WebSocketPort).
		Str("auth_mode", appCfg.Auth.Mode).
		Str("ingestion_source", appCfg.Ingestion.Source).
		Str("binding_type", appCfg.Binding.Type).
		Msg("YAML config mapping complete")

	return appCfg, nil
}

func parseDuration(key, raw string, target *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	*target = d
	return nil
}
