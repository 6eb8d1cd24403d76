// Command vitalsservice runs the realtime vitals delivery hub: the ingestion
// pipeline, the HTTP API and the WebSocket server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/tinywideclouds/go-vitals-service/cmd"
	"github.com/tinywideclouds/go-vitals-service/internal/app"
	"github.com/tinywideclouds/go-vitals-service/internal/auth"
	"github.com/tinywideclouds/go-vitals-service/internal/metrics"
	"github.com/tinywideclouds/go-vitals-service/internal/realtime"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
	"github.com/tinywideclouds/go-vitals-service/vitalsservice"
	"github.com/tinywideclouds/go-vitals-service/vitalsservice/config"
)

const serviceName = "go-vitals-service"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var devTokenUser string
	var devTokenTTL time.Duration

	flagSet := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a config.yaml (default: the embedded local config)")
	flagSet.StringVar(&devTokenUser, "dev-token", "", "print an HMAC bearer token for this user and exit")
	flagSet.DurationVar(&devTokenTTL, "dev-token-ttl", 24*time.Hour, "lifetime of the --dev-token token")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// 1. Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("service", serviceName).Logger()

	// 2. Load config (Stage 1: YAML, Stage 2: env overrides)
	var baseCfg *config.AppConfig
	var err error
	if configPath != "" {
		baseCfg, err = cmd.LoadFile(configPath, logger)
	} else {
		baseCfg, err = cmd.Load(logger)
	}
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to finalize configuration: %w", err)
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		logger = logger.Level(level)
	}

	if devTokenUser != "" {
		return printDevToken(cfg, vitals.UserID(devTokenUser), devTokenTTL)
	}

	// 3. Metrics
	ctx := context.Background()
	meterProvider, err := metrics.NewMeterProvider(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() {
		if err := meterProvider.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("Meter provider shutdown failed.")
		}
	}()

	// 4. Create dependencies
	deps, closeDeps, err := newDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer closeDeps()
	if cfg.Telemetry.OTLPEndpoint != "" {
		deps.Metrics = metrics.NewOTelSink(meterProvider, logger)
	}

	// 5. Create the two main services
	registry := realtime.NewSessionRegistry()
	router := realtime.NewRouter(registry, deps.Metrics, cfg.Realtime.StrictInvariants, logger)

	rtCfg := cfg.Realtime
	rtCfg.ListenAddr = ":" + cfg.WebSocketPort
	connManager, err := realtime.NewConnectionManager(rtCfg, deps.Authenticator, registry, deps.Metrics, logger)
	if err != nil {
		return fmt.Errorf("failed to create connection manager: %w", err)
	}

	apiService, err := vitalsservice.New(cfg, deps, router, logger.With().Str("component", "ApiService").Logger())
	if err != nil {
		return fmt.Errorf("failed to create API service: %w", err)
	}

	// 6. Run the application. Sessions get the full realtime shutdown
	// window; the API and pipeline drain after them.
	app.Run(ctx, logger, apiService, connManager, cfg.Realtime.ShutdownTimeout+app.DefaultShutdownTimeout)
	return nil
}

// newDependencies builds the service dependency container and a func that
// releases the clients it opened.
func newDependencies(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*vitals.ServiceDependencies, func(), error) {
	if cfg.RunMode == config.RunModeLocal {
		deps, err := cmd.NewFakeDependencies(ctx, cfg, logger)
		return deps, func() {}, err
	}
	return newProdDependencies(ctx, cfg, logger)
}

func printDevToken(cfg *config.AppConfig, userID vitals.UserID, ttl time.Duration) error {
	if cfg.Auth.Mode != config.AuthModeHMAC {
		return fmt.Errorf("--dev-token needs auth mode %q, configured mode is %q", config.AuthModeHMAC, cfg.Auth.Mode)
	}
	authenticator, err := auth.NewHMACAuthenticator(auth.HMACConfig{
		Secret:   cfg.Auth.HMACSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	})
	if err != nil {
		return err
	}
	token, err := authenticator.Issue(userID, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
