package cmd

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/internal/metrics"
	"github.com/tinywideclouds/go-vitals-service/internal/platform/loopback"
	"github.com/tinywideclouds/go-vitals-service/internal/test/fakes"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
	"github.com/tinywideclouds/go-vitals-service/vitalsservice/config"
)

// LocalDeviceID is bound to LocalUserID in local mode so a developer can
// post telemetry and watch it arrive without seeding a binding store.
const (
	LocalDeviceID vitals.DeviceID = "dev-local"
	LocalUserID   vitals.UserID   = "local-user"
)

// NewFakeDependencies creates in-memory fakes for local development. Tokens
// are still verified by the configured authenticator.
func NewFakeDependencies(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*vitals.ServiceDependencies, error) {
	authenticator, err := NewAuthenticator(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	consumer := loopback.NewSource(256, logger)
	binding := fakes.NewStaticBinding()
	binding.Bind(LocalDeviceID, LocalUserID)
	store := fakes.NewMemoryStore()

	logger.Warn().
		Str("device", string(LocalDeviceID)).
		Str("user", string(LocalUserID)).
		Msg("Running in 'local' mode. All external dependencies are faked.")

	return &vitals.ServiceDependencies{
		IngestionConsumer: consumer,
		IngestionProducer: consumer,
		Authenticator:     authenticator,
		DeviceBinding:     binding,
		Recorder:          store,
		LatestStore:       store,
		MeasurementStore:  store,
		Metrics:           metrics.NewMemorySink(),
	}, nil
}
