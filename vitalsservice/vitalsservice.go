// Package vitalsservice wires the REST API and the ingestion pipeline into
// one runnable service. The realtime WebSocket server runs beside it.
package vitalsservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/internal/api"
	"github.com/tinywideclouds/go-vitals-service/internal/auth"
	"github.com/tinywideclouds/go-vitals-service/internal/ingestion"
	"github.com/tinywideclouds/go-vitals-service/internal/platform/server"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
	"github.com/tinywideclouds/go-vitals-service/vitalsservice/config"
)

// Wrapper embeds BaseServer to get standard server functionality.
type Wrapper struct {
	*server.BaseServer
	processingService *ingestion.StreamingService[vitals.TelemetryEvent]
	apiHandler        *api.API
	logger            zerolog.Logger
	httpReadyChan     chan struct{}
}

// New creates and wires up the API and ingestion pipeline. router delivers
// owned events to live sessions.
func New(
	cfg *config.AppConfig,
	dependencies *vitals.ServiceDependencies,
	router ingestion.EventRouter,
	logger zerolog.Logger,
) (*Wrapper, error) {
	if dependencies.Authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}

	// 1. Create the standard base server.
	baseServer := server.NewBaseServer(logger, ":"+cfg.APIPort)
	httpReadyChan := make(chan struct{})
	baseServer.SetReadyChannel(httpReadyChan)

	// 2. Create the API handlers.
	apiHandler := api.NewAPI(
		dependencies.IngestionProducer,
		dependencies.DeviceBinding,
		dependencies.LatestStore,
		dependencies.MeasurementStore,
		logger.With().Str("component", "API").Logger(),
	)

	// 3. Create the main background processing pipeline.
	processingService, err := newProcessingService(cfg, dependencies, router, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create processing service: %w", err)
	}

	// 4. Attach authenticated handlers.
	authMiddleware := auth.Middleware(dependencies.Authenticator, logger)
	mux := baseServer.Mux()
	mux.Handle("POST /api/telemetry", authMiddleware(http.HandlerFunc(apiHandler.TelemetryHandler)))
	mux.Handle("GET /api/vitals/latest", authMiddleware(http.HandlerFunc(apiHandler.LatestHandler)))
	mux.Handle("GET /api/vitals/measurements", authMiddleware(http.HandlerFunc(apiHandler.MeasurementsHandler)))
	mux.Handle("GET /api/vitals/summary", authMiddleware(http.HandlerFunc(apiHandler.SummaryHandler)))
	mux.Handle("GET /api/vitals/health-record", authMiddleware(http.HandlerFunc(apiHandler.HealthRecordHandler)))

	return &Wrapper{
		BaseServer:        baseServer,
		processingService: processingService,
		apiHandler:        apiHandler,
		logger:            logger,
		httpReadyChan:     httpReadyChan,
	}, nil
}

// newProcessingService builds the ingestion pipeline: parse, bind, route, record.
func newProcessingService(
	cfg *config.AppConfig,
	dependencies *vitals.ServiceDependencies,
	router ingestion.EventRouter,
	logger zerolog.Logger,
) (*ingestion.StreamingService[vitals.TelemetryEvent], error) {
	endpoint, err := ingestion.NewEndpoint(
		dependencies.DeviceBinding,
		router,
		dependencies.Recorder,
		dependencies.Metrics,
		logger,
	)
	if err != nil {
		return nil, err
	}

	streamCfg := ingestion.DefaultStreamingServiceConfig()
	if cfg.Ingestion.NumWorkers > 0 {
		streamCfg.NumWorkers = cfg.Ingestion.NumWorkers
	}
	return ingestion.NewStreamingService[vitals.TelemetryEvent](
		streamCfg,
		dependencies.IngestionConsumer,
		endpoint.Transform,
		endpoint.Process,
		ingestion.DeviceShard,
		logger,
	)
}

// Start runs the ingestion pipeline, then serves HTTP until Shutdown.
func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info().Msg("Core processing pipeline starting...")
	if err := w.processingService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}

	serverErrChan := make(chan error, 1)
	go func() {
		if err := w.BaseServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Error().Err(err).Msg("HTTP server failed")
			serverErrChan <- err
		}
		close(serverErrChan)
	}()

	// Wait for EITHER the server to be ready OR for it to fail on startup
	select {
	case <-w.httpReadyChan:
		w.logger.Info().Msg("HTTP listener is active.")
		w.SetReady(true)
		w.logger.Info().Msg("Service is now ready.")
	case err := <-serverErrChan:
		return fmt.Errorf("HTTP server failed to start: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}

	// Wait for the server goroutine to exit (which happens on Shutdown)
	if err := <-serverErrChan; err != nil {
		return err
	}
	return nil
}

// Ready is closed once the HTTP listener is active.
func (w *Wrapper) Ready() <-chan struct{} {
	return w.httpReadyChan
}

// Shutdown stops HTTP intake first, then drains the ingestion pipeline.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info().Msg("Shutting down service components...")
	var finalErr error

	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error().Err(err).Msg("HTTP server shutdown failed.")
		finalErr = err
	}

	if err := w.processingService.Stop(ctx); err != nil {
		w.logger.Error().Err(err).Msg("Processing service shutdown failed.")
		finalErr = errors.Join(finalErr, err)
	}

	w.logger.Info().Msg("All components shut down.")
	return finalErr
}
