package metrics

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/tinywideclouds/go-vitals-service"

// OTelSink forwards increments to OpenTelemetry Int64Counters, creating each
// counter on first use.
type OTelSink struct {
	meter    metric.Meter
	mu       sync.Mutex
	counters map[string]metric.Int64Counter
	logger   zerolog.Logger
}

// NewOTelSink creates a sink that records on the given MeterProvider.
func NewOTelSink(provider metric.MeterProvider, logger zerolog.Logger) *OTelSink {
	return &OTelSink{
		meter:    provider.Meter(instrumentationName),
		counters: make(map[string]metric.Int64Counter),
		logger:   logger.With().Str("component", "OTelSink").Logger(),
	}
}

// Increment adds one to the named counter.
func (s *OTelSink) Increment(counter string, labels map[string]string) {
	c, ok := s.counter(counter)
	if !ok {
		return
	}
	if len(labels) == 0 {
		c.Add(context.Background(), 1)
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	c.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (s *OTelSink) counter(name string) (metric.Int64Counter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[name]; ok {
		return c, true
	}
	c, err := s.meter.Int64Counter(name)
	if err != nil {
		s.logger.Warn().Err(err).Str("counter", name).Msg("Failed to create counter.")
		return nil, false
	}
	s.counters[name] = c
	return c, true
}
