// Package vitals consolidates the core domain types and service dependency
// definitions for the vitals delivery service.
package vitals

// ServiceDependencies holds all the external services the vitals service needs to operate.
// This struct is used for dependency injection.
type ServiceDependencies struct {
	// --- Ingestion ---
	IngestionConsumer MessageConsumer
	IngestionProducer IngestionProducer

	// --- Identity & Ownership ---
	Authenticator Authenticator
	DeviceBinding DeviceBinding

	// --- Storage ---
	// Recorder receives every routed event. It may be nil.
	Recorder         Recorder
	LatestStore      LatestStore
	MeasurementStore MeasurementStore

	// --- Observability ---
	Metrics MetricsSink
}
