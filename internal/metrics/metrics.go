// Package metrics provides MetricsSink implementations and the counter names
// emitted by the vitals service.
package metrics

// Counter names.
const (
	IngestAccepted     = "vitals.ingest.accepted"
	IngestRejected     = "vitals.ingest.rejected"
	RouteNoViewer      = "vitals.route.no_active_viewer"
	RouteDelivered     = "vitals.route.delivered"
	RouteInvariant     = "vitals.route.invariant_violation"
	QueueEvicted       = "vitals.queue.evicted"
	SessionOpened      = "vitals.session.opened"
	SessionClosed      = "vitals.session.closed"
	AuthFailed         = "vitals.auth.failed"
	RecorderFailed     = "vitals.recorder.failed"
	ReasonLabel        = "reason"
	DefaultServiceName = "vitals-service"
)

// Nop discards every increment.
type Nop struct{}

// Increment does nothing.
func (Nop) Increment(string, map[string]string) {}
