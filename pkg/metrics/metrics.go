// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks admin HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "admin_request_duration_seconds",
			Help:    "Admin HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total admin HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_requests_total",
			Help: "Total admin HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// TurnsTotal tracks finished turns by outcome and failure reason.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turns_total",
			Help: "Total finished turns",
		},
		[]string{"outcome", "reason"},
	)

	// TurnDuration tracks how long a turn ran until it finished.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turn_duration_seconds",
			Help:    "Turn duration from service check to close or failure",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	// StateTransitionsTotal tracks turn state transitions.
	StateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turn_state_transitions_total",
			Help: "Total turn state transitions",
		},
		[]string{"from", "to"},
	)

	// EchoCyclesTotal tracks answers repeated back to the user.
	EchoCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "turn_echo_cycles_total",
			Help: "Total answers echoed and acknowledged",
		},
	)

	// FragmentsTotal tracks fragments sent and received.
	FragmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fragments_total",
			Help: "Total chunked message fragments",
		},
		[]string{"kind", "result"},
	)

	// BusEventsTotal tracks events crossing the speech bus.
	BusEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_total",
			Help: "Total speech bus events",
		},
		[]string{"direction", "kind", "result"},
	)

	// SSEConnections tracks open status streams.
	SSEConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "admin_sse_connections_active",
			Help: "Number of open turn status streams",
		},
	)

	// TurnActive reports whether a turn is running.
	TurnActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "turn_active",
			Help: "1 while a turn is running",
		},
	)
)

// Fragment results.
const (
	FragmentSent     = "sent"
	FragmentAccepted = "accepted"
	FragmentDropped  = "dropped"
)

// RecordRequest records metrics for an admin HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordTurn records metrics for a finished turn.
func RecordTurn(outcome, reason string, duration float64) {
	TurnsTotal.WithLabelValues(outcome, reason).Inc()
	TurnDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordTransition records a turn state transition.
func RecordTransition(from, to string) {
	StateTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordFragments records n fragments of kind with the given result.
func RecordFragments(kind, result string, n int) {
	FragmentsTotal.WithLabelValues(kind, result).Add(float64(n))
}

// RecordBusEvent records one event crossing the speech bus.
func RecordBusEvent(direction, kind, result string) {
	BusEventsTotal.WithLabelValues(direction, kind, result).Inc()
}

// IncrementSSEConnections increments the open stream count.
func IncrementSSEConnections() {
	SSEConnections.Inc()
}

// DecrementSSEConnections decrements the open stream count.
func DecrementSSEConnections() {
	SSEConnections.Dec()
}
