package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nayanladumor10/Latest-backend/pkg/monitoring"
)

// Metrics holds all Prometheus metrics for the dispatch core
type Metrics struct {
	// Hub metrics
	HubConnections *prometheus.GaugeVec
	HubMessages    *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec

	// Change detection metrics
	WatcherTransitions *prometheus.CounterVec
	ChangeEvents       *prometheus.CounterVec

	// Snapshot cache metrics
	SnapshotRejections *prometheus.CounterVec

	// Simulation metrics
	SimTickDuration *prometheus.HistogramVec
	SimTransitions  *prometheus.CounterVec

	// Reports metrics
	ReportCycles *prometheus.CounterVec
}

// New registers the core metrics on the service collector
func New(mc *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		HubConnections:     mc.NewGauge("hub_connections_active", "Active WebSocket hub connections", []string{"room"}),
		HubMessages:        mc.NewCounter("hub_messages_total", "WebSocket hub messages", []string{"event", "direction"}),
		EventsDropped:      mc.NewCounter("hub_events_dropped_total", "Events dropped on full client buffers", []string{"event"}),
		WatcherTransitions: mc.NewCounter("watcher_transitions_total", "Watcher state transitions", []string{"collection", "state"}),
		ChangeEvents:       mc.NewCounter("change_events_total", "Store change events observed", []string{"collection", "operation", "source"}),
		SnapshotRejections: mc.NewCounter("snapshot_rejections_total", "Snapshot payloads rejected by validation", []string{"feed"}),
		SimTickDuration:    mc.NewHistogram("simulation_tick_duration_seconds", "Driver simulation tick duration", nil, nil),
		SimTransitions:     mc.NewCounter("simulation_transitions_total", "Driver simulation state transitions", []string{"transition"}),
		ReportCycles:       mc.NewCounter("report_cycles_total", "Report broadcast cycles", []string{"feed", "outcome"}),
	}
}
