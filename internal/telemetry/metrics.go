package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the process-wide set of prometheus collectors. A single
// instance is constructed at startup and only its Registry is handed
// on, to the /metrics handler; no engine component updates these
// collectors.
type Metrics struct {
	Registry *prometheus.Registry

	TradesIngested     prometheus.Counter
	DepthUpdatesDropped prometheus.Counter
	BookResyncs        prometheus.Counter
	PreprocessorDrops  *prometheus.CounterVec // label: consumer

	DetectorCandidates *prometheus.CounterVec // labels: detector, side
	DetectorErrors     *prometheus.CounterVec // labels: detector, kind
	CircuitBreakerOpen *prometheus.GaugeVec   // label: detector

	SignalsAccepted prometheus.Counter
	SignalsRejected *prometheus.CounterVec // label: reason
	QueueDepth      prometheus.Gauge
	QueueHighWater  prometheus.Gauge
}

// NewMetrics registers and returns the engine's prometheus collectors
// against a fresh registry (a Registry instance, never the global
// default, so multiple engines in tests don't collide).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		TradesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowengine_trades_ingested_total",
			Help: "Aggressive trades processed by the preprocessor.",
		}),
		DepthUpdatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowengine_depth_updates_dropped_total",
			Help: "Depth deltas dropped for being stale or pre-resync.",
		}),
		BookResyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowengine_book_resyncs_total",
			Help: "Order book resyncs triggered by a sequence gap.",
		}),
		PreprocessorDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowengine_preprocessor_drops_total",
			Help: "Enrichments dropped because a consumer could not keep up.",
		}, []string{"consumer"}),
		DetectorCandidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowengine_detector_candidates_total",
			Help: "Signal candidates emitted per detector and side.",
		}, []string{"detector", "side"}),
		DetectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowengine_detector_errors_total",
			Help: "Errors recovered locally within a detector.",
		}, []string{"detector", "kind"}),
		CircuitBreakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowengine_circuit_breaker_open",
			Help: "1 if the detector's circuit breaker is currently open.",
		}, []string{"detector"}),
		SignalsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowengine_signals_accepted_total",
			Help: "ProcessedSignals published by the signal manager.",
		}),
		SignalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowengine_signals_rejected_total",
			Help: "Candidates rejected by the signal manager pipeline.",
		}, []string{"reason"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowengine_signal_queue_depth",
			Help: "Current depth of the priority signal queue.",
		}),
		QueueHighWater: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowengine_signal_queue_high_water",
			Help: "High-water mark of the priority signal queue.",
		}),
	}

	reg.MustRegister(
		m.TradesIngested, m.DepthUpdatesDropped, m.BookResyncs, m.PreprocessorDrops,
		m.DetectorCandidates, m.DetectorErrors, m.CircuitBreakerOpen,
		m.SignalsAccepted, m.SignalsRejected, m.QueueDepth, m.QueueHighWater,
	)
	return m
}
