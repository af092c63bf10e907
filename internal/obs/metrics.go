package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the counters/histograms the analysis and verdict workers
// increment. One instance is shared process-wide.
type Metrics struct {
	ProcessingTime  *prometheus.HistogramVec
	AnalyzerErrors  *prometheus.CounterVec
	BatchFlushes    *prometheus.CounterVec
	TokenRefreshes  *prometheus.CounterVec
	PolicyDecisions *prometheus.CounterVec
}

// NewMetrics registers every collector against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProcessingTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ices",
			Subsystem: "analysis",
			Name:      "processing_time_ms",
			Help:      "Per-analyzer processing time in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"analyzer"}),
		AnalyzerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ices",
			Subsystem: "analysis",
			Name:      "analyzer_errors_total",
			Help:      "Count of analyzers that returned an error observation.",
		}, []string{"analyzer"}),
		BatchFlushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ices",
			Subsystem: "batch",
			Name:      "flushes_total",
			Help:      "Count of batch client flush attempts by outcome.",
		}, []string{"outcome"}),
		TokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ices",
			Subsystem: "token",
			Name:      "refreshes_total",
			Help:      "Count of OAuth2 client-credentials refreshes by tenant and outcome.",
		}, []string{"tenant_id", "outcome"}),
		PolicyDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ices",
			Subsystem: "policy",
			Name:      "decisions_total",
			Help:      "Count of policy decisions by resolved action.",
		}, []string{"action"}),
	}
}
