// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Deployment metrics
	DeploymentsTotal *prometheus.CounterVec

	// Harvest metrics
	HarvestsTotal       *prometheus.CounterVec
	HarvestProfit       *prometheus.HistogramVec
	HarvestLoss         *prometheus.HistogramVec
	PreSyncFailures     prometheus.Counter
	InvariantViolations *prometheus.CounterVec

	// RPC metrics
	RPCCallsTotal  *prometheus.CounterVec
	RPCCallLatency *prometheus.HistogramVec
	WSLogsReceived prometheus.Counter

	// Scenario metrics
	ScenarioRunsTotal *prometheus.CounterVec
	ScenarioDuration  *prometheus.HistogramVec
	ReportsGenerated  prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRun prometheus.Gauge
}

// profitBuckets are in whole want tokens.
var profitBuckets = []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 100}

// NewMetrics creates a Metrics instance registered with reg. A nil reg
// registers with the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "vault_factory_lab"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	auto := promauto.With(reg)

	return &Metrics{
		// Deployment metrics
		DeploymentsTotal: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "factory",
			Name:      "deployments_total",
			Help:      "Total number of vault deployments by path and result",
		}, []string{"path", "result"}),

		// Harvest metrics
		HarvestsTotal: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "harvests_total",
			Help:      "Total number of harvests by strategy kind and result",
		}, []string{"kind", "result"}),
		HarvestProfit: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "profit_tokens",
			Help:      "Reported harvest profit in whole want tokens",
			Buckets:   profitBuckets,
		}, []string{"kind"}),
		HarvestLoss: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "loss_tokens",
			Help:      "Reported harvest loss in whole want tokens",
			Buckets:   profitBuckets,
		}, []string{"kind"}),
		PreSyncFailures: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "presync_failures_total",
			Help:      "Total number of swallowed reward pre-sync failures",
		}),
		InvariantViolations: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "invariant_violations_total",
			Help:      "Total number of fatal harvest invariant violations",
		}, []string{"invariant"}),

		// RPC metrics
		RPCCallsTotal: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Total number of JSON-RPC calls by method and result",
		}, []string{"method", "result"}),
		RPCCallLatency: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		WSLogsReceived: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "ws_logs_received_total",
			Help:      "Total number of log notifications received over websocket",
		}),

		// Scenario metrics
		ScenarioRunsTotal: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scenario",
			Name:      "runs_total",
			Help:      "Total number of scenario phase runs",
		}, []string{"phase", "status"}),
		ScenarioDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scenario",
			Name:      "duration_seconds",
			Help:      "Scenario phase duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"phase"}),
		ReportsGenerated: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scenario",
			Name:      "reports_generated_total",
			Help:      "Total number of reports generated",
		}),

		// Database metrics
		DBQueryDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulRun: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last successful scenario run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the metrics gathered by g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// Or returns m, or DefaultMetrics when m is nil.
func Or(m *Metrics) *Metrics {
	if m == nil {
		return DefaultMetrics
	}
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordDeployment counts a deployment attempt.
func (m *Metrics) RecordDeployment(path string, err error) {
	m.DeploymentsTotal.WithLabelValues(path, result(err)).Inc()
}

// RecordHarvest counts a harvest and observes its profit and loss.
func (m *Metrics) RecordHarvest(kind string, profit, loss float64, err error) {
	m.HarvestsTotal.WithLabelValues(kind, result(err)).Inc()
	if err != nil {
		return
	}
	m.HarvestProfit.WithLabelValues(kind).Observe(profit)
	m.HarvestLoss.WithLabelValues(kind).Observe(loss)
}

// RecordPreSyncFailure counts a swallowed pre-sync error.
func (m *Metrics) RecordPreSyncFailure() {
	m.PreSyncFailures.Inc()
}

// RecordInvariantViolation counts a fatal invariant violation.
func (m *Metrics) RecordInvariantViolation(invariant string) {
	m.InvariantViolations.WithLabelValues(invariant).Inc()
}

// RecordRPC records one JSON-RPC call.
func (m *Metrics) RecordRPC(method string, seconds float64, err error) {
	m.RPCCallsTotal.WithLabelValues(method, result(err)).Inc()
	m.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordWSLog counts a received log notification.
func (m *Metrics) RecordWSLog() {
	m.WSLogsReceived.Inc()
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, seconds float64, err error) {
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordScenarioPhase records a scenario phase run.
func (m *Metrics) RecordScenarioPhase(phase, status string, durationSeconds float64) {
	m.ScenarioRunsTotal.WithLabelValues(phase, status).Inc()
	m.ScenarioDuration.WithLabelValues(phase).Observe(durationSeconds)
}
