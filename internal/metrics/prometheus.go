package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics holds all Prometheus metrics for the prober.
type PrometheusMetrics struct {
	// Probe counters
	TxTotal      *prometheus.CounterVec
	SkippedTicks prometheus.Counter

	// Gauges
	PendingTxs    prometheus.Gauge
	ActiveAccount prometheus.Gauge

	// Histograms
	ConfirmLatency prometheus.Histogram
	RPCLatency     *prometheus.HistogramVec
	GasPriceGwei   prometheus.Histogram

	// Error and rotation tracking
	ErrorsTotal      *prometheus.CounterVec
	AccountRotations *prometheus.CounterVec
}

// NewPrometheusMetrics creates and registers all Prometheus metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		TxTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prober_transactions_total",
				Help: "Probe transactions by outcome",
			},
			[]string{"status"},
		),

		SkippedTicks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "prober_skipped_ticks_total",
				Help: "Scheduler ticks skipped because a probe was still in flight",
			},
		),

		PendingTxs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "prober_pending_transactions",
				Help: "Probe transactions awaiting confirmation",
			},
		),

		ActiveAccount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "prober_active_account",
				Help: "Index of the active sender account pair",
			},
		),

		ConfirmLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "prober_confirmation_time_seconds",
				Help:    "Time from submission to receipt in seconds",
				Buckets: []float64{10, 30, 60, 120, 300, 600},
			},
		),

		RPCLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prober_rpc_latency_seconds",
				Help:    "RPC call latency by method",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "status"},
		),

		GasPriceGwei: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "prober_gas_price_gwei",
				Help:    "Gas price paid by probes in gwei",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 50, 100, 500},
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prober_errors_total",
				Help: "Probe errors by category",
			},
			[]string{"category"},
		),

		AccountRotations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prober_account_rotations_total",
				Help: "Sender account rotations by reason",
			},
			[]string{"reason"},
		),
	}
}

// RecordOutcome records a completed probe.
func (m *PrometheusMetrics) RecordOutcome(o Outcome) {
	status := "success"
	if !o.Success {
		status = "failure"
	}
	m.TxTotal.WithLabelValues(status).Inc()
	if o.HasLatency {
		m.ConfirmLatency.Observe(o.Latency)
	}
}

// RecordGasPrice records the gas price of a submitted probe.
func (m *PrometheusMetrics) RecordGasPrice(wei *big.Int) {
	m.GasPriceGwei.Observe(WeiToGwei(wei))
}

// knownRPCMethods is a fixed set of known RPC methods to prevent cardinality explosion
var knownRPCMethods = map[string]bool{
	"eth_sendRawTransaction":    true,
	"eth_getTransactionCount":   true,
	"eth_blockNumber":           true,
	"eth_chainId":               true,
	"eth_gasPrice":              true,
	"eth_getBalance":            true,
	"eth_getTransactionReceipt": true,
}

// RecordRPCLatency records RPC call latency.
func (m *PrometheusMetrics) RecordRPCLatency(method string, success bool, latencySeconds float64) {
	bucketedMethod := method
	if !knownRPCMethods[method] {
		bucketedMethod = "other"
	}

	status := "success"
	if !success {
		status = "error"
	}
	m.RPCLatency.WithLabelValues(bucketedMethod, status).Observe(latencySeconds)
}

// RecordError records an error.
func (m *PrometheusMetrics) RecordError(category string) {
	m.ErrorsTotal.WithLabelValues(category).Inc()
}

// RecordSkippedTick counts a tick dropped by the in-flight guard.
func (m *PrometheusMetrics) RecordSkippedTick() {
	m.SkippedTicks.Inc()
}

// RecordRotation counts an account rotation.
func (m *PrometheusMetrics) RecordRotation(reason string) {
	m.AccountRotations.WithLabelValues(reason).Inc()
}

// SetActiveAccount updates the active account gauge.
func (m *PrometheusMetrics) SetActiveAccount(index int) {
	m.ActiveAccount.Set(float64(index))
}
