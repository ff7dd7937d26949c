package metrics

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

// gathered returns the value of the first sample of metric name whose labels
// match. Counters, gauges and histogram sample counts are supported.
func gathered(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s %v not found", name, labels)
	return 0
}

func TestPrometheusMetrics_RecordOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.RecordOutcome(Outcome{Success: true, HasLatency: true, Latency: 12})
	m.RecordOutcome(Outcome{Success: false})
	m.RecordOutcome(Outcome{Success: false, HasLatency: true, Latency: 700})

	if got := gathered(t, reg, "prober_transactions_total", map[string]string{"status": "success"}); got != 1 {
		t.Errorf("success = %v, want 1", got)
	}
	if got := gathered(t, reg, "prober_transactions_total", map[string]string{"status": "failure"}); got != 2 {
		t.Errorf("failure = %v, want 2", got)
	}
	if got := gathered(t, reg, "prober_confirmation_time_seconds", nil); got != 2 {
		t.Errorf("histogram samples = %v, want 2", got)
	}
}

func TestPrometheusMetrics_Gauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	tracker := NewTracker(m.PendingTxs)
	if err := tracker.Register(common.HexToHash("0x01"), time.Now(), big.NewInt(1)); err != nil {
		t.Fatal(err)
	}
	if got := gathered(t, reg, "prober_pending_transactions", nil); got != 1 {
		t.Errorf("pending = %v, want 1", got)
	}

	m.SetActiveAccount(1)
	if got := gathered(t, reg, "prober_active_account", nil); got != 1 {
		t.Errorf("active account = %v, want 1", got)
	}

	m.RecordRotation("time_rotation")
	m.RecordSkippedTick()
	m.RecordError("submission")
	m.RecordGasPrice(big.NewInt(3_000_000_000))
	if got := gathered(t, reg, "prober_account_rotations_total", map[string]string{"reason": "time_rotation"}); got != 1 {
		t.Errorf("rotations = %v, want 1", got)
	}
	if got := gathered(t, reg, "prober_skipped_ticks_total", nil); got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}
	if got := gathered(t, reg, "prober_errors_total", map[string]string{"category": "submission"}); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
	if got := gathered(t, reg, "prober_gas_price_gwei", nil); got != 1 {
		t.Errorf("gas price samples = %v, want 1", got)
	}
}

func TestPrometheusMetrics_RPCMethodCardinality(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.RecordRPCLatency("eth_gasPrice", true, 0.01)
	m.RecordRPCLatency("debug_traceTransaction", false, 0.5)

	if got := gathered(t, reg, "prober_rpc_latency_seconds", map[string]string{"method": "eth_gasPrice", "status": "success"}); got != 1 {
		t.Errorf("eth_gasPrice samples = %v, want 1", got)
	}
	if got := gathered(t, reg, "prober_rpc_latency_seconds", map[string]string{"method": "other", "status": "error"}); got != 1 {
		t.Errorf("other samples = %v, want 1", got)
	}
}
