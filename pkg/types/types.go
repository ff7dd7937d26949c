// Package types contains public API types for the prober.
// These types form the external interface and must remain backwards-compatible.
package types

import "time"

// ProberState is the scheduler state.
type ProberState string

const (
	StateIdle     ProberState = "idle"
	StateInFlight ProberState = "in_flight"
	StateStopped  ProberState = "stopped"
)

// ConfirmationPoint is one windowed latency sample.
type ConfirmationPoint struct {
	Timestamp int64   `json:"timestamp"` // completion time, Unix seconds
	Value     float64 `json:"value"`     // seconds
}

// TransactionCounts holds windowed outcome counts.
type TransactionCounts struct {
	Success     int     `json:"success"`
	Failure     int     `json:"failure"`
	Total       int     `json:"total"`
	SuccessRate float64 `json:"successRate"` // percent, 2 decimals
}

// GasMetrics holds gas figures in gwei.
type GasMetrics struct {
	AveragePrice float64 `json:"averagePrice"`
	TotalUsed    float64 `json:"totalUsed"` // cumulative gasUsed * gasPrice since start
}

// SpeedMetrics holds confirmation latency figures in seconds.
type SpeedMetrics struct {
	Average float64 `json:"average"`
	Fastest float64 `json:"fastest"`
	Slowest float64 `json:"slowest"`
	Pending int     `json:"pending"`
}

// LastError is the most recent probe failure.
type LastError struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary is a consistent snapshot of all probe metrics.
type Summary struct {
	ConfirmationTimes []ConfirmationPoint `json:"confirmationTimes"`
	Counts            TransactionCounts   `json:"transactionCounts"`
	Gas               GasMetrics          `json:"gas"`
	Speed             SpeedMetrics        `json:"speed"`
	LastError         *LastError          `json:"lastError"`
	GeneratedAt       time.Time           `json:"generatedAt"`
}

// AccountStatus describes the active sender pair.
type AccountStatus struct {
	Index       int       `json:"index"`
	Sender      string    `json:"sender"`
	Receiver    string    `json:"receiver"`
	ActiveSince time.Time `json:"activeSince"`
}

// Status is the full prober status served by /api/status.
type Status struct {
	State          ProberState   `json:"state"`
	ChainID        int64         `json:"chainId,omitempty"`
	IntervalMs     int64         `json:"intervalMs"`
	ProbesStarted  uint64        `json:"probesStarted"`
	SkippedTicks   uint64        `json:"skippedTicks"`
	ActiveAccount  AccountStatus `json:"activeAccount"`
	JournalEnabled bool          `json:"journalEnabled"`
	Summary        Summary       `json:"summary"`
}

// ProbeRecord is one journaled probe.
type ProbeRecord struct {
	ID             int64     `json:"id"`
	TxHash         string    `json:"txHash,omitempty"` // empty if submission failed
	Account        int       `json:"account"`
	Sender         string    `json:"sender"`
	Receiver       string    `json:"receiver"`
	SubmittedAt    time.Time `json:"submittedAt"`
	CompletedAt    time.Time `json:"completedAt"`
	LatencySeconds *float64  `json:"latencySeconds,omitempty"`
	Success        bool      `json:"success"`
	GasPriceGwei   float64   `json:"gasPriceGwei,omitempty"`
	GasUsed        uint64    `json:"gasUsed,omitempty"`
	BlockNumber    uint64    `json:"blockNumber,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// PaginatedProbes is a page of journaled probes, newest first.
type PaginatedProbes struct {
	Probes []ProbeRecord `json:"probes"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// ReadinessCheck is the result of one readiness probe.
type ReadinessCheck struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}
