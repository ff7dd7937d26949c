package metrics

import (
	"iter"
	"maps"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/gateway-fm/txprober/pkg/types"
)

// DefaultRetention is the length of the metrics window.
const DefaultRetention = time.Hour

// Outcome is the result of one probe.
type Outcome struct {
	CompletedAt int64   // Unix seconds
	Latency     float64 // seconds, valid if HasLatency
	HasLatency  bool
	Success     bool
	GasPrice    *big.Int // wei, nil if no receipt
	GasUsed     uint64
}

// PendingCounter reports in-flight probes.
type PendingCounter interface {
	PendingCount() int
}

// Store keeps probe outcomes in per-second slots for a sliding window.
//
// Outcomes completing in the same second share a slot and the later one
// wins. The cumulative gas cost, the gas price samples and the
// fastest/slowest extrema cover the whole process lifetime and are never
// pruned.
type Store struct {
	retention int64
	pending   PendingCounter
	now       func() time.Time

	mu        sync.RWMutex
	success   map[int64]struct{}
	failure   map[int64]struct{}
	latency   map[int64]float64
	gasPrices map[int64]*big.Int
	totalCost *big.Int // sum of gasUsed * gasPrice, wei
	fastest   float64
	slowest   float64
	completed bool // at least one latency sample recorded
	lastError *types.LastError
}

// NewStore creates a Store. retention <= 0 selects DefaultRetention.
func NewStore(retention time.Duration, pending PendingCounter) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		retention: int64(retention / time.Second),
		pending:   pending,
		now:       time.Now,
		success:   make(map[int64]struct{}),
		failure:   make(map[int64]struct{}),
		latency:   make(map[int64]float64),
		gasPrices: make(map[int64]*big.Int),
		totalCost: new(big.Int),
	}
}

// Record adds an outcome.
func (s *Store) Record(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(o)
}

// RecordWithError adds a failed outcome and replaces the last error
// descriptor in one step, so readers never see one without the other.
func (s *Store) RecordWithError(o Outcome, message string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(o)
	s.lastError = &types.LastError{Message: message, Timestamp: at.UTC()}
}

func (s *Store) record(o Outcome) {
	ts := o.CompletedAt
	if o.Success {
		s.success[ts] = struct{}{}
	} else {
		s.failure[ts] = struct{}{}
	}

	if o.HasLatency {
		s.latency[ts] = o.Latency
		if !s.completed || o.Latency < s.fastest {
			s.fastest = o.Latency
		}
		if !s.completed || o.Latency > s.slowest {
			s.slowest = o.Latency
		}
		s.completed = true
	}

	if o.GasPrice != nil {
		s.gasPrices[ts] = new(big.Int).Set(o.GasPrice)
		cost := new(big.Int).SetUint64(o.GasUsed)
		s.totalCost.Add(s.totalCost, cost.Mul(cost, o.GasPrice))
	}
}

// Prune drops windowed entries completed before now - retention.
func (s *Store) Prune(now int64) {
	cutoff := now - s.retention

	s.mu.Lock()
	defer s.mu.Unlock()

	maps.DeleteFunc(s.success, func(ts int64, _ struct{}) bool { return ts < cutoff })
	maps.DeleteFunc(s.failure, func(ts int64, _ struct{}) bool { return ts < cutoff })
	maps.DeleteFunc(s.latency, func(ts int64, _ float64) bool { return ts < cutoff })
}

// LastError returns the most recent error, or nil.
func (s *Store) LastError() *types.LastError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastError == nil {
		return nil
	}
	e := *s.lastError
	return &e
}

// ConfirmationSeries yields the windowed latencies in timestamp order.
// Each range takes a fresh snapshot.
func (s *Store) ConfirmationSeries() iter.Seq[types.ConfirmationPoint] {
	return func(yield func(types.ConfirmationPoint) bool) {
		s.mu.RLock()
		points := s.confirmationPoints()
		s.mu.RUnlock()

		for _, p := range points {
			if !yield(p) {
				return
			}
		}
	}
}

// Counts returns windowed success and failure counts.
func (s *Store) Counts() types.TransactionCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts()
}

// GasMetrics returns the average gas price and cumulative gas cost in gwei.
func (s *Store) GasMetrics() types.GasMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gasMetrics()
}

// SpeedMetrics returns windowed average latency, lifetime extrema and the
// pending count.
func (s *Store) SpeedMetrics() types.SpeedMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speedMetrics()
}

// Summary returns every aggregate from a single snapshot.
func (s *Store) Summary() types.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var lastErr *types.LastError
	if s.lastError != nil {
		e := *s.lastError
		lastErr = &e
	}

	return types.Summary{
		ConfirmationTimes: s.confirmationPoints(),
		Counts:            s.counts(),
		Gas:               s.gasMetrics(),
		Speed:             s.speedMetrics(),
		LastError:         lastErr,
		GeneratedAt:       s.now().UTC(),
	}
}

// The helpers below are called with at least a read lock held.

func (s *Store) confirmationPoints() []types.ConfirmationPoint {
	points := make([]types.ConfirmationPoint, 0, len(s.latency))
	for _, ts := range slices.Sorted(maps.Keys(s.latency)) {
		points = append(points, types.ConfirmationPoint{Timestamp: ts, Value: s.latency[ts]})
	}
	return points
}

func (s *Store) counts() types.TransactionCounts {
	c := types.TransactionCounts{
		Success: len(s.success),
		Failure: len(s.failure),
	}
	c.Total = c.Success + c.Failure
	if c.Total > 0 {
		c.SuccessRate = roundTo(float64(c.Success)/float64(c.Total)*100, 2)
	}
	return c
}

func (s *Store) gasMetrics() types.GasMetrics {
	var g types.GasMetrics
	if n := len(s.gasPrices); n > 0 {
		sum := new(big.Int)
		for _, p := range s.gasPrices {
			sum.Add(sum, p)
		}
		g.AveragePrice = WeiToGwei(sum) / float64(n)
	}
	g.TotalUsed = WeiToGwei(s.totalCost)
	return g
}

func (s *Store) speedMetrics() types.SpeedMetrics {
	var m types.SpeedMetrics
	if n := len(s.latency); n > 0 {
		var sum float64
		for _, v := range s.latency {
			sum += v
		}
		m.Average = sum / float64(n)
	}
	if s.completed {
		m.Fastest = s.fastest
		m.Slowest = s.slowest
	}
	if s.pending != nil {
		m.Pending = s.pending.PendingCount()
	}
	return m
}

// TotalGasCost returns the cumulative gas cost in wei.
func (s *Store) TotalGasCost() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(big.Int).Set(s.totalCost)
}
