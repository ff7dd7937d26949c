package metrics

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrProbeNotFound matches any NotFoundError.
var ErrProbeNotFound = errors.New("probe not found")

// ErrDuplicateProbe is returned when a hash is registered twice.
var ErrDuplicateProbe = errors.New("probe already registered")

// NotFoundError is returned by Complete for a hash that was never registered
// or has already completed.
type NotFoundError struct {
	Hash common.Hash
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("probe %s not found", e.Hash.Hex())
}

// Is makes errors.Is(err, ErrProbeNotFound) work.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrProbeNotFound
}

// PendingProbe is a submitted probe that has not completed yet.
type PendingProbe struct {
	Hash        common.Hash
	SubmittedAt time.Time
	GasPrice    *big.Int // wei
}

// Gauge receives the pending count after every change.
type Gauge interface {
	Set(float64)
}

// Tracker holds in-flight probes keyed by transaction hash.
type Tracker struct {
	mu      sync.RWMutex
	pending map[common.Hash]PendingProbe
	gauge   Gauge
}

// NewTracker creates a Tracker. gauge may be nil.
func NewTracker(gauge Gauge) *Tracker {
	return &Tracker{
		pending: make(map[common.Hash]PendingProbe),
		gauge:   gauge,
	}
}

// Register starts tracking a submitted probe.
func (t *Tracker) Register(hash common.Hash, submittedAt time.Time, gasPrice *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[hash]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProbe, hash.Hex())
	}

	var price *big.Int
	if gasPrice != nil {
		price = new(big.Int).Set(gasPrice)
	}
	t.pending[hash] = PendingProbe{
		Hash:        hash,
		SubmittedAt: submittedAt,
		GasPrice:    price,
	}
	t.updateGauge()
	return nil
}

// Complete removes and returns the probe for hash.
func (t *Tracker) Complete(hash common.Hash) (PendingProbe, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[hash]
	if !ok {
		t.updateGauge()
		return PendingProbe{}, &NotFoundError{Hash: hash}
	}
	delete(t.pending, hash)
	t.updateGauge()
	return p, nil
}

// PendingCount returns the number of in-flight probes.
func (t *Tracker) PendingCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pending)
}

// Called with lock held.
func (t *Tracker) updateGauge() {
	if t.gauge != nil {
		t.gauge.Set(float64(len(t.pending)))
	}
}
