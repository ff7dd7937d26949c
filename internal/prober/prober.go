// Package prober runs the timed probe loop: one transfer per tick, tracked
// until its receipt arrives and recorded into the metrics store.
package prober

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/txprober/internal/account"
	"github.com/gateway-fm/txprober/internal/ledger"
	"github.com/gateway-fm/txprober/internal/metrics"
	"github.com/gateway-fm/txprober/pkg/types"
)

const (
	DefaultInterval       = time.Minute
	DefaultReceiptTimeout = 5 * time.Minute
)

// Rotator selects the sender pair for a probe.
type Rotator interface {
	SelectActive(ctx context.Context) (*account.Pair, error)
	Status() account.Status
}

// Journal stores a record of every finished probe.
type Journal interface {
	RecordProbe(ctx context.Context, rec *types.ProbeRecord) error
}

// Config for creating a Prober.
type Config struct {
	Ledger         ledger.Ledger
	Rotator        Rotator
	Tracker        *metrics.Tracker
	Store          *metrics.Store
	Metrics        *metrics.PrometheusMetrics // optional
	Journal        Journal                    // optional
	Amount         *big.Int                   // wei
	GasLimit       uint64                     // default: ledger.TransferGasLimit
	Interval       time.Duration              // default: 1m
	ReceiptTimeout time.Duration              // default: 5m
	ChainID        *big.Int                   // reported in Status only
	Logger         *slog.Logger
	Now            func() time.Time
}

// Prober sends one probe per interval and never overlaps cycles.
type Prober struct {
	ledger         ledger.Ledger
	rotator        Rotator
	tracker        *metrics.Tracker
	store          *metrics.Store
	metrics        *metrics.PrometheusMetrics
	journal        Journal
	amount         *big.Int
	gasLimit       uint64
	interval       time.Duration
	receiptTimeout time.Duration
	chainID        *big.Int
	logger         *slog.Logger
	now            func() time.Time

	// slot holds a token while a cycle is in flight.
	slot    chan struct{}
	wg      sync.WaitGroup
	stopped atomic.Bool

	probesStarted atomic.Uint64
	skippedTicks  atomic.Uint64
}

// New creates a Prober.
func New(cfg Config) (*Prober, error) {
	if cfg.Ledger == nil || cfg.Rotator == nil || cfg.Tracker == nil || cfg.Store == nil {
		return nil, errors.New("ledger, rotator, tracker and store are required")
	}
	if cfg.Amount == nil || cfg.Amount.Sign() < 0 {
		return nil, errors.New("probe amount must be non-negative")
	}

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = ledger.TransferGasLimit
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	receiptTimeout := cfg.ReceiptTimeout
	if receiptTimeout <= 0 {
		receiptTimeout = DefaultReceiptTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Prober{
		ledger:         cfg.Ledger,
		rotator:        cfg.Rotator,
		tracker:        cfg.Tracker,
		store:          cfg.Store,
		metrics:        cfg.Metrics,
		journal:        cfg.Journal,
		amount:         new(big.Int).Set(cfg.Amount),
		gasLimit:       gasLimit,
		interval:       interval,
		receiptTimeout: receiptTimeout,
		chainID:        cfg.ChainID,
		logger:         logger.With(slog.String("component", "prober")),
		now:            now,
		slot:           make(chan struct{}, 1),
	}, nil
}

// Run probes immediately and then on every interval until ctx is done.
// It waits for an in-flight cycle to return before it returns.
func (p *Prober) Run(ctx context.Context) {
	p.logger.Info("prober started",
		slog.Duration("interval", p.interval),
		slog.Duration("receipt_timeout", p.receiptTimeout),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			p.stopped.Store(true)
			p.logger.Info("prober stopped",
				slog.Uint64("probes_started", p.probesStarted.Load()),
				slog.Uint64("skipped_ticks", p.skippedTicks.Load()),
			)
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick starts a cycle unless one is already in flight.
func (p *Prober) tick(ctx context.Context) {
	select {
	case p.slot <- struct{}{}:
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer func() { <-p.slot }()
			_ = p.RunCycle(ctx)
		}()
	default:
		p.skippedTicks.Add(1)
		if p.metrics != nil {
			p.metrics.RecordSkippedTick()
		}
		p.logger.Warn("previous probe still in flight, skipping tick")
	}
}

// probe carries the per-cycle values shared by the success and error paths.
type probe struct {
	index       int
	pair        *account.Pair
	hash        common.Hash
	submittedAt time.Time
	gasPrice    *big.Int
	registered  bool
}

// RunCycle sends one probe and records its outcome. Chain and node errors
// are recorded as failure outcomes and returned; they never stop the loop.
// If ctx ends while waiting for the receipt the cycle is abandoned and
// nothing is recorded.
func (p *Prober) RunCycle(ctx context.Context) error {
	p.probesStarted.Add(1)

	pair, err := p.rotator.SelectActive(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		// Shutting down; nothing was submitted.
		return ctxErr
	}
	if err != nil {
		// Both pairs are low. Submission will most likely fail and be
		// recorded below.
		p.recordError(CategoryBalance)
		p.logger.Warn("sending probe from underfunded account", slog.String("error", err.Error()))
	}
	pr := &probe{pair: pair, index: p.rotator.Status().Index}
	if pair == nil {
		return p.fail(ctx, pr, CategoryBalance, &SubmissionError{Op: "select_account", Err: err})
	}

	gasPrice, err := p.ledger.GasPrice(ctx)
	if err != nil {
		return p.fail(ctx, pr, CategoryGasPrice, &SubmissionError{Op: "gas_price", Err: err})
	}
	pr.gasPrice = gasPrice

	pr.submittedAt = p.now()
	hash, err := p.ledger.SubmitTransfer(ctx, pair.Sender.PrivateKey, pair.Receiver, p.amount,
		ledger.GasParams{Price: gasPrice, Limit: p.gasLimit})
	if err != nil {
		return p.fail(ctx, pr, CategorySubmission, &SubmissionError{Op: "submit", Err: err})
	}
	pr.hash = hash

	if err := p.tracker.Register(hash, pr.submittedAt, gasPrice); err != nil {
		perr := &TrackerProtocolError{Hash: hash, Err: err}
		p.logger.Error("failed to register probe", slog.String("error", perr.Error()))
		p.recordError(CategoryTracker)
		return perr
	}
	pr.registered = true
	if p.metrics != nil {
		p.metrics.RecordGasPrice(gasPrice)
	}

	p.logger.Info("probe sent",
		slog.String("tx", hash.Hex()),
		slog.Int("account", pr.index),
		slog.String("to", pair.Receiver.Hex()),
		slog.Float64("gas_price_gwei", metrics.WeiToGwei(gasPrice)),
	)

	waitCtx, cancel := context.WithTimeout(ctx, p.receiptTimeout)
	receipt, err := p.ledger.AwaitReceipt(waitCtx, hash)
	cancel()
	if err != nil {
		return p.fail(ctx, pr, CategoryConfirmation, &ConfirmationError{Hash: hash, Err: err})
	}

	return p.complete(ctx, pr, receipt)
}

// complete records a probe whose receipt arrived.
func (p *Prober) complete(ctx context.Context, pr *probe, receipt *ledger.Receipt) error {
	completedAt := p.now()
	outcome := metrics.Outcome{
		CompletedAt: completedAt.Unix(),
		Latency:     completedAt.Sub(pr.submittedAt).Seconds(),
		HasLatency:  true,
		Success:     receipt.Succeeded(),
		GasPrice:    pr.gasPrice,
		GasUsed:     receipt.GasUsed,
	}

	var cycleErr error
	if outcome.Success {
		p.store.Record(outcome)
	} else {
		cycleErr = &ConfirmationError{Hash: pr.hash, Reverted: true}
		p.store.RecordWithError(outcome, cycleErr.Error(), completedAt)
	}
	p.store.Prune(outcome.CompletedAt)
	if p.metrics != nil {
		p.metrics.RecordOutcome(outcome)
	}

	if !outcome.Success {
		p.recordError(CategoryReverted)
		p.logger.Error("probe reverted",
			slog.String("tx", pr.hash.Hex()),
			slog.Uint64("block", receipt.BlockNumber),
		)
	} else {
		p.logger.Info("probe confirmed",
			slog.String("tx", pr.hash.Hex()),
			slog.Uint64("block", receipt.BlockNumber),
			slog.Float64("latency_s", outcome.Latency),
		)
	}

	if _, err := p.tracker.Complete(pr.hash); err != nil {
		perr := &TrackerProtocolError{Hash: pr.hash, Err: err}
		p.logger.Error("probe missing from tracker", slog.String("error", perr.Error()))
		p.recordError(CategoryTracker)
		cycleErr = errors.Join(cycleErr, perr)
	}

	latency := outcome.Latency
	p.writeJournal(ctx, pr, &types.ProbeRecord{
		CompletedAt:    completedAt.UTC(),
		LatencySeconds: &latency,
		Success:        outcome.Success,
		GasUsed:        receipt.GasUsed,
		BlockNumber:    receipt.BlockNumber,
		Error:          errString(cycleErr),
	})

	return cycleErr
}

// fail records a failure outcome without latency and sets the last error.
// During shutdown the probe is abandoned instead.
func (p *Prober) fail(ctx context.Context, pr *probe, category string, cause error) error {
	if ctx.Err() != nil {
		p.abandon(pr)
		return ctx.Err()
	}
	completedAt := p.now()

	outcome := metrics.Outcome{CompletedAt: completedAt.Unix(), Success: false}
	p.store.RecordWithError(outcome, cause.Error(), completedAt)
	p.store.Prune(outcome.CompletedAt)

	cycleErr := cause
	if pr.registered {
		if _, err := p.tracker.Complete(pr.hash); err != nil {
			perr := &TrackerProtocolError{Hash: pr.hash, Err: err}
			p.logger.Error("probe missing from tracker", slog.String("error", perr.Error()))
			p.recordError(CategoryTracker)
			cycleErr = errors.Join(cause, perr)
		}
	}

	if p.metrics != nil {
		p.metrics.RecordOutcome(outcome)
	}
	p.recordError(category)

	attrs := []any{
		slog.String("category", category),
		slog.Int("account", pr.index),
		slog.String("error", cause.Error()),
	}
	if pr.hash != (common.Hash{}) {
		attrs = append(attrs, slog.String("tx", pr.hash.Hex()))
	}
	p.logger.Error("probe failed", attrs...)

	p.writeJournal(ctx, pr, &types.ProbeRecord{
		CompletedAt: completedAt.UTC(),
		Error:       cycleErr.Error(),
	})

	return cycleErr
}

// abandon drops an in-flight probe on shutdown. The transaction may still be
// mined; it is not recorded.
func (p *Prober) abandon(pr *probe) {
	if pr.registered {
		_, _ = p.tracker.Complete(pr.hash)
	}
	p.logger.Warn("abandoning in-flight probe on shutdown", slog.String("tx", pr.hash.Hex()))
}

func (p *Prober) writeJournal(ctx context.Context, pr *probe, rec *types.ProbeRecord) {
	if p.journal == nil {
		return
	}

	rec.Account = pr.index
	if pr.pair != nil {
		rec.Sender = pr.pair.Sender.Address.Hex()
		rec.Receiver = pr.pair.Receiver.Hex()
	}
	if pr.hash != (common.Hash{}) {
		rec.TxHash = pr.hash.Hex()
	}
	if pr.submittedAt.IsZero() {
		rec.SubmittedAt = rec.CompletedAt
	} else {
		rec.SubmittedAt = pr.submittedAt.UTC()
	}
	rec.GasPriceGwei = metrics.WeiToGwei(pr.gasPrice)

	if err := p.journal.RecordProbe(ctx, rec); err != nil {
		p.recordError(CategoryJournal)
		p.logger.Warn("failed to journal probe", slog.String("error", err.Error()))
	}
}

func (p *Prober) recordError(category string) {
	if p.metrics != nil {
		p.metrics.RecordError(category)
	}
}

// LastError returns the most recent probe error, or nil.
func (p *Prober) LastError() *types.LastError {
	return p.store.LastError()
}

// State reports whether a probe is in flight.
func (p *Prober) State() types.ProberState {
	if p.stopped.Load() {
		return types.StateStopped
	}
	if len(p.slot) > 0 {
		return types.StateInFlight
	}
	return types.StateIdle
}

// Status returns the scheduler state, the active account and a metrics
// summary.
func (p *Prober) Status() *types.Status {
	acct := p.rotator.Status()
	st := &types.Status{
		State:         p.State(),
		IntervalMs:    p.interval.Milliseconds(),
		ProbesStarted: p.probesStarted.Load(),
		SkippedTicks:  p.skippedTicks.Load(),
		ActiveAccount: types.AccountStatus{
			Index:       acct.Index,
			Sender:      acct.Sender.Hex(),
			Receiver:    acct.Receiver.Hex(),
			ActiveSince: acct.LastActivation.UTC(),
		},
		JournalEnabled: p.journal != nil,
		Summary:        p.store.Summary(),
	}
	if p.chainID != nil {
		st.ChainID = p.chainID.Int64()
	}
	return st
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
