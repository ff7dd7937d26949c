package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultRotationInterval is how long a pair stays active before the rotator
// tries the other one.
const DefaultRotationInterval = time.Hour

// ErrInsufficientFunds is returned by SelectActive when neither pair can pay
// for a probe. The current pair stays active.
var ErrInsufficientFunds = errors.New("insufficient funds on all sender accounts")

// Rotation reasons.
const (
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonTimeRotation        = "time_rotation"
)

// Funds reads the chain state needed for the balance check.
type Funds interface {
	Balance(ctx context.Context, address common.Address) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
}

// Observer is told about rotations and the active pair.
type Observer interface {
	SetActiveAccount(index int)
	RecordRotation(reason string)
}

// RotatorConfig configures a Rotator.
type RotatorConfig struct {
	Primary          *Pair
	Secondary        *Pair
	Funds            Funds
	Amount           *big.Int // probe transfer value in wei
	GasLimit         uint64
	RotationInterval time.Duration
	Observer         Observer
	Logger           *slog.Logger
	Now              func() time.Time
}

// Status describes the active pair.
type Status struct {
	Index          int
	Sender         common.Address
	Receiver       common.Address
	LastActivation time.Time
}

// Rotator chooses which of two pairs sends the next probe.
//
// A pair is kept until it cannot cover amount + gasPrice*gasLimit or until it
// has been active for the rotation interval. The rotator only switches to a
// pair that passes its own balance check.
type Rotator struct {
	funds            Funds
	amount           *big.Int
	gasLimit         uint64
	rotationInterval time.Duration
	observer         Observer
	logger           *slog.Logger
	now              func() time.Time

	mu             sync.RWMutex
	pairs          [2]*Pair
	lastActivation [2]time.Time
	active         int
}

// NewRotator creates a Rotator with the primary pair active.
func NewRotator(cfg RotatorConfig) (*Rotator, error) {
	if cfg.Primary == nil || cfg.Secondary == nil {
		return nil, fmt.Errorf("both account pairs are required")
	}
	if cfg.Funds == nil {
		return nil, fmt.Errorf("funds reader is required")
	}
	if cfg.Amount == nil || cfg.Amount.Sign() < 0 {
		return nil, fmt.Errorf("probe amount must be non-negative")
	}

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 21000
	}
	interval := cfg.RotationInterval
	if interval <= 0 {
		interval = DefaultRotationInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	r := &Rotator{
		funds:            cfg.Funds,
		amount:           new(big.Int).Set(cfg.Amount),
		gasLimit:         gasLimit,
		rotationInterval: interval,
		observer:         cfg.Observer,
		logger:           logger.With(slog.String("component", "rotator")),
		now:              now,
		pairs:            [2]*Pair{cfg.Primary, cfg.Secondary},
	}
	r.lastActivation[0] = now()
	if r.observer != nil {
		r.observer.SetActiveAccount(0)
	}
	return r, nil
}

// SelectActive returns the pair that should send the next probe.
//
// When the active pair is underfunded and the other pair is too, the active
// pair is returned together with ErrInsufficientFunds; the caller should log
// it and carry on. If ctx ends during the balance checks the active pair is
// returned with ctx.Err() and nothing is rotated or reported.
func (r *Rotator) SelectActive(ctx context.Context) (*Pair, error) {
	now := r.now()

	r.mu.RLock()
	current := r.active
	expired := now.Sub(r.lastActivation[current]) >= r.rotationInterval
	r.mu.RUnlock()

	hasBalance := r.hasSufficientBalance(ctx, current)
	if hasBalance && !expired {
		return r.pairs[current], nil
	}
	if err := ctx.Err(); err != nil {
		return r.pairs[current], err
	}

	other := (current + 1) % 2
	otherHasBalance := r.hasSufficientBalance(ctx, other)
	if err := ctx.Err(); err != nil {
		return r.pairs[current], err
	}
	if otherHasBalance {
		reason := ReasonTimeRotation
		if !hasBalance {
			reason = ReasonInsufficientBalance
		}

		r.mu.Lock()
		r.active = other
		r.lastActivation[other] = now
		r.mu.Unlock()

		r.logger.Info("switched sender account",
			slog.Int("account", other),
			slog.String("sender", r.pairs[other].Sender.Address.Hex()),
			slog.String("reason", reason),
		)
		if r.observer != nil {
			r.observer.RecordRotation(reason)
			r.observer.SetActiveAccount(other)
		}
		return r.pairs[other], nil
	}

	if !hasBalance {
		r.logger.Error("both sender accounts have insufficient balance",
			slog.Int("account", current),
			slog.String("sender", r.pairs[current].Sender.Address.Hex()),
		)
		return r.pairs[current], fmt.Errorf("%w: staying on account %d", ErrInsufficientFunds, current)
	}

	// Rotation is due but the other pair cannot pay; keep the pair that can.
	r.logger.Warn("rotation skipped, other account has insufficient balance",
		slog.Int("account", current),
		slog.Int("candidate", other),
	)
	return r.pairs[current], nil
}

// Status returns the active pair and when it was activated.
func (r *Rotator) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := r.pairs[r.active]
	return Status{
		Index:          r.active,
		Sender:         p.Sender.Address,
		Receiver:       p.Receiver,
		LastActivation: r.lastActivation[r.active],
	}
}

// RequiredFunds returns amount + gasPrice*gasLimit.
func (r *Rotator) RequiredFunds(gasPrice *big.Int) *big.Int {
	cost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(r.gasLimit))
	return cost.Add(cost, r.amount)
}

// hasSufficientBalance reports whether pair idx can pay for a probe.
// Any RPC failure counts as insufficient.
func (r *Rotator) hasSufficientBalance(ctx context.Context, idx int) bool {
	addr := r.pairs[idx].Sender.Address

	balance, err := r.funds.Balance(ctx, addr)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		r.logger.Error("failed to check wallet balance",
			slog.Int("account", idx),
			slog.String("sender", addr.Hex()),
			slog.String("error", err.Error()),
		)
		return false
	}
	gasPrice, err := r.funds.GasPrice(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		r.logger.Error("failed to read gas price for balance check",
			slog.Int("account", idx),
			slog.String("error", err.Error()),
		)
		return false
	}

	return balance.Cmp(r.RequiredFunds(gasPrice)) >= 0
}
