// Package ledger adapts the JSON-RPC client to the four chain operations the
// prober needs: balance, gas price, transfer submission and receipt waiting.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gateway-fm/txprober/internal/rpc"
)

// TransferGasLimit is the intrinsic gas of a plain value transfer.
const TransferGasLimit uint64 = 21000

// DefaultReceiptPollInterval is how often AwaitReceipt asks for the receipt.
const DefaultReceiptPollInterval = time.Second

// Receipt statuses.
const (
	ReceiptStatusFailed  uint64 = 0
	ReceiptStatusSuccess uint64 = 1
)

// GasParams carries the legacy gas settings of a transfer.
type GasParams struct {
	Price *big.Int
	Limit uint64
}

// Receipt is the confirmation record of a transfer.
type Receipt struct {
	Hash              common.Hash
	Status            uint64
	GasUsed           uint64
	BlockNumber       uint64
	EffectiveGasPrice *big.Int
}

// Succeeded reports whether the transfer executed successfully.
func (r *Receipt) Succeeded() bool {
	return r.Status == ReceiptStatusSuccess
}

// Ledger is the chain surface used by the prober.
type Ledger interface {
	Balance(ctx context.Context, address common.Address) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	SubmitTransfer(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, amount *big.Int, gas GasParams) (common.Hash, error)
	AwaitReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
}

// ErrNilGasPrice is returned when a transfer is submitted without a gas price.
var ErrNilGasPrice = errors.New("gas price is required")

// Config for creating an RPCLedger.
type Config struct {
	Client       rpc.Client
	ChainID      *big.Int // nil or zero: resolved from the node on first use
	PollInterval time.Duration
	Logger       *slog.Logger
}

// RPCLedger implements Ledger on top of an rpc.Client.
type RPCLedger struct {
	client       rpc.Client
	chainID      *big.Int
	pollInterval time.Duration
	logger       *slog.Logger
}

// New creates an RPCLedger.
func New(cfg Config) *RPCLedger {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultReceiptPollInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var chainID *big.Int
	if cfg.ChainID != nil && cfg.ChainID.Sign() > 0 {
		chainID = new(big.Int).Set(cfg.ChainID)
	}

	return &RPCLedger{
		client:       cfg.Client,
		chainID:      chainID,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// ResolveChainID fetches the chain ID from the node if none was configured.
// Call it once before the prober starts; transfers are signed with this ID.
func (l *RPCLedger) ResolveChainID(ctx context.Context) (*big.Int, error) {
	if l.chainID != nil {
		return l.chainID, nil
	}
	chainID, err := l.client.GetChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	if chainID.Sign() <= 0 {
		return nil, fmt.Errorf("node reported invalid chain id %s", chainID)
	}
	l.chainID = chainID
	return chainID, nil
}

// Balance returns the latest balance of address in wei.
func (l *RPCLedger) Balance(ctx context.Context, address common.Address) (*big.Int, error) {
	return l.client.GetBalance(ctx, address)
}

// GasPrice returns the node's current gas price in wei.
func (l *RPCLedger) GasPrice(ctx context.Context) (*big.Int, error) {
	return l.client.GetGasPrice(ctx)
}

// SubmitTransfer signs a legacy value transfer from key to to and sends it.
func (l *RPCLedger) SubmitTransfer(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, amount *big.Int, gas GasParams) (common.Hash, error) {
	if gas.Price == nil {
		return common.Hash{}, ErrNilGasPrice
	}
	limit := gas.Limit
	if limit == 0 {
		limit = TransferGasLimit
	}

	chainID, err := l.ResolveChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	nonce, err := l.client.GetNonce(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch nonce for %s: %w", from.Hex(), err)
	}

	signed, err := SignTransfer(chainID, key, nonce, to, amount, gas.Price, limit)
	if err != nil {
		return common.Hash{}, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode transaction: %w", err)
	}

	hash, err := l.client.SendRawTransaction(ctx, raw)
	if err != nil {
		return common.Hash{}, err
	}
	if hash != signed.Hash() {
		l.logger.Warn("node returned unexpected transaction hash",
			slog.String("expected", signed.Hash().Hex()),
			slog.String("returned", hash.Hex()),
		)
	}

	return signed.Hash(), nil
}

// AwaitReceipt polls for the receipt of hash until it is available or ctx ends.
// Transient RPC errors are logged and polling continues.
func (l *RPCLedger) AwaitReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := l.client.GetTransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			return &Receipt{
				Hash:              hash,
				Status:            receipt.Status,
				GasUsed:           receipt.GasUsed,
				BlockNumber:       receipt.BlockNumber,
				EffectiveGasPrice: receipt.EffectiveGasPrice,
			}, nil
		case err != nil:
			lastErr = err
			l.logger.Debug("receipt poll failed",
				slog.String("tx", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("waiting for receipt of %s: %w (last error: %v)", hash.Hex(), ctx.Err(), lastErr)
			}
			return nil, fmt.Errorf("waiting for receipt of %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// SignTransfer builds and signs a legacy value transfer.
func SignTransfer(chainID *big.Int, key *ecdsa.PrivateKey, nonce uint64, to common.Address, amount, gasPrice *big.Int, gasLimit uint64) (*types.Transaction, error) {
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    amount,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}
