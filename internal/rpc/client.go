// Package rpc provides a minimal Ethereum JSON-RPC client.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Client is the interface for JSON-RPC communication.
type Client interface {
	// Call makes a JSON-RPC call.
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)

	// SendRawTransaction sends a signed transaction and returns its hash.
	SendRawTransaction(ctx context.Context, txRLP []byte) (common.Hash, error)

	// GetNonce fetches the pending nonce for an address.
	GetNonce(ctx context.Context, address common.Address) (uint64, error)

	// GetChainID returns the chain ID reported by the node.
	GetChainID(ctx context.Context) (*big.Int, error)

	// GetBlockNumber returns the latest block number.
	GetBlockNumber(ctx context.Context) (uint64, error)

	// GetGasPrice returns the current gas price in wei.
	GetGasPrice(ctx context.Context) (*big.Int, error)

	// GetBalance returns the balance for an address in wei.
	GetBalance(ctx context.Context, address common.Address) (*big.Int, error)

	// GetTransactionReceipt returns the receipt for a transaction, or nil if
	// the transaction has not been included yet.
	GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*TransactionReceipt, error)
}

// TransactionReceipt represents an Ethereum transaction receipt.
type TransactionReceipt struct {
	TxHash            common.Hash
	Status            uint64 // 1 = success, 0 = failure
	GasUsed           uint64
	BlockNumber       uint64
	EffectiveGasPrice *big.Int // nil when the node does not report it
}

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// JSONRPCError represents a JSON-RPC error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Observer is notified after every JSON-RPC call.
type Observer func(method string, err error, elapsed time.Duration)

// ClientConfig holds configuration for the RPC client.
type ClientConfig struct {
	URL      string
	Timeout  time.Duration
	Logger   *slog.Logger
	Observer Observer
}

// DefaultClientConfig returns default configuration.
// Calls are not retried: a failed call fails the probe cycle and the next
// tick tries again.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:     url,
		Timeout: 10 * time.Second,
	}
}

// HTTPClient implements Client using HTTP.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
	observer   Observer
}

// NewHTTPClient creates a new HTTP-based RPC client.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		url: cfg.URL,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: cfg.Timeout,
		},
		logger:     logger,
		observer:   cfg.Observer,
	}
}

// Call makes a single JSON-RPC call.
func (c *HTTPClient) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	start := time.Now()
	result, err := c.call(ctx, method, params)
	if c.observer != nil {
		c.observer(method, err, time.Since(start))
	}
	return result, err
}

func (c *HTTPClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	result, err := c.doRequest(ctx, body)
	if err != nil {
		c.logger.Debug("RPC call failed",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return result, nil
}

func (c *HTTPClient) doRequest(ctx context.Context, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Body:       string(errBody),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	return rpcResp.Result, nil
}

// RPCError is an RPC-specific error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// HTTPStatusError represents an HTTP-level error (non-2xx status).
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s (body: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// SendRawTransaction sends a signed transaction.
func (c *HTTPClient) SendRawTransaction(ctx context.Context, txRLP []byte) (common.Hash, error) {
	result, err := c.Call(ctx, "eth_sendRawTransaction", []any{hexutil.Encode(txRLP)})
	if err != nil {
		return common.Hash{}, err
	}

	var hash common.Hash
	if err := json.Unmarshal(result, &hash); err != nil {
		return common.Hash{}, fmt.Errorf("failed to unmarshal tx hash: %w", err)
	}
	return hash, nil
}

// GetNonce fetches the nonce for an address including mempool transactions.
func (c *HTTPClient) GetNonce(ctx context.Context, address common.Address) (uint64, error) {
	result, err := c.Call(ctx, "eth_getTransactionCount", []any{address.Hex(), "pending"})
	if err != nil {
		return 0, err
	}
	return decodeUint64(result, "nonce")
}

// GetChainID returns the chain ID reported by the node.
func (c *HTTPClient) GetChainID(ctx context.Context) (*big.Int, error) {
	result, err := c.Call(ctx, "eth_chainId", nil)
	if err != nil {
		return nil, err
	}
	return decodeBig(result, "chain id")
}

// GetBlockNumber returns the latest block number.
func (c *HTTPClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, err
	}
	return decodeUint64(result, "block number")
}

// GetGasPrice returns the current gas price from the node.
func (c *HTTPClient) GetGasPrice(ctx context.Context) (*big.Int, error) {
	result, err := c.Call(ctx, "eth_gasPrice", nil)
	if err != nil {
		return nil, err
	}
	return decodeBig(result, "gas price")
}

// GetBalance returns the balance for an address at the latest block.
func (c *HTTPClient) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	result, err := c.Call(ctx, "eth_getBalance", []any{address.Hex(), "latest"})
	if err != nil {
		return nil, err
	}
	return decodeBig(result, "balance")
}

// GetTransactionReceipt returns the receipt for a transaction.
func (c *HTTPClient) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*TransactionReceipt, error) {
	result, err := c.Call(ctx, "eth_getTransactionReceipt", []any{txHash.Hex()})
	if err != nil {
		return nil, err
	}

	if len(result) == 0 || string(result) == "null" {
		return nil, nil // Not found yet
	}

	return parseReceipt(result)
}

// parseReceipt parses a TransactionReceipt from JSON.
func parseReceipt(data json.RawMessage) (*TransactionReceipt, error) {
	var raw struct {
		TransactionHash   common.Hash    `json:"transactionHash"`
		Status            hexutil.Uint64 `json:"status"`
		GasUsed           hexutil.Uint64 `json:"gasUsed"`
		BlockNumber       hexutil.Uint64 `json:"blockNumber"`
		EffectiveGasPrice *hexutil.Big   `json:"effectiveGasPrice"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}

	receipt := &TransactionReceipt{
		TxHash:      raw.TransactionHash,
		Status:      uint64(raw.Status),
		GasUsed:     uint64(raw.GasUsed),
		BlockNumber: uint64(raw.BlockNumber),
	}
	if raw.EffectiveGasPrice != nil {
		receipt.EffectiveGasPrice = raw.EffectiveGasPrice.ToInt()
	}
	return receipt, nil
}

func decodeUint64(result json.RawMessage, field string) (uint64, error) {
	var v hexutil.Uint64
	if err := json.Unmarshal(result, &v); err != nil {
		return 0, fmt.Errorf("failed to unmarshal %s: %w", field, err)
	}
	return uint64(v), nil
}

func decodeBig(result json.RawMessage, field string) (*big.Int, error) {
	var v hexutil.Big
	if err := json.Unmarshal(result, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", field, err)
	}
	return v.ToInt(), nil
}
