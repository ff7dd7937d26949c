// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds prober configuration.
type Config struct {
	RPCURL  string
	ChainID int64 // 0 = query the node

	Interval            time.Duration
	Amount              *big.Int // wei
	RetentionWindow     time.Duration
	RotationInterval    time.Duration
	ReceiptTimeout      time.Duration
	ReceiptPollInterval time.Duration
	RPCTimeout          time.Duration

	PrimarySenderKey   string
	PrimaryReceiver    string
	SecondarySenderKey string
	SecondaryReceiver  string

	ListenAddr         string
	DatabasePath       string // empty disables the probe journal
	CORSAllowedOrigins string // Comma-separated list of allowed origins, or "*" for all (default: "*")
	LogLevel           slog.Level
	LogFile            string // optional append-only JSON log file
}

// Defaults
const (
	DefaultInterval            = time.Minute
	DefaultAmountEther         = "0.001"
	DefaultRetentionWindow     = time.Hour
	DefaultRotationInterval    = time.Hour
	DefaultReceiptTimeout      = 5 * time.Minute
	DefaultReceiptPollInterval = time.Second
	DefaultRPCTimeout          = 10 * time.Second
	DefaultListenAddr          = ":3001"
	DefaultCORSAllowedOrigins  = "*" // Allow all origins by default for dev
)

// Load reads configuration from environment variables and command-line flags.
// Command-line flags take precedence over environment variables.
func Load(args []string) (*Config, error) {
	cfg := &Config{
		Interval:            DefaultInterval,
		RetentionWindow:     DefaultRetentionWindow,
		RotationInterval:    DefaultRotationInterval,
		ReceiptTimeout:      DefaultReceiptTimeout,
		ReceiptPollInterval: DefaultReceiptPollInterval,
		RPCTimeout:          DefaultRPCTimeout,
		ListenAddr:          DefaultListenAddr,
		CORSAllowedOrigins:  DefaultCORSAllowedOrigins,
		LogLevel:            slog.LevelInfo,
	}
	amount := DefaultAmountEther
	logLevel := "info"
	var errs []error

	// Load from environment variables first
	cfg.RPCURL = firstEnv("RPC_URL", "SHARDEUM_RPC_URL")
	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("CHAIN_ID: %w", err))
		}
		cfg.ChainID = id
	}
	envDuration(&errs, "MONITOR_INTERVAL", &cfg.Interval)
	envDuration(&errs, "RETENTION_WINDOW", &cfg.RetentionWindow)
	envDuration(&errs, "ROTATION_INTERVAL", &cfg.RotationInterval)
	envDuration(&errs, "RECEIPT_TIMEOUT", &cfg.ReceiptTimeout)
	envDuration(&errs, "RECEIPT_POLL_INTERVAL", &cfg.ReceiptPollInterval)
	envDuration(&errs, "RPC_TIMEOUT", &cfg.RPCTimeout)
	if v := os.Getenv("TRANSACTION_AMOUNT"); v != "" {
		amount = v
	}
	cfg.PrimarySenderKey = os.Getenv("PRIMARY_SENDER_PRIVATE_KEY")
	cfg.PrimaryReceiver = os.Getenv("PRIMARY_RECEIVER_ADDRESS")
	cfg.SecondarySenderKey = os.Getenv("SECONDARY_SENDER_PRIVATE_KEY")
	cfg.SecondaryReceiver = os.Getenv("SECONDARY_RECEIVER_ADDRESS")
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	} else if v := os.Getenv("PORT"); v != "" {
		cfg.ListenAddr = ":" + v
	}
	cfg.DatabasePath = os.Getenv("DATABASE_PATH")
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		logLevel = v
	}
	cfg.LogFile = os.Getenv("LOG_FILE")

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	// Define command-line flags
	fs := flag.NewFlagSet("txprober", flag.ContinueOnError)
	var (
		rpcURL     = fs.String("rpc", cfg.RPCURL, "JSON-RPC endpoint URL")
		chainID    = fs.Int64("chainid", cfg.ChainID, "Chain ID (0 = query the node)")
		interval   = fs.String("interval", cfg.Interval.String(), "Probe interval (duration or milliseconds)")
		amountFlag = fs.String("amount", amount, "Transfer amount per probe, in ether")
		listenAddr = fs.String("listen", cfg.ListenAddr, "HTTP listen address")
		database   = fs.String("database", cfg.DatabasePath, "SQLite probe journal path (empty = disabled)")
		levelFlag  = fs.String("log-level", logLevel, "Log level (debug, info, warn, error)")
		logFile    = fs.String("log-file", cfg.LogFile, "Also append JSON logs to this file")
	)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Apply flags to config
	cfg.RPCURL = *rpcURL
	cfg.ChainID = *chainID
	cfg.ListenAddr = *listenAddr
	cfg.DatabasePath = *database
	cfg.LogFile = *logFile

	d, err := ParseInterval(*interval)
	if err != nil {
		return nil, fmt.Errorf("interval: %w", err)
	}
	cfg.Interval = d

	if cfg.Amount, err = ParseEther(*amountFlag); err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(*levelFlag)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	// Validate config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC URL is required")
	}
	if c.ChainID < 0 {
		return fmt.Errorf("chain ID cannot be negative")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.Amount == nil || c.Amount.Sign() <= 0 {
		return fmt.Errorf("transaction amount must be positive")
	}
	for _, p := range []struct {
		name string
		d    time.Duration
	}{
		{"retention window", c.RetentionWindow},
		{"rotation interval", c.RotationInterval},
		{"receipt timeout", c.ReceiptTimeout},
		{"receipt poll interval", c.ReceiptPollInterval},
		{"RPC timeout", c.RPCTimeout},
	} {
		if p.d <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}
	if c.RetentionWindow < time.Second {
		return fmt.Errorf("retention window must be at least 1s")
	}
	if c.PrimarySenderKey == "" || c.PrimaryReceiver == "" {
		return fmt.Errorf("primary sender key and receiver address are required")
	}
	if c.SecondarySenderKey == "" || c.SecondaryReceiver == "" {
		return fmt.Errorf("secondary sender key and receiver address are required")
	}
	return nil
}

// ParseInterval parses a duration string. A bare integer is read as
// milliseconds.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

// ParseEther converts a decimal ether amount to wei. Amounts with more
// than 18 decimal places are rejected.
func ParseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	wei := d.Shift(18)
	if !wei.IsInteger() {
		return nil, fmt.Errorf("%s has more than 18 decimal places", s)
	}
	return wei.BigInt(), nil
}

// envDuration overwrites *dst from the named variable if it is set.
func envDuration(errs *[]error, name string, dst *time.Duration) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	d, err := ParseInterval(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = d
}

// firstEnv returns the first non-empty variable among names.
func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}
