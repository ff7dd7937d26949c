// Command prober sends a small value transfer to the chain on a fixed interval
// and serves confirmation metrics over HTTP, WebSocket and Prometheus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gateway-fm/txprober/internal/account"
	"github.com/gateway-fm/txprober/internal/config"
	"github.com/gateway-fm/txprober/internal/ledger"
	"github.com/gateway-fm/txprober/internal/metrics"
	"github.com/gateway-fm/txprober/internal/prober"
	"github.com/gateway-fm/txprober/internal/rpc"
	"github.com/gateway-fm/txprober/internal/storage"
	"github.com/gateway-fm/txprober/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg); err != nil {
		slog.Error("prober exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// Setup logger
	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		out = io.MultiWriter(os.Stdout, f)
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics registry
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promMetrics := metrics.NewPrometheusMetrics(reg)

	// RPC + ledger
	rpcCfg := rpc.DefaultClientConfig(cfg.RPCURL)
	rpcCfg.Timeout = cfg.RPCTimeout
	rpcCfg.Logger = logger
	rpcCfg.Observer = func(method string, err error, elapsed time.Duration) {
		promMetrics.RecordRPCLatency(method, err == nil, elapsed.Seconds())
	}
	client := rpc.NewHTTPClient(rpcCfg)

	led := ledger.New(ledger.Config{
		Client:       client,
		ChainID:      big.NewInt(cfg.ChainID),
		PollInterval: cfg.ReceiptPollInterval,
		Logger:       logger,
	})
	chainID, err := led.ResolveChainID(ctx)
	if err != nil {
		return err
	}
	logger.Info("connected to chain", "rpc", cfg.RPCURL, "chain_id", chainID.String())

	// Accounts
	primary, err := account.NewPair(cfg.PrimarySenderKey, cfg.PrimaryReceiver)
	if err != nil {
		return fmt.Errorf("primary account: %w", err)
	}
	secondary, err := account.NewPair(cfg.SecondarySenderKey, cfg.SecondaryReceiver)
	if err != nil {
		return fmt.Errorf("secondary account: %w", err)
	}
	rotator, err := account.NewRotator(account.RotatorConfig{
		Primary:          primary,
		Secondary:        secondary,
		Funds:            led,
		Amount:           cfg.Amount,
		GasLimit:         ledger.TransferGasLimit,
		RotationInterval: cfg.RotationInterval,
		Observer:         promMetrics,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	// Core state
	tracker := metrics.NewTracker(promMetrics.PendingTxs)
	store := metrics.NewStore(cfg.RetentionWindow, tracker)

	proberCfg := prober.Config{
		Ledger:         led,
		Rotator:        rotator,
		Tracker:        tracker,
		Store:          store,
		Metrics:        promMetrics,
		Amount:         cfg.Amount,
		GasLimit:       ledger.TransferGasLimit,
		Interval:       cfg.Interval,
		ReceiptTimeout: cfg.ReceiptTimeout,
		ChainID:        chainID,
		Logger:         logger,
	}
	serverCfg := transport.ServerConfig{
		Metrics:            store,
		Gatherer:           reg,
		Logger:             logger,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Health: transport.HealthFunc(func(ctx context.Context) error {
			_, err := client.GetBlockNumber(ctx)
			return err
		}),
	}

	// Optional probe journal
	if cfg.DatabasePath != "" {
		journal, err := storage.NewSQLiteStorage(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("initialize storage: %w", err)
		}
		defer journal.Close()
		logger.Info("initialized probe journal", "path", cfg.DatabasePath)
		proberCfg.Journal = journal
		serverCfg.History = journal
	}

	p, err := prober.New(proberCfg)
	if err != nil {
		return err
	}
	serverCfg.Status = p

	api := transport.NewServer(serverCfg)
	defer api.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	proberDone := make(chan struct{})
	go func() {
		defer close(proberDone)
		p.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case err = <-errCh:
		logger.Error("HTTP server failed", "error", err)
		stop()
	}

	// Run returns once the in-flight cycle has been abandoned.
	<-proberDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("HTTP shutdown incomplete", "error", serr)
	}

	return err
}
