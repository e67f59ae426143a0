package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nrbontha/spherepay/config"
	"github.com/nrbontha/spherepay/internal/api"
	"github.com/nrbontha/spherepay/internal/database"
	"github.com/nrbontha/spherepay/internal/engine"
	"github.com/nrbontha/spherepay/internal/ledger"
	"github.com/nrbontha/spherepay/internal/metrics"
	"github.com/nrbontha/spherepay/internal/ratestore"
	"github.com/nrbontha/spherepay/internal/rebalancer"
	"github.com/nrbontha/spherepay/pkg/logger"
)

var version = "1.0.0"

func main() {
	// Initialize logger
	log := logger.NewLogger("sphered")
	log.Info("Starting FX transfer engine", "version", version)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize metrics
	metricsServer := metrics.NewServer(cfg.MetricsPort)
	go func() {
		if err := metricsServer.Start(); err != nil {
			log.Error("Metrics server failed", "error", err)
		}
	}()

	// Initialize database
	log.Info("Connecting to database")
	db, err := database.New(database.Config{
		URL:            cfg.DatabaseURL,
		MaxConnections: cfg.DBMaxOpenConns,
		MaxIdle:        cfg.DBMaxIdleConns,
		ConnMaxLife:    cfg.DBConnMaxLife,
	})
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize schema and seed pools
	if err := db.InitSchema(); err != nil {
		log.Error("Failed to initialize schema", "error", err)
		os.Exit(1)
	}
	if err := db.SeedPools(ctx, cfg.InitialBalances); err != nil {
		log.Error("Failed to seed liquidity pools", "error", err)
		os.Exit(1)
	}

	// Wire the core subsystems
	currencies := cfg.Currencies()
	rates := ratestore.New(db, currencies, log.With("subsystem", "ratestore"))
	pools := ledger.New(db, rates, log.With("subsystem", "ledger"))
	eng := engine.New(db, rates, pools, engine.Config{
		Currencies:      currencies,
		MarginRate:      cfg.MarginRate,
		SettlementTimes: cfg.SettlementTimes,
	}, log.With("subsystem", "engine"))

	// Report transactions orphaned in PROCESSING by a previous crash
	if err := eng.RecoverOrphans(ctx); err != nil {
		log.Error("Failed to survey orphaned transactions", "error", err)
	}

	// Start pool rebalancer
	reb := rebalancer.New(pools, rates, rebalancer.Config{
		HighUtilization:  cfg.HighUtilization,
		LowUtilization:   cfg.LowUtilization,
		BufferMultiplier: cfg.BufferMultiplier,
		Interval:         cfg.RebalanceInterval,
		MetricsWindow:    cfg.MetricsWindow,
	}, log.With("subsystem", "rebalancer"))
	go reb.Run(ctx)

	// Start API server
	log.Info("Starting API server", "port", cfg.Port)
	apiServer := api.NewServer(api.Config{Port: cfg.Port}, eng, rates, pools, db, log.With("subsystem", "api"))
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Error("API server failed", "error", err)
			cancel()
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("Received interrupt signal, shutting down gracefully")
	case <-ctx.Done():
		log.Info("Context cancelled, shutting down")
	}

	// Graceful shutdown: stop the rebalancer at its sleep boundary, then
	// drain the HTTP servers.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info("Stopping API server")
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server gracefully", "error", err)
	}

	log.Info("Stopping metrics server")
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop metrics server gracefully", "error", err)
	}

	log.Info("FX transfer engine stopped")
}
