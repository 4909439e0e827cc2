// rigwatchd is the machine telemetry daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	defaults "github.com/xtxerr/rigwatch/config"
	"github.com/xtxerr/rigwatch/internal/httpapi"
	"github.com/xtxerr/rigwatch/internal/logging"
	"github.com/xtxerr/rigwatch/internal/metrics"
	"github.com/xtxerr/rigwatch/internal/server"
	"github.com/xtxerr/rigwatch/internal/storage"
	"github.com/xtxerr/rigwatch/internal/storage/config"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rigwatchd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	dbPath := flag.String("db", "", "DuckDB DSN or file path (overrides config)")
	tlsCert := flag.String("tls-cert", "", "TLS certificate file")
	tlsKey := flag.String("tls-key", "", "TLS key file")
	logLevel := flag.String("log-level", "", "debug, info, warn or error (overrides config)")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load config: %w", err)
		}
		cfg, err = config.LoadOrDefault("")
		if err != nil {
			return fmt.Errorf("default config: %w", err)
		}
	}

	// CLI overrides
	if *listen != "" {
		cfg.HTTP.Listen = *listen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *dbPath != "" {
		cfg.Store.DSN = *dbPath
	}
	if *tlsCert != "" {
		cfg.HTTP.TLSCertFile = *tlsCert
	}
	if *tlsKey != "" {
		cfg.HTTP.TLSKeyFile = *tlsKey
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logging.Init(logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON)
	log := logging.Component("main")
	log.Info("rigwatchd starting", "version", Version, "config", *cfgPath)

	req := cfg.CalculateRequirements()
	log.Info("resource estimate\n" + req.FormatRequirements())

	// =========================================================================
	// Initialize Metrics
	// =========================================================================

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// =========================================================================
	// Initialize Storage (DuckDB, ingestion, rollups, retention)
	// =========================================================================

	log.Info("opening store", "path", cfg.DatabasePath())

	svc, err := storage.New(cfg, storage.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start storage: %w", err)
	}

	// =========================================================================
	// Create Server
	// =========================================================================

	handler := httpapi.NewHandler(svc, httpapi.Options{
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		LiveInterval: cfg.Live.Interval,
		Gatherer:     reg,
	})

	drain := time.Duration(cfg.HTTP.DrainTimeoutSec) * time.Second
	if drain <= 0 {
		drain = time.Duration(defaults.DefaultDrainTimeoutSec) * time.Second
	}
	srv := server.New(&server.Config{
		Handler:      handler,
		Listen:       cfg.HTTP.Listen,
		TLSCertFile:  cfg.HTTP.TLSCertFile,
		TLSKeyFile:   cfg.HTTP.TLSKeyFile,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		DrainTimeout: drain,
	})

	// =========================================================================
	// Signal Handling and Graceful Shutdown
	// =========================================================================

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// =========================================================================
	// Run
	// =========================================================================

	g.Go(func() error {
		return srv.Run(gctx)
	})

	runErr := g.Wait()
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	log.Info("shutting down")

	// Stop storage last (final flush, close store)
	stopCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	if err := svc.Stop(stopCtx); err != nil {
		log.Error("storage stop failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	return runErr
}
