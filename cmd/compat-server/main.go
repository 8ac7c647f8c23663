// Package main provides the compatibility engine server entry point. It
// serves part resolution and conformity audits over HTTP and, when
// enabled, runs the scheduled audit in the background.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/autoparts/compat-engine/pkg/api"
	"github.com/autoparts/compat-engine/pkg/cache"
	"github.com/autoparts/compat-engine/pkg/compat"
	"github.com/autoparts/compat-engine/pkg/config"
	"github.com/autoparts/compat-engine/pkg/conformity"
	"github.com/autoparts/compat-engine/pkg/criteria"
	"github.com/autoparts/compat-engine/pkg/ha"
	"github.com/autoparts/compat-engine/pkg/jobs"
	"github.com/autoparts/compat-engine/pkg/store"
)

func main() {
	fs := pflag.CommandLine
	config.BindFlags(fs)
	fs.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	// glog only reports startup failures.
	_ = flag.Set("logtostderr", "true")

	cfg, err := config.Load(viper.New(), fs)
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}

	logger, err := cfg.Log.NewLogger(os.Stdout)
	if err != nil {
		glog.Fatalf("Failed to create logger: %v", err)
	}
	logger.Info("starting compat server",
		"listen", cfg.HTTP.Listen,
		"dbType", cfg.DB.Type,
		"confidenceThreshold", cfg.Conformity.ConfidenceThreshold,
		"auditEnabled", cfg.Audit.Enabled,
	)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	vocab, err := cfg.Vocabulary()
	if err != nil {
		glog.Fatalf("Failed to load keyword vocabulary: %v", err)
	}

	gormDB, err := store.Open(cfg.DB)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}
	st := store.NewStore(gormDB, store.WithConfidenceThreshold(cfg.Conformity.ConfidenceThreshold))

	defs := cache.NewDefinitionCache(st, cfg.Cache, logger.With("component", "definitions"))
	if _, err := defs.Definitions(ctx); err != nil {
		// Not fatal: /readyz keeps reporting not_ready until a load succeeds.
		logger.Warn("initial attribute definition load failed", "error", err)
	}

	resolver := compat.NewResolver(st, defs, criteria.NewEngine(vocab), cfg.ResolverConfig(),
		logger.With("component", "resolver"))
	engine := conformity.NewEngine(st, cfg.EngineConfig(), logger.With("component", "conformity"))

	runner := jobs.NewAuditRunner(engine, cfg.Audit, logger.With("component", "audit")).
		WithLocker(ha.NewLocker(gormDB, "compat-conformity-audit"))
	auditDone := make(chan struct{})
	go func() {
		defer close(auditDone)
		runner.Run(ctx)
	}()

	server := api.NewServer(resolver, engine, st, defs, logger,
		api.WithCORSOrigins(cfg.HTTP.CORSOrigins),
		api.WithReadinessTimeout(cfg.Timeouts.Resolve),
	)

	// Create HTTP server with graceful shutdown
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	logger.Info("compat server ready", "listen", cfg.HTTP.Listen)

	// Wait for shutdown signal
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	select {
	case <-auditDone:
	case <-shutdownCtx.Done():
		logger.Warn("scheduled audit did not stop before shutdown deadline")
	}

	if sqlDB, err := gormDB.DB(); err == nil {
		_ = sqlDB.Close()
	}

	logger.Info("compat server stopped")
}
