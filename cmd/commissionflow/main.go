// CommissionFlow - Commission rules that explain themselves.
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Nikki72581/commissionflow-sub002/internal/api"
	"github.com/Nikki72581/commissionflow-sub002/internal/bus"
	"github.com/Nikki72581/commissionflow-sub002/internal/cache"
	"github.com/Nikki72581/commissionflow-sub002/internal/commission"
	"github.com/Nikki72581/commissionflow-sub002/internal/domain"
	"github.com/Nikki72581/commissionflow-sub002/internal/engine"
	"github.com/Nikki72581/commissionflow-sub002/internal/plans"
	"github.com/Nikki72581/commissionflow-sub002/internal/repository"
	"github.com/Nikki72581/commissionflow-sub002/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("CFLOW_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting commissionflow",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("CFLOW_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Engine
	eng, err := engine.New()
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "engine_version", engine.Version)

	// Initialize Plan Resolver
	resolver := plans.NewResolver(repo, cacheImpl)
	slog.Info("plan resolver initialized")

	// Initialize Commission Service
	service := commission.NewService(repo, resolver, eng, busImpl, cacheImpl)
	slog.Info("commission service initialized")

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("CFLOW_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, service)

		// Tenants to process; empty means the cross-tenant wildcard subscription
		tenantIDs := splitTenants(os.Getenv("CFLOW_TENANTS"))

		workerCfg := worker.Config{
			TenantIDs: tenantIDs,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, eng, service, resolver, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("commissionflow is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("commissionflow shutdown complete")
}

// splitTenants parses the CFLOW_TENANTS comma-separated list, dropping
// empty entries and surrounding whitespace.
func splitTenants(env string) []string {
	var tenantIDs []string
	for _, id := range strings.Split(env, ",") {
		if id = strings.TrimSpace(id); id != "" {
			tenantIDs = append(tenantIDs, id)
		}
	}
	return tenantIDs
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║            COMMISSIONFLOW                 ║")
	fmt.Println("  ║     Commission Calculation Engine         ║")
	fmt.Println("  ║   Every payout, fully explained.          ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /calculate                      - Calculate a commission")
	fmt.Println("    GET  /commissions/{id}               - Get commission with trace")
	fmt.Println("    GET  /commissions/{id}/explain       - Human-readable trace")
	fmt.Println("    POST /commissions/{id}/adjustments   - Apply an adjustment")
	fmt.Println("    GET  /transactions/{id}              - Get transaction by ID")
	fmt.Println("    GET  /rules                          - List all rules")
	fmt.Println("    POST /rules                          - Create a new rule")
	fmt.Println("    POST /rules/validate                 - Dry-run rule validation")
	fmt.Println("    DELETE /rules/{id}                   - Disable a rule")
	fmt.Println("    GET  /plans                          - List active plans")
	fmt.Println("    POST /plans                          - Create a plan")
	fmt.Println("    POST /plans/{id}/preview             - Preview a plan")
	fmt.Println("    GET  /health                         - Health check")
	fmt.Println()
}
