// Backfill tool for recalculating commissions over historical sales.
//
// Usage:
//   go run cmd/backfill/main.go -tenant tenant-001 -since 2026-01-01 [-workers 8] [-dry-run]
//
// Loads every sale transaction for the tenant recorded on or after the given
// date and pushes each through the calculation pipeline. Sales that already
// carry a commission are left untouched.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Nikki72581/commissionflow-sub002/internal/backfill"
	"github.com/Nikki72581/commissionflow-sub002/internal/bus"
	"github.com/Nikki72581/commissionflow-sub002/internal/cache"
	"github.com/Nikki72581/commissionflow-sub002/internal/commission"
	"github.com/Nikki72581/commissionflow-sub002/internal/domain"
	"github.com/Nikki72581/commissionflow-sub002/internal/engine"
	"github.com/Nikki72581/commissionflow-sub002/internal/plans"
	"github.com/Nikki72581/commissionflow-sub002/internal/repository"
)

func main() {
	tenantID := flag.String("tenant", "", "Tenant ID to backfill")
	since := flag.String("since", "", "Process transactions on or after this date (YYYY-MM-DD)")
	limit := flag.Int("limit", 10000, "Maximum transactions to process")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	dryRun := flag.Bool("dry-run", false, "Report what would happen without persisting")
	flag.Parse()

	if *tenantID == "" || *since == "" {
		fmt.Println("Usage: backfill -tenant <tenant-id> -since YYYY-MM-DD [-workers 4] [-dry-run]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	sinceTime, err := time.Parse("2006-01-02", *since)
	if err != nil {
		fmt.Printf("ERROR: invalid -since date %q: %v\n", *since, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	cfg := domain.DefaultConfig()
	if os.Getenv("CFLOW_TIER") == "pro" {
		cfg = domain.ProConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\ninterrupted, finishing in-flight work...")
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		fmt.Printf("ERROR: failed to open repository: %v\n", err)
		os.Exit(1)
	}
	defer repo.Close()

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		fmt.Printf("ERROR: failed to open cache: %v\n", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		fmt.Printf("ERROR: failed to open event bus: %v\n", err)
		os.Exit(1)
	}
	defer busImpl.Close()

	eng, err := engine.New()
	if err != nil {
		fmt.Printf("ERROR: failed to initialize engine: %v\n", err)
		os.Exit(1)
	}

	resolver := plans.NewResolver(repo, cacheImpl)
	service := commission.NewService(repo, resolver, eng, busImpl, cacheImpl)
	runner := backfill.NewRunner(repo, service)

	fmt.Printf("Backfilling tenant %s since %s (workers=%d, limit=%d, dry-run=%v)\n",
		*tenantID, sinceTime.Format("2006-01-02"), *workers, *limit, *dryRun)

	result, err := runner.Run(ctx, *tenantID, backfill.Config{
		Since:   sinceTime,
		Limit:   *limit,
		Workers: *workers,
		DryRun:  *dryRun,
	})
	if err != nil && result == nil {
		fmt.Printf("ERROR: backfill failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("Backfill results:")
	fmt.Printf("  Processed:   %d\n", result.Processed)
	fmt.Printf("  Calculated:  %d\n", result.Calculated)
	fmt.Printf("  Skipped:     %d  (no applicable plan or rule)\n", result.Skipped)
	fmt.Printf("  Duplicates:  %d  (commission already existed)\n", result.Duplicates)
	fmt.Printf("  Errors:      %d\n", result.Errors)
	fmt.Printf("  Duration:    %dms\n", result.DurationMs)

	if err != nil {
		fmt.Printf("\nWARNING: run ended early: %v\n", err)
		os.Exit(1)
	}
	if result.Errors > 0 {
		os.Exit(1)
	}
}
