// Package backfill re-runs the calculation pipeline over historical sales.
// Used after plan or rule changes to fill in commissions for transactions
// recorded before the rules existed.
package backfill

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Nikki72581/commissionflow-sub002/internal/commission"
	"github.com/Nikki72581/commissionflow-sub002/internal/domain"
)

// Config holds backfill run settings.
type Config struct {
	// Since bounds the run to transactions on or after this time.
	Since time.Time

	// Limit caps the number of transactions loaded (0 = default 10000).
	Limit int

	// Workers is the number of concurrent calculators.
	Workers int

	// DryRun evaluates without persisting, reporting what would happen.
	DryRun bool
}

// Result summarizes a backfill run.
type Result struct {
	Processed  int64 `json:"processed"`
	Calculated int64 `json:"calculated"`
	Skipped    int64 `json:"skipped"`
	Duplicates int64 `json:"duplicates"`
	Errors     int64 `json:"errors"`

	DurationMs int64 `json:"durationMs"`
}

// Runner executes backfill batches for one tenant at a time.
type Runner struct {
	repo    domain.Repository
	service *commission.Service
}

// NewRunner creates a new backfill runner.
func NewRunner(repo domain.Repository, service *commission.Service) *Runner {
	return &Runner{
		repo:    repo,
		service: service,
	}
}

// Run loads the tenant's transactions since the configured time and pushes
// each through the calculation pipeline with a worker pool. Transactions
// that already carry a commission count as duplicates, not errors.
func (r *Runner) Run(ctx context.Context, tenantID string, cfg Config) (*Result, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 10000
	}

	txs, err := r.repo.ListTransactions(ctx, tenantID, cfg.Since, limit)
	if err != nil {
		return nil, err
	}

	slog.Info("backfill starting",
		"tenant_id", tenantID,
		"transactions", len(txs),
		"workers", workers,
		"dry_run", cfg.DryRun,
	)

	start := time.Now()
	result := &Result{}

	work := make(chan *domain.SaleTransaction, workers)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tx := range work {
				r.processOne(ctx, tenantID, tx, cfg.DryRun, result)
			}
		}()
	}

	for _, tx := range txs {
		select {
		case <-ctx.Done():
			close(work)
			wg.Wait()
			result.DurationMs = time.Since(start).Milliseconds()
			return result, ctx.Err()
		case work <- tx:
		}
	}
	close(work)
	wg.Wait()

	result.DurationMs = time.Since(start).Milliseconds()

	slog.Info("backfill finished",
		"tenant_id", tenantID,
		"processed", result.Processed,
		"calculated", result.Calculated,
		"skipped", result.Skipped,
		"duplicates", result.Duplicates,
		"errors", result.Errors,
		"duration_ms", result.DurationMs,
	)

	return result, nil
}

func (r *Runner) processOne(ctx context.Context, tenantID string, tx *domain.SaleTransaction, dryRun bool, result *Result) {
	atomic.AddInt64(&result.Processed, 1)

	if dryRun {
		if existing, err := r.service.GetByTransaction(ctx, tenantID, tx.ID); err == nil && existing != nil {
			atomic.AddInt64(&result.Duplicates, 1)
		} else {
			atomic.AddInt64(&result.Calculated, 1)
		}
		return
	}

	c, err := r.service.Calculate(ctx, tenantID, tx)
	if errors.Is(err, domain.ErrDuplicateCommission) {
		atomic.AddInt64(&result.Duplicates, 1)
		return
	}
	if err != nil {
		atomic.AddInt64(&result.Errors, 1)
		slog.Error("backfill calculation failed",
			"tenant_id", tenantID,
			"tx_id", tx.ID,
			"error", err,
		)
		return
	}

	if c.Status == domain.StatusSkippedNoPlan {
		atomic.AddInt64(&result.Skipped, 1)
		return
	}
	atomic.AddInt64(&result.Calculated, 1)
}
