// Package worker provides async commission processing from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Nikki72581/commissionflow-sub002/internal/commission"
	"github.com/Nikki72581/commissionflow-sub002/internal/domain"
)

// Worker consumes sale.recorded events and runs the calculation pipeline.
type Worker struct {
	bus     domain.EventBus
	repo    domain.Repository
	service *commission.Service

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, service *commission.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		repo:    repo,
		service: service,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing sale events for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker subscribes across all tenants. The "*" tenant is a
// wildcard on both backends: NATS expands it to the cflow.*.<topic> subject
// and the channel bus delivers every tenant's messages to "*" subscribers.
// The tenant for each message comes from the sale payload.
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TenantWildcard, domain.TopicSaleRecorded, w.track(w.handleMessage))
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts a worker for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicSaleRecorded, w.track(func(ctx context.Context, msg *domain.Message) error {
		return w.processSale(ctx, tenantID, msg)
	}))
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicSaleRecorded,
	)

	return nil
}

// track wraps a handler so Stop can wait for in-flight deliveries.
func (w *Worker) track(handler domain.MessageHandler) domain.MessageHandler {
	return func(ctx context.Context, msg *domain.Message) error {
		w.wg.Add(1)
		defer w.wg.Done()
		return handler(ctx, msg)
	}
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processSale(ctx, msg.TenantID, msg)
}

// processSale runs the calculation pipeline for one recorded sale.
func (w *Worker) processSale(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var tx domain.SaleTransaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		slog.Error("failed to parse sale message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if tx.TenantID != "" {
		tenantID = tx.TenantID
	}

	slog.Debug("processing sale",
		"tx_id", tx.ID,
		"tenant_id", tenantID,
	)

	c, err := w.service.Calculate(ctx, tenantID, &tx)
	if errors.Is(err, domain.ErrDuplicateCommission) {
		// A redelivered event is not a failure.
		slog.Debug("commission already exists",
			"tx_id", tx.ID,
			"tenant_id", tenantID,
			"commission_id", c.ID,
		)
		return nil
	}
	if err != nil {
		slog.Error("calculation failed",
			"tx_id", tx.ID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	slog.Info("sale processed",
		"tx_id", tx.ID,
		"tenant_id", tenantID,
		"commission_id", c.ID,
		"status", string(c.Status),
		"amount", c.Amount.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	// Let handlers that already received a message finish
	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
