// Package commission orchestrates the calculation pipeline: snapshot the
// sale, resolve the governing plan, run the rule engine, persist the outcome
// with its trace, and publish lifecycle events.
package commission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Nikki72581/commissionflow-sub002/internal/domain"
	"github.com/Nikki72581/commissionflow-sub002/internal/engine"
	"github.com/Nikki72581/commissionflow-sub002/internal/plans"
)

// Money is rounded only at persistence; intermediate engine math keeps full
// precision.
const (
	amountScale = 2
	rateScale   = 4
)

// Service runs commission calculations end to end.
type Service struct {
	repo     domain.Repository
	resolver *plans.Resolver
	engine   *engine.Engine
	bus      domain.EventBus
	cache    domain.Cache
}

// NewService creates a new commission service.
func NewService(repo domain.Repository, resolver *plans.Resolver, eng *engine.Engine, bus domain.EventBus, cache domain.Cache) *Service {
	return &Service{
		repo:     repo,
		resolver: resolver,
		engine:   eng,
		bus:      bus,
		cache:    cache,
	}
}

// CalculatedEvent is the payload published on commission.calculated and
// commission.adjusted.
type CalculatedEvent struct {
	CommissionID  string          `json:"commissionId"`
	TransactionID string          `json:"transactionId"`
	PlanID        string          `json:"planId,omitempty"`
	RuleID        string          `json:"ruleId,omitempty"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency,omitempty"`
}

// FlaggedEvent is the payload published on commission.flagged when a sale
// could not be matched to a plan or rule.
type FlaggedEvent struct {
	CommissionID  string `json:"commissionId"`
	TransactionID string `json:"transactionId"`
	Reason        string `json:"reason"`
}

// RecordSale persists a sale transaction and announces it on the bus. The
// async worker picks the event up and runs the calculation.
func (s *Service) RecordSale(ctx context.Context, tenantID string, tx *domain.SaleTransaction) error {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	tx.TenantID = tenantID
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	if err := s.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}

	payload, _ := json.Marshal(tx)
	if err := s.bus.Publish(ctx, tenantID, domain.TopicSaleRecorded, payload); err != nil {
		slog.Error("failed to publish sale.recorded",
			"tenant_id", tenantID,
			"tx_id", tx.ID,
			"error", err,
		)
	}
	return nil
}

// Calculate runs the full pipeline for one sale and persists the outcome.
//
// A sale that matches no plan or no rule is not recorded as a $0 commission:
// it is stored with SKIPPED_NO_PLAN status and flagged on the bus for manual
// review. At most one commission exists per transaction; a repeat call
// returns the existing record with domain.ErrDuplicateCommission.
func (s *Service) Calculate(ctx context.Context, tenantID string, tx *domain.SaleTransaction) (*domain.Commission, error) {
	if existing, err := s.repo.GetCommissionByTransaction(ctx, tenantID, tx.ID); err == nil && existing != nil {
		return existing, domain.ErrDuplicateCommission
	}

	tc := domain.NewTransactionContext(tx)

	resolution, err := s.resolver.Resolve(ctx, tenantID, tc)
	if err != nil {
		return nil, err
	}
	if resolution == nil {
		return s.skip(ctx, tenantID, tx, tc, nil, "no active plan applies to this transaction")
	}

	snapshot := &domain.PlanSnapshot{
		PlanID:          resolution.Plan.ID,
		PlanName:        resolution.Plan.Name,
		ProjectID:       resolution.Plan.ProjectID,
		CommissionBasis: resolution.Plan.CommissionBasis,
	}

	trace, err := s.engine.Evaluate(&engine.EvaluateInput{
		Context: tc,
		Plan:    snapshot,
		Basis:   resolution.Plan.CommissionBasis,
		Rules:   resolution.Rules,
	})
	if errors.Is(err, domain.ErrNoApplicableRule) {
		return s.skip(ctx, tenantID, tx, tc, trace, "no rule in plan "+resolution.Plan.ID+" matched")
	}
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}

	now := time.Now().UTC()
	commission := &domain.Commission{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		TransactionID: tx.ID,
		PlanID:        resolution.Plan.ID,
		RuleID:        trace.Output.SelectedRuleID,
		Status:        domain.StatusCalculated,
		Amount:        trace.Output.CommissionAmount.Round(amountScale),
		EffectiveRate: trace.Output.EffectiveRate.Round(rateScale),
		Currency:      tx.Currency,
		Trace:         trace,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.SaveCommission(ctx, tenantID, commission); err != nil {
		if errors.Is(err, domain.ErrDuplicateCommission) {
			if existing, lookupErr := s.repo.GetCommissionByTransaction(ctx, tenantID, tx.ID); lookupErr == nil {
				return existing, domain.ErrDuplicateCommission
			}
		}
		return nil, fmt.Errorf("failed to save commission: %w", err)
	}

	s.meter(ctx, tenantID)
	s.publishCalculated(ctx, tenantID, domain.TopicCommissionCalculated, commission)

	slog.Info("commission calculated",
		"tenant_id", tenantID,
		"tx_id", tx.ID,
		"commission_id", commission.ID,
		"rule_id", commission.RuleID,
		"amount", commission.Amount.String(),
	)

	return commission, nil
}

// skip records the no-match outcome and flags it for manual review.
func (s *Service) skip(ctx context.Context, tenantID string, tx *domain.SaleTransaction, tc *domain.TransactionContext, trace *domain.CommissionCalculationTrace, reason string) (*domain.Commission, error) {
	if trace == nil {
		trace = &domain.CommissionCalculationTrace{
			EngineVersion: engine.Version,
			Input:         tc,
			Rules:         []domain.RuleEvaluationTrace{},
			Output: domain.CalculationOutput{
				CommissionAmount: decimal.Zero,
				EffectiveRate:    decimal.Zero,
			},
			CreatedAt: time.Now().UTC(),
		}
	}

	now := time.Now().UTC()
	commission := &domain.Commission{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		TransactionID: tx.ID,
		Status:        domain.StatusSkippedNoPlan,
		Amount:        decimal.Zero,
		EffectiveRate: decimal.Zero,
		Currency:      tx.Currency,
		Trace:         trace,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if trace.Plan != nil {
		commission.PlanID = trace.Plan.PlanID
	}

	if err := s.repo.SaveCommission(ctx, tenantID, commission); err != nil {
		if errors.Is(err, domain.ErrDuplicateCommission) {
			if existing, lookupErr := s.repo.GetCommissionByTransaction(ctx, tenantID, tx.ID); lookupErr == nil {
				return existing, domain.ErrDuplicateCommission
			}
		}
		return nil, fmt.Errorf("failed to save skipped commission: %w", err)
	}

	payload, _ := json.Marshal(FlaggedEvent{
		CommissionID:  commission.ID,
		TransactionID: tx.ID,
		Reason:        reason,
	})
	if err := s.bus.Publish(ctx, tenantID, domain.TopicCommissionFlagged, payload); err != nil {
		slog.Error("failed to publish commission.flagged",
			"tenant_id", tenantID,
			"tx_id", tx.ID,
			"error", err,
		)
	}

	slog.Warn("commission skipped",
		"tenant_id", tenantID,
		"tx_id", tx.ID,
		"reason", reason,
	)

	return commission, nil
}

// Adjust applies a post-hoc adjustment. The prior trace is preserved via the
// trace chain, never overwritten.
func (s *Service) Adjust(ctx context.Context, tenantID string, commissionID string, adjType domain.AdjustmentType, amount decimal.Decimal, reason string) (*domain.Commission, error) {
	commission, err := s.repo.GetCommission(ctx, tenantID, commissionID)
	if err != nil {
		return nil, err
	}
	if commission.Trace == nil {
		return nil, fmt.Errorf("commission %s has no calculation trace", commissionID)
	}

	adj := domain.Adjustment{
		ID:        uuid.New().String(),
		Type:      adjType,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}

	commission.Trace = engine.ApplyAdjustment(commission.Trace, adj)
	commission.Status = domain.StatusAdjusted
	commission.Amount = commission.Trace.Output.CommissionAmount.Round(amountScale)
	commission.EffectiveRate = commission.Trace.Output.EffectiveRate.Round(rateScale)
	commission.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdateCommission(ctx, tenantID, commission); err != nil {
		return nil, fmt.Errorf("failed to update commission: %w", err)
	}

	s.publishCalculated(ctx, tenantID, domain.TopicCommissionAdjusted, commission)

	slog.Info("commission adjusted",
		"tenant_id", tenantID,
		"commission_id", commission.ID,
		"adjustment_type", string(adjType),
		"amount", amount.String(),
	)

	return commission, nil
}

// Get retrieves a commission by ID.
func (s *Service) Get(ctx context.Context, tenantID string, commissionID string) (*domain.Commission, error) {
	return s.repo.GetCommission(ctx, tenantID, commissionID)
}

// GetByTransaction retrieves the commission for a transaction.
func (s *Service) GetByTransaction(ctx context.Context, tenantID string, txID string) (*domain.Commission, error) {
	return s.repo.GetCommissionByTransaction(ctx, tenantID, txID)
}

// Explain renders a commission's trace as human-readable text.
func (s *Service) Explain(ctx context.Context, tenantID string, commissionID string) (string, error) {
	commission, err := s.repo.GetCommission(ctx, tenantID, commissionID)
	if err != nil {
		return "", err
	}
	if commission.Trace == nil {
		return "", fmt.Errorf("commission %s has no calculation trace", commissionID)
	}
	return engine.Explain(commission.Trace), nil
}

// Preview runs a calculation against a specific plan without persisting
// anything. Used to dry-run plan changes against a sample sale.
func (s *Service) Preview(ctx context.Context, tenantID string, planID string, tx *domain.SaleTransaction) (*domain.CommissionCalculationTrace, error) {
	plan, err := s.repo.GetPlan(ctx, tenantID, planID)
	if err != nil {
		return nil, err
	}

	rules, err := s.repo.ListRulesByPlan(ctx, tenantID, planID)
	if err != nil {
		return nil, err
	}

	tc := domain.NewTransactionContext(tx)

	trace, err := s.engine.Evaluate(&engine.EvaluateInput{
		Context: tc,
		Plan: &domain.PlanSnapshot{
			PlanID:          plan.ID,
			PlanName:        plan.Name,
			ProjectID:       plan.ProjectID,
			CommissionBasis: plan.CommissionBasis,
		},
		Basis: plan.CommissionBasis,
		Rules: rules,
	})
	if errors.Is(err, domain.ErrNoApplicableRule) {
		// A preview with no winner is still a useful preview.
		return trace, nil
	}
	return trace, err
}

func (s *Service) publishCalculated(ctx context.Context, tenantID string, topic string, c *domain.Commission) {
	payload, _ := json.Marshal(CalculatedEvent{
		CommissionID:  c.ID,
		TransactionID: c.TransactionID,
		PlanID:        c.PlanID,
		RuleID:        c.RuleID,
		Status:        string(c.Status),
		Amount:        c.Amount,
		Currency:      c.Currency,
	})
	if err := s.bus.Publish(ctx, tenantID, topic, payload); err != nil {
		slog.Error("failed to publish commission event",
			"tenant_id", tenantID,
			"topic", topic,
			"commission_id", c.ID,
			"error", err,
		)
	}
}

// meter bumps the per-tenant daily calculation counter. Best effort.
func (s *Service) meter(ctx context.Context, tenantID string) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.IncrementCounter(ctx, tenantID, "calc:daily", 24*time.Hour); err != nil {
		slog.Debug("failed to increment calculation counter",
			"tenant_id", tenantID,
			"error", err,
		)
	}
}
