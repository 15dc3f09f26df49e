// Package plans resolves the commission plan and rule set that applies to a
// sale transaction.
package plans

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Nikki72581/commissionflow-sub002/internal/domain"
)

const (
	activePlansKey = "plans:active"
	rulesKeyPrefix = "rules:"
)

// Resolver looks up the applicable plan and its enabled rules for a
// transaction. Lookups sit on the hot calculation path, so both the active
// plan list and per-plan rule sets are cached.
type Resolver struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
}

// NewResolver creates a new plan resolver.
func NewResolver(repo domain.Repository, cache domain.Cache) *Resolver {
	return &Resolver{
		repo:  repo,
		cache: cache,
		ttl:   5 * time.Minute,
	}
}

// Resolution is the outcome of plan resolution for one transaction.
type Resolution struct {
	Plan  *domain.CommissionPlan
	Rules []*domain.CommissionRule
}

// Resolve picks the plan that governs a transaction and returns its enabled
// rules. A plan attached to the transaction's project wins over the tenant
// default plan, and its rules are promoted to project-specific priority so
// they outrank every other scope. Returns nil, nil when no plan applies.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, tx *domain.TransactionContext) (*Resolution, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	activePlans, err := r.activePlans(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active plans: %w", err)
	}
	if len(activePlans) == 0 {
		return nil, nil
	}

	plan, promoted := pickPlan(activePlans, tx.ProjectID)
	if plan == nil {
		return nil, nil
	}

	rules, err := r.rulesForPlan(ctx, tenantID, plan.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules for plan %s: %w", plan.ID, err)
	}

	if promoted {
		rules = promoteRules(rules)
	}

	return &Resolution{Plan: plan, Rules: rules}, nil
}

// pickPlan selects the governing plan: a project-attached plan matching the
// transaction's project takes precedence, otherwise the tenant default plan
// (one without a project binding). The second return reports whether the
// project plan was chosen.
func pickPlan(activePlans []*domain.CommissionPlan, projectID string) (*domain.CommissionPlan, bool) {
	if projectID != "" {
		for _, p := range activePlans {
			if p.ProjectID == projectID {
				return p, true
			}
		}
	}
	for _, p := range activePlans {
		if p.ProjectID == "" {
			return p, false
		}
	}
	return nil, false
}

// promoteRules returns copies of the rules with project-specific priority.
// Copies, because the originals may live in the cache.
func promoteRules(rules []*domain.CommissionRule) []*domain.CommissionRule {
	promoted := make([]*domain.CommissionRule, len(rules))
	for i, rule := range rules {
		clone := *rule
		clone.Priority = domain.PriorityProjectSpecific
		promoted[i] = &clone
	}
	return promoted
}

func (r *Resolver) activePlans(ctx context.Context, tenantID string) ([]*domain.CommissionPlan, error) {
	if r.cache != nil {
		if data, err := r.cache.Get(ctx, tenantID, activePlansKey); err == nil && data != nil {
			var cached []*domain.CommissionPlan
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	activePlans, err := r.repo.ListActivePlans(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if data, err := json.Marshal(activePlans); err == nil {
			_ = r.cache.Set(ctx, tenantID, activePlansKey, data, r.ttl)
		}
	}

	return activePlans, nil
}

func (r *Resolver) rulesForPlan(ctx context.Context, tenantID, planID string) ([]*domain.CommissionRule, error) {
	key := rulesKeyPrefix + planID

	if r.cache != nil {
		if data, err := r.cache.Get(ctx, tenantID, key); err == nil && data != nil {
			var cached []*domain.CommissionRule
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	rules, err := r.repo.ListRulesByPlan(ctx, tenantID, planID)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if data, err := json.Marshal(rules); err == nil {
			_ = r.cache.Set(ctx, tenantID, key, data, r.ttl)
		}
	}

	return rules, nil
}

// InvalidatePlans drops the cached active plan list after a plan write.
func (r *Resolver) InvalidatePlans(ctx context.Context, tenantID string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Delete(ctx, tenantID, activePlansKey)
}

// InvalidateRules drops the cached rule set for a plan after a rule write.
func (r *Resolver) InvalidateRules(ctx context.Context, tenantID, planID string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Delete(ctx, tenantID, rulesKeyPrefix+planID)
}
