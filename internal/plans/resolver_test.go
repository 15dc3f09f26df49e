package plans

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Nikki72581/commissionflow-sub002/internal/cache"
	"github.com/Nikki72581/commissionflow-sub002/internal/domain"
	"github.com/Nikki72581/commissionflow-sub002/internal/repository"
)

func newTestResolver(t *testing.T) (*Resolver, domain.Repository) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return NewResolver(repo, cache.NewLRUCache(100)), repo
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func seedPlan(t *testing.T, repo domain.Repository, id, projectID string) {
	t.Helper()
	err := repo.SavePlan(context.Background(), "tenant-1", &domain.CommissionPlan{
		ID:              id,
		Name:            id,
		ProjectID:       projectID,
		CommissionBasis: domain.BasisGross,
		IsActive:        true,
	})
	if err != nil {
		t.Fatalf("failed to seed plan %s: %v", id, err)
	}
}

func seedRule(t *testing.T, repo domain.Repository, id, planID string) {
	t.Helper()
	err := repo.SaveRule(context.Background(), "tenant-1", &domain.CommissionRule{
		ID:         id,
		PlanID:     planID,
		Name:       id,
		RuleType:   domain.RuleTypePercentage,
		Percentage: dec("10"),
		Scope:      domain.ScopeGlobal,
		Priority:   domain.PriorityDefault,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("failed to seed rule %s: %v", id, err)
	}
}

func TestResolveDefaultPlan(t *testing.T) {
	resolver, repo := newTestResolver(t)
	seedPlan(t, repo, "plan-default", "")
	seedRule(t, repo, "rule-1", "plan-default")

	res, err := resolver.Resolve(context.Background(), "tenant-1", &domain.TransactionContext{
		TransactionID: "txn-1",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if res == nil || res.Plan.ID != "plan-default" {
		t.Fatalf("expected default plan, got %+v", res)
	}
	if len(res.Rules) != 1 || res.Rules[0].Priority != domain.PriorityDefault {
		t.Errorf("default plan rules must keep their priority: %+v", res.Rules)
	}
}

func TestResolveProjectPlanWins(t *testing.T) {
	resolver, repo := newTestResolver(t)
	seedPlan(t, repo, "plan-default", "")
	seedPlan(t, repo, "plan-project", "proj-7")
	seedRule(t, repo, "rule-proj", "plan-project")

	res, err := resolver.Resolve(context.Background(), "tenant-1", &domain.TransactionContext{
		TransactionID: "txn-1",
		ProjectID:     "proj-7",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if res.Plan.ID != "plan-project" {
		t.Fatalf("project plan should win, got %s", res.Plan.ID)
	}
	// Rules of a project plan outrank every scope-derived priority.
	for _, rule := range res.Rules {
		if rule.Priority != domain.PriorityProjectSpecific {
			t.Errorf("rule %s not promoted: %s", rule.ID, rule.Priority)
		}
	}
}

func TestResolveUnknownProjectFallsBack(t *testing.T) {
	resolver, repo := newTestResolver(t)
	seedPlan(t, repo, "plan-default", "")
	seedPlan(t, repo, "plan-project", "proj-7")

	res, err := resolver.Resolve(context.Background(), "tenant-1", &domain.TransactionContext{
		TransactionID: "txn-1",
		ProjectID:     "proj-other",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Plan.ID != "plan-default" {
		t.Errorf("unknown project should fall back to the default plan, got %s", res.Plan.ID)
	}
}

func TestResolveNoPlan(t *testing.T) {
	resolver, _ := newTestResolver(t)

	res, err := resolver.Resolve(context.Background(), "tenant-1", &domain.TransactionContext{
		TransactionID: "txn-1",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res != nil {
		t.Errorf("expected nil resolution when no plan exists, got %+v", res)
	}
}

func TestResolveOnlyProjectPlansNoMatch(t *testing.T) {
	resolver, repo := newTestResolver(t)
	seedPlan(t, repo, "plan-project", "proj-7")

	res, err := resolver.Resolve(context.Background(), "tenant-1", &domain.TransactionContext{
		TransactionID: "txn-1",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res != nil {
		t.Errorf("a project plan must not govern unrelated transactions, got %+v", res)
	}
}

func TestResolveRequiresTenantID(t *testing.T) {
	resolver, _ := newTestResolver(t)

	if _, err := resolver.Resolve(context.Background(), "", &domain.TransactionContext{}); err == nil {
		t.Error("expected error for missing tenantID")
	}
}

func TestInvalidationRefreshesCache(t *testing.T) {
	resolver, repo := newTestResolver(t)
	seedPlan(t, repo, "plan-default", "")
	seedRule(t, repo, "rule-1", "plan-default")

	ctx := context.Background()
	tx := &domain.TransactionContext{TransactionID: "txn-1"}

	res, err := resolver.Resolve(ctx, "tenant-1", tx)
	if err != nil || len(res.Rules) != 1 {
		t.Fatalf("first resolve: %v, %+v", err, res)
	}

	// A second rule lands; the cached rule set is stale until invalidated.
	seedRule(t, repo, "rule-2", "plan-default")

	res, err = resolver.Resolve(ctx, "tenant-1", tx)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(res.Rules) != 1 {
		t.Fatalf("expected stale cached rules before invalidation, got %d", len(res.Rules))
	}

	if err := resolver.InvalidateRules(ctx, "tenant-1", "plan-default"); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}

	res, err = resolver.Resolve(ctx, "tenant-1", tx)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(res.Rules) != 2 {
		t.Errorf("expected 2 rules after invalidation, got %d", len(res.Rules))
	}
}
