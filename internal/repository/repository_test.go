package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Nikki72581/commissionflow-sub002/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func testTransaction(id string) *domain.SaleTransaction {
	return &domain.SaleTransaction{
		ID:              id,
		TenantID:        "tenant-1",
		GrossAmount:     decimal.RequireFromString("5000.00"),
		NetAmount:       decimal.RequireFromString("4500.00"),
		Currency:        "USD",
		TransactionDate: time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC),
		CustomerTier:    "GOLD",
		ClientID:        "client-42",
		CreatedAt:       time.Now().UTC(),
		Metadata:        map[string]interface{}{"source": "crm"},
	}
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New(domain.RepositoryConfig{Driver: "oracle"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tx := testTransaction("txn-1")
	if err := repo.SaveTransaction(ctx, "tenant-1", tx); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := repo.GetTransaction(ctx, "tenant-1", "txn-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if !got.GrossAmount.Equal(tx.GrossAmount) {
		t.Errorf("gross amount mismatch: %s vs %s", got.GrossAmount, tx.GrossAmount)
	}
	if got.CustomerTier != "GOLD" || got.ClientID != "client-42" {
		t.Errorf("qualifier fields lost: %+v", got)
	}
	if got.Metadata["source"] != "crm" {
		t.Errorf("metadata lost: %v", got.Metadata)
	}
}

func TestTransactionResubmit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveTransaction(ctx, "tenant-1", testTransaction("txn-1")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// Same ID again must not fail: submitting the same sale twice reaches
	// the commission-layer duplicate check instead of dying on the insert.
	resubmit := testTransaction("txn-1")
	resubmit.GrossAmount = decimal.RequireFromString("6000.00")
	if err := repo.SaveTransaction(ctx, "tenant-1", resubmit); err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}

	got, err := repo.GetTransaction(ctx, "tenant-1", "txn-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.GrossAmount.Equal(decimal.RequireFromString("6000.00")) {
		t.Errorf("expected upserted gross amount 6000.00, got %s", got.GrossAmount)
	}

	// The same transaction ID under another tenant is a separate row.
	other := testTransaction("txn-1")
	other.GrossAmount = decimal.RequireFromString("100.00")
	if err := repo.SaveTransaction(ctx, "tenant-2", other); err != nil {
		t.Fatalf("save under tenant-2 failed: %v", err)
	}
	got, err = repo.GetTransaction(ctx, "tenant-1", "txn-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.GrossAmount.Equal(decimal.RequireFromString("6000.00")) {
		t.Errorf("tenant-2 write leaked into tenant-1 row: %s", got.GrossAmount)
	}
}

func TestTransactionTenantIsolation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveTransaction(ctx, "tenant-1", testTransaction("txn-1")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if _, err := repo.GetTransaction(ctx, "tenant-2", "txn-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-tenant read must fail with ErrNotFound, got %v", err)
	}
}

func TestRequiresTenantID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveTransaction(ctx, "", testTransaction("txn-1")); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := repo.GetPlan(ctx, "", "plan-1"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := repo.ListRules(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestListTransactionsSince(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	old := testTransaction("txn-old")
	old.TransactionDate = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := testTransaction("txn-recent")
	recent.TransactionDate = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	for _, tx := range []*domain.SaleTransaction{old, recent} {
		if err := repo.SaveTransaction(ctx, "tenant-1", tx); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	since := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	txs, err := repo.ListTransactions(ctx, "tenant-1", since, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(txs) != 1 || txs[0].ID != "txn-recent" {
		t.Errorf("expected only txn-recent, got %d rows", len(txs))
	}
}

func TestPlanUpsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	plan := &domain.CommissionPlan{
		ID:              "plan-1",
		TenantID:        "tenant-1",
		Name:            "Standard Plan",
		CommissionBasis: domain.BasisGross,
		IsActive:        true,
	}
	if err := repo.SavePlan(ctx, "tenant-1", plan); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	plan.Name = "Renamed Plan"
	plan.CommissionBasis = domain.BasisNet
	if err := repo.SavePlan(ctx, "tenant-1", plan); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := repo.GetPlan(ctx, "tenant-1", "plan-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Name != "Renamed Plan" || got.CommissionBasis != domain.BasisNet {
		t.Errorf("upsert did not apply: %+v", got)
	}
}

func TestListActivePlans(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	active := &domain.CommissionPlan{ID: "plan-a", Name: "Active", CommissionBasis: domain.BasisGross, IsActive: true}
	inactive := &domain.CommissionPlan{ID: "plan-b", Name: "Retired", CommissionBasis: domain.BasisGross}

	for _, p := range []*domain.CommissionPlan{active, inactive} {
		if err := repo.SavePlan(ctx, "tenant-1", p); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	plans, err := repo.ListActivePlans(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(plans) != 1 || plans[0].ID != "plan-a" {
		t.Errorf("expected only the active plan, got %d", len(plans))
	}
}

func TestRuleRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rule := &domain.CommissionRule{
		ID:             "rule-1",
		TenantID:       "tenant-1",
		PlanID:         "plan-1",
		Name:           "Tiered GOLD",
		RuleType:       domain.RuleTypeTiered,
		Percentage:     dec("5"),
		TierThreshold:  dec("10000"),
		TierPercentage: dec("8"),
		MaxAmount:      dec("2500"),
		Scope:          domain.ScopeCustomerTier,
		Priority:       domain.PriorityCustomerTier,
		CustomerTier:   "GOLD",
		Condition:      `currency == "USD"`,
		Enabled:        true,
	}

	if err := repo.SaveRule(ctx, "tenant-1", rule); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := repo.GetRule(ctx, "tenant-1", "rule-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if got.RuleType != domain.RuleTypeTiered || got.Scope != domain.ScopeCustomerTier {
		t.Errorf("type/scope mismatch: %+v", got)
	}
	if got.Percentage == nil || !got.Percentage.Equal(decimal.RequireFromString("5")) {
		t.Errorf("percentage mismatch: %v", got.Percentage)
	}
	if got.TierThreshold == nil || !got.TierThreshold.Equal(decimal.RequireFromString("10000")) {
		t.Errorf("tier threshold mismatch: %v", got.TierThreshold)
	}
	if got.FlatAmount != nil || got.MinAmount != nil {
		t.Error("unset decimal fields must come back nil")
	}
	if got.Condition != `currency == "USD"` {
		t.Errorf("condition mismatch: %q", got.Condition)
	}
}

func TestDeleteRuleIsSoft(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rule := &domain.CommissionRule{
		ID: "rule-1", PlanID: "plan-1", Name: "To delete",
		RuleType: domain.RuleTypePercentage, Percentage: dec("10"),
		Scope: domain.ScopeGlobal, Enabled: true,
	}
	if err := repo.SaveRule(ctx, "tenant-1", rule); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if err := repo.DeleteRule(ctx, "tenant-1", "rule-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	// The row survives for audit; only the enabled flag drops.
	got, err := repo.GetRule(ctx, "tenant-1", "rule-1")
	if err != nil {
		t.Fatalf("soft-deleted rule should remain readable: %v", err)
	}
	if got.Enabled {
		t.Error("deleted rule should be disabled")
	}

	byPlan, err := repo.ListRulesByPlan(ctx, "tenant-1", "plan-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(byPlan) != 0 {
		t.Errorf("disabled rules must not be listed for calculation, got %d", len(byPlan))
	}

	if err := repo.DeleteRule(ctx, "tenant-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing rule, got %v", err)
	}
}

func testCommission(id, txID string) *domain.Commission {
	return &domain.Commission{
		ID:            id,
		TenantID:      "tenant-1",
		TransactionID: txID,
		PlanID:        "plan-1",
		RuleID:        "rule-1",
		Status:        domain.StatusCalculated,
		Amount:        decimal.RequireFromString("500.00"),
		EffectiveRate: decimal.RequireFromString("10.0000"),
		Currency:      "USD",
		Trace: &domain.CommissionCalculationTrace{
			EngineVersion: "commission-engine-1.0",
			Output: domain.CalculationOutput{
				SelectedRuleID:   "rule-1",
				CommissionAmount: decimal.RequireFromString("500.00"),
				EffectiveRate:    decimal.RequireFromString("10"),
			},
			CreatedAt: time.Now().UTC(),
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestCommissionRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveCommission(ctx, "tenant-1", testCommission("comm-1", "txn-1")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := repo.GetCommission(ctx, "tenant-1", "comm-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.Amount.Equal(decimal.RequireFromString("500.00")) {
		t.Errorf("amount mismatch: %s", got.Amount)
	}
	if got.Trace == nil || got.Trace.Output.SelectedRuleID != "rule-1" {
		t.Errorf("trace did not round-trip: %+v", got.Trace)
	}

	byTx, err := repo.GetCommissionByTransaction(ctx, "tenant-1", "txn-1")
	if err != nil {
		t.Fatalf("get by transaction failed: %v", err)
	}
	if byTx.ID != "comm-1" {
		t.Errorf("expected comm-1, got %s", byTx.ID)
	}
}

func TestDuplicateCommissionRejected(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveCommission(ctx, "tenant-1", testCommission("comm-1", "txn-1")); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	err := repo.SaveCommission(ctx, "tenant-1", testCommission("comm-2", "txn-1"))
	if !errors.Is(err, domain.ErrDuplicateCommission) {
		t.Errorf("expected ErrDuplicateCommission, got %v", err)
	}

	// A different tenant may calculate the same transaction id.
	other := testCommission("comm-3", "txn-1")
	other.TenantID = "tenant-2"
	if err := repo.SaveCommission(ctx, "tenant-2", other); err != nil {
		t.Errorf("same transaction id under another tenant should insert: %v", err)
	}
}

func TestUpdateCommission(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	c := testCommission("comm-1", "txn-1")
	if err := repo.SaveCommission(ctx, "tenant-1", c); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	c.Status = domain.StatusAdjusted
	c.Amount = decimal.RequireFromString("400.00")
	if err := repo.UpdateCommission(ctx, "tenant-1", c); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, err := repo.GetCommission(ctx, "tenant-1", "comm-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != domain.StatusAdjusted || !got.Amount.Equal(decimal.RequireFromString("400.00")) {
		t.Errorf("update did not apply: %+v", got)
	}

	missing := testCommission("comm-missing", "txn-x")
	if err := repo.UpdateCommission(ctx, "tenant-1", missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPing(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}
