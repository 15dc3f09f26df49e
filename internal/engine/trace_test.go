package engine

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Nikki72581/commissionflow-sub002/internal/domain"
)

func calculatedTrace(t *testing.T) *domain.CommissionCalculationTrace {
	t.Helper()
	eng := newTestEngine(t)
	trace, err := eng.Evaluate(&EvaluateInput{
		Context: testContext(),
		Plan:    &domain.PlanSnapshot{PlanID: "plan-1", CommissionBasis: domain.BasisGross},
		Rules: []*domain.CommissionRule{
			{ID: "pct", Name: "Standard 10%", RuleType: domain.RuleTypePercentage,
				Percentage: dec("10"), Scope: domain.ScopeGlobal},
		},
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	return trace
}

func TestApplyAdjustmentReturn(t *testing.T) {
	trace := calculatedTrace(t) // 500 commission on 5000 gross

	next := ApplyAdjustment(trace, domain.Adjustment{
		ID:     "adj-1",
		Type:   domain.AdjustmentReturn,
		Amount: decimal.RequireFromString("-100"),
		Reason: "partial product return",
	})

	if !next.Output.CommissionAmount.Equal(decimal.RequireFromString("400")) {
		t.Errorf("expected 400 after -100 adjustment, got %s", next.Output.CommissionAmount)
	}
	// 400/5000 = 8%
	if !next.Output.EffectiveRate.Equal(decimal.RequireFromString("8")) {
		t.Errorf("effective rate should be re-derived: expected 8, got %s", next.Output.EffectiveRate)
	}
	if len(next.Adjustments) != 1 {
		t.Fatalf("expected 1 adjustment, got %d", len(next.Adjustments))
	}
	if next.Adjustments[0].CreatedAt.IsZero() {
		t.Error("adjustment timestamp should be backfilled")
	}
}

func TestApplyAdjustmentPreservesHistory(t *testing.T) {
	trace := calculatedTrace(t)

	first := ApplyAdjustment(trace, domain.Adjustment{
		Type: domain.AdjustmentClawback, Amount: decimal.RequireFromString("-500"),
		Reason: "deal cancelled",
	})
	second := ApplyAdjustment(first, domain.Adjustment{
		Type: domain.AdjustmentOverride, Amount: decimal.RequireFromString("250"),
		Reason: "manager override",
	})

	if !second.Output.CommissionAmount.Equal(decimal.RequireFromString("250")) {
		t.Errorf("expected 250 after chain, got %s", second.Output.CommissionAmount)
	}
	if len(second.Adjustments) != 2 {
		t.Errorf("adjustments list is append-only: expected 2, got %d", len(second.Adjustments))
	}

	// The whole chain stays reachable.
	if second.PreviousTrace != first {
		t.Error("second trace should link to first")
	}
	if second.PreviousTrace.PreviousTrace != trace {
		t.Error("original trace should remain at the end of the chain")
	}
	if !trace.Output.CommissionAmount.Equal(decimal.RequireFromString("500")) {
		t.Error("original output must not be mutated")
	}
	if len(trace.Adjustments) != 0 {
		t.Error("original adjustments must not be mutated")
	}
}

func TestExplainCalculated(t *testing.T) {
	text := Explain(calculatedTrace(t))

	for _, want := range []string{
		Version,
		"Plan: plan-1",
		"Transaction: txn-1",
		"Rules evaluated: 1",
		"* [pct]",
		"commission 500",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("explanation missing %q:\n%s", want, text)
		}
	}
}

func TestExplainNoApplicableRule(t *testing.T) {
	eng := newTestEngine(t)

	trace, err := eng.Evaluate(&EvaluateInput{
		Context: testContext(),
		Rules: []*domain.CommissionRule{
			{ID: "emea", RuleType: domain.RuleTypePercentage, Percentage: dec("10"),
				Scope: domain.ScopeTerritory, TerritoryID: "EMEA"},
		},
	})
	if err == nil {
		t.Fatal("expected ErrNoApplicableRule")
	}

	text := Explain(trace)
	if !strings.Contains(text, "no applicable rule") {
		t.Errorf("explanation should name the flagged outcome:\n%s", text)
	}
	if !strings.Contains(text, "territoryId") {
		t.Errorf("explanation should show the failed qualifier:\n%s", text)
	}
}

func TestExplainAdjustments(t *testing.T) {
	trace := ApplyAdjustment(calculatedTrace(t), domain.Adjustment{
		Type: domain.AdjustmentReturn, Amount: decimal.RequireFromString("-100"),
		Reason: "partial return",
	})

	text := Explain(trace)
	if !strings.Contains(text, "Adjustment RETURN: -100 (partial return)") {
		t.Errorf("explanation should list adjustments:\n%s", text)
	}
}
