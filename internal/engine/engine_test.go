package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Nikki72581/commissionflow-sub002/internal/domain"
)

func testContext() *domain.TransactionContext {
	return &domain.TransactionContext{
		TransactionID:   "txn-1",
		TenantID:        "tenant-1",
		GrossAmount:     decimal.RequireFromString("5000"),
		NetAmount:       decimal.RequireFromString("4500"),
		Currency:        "USD",
		TransactionDate: time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC),
		CustomerTier:    "GOLD",
		ClientID:        "client-42",
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return eng
}

func TestEvaluateSingleRule(t *testing.T) {
	eng := newTestEngine(t)

	trace, err := eng.Evaluate(&EvaluateInput{
		Context: testContext(),
		Basis:   domain.BasisGross,
		Rules: []*domain.CommissionRule{
			{ID: "pct", Name: "Standard 10%", RuleType: domain.RuleTypePercentage,
				Percentage: dec("10"), Scope: domain.ScopeGlobal},
		},
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if !trace.Output.CommissionAmount.Equal(decimal.RequireFromString("500")) {
		t.Errorf("expected 500, got %s", trace.Output.CommissionAmount)
	}
	if trace.Output.SelectedRuleID != "pct" {
		t.Errorf("expected winner pct, got %s", trace.Output.SelectedRuleID)
	}
	if !trace.Output.EffectiveRate.Equal(decimal.RequireFromString("10")) {
		t.Errorf("expected effective rate 10, got %s", trace.Output.EffectiveRate)
	}
	if trace.EngineVersion != Version {
		t.Errorf("trace missing engine version")
	}
}

func TestEvaluateCustomerSpecificBeatsGlobal(t *testing.T) {
	eng := newTestEngine(t)

	trace, err := eng.Evaluate(&EvaluateInput{
		Context: testContext(),
		Rules: []*domain.CommissionRule{
			{ID: "global", RuleType: domain.RuleTypePercentage, Percentage: dec("5"),
				Scope: domain.ScopeGlobal},
			{ID: "client", RuleType: domain.RuleTypePercentage, Percentage: dec("12"),
				Scope: domain.ScopeCustomerSpecific, ClientID: "client-42"},
		},
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if trace.Output.SelectedRuleID != "client" {
		t.Errorf("CUSTOMER_SPECIFIC should win over GLOBAL, got %s", trace.Output.SelectedRuleID)
	}
	if !trace.Output.CommissionAmount.Equal(decimal.RequireFromString("600")) {
		t.Errorf("expected 600 (12%% of 5000), got %s", trace.Output.CommissionAmount)
	}

	// Winner-take-all: only one rule is selected, but every candidate is
	// recorded in the trace.
	if len(trace.Rules) != 2 {
		t.Fatalf("expected 2 trace entries, got %d", len(trace.Rules))
	}
	selected := 0
	for _, r := range trace.Rules {
		if r.Selected {
			selected++
		}
	}
	if selected != 1 {
		t.Errorf("expected exactly 1 selected rule, got %d", selected)
	}
}

func TestEvaluateScopeMismatchIneligible(t *testing.T) {
	eng := newTestEngine(t)

	trace, err := eng.Evaluate(&EvaluateInput{
		Context: testContext(), // CustomerTier GOLD
		Rules: []*domain.CommissionRule{
			{ID: "silver", RuleType: domain.RuleTypePercentage, Percentage: dec("15"),
				Scope: domain.ScopeCustomerTier, CustomerTier: "SILVER"},
			{ID: "fallback", RuleType: domain.RuleTypePercentage, Percentage: dec("3"),
				Scope: domain.ScopeGlobal},
		},
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if trace.Output.SelectedRuleID != "fallback" {
		t.Errorf("mismatched tier rule should lose to global fallback, got %s", trace.Output.SelectedRuleID)
	}

	for _, r := range trace.Rules {
		if r.RuleID != "silver" {
			continue
		}
		if r.Eligible {
			t.Error("SILVER rule should be ineligible for a GOLD transaction")
		}
		if len(r.Conditions) != 1 || r.Conditions[0].Field != "customerTier" {
			t.Fatalf("expected one customerTier condition, got %+v", r.Conditions)
		}
		if r.Conditions[0].Passed {
			t.Error("condition should record the failed comparison")
		}
	}
}

func TestEvaluateNoApplicableRule(t *testing.T) {
	eng := newTestEngine(t)

	trace, err := eng.Evaluate(&EvaluateInput{
		Context: testContext(),
		Rules: []*domain.CommissionRule{
			{ID: "wrong-territory", RuleType: domain.RuleTypePercentage, Percentage: dec("10"),
				Scope: domain.ScopeTerritory, TerritoryID: "EMEA"},
		},
	})

	if !errors.Is(err, domain.ErrNoApplicableRule) {
		t.Fatalf("expected ErrNoApplicableRule, got %v", err)
	}
	// The trace still comes back so the skip can be audited.
	if trace == nil {
		t.Fatal("expected a trace alongside ErrNoApplicableRule")
	}
	if len(trace.Rules) != 1 {
		t.Errorf("trace should record the rejected candidate")
	}
	if !trace.Output.CommissionAmount.IsZero() {
		t.Errorf("no winner means zero output, got %s", trace.Output.CommissionAmount)
	}
}

func TestEvaluateEmptyRuleSet(t *testing.T) {
	eng := newTestEngine(t)

	trace, err := eng.Evaluate(&EvaluateInput{Context: testContext()})
	if !errors.Is(err, domain.ErrNoApplicableRule) {
		t.Fatalf("expected ErrNoApplicableRule, got %v", err)
	}
	if len(trace.Rules) != 0 {
		t.Errorf("expected empty rule trace, got %d entries", len(trace.Rules))
	}
}

func TestEvaluateNetBasis(t *testing.T) {
	eng := newTestEngine(t)

	trace, err := eng.Evaluate(&EvaluateInput{
		Context: testContext(),
		Basis:   domain.BasisNet,
		Rules: []*domain.CommissionRule{
			{ID: "pct", RuleType: domain.RuleTypePercentage, Percentage: dec("10"),
				Scope: domain.ScopeGlobal},
		},
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if !trace.Output.CommissionAmount.Equal(decimal.RequireFromString("450")) {
		t.Errorf("expected 450 (10%% of net 4500), got %s", trace.Output.CommissionAmount)
	}
	if trace.Rules[0].Calculation.BasisType != domain.BasisNet {
		t.Errorf("calculation detail should record the NET basis")
	}
}

func TestEvaluateMaxCapInTrace(t *testing.T) {
	eng := newTestEngine(t)

	trace, err := eng.Evaluate(&EvaluateInput{
		Context: testContext(),
		Rules: []*domain.CommissionRule{
			{ID: "capped", RuleType: domain.RuleTypePercentage, Percentage: dec("20"),
				MaxAmount: dec("300"), Scope: domain.ScopeGlobal},
		},
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if !trace.Output.CommissionAmount.Equal(decimal.RequireFromString("300")) {
		t.Errorf("expected cap at 300, got %s", trace.Output.CommissionAmount)
	}

	detail := trace.Rules[0].Calculation
	if detail == nil {
		t.Fatal("winner must carry a calculation detail")
	}
	if !detail.MaxApplied {
		t.Error("expected MaxApplied in the trace")
	}
	if !detail.RawAmount.Equal(decimal.RequireFromString("1000")) {
		t.Errorf("trace should preserve the uncapped raw amount, got %s", detail.RawAmount)
	}
	// Effective rate reflects the capped amount: 300/5000 = 6%.
	if !trace.Output.EffectiveRate.Equal(decimal.RequireFromString("6")) {
		t.Errorf("expected effective rate 6, got %s", trace.Output.EffectiveRate)
	}
}

func TestEvaluateConditionExpression(t *testing.T) {
	eng := newTestEngine(t)

	rules := []*domain.CommissionRule{
		{ID: "big-deals", RuleType: domain.RuleTypePercentage, Percentage: dec("15"),
			Scope: domain.ScopeGlobal, Condition: "amount >= 10000.0"},
		{ID: "standard", RuleType: domain.RuleTypePercentage, Percentage: dec("10"),
			Scope: domain.ScopeGlobal, Condition: `currency == "USD"`},
	}

	trace, err := eng.Evaluate(&EvaluateInput{Context: testContext(), Rules: rules})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	// amount is 5000: the big-deals condition fails, standard passes.
	if trace.Output.SelectedRuleID != "standard" {
		t.Errorf("expected standard to win, got %s", trace.Output.SelectedRuleID)
	}
	for _, r := range trace.Rules {
		if r.RuleID == "big-deals" && r.Eligible {
			t.Error("failed condition should make the rule ineligible")
		}
	}
}

func TestEvaluateConditionErrorSkipsRule(t *testing.T) {
	eng := newTestEngine(t)

	trace, err := eng.Evaluate(&EvaluateInput{
		Context: testContext(),
		Rules: []*domain.CommissionRule{
			{ID: "broken", RuleType: domain.RuleTypePercentage, Percentage: dec("15"),
				Scope: domain.ScopeGlobal, Condition: "not valid CEL !!!"},
			{ID: "good", RuleType: domain.RuleTypePercentage, Percentage: dec("10"),
				Scope: domain.ScopeGlobal},
		},
	})
	if err != nil {
		t.Fatalf("a broken condition must not abort the calculation: %v", err)
	}

	if trace.Output.SelectedRuleID != "good" {
		t.Errorf("expected the well-formed rule to win, got %s", trace.Output.SelectedRuleID)
	}
}

func TestEvaluateMalformedStoredRule(t *testing.T) {
	eng := newTestEngine(t)

	trace, err := eng.Evaluate(&EvaluateInput{
		Context: testContext(),
		Rules: []*domain.CommissionRule{
			{ID: "no-rate", RuleType: domain.RuleTypePercentage, Scope: domain.ScopeGlobal},
			{ID: "good", RuleType: domain.RuleTypePercentage, Percentage: dec("10"),
				Scope: domain.ScopeGlobal},
		},
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if trace.Output.SelectedRuleID != "good" {
		t.Errorf("a malformed stored rule must never win, got %s", trace.Output.SelectedRuleID)
	}
	for _, r := range trace.Rules {
		if r.RuleID == "no-rate" {
			if r.Eligible {
				t.Error("malformed rule should be ineligible")
			}
			if len(r.Conditions) == 0 || r.Conditions[0].Field != "configuration" {
				t.Errorf("expected a configuration condition, got %+v", r.Conditions)
			}
		}
	}
}

func TestEvaluateRequiresContext(t *testing.T) {
	eng := newTestEngine(t)

	if _, err := eng.Evaluate(nil); err == nil {
		t.Error("expected error for nil input")
	}
	if _, err := eng.Evaluate(&EvaluateInput{}); err == nil {
		t.Error("expected error for missing context")
	}
}

func TestEvaluateDoesNotMutateInput(t *testing.T) {
	eng := newTestEngine(t)

	rules := []*domain.CommissionRule{
		{ID: "b", RuleType: domain.RuleTypePercentage, Percentage: dec("5"), Scope: domain.ScopeGlobal},
		{ID: "a", RuleType: domain.RuleTypePercentage, Percentage: dec("10"),
			Scope: domain.ScopeCustomerSpecific, ClientID: "client-42"},
	}

	if _, err := eng.Evaluate(&EvaluateInput{Context: testContext(), Rules: rules}); err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if rules[0].ID != "b" || rules[1].ID != "a" {
		t.Error("Evaluate must sort a copy, not the caller's slice")
	}
}
