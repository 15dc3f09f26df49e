package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Nikki72581/commissionflow-sub002/internal/domain"
)

// ApplyAdjustment returns a new trace with the adjustment appended and the
// output re-derived. The prior trace is preserved via PreviousTrace rather
// than overwritten, so the audit history survives every adjustment.
func ApplyAdjustment(t *domain.CommissionCalculationTrace, adj domain.Adjustment) *domain.CommissionCalculationTrace {
	if adj.CreatedAt.IsZero() {
		adj.CreatedAt = time.Now().UTC()
	}

	next := &domain.CommissionCalculationTrace{
		EngineVersion: t.EngineVersion,
		Plan:          t.Plan,
		Input:         t.Input,
		Rules:         t.Rules,
		Adjustments:   append(append([]domain.Adjustment{}, t.Adjustments...), adj),
		PreviousTrace: t,
		CreatedAt:     t.CreatedAt,
	}

	amount := t.Output.CommissionAmount.Add(adj.Amount)

	var basis decimal.Decimal
	if t.Input != nil {
		basisType := domain.BasisGross
		if t.Plan != nil {
			basisType = t.Plan.CommissionBasis
		}
		basis = t.Input.BasisAmount(basisType)
	}

	next.Output = domain.CalculationOutput{
		SelectedRuleID:   t.Output.SelectedRuleID,
		CommissionAmount: amount,
		EffectiveRate:    effectiveRate(amount, basis),
	}

	return next
}

// Explain renders a trace as a human-readable explanation, one line per
// evaluated rule plus the arithmetic breakdown of the winner.
func Explain(t *domain.CommissionCalculationTrace) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Commission calculation (%s)\n", t.EngineVersion)
	if t.Plan != nil {
		fmt.Fprintf(&b, "Plan: %s (%s basis)\n", t.Plan.PlanID, t.Plan.CommissionBasis)
	}
	if t.Input != nil {
		fmt.Fprintf(&b, "Transaction: %s gross=%s net=%s\n",
			t.Input.TransactionID, t.Input.GrossAmount, t.Input.NetAmount)
	}

	fmt.Fprintf(&b, "Rules evaluated: %d\n", len(t.Rules))
	for _, r := range t.Rules {
		marker := " "
		if r.Selected {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s [%s] %s (priority %s): eligible=%t\n",
			marker, r.RuleID, r.Scope, r.Priority, r.Eligible)
		for _, c := range r.Conditions {
			fmt.Fprintf(&b, "    %s %s %q, got %q -> %t\n",
				c.Field, c.Operator, c.Expected, c.Actual, c.Passed)
		}
		if r.Calculation != nil {
			d := r.Calculation
			fmt.Fprintf(&b, "    basis %s (%s) -> raw %s", d.BasisAmount, d.BasisType, d.RawAmount)
			if d.MinApplied {
				b.WriteString(", raised to minimum")
			}
			if d.MaxApplied {
				b.WriteString(", capped at maximum")
			}
			fmt.Fprintf(&b, " -> %s\n", d.FinalAmount)
		}
	}

	for _, adj := range t.Adjustments {
		fmt.Fprintf(&b, "Adjustment %s: %s (%s)\n", adj.Type, adj.Amount, adj.Reason)
	}

	if t.Output.SelectedRuleID == "" {
		b.WriteString("Outcome: no applicable rule; flagged for review\n")
	} else {
		fmt.Fprintf(&b, "Outcome: rule %s, commission %s (effective rate %s%%)\n",
			t.Output.SelectedRuleID, t.Output.CommissionAmount, t.Output.EffectiveRate)
	}

	return b.String()
}
