package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Nikki72581/commissionflow-sub002/internal/domain"
)

var oneHundred = decimal.NewFromInt(100)

// AppliedRule records one rule's contribution to a calculation.
type AppliedRule struct {
	RuleID   string          `json:"ruleId"`
	RuleName string          `json:"ruleName,omitempty"`
	RuleType domain.RuleType `json:"ruleType"`

	// RawAmount is the computed amount before min/max caps.
	RawAmount decimal.Decimal `json:"rawAmount"`
	Amount    decimal.Decimal `json:"amount"`

	MinApplied bool `json:"minApplied"`
	MaxApplied bool `json:"maxApplied"`

	Description string `json:"description"`
}

// CalculationResult is the output of applying a rule set to a basis amount.
type CalculationResult struct {
	BaseAmount   decimal.Decimal `json:"baseAmount"`
	CappedAmount decimal.Decimal `json:"cappedAmount"`
	AppliedRules []AppliedRule   `json:"appliedRules"`
	FinalAmount  decimal.Decimal `json:"finalAmount"`
}

// Apply computes the commission contribution of each rule against the basis
// amount and sums the capped per-rule amounts. An empty rule list yields an
// all-zero result. No rounding happens here: final amounts are rounded to
// currency precision at the persistence boundary, so rounding error never
// compounds across summed rule contributions.
func Apply(basis decimal.Decimal, rules []*domain.CommissionRule) *CalculationResult {
	result := &CalculationResult{
		AppliedRules: make([]AppliedRule, 0, len(rules)),
	}

	for _, rule := range rules {
		raw := ruleAmount(basis, rule)
		capped, minApplied, maxApplied := clamp(raw, rule.MinAmount, rule.MaxAmount)

		result.BaseAmount = result.BaseAmount.Add(raw)
		result.CappedAmount = result.CappedAmount.Add(capped)

		result.AppliedRules = append(result.AppliedRules, AppliedRule{
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			RuleType:    rule.RuleType,
			RawAmount:   raw,
			Amount:      capped,
			MinApplied:  minApplied,
			MaxApplied:  maxApplied,
			Description: describe(basis, rule, raw, capped, minApplied, maxApplied),
		})
	}

	result.FinalAmount = result.CappedAmount
	return result
}

// ruleAmount computes the raw, uncapped amount for a single rule.
func ruleAmount(basis decimal.Decimal, rule *domain.CommissionRule) decimal.Decimal {
	switch rule.RuleType {
	case domain.RuleTypePercentage:
		return basis.Mul(optional(rule.Percentage)).Div(oneHundred)

	case domain.RuleTypeFlatAmount:
		return optional(rule.FlatAmount)

	case domain.RuleTypeTiered:
		return tieredAmount(basis, rule)

	default:
		return decimal.Zero
	}
}

// tieredAmount applies the base rate up to the threshold and the tier rate
// above it. A missing base rate contributes zero below the threshold; the
// validator rejects incomplete tier configuration before rules reach here,
// but the arithmetic stays tolerant for stored legacy rules.
func tieredAmount(basis decimal.Decimal, rule *domain.CommissionRule) decimal.Decimal {
	threshold := optional(rule.TierThreshold)
	baseRate := optional(rule.Percentage)
	tierRate := optional(rule.TierPercentage)

	if basis.LessThanOrEqual(threshold) {
		return basis.Mul(baseRate).Div(oneHundred)
	}

	below := threshold.Mul(baseRate).Div(oneHundred)
	above := basis.Sub(threshold).Mul(tierRate).Div(oneHundred)
	return below.Add(above)
}

// clamp raises the amount to min and lowers it to max, in that order.
// Applying clamp twice yields the same result as applying it once.
func clamp(amount decimal.Decimal, min, max *decimal.Decimal) (out decimal.Decimal, minApplied, maxApplied bool) {
	out = amount
	if min != nil && out.LessThan(*min) {
		out = *min
		minApplied = true
	}
	if max != nil && out.GreaterThan(*max) {
		out = *max
		maxApplied = true
	}
	return out, minApplied, maxApplied
}

func optional(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// describe renders a human-readable line for one rule's contribution.
func describe(basis decimal.Decimal, rule *domain.CommissionRule, raw, capped decimal.Decimal, minApplied, maxApplied bool) string {
	var s string
	switch rule.RuleType {
	case domain.RuleTypePercentage:
		s = fmt.Sprintf("%s%% of %s = %s", optional(rule.Percentage), basis, raw)
	case domain.RuleTypeFlatAmount:
		s = fmt.Sprintf("flat amount %s", raw)
	case domain.RuleTypeTiered:
		threshold := optional(rule.TierThreshold)
		if basis.LessThanOrEqual(threshold) {
			s = fmt.Sprintf("%s%% of %s (below threshold %s) = %s",
				optional(rule.Percentage), basis, threshold, raw)
		} else {
			s = fmt.Sprintf("%s%% of %s plus %s%% of %s above threshold = %s",
				optional(rule.Percentage), threshold, optional(rule.TierPercentage),
				basis.Sub(threshold), raw)
		}
	default:
		s = fmt.Sprintf("unsupported rule type %s", rule.RuleType)
	}

	if minApplied {
		s += fmt.Sprintf(", raised to minimum %s", capped)
	}
	if maxApplied {
		s += fmt.Sprintf(", capped at maximum %s", capped)
	}
	return s
}
