package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Nikki72581/commissionflow-sub002/internal/domain"
)

// Version identifies the engine revision recorded in every trace.
const Version = "commission-engine-1.0"

// scopeConditionFields names the trace condition field per scope.
var scopeConditionFields = map[domain.RuleScope]string{
	domain.ScopeCustomerTier:     "customerTier",
	domain.ScopeProductCategory:  "productCategoryId",
	domain.ScopeTerritory:        "territoryId",
	domain.ScopeCustomerSpecific: "clientId",
}

// Engine evaluates commission rules against transaction snapshots. It holds
// no state between calculations beyond a compiled-condition cache, so
// invocations for different transactions may run fully in parallel.
type Engine struct {
	conditions *conditionEvaluator
}

// New creates a new commission rule engine.
func New() (*Engine, error) {
	conditions, err := newConditionEvaluator()
	if err != nil {
		return nil, err
	}
	return &Engine{conditions: conditions}, nil
}

// ValidateRule runs structural validation plus compilation of the optional
// condition expression. Used at rule creation and edit time; invalid rules
// never reach Evaluate through the normal write path.
func (e *Engine) ValidateRule(rule *domain.CommissionRule) domain.ValidationResult {
	result := Validate(rule)
	if rule != nil && rule.Condition != "" {
		if _, err := e.conditions.compile(rule.Condition); err != nil {
			result.Add("condition", err.Error())
		}
	}
	return result
}

// EvaluateInput carries everything one calculation needs.
type EvaluateInput struct {
	Context *domain.TransactionContext

	// Plan is an optional snapshot recorded in the trace.
	Plan *domain.PlanSnapshot

	// Basis selects gross or net sales as the calculation basis.
	Basis domain.CommissionBasis

	// Rules are the candidate rules, priorities already assigned (the plan
	// resolver promotes project-attached rules to PROJECT_SPECIFIC).
	Rules []*domain.CommissionRule
}

// Evaluate runs the full winner-take-all pipeline: evaluate every candidate
// rule's conditions, select the precedence winner among eligible rules,
// compute and cap its amount, and assemble the audit trace.
//
// When no rule is eligible the trace still records every candidate and
// Evaluate returns it together with domain.ErrNoApplicableRule; callers must
// branch on that outcome explicitly rather than persisting a $0 commission.
func (e *Engine) Evaluate(input *EvaluateInput) (*domain.CommissionCalculationTrace, error) {
	if input == nil || input.Context == nil {
		return nil, fmt.Errorf("transaction context is required")
	}

	tc := input.Context
	basis := input.Basis
	if basis == "" {
		basis = domain.BasisGross
	}

	ordered := make([]*domain.CommissionRule, len(input.Rules))
	copy(ordered, input.Rules)
	SortByPrecedence(ordered)

	trace := &domain.CommissionCalculationTrace{
		EngineVersion: Version,
		Plan:          input.Plan,
		Input:         tc,
		Rules:         make([]domain.RuleEvaluationTrace, 0, len(ordered)),
		CreatedAt:     time.Now().UTC(),
	}

	var winner *domain.CommissionRule
	winnerIdx := -1

	for i, rule := range ordered {
		entry := e.evaluateCandidate(rule, tc)
		if entry.Eligible && winner == nil {
			winner = rule
			winnerIdx = i
		}
		trace.Rules = append(trace.Rules, entry)
	}

	if winner == nil {
		trace.Output = domain.CalculationOutput{
			CommissionAmount: decimal.Zero,
			EffectiveRate:    decimal.Zero,
		}
		return trace, domain.ErrNoApplicableRule
	}

	basisAmount := tc.BasisAmount(basis)
	calc := Apply(basisAmount, []*domain.CommissionRule{winner})
	applied := calc.AppliedRules[0]

	trace.Rules[winnerIdx].Selected = true
	trace.Rules[winnerIdx].Calculation = &domain.RuleCalculationDetail{
		BasisType:     basis,
		BasisAmount:   basisAmount,
		RuleType:      winner.RuleType,
		Rate:          winner.Percentage,
		FlatAmount:    winner.FlatAmount,
		TierThreshold: winner.TierThreshold,
		TierRate:      winner.TierPercentage,
		RawAmount:     applied.RawAmount,
		MinApplied:    applied.MinApplied,
		MaxApplied:    applied.MaxApplied,
		FinalAmount:   applied.Amount,
	}

	trace.Output = domain.CalculationOutput{
		SelectedRuleID:   winner.ID,
		CommissionAmount: calc.FinalAmount,
		EffectiveRate:    effectiveRate(calc.FinalAmount, basisAmount),
	}

	return trace, nil
}

// evaluateCandidate builds the rule's trace entry: configuration check,
// scope-qualifying comparison, and the optional expression condition.
func (e *Engine) evaluateCandidate(rule *domain.CommissionRule, tc *domain.TransactionContext) domain.RuleEvaluationTrace {
	entry := domain.RuleEvaluationTrace{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Scope:    rule.Scope,
		Priority: EffectivePriority(rule),
	}

	// A malformed stored rule is recorded as ineligible, never evaluated.
	if vr := Validate(rule); !vr.Valid {
		entry.Conditions = append(entry.Conditions, domain.RuleCondition{
			Field:    "configuration",
			Operator: domain.OperatorValid,
			Expected: "valid",
			Actual:   vr.Errors[0].Message,
			Passed:   false,
		})
		return entry
	}

	eligible := true

	if field, ok := scopeConditionFields[rule.Scope]; ok {
		expected := rule.QualifierFor(rule.Scope)
		actual := tc.QualifierFor(rule.Scope)
		passed := expected != "" && expected == actual
		entry.Conditions = append(entry.Conditions, domain.RuleCondition{
			Field:    field,
			Operator: domain.OperatorEquals,
			Expected: expected,
			Actual:   actual,
			Passed:   passed,
		})
		eligible = eligible && passed
	}

	if rule.Condition != "" {
		passed, err := e.conditions.eval(rule.Condition, tc)
		cond := domain.RuleCondition{
			Field:    "condition",
			Operator: domain.OperatorExpr,
			Expected: rule.Condition,
			Actual:   fmt.Sprintf("%t", passed),
			Passed:   passed && err == nil,
		}
		if err != nil {
			// An evaluation error marks the rule ineligible; it never
			// aborts the calculation.
			cond.Actual = "error: " + err.Error()
			cond.Passed = false
		}
		entry.Conditions = append(entry.Conditions, cond)
		eligible = eligible && cond.Passed
	}

	entry.Eligible = eligible
	return entry
}

// effectiveRate is commission / basis * 100, with a division-by-zero guard.
func effectiveRate(amount, basis decimal.Decimal) decimal.Decimal {
	if basis.IsZero() {
		return decimal.Zero
	}
	return amount.Div(basis).Mul(oneHundred)
}
