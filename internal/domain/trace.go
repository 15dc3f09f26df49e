package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Condition operators recorded in rule evaluation traces.
const (
	OperatorEquals = "equals"
	OperatorExpr   = "expr"
	OperatorValid  = "valid"
)

// RuleCondition is one evaluated condition of a candidate rule: the
// scope-qualifying comparison or the optional expression condition.
type RuleCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
}

// RuleCalculationDetail is the arithmetic breakdown for the selected rule.
type RuleCalculationDetail struct {
	BasisType   CommissionBasis `json:"basisType"`
	BasisAmount decimal.Decimal `json:"basisAmount"`

	RuleType RuleType `json:"ruleType"`

	Rate           *decimal.Decimal `json:"rate,omitempty"`
	FlatAmount     *decimal.Decimal `json:"flatAmount,omitempty"`
	TierThreshold  *decimal.Decimal `json:"tierThreshold,omitempty"`
	TierRate       *decimal.Decimal `json:"tierRate,omitempty"`

	// RawAmount is the computed amount before caps.
	RawAmount decimal.Decimal `json:"rawAmount"`

	MinApplied bool `json:"minApplied"`
	MaxApplied bool `json:"maxApplied"`

	FinalAmount decimal.Decimal `json:"finalAmount"`
}

// RuleEvaluationTrace records how one candidate rule fared.
type RuleEvaluationTrace struct {
	RuleID   string       `json:"ruleId"`
	RuleName string       `json:"ruleName,omitempty"`
	Scope    RuleScope    `json:"scope"`
	Priority RulePriority `json:"priority"`

	Conditions []RuleCondition `json:"conditions"`

	// Eligible is true when every condition passed.
	Eligible bool `json:"eligible"`

	// Selected marks the precedence winner. At most one per trace.
	Selected bool `json:"selected"`

	Calculation *RuleCalculationDetail `json:"calculation,omitempty"`
}

// AdjustmentType classifies post-hoc commission adjustments.
type AdjustmentType string

const (
	AdjustmentReturn      AdjustmentType = "RETURN"
	AdjustmentClawback    AdjustmentType = "CLAWBACK"
	AdjustmentOverride    AdjustmentType = "OVERRIDE"
	AdjustmentSplitCredit AdjustmentType = "SPLIT_CREDIT"
)

// Adjustment is a signed, post-hoc change to a calculated commission.
type Adjustment struct {
	ID        string          `json:"id"`
	Type      AdjustmentType  `json:"type"`
	Amount    decimal.Decimal `json:"amount"` // signed
	Reason    string          `json:"reason"`
	CreatedAt time.Time       `json:"createdAt"`
}

// CalculationOutput is the final result recorded in a trace.
type CalculationOutput struct {
	// SelectedRuleID is empty when no rule was applicable.
	SelectedRuleID   string          `json:"selectedRuleId,omitempty"`
	CommissionAmount decimal.Decimal `json:"commissionAmount"`
	EffectiveRate    decimal.Decimal `json:"effectiveRate"`
}

// PlanSnapshot pins the plan configuration the calculation ran under.
type PlanSnapshot struct {
	PlanID          string          `json:"planId"`
	PlanName        string          `json:"planName,omitempty"`
	ProjectID       string          `json:"projectId,omitempty"`
	CommissionBasis CommissionBasis `json:"commissionBasis"`
}

// CommissionCalculationTrace is the full audit record for one calculation.
// It is created once, persisted alongside the commission, and read-only
// thereafter except for the append-only adjustments list: applying an
// adjustment links the prior trace via PreviousTrace rather than
// overwriting it.
type CommissionCalculationTrace struct {
	EngineVersion string `json:"engineVersion"`

	Plan  *PlanSnapshot       `json:"plan,omitempty"`
	Input *TransactionContext `json:"input"`

	Rules []RuleEvaluationTrace `json:"rules"`

	Adjustments []Adjustment `json:"adjustments,omitempty"`

	Output CalculationOutput `json:"output"`

	PreviousTrace *CommissionCalculationTrace `json:"previousTrace,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// CommissionStatus is the per-transaction calculation outcome.
type CommissionStatus string

const (
	// StatusCalculated means a rule was selected and an amount recorded.
	StatusCalculated CommissionStatus = "CALCULATED"

	// StatusSkippedNoPlan means no applicable plan or rule matched; the
	// transaction is flagged for manual review, not recorded as $0.
	StatusSkippedNoPlan CommissionStatus = "SKIPPED_NO_PLAN"

	// StatusAdjusted means at least one post-hoc adjustment was applied.
	StatusAdjusted CommissionStatus = "ADJUSTED"
)

// Commission is the persisted outcome of one calculation: at most one per
// sale transaction.
type Commission struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenantId"`
	TransactionID string `json:"transactionId"`
	PlanID        string `json:"planId,omitempty"`
	RuleID        string `json:"ruleId,omitempty"`

	Status CommissionStatus `json:"status"`

	// Amount is rounded to 2 decimal places at persistence.
	Amount        decimal.Decimal `json:"amount"`
	EffectiveRate decimal.Decimal `json:"effectiveRate"`
	Currency      string          `json:"currency"`

	Trace *CommissionCalculationTrace `json:"trace,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
