package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RuleType determines how a rule computes its commission amount.
type RuleType string

const (
	RuleTypePercentage RuleType = "PERCENTAGE"
	RuleTypeFlatAmount RuleType = "FLAT_AMOUNT"
	RuleTypeTiered     RuleType = "TIERED"
)

// RuleScope is the specificity dimension a rule is keyed on.
type RuleScope string

const (
	ScopeGlobal           RuleScope = "GLOBAL"
	ScopeCustomerTier     RuleScope = "CUSTOMER_TIER"
	ScopeProductCategory  RuleScope = "PRODUCT_CATEGORY"
	ScopeTerritory        RuleScope = "TERRITORY"
	ScopeCustomerSpecific RuleScope = "CUSTOMER_SPECIFIC"
)

// RulePriority is the total-order rank used to pick a single winning rule
// among several whose scope condition matches a transaction.
type RulePriority string

const (
	PriorityProjectSpecific  RulePriority = "PROJECT_SPECIFIC"
	PriorityCustomerSpecific RulePriority = "CUSTOMER_SPECIFIC"
	PriorityProductCategory  RulePriority = "PRODUCT_CATEGORY"
	PriorityTerritory        RulePriority = "TERRITORY"
	PriorityCustomerTier     RulePriority = "CUSTOMER_TIER"
	PriorityDefault          RulePriority = "DEFAULT"
)

// CommissionRule defines one commission pricing rule.
//
// Exactly one scope-qualifying field (CustomerTier, ProductCategoryID,
// TerritoryID, ClientID) may be set, and it must correspond to the declared
// Scope. The validator enforces this before a rule ever reaches the engine.
type CommissionRule struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	PlanID   string `json:"planId"`
	Name     string `json:"name"`

	RuleType RuleType `json:"ruleType"`

	// PERCENTAGE rate, also the below-threshold rate for TIERED rules.
	Percentage *decimal.Decimal `json:"percentage,omitempty"`

	// FLAT_AMOUNT value, independent of the basis amount.
	FlatAmount *decimal.Decimal `json:"flatAmount,omitempty"`

	// TIERED band: threshold and the rate applied above it.
	TierThreshold  *decimal.Decimal `json:"tierThreshold,omitempty"`
	TierPercentage *decimal.Decimal `json:"tierPercentage,omitempty"`

	// Caps on the final per-rule amount.
	MinAmount *decimal.Decimal `json:"minAmount,omitempty"`
	MaxAmount *decimal.Decimal `json:"maxAmount,omitempty"`

	Scope RuleScope `json:"scope"`

	// Priority is normally derived from Scope. Rules belonging to a
	// project-attached plan are promoted to PROJECT_SPECIFIC out-of-band
	// by the plan resolver.
	Priority RulePriority `json:"priority,omitempty"`

	// Scope-qualifying fields.
	CustomerTier      string `json:"customerTier,omitempty"`
	ProductCategoryID string `json:"productCategoryId,omitempty"`
	TerritoryID       string `json:"territoryId,omitempty"`
	ClientID          string `json:"clientId,omitempty"`

	// Condition is an optional CEL expression evaluated against the
	// transaction context. Must compile to bool. Empty means always true.
	Condition string `json:"condition,omitempty"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// QualifierFor returns the rule's qualifying value for the given scope.
func (r *CommissionRule) QualifierFor(scope RuleScope) string {
	switch scope {
	case ScopeCustomerTier:
		return r.CustomerTier
	case ScopeProductCategory:
		return r.ProductCategoryID
	case ScopeTerritory:
		return r.TerritoryID
	case ScopeCustomerSpecific:
		return r.ClientID
	default:
		return ""
	}
}

// RuleConflict flags an existing rule that duplicates a new rule's scope and
// qualifiers. Informational only: precedence already breaks ties by recency.
type RuleConflict struct {
	RuleID string `json:"ruleId"`
	Reason string `json:"reason"`
}
