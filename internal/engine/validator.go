// Package engine implements the commission rule engine: rule validation,
// precedence resolution, commission calculation, and audit trace building.
// It performs no I/O; callers supply rules and a transaction snapshot and
// persist the result.
package engine

import (
	"fmt"

	"github.com/Nikki72581/commissionflow-sub002/internal/domain"
)

// scopeQualifiers maps each scope to the field that must qualify it.
// GLOBAL has no qualifying field.
var scopeQualifiers = map[domain.RuleScope]string{
	domain.ScopeCustomerTier:     "customerTier",
	domain.ScopeProductCategory:  "productCategoryId",
	domain.ScopeTerritory:        "territoryId",
	domain.ScopeCustomerSpecific: "clientId",
}

// Validate checks a rule's scope-specific required fields are present and no
// extraneous qualifying fields are set, and that the rule type's arithmetic
// fields form a complete configuration. Pure function, no side effects.
func Validate(rule *domain.CommissionRule) domain.ValidationResult {
	result := domain.ValidationResult{Valid: true}
	if rule == nil {
		result.Add("rule", "rule is required")
		return result
	}

	validateScope(rule, &result)
	validateRuleType(rule, &result)
	validateCaps(rule, &result)

	return result
}

func validateScope(rule *domain.CommissionRule, result *domain.ValidationResult) {
	required, known := scopeQualifiers[rule.Scope]
	if !known && rule.Scope != domain.ScopeGlobal {
		result.Add("scope", fmt.Sprintf("unknown scope %q", rule.Scope))
		return
	}

	if known && rule.QualifierFor(rule.Scope) == "" {
		result.Add(required, fmt.Sprintf("%s is required for scope %s", required, rule.Scope))
	}

	// Any qualifying field set for a different scope makes the rule
	// ambiguous and is rejected outright.
	for scope, field := range scopeQualifiers {
		if scope == rule.Scope {
			continue
		}
		if rule.QualifierFor(scope) != "" {
			result.Add(field, fmt.Sprintf("%s should not be set for scope %s", field, rule.Scope))
		}
	}
}

func validateRuleType(rule *domain.CommissionRule, result *domain.ValidationResult) {
	switch rule.RuleType {
	case domain.RuleTypePercentage:
		if rule.Percentage == nil {
			result.Add("percentage", "percentage is required for PERCENTAGE rules")
		}
	case domain.RuleTypeFlatAmount:
		if rule.FlatAmount == nil {
			result.Add("flatAmount", "flatAmount is required for FLAT_AMOUNT rules")
		}
	case domain.RuleTypeTiered:
		// Threshold without rate (or vice versa) silently degrades to a
		// zero tier contribution, so both are required together.
		if rule.TierThreshold == nil {
			result.Add("tierThreshold", "tierThreshold is required for TIERED rules")
		}
		if rule.TierPercentage == nil {
			result.Add("tierPercentage", "tierPercentage is required for TIERED rules")
		}
	default:
		result.Add("ruleType", fmt.Sprintf("unknown rule type %q", rule.RuleType))
	}

	if rule.Percentage != nil && rule.Percentage.IsNegative() {
		result.Add("percentage", "percentage must not be negative")
	}
	if rule.TierPercentage != nil && rule.TierPercentage.IsNegative() {
		result.Add("tierPercentage", "tierPercentage must not be negative")
	}
	if rule.TierThreshold != nil && rule.TierThreshold.IsNegative() {
		result.Add("tierThreshold", "tierThreshold must not be negative")
	}
	if rule.FlatAmount != nil && rule.FlatAmount.IsNegative() {
		result.Add("flatAmount", "flatAmount must not be negative")
	}
}

func validateCaps(rule *domain.CommissionRule, result *domain.ValidationResult) {
	if rule.MinAmount != nil && rule.MinAmount.IsNegative() {
		result.Add("minAmount", "minAmount must not be negative")
	}
	if rule.MaxAmount != nil && rule.MaxAmount.IsNegative() {
		result.Add("maxAmount", "maxAmount must not be negative")
	}
	if rule.MinAmount != nil && rule.MaxAmount != nil && rule.MinAmount.GreaterThan(*rule.MaxAmount) {
		result.Add("minAmount", "minAmount must not exceed maxAmount")
	}
}
