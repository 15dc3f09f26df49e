package engine

import (
	"fmt"
	"sort"

	"github.com/Nikki72581/commissionflow-sub002/internal/domain"
)

// priorityValues is the total order over rule priorities. Higher wins.
var priorityValues = map[domain.RulePriority]int{
	domain.PriorityProjectSpecific:  100,
	domain.PriorityCustomerSpecific: 90,
	domain.PriorityProductCategory:  80,
	domain.PriorityTerritory:        70,
	domain.PriorityCustomerTier:     60,
	domain.PriorityDefault:          50,
}

// AssignPriority maps a rule scope to its derived priority.
// PROJECT_SPECIFIC is never derived from a scope: it is assigned
// out-of-band when a rule belongs to a project-attached plan.
func AssignPriority(scope domain.RuleScope) domain.RulePriority {
	switch scope {
	case domain.ScopeCustomerSpecific:
		return domain.PriorityCustomerSpecific
	case domain.ScopeProductCategory:
		return domain.PriorityProductCategory
	case domain.ScopeTerritory:
		return domain.PriorityTerritory
	case domain.ScopeCustomerTier:
		return domain.PriorityCustomerTier
	default:
		return domain.PriorityDefault
	}
}

// PriorityValue returns the integer rank of a priority. Unknown priorities
// rank below DEFAULT so a misconfigured rule can never win a tie.
func PriorityValue(p domain.RulePriority) int {
	if v, ok := priorityValues[p]; ok {
		return v
	}
	return 0
}

// EffectivePriority returns the rule's explicit priority when set, otherwise
// the priority derived from its scope.
func EffectivePriority(rule *domain.CommissionRule) domain.RulePriority {
	if rule.Priority != "" {
		return rule.Priority
	}
	return AssignPriority(rule.Scope)
}

// Compare orders two rules by precedence: higher priority first, then newer
// createdAt, then rule id. The resulting total order is the single source of
// truth for rule selection; exactly one rule wins per transaction.
func Compare(a, b *domain.CommissionRule) int {
	pa, pb := PriorityValue(EffectivePriority(a)), PriorityValue(EffectivePriority(b))
	if pa != pb {
		return pb - pa
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	}
	// Identical priority and createdAt: break the tie by rule id so the
	// order stays deterministic.
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	default:
		return 0
	}
}

// SortByPrecedence sorts rules in place, winner first.
func SortByPrecedence(rules []*domain.CommissionRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return Compare(rules[i], rules[j]) < 0
	})
}

// DetectConflicts flags existing rules whose scope and all four qualifying
// fields are identical to the new rule's. Informational only: it does not
// block creation, since precedence resolves ties by recency.
func DetectConflicts(newRule *domain.CommissionRule, existing []*domain.CommissionRule) []domain.RuleConflict {
	var conflicts []domain.RuleConflict
	for _, r := range existing {
		if r.ID == newRule.ID {
			continue
		}
		if r.Scope != newRule.Scope {
			continue
		}
		if r.CustomerTier != newRule.CustomerTier ||
			r.ProductCategoryID != newRule.ProductCategoryID ||
			r.TerritoryID != newRule.TerritoryID ||
			r.ClientID != newRule.ClientID {
			continue
		}
		conflicts = append(conflicts, domain.RuleConflict{
			RuleID: r.ID,
			Reason: fmt.Sprintf("rule %s has identical scope %s and qualifiers; precedence will pick the newer rule", r.ID, r.Scope),
		})
	}
	return conflicts
}
