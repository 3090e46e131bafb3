// Package targeting evaluates attribute-matching rules against a
// subject's context to decide rule-based overrides.
package targeting

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/shared"
)

// Condition is a single attribute equality check. The attribute must be
// present in the context and equal the expected value exactly; there is
// no type coercion and no substring matching.
type Condition struct {
	Attribute string `json:"attribute"`
	Expected  string `json:"expected"`
}

// Rule is a set of conditions ANDed together, carrying the value returned
// when the rule matches. Rules with a lower Priority number are evaluated
// first.
type Rule struct {
	RuleID     string          `json:"rule_id"`
	Priority   int             `json:"priority"`
	Conditions []Condition     `json:"conditions"`
	Value      json.RawMessage `json:"value,omitempty"`
}

// Validate checks the rule's structural invariants
func (r Rule) Validate() error {
	if r.RuleID == "" {
		return shared.NewDomainError("INVALID_RULE", "Rule ID cannot be empty")
	}
	if len(r.Conditions) == 0 {
		return shared.NewDomainError("INVALID_RULE", "Rule must have at least one condition")
	}
	for _, c := range r.Conditions {
		if c.Attribute == "" {
			return shared.NewDomainError("INVALID_RULE", "Condition attribute cannot be empty")
		}
	}
	return nil
}

// Matches reports whether every condition of the rule holds in the
// given context. A missing attribute fails the rule.
func (r Rule) Matches(attrs map[string]string) bool {
	if len(r.Conditions) == 0 {
		return false
	}
	for _, c := range r.Conditions {
		v, ok := attrs[c.Attribute]
		if !ok || v != c.Expected {
			return false
		}
	}
	return true
}

// FirstMatch evaluates the rules in priority order (lowest Priority number
// first) and returns the first fully-matching rule. The second return
// value is false when no rule matches; that is a normal miss, not an error.
func FirstMatch(rules []Rule, attrs map[string]string) (*Rule, bool) {
	if len(rules) == 0 {
		return nil, false
	}

	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	for i := range sorted {
		if sorted[i].Matches(attrs) {
			return &sorted[i], true
		}
	}
	return nil, false
}

// AnyMatch reports whether at least one rule fully matches the context.
func AnyMatch(rules []Rule, attrs map[string]string) bool {
	_, ok := FirstMatch(rules, attrs)
	return ok
}

// ValidateRules validates every rule and rejects duplicate rule IDs
func ValidateRules(rules []Rule) error {
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := seen[r.RuleID]; dup {
			return shared.NewDomainError("DUPLICATE_RULE_ID", fmt.Sprintf("Duplicate rule ID: %s", r.RuleID))
		}
		seen[r.RuleID] = struct{}{}
	}
	return nil
}
