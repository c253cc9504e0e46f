package rules

import (
	"fmt"
)

// Match is the outcome of a successful rule set evaluation.
type Match struct {
	RuleID string
	Target *Target
}

// Evaluate returns the first rule in set whose conditions all hold for attrs.
// matched is false when no rule applies, which callers must keep apart from
// a matched rule with a nil Target (no update needed). Predicate failures
// abort the evaluation.
func Evaluate(attrs Attributes, set RuleSet) (m Match, matched bool, err error) {
	for i, rule := range set {
		ok, err := rule.matches(attrs)
		if err != nil {
			return Match{}, false, fmt.Errorf("rule %s: %w", rule.IDAt(i), err)
		}
		if ok {
			return Match{RuleID: rule.IDAt(i), Target: rule.Target.Clone()}, true, nil
		}
	}
	return Match{}, false, nil
}
