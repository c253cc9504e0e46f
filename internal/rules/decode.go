package rules

import (
	"sort"

	apperrors "fwupdate/pkg/errors"
)

// PredicateCompiler turns an expression from a rule document into a predicate.
type PredicateCompiler interface {
	Compile(expression string) (func(value any, present bool) (bool, error), error)
}

const predicateKey = "cel"

var ruleKeys = map[string]bool{
	"id":             true,
	"description":    true,
	"conditions":     true,
	"target":         true,
	"targetVersions": true,
}

// Decode builds a RuleSet from a YAML or JSON decoded document: either a
// sequence of rule mappings or one bare rule mapping. A nil document is an
// empty set. compiler may be nil when the document holds no predicates.
func Decode(raw any, compiler PredicateCompiler) (RuleSet, error) {
	switch doc := normalize(raw).(type) {
	case nil:
		return RuleSet{}, nil
	case map[string]any:
		rule, err := decodeRule(0, doc, compiler)
		if err != nil {
			return nil, err
		}
		return Single(rule), nil
	case []any:
		set := make(RuleSet, 0, len(doc))
		for i, item := range doc {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, apperrors.ErrConfiguration.WithMessage("rule %d: expected a mapping, got %T", i+1, item)
			}
			rule, err := decodeRule(i, m, compiler)
			if err != nil {
				return nil, err
			}
			set = append(set, rule)
		}
		return set, nil
	default:
		return nil, apperrors.ErrConfiguration.WithMessage("rule document must be a rule or a list of rules, got %T", raw)
	}
}

func decodeRule(index int, m map[string]any, compiler PredicateCompiler) (Rule, error) {
	var rule Rule

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !ruleKeys[k] {
			return Rule{}, apperrors.ErrConfiguration.WithMessage("rule %d: unknown key %q", index+1, k)
		}
	}

	switch id := m["id"].(type) {
	case nil:
	case string:
		rule.ID = id
	default:
		return Rule{}, apperrors.ErrConfiguration.WithMessage("rule %d: id must be a string, got %T", index+1, id)
	}

	label := rule.IDAt(index)

	switch conds := m["conditions"].(type) {
	case nil:
	case map[string]any:
		rule.Conditions = make(map[string]Condition, len(conds))
		for path, v := range conds {
			c, err := decodeCondition(v, compiler)
			if err != nil {
				return Rule{}, apperrors.ErrConfiguration.
					WithMessage("rule %s: condition %q: %s", label, path, reasonOf(err)).
					WithCause(err)
			}
			rule.Conditions[path] = c
		}
	default:
		return Rule{}, apperrors.ErrConfiguration.WithMessage("rule %s: conditions must be a mapping, got %T", label, conds)
	}

	rawTarget, ok := m["target"]
	if !ok {
		rawTarget = m["targetVersions"]
	}
	target, err := decodeTarget(rawTarget)
	if err != nil {
		return Rule{}, apperrors.ErrConfiguration.
			WithMessage("rule %s: %s", label, reasonOf(err)).
			WithCause(err)
	}
	rule.Target = target

	return rule, nil
}

func decodeCondition(v any, compiler PredicateCompiler) (Condition, error) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return Literal(v), nil
	}
	expr, ok := m[predicateKey].(string)
	if !ok {
		return Literal(v), nil
	}
	if compiler == nil {
		return Condition{}, apperrors.ErrConfiguration.WithMessage("predicate %q given but no compiler configured", expr)
	}
	fn, err := compiler.Compile(expr)
	if err != nil {
		return Condition{}, apperrors.ErrConfiguration.WithMessage("%v", err).WithCause(err)
	}
	return Predicate(fn).Describe(expr), nil
}

func decodeTarget(v any) (*Target, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return VersionTarget(t), nil
	case map[string]any:
		target := &Target{Channels: make(map[Channel]*string, len(t))}
		for k, raw := range t {
			ch := Channel(k)
			if !ch.Valid() {
				return nil, apperrors.ErrConfiguration.WithMessage("target has unknown channel %q", k)
			}
			switch version := raw.(type) {
			case nil:
				target.Channels[ch] = nil
			case string:
				version2 := version
				target.Channels[ch] = &version2
			default:
				return nil, apperrors.ErrConfiguration.WithMessage("target version for %s must be a string, got %T", k, raw)
			}
		}
		return target, nil
	default:
		return nil, apperrors.ErrConfiguration.WithMessage("target must be a string or a mapping, got %T", v)
	}
}

func reasonOf(err error) string {
	if appErr, ok := err.(*apperrors.Error); ok {
		return appErr.Reason()
	}
	return err.Error()
}

// normalize converts YAML decoded integers to float64 and map[any]any to
// map[string]any so literals compare equal to JSON decoded attributes.
func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	case uint64:
		return float64(t)
	case uint:
		return float64(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = normalize(item)
		}
		return out
	default:
		return v
	}
}
