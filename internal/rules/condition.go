package rules

import (
	"reflect"
	"strings"

	apperrors "fwupdate/pkg/errors"
)

// Attributes is the per-invocation view of a device: request fields,
// fleet membership and current firmware records.
type Attributes map[string]any

// PredicateFunc decides whether a resolved field value satisfies a condition.
// present is false when the field path did not resolve; value is nil then.
type PredicateFunc func(value any, present bool) (bool, error)

type conditionKind int

const (
	literalCondition conditionKind = iota
	predicateCondition
)

// Condition is either a literal compared by equality or a predicate.
// The zero value is the literal nil.
type Condition struct {
	kind      conditionKind
	literal   any
	predicate PredicateFunc
	source    string
}

func Literal(value any) Condition {
	return Condition{kind: literalCondition, literal: value}
}

func Predicate(fn PredicateFunc) Condition {
	return Condition{kind: predicateCondition, predicate: fn}
}

// MatchFunc wraps an infallible predicate. Absent values are passed as nil.
func MatchFunc(fn func(value any) bool) Condition {
	return Predicate(func(value any, _ bool) (bool, error) {
		return fn(value), nil
	})
}

// Describe attaches a human readable source, e.g. the expression a predicate was compiled from.
func (c Condition) Describe(source string) Condition {
	c.source = source
	return c
}

func (c Condition) IsPredicate() bool {
	return c.kind == predicateCondition
}

func (c Condition) String() string {
	if c.source != "" {
		return c.source
	}
	if c.kind == predicateCondition {
		return "<predicate>"
	}
	return "literal"
}

// Matches evaluates the condition against a resolved value. A predicate is
// invoked exactly once. An absent value never equals a literal, not even nil.
func (c Condition) Matches(value any, present bool) (matched bool, err error) {
	if c.kind == literalCondition {
		return present && reflect.DeepEqual(value, c.literal), nil
	}

	if c.predicate == nil {
		return false, apperrors.ErrConfiguration.WithMessage("predicate condition has no function")
	}

	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = apperrors.RecoverPanic(r)
		}
	}()

	return c.predicate(value, present)
}

// Resolve walks a dot separated path through nested mappings. A missing key
// or a non-mapping intermediate resolves to absent.
func Resolve(attrs Attributes, path string) (any, bool) {
	var current any = map[string]any(attrs)

	for _, segment := range strings.Split(path, ".") {
		var (
			next any
			ok   bool
		)

		switch m := current.(type) {
		case map[string]any:
			next, ok = m[segment]
		case Attributes:
			next, ok = m[segment]
		case map[string]string:
			next, ok = m[segment]
		default:
			return nil, false
		}

		if !ok {
			return nil, false
		}
		current = next
	}

	return current, true
}
