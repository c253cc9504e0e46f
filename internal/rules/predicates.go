package rules

import (
	"strconv"
	"strings"

	apperrors "fwupdate/pkg/errors"
)

// VersionComponent returns the n-th dot separated numeric component of a
// firmware version, 0 being the major version.
func VersionComponent(version string, n int) (int, error) {
	parts := strings.Split(version, ".")
	if n < 0 || n >= len(parts) {
		return 0, apperrors.ErrValidation.WithMessage("version %q has no component %d", version, n)
	}
	v, err := strconv.Atoi(parts[n])
	if err != nil {
		return 0, apperrors.ErrValidation.WithMessage("version %q component %d is not numeric", version, n).WithCause(err)
	}
	return v, nil
}

func MajorVersion(version string) (int, error) {
	return VersionComponent(version, 0)
}

func MinorVersion(version string) (int, error) {
	return VersionComponent(version, 1)
}

// VersionPrefix matches string values starting with prefix.
func VersionPrefix(prefix string) Condition {
	return MatchFunc(func(value any) bool {
		s, ok := value.(string)
		return ok && strings.HasPrefix(s, prefix)
	}).Describe("startsWith(" + strconv.Quote(prefix) + ")")
}

// MajorBelow matches versions whose major component is less than major.
// Absent values do not match; unparsable versions fail the evaluation.
func MajorBelow(major int) Condition {
	return Predicate(func(value any, present bool) (bool, error) {
		if !present || value == nil {
			return false, nil
		}
		s, ok := value.(string)
		if !ok {
			return false, apperrors.ErrValidation.WithMessage("expected version string, got %T", value)
		}
		m, err := MajorVersion(s)
		if err != nil {
			return false, err
		}
		return m < major, nil
	}).Describe("majorVersion < " + strconv.Itoa(major))
}

// FleetsContain matches a single fleet identifier or a list containing it.
func FleetsContain(fleet string) Condition {
	return MatchFunc(func(value any) bool {
		switch v := value.(type) {
		case string:
			return v == fleet
		case []string:
			for _, f := range v {
				if f == fleet {
					return true
				}
			}
		case []any:
			for _, f := range v {
				if s, ok := f.(string); ok && s == fleet {
					return true
				}
			}
		}
		return false
	}).Describe("contains(" + strconv.Quote(fleet) + ")")
}

// Present matches any value, including nil, as long as the path resolves.
func Present() Condition {
	return Predicate(func(_ any, present bool) (bool, error) {
		return present, nil
	}).Describe("present")
}
