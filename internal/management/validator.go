package management

import (
	"errors"
	"strings"

	"fwupdate/internal/rules"
	"fwupdate/internal/rulestore"
	apperrors "fwupdate/pkg/errors"
)

// ValidateRule decodes rec exactly as the rule store will, so a rule that
// is accepted here cannot break a reload.
func ValidateRule(rec rulestore.RuleRecord, compiler rules.PredicateCompiler) error {
	if rec.Position < 0 {
		return apperrors.ErrValidation.WithMessage("position must not be negative")
	}
	if strings.TrimSpace(rec.ID) != rec.ID {
		return apperrors.ErrValidation.WithMessage("id must not contain surrounding whitespace")
	}

	if _, err := rules.Decode([]any{rec.Document()}, compiler); err != nil {
		return apperrors.ErrValidation.WithMessage("invalid rule: %s", reasonOf(err)).WithCause(err)
	}
	return nil
}

// ParseChannel accepts an empty value as the notecard channel.
func ParseChannel(value string) (rules.Channel, error) {
	if value == "" {
		return rules.ChannelNotecard, nil
	}
	ch := rules.Channel(strings.ToLower(value))
	if !ch.Valid() {
		return "", apperrors.ErrValidation.WithMessage("unknown channel %q", value)
	}
	return ch, nil
}

func reasonOf(err error) string {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr.Reason()
	}
	return err.Error()
}
