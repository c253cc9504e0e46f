package rulestore

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"fwupdate/internal/rules"
	apperrors "fwupdate/pkg/errors"
)

// Repository loads the complete ordered rule set from one source.
type Repository interface {
	GetRuleSet(ctx context.Context) (rules.RuleSet, error)
	// Source names the backing store for logs and metrics.
	Source() string
}

// FileRepository reads a YAML (or JSON) rule document from disk on every load.
type FileRepository struct {
	path     string
	compiler rules.PredicateCompiler
}

func NewFileRepository(path string, compiler rules.PredicateCompiler) *FileRepository {
	return &FileRepository{path: path, compiler: compiler}
}

func (r *FileRepository) Source() string {
	return "file"
}

func (r *FileRepository) GetRuleSet(_ context.Context) (rules.RuleSet, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", r.path, err)
	}
	return DecodeDocument(data, r.compiler)
}

// DecodeDocument parses a YAML rule document. JSON documents are valid YAML.
func DecodeDocument(data []byte, compiler rules.PredicateCompiler) (rules.RuleSet, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, apperrors.ErrConfiguration.WithMessage("invalid rules document: %v", err).WithCause(err)
	}
	if err := ValidateDocument(raw); err != nil {
		return nil, err
	}
	return rules.Decode(raw, compiler)
}

// BuiltinRepository serves a rule set compiled into the binary.
type BuiltinRepository struct {
	set rules.RuleSet
}

func NewBuiltinRepository(set rules.RuleSet) *BuiltinRepository {
	return &BuiltinRepository{set: set}
}

func (r *BuiltinRepository) Source() string {
	return "builtin"
}

func (r *BuiltinRepository) GetRuleSet(context.Context) (rules.RuleSet, error) {
	return r.set, nil
}

// UpdateFleetUID is the fleet whose devices still on an old major version are
// moved to the current release by FleetUpdateRules.
const UpdateFleetUID = "fleet:50b4f0ee-b8e4-4c9c-b321-243ff1f9e487"

// FleetUpdateRules moves 7.5.1 Notecards to 7.5.2 and every Notecard older
// than major version 8 in the update fleet to 8.1.3.
func FleetUpdateRules() rules.RuleSet {
	return rules.RuleSet{
		{
			Conditions: map[string]rules.Condition{
				"notecard": rules.VersionPrefix("7.5.1."),
			},
			Target: rules.ChannelTarget(map[rules.Channel]string{rules.ChannelNotecard: "7.5.2.17004"}),
		},
		{
			Conditions: map[string]rules.Condition{
				"notecard": rules.MajorBelow(8),
				"fleets":   rules.FleetsContain(UpdateFleetUID),
			},
			Target: rules.ChannelTarget(map[rules.Channel]string{rules.ChannelNotecard: "8.1.3.17044"}),
		},
	}
}
