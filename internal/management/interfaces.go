package management

import (
	"context"
	"time"

	"fwupdate/internal/rules"
	"fwupdate/internal/rulestore"
)

type Service interface {
	CreateRule(ctx context.Context, req CreateRuleRequest) (*rulestore.RuleRecord, error)
	ListRules(ctx context.Context) ([]rulestore.RuleRecord, error)
	GetRule(ctx context.Context, id string) (*rulestore.RuleRecord, error)
	UpdateRule(ctx context.Context, id string, req UpdateRuleRequest) (*rulestore.RuleRecord, error)
	DeleteRule(ctx context.Context, id string) error

	ActiveRules(ctx context.Context) ActiveRulesResponse
	ReloadRules(ctx context.Context) (*ActiveRulesResponse, error)

	CancelUpdate(ctx context.Context, req CancelUpdateRequest) error
}

// Repository is the editable rule storage; *rulestore.PostgresRepository
// satisfies it.
type Repository interface {
	ListRules(ctx context.Context) ([]rulestore.RuleRecord, error)
	GetRule(ctx context.Context, id string) (*rulestore.RuleRecord, error)
	CreateRule(ctx context.Context, rec *rulestore.RuleRecord) error
	UpdateRule(ctx context.Context, rec *rulestore.RuleRecord) error
	DeleteRule(ctx context.Context, id string) error
}

// RuleSource is the rule set currently used for decisions.
type RuleSource interface {
	RuleSet() rules.RuleSet
	Loaded() (bool, time.Time)
	Source() string
	ReloadRules(ctx context.Context) error
}

type ChangePublisher interface {
	PublishRulesChanged(ctx context.Context, action, ruleID, changedBy string) error
}

type UpdateCanceller interface {
	CancelFirmwareUpdate(ctx context.Context, deviceID string, channel rules.Channel) error
}
