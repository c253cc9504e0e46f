package management

import (
	"context"
	"errors"
	"sort"
	"time"

	"fwupdate/internal/logger"
	"fwupdate/internal/rules"
	"fwupdate/internal/rulestore"
	pkgerrors "fwupdate/pkg/errors"
	"fwupdate/pkg/models"
)

type changedByKey struct{}

// WithChangedBy records who is making a rule change.
func WithChangedBy(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, changedByKey{}, user)
}

func getChangedBy(ctx context.Context) string {
	if user, ok := ctx.Value(changedByKey{}).(string); ok && user != "" {
		return user
	}
	return "system"
}

type service struct {
	repo      Repository
	source    RuleSource
	publisher ChangePublisher
	canceller UpdateCanceller
	compiler  rules.PredicateCompiler
	logger    logger.Logger
}

type ServiceOption func(*service)

func WithRuleSource(source RuleSource) ServiceOption {
	return func(s *service) {
		s.source = source
	}
}

func WithChangePublisher(publisher ChangePublisher) ServiceOption {
	return func(s *service) {
		s.publisher = publisher
	}
}

func WithUpdateCanceller(canceller UpdateCanceller) ServiceOption {
	return func(s *service) {
		s.canceller = canceller
	}
}

func WithCompiler(compiler rules.PredicateCompiler) ServiceOption {
	return func(s *service) {
		s.compiler = compiler
	}
}

func WithLogger(log logger.Logger) ServiceOption {
	return func(s *service) {
		s.logger = log
	}
}

// NewService builds the management service. repo may be nil when rules come
// from a file; rule edits then fail with a configuration error.
func NewService(repo Repository, opts ...ServiceOption) Service {
	s := &service{
		repo:   repo,
		logger: logger.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *service) CreateRule(ctx context.Context, req CreateRuleRequest) (*rulestore.RuleRecord, error) {
	if err := s.editable(); err != nil {
		return nil, err
	}

	rec := &rulestore.RuleRecord{
		ID:          req.ID,
		Position:    req.Position,
		Description: req.Description,
		Conditions:  req.Conditions,
		Target:      req.Target,
		Enabled:     getEnabledValue(req.Enabled),
	}
	if err := ValidateRule(*rec, s.compiler); err != nil {
		return nil, err
	}

	if err := s.repo.CreateRule(ctx, rec); err != nil {
		return nil, wrapRepoError(err)
	}

	s.ruleChanged(ctx, models.ActionCreate, rec.ID)
	return rec, nil
}

func (s *service) ListRules(ctx context.Context) ([]rulestore.RuleRecord, error) {
	if err := s.editable(); err != nil {
		return nil, err
	}

	records, err := s.repo.ListRules(ctx)
	if err != nil {
		return nil, wrapRepoError(err)
	}
	if records == nil {
		records = []rulestore.RuleRecord{}
	}
	return records, nil
}

func (s *service) GetRule(ctx context.Context, id string) (*rulestore.RuleRecord, error) {
	if err := s.editable(); err != nil {
		return nil, err
	}

	rec, err := s.repo.GetRule(ctx, id)
	if err != nil {
		return nil, wrapRepoError(err)
	}
	return rec, nil
}

func (s *service) UpdateRule(ctx context.Context, id string, req UpdateRuleRequest) (*rulestore.RuleRecord, error) {
	if err := s.editable(); err != nil {
		return nil, err
	}

	rec, err := s.repo.GetRule(ctx, id)
	if err != nil {
		return nil, wrapRepoError(err)
	}

	updateRuleFields(rec, req)
	if err := ValidateRule(*rec, s.compiler); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateRule(ctx, rec); err != nil {
		return nil, wrapRepoError(err)
	}

	s.ruleChanged(ctx, models.ActionUpdate, rec.ID)
	return rec, nil
}

func (s *service) DeleteRule(ctx context.Context, id string) error {
	if err := s.editable(); err != nil {
		return err
	}

	if err := s.repo.DeleteRule(ctx, id); err != nil {
		return wrapRepoError(err)
	}

	s.ruleChanged(ctx, models.ActionDelete, id)
	return nil
}

func (s *service) ActiveRules(ctx context.Context) ActiveRulesResponse {
	if s.source == nil {
		return describeRules("", false, nil, rules.DefaultRules())
	}
	loaded, at := s.source.Loaded()
	var loadedAt *time.Time
	if loaded {
		loadedAt = &at
	}
	return describeRules(s.source.Source(), loaded, loadedAt, s.source.RuleSet())
}

func (s *service) ReloadRules(ctx context.Context) (*ActiveRulesResponse, error) {
	if s.source == nil {
		return nil, pkgerrors.ErrConfiguration.WithMessage("no rule source configured")
	}

	if err := s.source.ReloadRules(ctx); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrServiceUnavailable).WithMessage("rule reload failed: %s", reasonOf(err))
	}
	s.publish(ctx, models.ActionReload, "")

	resp := s.ActiveRules(ctx)
	return &resp, nil
}

func (s *service) CancelUpdate(ctx context.Context, req CancelUpdateRequest) error {
	if s.canceller == nil {
		return pkgerrors.ErrConfiguration.WithMessage("update cancellation not configured")
	}
	if req.DeviceUID == "" {
		return pkgerrors.ErrValidation.WithMessage("device_uid is required")
	}
	channel, err := ParseChannel(req.Channel)
	if err != nil {
		return err
	}

	if err := s.canceller.CancelFirmwareUpdate(ctx, req.DeviceUID, channel); err != nil {
		return err
	}

	s.logger.InfowCtx(ctx, "Firmware update cancelled",
		"device_uid", req.DeviceUID,
		"channel", channel,
		"changed_by", getChangedBy(ctx),
	)
	return nil
}

func (s *service) editable() error {
	if s.repo == nil {
		return pkgerrors.ErrConfiguration.WithMessage("rules are read-only: no rule database configured")
	}
	return nil
}

// ruleChanged reloads the local rule set and tells the other instances.
// Neither failure undoes the stored change.
func (s *service) ruleChanged(ctx context.Context, action, ruleID string) {
	if s.source != nil {
		if err := s.source.ReloadRules(ctx); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to reload rules after change",
				"action", action,
				"rule_id", ruleID,
				"error", err,
			)
		}
	}
	s.publish(ctx, action, ruleID)
}

func (s *service) publish(ctx context.Context, action, ruleID string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishRulesChanged(ctx, action, ruleID, getChangedBy(ctx)); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish rules changed event",
			"action", action,
			"rule_id", ruleID,
			"error", err,
		)
	}
}

func wrapRepoError(err error) error {
	var appErr *pkgerrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
}

func updateRuleFields(rec *rulestore.RuleRecord, req UpdateRuleRequest) {
	if req.Position != nil {
		rec.Position = *req.Position
	}
	if req.Description != nil {
		rec.Description = *req.Description
	}
	if req.Conditions != nil {
		rec.Conditions = *req.Conditions
	}
	if req.Target != nil {
		rec.Target = *req.Target
	}
	if req.Enabled != nil {
		rec.Enabled = *req.Enabled
	}
}

func describeRules(source string, loaded bool, loadedAt *time.Time, set rules.RuleSet) ActiveRulesResponse {
	resp := ActiveRulesResponse{
		Source:   source,
		Loaded:   loaded,
		LoadedAt: loadedAt,
		Count:    len(set),
		Rules:    make([]ActiveRule, 0, len(set)),
	}

	for i, rule := range set {
		active := ActiveRule{
			ID:         rule.IDAt(i),
			Conditions: make([]string, 0, len(rule.Conditions)),
		}
		for path := range rule.Conditions {
			active.Conditions = append(active.Conditions, path)
		}
		sort.Strings(active.Conditions)

		switch {
		case rule.Target == nil:
			active.NoUpdate = true
		case rule.Target.ChannelAgnostic():
			active.Version = rule.Target.Version
		default:
			active.Channels = make(map[string]string, len(rule.Target.Channels))
			for _, ch := range rules.Channels {
				if v, ok := rule.Target.For(ch); ok {
					active.Channels[string(ch)] = v
				}
			}
		}
		resp.Rules = append(resp.Rules, active)
	}
	return resp
}

func getEnabledValue(reqEnabled *bool) bool {
	if reqEnabled == nil {
		return true
	}
	return *reqEnabled
}
