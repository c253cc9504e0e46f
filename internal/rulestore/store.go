package rulestore

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"fwupdate/internal/logger"
	"fwupdate/internal/rules"
	apperrors "fwupdate/pkg/errors"
	"fwupdate/pkg/metrics"
)

type Option func(*Store)

func WithLogger(log logger.Logger) Option {
	return func(s *Store) {
		s.logger = log
	}
}

// WithJitter delays each scheduled reload by up to max, so that many
// instances do not hit the rule source at once.
func WithJitter(max time.Duration) Option {
	return func(s *Store) {
		s.jitterMax = max
	}
}

// WithRetry retries a failing load with exponential backoff, starting at
// initial and giving up after maxElapsed. Configuration errors fail at once.
func WithRetry(initial, maxElapsed time.Duration) Option {
	return func(s *Store) {
		s.retryInitial = initial
		s.retryMaxElapsed = maxElapsed
	}
}

// Store publishes the active rule set. Readers get a snapshot; a reload
// replaces the whole set or leaves the previous one in place.
type Store struct {
	repo      Repository
	logger    logger.Logger
	jitterMax time.Duration

	retryInitial    time.Duration
	retryMaxElapsed time.Duration

	mu       sync.RWMutex
	set      rules.RuleSet
	loaded   bool
	loadedAt time.Time
}

func NewStore(repo Repository, opts ...Option) *Store {
	s := &Store{
		repo:   repo,
		logger: logger.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RuleSet returns a copy of the active rules. Before the first successful
// load, or when the source holds no rules, it returns rules.DefaultRules().
func (s *Store) RuleSet() rules.RuleSet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.set) == 0 {
		return rules.DefaultRules()
	}
	set := make(rules.RuleSet, len(s.set))
	copy(set, s.set)
	return set
}

// Loaded reports whether at least one reload succeeded, and when the last one did.
func (s *Store) Loaded() (bool, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded, s.loadedAt
}

func (s *Store) Source() string {
	return s.repo.Source()
}

// Reload fetches the rule set from the repository immediately.
func (s *Store) Reload(ctx context.Context) error {
	set, err := s.fetch(ctx)
	if err != nil {
		metrics.IncRuleReload(s.repo.Source(), "error")
		return err
	}

	s.mu.Lock()
	s.set = set
	s.loaded = true
	s.loadedAt = time.Now()
	s.mu.Unlock()

	metrics.IncRuleReload(s.repo.Source(), "success")
	metrics.SetActiveRules(len(set))
	s.logger.InfowCtx(ctx, "Successfully reloaded rules",
		"source", s.repo.Source(),
		"rules_count", len(set),
	)
	return nil
}

func (s *Store) fetch(ctx context.Context) (rules.RuleSet, error) {
	if s.retryMaxElapsed <= 0 {
		return s.repo.GetRuleSet(ctx)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retryInitial
	policy.MaxElapsedTime = s.retryMaxElapsed

	var set rules.RuleSet
	err := backoff.RetryNotify(func() error {
		var err error
		set, err = s.repo.GetRuleSet(ctx)
		if apperrors.IsConfiguration(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		s.logger.WarnwCtx(ctx, "Rule load failed, retrying",
			"source", s.repo.Source(),
			"retry_in_ms", wait.Milliseconds(),
			"error", err,
		)
	})
	return set, err
}

// ReloadRules is Reload for callers that react to rule change events.
func (s *Store) ReloadRules(ctx context.Context) error {
	return s.Reload(ctx)
}

// StartReloader reloads immediately, then every interval until ctx is done.
// Failed reloads are logged and keep the previous rule set.
func (s *Store) StartReloader(ctx context.Context, interval time.Duration) error {
	if err := s.Reload(ctx); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to reload rules", "source", s.repo.Source(), "error", err)
	}

	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.applyJitter(ctx); err != nil {
				return err
			}
			if err := s.Reload(ctx); err != nil {
				s.logger.ErrorwCtx(ctx, "Failed to reload rules", "source", s.repo.Source(), "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Store) applyJitter(ctx context.Context) error {
	if s.jitterMax <= 0 {
		return nil
	}

	jitter := time.Duration(rand.Int63n(int64(s.jitterMax)))
	s.logger.DebugwCtx(ctx, "Reload scheduled with jitter", "jitter_ms", jitter.Milliseconds())

	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
