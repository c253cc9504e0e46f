package rulestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fwupdate/internal/rules"
	apperrors "fwupdate/pkg/errors"
)

type fakeRepository struct {
	mu    sync.Mutex
	sets  []rules.RuleSet
	errs  []error
	calls int
}

func (f *fakeRepository) Source() string { return "fake" }

func (f *fakeRepository) GetRuleSet(context.Context) (rules.RuleSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.sets) {
		return f.sets[i], nil
	}
	return f.sets[len(f.sets)-1], nil
}

func (f *fakeRepository) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestStoreDefaultsBeforeLoad(t *testing.T) {
	store := NewStore(&fakeRepository{})

	assert.Equal(t, rules.DefaultRules(), store.RuleSet())
	loaded, _ := store.Loaded()
	assert.False(t, loaded)
}

func TestStoreReload(t *testing.T) {
	first := rules.RuleSet{{ID: "a"}}
	second := rules.RuleSet{{ID: "b"}, {ID: "c"}}
	repo := &fakeRepository{sets: []rules.RuleSet{first, second}}
	store := NewStore(repo)

	require.NoError(t, store.Reload(context.Background()))
	assert.Equal(t, "a", store.RuleSet()[0].ID)

	require.NoError(t, store.Reload(context.Background()))
	set := store.RuleSet()
	require.Len(t, set, 2)
	assert.Equal(t, "b", set[0].ID)

	loaded, at := store.Loaded()
	assert.True(t, loaded)
	assert.False(t, at.IsZero())
}

func TestStoreReloadFailureKeepsPrevious(t *testing.T) {
	boom := errors.New("database down")
	repo := &fakeRepository{
		sets: []rules.RuleSet{{{ID: "a"}}, nil},
		errs: []error{nil, boom},
	}
	store := NewStore(repo)

	require.NoError(t, store.Reload(context.Background()))
	err := store.Reload(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "a", store.RuleSet()[0].ID)
}

func TestStoreReloadRetries(t *testing.T) {
	flaky := errors.New("connection reset")

	tests := []struct {
		name      string
		errs      []error
		wantErr   error
		wantCalls int
	}{
		{
			name:      "recovers after transient failures",
			errs:      []error{flaky, flaky, nil},
			wantCalls: 3,
		},
		{
			name:      "configuration errors are not retried",
			errs:      []error{apperrors.ErrConfiguration.WithMessage("bad rule")},
			wantErr:   apperrors.ErrConfiguration,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeRepository{sets: []rules.RuleSet{nil, nil, {{ID: "a"}}}, errs: tt.errs}
			store := NewStore(repo, WithRetry(time.Millisecond, 5*time.Second))

			err := store.Reload(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "a", store.RuleSet()[0].ID)
			}
			assert.Equal(t, tt.wantCalls, repo.callCount())
		})
	}
}

func TestStoreReloadRetryStopsOnCancel(t *testing.T) {
	repo := &fakeRepository{errs: []error{errors.New("down"), errors.New("down"), errors.New("down")}, sets: []rules.RuleSet{nil}}
	store := NewStore(repo, WithRetry(time.Hour, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Reload(ctx) }()

	assert.Eventually(t, func() bool { return repo.callCount() >= 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("retry did not stop")
	}
	loaded, _ := store.Loaded()
	assert.False(t, loaded)
}

func TestStoreEmptySetFallsBackToDefault(t *testing.T) {
	store := NewStore(&fakeRepository{sets: []rules.RuleSet{{}}})

	require.NoError(t, store.Reload(context.Background()))
	assert.Equal(t, rules.DefaultRules(), store.RuleSet())
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	store := NewStore(&fakeRepository{sets: []rules.RuleSet{{{ID: "a"}}}})
	require.NoError(t, store.Reload(context.Background()))

	set := store.RuleSet()
	set[0].ID = "mutated"
	assert.Equal(t, "a", store.RuleSet()[0].ID)
}

func TestStartReloader(t *testing.T) {
	repo := &fakeRepository{sets: []rules.RuleSet{{{ID: "a"}}}}
	store := NewStore(repo)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- store.StartReloader(ctx, 10*time.Millisecond)
	}()

	assert.Eventually(t, func() bool { return repo.callCount() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("reloader did not stop")
	}
}

func TestFileRepository(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	doc := `
- id: upgrade-751
  conditions:
    notecard: 7.5.1.16900
  target:
    notecard: 7.5.2.17004
- id: catch-all
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	repo := NewFileRepository(path, nil)
	set, err := repo.GetRuleSet(context.Background())
	require.NoError(t, err)
	require.Len(t, set, 2)
	assert.Equal(t, "upgrade-751", set[0].ID)
	v, ok := set[0].Target.For(rules.ChannelNotecard)
	assert.True(t, ok)
	assert.Equal(t, "7.5.2.17004", v)
	assert.Nil(t, set[1].Target)
}

func TestFileRepositoryErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewFileRepository(filepath.Join(dir, "missing.yaml"), nil).GetRuleSet(context.Background())
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("- id: [unclosed"), 0o600))
	_, err = NewFileRepository(bad, nil).GetRuleSet(context.Background())
	assert.True(t, apperrors.IsConfiguration(err))

	pred := filepath.Join(dir, "pred.yaml")
	require.NoError(t, os.WriteFile(pred, []byte("- conditions:\n    notecard: {cel: 'present'}\n"), 0o600))
	_, err = NewFileRepository(pred, nil).GetRuleSet(context.Background())
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestFleetUpdateRules(t *testing.T) {
	set := FleetUpdateRules()

	tests := []struct {
		name   string
		attrs  rules.Attributes
		wantID string
		wantOK bool
	}{
		{
			name:   "7.5.1 notecard",
			attrs:  rules.Attributes{"notecard": "7.5.1.16900"},
			wantID: "rule-1",
			wantOK: true,
		},
		{
			name:   "old notecard in update fleet",
			attrs:  rules.Attributes{"notecard": "6.2.5.16868", "fleets": []any{UpdateFleetUID}},
			wantID: "rule-2",
			wantOK: true,
		},
		{
			name:   "old notecard elsewhere",
			attrs:  rules.Attributes{"notecard": "6.2.5.16868", "fleets": []any{"fleet:other"}},
			wantOK: false,
		},
		{
			name:   "current notecard",
			attrs:  rules.Attributes{"notecard": "8.1.3.17044", "fleets": []any{UpdateFleetUID}},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok, err := rules.Evaluate(tt.attrs, set)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantID, m.RuleID)
			}
		})
	}
}
