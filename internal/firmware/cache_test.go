package firmware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "fwupdate/pkg/errors"
)

type fakeSource struct {
	mu      sync.Mutex
	catalog []CatalogEntry
	err     error
	calls   int
}

func (f *fakeSource) FetchFirmwareCatalog(ctx context.Context) ([]CatalogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.catalog, nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func strPtr(s string) *string { return &s }

func sampleCatalog() []CatalogEntry {
	return []CatalogEntry{
		{Channel: "notecard", Version: "7.5.2.17004", Filename: strPtr("notecard-7.5.2.17004.bin")},
		{Channel: "notecard", Version: "8.1.3.17044", Filename: strPtr("notecard-8.1.3.17044.bin")},
		{Channel: "host", Version: "1.0.0", Filename: strPtr("")},
		{Channel: "host", Version: "1.1.0"},
		{Channel: "", Version: "9.9.9", Filename: strPtr("orphan.bin")},
		{Channel: "modem", Filename: strPtr("noversion.bin")},
	}
}

func newTestCache(source CatalogSource, clock *fakeClock) *Cache {
	return NewCache(source, DefaultTTL, WithClock(clock.Now))
}

func TestRetrieve(t *testing.T) {
	source := &fakeSource{catalog: sampleCatalog()}
	cache := newTestCache(source, &fakeClock{now: time.Unix(1_000_000, 0)})
	ctx := context.Background()

	tests := []struct {
		name     string
		channel  string
		version  string
		want     string
		wantErr  error
		wantText string
	}{
		{
			name:    "hit",
			channel: "notecard",
			version: "8.1.3.17044",
			want:    "notecard-8.1.3.17044.bin",
		},
		{
			name:     "unknown channel",
			channel:  "modem",
			version:  "1",
			wantErr:  ErrFirmwareUnavailable,
			wantText: "Firmware for modem not available",
		},
		{
			name:     "unknown version",
			channel:  "notecard",
			version:  "1.0",
			wantErr:  ErrVersionNotFound,
			wantText: "Firmware version 1.0 for notecard not available",
		},
		{
			name:     "entry without filename is discarded",
			channel:  "host",
			version:  "1.1.0",
			wantErr:  ErrVersionNotFound,
			wantText: "(1 versions cached)",
		},
		{
			name:     "empty filename is corrupt",
			channel:  "host",
			version:  "1.0.0",
			wantErr:  ErrCorruptEntry,
			wantText: "Invalid firmware file name for version 1.0.0 for host",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cache.Retrieve(ctx, tt.channel, tt.version)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, apperrors.IsLookup(err))
				assert.Contains(t, err.Error(), tt.wantText)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, 1, source.Calls())
	assert.Equal(t, 3, cache.Size())
}

func TestRetrieveTTLBoundary(t *testing.T) {
	source := &fakeSource{catalog: sampleCatalog()}
	clock := &fakeClock{now: time.Unix(1_000_000, 0)}
	cache := newTestCache(source, clock)
	ctx := context.Background()

	assert.True(t, cache.Stale())

	_, err := cache.Retrieve(ctx, "notecard", "7.5.2.17004")
	require.NoError(t, err)
	assert.Equal(t, 1, source.Calls())

	clock.Advance(DefaultTTL - time.Second)
	_, err = cache.Retrieve(ctx, "notecard", "7.5.2.17004")
	require.NoError(t, err)
	assert.Equal(t, 1, source.Calls())
	assert.False(t, cache.Stale())

	clock.Advance(time.Second)
	assert.True(t, cache.Stale())
	_, err = cache.Retrieve(ctx, "notecard", "7.5.2.17004")
	require.NoError(t, err)
	assert.Equal(t, 2, source.Calls())
}

func TestRetrieveMissDoesNotRefreshFreshCache(t *testing.T) {
	source := &fakeSource{catalog: sampleCatalog()}
	cache := newTestCache(source, &fakeClock{now: time.Unix(0, 0)})
	ctx := context.Background()

	_, err := cache.Retrieve(ctx, "host", "2.0.0")
	require.Error(t, err)
	_, err = cache.Retrieve(ctx, "host", "2.0.0")
	require.Error(t, err)

	assert.Equal(t, 1, source.Calls())
}

func TestRefreshFailureLeavesCacheStale(t *testing.T) {
	boom := apperrors.ErrCollaborator.WithMessage("Notehub path not found")
	source := &fakeSource{catalog: sampleCatalog()}
	clock := &fakeClock{now: time.Unix(0, 0)}
	cache := newTestCache(source, clock)
	ctx := context.Background()

	require.NoError(t, cache.Refresh(ctx))
	clock.Advance(DefaultTTL)

	source.err = boom
	_, err := cache.Retrieve(ctx, "notecard", "7.5.2.17004")
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.True(t, apperrors.IsCollaborator(err))
	assert.False(t, apperrors.IsLookup(err))
	assert.True(t, cache.Stale())
	assert.Equal(t, 3, cache.Size())

	source.err = nil
	got, err := cache.Retrieve(ctx, "notecard", "7.5.2.17004")
	require.NoError(t, err)
	assert.Equal(t, "notecard-7.5.2.17004.bin", got)
	assert.Equal(t, 3, source.Calls())
}

func TestRefreshReplacesWholesale(t *testing.T) {
	source := &fakeSource{catalog: sampleCatalog()}
	clock := &fakeClock{now: time.Unix(0, 0)}
	cache := newTestCache(source, clock)
	ctx := context.Background()

	require.NoError(t, cache.Refresh(ctx))

	source.catalog = []CatalogEntry{
		{Channel: "host", Version: "2.0.0", Filename: strPtr("host-2.bin")},
	}
	clock.Advance(DefaultTTL)

	got, err := cache.Retrieve(ctx, "host", "2.0.0")
	require.NoError(t, err)
	assert.Equal(t, "host-2.bin", got)

	_, err = cache.Retrieve(ctx, "notecard", "7.5.2.17004")
	assert.ErrorIs(t, err, ErrFirmwareUnavailable)
}

func TestRetrieveConcurrent(t *testing.T) {
	source := &fakeSource{catalog: sampleCatalog()}
	cache := NewCache(source, time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := cache.Retrieve(ctx, "notecard", "8.1.3.17044")
			assert.NoError(t, err)
			assert.Equal(t, "notecard-8.1.3.17044.bin", got)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, source.Calls())
}

func TestNewCacheDefaultTTL(t *testing.T) {
	cache := NewCache(CatalogSourceFunc(func(context.Context) ([]CatalogEntry, error) {
		return nil, nil
	}), 0)
	assert.Equal(t, DefaultTTL, cache.ttl)
}
