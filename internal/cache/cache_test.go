package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagkit/flagkit-go/internal/domain"
	"github.com/flagkit/flagkit-go/internal/telemetry"
)

// recordingProvider is a telemetry.Provider stub that counts cache hit/miss
// calls, for test assertions.
type recordingProvider struct {
	telemetry.NoopProvider
	hits   int
	misses int
}

func (p *recordingProvider) RecordCacheHit(ctx context.Context, flagKey string)  { p.hits++ }
func (p *recordingProvider) RecordCacheMiss(ctx context.Context, flagKey string) { p.misses++ }

func flag(key string) domain.FlagState {
	return domain.FlagState{Key: key, Value: json.RawMessage("true"), Enabled: true, FlagType: domain.FlagTypeBoolean}
}

func TestGetReturnsFreshEntryWithinTTL(t *testing.T) {
	s := New()
	s.Set("a", flag("a"), time.Minute)

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.Key)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(0), stats.Misses)
}

func TestGetMissesAfterTTLExpires(t *testing.T) {
	now := time.Now()
	clock := now
	s := New(WithClock(func() time.Time { return clock }))
	s.Set("a", flag("a"), 10*time.Millisecond)

	clock = now.Add(20 * time.Millisecond)
	_, ok := s.Get("a")
	assert.False(t, ok)

	stale, ok := s.GetStale("a")
	require.True(t, ok)
	assert.Equal(t, "a", stale.Key)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestGetMissingKeyRecordsMiss(t *testing.T) {
	s := New()
	_, ok := s.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), s.Stats().Misses)
}

func TestSetManyInsertsAllFlags(t *testing.T) {
	s := New()
	s.SetMany([]domain.FlagState{flag("a"), flag("b"), flag("c")}, time.Minute)
	assert.Equal(t, 3, s.Size())
	assert.ElementsMatch(t, []string{"a", "b", "c"}, s.AllKeys())
}

func TestEvictionIsFIFOByInsertionOrder(t *testing.T) {
	s := New(WithMaxSize(2))
	s.Set("a", flag("a"), time.Minute)
	s.Set("b", flag("b"), time.Minute)
	s.Set("c", flag("c"), time.Minute)

	assert.Equal(t, 2, s.Size())
	assert.False(t, s.Has("a"), "oldest entry should have been evicted")
	assert.True(t, s.Has("b"))
	assert.True(t, s.Has("c"))
}

func TestReSetMovesKeyToBackOfInsertionOrder(t *testing.T) {
	s := New(WithMaxSize(2))
	s.Set("a", flag("a"), time.Minute)
	s.Set("b", flag("b"), time.Minute)
	s.Set("a", flag("a"), time.Minute) // touch a, b is now oldest
	s.Set("c", flag("c"), time.Minute) // should evict b, not a

	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("b"))
	assert.True(t, s.Has("c"))
}

func TestIsStaleDistinguishesAbsentFromExpired(t *testing.T) {
	now := time.Now()
	clock := now
	s := New(WithClock(func() time.Time { return clock }))
	s.Set("a", flag("a"), 10*time.Millisecond)

	assert.False(t, s.IsStale("a"))
	assert.False(t, s.IsStale("missing"))

	clock = now.Add(20 * time.Millisecond)
	assert.True(t, s.IsStale("a"))
	assert.False(t, s.IsStale("missing"))
}

func TestDeleteRemovesEntry(t *testing.T) {
	s := New()
	s.Set("a", flag("a"), time.Minute)
	s.Delete("a")
	assert.False(t, s.Has("a"))
	assert.Equal(t, 0, s.Size())
}

func TestClearRemovesEverything(t *testing.T) {
	s := New()
	s.SetMany([]domain.FlagState{flag("a"), flag("b")}, time.Minute)
	s.Clear()
	assert.Equal(t, 0, s.Size())
	assert.Empty(t, s.AllKeys())
}

func TestZeroTTLEntryNeverExpires(t *testing.T) {
	s := New()
	s.Set("bootstrap-flag", flag("bootstrap-flag"), 0)
	_, ok := s.Get("bootstrap-flag")
	assert.True(t, ok)
}

func TestStatsReportsValidAndStaleCounts(t *testing.T) {
	now := time.Now()
	clock := now
	s := New(WithClock(func() time.Time { return clock }))
	s.Set("fresh", flag("fresh"), time.Minute)
	s.Set("stale", flag("stale"), 10*time.Millisecond)

	clock = now.Add(20 * time.Millisecond)
	stats := s.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, 1, stats.ValidCount)
	assert.Equal(t, 1, stats.StaleCount)
}

func TestGetRecordsHitAndMissOnTelemetryProvider(t *testing.T) {
	provider := &recordingProvider{}
	s := New(WithTelemetryProvider(provider))
	s.Set("a", flag("a"), time.Minute)

	_, _ = s.Get("a")
	_, _ = s.Get("missing")

	assert.Equal(t, 1, provider.hits)
	assert.Equal(t, 1, provider.misses)
}

func TestAllReturnsClonesNotLiveReferences(t *testing.T) {
	s := New()
	s.Set("a", flag("a"), time.Minute)

	all := s.All()
	all["a"].Value[0] = 'X' // mutating the returned clone's backing array

	got, _ := s.Get("a")
	assert.Equal(t, json.RawMessage("true"), got.Value, "store's entry must be unaffected by mutation of a returned clone")
}
