package suggest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lacikas/backend/internal/denom"
	"lacikas/backend/internal/domain"
	"lacikas/backend/internal/money"
)

type memoryCache struct {
	mu     sync.Mutex
	values map[string]domain.SuggestionResponse
	sets   int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: make(map[string]domain.SuggestionResponse)}
}

func (c *memoryCache) Get(_ context.Context, key string) (*domain.SuggestionResponse, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (c *memoryCache) Set(_ context.Context, key string, value *domain.SuggestionResponse, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = *value
	c.sets++
	return nil
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (*domain.SuggestionResponse, bool, error) {
	return nil, false, errors.New("redis down")
}

func (failingCache) Set(context.Context, string, *domain.SuggestionResponse, time.Duration) error {
	return errors.New("redis down")
}

func idr() money.Formatter { return money.NewFormatter("IDR", "Rp", 0) }

func sampleTill() domain.Till {
	return domain.Till{
		ID:        "till-main",
		StoreID:   "main-store",
		Bills:     domain.Bills{1000: 2, 500: 3, 100: 5},
		TotalCash: 4000,
		Version:   4,
	}
}

func TestSuggestReturnsGreedyFirst(t *testing.T) {
	engine := NewEngine(nil, 0, 0, idr(), nil)

	resp, err := engine.Suggest(context.Background(), sampleTill(), 2600)
	require.NoError(t, err)
	assert.True(t, resp.Feasible)
	assert.True(t, resp.Reachable)
	assert.True(t, resp.Greedy)
	assert.False(t, resp.Cached)
	assert.Equal(t, "Rp 2.600", resp.TargetDisplay)
	require.NotEmpty(t, resp.Suggestions)

	first := resp.Suggestions[0]
	assert.Equal(t, domain.Bills{1000: 2, 500: 1, 100: 1}, first.Bills)
	assert.Equal(t, 4, first.BillCount)
	assert.Equal(t, int64(2600), first.Total)
	assert.Equal(t, "2 x Rp 1.000 + 1 x Rp 500 + 1 x Rp 100", first.Display)

	for _, s := range resp.Suggestions {
		assert.Equal(t, int64(2600), s.Total)
	}
}

func TestSuggestInfeasibleIsNotAnError(t *testing.T) {
	engine := NewEngine(nil, 0, 0, idr(), nil)
	till := sampleTill()
	till.Bills = domain.Bills{500: 3}

	resp, err := engine.Suggest(context.Background(), till, 1200)
	require.NoError(t, err)
	assert.True(t, resp.Reachable)
	assert.False(t, resp.Feasible)
	assert.Empty(t, resp.Suggestions)
	assert.NotNil(t, resp.Suggestions)

	resp, err = engine.Suggest(context.Background(), till, 5000)
	require.NoError(t, err)
	assert.False(t, resp.Reachable)
	assert.False(t, resp.Feasible)
}

func TestSuggestZeroTarget(t *testing.T) {
	engine := NewEngine(nil, 0, 0, idr(), nil)

	resp, err := engine.Suggest(context.Background(), sampleTill(), 0)
	require.NoError(t, err)
	assert.True(t, resp.Feasible)
	require.Len(t, resp.Suggestions, 1)
	assert.Empty(t, resp.Suggestions[0].Bills)
	assert.Equal(t, 0, resp.Suggestions[0].BillCount)
}

func TestSuggestRejectsBadInput(t *testing.T) {
	engine := NewEngine(nil, 0, 0, idr(), nil)

	_, err := engine.Suggest(context.Background(), sampleTill(), -1)
	assert.ErrorIs(t, err, denom.ErrNegativeTarget)

	till := sampleTill()
	till.Bills = domain.Bills{500: -1}
	_, err = engine.Suggest(context.Background(), till, 500)
	assert.ErrorIs(t, err, denom.ErrNegativeCount)
}

func TestSuggestCachesPerTillVersion(t *testing.T) {
	c := newMemoryCache()
	engine := NewEngine(c, time.Minute, 0, idr(), nil)
	ctx := context.Background()
	till := sampleTill()

	first, err := engine.Suggest(ctx, till, 2600)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := engine.Suggest(ctx, till, 2600)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Suggestions, second.Suggestions)
	assert.Equal(t, 1, c.sets)

	till.Version++
	third, err := engine.Suggest(ctx, till, 2600)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, till.Version, third.TillVersion)
	assert.Equal(t, 2, c.sets)
}

func TestSuggestSurvivesCacheFailure(t *testing.T) {
	engine := NewEngine(failingCache{}, 0, 0, idr(), nil)

	resp, err := engine.Suggest(context.Background(), sampleTill(), 1500)
	require.NoError(t, err)
	assert.True(t, resp.Feasible)
	assert.False(t, resp.Cached)
}

func TestSuggestReportsTruncation(t *testing.T) {
	engine := NewEngine(nil, 0, 1, idr(), nil)
	till := sampleTill()
	till.Bills = domain.Bills{700: 3, 300: 5}

	resp, err := engine.Suggest(context.Background(), till, 1200)
	require.NoError(t, err)
	assert.True(t, resp.Truncated)
}

func TestCacheKeyDependsOnEveryPart(t *testing.T) {
	base := buildCacheKey("till-main", 1, 2600)
	assert.Equal(t, base, buildCacheKey("till-main", 1, 2600))
	assert.NotEqual(t, base, buildCacheKey("till-2", 1, 2600))
	assert.NotEqual(t, base, buildCacheKey("till-main", 2, 2600))
	assert.NotEqual(t, base, buildCacheKey("till-main", 1, 2700))
	assert.Contains(t, base, "lacikas:suggestion:")
}
