package stocks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
)

type fakeLookup struct {
	market  crawler.Market
	known   map[string]string
	failing map[string]bool
	delay   time.Duration

	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeLookup) Market() crawler.Market { return f.market }

func (f *fakeLookup) Lookup(ctx context.Context, code string) (crawler.Instrument, bool, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return crawler.Instrument{}, false, ctx.Err()
		}
	}
	if f.failing[code] {
		return crawler.Instrument{}, false, errors.New("connection reset")
	}
	name, ok := f.known[code]
	if !ok {
		return crawler.Instrument{}, false, nil
	}
	return crawler.Instrument{Code: code, DisplayName: name, Market: f.market, Confirmed: true}, true, nil
}

func TestValidateIsolatesFailures(t *testing.T) {
	t.Parallel()

	domestic := &fakeLookup{
		market:  crawler.MarketDomestic,
		known:   map[string]string{"2330": "台積電", "2454": "聯發科"},
		failing: map[string]bool{"2317": true},
	}
	foreign := &fakeLookup{
		market: crawler.MarketForeign,
		known:  map[string]string{"NVDA": "NVIDIA Corp"},
	}
	v := NewValidator(domestic, foreign, nil, ValidatorConfig{Concurrency: 3}, nil)

	got := v.Validate(context.Background(), []string{"2330", "2317", "2454", "1234"}, []string{"NVDA", "ZZZZ"})

	codes := make([]string, 0, len(got))
	for _, inst := range got {
		require.True(t, inst.Confirmed)
		codes = append(codes, inst.Code)
	}
	require.Equal(t, []string{"2330", "2454", "NVDA"}, codes)
}

func TestValidateMergesDuplicates(t *testing.T) {
	t.Parallel()

	domestic := &fakeLookup{market: crawler.MarketDomestic, known: map[string]string{"2330": "台積電"}}
	v := NewValidator(domestic, nil, nil, ValidatorConfig{}, nil)

	got := v.Validate(context.Background(), []string{"2330", "2330"}, []string{"AAPL"})
	require.Len(t, got, 1)
	require.Equal(t, "2330", got[0].Code)
}

func TestValidateBoundsConcurrency(t *testing.T) {
	t.Parallel()

	domestic := &fakeLookup{market: crawler.MarketDomestic, known: map[string]string{}, delay: 20 * time.Millisecond}
	v := NewValidator(domestic, nil, nil, ValidatorConfig{Concurrency: 2}, nil)

	v.Validate(context.Background(), []string{"1101", "1102", "1103", "1104", "1105", "1106"}, nil)
	require.Equal(t, int32(6), domestic.calls.Load())
	require.LessOrEqual(t, domestic.peak.Load(), int32(2))
}

func TestValidateTimesOutSingleLookup(t *testing.T) {
	t.Parallel()

	domestic := &fakeLookup{market: crawler.MarketDomestic, known: map[string]string{"2330": "台積電"}, delay: time.Second}
	v := NewValidator(domestic, nil, nil, ValidatorConfig{Timeout: 20 * time.Millisecond}, nil)

	start := time.Now()
	got := v.Validate(context.Background(), []string{"2330"}, nil)
	require.Empty(t, got)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestValidateUsesCache(t *testing.T) {
	t.Parallel()

	domestic := &fakeLookup{market: crawler.MarketDomestic, known: map[string]string{"2330": "台積電"}}
	cache := NewMemoryCache()
	v := NewValidator(domestic, nil, cache, ValidatorConfig{CacheTTL: time.Hour}, nil)

	first := v.Validate(context.Background(), []string{"2330", "1234"}, nil)
	second := v.Validate(context.Background(), []string{"2330", "1234"}, nil)

	require.Equal(t, first, second)
	require.Equal(t, int32(2), domestic.calls.Load(), "second pass should be served from cache, including the negative answer")
}

func TestValidateDoesNotCacheErrors(t *testing.T) {
	t.Parallel()

	domestic := &fakeLookup{market: crawler.MarketDomestic, failing: map[string]bool{"2317": true}}
	cache := NewMemoryCache()
	v := NewValidator(domestic, nil, cache, ValidatorConfig{CacheTTL: time.Hour}, nil)

	v.Validate(context.Background(), []string{"2317"}, nil)
	v.Validate(context.Background(), []string{"2317"}, nil)
	require.Equal(t, int32(2), domestic.calls.Load())
}

func TestMemoryCacheExpiry(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewMemoryCache()
	cache.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "TW:2330", Entry{Confirmed: true}, time.Minute))
	_, hit, err := cache.Get(ctx, "TW:2330")
	require.NoError(t, err)
	require.True(t, hit)

	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()

	_, hit, err = cache.Get(ctx, "TW:2330")
	require.NoError(t, err)
	require.False(t, hit)
}
