package rates

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"moneta/internal/cache"
	"moneta/internal/core"
	"moneta/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "rates_test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestCache(t *testing.T, provider Provider) (*Cache, *time.Time) {
	t.Helper()
	c := NewCache(newTestStore(t), provider, 24*time.Hour, time.Second)
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

// resetMemo drops the in-process memo so clock-driven expiry is visible.
func resetMemo(c *Cache) {
	c.memo = cache.NewLRU[Rate](memoSize, memoTTL)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestGetRateIdentity(t *testing.T) {
	c, now := newTestCache(t, nil)
	r, err := c.GetRate(context.Background(), "USD", "usd", *now)
	if err != nil {
		t.Fatalf("identity rate: %v", err)
	}
	if !r.Value.Equal(decimal.NewFromInt(1)) || r.Stale {
		t.Fatalf("identity rate = %+v, want 1.0 fresh", r)
	}
}

func TestGetRateFreshDirect(t *testing.T) {
	c, now := newTestCache(t, nil)
	ctx := context.Background()

	if err := c.Upsert(ctx, "EUR", "USD", dec("1.0870"), *now, "ecb"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	r, err := c.GetRate(ctx, "EUR", "USD", *now)
	if err != nil {
		t.Fatalf("get rate: %v", err)
	}
	if !r.Value.Equal(dec("1.0870")) || r.Stale {
		t.Fatalf("rate = %+v, want 1.0870 fresh", r)
	}

	// Second lookup is served from the memo.
	r2, err := c.GetRate(ctx, "EUR", "USD", *now)
	if err != nil || !r2.Value.Equal(r.Value) {
		t.Fatalf("memoized rate = %+v, %v", r2, err)
	}
}

func TestGetRateFreshInverse(t *testing.T) {
	c, now := newTestCache(t, nil)
	ctx := context.Background()

	if err := c.Upsert(ctx, "USD", "EUR", dec("1.0870"), *now, "ecb"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	r, err := c.GetRate(ctx, "EUR", "USD", *now)
	if err != nil {
		t.Fatalf("get rate: %v", err)
	}
	// 1/1.0870 rounded to six places.
	if want := dec("0.919963"); !r.Value.Equal(want) {
		t.Fatalf("inverse rate = %s, want %s", r.Value, want)
	}
	if r.Stale {
		t.Fatal("inverse of a fresh rate must not be stale")
	}
}

func TestGetRateStaleFallback(t *testing.T) {
	c, now := newTestCache(t, nil)
	ctx := context.Background()

	if err := c.Upsert(ctx, "EUR", "USD", dec("1.10"), *now, "ecb"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Window passes; the rate expires but is not yet flagged stale.
	*now = now.Add(25 * time.Hour)
	resetMemo(c)
	if _, err := c.GetRate(ctx, "EUR", "USD", *now); !errors.Is(err, core.ErrConversionUnavailable) {
		t.Fatalf("expired unflagged rate should miss, got %v", err)
	}

	// The maintenance sweep flips it to stale; lookups then degrade
	// gracefully instead of failing.
	n, err := c.MarkExpiredAsStale(ctx)
	if err != nil || n != 1 {
		t.Fatalf("MarkExpiredAsStale = %d, %v; want 1 row", n, err)
	}
	r, err := c.GetRate(ctx, "EUR", "USD", *now)
	if err != nil {
		t.Fatalf("stale fallback: %v", err)
	}
	if !r.Stale || !r.Value.Equal(dec("1.10")) {
		t.Fatalf("rate = %+v, want stale 1.10", r)
	}

	// Idempotent: a second sweep flips nothing.
	if n, err := c.MarkExpiredAsStale(ctx); err != nil || n != 0 {
		t.Fatalf("second sweep = %d, %v; want 0 rows", n, err)
	}
}

func TestGetRateStaleInverse(t *testing.T) {
	c, now := newTestCache(t, nil)
	ctx := context.Background()

	if err := c.Upsert(ctx, "USD", "EUR", dec("2"), *now, "ecb"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	*now = now.Add(25 * time.Hour)
	resetMemo(c)
	if _, err := c.MarkExpiredAsStale(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	r, err := c.GetRate(ctx, "EUR", "USD", *now)
	if err != nil {
		t.Fatalf("stale inverse: %v", err)
	}
	if !r.Stale || !r.Value.Equal(dec("0.5")) {
		t.Fatalf("rate = %+v, want stale 0.5", r)
	}
}

func TestGetRateFreshBeatsStale(t *testing.T) {
	c, now := newTestCache(t, nil)
	ctx := context.Background()

	// An old stale direct rate and a fresh inverse rate coexist; the
	// fresh inverse must win.
	if err := c.Upsert(ctx, "EUR", "USD", dec("1.05"), now.AddDate(0, 0, -3), "ecb"); err != nil {
		t.Fatalf("upsert old: %v", err)
	}
	*now = now.Add(25 * time.Hour)
	if _, err := c.MarkExpiredAsStale(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if err := c.Upsert(ctx, "USD", "EUR", dec("2"), *now, "ecb"); err != nil {
		t.Fatalf("upsert fresh: %v", err)
	}
	resetMemo(c)

	r, err := c.GetRate(ctx, "EUR", "USD", *now)
	if err != nil {
		t.Fatalf("get rate: %v", err)
	}
	if r.Stale || !r.Value.Equal(dec("0.5")) {
		t.Fatalf("rate = %+v, want fresh inverse 0.5", r)
	}
}

func TestGetRateMiss(t *testing.T) {
	c, now := newTestCache(t, nil)
	_, err := c.GetRate(context.Background(), "GBP", "JPY", *now)
	if !errors.Is(err, core.ErrConversionUnavailable) {
		t.Fatalf("expected ErrConversionUnavailable, got %v", err)
	}
}

func TestManualRatesNeverExpire(t *testing.T) {
	c, now := newTestCache(t, nil)
	ctx := context.Background()

	if err := c.Upsert(ctx, "EUR", "USD", dec("1.08"), *now, SourceManual); err != nil {
		t.Fatalf("upsert manual: %v", err)
	}
	*now = now.AddDate(0, 1, 0)
	resetMemo(c)
	if _, err := c.MarkExpiredAsStale(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	r, err := c.GetRate(ctx, "EUR", "USD", *now)
	if err != nil {
		t.Fatalf("manual rate after a month: %v", err)
	}
	if r.Stale {
		t.Fatalf("manual rate must stay fresh, got %+v", r)
	}
}

func TestPurgeKeepsNewestPerPair(t *testing.T) {
	c, now := newTestCache(t, nil)
	ctx := context.Background()

	for _, day := range []int{-10, -5, -1} {
		if err := c.Upsert(ctx, "EUR", "USD", dec("1.08"), now.AddDate(0, 0, day), "ecb"); err != nil {
			t.Fatalf("upsert day %d: %v", day, err)
		}
	}

	n, err := c.PurgeOlderThan(ctx, 3)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 2 {
		t.Fatalf("purged %d rows, want 2", n)
	}

	resetMemo(c)
	if _, err := c.GetRate(ctx, "EUR", "USD", *now); err != nil {
		t.Fatalf("newest rate must survive the purge: %v", err)
	}
}

type fakeProvider struct {
	value decimal.Decimal
	err   error
	calls int
}

func (p *fakeProvider) FetchRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	p.calls++
	if p.err != nil {
		return decimal.Zero, p.err
	}
	return p.value, nil
}

func (p *fakeProvider) Source() string { return "fake" }

func TestLiveFetchFillsMiss(t *testing.T) {
	provider := &fakeProvider{value: dec("1.0870")}
	c, now := newTestCache(t, provider)
	ctx := context.Background()

	r, err := c.GetRate(ctx, "EUR", "USD", *now)
	if err != nil {
		t.Fatalf("live fetch: %v", err)
	}
	if r.Stale || !r.Value.Equal(dec("1.0870")) {
		t.Fatalf("rate = %+v, want fresh 1.0870", r)
	}
	if provider.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", provider.calls)
	}

	// The fetched rate is persisted: a second lookup with a cold memo
	// must not call the provider again.
	resetMemo(c)
	if _, err := c.GetRate(ctx, "EUR", "USD", *now); err != nil {
		t.Fatalf("persisted rate: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("provider calls = %d, want still 1", provider.calls)
	}
}

func TestLiveFetchFailureFallsThroughToStale(t *testing.T) {
	provider := &fakeProvider{err: errors.New("provider down")}
	c, now := newTestCache(t, provider)
	ctx := context.Background()

	if err := c.Upsert(ctx, "EUR", "USD", dec("1.09"), *now, "ecb"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	*now = now.Add(25 * time.Hour)
	resetMemo(c)
	if _, err := c.MarkExpiredAsStale(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	r, err := c.GetRate(ctx, "EUR", "USD", *now)
	if err != nil {
		t.Fatalf("fallback after provider failure: %v", err)
	}
	if !r.Stale || !r.Value.Equal(dec("1.09")) {
		t.Fatalf("rate = %+v, want stale 1.09", r)
	}
	if provider.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", provider.calls)
	}
}

func TestLiveFetchSkippedForHistoricalDates(t *testing.T) {
	provider := &fakeProvider{value: dec("1.08")}
	c, now := newTestCache(t, provider)

	_, err := c.GetRate(context.Background(), "EUR", "USD", now.AddDate(0, 0, -30))
	if !errors.Is(err, core.ErrConversionUnavailable) {
		t.Fatalf("expected miss for historical date, got %v", err)
	}
	if provider.calls != 0 {
		t.Fatalf("provider must not be called for historical dates, calls = %d", provider.calls)
	}
}
