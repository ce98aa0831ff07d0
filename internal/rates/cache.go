// Package rates implements the exchange-rate cache: a freshness-first
// lookup chain over stored rates, an in-process memo for hot pairs, and an
// optional live-fetch path with a bounded timeout.
package rates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"moneta/internal/cache"
	"moneta/internal/core"
	"moneta/internal/storage"
)

// SourceManual tags rates entered by hand. Manual rates never expire.
const SourceManual = "manual"

const (
	memoSize = 512
	memoTTL  = 5 * time.Minute
)

// Rate is one resolved conversion. Stale signals the caller got a
// deliberate fallback (the write still succeeds); it is a warning, not an
// error.
type Rate struct {
	Value  decimal.Decimal
	Stale  bool
	Source string
}

// Cache resolves conversion rates. Lookup order: identity, fresh direct,
// fresh inverse, live fetch, stale direct, stale inverse, miss. Freshness
// wins over symmetry, symmetry over degradation; a transaction write is
// never failed solely because the rate provider is down.
type Cache struct {
	store    *storage.Store
	memo     *cache.LRU[Rate]
	provider Provider

	fetchTimeout time.Duration
	freshFor     time.Duration
	now          func() time.Time
}

// NewCache builds a rate cache. provider may be nil, which disables the
// live-fetch step. freshFor is the freshness window applied to fetched
// rates (24h by default, see config).
func NewCache(store *storage.Store, provider Provider, freshFor, fetchTimeout time.Duration) *Cache {
	return &Cache{
		store:        store,
		memo:         cache.NewLRU[Rate](memoSize, memoTTL),
		provider:     provider,
		fetchTimeout: fetchTimeout,
		freshFor:     freshFor,
		now:          time.Now,
	}
}

// GetRate resolves the rate converting one unit of from into to, as of
// the given date. Equal currencies short-circuit to 1.0 without touching
// the table. On a full miss the error wraps core.ErrConversionUnavailable.
func (c *Cache) GetRate(ctx context.Context, from, to string, asOf time.Time) (Rate, error) {
	from, err := core.NormalizeCurrency(from)
	if err != nil {
		return Rate{}, err
	}
	to, err = core.NormalizeCurrency(to)
	if err != nil {
		return Rate{}, err
	}
	if from == to {
		return Rate{Value: decimal.NewFromInt(1), Source: "identity"}, nil
	}

	key := memoKey(from, to, asOf)
	if r, ok := c.memo.Get(key); ok {
		return r, nil
	}

	now := c.now()

	// 1. Fresh direct rate.
	if stored, err := c.store.FreshRate(ctx, from, to, asOf, now); err == nil {
		r := Rate{Value: stored.Rate, Source: stored.Source}
		c.memo.Set(key, r)
		return r, nil
	} else if !isNotFound(err) {
		return Rate{}, err
	}

	// 2. Inverse of a fresh rate.
	if stored, err := c.store.FreshRate(ctx, to, from, asOf, now); err == nil {
		r := Rate{Value: core.InverseRate(stored.Rate), Source: stored.Source}
		c.memo.Set(key, r)
		return r, nil
	} else if !isNotFound(err) {
		return Rate{}, err
	}

	// 3. Live fetch, bounded by the configured timeout. Only worth trying
	// when the caller asks about today or later; a provider only serves
	// current rates. Failure falls through to the stale branches.
	if c.provider != nil && !asOf.Before(truncateDay(now)) {
		if r, ok := c.liveFetch(ctx, from, to, now); ok {
			c.memo.Set(key, r)
			return r, nil
		}
	}

	// 4. Stale direct rate, kept as deliberate fallback.
	if stored, err := c.store.StaleRate(ctx, from, to, asOf); err == nil {
		return Rate{Value: stored.Rate, Stale: true, Source: stored.Source}, nil
	} else if !isNotFound(err) {
		return Rate{}, err
	}

	// 5. Inverse of a stale rate.
	if stored, err := c.store.StaleRate(ctx, to, from, asOf); err == nil {
		return Rate{Value: core.InverseRate(stored.Rate), Stale: true, Source: stored.Source}, nil
	} else if !isNotFound(err) {
		return Rate{}, err
	}

	return Rate{}, fmt.Errorf("%s to %s as of %s: %w",
		from, to, asOf.Format("2006-01-02"), core.ErrConversionUnavailable)
}

func (c *Cache) liveFetch(ctx context.Context, from, to string, now time.Time) (Rate, bool) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	value, err := c.provider.FetchRate(fetchCtx, from, to)
	if err != nil {
		slog.WarnContext(ctx, "Live rate fetch failed, falling back to stale rates",
			"from", from, "to", to, "error", err)
		if ierr := c.store.IncrementFetchError(ctx, from, to); ierr != nil {
			slog.ErrorContext(ctx, "Failed to record fetch error", "from", from, "to", to, "error", ierr)
		}
		return Rate{}, false
	}

	if err := c.Upsert(ctx, from, to, value, now, c.provider.Source()); err != nil {
		slog.ErrorContext(ctx, "Failed to store fetched rate",
			"from", from, "to", to, "error", err)
		// The fetched value is still good for this conversion.
	}
	return Rate{Value: value, Source: c.provider.Source()}, true
}

// Upsert writes one rate. Rates from the manual source are permanent;
// everything else expires after the freshness window.
func (c *Cache) Upsert(ctx context.Context, from, to string, value decimal.Decimal, date time.Time, source string) error {
	from, err := core.NormalizeCurrency(from)
	if err != nil {
		return err
	}
	to, err = core.NormalizeCurrency(to)
	if err != nil {
		return err
	}
	now := c.now()
	r := core.ExchangeRate{
		FromCurrency: from,
		ToCurrency:   to,
		Rate:         value,
		Date:         truncateDay(date),
		Source:       source,
		FetchedAt:    now,
	}
	if source != SourceManual {
		expires := now.Add(c.freshFor)
		r.ExpiresAt = &expires
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if err := c.store.UpsertRate(ctx, &r); err != nil {
		return err
	}
	c.memo.Delete(memoKey(r.FromCurrency, r.ToCurrency, r.Date))
	c.memo.Delete(memoKey(r.ToCurrency, r.FromCurrency, r.Date))
	return nil
}

// MarkExpiredAsStale flips expired rows to the stale fallback state. It
// is an idempotent maintenance sweep driven by the external scheduler;
// GetRate never calls it opportunistically.
func (c *Cache) MarkExpiredAsStale(ctx context.Context) (int64, error) {
	return c.store.MarkExpiredRatesStale(ctx, c.now())
}

// PurgeOlderThan removes rate rows older than the given number of days,
// preserving manual rates and each pair's newest row.
func (c *Cache) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := truncateDay(c.now()).AddDate(0, 0, -days)
	return c.store.PurgeRatesOlderThan(ctx, cutoff)
}

func memoKey(from, to string, asOf time.Time) string {
	return from + "|" + to + "|" + asOf.UTC().Format("2006-01-02")
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func isNotFound(err error) bool {
	return errors.Is(err, core.ErrNotFound)
}
