// Package worker hosts the background rates worker: a periodic sweep that
// keeps every active currency pair fresh, flips expired rates to stale and
// prunes old history.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"moneta/internal/amqp"
	"moneta/internal/rates"
	"moneta/internal/storage"
)

// RatesWorker refreshes cached exchange rates for every currency pair the
// ledger currently needs.
type RatesWorker struct {
	store        *storage.Store
	cache        *rates.Cache
	provider     rates.Provider
	defaultBase  string
	fetchTimeout time.Duration
	concurrency  int
	purgeDays    int
}

func NewRatesWorker(store *storage.Store, cache *rates.Cache, provider rates.Provider, defaultBase string, fetchTimeout time.Duration, concurrency, purgeDays int) *RatesWorker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &RatesWorker{
		store:        store,
		cache:        cache,
		provider:     provider,
		defaultBase:  defaultBase,
		fetchTimeout: fetchTimeout,
		concurrency:  concurrency,
		purgeDays:    purgeDays,
	}
}

// SweepResult summarizes one maintenance sweep.
type SweepResult struct {
	Refreshed   int
	Failed      int
	MarkedStale int64
	Purged      int64
}

// RunSweep refreshes every active pair with bounded concurrency, then
// runs the stale sweep and the history purge. Individual fetch failures
// are counted, not fatal; pairs the provider cannot serve keep their
// stale fallback rows.
func (w *RatesWorker) RunSweep(ctx context.Context) (SweepResult, error) {
	pairs, err := w.store.ActiveCurrencyPairs(ctx, w.defaultBase)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list pairs: %w", err)
	}

	var refreshed, failed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, pair := range pairs {
		pair := pair
		g.Go(func() error {
			if err := w.refreshPair(gctx, pair.From, pair.To); err != nil {
				atomic.AddInt64(&failed, 1)
				slog.WarnContext(gctx, "Rate refresh failed",
					"from", pair.From, "to", pair.To, "error", err)
				return nil
			}
			atomic.AddInt64(&refreshed, 1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SweepResult{}, err
	}

	res := SweepResult{Refreshed: int(refreshed), Failed: int(failed)}
	if res.MarkedStale, err = w.cache.MarkExpiredAsStale(ctx); err != nil {
		return res, fmt.Errorf("mark expired stale: %w", err)
	}
	if res.Purged, err = w.cache.PurgeOlderThan(ctx, w.purgeDays); err != nil {
		return res, fmt.Errorf("purge rates: %w", err)
	}

	slog.InfoContext(ctx, "Rates sweep complete",
		"pairs", len(pairs),
		"refreshed", res.Refreshed,
		"failed", res.Failed,
		"marked_stale", res.MarkedStale,
		"purged", res.Purged)
	return res, nil
}

func (w *RatesWorker) refreshPair(ctx context.Context, from, to string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, w.fetchTimeout)
	defer cancel()

	value, err := w.provider.FetchRate(fetchCtx, from, to)
	if err != nil {
		if ierr := w.store.IncrementFetchError(ctx, from, to); ierr != nil {
			slog.ErrorContext(ctx, "Failed to record fetch error",
				"from", from, "to", to, "error", ierr)
		}
		return err
	}
	return w.cache.Upsert(ctx, from, to, value, time.Now(), w.provider.Source())
}

// HandleRefreshMessage services one AMQP trigger: a targeted message
// refreshes its pair, an empty one runs a full sweep.
func (w *RatesWorker) HandleRefreshMessage(ctx context.Context, msg *amqp.RateRefreshMessage) error {
	if msg.AllPairs() {
		_, err := w.RunSweep(ctx)
		return err
	}
	return w.refreshPair(ctx, msg.From, msg.To)
}
