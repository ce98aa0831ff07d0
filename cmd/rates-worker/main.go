package main

import (
	"context"
	"os"
	"time"

	"moneta/internal/amqp"
	"moneta/internal/cli"
	applog "moneta/internal/log"
	"moneta/internal/rates"
	"moneta/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger().WithComponent(applog.ComponentWorker)
	logger.Info("Starting rates-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	if cfg.RatesProviderURL == "" {
		logger.Error("RATES_PROVIDER_URL is required for the rates worker")
		os.Exit(1)
	}

	store := cli.InitStore(logger, cfg.SQLiteDBPath)
	defer store.Close()

	provider := rates.NewHTTPProvider(cfg.RatesProviderURL, "provider")
	cache := rates.NewCache(store, provider, cfg.RatesFreshFor, cfg.RatesFetchTimeout)
	w := worker.NewRatesWorker(store, cache, provider, cfg.DefaultBaseCurrency,
		cfg.RatesFetchTimeout, cfg.FetchConcurrency, cfg.RatesPurgeDays)

	ctx := cli.GracefulShutdown(logger, 30*time.Second, nil)

	// Optional AMQP trigger queue; without it the worker is timer-only.
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing timer-only", "error", err)
		} else {
			defer amqpClient.Close()
			go func() {
				err := amqpClient.ConsumeRateRefresh(ctx, func(msg *amqp.RateRefreshMessage) error {
					return w.HandleRefreshMessage(ctx, msg)
				})
				if err != nil && ctx.Err() == nil {
					logger.Error("AMQP consumer stopped", "error", err)
				}
			}()
			logger.Info("AMQP trigger queue connected", "queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("AMQP disabled, running timer-only")
	}

	logger.Info("Rates refresh configured",
		"interval", cfg.RefreshInterval,
		"concurrency", cfg.FetchConcurrency,
		"purge_days", cfg.RatesPurgeDays,
		"sqlite_db", cfg.SQLiteDBPath)

	ticker := time.NewTicker(cfg.RefreshInterval)
	defer ticker.Stop()

	// Run an initial sweep on startup so a fresh deploy has rates before
	// the first tick.
	runSweep(ctx, logger, w)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Rates-worker stopped")
			return
		case <-ticker.C:
			runSweep(ctx, logger, w)
		}
	}
}

func runSweep(ctx context.Context, logger *applog.Logger, w *worker.RatesWorker) {
	res, err := w.RunSweep(ctx)
	if err != nil {
		logger.Error("Rates sweep failed", "error", err)
		return
	}
	logger.Info("Rates sweep finished",
		"refreshed", res.Refreshed,
		"failed", res.Failed,
		"marked_stale", res.MarkedStale,
		"purged", res.Purged)
}
