// Package services exposes the engine's operations: payment method
// registry, ledger writes with currency conversion, transfer pairs,
// budget aggregation and balance calculation. Every operation takes the
// authenticated owner explicitly; there is no ambient current user.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"moneta/internal/core"
	"moneta/internal/storage"
)

// SettingsService owns per-owner engine settings, currently just the
// reporting (base) currency.
type SettingsService struct {
	store       *storage.Store
	defaultBase string
}

func NewSettingsService(store *storage.Store, defaultBase string) *SettingsService {
	return &SettingsService{store: store, defaultBase: defaultBase}
}

// SetBaseCurrency records the owner's reporting currency. Existing
// transactions keep the base-currency stamp they were written with.
func (s *SettingsService) SetBaseCurrency(ctx context.Context, owner, currency string) error {
	cur, err := core.NormalizeCurrency(currency)
	if err != nil {
		return err
	}
	if err := s.store.SetBaseCurrency(ctx, owner, cur, time.Now()); err != nil {
		return fmt.Errorf("set base currency: %w", err)
	}
	return nil
}

// BaseCurrency returns the owner's reporting currency, falling back to
// the configured default for owners that never chose one.
func (s *SettingsService) BaseCurrency(ctx context.Context, owner string) (string, error) {
	cur, err := s.store.BaseCurrency(ctx, owner)
	if errors.Is(err, core.ErrNotFound) {
		return s.defaultBase, nil
	}
	if err != nil {
		return "", err
	}
	return cur, nil
}
