package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"moneta/internal/core"
)

// SetBaseCurrency records the owner's reporting currency.
func (s *Store) SetBaseCurrency(ctx context.Context, owner, currency string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO owner_settings (owner, base_currency, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (owner) DO UPDATE SET
			base_currency = excluded.base_currency,
			updated_at = excluded.updated_at`,
		owner, currency, encodeTime(now),
	)
	if err != nil {
		return fmt.Errorf("set base currency: %w", err)
	}
	return nil
}

// BaseCurrency returns the owner's reporting currency, or ErrNotFound when
// the owner never set one. Callers fall back to the configured default.
func (s *Store) BaseCurrency(ctx context.Context, owner string) (string, error) {
	var cur string
	err := s.db.QueryRowContext(ctx,
		`SELECT base_currency FROM owner_settings WHERE owner = ?`, owner,
	).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get base currency: %w", err)
	}
	return cur, nil
}
