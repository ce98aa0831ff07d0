package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"moneta/internal/core"
)

const rateColumns = `from_currency, to_currency, date, rate, source, expires_at,
	is_stale, fetch_error_count, fetched_at`

// UpsertRate writes one rate for a pair and date. A successful write
// clears the stale flag and resets the failure counter.
func (s *Store) UpsertRate(ctx context.Context, r *core.ExchangeRate) error {
	var expires any
	if r.ExpiresAt != nil {
		expires = encodeTime(*r.ExpiresAt)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exchange_rates (`+rateColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?)
		 ON CONFLICT (from_currency, to_currency, date) DO UPDATE SET
			rate = excluded.rate,
			source = excluded.source,
			expires_at = excluded.expires_at,
			is_stale = 0,
			fetch_error_count = 0,
			fetched_at = excluded.fetched_at`,
		r.FromCurrency, r.ToCurrency, encodeDate(r.Date), r.Rate.String(),
		r.Source, expires, encodeTime(r.FetchedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert rate: %w", err)
	}
	return nil
}

// FreshRate returns the most recent non-stale rate for (from, to) dated at
// or before asOf that has not expired by now. ErrNotFound on miss.
func (s *Store) FreshRate(ctx context.Context, from, to string, asOf, now time.Time) (*core.ExchangeRate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+rateColumns+` FROM exchange_rates
		 WHERE from_currency = ? AND to_currency = ? AND date <= ?
		   AND is_stale = 0 AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY date DESC LIMIT 1`,
		from, to, encodeDate(asOf), encodeTime(now),
	)
	return scanRateRow(row)
}

// StaleRate returns the most recent rate for (from, to) dated at or before
// asOf that has been explicitly flagged stale. ErrNotFound on miss.
func (s *Store) StaleRate(ctx context.Context, from, to string, asOf time.Time) (*core.ExchangeRate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+rateColumns+` FROM exchange_rates
		 WHERE from_currency = ? AND to_currency = ? AND date <= ? AND is_stale = 1
		 ORDER BY date DESC, fetched_at DESC LIMIT 1`,
		from, to, encodeDate(asOf),
	)
	return scanRateRow(row)
}

// MarkExpiredRatesStale flips expired, non-stale rows to stale. Permanent
// rates (NULL expiry) are never touched. Idempotent.
func (s *Store) MarkExpiredRatesStale(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE exchange_rates SET is_stale = 1
		 WHERE is_stale = 0 AND expires_at IS NOT NULL AND expires_at <= ?`,
		encodeTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("mark expired rates stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// PurgeRatesOlderThan deletes rate rows dated before cutoff, keeping
// permanent rates and the newest row of every pair so the stale-fallback
// path never loses its last resort.
func (s *Store) PurgeRatesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM exchange_rates
		 WHERE expires_at IS NOT NULL AND date < ?
		   AND date < (SELECT MAX(e2.date) FROM exchange_rates e2
		               WHERE e2.from_currency = exchange_rates.from_currency
		                 AND e2.to_currency = exchange_rates.to_currency)`,
		encodeDate(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("purge rates: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// IncrementFetchError bumps the failure counter on the newest row of a
// pair. No-op when the pair has never been fetched.
func (s *Store) IncrementFetchError(ctx context.Context, from, to string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE exchange_rates SET fetch_error_count = fetch_error_count + 1
		 WHERE from_currency = ? AND to_currency = ?
		   AND date = (SELECT MAX(date) FROM exchange_rates
		               WHERE from_currency = ? AND to_currency = ?)`,
		from, to, from, to,
	)
	if err != nil {
		return fmt.Errorf("increment fetch error: %w", err)
	}
	return nil
}

func scanRateRow(row *sql.Row) (*core.ExchangeRate, error) {
	var (
		r         core.ExchangeRate
		date      string
		rate      string
		expires   sql.NullString
		fetchedAt string
	)
	err := row.Scan(&r.FromCurrency, &r.ToCurrency, &date, &rate, &r.Source,
		&expires, &r.IsStale, &r.FetchErrorCount, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan rate: %w", err)
	}
	if r.Date, err = decodeDate(date); err != nil {
		return nil, err
	}
	if r.Rate, err = decodeDecimal(rate); err != nil {
		return nil, err
	}
	if expires.Valid {
		t, err := decodeTime(expires.String)
		if err != nil {
			return nil, err
		}
		r.ExpiresAt = &t
	}
	if r.FetchedAt, err = decodeTime(fetchedAt); err != nil {
		return nil, err
	}
	return &r, nil
}
