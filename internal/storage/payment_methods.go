package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"moneta/internal/core"
)

const paymentMethodColumns = `id, owner, name, currency, kind, color, is_default, is_active, created_at, updated_at`

// CreatePaymentMethod inserts a new payment method. The per-owner name
// uniqueness check and the optional demotion of a previous default run in
// the same transaction as the insert.
func (s *Store) CreatePaymentMethod(ctx context.Context, pm *core.PaymentMethod) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM payment_methods WHERE owner = ? AND name = ?`,
			pm.Owner, pm.Name,
		).Scan(&exists)
		if err == nil {
			return core.Conflictf("payment method %q already exists", pm.Name)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check name uniqueness: %w", err)
		}

		if pm.IsDefault {
			if err := demoteDefault(ctx, tx, pm.Owner, pm.UpdatedAt); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO payment_methods (`+paymentMethodColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			pm.ID, pm.Owner, pm.Name, pm.Currency, string(pm.Kind), pm.Color,
			pm.IsDefault, pm.IsActive, encodeTime(pm.CreatedAt), encodeTime(pm.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert payment method: %w", err)
		}
		return nil
	})
}

// GetPaymentMethod fetches one payment method scoped to its owner.
// Cross-owner lookups return ErrNotFound.
func (s *Store) GetPaymentMethod(ctx context.Context, owner, id string) (*core.PaymentMethod, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentMethodColumns+` FROM payment_methods WHERE id = ? AND owner = ?`,
		id, owner,
	)
	pm, err := scanPaymentMethod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment method: %w", err)
	}
	return pm, nil
}

// ListPaymentMethods returns all of an owner's payment methods, default
// first, then by name.
func (s *Store) ListPaymentMethods(ctx context.Context, owner string) ([]core.PaymentMethod, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentMethodColumns+` FROM payment_methods
		 WHERE owner = ? ORDER BY is_default DESC, name`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	defer rows.Close()

	var out []core.PaymentMethod
	for rows.Next() {
		pm, err := scanPaymentMethod(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment method: %w", err)
		}
		out = append(out, *pm)
	}
	return out, rows.Err()
}

// SetDefaultPaymentMethod atomically demotes any previous default for the
// owner and promotes the given method. There is no window in which two
// defaults coexist.
func (s *Store) SetDefaultPaymentMethod(ctx context.Context, owner, id string, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var active bool
		err := tx.QueryRowContext(ctx,
			`SELECT is_active FROM payment_methods WHERE id = ? AND owner = ?`,
			id, owner,
		).Scan(&active)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load payment method: %w", err)
		}
		if !active {
			return core.Invalid("paymentMethod", "cannot set an inactive payment method as default")
		}

		if err := demoteDefault(ctx, tx, owner, now); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE payment_methods SET is_default = 1, updated_at = ? WHERE id = ? AND owner = ?`,
			encodeTime(now), id, owner,
		)
		if err != nil {
			return fmt.Errorf("promote default: %w", err)
		}
		return nil
	})
}

func demoteDefault(ctx context.Context, tx *sql.Tx, owner string, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE payment_methods SET is_default = 0, updated_at = ? WHERE owner = ? AND is_default = 1`,
		encodeTime(now), owner,
	)
	if err != nil {
		return fmt.Errorf("demote default: %w", err)
	}
	return nil
}

// DeactivatePaymentMethod soft-deletes a payment method. Rows referenced
// by transactions are never physically removed.
func (s *Store) DeactivatePaymentMethod(ctx context.Context, owner, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payment_methods SET is_active = 0, is_default = 0, updated_at = ?
		 WHERE id = ? AND owner = ?`,
		encodeTime(now), id, owner,
	)
	if err != nil {
		return fmt.Errorf("deactivate payment method: %w", err)
	}
	return requireRow(res)
}

// RenamePaymentMethod renames a payment method, re-checking the per-owner
// name uniqueness inside the same transaction.
func (s *Store) RenamePaymentMethod(ctx context.Context, owner, id, name string, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM payment_methods WHERE owner = ? AND name = ? AND id <> ?`,
			owner, name, id,
		).Scan(&exists)
		if err == nil {
			return core.Conflictf("payment method %q already exists", name)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check name uniqueness: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE payment_methods SET name = ?, updated_at = ? WHERE id = ? AND owner = ?`,
			name, encodeTime(now), id, owner,
		)
		if err != nil {
			return fmt.Errorf("rename payment method: %w", err)
		}
		return requireRow(res)
	})
}

// ActiveCurrencies returns the distinct currencies of an owner's active
// payment methods.
func (s *Store) ActiveCurrencies(ctx context.Context, owner string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT currency FROM payment_methods
		 WHERE owner = ? AND is_active = 1 ORDER BY currency`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list active currencies: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var cur string
		if err := rows.Scan(&cur); err != nil {
			return nil, fmt.Errorf("scan currency: %w", err)
		}
		out = append(out, cur)
	}
	return out, rows.Err()
}

// CurrencyPair is one (from, to) conversion direction the rates worker
// needs to keep fresh.
type CurrencyPair struct {
	From string
	To   string
}

// ActiveCurrencyPairs returns every conversion pair in use across all
// owners: each active payment method currency against its owner's base
// currency, in both directions.
func (s *Store) ActiveCurrencyPairs(ctx context.Context, defaultBase string) ([]CurrencyPair, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT pm.currency, COALESCE(os.base_currency, ?)
		 FROM payment_methods pm
		 LEFT JOIN owner_settings os ON os.owner = pm.owner
		 WHERE pm.is_active = 1 AND pm.currency <> COALESCE(os.base_currency, ?)`,
		defaultBase, defaultBase,
	)
	if err != nil {
		return nil, fmt.Errorf("list active currency pairs: %w", err)
	}
	defer rows.Close()

	seen := make(map[CurrencyPair]bool)
	var out []CurrencyPair
	add := func(p CurrencyPair) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for rows.Next() {
		var cur, base string
		if err := rows.Scan(&cur, &base); err != nil {
			return nil, fmt.Errorf("scan currency pair: %w", err)
		}
		add(CurrencyPair{From: cur, To: base})
		add(CurrencyPair{From: base, To: cur})
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaymentMethod(row rowScanner) (*core.PaymentMethod, error) {
	var (
		pm                   core.PaymentMethod
		kind                 string
		createdAt, updatedAt string
	)
	err := row.Scan(&pm.ID, &pm.Owner, &pm.Name, &pm.Currency, &kind, &pm.Color,
		&pm.IsDefault, &pm.IsActive, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	pm.Kind = core.PaymentMethodKind(kind)
	if pm.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	if pm.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, err
	}
	return &pm, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}
