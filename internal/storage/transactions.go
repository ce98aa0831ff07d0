package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
)

const transactionColumns = `id, owner, type, amount, date, description, category_id,
	payment_method_id, native_amount, exchange_rate, base_currency,
	linked_transaction_id, created_at, updated_at`

// InsertTransaction persists one ledger entry and its tags.
func (s *Store) InsertTransaction(ctx context.Context, t *core.Transaction) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertTransaction(ctx, tx, t)
	})
}

// InsertTransferPair persists both legs of a transfer in one transaction:
// either both rows exist afterwards or neither does.
func (s *Store) InsertTransferPair(ctx context.Context, out, in *core.Transaction) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertTransaction(ctx, tx, out); err != nil {
			return err
		}
		return insertTransaction(ctx, tx, in)
	})
}

func insertTransaction(ctx context.Context, tx *sql.Tx, t *core.Transaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Owner, string(t.Type), t.Amount.String(), encodeDate(t.Date),
		t.Description, nullable(t.CategoryID), nullable(t.PaymentMethodID),
		decimalPtr(t.NativeAmount), decimalPtr(t.ExchangeRate), nullable(t.BaseCurrency),
		nullable(t.LinkedTransactionID), encodeTime(t.CreatedAt), encodeTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return replaceTags(ctx, tx, t.ID, t.TagIDs)
}

// GetTransaction fetches one transaction scoped to its owner.
func (s *Store) GetTransaction(ctx context.Context, owner, id string) (*core.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND owner = ?`,
		id, owner,
	)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if t.TagIDs, err = s.tagsFor(ctx, t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateTransaction rewrites a transaction row and its tags.
func (s *Store) UpdateTransaction(ctx context.Context, t *core.Transaction) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE transactions SET type = ?, amount = ?, date = ?, description = ?,
				category_id = ?, payment_method_id = ?, native_amount = ?,
				exchange_rate = ?, base_currency = ?, updated_at = ?
			 WHERE id = ? AND owner = ?`,
			string(t.Type), t.Amount.String(), encodeDate(t.Date), t.Description,
			nullable(t.CategoryID), nullable(t.PaymentMethodID),
			decimalPtr(t.NativeAmount), decimalPtr(t.ExchangeRate), nullable(t.BaseCurrency),
			encodeTime(t.UpdatedAt), t.ID, t.Owner,
		)
		if err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		if err := requireRow(res); err != nil {
			return err
		}
		return replaceTags(ctx, tx, t.ID, t.TagIDs)
	})
}

// DeleteTransaction removes a transaction. If the row is one leg of a
// transfer, the delete fans out to its pair inside the same transaction,
// so a crash cannot leave an orphaned leg.
func (s *Store) DeleteTransaction(ctx context.Context, owner, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var linked sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT linked_transaction_id FROM transactions WHERE id = ? AND owner = ?`,
			id, owner,
		).Scan(&linked)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM transactions WHERE id = ? AND owner = ?`, id, owner); err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		if linked.Valid {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM transactions WHERE id = ? AND owner = ?`, linked.String, owner); err != nil {
				return fmt.Errorf("delete linked transaction: %w", err)
			}
		}
		return nil
	})
}

// ListTransactions returns all of an owner's transactions, newest first.
func (s *Store) ListTransactions(ctx context.Context, owner string) ([]core.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE owner = ? ORDER BY date DESC, created_at DESC`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	ids := make(map[string]int)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		ids[t.ID] = len(out)
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tagRows, err := s.db.QueryContext(ctx,
		`SELECT tt.transaction_id, tt.tag_id FROM transaction_tags tt
		 JOIN transactions t ON t.id = tt.transaction_id
		 WHERE t.owner = ? ORDER BY tt.tag_id`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list transaction tags: %w", err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var txID, tagID string
		if err := tagRows.Scan(&txID, &tagID); err != nil {
			return nil, fmt.Errorf("scan transaction tag: %w", err)
		}
		if i, ok := ids[txID]; ok {
			out[i].TagIDs = append(out[i].TagIDs, tagID)
		}
	}
	return out, tagRows.Err()
}

// ExpenseAmountsByCategory returns the amounts of the owner's expense
// transactions in a category within [from, to]. Summing happens in the
// caller with exact decimals; SQLite's SUM would coerce to float.
func (s *Store) ExpenseAmountsByCategory(ctx context.Context, owner, categoryID string, from, to time.Time) ([]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT amount FROM transactions
		 WHERE owner = ? AND type = 'expense' AND category_id = ? AND date >= ? AND date <= ?`,
		owner, categoryID, encodeDate(from), encodeDate(to),
	)
	if err != nil {
		return nil, fmt.Errorf("sum expenses by category: %w", err)
	}
	return collectAmounts(rows)
}

// ExpenseAmountsByTag is ExpenseAmountsByCategory for tag-based budgets.
func (s *Store) ExpenseAmountsByTag(ctx context.Context, owner, tagID string, from, to time.Time) ([]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.amount FROM transactions t
		 JOIN transaction_tags tt ON tt.transaction_id = t.id
		 WHERE t.owner = ? AND t.type = 'expense' AND tt.tag_id = ? AND t.date >= ? AND t.date <= ?`,
		owner, tagID, encodeDate(from), encodeDate(to),
	)
	if err != nil {
		return nil, fmt.Errorf("sum expenses by tag: %w", err)
	}
	return collectAmounts(rows)
}

func collectAmounts(rows *sql.Rows) ([]decimal.Decimal, error) {
	defer rows.Close()
	var out []decimal.Decimal
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan amount: %w", err)
		}
		d, err := decodeDecimal(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// BalanceRow is the minimal projection the balance calculator needs.
type BalanceRow struct {
	Type   core.TransactionType
	Amount decimal.Decimal
}

// BalanceRows returns type and amount for every transaction of the owner.
func (s *Store) BalanceRows(ctx context.Context, owner string) ([]BalanceRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, amount FROM transactions WHERE owner = ?`, owner)
	if err != nil {
		return nil, fmt.Errorf("load balance rows: %w", err)
	}
	defer rows.Close()

	var out []BalanceRow
	for rows.Next() {
		var (
			typ string
			raw string
		)
		if err := rows.Scan(&typ, &raw); err != nil {
			return nil, fmt.Errorf("scan balance row: %w", err)
		}
		d, err := decodeDecimal(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, BalanceRow{Type: core.TransactionType(typ), Amount: d})
	}
	return out, rows.Err()
}

// CurrencyBalanceRow carries what the per-currency balance needs: the
// payment method's currency when one is attached, and the native amount
// with the base amount as fallback for legacy rows.
type CurrencyBalanceRow struct {
	Type           core.TransactionType
	Amount         decimal.Decimal
	NativeAmount   *decimal.Decimal
	MethodCurrency string // empty when no payment method is attached
	MethodActive   bool
}

// CurrencyBalanceRows returns the owner's transactions joined with their
// payment methods.
func (s *Store) CurrencyBalanceRows(ctx context.Context, owner string) ([]CurrencyBalanceRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.type, t.amount, t.native_amount, pm.currency, pm.is_active
		 FROM transactions t
		 LEFT JOIN payment_methods pm ON pm.id = t.payment_method_id
		 WHERE t.owner = ?`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("load currency balance rows: %w", err)
	}
	defer rows.Close()

	var out []CurrencyBalanceRow
	for rows.Next() {
		var (
			typ    string
			raw    string
			native sql.NullString
			cur    sql.NullString
			active sql.NullBool
		)
		if err := rows.Scan(&typ, &raw, &native, &cur, &active); err != nil {
			return nil, fmt.Errorf("scan currency balance row: %w", err)
		}
		r := CurrencyBalanceRow{Type: core.TransactionType(typ)}
		if r.Amount, err = decodeDecimal(raw); err != nil {
			return nil, err
		}
		if native.Valid {
			d, err := decodeDecimal(native.String)
			if err != nil {
				return nil, err
			}
			r.NativeAmount = &d
		}
		if cur.Valid {
			r.MethodCurrency = cur.String
		}
		r.MethodActive = active.Valid && active.Bool
		out = append(out, r)
	}
	return out, rows.Err()
}

func replaceTags(ctx context.Context, tx *sql.Tx, txID string, tagIDs []string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM transaction_tags WHERE transaction_id = ?`, txID); err != nil {
		return fmt.Errorf("clear transaction tags: %w", err)
	}
	for _, tagID := range tagIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transaction_tags (transaction_id, tag_id) VALUES (?, ?)`,
			txID, tagID); err != nil {
			return fmt.Errorf("insert transaction tag: %w", err)
		}
	}
	return nil
}

func (s *Store) tagsFor(ctx context.Context, txID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag_id FROM transaction_tags WHERE transaction_id = ? ORDER BY tag_id`, txID)
	if err != nil {
		return nil, fmt.Errorf("load transaction tags: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tagID string
		if err := rows.Scan(&tagID); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, tagID)
	}
	return out, rows.Err()
}

func scanTransaction(row rowScanner) (*core.Transaction, error) {
	var (
		t                              core.Transaction
		typ, amount, date              string
		category, method, base, linked sql.NullString
		native, rate                   sql.NullString
		createdAt, updatedAt           string
	)
	err := row.Scan(&t.ID, &t.Owner, &typ, &amount, &date, &t.Description,
		&category, &method, &native, &rate, &base, &linked, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.Type = core.TransactionType(typ)
	if t.Amount, err = decodeDecimal(amount); err != nil {
		return nil, err
	}
	if t.Date, err = decodeDate(date); err != nil {
		return nil, err
	}
	t.CategoryID = category.String
	t.PaymentMethodID = method.String
	t.BaseCurrency = base.String
	t.LinkedTransactionID = linked.String
	if native.Valid {
		d, err := decodeDecimal(native.String)
		if err != nil {
			return nil, err
		}
		t.NativeAmount = &d
	}
	if rate.Valid {
		d, err := decodeDecimal(rate.String)
		if err != nil {
			return nil, err
		}
		t.ExchangeRate = &d
	}
	if t.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func decimalPtr(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}
