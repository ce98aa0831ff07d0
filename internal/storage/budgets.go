package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
)

const budgetColumns = `id, owner, category_id, tag_id, amount, period, created_at`

// CreateBudget inserts a budget. The per-period uniqueness check runs in
// the same transaction as the insert so a concurrent duplicate cannot
// slip between check and write.
func (s *Store) CreateBudget(ctx context.Context, b *core.Budget) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			exists int
			err    error
		)
		if b.CategoryID != "" {
			err = tx.QueryRowContext(ctx,
				`SELECT 1 FROM budgets WHERE owner = ? AND category_id = ? AND period = ?`,
				b.Owner, b.CategoryID, encodeDate(b.Period),
			).Scan(&exists)
		} else {
			err = tx.QueryRowContext(ctx,
				`SELECT 1 FROM budgets WHERE owner = ? AND tag_id = ? AND period = ?`,
				b.Owner, b.TagID, encodeDate(b.Period),
			).Scan(&exists)
		}
		if err == nil {
			return core.Conflictf("budget already exists for this period")
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check budget uniqueness: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO budgets (`+budgetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.Owner, nullable(b.CategoryID), nullable(b.TagID),
			b.Amount.String(), encodeDate(b.Period), encodeTime(b.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert budget: %w", err)
		}
		return nil
	})
}

// GetBudget fetches one budget scoped to its owner.
func (s *Store) GetBudget(ctx context.Context, owner, id string) (*core.Budget, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE id = ? AND owner = ?`,
		id, owner,
	)
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get budget: %w", err)
	}
	return b, nil
}

// ListBudgets returns all of an owner's budgets, newest period first.
func (s *Store) ListBudgets(ctx context.Context, owner string) ([]core.Budget, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE owner = ? ORDER BY period DESC, created_at`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// UpdateBudgetAmount changes a budget's limit. Category, tag and period
// are immutable; callers delete and recreate to move a budget.
func (s *Store) UpdateBudgetAmount(ctx context.Context, owner, id string, amount decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE budgets SET amount = ? WHERE id = ? AND owner = ?`,
		amount.String(), id, owner,
	)
	if err != nil {
		return fmt.Errorf("update budget amount: %w", err)
	}
	return requireRow(res)
}

// DeleteBudget removes a budget.
func (s *Store) DeleteBudget(ctx context.Context, owner, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM budgets WHERE id = ? AND owner = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("delete budget: %w", err)
	}
	return requireRow(res)
}

func scanBudget(row rowScanner) (*core.Budget, error) {
	var (
		b             core.Budget
		category, tag sql.NullString
		amount        string
		period        string
		createdAt     string
	)
	err := row.Scan(&b.ID, &b.Owner, &category, &tag, &amount, &period, &createdAt)
	if err != nil {
		return nil, err
	}
	b.CategoryID = category.String
	b.TagID = tag.String
	if b.Amount, err = decodeDecimal(amount); err != nil {
		return nil, err
	}
	if b.Period, err = decodeDate(period); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	return &b, nil
}
