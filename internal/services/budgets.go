package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"moneta/internal/core"
	"moneta/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// BudgetService manages monthly spending limits and computes progress
// against them. Spending is aggregated over base-currency amounts, so
// multi-currency expenses compare against the limit on equal footing.
type BudgetService struct {
	store *storage.Store
}

func NewBudgetService(store *storage.Store) *BudgetService {
	return &BudgetService{store: store}
}

type BudgetInput struct {
	CategoryID string
	TagID      string
	Amount     decimal.Decimal
	Period     time.Time
}

// Create registers a budget for one category or one tag in one month.
// Duplicates for the same target and period are rejected.
func (s *BudgetService) Create(ctx context.Context, owner string, in BudgetInput) (*core.Budget, error) {
	b := core.Budget{
		ID:         uuid.NewString(),
		Owner:      owner,
		CategoryID: in.CategoryID,
		TagID:      in.TagID,
		Amount:     core.RoundAmount(in.Amount),
		Period:     in.Period,
		CreatedAt:  time.Now(),
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateBudget(ctx, &b); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Budget created",
		"owner", owner, "budget_id", b.ID, "period", b.Period.Format("2006-01"),
		"amount", b.Amount.String())
	return &b, nil
}

// Get fetches one budget scoped to its owner.
func (s *BudgetService) Get(ctx context.Context, owner, id string) (*core.Budget, error) {
	return s.store.GetBudget(ctx, owner, id)
}

// List returns the owner's budgets, newest period first.
func (s *BudgetService) List(ctx context.Context, owner string) ([]core.Budget, error) {
	return s.store.ListBudgets(ctx, owner)
}

// UpdateAmount changes a budget's limit.
func (s *BudgetService) UpdateAmount(ctx context.Context, owner, id string, amount decimal.Decimal) error {
	amount = core.RoundAmount(amount)
	if !amount.IsPositive() {
		return core.Invalid("amount", "must be positive")
	}
	return s.store.UpdateBudgetAmount(ctx, owner, id, amount)
}

// Delete removes a budget. Transactions are untouched.
func (s *BudgetService) Delete(ctx context.Context, owner, id string) error {
	return s.store.DeleteBudget(ctx, owner, id)
}

// Spent sums the owner's expense amounts for one category or tag within
// the month containing period. Exactly one of categoryID and tagID must be
// set. The sum runs over exact decimals in Go.
func (s *BudgetService) Spent(ctx context.Context, owner, categoryID, tagID string, period time.Time) (decimal.Decimal, error) {
	if (categoryID == "") == (tagID == "") {
		return decimal.Zero, core.Invalid("budget", "exactly one of categoryId and tagId must be set")
	}
	from := core.FirstOfMonth(period)
	to := core.LastOfMonth(period)

	var (
		amounts []decimal.Decimal
		err     error
	)
	if categoryID != "" {
		amounts, err = s.store.ExpenseAmountsByCategory(ctx, owner, categoryID, from, to)
	} else {
		amounts, err = s.store.ExpenseAmountsByTag(ctx, owner, tagID, from, to)
	}
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total, nil
}

// Progress computes a budget's spent amount, spent percentage rounded to
// two places, and the overspent flag.
func (s *BudgetService) Progress(ctx context.Context, b *core.Budget) (core.BudgetProgress, error) {
	spent, err := s.Spent(ctx, b.Owner, b.CategoryID, b.TagID, b.Period)
	if err != nil {
		return core.BudgetProgress{}, err
	}
	p := core.BudgetProgress{SpentAmount: spent}
	if b.Amount.IsPositive() {
		p.SpentPercentage = spent.Mul(hundred).DivRound(b.Amount, 2)
	}
	p.IsOverspent = spent.GreaterThan(b.Amount)
	return p, nil
}
