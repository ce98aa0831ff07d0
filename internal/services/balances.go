package services

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
	"moneta/internal/storage"
)

// BalanceService computes an owner's overall and per-currency balances
// from the full ledger. Sums run over exact decimals in Go.
type BalanceService struct {
	store    *storage.Store
	settings *SettingsService
}

func NewBalanceService(store *storage.Store, settings *SettingsService) *BalanceService {
	return &BalanceService{store: store, settings: settings}
}

// Balance returns the owner's net position in base currency: income adds,
// expense subtracts, transfer legs carry their own sign and cancel out up
// to conversion rounding.
func (s *BalanceService) Balance(ctx context.Context, owner string) (decimal.Decimal, error) {
	rows, err := s.store.BalanceRows(ctx, owner)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(signedAmount(r.Type, r.Amount))
	}
	return total, nil
}

// BalanceByCurrency groups the owner's balance by each active payment
// method's currency, summing native amounts. Rows without a payment method
// and legacy rows without a stored native amount count toward the base
// currency. Rows on deactivated methods are excluded, matching the active
// registry the report is keyed by.
func (s *BalanceService) BalanceByCurrency(ctx context.Context, owner string) ([]core.CurrencyBalance, error) {
	rows, err := s.store.CurrencyBalanceRows(ctx, owner)
	if err != nil {
		return nil, err
	}
	base, err := s.settings.BaseCurrency(ctx, owner)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]decimal.Decimal)
	for _, r := range rows {
		currency := base
		amount := r.Amount
		switch {
		case r.MethodCurrency == "":
			// No payment method attached; the amount is base currency.
		case !r.MethodActive:
			continue
		case r.NativeAmount != nil:
			currency = r.MethodCurrency
			amount = *r.NativeAmount
		default:
			// Method currency equals base, or a legacy row.
			currency = r.MethodCurrency
		}
		totals[currency] = totals[currency].Add(signedAmount(r.Type, amount))
	}

	out := make([]core.CurrencyBalance, 0, len(totals))
	for currency, amount := range totals {
		out = append(out, core.CurrencyBalance{Currency: currency, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

// signedAmount applies the type's sign convention. Transfer amounts are
// stored already signed.
func signedAmount(typ core.TransactionType, amount decimal.Decimal) decimal.Decimal {
	switch typ {
	case core.TypeExpense:
		return amount.Neg()
	default:
		return amount
	}
}
