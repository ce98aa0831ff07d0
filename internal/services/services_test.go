package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
	"moneta/internal/rates"
	"moneta/internal/storage"
)

type env struct {
	store     *storage.Store
	cache     *rates.Cache
	settings  *SettingsService
	methods   *PaymentMethodService
	ledger    *LedgerService
	transfers *TransferService
	budgets   *BudgetService
	balances  *BalanceService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "services_test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cache := rates.NewCache(store, nil, 24*time.Hour, time.Second)
	settings := NewSettingsService(store, "USD")
	return &env{
		store:     store,
		cache:     cache,
		settings:  settings,
		methods:   NewPaymentMethodService(store),
		ledger:    NewLedgerService(store, cache, settings),
		transfers: NewTransferService(store, cache, settings),
		budgets:   NewBudgetService(store),
		balances:  NewBalanceService(store, settings),
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (e *env) method(t *testing.T, owner, name, currency string) *core.PaymentMethod {
	t.Helper()
	pm, err := e.methods.Create(context.Background(), owner, CreatePaymentMethodInput{
		Name: name, Currency: currency, Kind: core.KindDebit,
	})
	if err != nil {
		t.Fatalf("create payment method %s: %v", name, err)
	}
	return pm
}

// seedRate stores a permanent rate so lookups never depend on wall clock.
func (e *env) seedRate(t *testing.T, from, to, value string, date time.Time) {
	t.Helper()
	if err := e.cache.Upsert(context.Background(), from, to, dec(value), date, rates.SourceManual); err != nil {
		t.Fatalf("seed rate %s/%s: %v", from, to, err)
	}
}

var testDate = core.NewDate(2025, 1, 15)

func TestCreateExpenseConvertsToBase(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pm := e.method(t, "alice", "EUR Card", "EUR")
	e.seedRate(t, "EUR", "USD", "1.0870", testDate)

	res, err := e.ledger.Create(ctx, "alice", TransactionInput{
		Type:            core.TypeExpense,
		Amount:          dec("92.00"),
		Date:            testDate,
		Description:     "hotel",
		CategoryID:      "travel",
		PaymentMethodID: pm.ID,
	})
	if err != nil {
		t.Fatalf("create expense: %v", err)
	}
	tx := res.Transaction
	if !tx.Amount.Equal(dec("100.00")) {
		t.Errorf("base amount = %s, want 100.00", tx.Amount)
	}
	if tx.NativeAmount == nil || !tx.NativeAmount.Equal(dec("92.00")) {
		t.Errorf("native amount = %v, want 92.00", tx.NativeAmount)
	}
	if tx.ExchangeRate == nil || !tx.ExchangeRate.Equal(dec("1.0870")) {
		t.Errorf("exchange rate = %v, want 1.0870", tx.ExchangeRate)
	}
	if tx.BaseCurrency != "USD" {
		t.Errorf("base currency = %q, want USD", tx.BaseCurrency)
	}
	if res.RateStale {
		t.Error("manual rate must not flag stale")
	}

	// The stored conversion survives a round trip.
	got, err := e.ledger.Get(ctx, "alice", tx.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IsLegacy() || !got.Amount.Equal(dec("100.00")) {
		t.Errorf("round trip = %+v", got)
	}
}

func TestCreateBaseCurrencyMethodSkipsConversion(t *testing.T) {
	e := newEnv(t)
	pm := e.method(t, "alice", "Checking", "USD")

	res, err := e.ledger.Create(context.Background(), "alice", TransactionInput{
		Type: core.TypeIncome, Amount: dec("1500"), Date: testDate,
		CategoryID: "salary", PaymentMethodID: pm.ID,
	})
	if err != nil {
		t.Fatalf("create income: %v", err)
	}
	if !res.Transaction.IsLegacy() {
		t.Errorf("same-currency write must not store a conversion triple: %+v", res.Transaction)
	}
	if !res.Transaction.Amount.Equal(dec("1500")) {
		t.Errorf("amount = %s, want 1500", res.Transaction.Amount)
	}
}

func TestCreateExplicitRateOverridesCache(t *testing.T) {
	e := newEnv(t)
	pm := e.method(t, "alice", "EUR Card", "EUR")
	rate := dec("1.10")

	res, err := e.ledger.Create(context.Background(), "alice", TransactionInput{
		Type: core.TypeExpense, Amount: dec("50"), Date: testDate,
		CategoryID: "food", PaymentMethodID: pm.ID, ExchangeRate: &rate,
	})
	if err != nil {
		t.Fatalf("create with explicit rate: %v", err)
	}
	if !res.Transaction.Amount.Equal(dec("55.00")) {
		t.Errorf("amount = %s, want 55.00", res.Transaction.Amount)
	}
}

func TestCreateFailsWhenConversionUnavailable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pm := e.method(t, "alice", "GBP Card", "GBP")

	_, err := e.ledger.Create(ctx, "alice", TransactionInput{
		Type: core.TypeExpense, Amount: dec("10"), Date: testDate,
		CategoryID: "food", PaymentMethodID: pm.ID,
	})
	if !errors.Is(err, core.ErrConversionUnavailable) {
		t.Fatalf("expected ErrConversionUnavailable, got %v", err)
	}

	list, err := e.ledger.List(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("failed write must persist nothing, got %d rows", len(list))
	}
}

func TestCreateStaleRateWarnsButSucceeds(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pm := e.method(t, "alice", "EUR Card", "EUR")

	// An already-expired rate that the sweep flips to stale.
	expired := time.Now().Add(-time.Hour)
	today := core.NewDate(time.Now().UTC().Year(), int(time.Now().UTC().Month()), time.Now().UTC().Day())
	r := core.ExchangeRate{
		FromCurrency: "EUR", ToCurrency: "USD", Rate: dec("1.10"),
		Date: today, Source: "ecb", ExpiresAt: &expired, FetchedAt: expired,
	}
	if err := e.store.UpsertRate(ctx, &r); err != nil {
		t.Fatalf("seed expired rate: %v", err)
	}
	if _, err := e.cache.MarkExpiredAsStale(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	res, err := e.ledger.Create(ctx, "alice", TransactionInput{
		Type: core.TypeExpense, Amount: dec("10"), Date: today,
		CategoryID: "food", PaymentMethodID: pm.ID,
	})
	if err != nil {
		t.Fatalf("create with stale rate: %v", err)
	}
	if !res.RateStale {
		t.Error("stale fallback must be flagged on the result")
	}
	if !res.Transaction.Amount.Equal(dec("11.00")) {
		t.Errorf("amount = %s, want 11.00", res.Transaction.Amount)
	}
}

func TestCreateCategoryRules(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.ledger.Create(ctx, "alice", TransactionInput{
		Type: core.TypeExpense, Amount: dec("10"), Date: testDate,
	})
	if !core.IsValidation(err) {
		t.Errorf("expense without category: got %v, want validation error", err)
	}

	_, err = e.ledger.Create(ctx, "alice", TransactionInput{
		Type: core.TypeTransfer, Amount: dec("10"), Date: testDate,
	})
	if !core.IsValidation(err) {
		t.Errorf("transfer through ledger API: got %v, want validation error", err)
	}
}

func TestCreateRejectsInactiveMethod(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pm := e.method(t, "alice", "Old Card", "USD")
	if err := e.methods.Deactivate(ctx, "alice", pm.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, err := e.ledger.Create(ctx, "alice", TransactionInput{
		Type: core.TypeExpense, Amount: dec("10"), Date: testDate,
		CategoryID: "food", PaymentMethodID: pm.ID,
	})
	if !core.IsValidation(err) {
		t.Errorf("inactive method: got %v, want validation error", err)
	}
}

func TestCrossOwnerAccessIsNotFound(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pm := e.method(t, "alice", "Checking", "USD")
	res, err := e.ledger.Create(ctx, "alice", TransactionInput{
		Type: core.TypeExpense, Amount: dec("10"), Date: testDate,
		CategoryID: "food", PaymentMethodID: pm.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := e.ledger.Get(ctx, "mallory", res.Transaction.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("cross-owner transaction get: got %v, want ErrNotFound", err)
	}
	if _, err := e.methods.Get(ctx, "mallory", pm.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("cross-owner method get: got %v, want ErrNotFound", err)
	}
	if err := e.ledger.Delete(ctx, "mallory", res.Transaction.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("cross-owner delete: got %v, want ErrNotFound", err)
	}
}

func TestUpdateReconvertsOnAmountChange(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pm := e.method(t, "alice", "EUR Card", "EUR")
	e.seedRate(t, "EUR", "USD", "1.0870", testDate)

	res, err := e.ledger.Create(ctx, "alice", TransactionInput{
		Type: core.TypeExpense, Amount: dec("92.00"), Date: testDate,
		CategoryID: "travel", PaymentMethodID: pm.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	amount := dec("46.00")
	updated, err := e.ledger.Update(ctx, "alice", res.Transaction.ID, TransactionPatch{Amount: &amount})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Transaction.Amount.Equal(dec("50.00")) {
		t.Errorf("amount = %s, want 50.00", updated.Transaction.Amount)
	}
	if updated.Transaction.NativeAmount == nil || !updated.Transaction.NativeAmount.Equal(dec("46.00")) {
		t.Errorf("native amount = %v, want 46.00", updated.Transaction.NativeAmount)
	}
}

func TestUpdateDescriptionKeepsConversion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pm := e.method(t, "alice", "EUR Card", "EUR")
	e.seedRate(t, "EUR", "USD", "1.0870", testDate)

	res, err := e.ledger.Create(ctx, "alice", TransactionInput{
		Type: core.TypeExpense, Amount: dec("92.00"), Date: testDate,
		CategoryID: "travel", PaymentMethodID: pm.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	desc := "hotel, night two"
	updated, err := e.ledger.Update(ctx, "alice", res.Transaction.ID, TransactionPatch{Description: &desc})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Transaction.Amount.Equal(dec("100.00")) {
		t.Errorf("amount changed to %s on a description edit", updated.Transaction.Amount)
	}
	if updated.Transaction.Description != desc {
		t.Errorf("description = %q", updated.Transaction.Description)
	}
}

func TestTransferPair(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src := e.method(t, "alice", "EUR Card", "EUR")
	dst := e.method(t, "alice", "Checking", "USD")
	e.seedRate(t, "EUR", "USD", "1.0870", testDate)

	res, err := e.transfers.Create(ctx, "alice", TransferInput{
		SourceID: src.ID, DestID: dst.ID, Amount: dec("100"), Date: testDate,
		Description: "top up",
	})
	if err != nil {
		t.Fatalf("create transfer: %v", err)
	}

	out, in := res.Withdrawal, res.Deposit
	if out.LinkedTransactionID != in.ID || in.LinkedTransactionID != out.ID {
		t.Errorf("legs not reciprocally linked: %q/%q vs %q/%q",
			out.ID, out.LinkedTransactionID, in.ID, in.LinkedTransactionID)
	}
	if out.CategoryID != "" || in.CategoryID != "" {
		t.Error("transfer legs must carry no category")
	}
	if !out.Amount.IsNegative() || !in.Amount.IsPositive() {
		t.Errorf("leg signs: out %s, in %s", out.Amount, in.Amount)
	}
	// 100 EUR leaves the source: -108.70 USD base, native -100.00 EUR.
	if !out.Amount.Equal(dec("-108.70")) {
		t.Errorf("withdrawal base amount = %s, want -108.70", out.Amount)
	}
	if out.NativeAmount == nil || !out.NativeAmount.Equal(dec("-100.00")) {
		t.Errorf("withdrawal native = %v, want -100.00", out.NativeAmount)
	}
	// The deposit lands in base currency, so no conversion triple.
	if !in.Amount.Equal(dec("108.70")) || !in.IsLegacy() {
		t.Errorf("deposit = %+v, want 108.70 with no conversion", in)
	}
}

func TestTransferDeleteRemovesBothLegs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src := e.method(t, "alice", "Checking", "USD")
	dst := e.method(t, "alice", "Savings", "USD")

	res, err := e.transfers.Create(ctx, "alice", TransferInput{
		SourceID: src.ID, DestID: dst.ID, Amount: dec("250"), Date: testDate,
	})
	if err != nil {
		t.Fatalf("create transfer: %v", err)
	}

	// Deleting by the deposit leg removes the withdrawal too.
	if err := e.transfers.Delete(ctx, "alice", res.Deposit.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, id := range []string{res.Withdrawal.ID, res.Deposit.ID} {
		if _, err := e.ledger.Get(ctx, "alice", id); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("leg %s still present after delete: %v", id, err)
		}
	}
}

func TestTransferAbortsWhenConversionUnavailable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src := e.method(t, "alice", "GBP Card", "GBP")
	dst := e.method(t, "alice", "Yen Cash", "JPY")

	_, err := e.transfers.Create(ctx, "alice", TransferInput{
		SourceID: src.ID, DestID: dst.ID, Amount: dec("10"), Date: testDate,
	})
	if !errors.Is(err, core.ErrConversionUnavailable) {
		t.Fatalf("expected ErrConversionUnavailable, got %v", err)
	}

	list, err := e.ledger.List(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("aborted transfer must persist no legs, got %d rows", len(list))
	}
}

func TestTransferLegEditRestrictions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src := e.method(t, "alice", "Checking", "USD")
	dst := e.method(t, "alice", "Savings", "USD")
	res, err := e.transfers.Create(ctx, "alice", TransferInput{
		SourceID: src.ID, DestID: dst.ID, Amount: dec("250"), Date: testDate,
	})
	if err != nil {
		t.Fatalf("create transfer: %v", err)
	}

	amount := dec("300")
	if _, err := e.ledger.Update(ctx, "alice", res.Withdrawal.ID, TransactionPatch{Amount: &amount}); !core.IsValidation(err) {
		t.Errorf("amount edit on a transfer leg: got %v, want validation error", err)
	}

	desc := "moved savings"
	if _, err := e.ledger.Update(ctx, "alice", res.Withdrawal.ID, TransactionPatch{Description: &desc}); err != nil {
		t.Errorf("description edit on a transfer leg: %v", err)
	}
}

func TestAtMostOneDefaultMethod(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.methods.Create(ctx, "alice", CreatePaymentMethodInput{
		Name: "Checking", Currency: "USD", Kind: core.KindDebit, MakeDefault: true,
	})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := e.methods.Create(ctx, "alice", CreatePaymentMethodInput{
		Name: "Credit", Currency: "USD", Kind: core.KindCredit, MakeDefault: true,
	})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	assertSingleDefault := func(wantID string) {
		t.Helper()
		list, err := e.methods.List(ctx, "alice")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		var defaults []string
		for _, pm := range list {
			if pm.IsDefault {
				defaults = append(defaults, pm.ID)
			}
		}
		if len(defaults) != 1 || defaults[0] != wantID {
			t.Fatalf("defaults = %v, want exactly [%s]", defaults, wantID)
		}
	}

	assertSingleDefault(second.ID)

	if err := e.methods.SetDefault(ctx, "alice", first.ID); err != nil {
		t.Fatalf("set default: %v", err)
	}
	assertSingleDefault(first.ID)
}

func TestDuplicateMethodNameConflicts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.method(t, "alice", "Checking", "USD")

	_, err := e.methods.Create(ctx, "alice", CreatePaymentMethodInput{
		Name: "Checking", Currency: "EUR", Kind: core.KindDebit,
	})
	if !core.IsConflict(err) {
		t.Errorf("duplicate name: got %v, want conflict", err)
	}

	// Another owner may reuse the name.
	if _, err := e.methods.Create(ctx, "bob", CreatePaymentMethodInput{
		Name: "Checking", Currency: "USD", Kind: core.KindDebit,
	}); err != nil {
		t.Errorf("same name for another owner: %v", err)
	}
}

func TestBudgetProgressOverspent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	b, err := e.budgets.Create(ctx, "alice", BudgetInput{
		CategoryID: "food", Amount: dec("500"), Period: core.NewDate(2025, 1, 1),
	})
	if err != nil {
		t.Fatalf("create budget: %v", err)
	}

	for _, amount := range []string{"312.50", "300.00"} {
		if _, err := e.ledger.Create(ctx, "alice", TransactionInput{
			Type: core.TypeExpense, Amount: dec(amount), Date: testDate, CategoryID: "food",
		}); err != nil {
			t.Fatalf("create expense %s: %v", amount, err)
		}
	}
	// Outside the period and outside the category; both must not count.
	if _, err := e.ledger.Create(ctx, "alice", TransactionInput{
		Type: core.TypeExpense, Amount: dec("40"), Date: core.NewDate(2025, 2, 1), CategoryID: "food",
	}); err != nil {
		t.Fatalf("create out-of-period expense: %v", err)
	}
	if _, err := e.ledger.Create(ctx, "alice", TransactionInput{
		Type: core.TypeIncome, Amount: dec("1000"), Date: testDate, CategoryID: "food",
	}); err != nil {
		t.Fatalf("create income: %v", err)
	}

	p, err := e.budgets.Progress(ctx, b)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if !p.SpentAmount.Equal(dec("612.50")) {
		t.Errorf("spent = %s, want 612.50", p.SpentAmount)
	}
	if !p.SpentPercentage.Equal(dec("122.50")) {
		t.Errorf("percentage = %s, want 122.50", p.SpentPercentage)
	}
	if !p.IsOverspent {
		t.Error("612.50 against 500 must be overspent")
	}
}

func TestBudgetByTag(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	b, err := e.budgets.Create(ctx, "alice", BudgetInput{
		TagID: "vacation", Amount: dec("1000"), Period: core.NewDate(2025, 1, 1),
	})
	if err != nil {
		t.Fatalf("create tag budget: %v", err)
	}

	if _, err := e.ledger.Create(ctx, "alice", TransactionInput{
		Type: core.TypeExpense, Amount: dec("400"), Date: testDate,
		CategoryID: "travel", TagIDs: []string{"vacation"},
	}); err != nil {
		t.Fatalf("create tagged expense: %v", err)
	}
	if _, err := e.ledger.Create(ctx, "alice", TransactionInput{
		Type: core.TypeExpense, Amount: dec("50"), Date: testDate, CategoryID: "travel",
	}); err != nil {
		t.Fatalf("create untagged expense: %v", err)
	}

	p, err := e.budgets.Progress(ctx, b)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if !p.SpentAmount.Equal(dec("400")) {
		t.Errorf("spent = %s, want 400", p.SpentAmount)
	}
	if p.IsOverspent {
		t.Error("400 against 1000 must not be overspent")
	}
}

func TestBudgetValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	period := core.NewDate(2025, 1, 1)

	cases := []struct {
		name string
		in   BudgetInput
	}{
		{"both category and tag", BudgetInput{CategoryID: "food", TagID: "vacation", Amount: dec("100"), Period: period}},
		{"neither category nor tag", BudgetInput{Amount: dec("100"), Period: period}},
		{"mid-month period", BudgetInput{CategoryID: "food", Amount: dec("100"), Period: core.NewDate(2025, 1, 15)}},
		{"non-positive amount", BudgetInput{CategoryID: "food", Amount: dec("0"), Period: period}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.budgets.Create(ctx, "alice", tc.in); !core.IsValidation(err) {
				t.Errorf("got %v, want validation error", err)
			}
		})
	}
}

func TestBudgetUpdateAndDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	b, err := e.budgets.Create(ctx, "alice", BudgetInput{
		CategoryID: "food", Amount: dec("500"), Period: core.NewDate(2025, 1, 1),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := e.budgets.UpdateAmount(ctx, "alice", b.ID, dec("750")); err != nil {
		t.Fatalf("update amount: %v", err)
	}
	got, err := e.budgets.Get(ctx, "alice", b.ID)
	if err != nil || !got.Amount.Equal(dec("750")) {
		t.Fatalf("amount after update = %v, %v; want 750", got, err)
	}

	if err := e.budgets.UpdateAmount(ctx, "alice", b.ID, dec("-1")); !core.IsValidation(err) {
		t.Errorf("negative limit: got %v, want validation error", err)
	}
	if err := e.budgets.UpdateAmount(ctx, "mallory", b.ID, dec("1")); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("cross-owner update: got %v, want ErrNotFound", err)
	}

	if err := e.budgets.Delete(ctx, "alice", b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := e.budgets.Get(ctx, "alice", b.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("get after delete: got %v, want ErrNotFound", err)
	}
}

func TestDuplicateBudgetConflicts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	in := BudgetInput{CategoryID: "food", Amount: dec("500"), Period: core.NewDate(2025, 1, 1)}

	if _, err := e.budgets.Create(ctx, "alice", in); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.budgets.Create(ctx, "alice", in); !core.IsConflict(err) {
		t.Errorf("duplicate budget: got %v, want conflict", err)
	}
	// A different month is fine.
	in.Period = core.NewDate(2025, 2, 1)
	if _, err := e.budgets.Create(ctx, "alice", in); err != nil {
		t.Errorf("next month budget: %v", err)
	}
}

func TestBalanceSignConventions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src := e.method(t, "alice", "Checking", "USD")
	dst := e.method(t, "alice", "Savings", "USD")

	if _, err := e.ledger.Create(ctx, "alice", TransactionInput{
		Type: core.TypeIncome, Amount: dec("1000"), Date: testDate, CategoryID: "salary",
	}); err != nil {
		t.Fatalf("income: %v", err)
	}
	if _, err := e.ledger.Create(ctx, "alice", TransactionInput{
		Type: core.TypeExpense, Amount: dec("250"), Date: testDate, CategoryID: "rent",
	}); err != nil {
		t.Fatalf("expense: %v", err)
	}
	// Same-currency transfers cancel exactly.
	if _, err := e.transfers.Create(ctx, "alice", TransferInput{
		SourceID: src.ID, DestID: dst.ID, Amount: dec("100"), Date: testDate,
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	total, err := e.balances.Balance(ctx, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !total.Equal(dec("750")) {
		t.Errorf("balance = %s, want 750", total)
	}
}

func TestBalanceByCurrency(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	eur := e.method(t, "alice", "EUR Card", "EUR")
	e.seedRate(t, "EUR", "USD", "1.0870", testDate)

	// A legacy-style row with no payment method counts as base currency.
	if _, err := e.ledger.Create(ctx, "alice", TransactionInput{
		Type: core.TypeIncome, Amount: dec("1000"), Date: testDate, CategoryID: "salary",
	}); err != nil {
		t.Fatalf("income: %v", err)
	}
	if _, err := e.ledger.Create(ctx, "alice", TransactionInput{
		Type: core.TypeExpense, Amount: dec("92.00"), Date: testDate,
		CategoryID: "travel", PaymentMethodID: eur.ID,
	}); err != nil {
		t.Fatalf("expense: %v", err)
	}

	balances, err := e.balances.BalanceByCurrency(ctx, "alice")
	if err != nil {
		t.Fatalf("balance by currency: %v", err)
	}
	want := map[string]string{"EUR": "-92.00", "USD": "1000"}
	if len(balances) != len(want) {
		t.Fatalf("balances = %+v, want %d currencies", balances, len(want))
	}
	for _, b := range balances {
		if !b.Amount.Equal(dec(want[b.Currency])) {
			t.Errorf("%s = %s, want %s", b.Currency, b.Amount, want[b.Currency])
		}
	}
}

func TestBaseCurrencyDefaultAndOverride(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cur, err := e.settings.BaseCurrency(ctx, "alice")
	if err != nil || cur != "USD" {
		t.Fatalf("default base = %q, %v; want USD", cur, err)
	}

	if err := e.settings.SetBaseCurrency(ctx, "alice", "eur"); err != nil {
		t.Fatalf("set base: %v", err)
	}
	cur, err = e.settings.BaseCurrency(ctx, "alice")
	if err != nil || cur != "EUR" {
		t.Fatalf("base after override = %q, %v; want EUR", cur, err)
	}

	if err := e.settings.SetBaseCurrency(ctx, "alice", "notacurrency"); !core.IsValidation(err) {
		t.Errorf("invalid currency: got %v, want validation error", err)
	}
}
