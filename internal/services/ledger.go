package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"moneta/internal/core"
	"moneta/internal/rates"
	"moneta/internal/storage"
)

// LedgerService writes and reads income and expense entries. Amounts come
// in denominated in the attached payment method's currency; when that
// differs from the owner's base currency the service resolves a rate and
// stores the full conversion alongside the base amount. Transfer rows are
// created through the TransferService only, so a transfer can never exist
// as a single unpaired leg.
type LedgerService struct {
	store    *storage.Store
	rates    *rates.Cache
	settings *SettingsService
}

func NewLedgerService(store *storage.Store, rateCache *rates.Cache, settings *SettingsService) *LedgerService {
	return &LedgerService{store: store, rates: rateCache, settings: settings}
}

// TransactionInput is one ledger write. Amount is in the payment method's
// currency when PaymentMethodID is set, otherwise in the owner's base
// currency. ExchangeRate, when non-nil, overrides the cache lookup.
type TransactionInput struct {
	Type            core.TransactionType
	Amount          decimal.Decimal
	Date            time.Time
	Description     string
	CategoryID      string
	TagIDs          []string
	PaymentMethodID string
	ExchangeRate    *decimal.Decimal
}

// WriteResult is a successful ledger write. RateStale flags that the
// conversion used a stale fallback rate; the write itself succeeded.
type WriteResult struct {
	Transaction *core.Transaction
	RateStale   bool
}

// Create validates and persists one income or expense entry.
func (s *LedgerService) Create(ctx context.Context, owner string, in TransactionInput) (*WriteResult, error) {
	if in.Type == core.TypeTransfer {
		return nil, core.Invalid("type", "transfers are created through the transfer API")
	}
	if !in.Amount.IsPositive() {
		return nil, core.Invalid("amount", "must be positive")
	}

	now := time.Now()
	tx := core.Transaction{
		ID:              uuid.NewString(),
		Owner:           owner,
		Type:            in.Type,
		Date:            in.Date,
		Description:     in.Description,
		CategoryID:      in.CategoryID,
		TagIDs:          in.TagIDs,
		PaymentMethodID: in.PaymentMethodID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	stale, err := s.applyAmount(ctx, &tx, core.RoundAmount(in.Amount), in.ExchangeRate)
	if err != nil {
		return nil, err
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.InsertTransaction(ctx, &tx); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Transaction created",
		"owner", owner, "transaction_id", tx.ID, "type", string(tx.Type),
		"amount", tx.Amount.String(), "stale_rate", stale)
	return &WriteResult{Transaction: &tx, RateStale: stale}, nil
}

// applyAmount fills Amount and, when the payment method's currency differs
// from the owner's base, the conversion triple. amount is in the payment
// method's currency (or base when no method is attached).
func (s *LedgerService) applyAmount(ctx context.Context, tx *core.Transaction, amount decimal.Decimal, override *decimal.Decimal) (stale bool, err error) {
	if tx.PaymentMethodID == "" {
		tx.Amount = amount
		tx.NativeAmount = nil
		tx.ExchangeRate = nil
		tx.BaseCurrency = ""
		return false, nil
	}

	pm, err := s.store.GetPaymentMethod(ctx, tx.Owner, tx.PaymentMethodID)
	if err != nil {
		return false, err
	}
	if !pm.IsActive {
		return false, core.Invalid("paymentMethodId", "payment method is inactive")
	}

	base, err := s.settings.BaseCurrency(ctx, tx.Owner)
	if err != nil {
		return false, err
	}
	if pm.Currency == base {
		tx.Amount = amount
		tx.NativeAmount = nil
		tx.ExchangeRate = nil
		tx.BaseCurrency = ""
		return false, nil
	}

	var rate decimal.Decimal
	switch {
	case override != nil:
		if !override.IsPositive() {
			return false, core.Invalid("exchangeRate", "must be positive")
		}
		rate = *override
	default:
		r, err := s.rates.GetRate(ctx, pm.Currency, base, tx.Date)
		if err != nil {
			return false, err
		}
		rate = r.Value
		stale = r.Stale
	}

	native := amount
	tx.NativeAmount = &native
	tx.ExchangeRate = &rate
	tx.BaseCurrency = base
	tx.Amount = core.Convert(native, rate)
	return stale, nil
}

// TransactionPatch carries the fields an update may change. Nil pointers
// leave the stored value untouched; a pointer to the zero value clears it.
type TransactionPatch struct {
	Amount          *decimal.Decimal
	Date            *time.Time
	Description     *string
	CategoryID      *string
	TagIDs          *[]string
	PaymentMethodID *string
	ExchangeRate    *decimal.Decimal
}

// Update applies a patch to one transaction and re-runs validation and,
// when the amount or payment method changed, the currency conversion.
// Transfer legs only accept date and description changes; anything that
// would desynchronize the pair is rejected.
func (s *LedgerService) Update(ctx context.Context, owner, id string, patch TransactionPatch) (*WriteResult, error) {
	tx, err := s.store.GetTransaction(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	if tx.Type == core.TypeTransfer {
		if patch.Amount != nil || patch.CategoryID != nil || patch.PaymentMethodID != nil ||
			patch.ExchangeRate != nil || patch.TagIDs != nil {
			return nil, core.Invalid("transaction", "transfer legs only allow date and description changes")
		}
	}

	if patch.Date != nil {
		tx.Date = *patch.Date
	}
	if patch.Description != nil {
		tx.Description = *patch.Description
	}
	if patch.CategoryID != nil {
		tx.CategoryID = *patch.CategoryID
	}
	if patch.TagIDs != nil {
		tx.TagIDs = *patch.TagIDs
	}

	stale := false
	reconvert := patch.Amount != nil || patch.PaymentMethodID != nil || patch.ExchangeRate != nil
	if reconvert {
		amount := inputAmount(tx)
		if patch.Amount != nil {
			if !patch.Amount.IsPositive() {
				return nil, core.Invalid("amount", "must be positive")
			}
			amount = core.RoundAmount(*patch.Amount)
		}
		if patch.PaymentMethodID != nil {
			tx.PaymentMethodID = *patch.PaymentMethodID
		}
		if stale, err = s.applyAmount(ctx, tx, amount, patch.ExchangeRate); err != nil {
			return nil, err
		}
	}

	tx.UpdatedAt = time.Now()
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.UpdateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Transaction updated", "owner", owner, "transaction_id", id)
	return &WriteResult{Transaction: tx, RateStale: stale}, nil
}

// inputAmount recovers the amount as the caller originally supplied it:
// native currency when a conversion was stored, base currency otherwise.
func inputAmount(tx *core.Transaction) decimal.Decimal {
	if tx.NativeAmount != nil {
		return *tx.NativeAmount
	}
	return tx.Amount
}

// Get fetches one transaction scoped to its owner.
func (s *LedgerService) Get(ctx context.Context, owner, id string) (*core.Transaction, error) {
	return s.store.GetTransaction(ctx, owner, id)
}

// List returns the owner's transactions, newest first.
func (s *LedgerService) List(ctx context.Context, owner string) ([]core.Transaction, error) {
	return s.store.ListTransactions(ctx, owner)
}

// Delete removes a transaction. Deleting a transfer leg removes its paired
// leg in the same transaction.
func (s *LedgerService) Delete(ctx context.Context, owner, id string) error {
	if err := s.store.DeleteTransaction(ctx, owner, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Transaction deleted", "owner", owner, "transaction_id", id)
	return nil
}
