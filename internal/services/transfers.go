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

// TransferService moves money between two of an owner's payment methods by
// writing a linked pair of transfer rows: a negative withdrawal on the
// source and a positive deposit on the destination. The pair is atomic;
// any conversion failure aborts both legs.
type TransferService struct {
	store    *storage.Store
	rates    *rates.Cache
	settings *SettingsService
}

func NewTransferService(store *storage.Store, rateCache *rates.Cache, settings *SettingsService) *TransferService {
	return &TransferService{store: store, rates: rateCache, settings: settings}
}

// TransferInput describes one transfer. Amount is in the source payment
// method's currency.
type TransferInput struct {
	SourceID    string
	DestID      string
	Amount      decimal.Decimal
	Date        time.Time
	Description string
}

// TransferResult is a successful transfer: both persisted legs plus a
// stale-rate warning when any conversion involved a fallback rate.
type TransferResult struct {
	Withdrawal *core.Transaction
	Deposit    *core.Transaction
	RateStale  bool
}

// Create validates and persists both legs of a transfer.
func (s *TransferService) Create(ctx context.Context, owner string, in TransferInput) (*TransferResult, error) {
	if !in.Amount.IsPositive() {
		return nil, core.Invalid("amount", "must be positive")
	}
	if in.SourceID == in.DestID {
		return nil, core.Invalid("destinationId", "source and destination must differ")
	}

	src, err := s.store.GetPaymentMethod(ctx, owner, in.SourceID)
	if err != nil {
		return nil, err
	}
	dst, err := s.store.GetPaymentMethod(ctx, owner, in.DestID)
	if err != nil {
		return nil, err
	}
	if !src.IsActive {
		return nil, core.Invalid("sourceId", "payment method is inactive")
	}
	if !dst.IsActive {
		return nil, core.Invalid("destinationId", "payment method is inactive")
	}

	base, err := s.settings.BaseCurrency(ctx, owner)
	if err != nil {
		return nil, err
	}

	stale := false
	rate := func(from, to string) (decimal.Decimal, error) {
		r, err := s.rates.GetRate(ctx, from, to, in.Date)
		if err != nil {
			return decimal.Zero, err
		}
		stale = stale || r.Stale
		return r.Value, nil
	}

	nativeOut := core.RoundAmount(in.Amount)

	// The deposit's native amount is the withdrawal converted into the
	// destination currency at the transfer date.
	nativeIn := nativeOut
	if src.Currency != dst.Currency {
		r, err := rate(src.Currency, dst.Currency)
		if err != nil {
			return nil, err
		}
		nativeIn = core.Convert(nativeOut, r)
	}

	now := time.Now()
	outID, inID := uuid.NewString(), uuid.NewString()

	withdrawal := core.Transaction{
		ID:                  outID,
		Owner:               owner,
		Type:                core.TypeTransfer,
		Date:                in.Date,
		Description:         in.Description,
		PaymentMethodID:     src.ID,
		LinkedTransactionID: inID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	deposit := core.Transaction{
		ID:                  inID,
		Owner:               owner,
		Type:                core.TypeTransfer,
		Date:                in.Date,
		Description:         in.Description,
		PaymentMethodID:     dst.ID,
		LinkedTransactionID: outID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := setTransferLeg(&withdrawal, nativeOut.Neg(), src.Currency, base, rate); err != nil {
		return nil, err
	}
	if err := setTransferLeg(&deposit, nativeIn, dst.Currency, base, rate); err != nil {
		return nil, err
	}

	if err := withdrawal.Validate(); err != nil {
		return nil, err
	}
	if err := deposit.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.InsertTransferPair(ctx, &withdrawal, &deposit); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Transfer created",
		"owner", owner, "withdrawal_id", outID, "deposit_id", inID,
		"amount", nativeOut.String(), "from", src.Currency, "to", dst.Currency, "stale_rate", stale)
	return &TransferResult{Withdrawal: &withdrawal, Deposit: &deposit, RateStale: stale}, nil
}

// setTransferLeg fills one leg's amount fields. native is signed and
// denominated in the leg's payment method currency; Amount ends up in the
// owner's base currency with the same sign.
func setTransferLeg(leg *core.Transaction, native decimal.Decimal, currency, base string, rate func(from, to string) (decimal.Decimal, error)) error {
	if currency == base {
		leg.Amount = native
		return nil
	}
	r, err := rate(currency, base)
	if err != nil {
		return err
	}
	leg.NativeAmount = &native
	leg.ExchangeRate = &r
	leg.BaseCurrency = base
	leg.Amount = core.Convert(native, r)
	return nil
}

// Delete removes a transfer by either of its leg ids; the paired leg is
// deleted in the same transaction.
func (s *TransferService) Delete(ctx context.Context, owner, id string) error {
	tx, err := s.store.GetTransaction(ctx, owner, id)
	if err != nil {
		return err
	}
	if tx.Type != core.TypeTransfer {
		return core.Invalid("transactionId", "not a transfer")
	}
	if err := s.store.DeleteTransaction(ctx, owner, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Transfer deleted",
		"owner", owner, "transaction_id", id, "linked_transaction_id", tx.LinkedTransactionID)
	return nil
}
