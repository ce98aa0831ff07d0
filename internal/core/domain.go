package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType discriminates ledger entries.
type TransactionType string

const (
	TypeIncome   TransactionType = "income"
	TypeExpense  TransactionType = "expense"
	TypeTransfer TransactionType = "transfer"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeIncome, TypeExpense, TypeTransfer:
		return true
	}
	return false
}

// PaymentMethodKind classifies an account.
type PaymentMethodKind string

const (
	KindDebit   PaymentMethodKind = "debit"
	KindCredit  PaymentMethodKind = "credit"
	KindCash    PaymentMethodKind = "cash"
	KindSavings PaymentMethodKind = "savings"
	KindOther   PaymentMethodKind = "other"
)

// Valid reports whether k is one of the known payment method kinds.
func (k PaymentMethodKind) Valid() bool {
	switch k {
	case KindDebit, KindCredit, KindCash, KindSavings, KindOther:
		return true
	}
	return false
}

const (
	maxNameLen        = 100
	maxDescriptionLen = 500
)

// PaymentMethod is a currency-tagged account owned by a single user.
// Currency is immutable after creation: changing it would silently corrupt
// the meaning of every historical native amount recorded against it.
type PaymentMethod struct {
	ID        string
	Owner     string
	Name      string
	Currency  string
	Kind      PaymentMethodKind
	Color     string
	IsDefault bool
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateName checks a display name shared by payment methods and other
// nameable records.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return Invalid("name", "required")
	}
	if len(name) > maxNameLen {
		return Invalidf("name", "too long (max %d characters)", maxNameLen)
	}
	return nil
}

func (pm PaymentMethod) Validate() error {
	if pm.Owner == "" {
		return Invalid("owner", "required")
	}
	if err := ValidateName(pm.Name); err != nil {
		return err
	}
	if _, err := NormalizeCurrency(pm.Currency); err != nil {
		return err
	}
	if !pm.Kind.Valid() {
		return Invalidf("kind", "unknown kind %q", string(pm.Kind))
	}
	return nil
}

// Transaction is one ledger entry. Amount is expressed in the owner's base
// currency; the optional NativeAmount/ExchangeRate/BaseCurrency triple
// records the conversion applied at write time. A legacy row has all three
// unset, meaning Amount already denotes base currency.
type Transaction struct {
	ID                  string
	Owner               string
	Type                TransactionType
	Amount              decimal.Decimal
	Date                time.Time
	Description         string
	CategoryID          string
	TagIDs              []string
	PaymentMethodID     string
	NativeAmount        *decimal.Decimal
	ExchangeRate        *decimal.Decimal
	BaseCurrency        string
	LinkedTransactionID string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsLegacy reports whether the row predates multi-currency support.
func (t Transaction) IsLegacy() bool {
	return t.NativeAmount == nil && t.ExchangeRate == nil && t.BaseCurrency == ""
}

// Validate enforces the write-time invariants: positive amounts, the
// category XOR rule (required for income/expense, forbidden for transfer),
// and a consistent conversion triple.
func (t Transaction) Validate() error {
	if t.Owner == "" {
		return Invalid("owner", "required")
	}
	if !t.Type.Valid() {
		return Invalidf("type", "unknown type %q", string(t.Type))
	}
	if t.Date.IsZero() {
		return Invalid("date", "required")
	}
	if len(t.Description) > maxDescriptionLen {
		return Invalidf("description", "too long (max %d characters)", maxDescriptionLen)
	}
	switch t.Type {
	case TypeTransfer:
		if t.CategoryID != "" {
			return Invalid("categoryId", "must be empty for transfers")
		}
		if t.Amount.IsZero() {
			return Invalid("amount", "must be non-zero")
		}
	default:
		if t.CategoryID == "" {
			return Invalid("categoryId", "required for income and expense")
		}
		if !t.Amount.IsPositive() {
			return Invalid("amount", "must be positive")
		}
	}
	// The conversion triple is all-or-nothing.
	hasNative := t.NativeAmount != nil
	hasRate := t.ExchangeRate != nil
	hasBase := t.BaseCurrency != ""
	if hasNative != hasRate || hasRate != hasBase {
		return Invalid("conversion", "nativeAmount, exchangeRate and baseCurrency must be set together")
	}
	if hasNative {
		if t.NativeAmount.IsZero() {
			return Invalid("nativeAmount", "must be non-zero")
		}
		if t.Type != TypeTransfer && !t.NativeAmount.IsPositive() {
			return Invalid("nativeAmount", "must be positive")
		}
		if !t.ExchangeRate.IsPositive() {
			return Invalid("exchangeRate", "must be positive")
		}
		if _, err := NormalizeCurrency(t.BaseCurrency); err != nil {
			return err
		}
	}
	if t.LinkedTransactionID != "" && t.Type != TypeTransfer {
		return Invalid("linkedTransactionId", "only transfers may be linked")
	}
	return nil
}

// Budget is a per-month spending limit against exactly one category or one
// tag, never both and never neither.
type Budget struct {
	ID         string
	Owner      string
	CategoryID string
	TagID      string
	Amount     decimal.Decimal
	Period     time.Time
	CreatedAt  time.Time
}

func (b Budget) Validate() error {
	if b.Owner == "" {
		return Invalid("owner", "required")
	}
	hasCategory := b.CategoryID != ""
	hasTag := b.TagID != ""
	if hasCategory == hasTag {
		return Invalid("budget", "exactly one of categoryId and tagId must be set")
	}
	if !b.Amount.IsPositive() {
		return Invalid("amount", "must be positive")
	}
	if b.Period.IsZero() {
		return Invalid("period", "required")
	}
	if b.Period.Day() != 1 {
		return Invalid("period", "must be the first day of a month")
	}
	return nil
}

// BudgetProgress is the read model computed by the budget aggregator.
type BudgetProgress struct {
	SpentAmount     decimal.Decimal
	SpentPercentage decimal.Decimal
	IsOverspent     bool
}

// ExchangeRate is one cached conversion rate for a currency pair on a date.
// A nil ExpiresAt marks a permanent (manually entered) rate. IsStale marks
// an expired rate kept as a deliberate fallback, distinct from expiry.
type ExchangeRate struct {
	FromCurrency    string
	ToCurrency      string
	Date            time.Time
	Rate            decimal.Decimal
	Source          string
	ExpiresAt       *time.Time
	IsStale         bool
	FetchErrorCount int
	FetchedAt       time.Time
}

func (r ExchangeRate) Validate() error {
	if _, err := NormalizeCurrency(r.FromCurrency); err != nil {
		return err
	}
	if _, err := NormalizeCurrency(r.ToCurrency); err != nil {
		return err
	}
	if r.FromCurrency == r.ToCurrency {
		return Invalid("currency", "from and to must differ")
	}
	if !r.Rate.IsPositive() {
		return Invalid("rate", "must be positive")
	}
	if r.Date.IsZero() {
		return Invalid("date", "required")
	}
	return nil
}

// CurrencyBalance is one per-currency line of an owner's balance report.
type CurrencyBalance struct {
	Currency string
	Amount   decimal.Decimal
}

// FirstOfMonth truncates t to the first day of its month in UTC.
func FirstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// LastOfMonth returns the last day of t's month in UTC.
func LastOfMonth(t time.Time) time.Time {
	return FirstOfMonth(t).AddDate(0, 1, -1)
}

// NewDate builds a UTC date with no time component.
func NewDate(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
