package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"moneta/internal/core"
	"moneta/internal/storage"
)

// PaymentMethodService manages the per-owner registry of currency-tagged
// accounts.
type PaymentMethodService struct {
	store *storage.Store
}

func NewPaymentMethodService(store *storage.Store) *PaymentMethodService {
	return &PaymentMethodService{store: store}
}

type CreatePaymentMethodInput struct {
	Name        string
	Currency    string
	Kind        core.PaymentMethodKind
	Color       string
	MakeDefault bool
}

// Create registers a new payment method. When MakeDefault is set, any
// previous default is demoted in the same transaction as the insert.
func (s *PaymentMethodService) Create(ctx context.Context, owner string, in CreatePaymentMethodInput) (*core.PaymentMethod, error) {
	currency, err := core.NormalizeCurrency(in.Currency)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	pm := core.PaymentMethod{
		ID:        uuid.NewString(),
		Owner:     owner,
		Name:      strings.TrimSpace(in.Name),
		Currency:  currency,
		Kind:      in.Kind,
		Color:     in.Color,
		IsDefault: in.MakeDefault,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := pm.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreatePaymentMethod(ctx, &pm); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Payment method created",
		"owner", owner, "payment_method_id", pm.ID, "currency", pm.Currency, "default", pm.IsDefault)
	return &pm, nil
}

// Get fetches one payment method. Methods of other owners are reported as
// not found, never as forbidden.
func (s *PaymentMethodService) Get(ctx context.Context, owner, id string) (*core.PaymentMethod, error) {
	return s.store.GetPaymentMethod(ctx, owner, id)
}

// List returns all of the owner's payment methods, default first.
func (s *PaymentMethodService) List(ctx context.Context, owner string) ([]core.PaymentMethod, error) {
	return s.store.ListPaymentMethods(ctx, owner)
}

// SetDefault promotes a method to the owner's default. Demotion of the
// previous default and the promotion are atomic.
func (s *PaymentMethodService) SetDefault(ctx context.Context, owner, id string) error {
	if err := s.store.SetDefaultPaymentMethod(ctx, owner, id, time.Now()); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Default payment method changed", "owner", owner, "payment_method_id", id)
	return nil
}

// Rename changes a method's display name, keeping it unique per owner.
func (s *PaymentMethodService) Rename(ctx context.Context, owner, id, name string) error {
	name = strings.TrimSpace(name)
	if err := core.ValidateName(name); err != nil {
		return err
	}
	return s.store.RenamePaymentMethod(ctx, owner, id, name, time.Now())
}

// Deactivate soft-deletes a payment method. Historical transactions keep
// pointing at it; a deactivated default loses its default flag.
func (s *PaymentMethodService) Deactivate(ctx context.Context, owner, id string) error {
	if err := s.store.DeactivatePaymentMethod(ctx, owner, id, time.Now()); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Payment method deactivated", "owner", owner, "payment_method_id", id)
	return nil
}

// ActiveCurrencies returns the distinct currencies across the owner's
// active payment methods.
func (s *PaymentMethodService) ActiveCurrencies(ctx context.Context, owner string) ([]string, error) {
	currencies, err := s.store.ActiveCurrencies(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("active currencies: %w", err)
	}
	return currencies, nil
}
