package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"moneta/internal/amqp"
	"moneta/internal/core"
	"moneta/internal/rates"
	"moneta/internal/storage"
)

type fakeProvider struct {
	mu     sync.Mutex
	values map[string]decimal.Decimal // "FROM/TO"
	calls  int
}

func (p *fakeProvider) FetchRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	v, ok := p.values[from+"/"+to]
	if !ok {
		return decimal.Zero, errors.New("pair not served")
	}
	return v, nil
}

func (p *fakeProvider) Source() string { return "fake" }

func newWorkerEnv(t *testing.T, provider rates.Provider) (*RatesWorker, *storage.Store, *rates.Cache) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "worker_test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cache := rates.NewCache(store, nil, 24*time.Hour, time.Second)
	w := NewRatesWorker(store, cache, provider, "USD", time.Second, 2, 90)
	return w, store, cache
}

func seedMethod(t *testing.T, store *storage.Store, owner, name, currency string) {
	t.Helper()
	now := time.Now()
	pm := core.PaymentMethod{
		ID: fmt.Sprintf("pm-%s-%s", owner, name), Owner: owner, Name: name,
		Currency: currency, Kind: core.KindDebit, IsActive: true,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreatePaymentMethod(context.Background(), &pm); err != nil {
		t.Fatalf("seed payment method: %v", err)
	}
}

func TestRunSweepRefreshesActivePairs(t *testing.T) {
	provider := &fakeProvider{values: map[string]decimal.Decimal{
		"EUR/USD": decimal.RequireFromString("1.0870"),
		"USD/EUR": decimal.RequireFromString("0.919963"),
	}}
	w, store, cache := newWorkerEnv(t, provider)
	ctx := context.Background()

	seedMethod(t, store, "alice", "EUR Card", "EUR")
	seedMethod(t, store, "alice", "GBP Card", "GBP")
	seedMethod(t, store, "alice", "Checking", "USD") // base currency, no pair

	res, err := w.RunSweep(ctx)
	if err != nil {
		t.Fatalf("run sweep: %v", err)
	}
	// EUR and GBP each produce both directions against USD.
	if res.Refreshed != 2 || res.Failed != 2 {
		t.Fatalf("sweep = %+v, want 2 refreshed and 2 failed", res)
	}

	r, err := cache.GetRate(ctx, "EUR", "USD", time.Now())
	if err != nil {
		t.Fatalf("rate after sweep: %v", err)
	}
	if !r.Value.Equal(decimal.RequireFromString("1.0870")) || r.Stale {
		t.Errorf("rate = %+v, want fresh 1.0870", r)
	}
}

func TestRunSweepEmptyLedger(t *testing.T) {
	w, _, _ := newWorkerEnv(t, &fakeProvider{})

	res, err := w.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("run sweep: %v", err)
	}
	if res.Refreshed != 0 || res.Failed != 0 {
		t.Errorf("sweep on empty ledger = %+v", res)
	}
}

func TestHandleRefreshMessageTargetedPair(t *testing.T) {
	provider := &fakeProvider{values: map[string]decimal.Decimal{
		"EUR/USD": decimal.RequireFromString("1.09"),
	}}
	w, _, cache := newWorkerEnv(t, provider)
	ctx := context.Background()

	if err := w.HandleRefreshMessage(ctx, amqp.NewRateRefreshMessage("EUR", "USD")); err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls)
	}

	r, err := cache.GetRate(ctx, "EUR", "USD", time.Now())
	if err != nil || !r.Value.Equal(decimal.RequireFromString("1.09")) {
		t.Errorf("rate = %+v, %v; want 1.09", r, err)
	}
}

func TestHandleRefreshMessageFailurePropagates(t *testing.T) {
	w, _, _ := newWorkerEnv(t, &fakeProvider{})

	err := w.HandleRefreshMessage(context.Background(), amqp.NewRateRefreshMessage("GBP", "JPY"))
	if err == nil {
		t.Fatal("unserved pair should surface an error for requeue")
	}
}
