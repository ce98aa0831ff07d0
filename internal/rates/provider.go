package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// Provider fetches current conversion rates from an external source.
type Provider interface {
	// FetchRate returns the current rate converting one unit of from
	// into to. Implementations must honor ctx cancellation.
	FetchRate(ctx context.Context, from, to string) (decimal.Decimal, error)
	// Source returns the tag stored alongside fetched rates.
	Source() string
}

// HTTPProvider queries a frankfurter-compatible JSON API:
// GET {base}/latest?base=EUR&symbols=USD -> {"rates": {"USD": 1.0870}}.
type HTTPProvider struct {
	baseURL string
	source  string
	client  *http.Client
}

// NewHTTPProvider builds a provider against the given API base URL. The
// client's own timeout stays unset; callers bound each fetch with a
// context deadline.
func NewHTTPProvider(baseURL, source string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		source:  source,
		client:  &http.Client{},
	}
}

func (p *HTTPProvider) Source() string { return p.source }

func (p *HTTPProvider) FetchRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("base", from)
	q.Set("symbols", to)
	addr := p.baseURL + "/latest?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build rate request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch rate %s/%s: %w", from, to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("fetch rate %s/%s: unexpected status %s", from, to, resp.Status)
	}

	// json.Number keeps the provider's full precision out of float64.
	var payload struct {
		Rates map[string]json.Number `json:"rates"`
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("decode rate response: %w", err)
	}

	raw, ok := payload.Rates[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("rate response missing symbol %s", to)
	}
	value, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse rate %q: %w", raw.String(), err)
	}
	if !value.IsPositive() {
		return decimal.Zero, fmt.Errorf("provider returned non-positive rate %s for %s/%s", value, from, to)
	}
	return value, nil
}
