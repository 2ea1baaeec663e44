package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUpstreamUnavailable is returned by a Source when no usable price could
// be obtained. It never leaves this package: the Oracle absorbs it.
var ErrUpstreamUnavailable = errors.New("upstream_unavailable")

// Source fetches a spot price for a symbol from an external provider.
type Source interface {
	Fetch(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// CoinGeckoSource queries the CoinGecko simple price endpoint:
//
//	GET {baseURL}/simple/price?ids=bitcoin&vs_currencies=usd
//	{"bitcoin": {"usd": 65000.12}}
type CoinGeckoSource struct {
	baseURL  string
	currency string
	client   *http.Client
}

// NewCoinGeckoSource creates a source for the given API base URL and target
// currency code. timeout bounds every request.
func NewCoinGeckoSource(baseURL, currency string, timeout time.Duration) *CoinGeckoSource {
	return &CoinGeckoSource{
		baseURL:  strings.TrimRight(baseURL, "/"),
		currency: strings.ToLower(currency),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch returns the price of symbol in the configured currency. The symbol
// is lowercased to form the CoinGecko id.
func (s *CoinGeckoSource) Fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	id := canonicalID(symbol)

	query := url.Values{}
	query.Set("ids", id)
	query.Set("vs_currencies", s.currency)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/simple/price?"+query.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: build request: %v", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	// decimal.Decimal accepts both JSON numbers and numeric strings.
	var body map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%w: decode body: %v", ErrUpstreamUnavailable, err)
	}

	quotes, ok := body[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: unknown id %q", ErrUpstreamUnavailable, id)
	}
	price, ok := quotes[s.currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no %s quote for %q", ErrUpstreamUnavailable, s.currency, id)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive price %s for %q", ErrUpstreamUnavailable, price, id)
	}
	return price, nil
}

// canonicalID maps a symbol to the lowercase identifier used for upstream
// requests, cache keys and the fallback table.
func canonicalID(symbol string) string {
	return strings.ToLower(strings.TrimSpace(symbol))
}
