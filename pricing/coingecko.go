package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/vitwit/onramp/types"
)

const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// CoinGeckoSource adapts the public CoinGecko simple price API.
// assetID maps the token id used by the oracle to a CoinGecko id.
type CoinGeckoSource struct {
	httpSource
	assetID string
}

func NewCoinGeckoSource(client HTTPDoer, baseURL, assetID string, limiter *rate.Limiter) *CoinGeckoSource {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultCoinGeckoURL
	}
	return &CoinGeckoSource{
		httpSource: newHTTPSource(client, baseURL, limiter),
		assetID:    strings.ToLower(strings.TrimSpace(assetID)),
	}
}

func (c *CoinGeckoSource) Name() types.PriceSource { return types.SourceCoinGecko }

func (c *CoinGeckoSource) Price(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	id := c.assetID
	if id == "" {
		id = strings.ToLower(strings.TrimSpace(tokenID))
	}
	if id == "" {
		return decimal.Zero, fmt.Errorf("coingecko: %w", ErrNotConfigured)
	}

	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", "usd")

	resp, err := c.get(ctx, c.Name(), c.baseURL+"/simple/price?"+values.Encode())
	if err != nil {
		return decimal.Zero, err
	}
	defer func() { _ = resp.Body.Close() }()

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]json.Number
	if err := decoder.Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("coingecko: decode: %w", err)
	}

	raw, ok := payload[id]["usd"]
	if !ok || raw.String() == "" {
		return decimal.Zero, fmt.Errorf("coingecko: %w for %s", ErrNoPrice, id)
	}
	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("coingecko: invalid price %q", raw)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("coingecko: %w", ErrNonPositive)
	}
	return price, nil
}
