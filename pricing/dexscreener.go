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

const DefaultDexScreenerURL = "https://api.dexscreener.com"

// DexScreenerSource reads the USD price of the most liquid pair for a token address.
type DexScreenerSource struct {
	httpSource
}

func NewDexScreenerSource(client HTTPDoer, baseURL string, limiter *rate.Limiter) *DexScreenerSource {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultDexScreenerURL
	}
	return &DexScreenerSource{httpSource: newHTTPSource(client, baseURL, limiter)}
}

func (d *DexScreenerSource) Name() types.PriceSource { return types.SourceDexScreener }

type dexScreenerResponse struct {
	Pairs []dexScreenerPair `json:"pairs"`
}

type dexScreenerPair struct {
	ChainID   string `json:"chainId"`
	PairAddr  string `json:"pairAddress"`
	PriceUSD  string `json:"priceUsd"`
	Liquidity *struct {
		USD json.Number `json:"usd"`
	} `json:"liquidity"`
}

func (p dexScreenerPair) liquidity() decimal.Decimal {
	if p.Liquidity == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(p.Liquidity.USD.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (d *DexScreenerSource) Price(ctx context.Context, tokenAddress string) (decimal.Decimal, error) {
	if tokenAddress == "" {
		return decimal.Zero, fmt.Errorf("dexscreener: %w", ErrNotConfigured)
	}

	resp, err := d.get(ctx, d.Name(), d.baseURL+"/latest/dex/tokens/"+url.PathEscape(tokenAddress))
	if err != nil {
		return decimal.Zero, err
	}
	defer func() { _ = resp.Body.Close() }()

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload dexScreenerResponse
	if err := decoder.Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("dexscreener: decode: %w", err)
	}
	if len(payload.Pairs) == 0 {
		return decimal.Zero, fmt.Errorf("dexscreener: %w", ErrNoPairs)
	}

	var (
		best    decimal.Decimal
		bestLiq = decimal.NewFromInt(-1)
		found   bool
	)
	for _, pair := range payload.Pairs {
		price, err := decimal.NewFromString(strings.TrimSpace(pair.PriceUSD))
		if err != nil || !price.IsPositive() {
			continue
		}
		if liq := pair.liquidity(); liq.GreaterThan(bestLiq) {
			best, bestLiq, found = price, liq, true
		}
	}
	if !found {
		return decimal.Zero, fmt.Errorf("dexscreener: %w", ErrNoPrice)
	}
	return best, nil
}
