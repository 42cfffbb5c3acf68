// Package pricing resolves token prices from upstream feeds and converts fiat
// amounts into token quantities.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/vitwit/onramp/types"
)

var (
	ErrNoPairs       = errors.New("no trading pairs")
	ErrNoPrice       = errors.New("price missing from response")
	ErrNonPositive   = errors.New("non-positive price")
	ErrNotConfigured = errors.New("source not configured")
)

// Source is a single upstream price feed.
type Source interface {
	Name() types.PriceSource
	Price(ctx context.Context, tokenID string) (decimal.Decimal, error)
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// httpSource holds what both HTTP feeds share: a client, a base URL and an
// outbound limiter protecting the upstream's request quota.
type httpSource struct {
	client  HTTPDoer
	baseURL string
	limiter *rate.Limiter
}

func newHTTPSource(client HTTPDoer, baseURL string, limiter *rate.Limiter) httpSource {
	if client == nil {
		client = http.DefaultClient
	}
	return httpSource{
		client:  client,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		limiter: limiter,
	}
}

func (s httpSource) get(ctx context.Context, name types.PriceSource, url string) (*http.Response, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: rate limit wait: %w", name, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%s: status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// NewRateLimiter builds an outbound limiter allowing rps requests per second.
func NewRateLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
