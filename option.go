package onramp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vitwit/onramp/clients"
	"github.com/vitwit/onramp/ledger"
	"github.com/vitwit/onramp/logger"
	"github.com/vitwit/onramp/metrics"
	"github.com/vitwit/onramp/pricing"
	"github.com/vitwit/onramp/ratelimit"
)

type Option func(*Onramp)

func WithLogger(l logger.Logger) Option {
	return func(o *Onramp) {
		o.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(o *Onramp) {
		o.metrics = r
	}
}

// WithRegistry registers Prometheus collectors on reg and serves it on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *Onramp) {
		o.registry = reg
	}
}

// WithLedgerStore replaces the configured ledger store. Onramp takes
// ownership and closes it.
func WithLedgerStore(s ledger.Store) Option {
	return func(o *Onramp) {
		o.store = s
	}
}

func WithLimiterStore(s ratelimit.Store) Option {
	return func(o *Onramp) {
		o.limiterStore = s
	}
}

func WithLedgerClient(c clients.LedgerClient) Option {
	return func(o *Onramp) {
		o.client = c
	}
}

func WithPriceSources(sources ...pricing.Source) Option {
	return func(o *Onramp) {
		o.sources = sources
	}
}

func WithHTTPClient(c pricing.HTTPDoer) Option {
	return func(o *Onramp) {
		o.httpClient = c
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Onramp) {
		o.now = now
	}
}
