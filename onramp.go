// Package onramp wires the fiat-to-token settlement pipeline: webhook
// ingress, signature and payment validation, pricing, the settlement ledger
// and custodial ERC-20 transfers.
package onramp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/vitwit/onramp/clients"
	"github.com/vitwit/onramp/ledger"
	"github.com/vitwit/onramp/logger"
	"github.com/vitwit/onramp/metrics"
	"github.com/vitwit/onramp/pricing"
	"github.com/vitwit/onramp/ratelimit"
	"github.com/vitwit/onramp/settlement"
	"github.com/vitwit/onramp/types"
	"github.com/vitwit/onramp/utils"
	"github.com/vitwit/onramp/verification"
	"github.com/vitwit/onramp/webhook"
)

const Version = "0.1.0"

// Onramp is the main struct that provides all onramp functionality
type Onramp struct {
	cfg types.Config

	logger   logger.Logger
	metrics  metrics.Recorder
	registry *prometheus.Registry
	now      func() time.Time

	httpClient   pricing.HTTPDoer
	sources      []pricing.Source
	limiterStore ratelimit.Store
	store        ledger.Store
	client       clients.LedgerClient

	limiter    *ratelimit.Limiter
	validator  *verification.Validator
	oracle     *pricing.Oracle
	settlement *settlement.SettlementService
	server     *webhook.Server

	closers []func() error
}

// New builds every component from cfg. Options replace individual
// collaborators, mostly for tests and embedding.
func New(cfg types.Config, opts ...Option) (*Onramp, error) {
	o := &Onramp{cfg: cfg}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.NoopLogger{}
	}

	if err := o.setupMetrics(); err != nil {
		return nil, err
	}
	if err := o.setupLimiter(); err != nil {
		o.Close()
		return nil, err
	}
	if err := o.setupLedger(); err != nil {
		o.Close()
		return nil, err
	}
	o.setupOracle()
	o.seedOracle(context.Background())
	if err := o.setupLedgerClient(); err != nil {
		o.Close()
		return nil, err
	}

	o.validator = verification.NewValidator(verification.ValidatorConfig{
		MinUSD:       cfg.Limits.MinPurchaseUSD,
		MaxUSD:       cfg.Limits.MaxPurchaseUSD,
		DefaultChain: cfg.Chain.Default,
		Supported:    cfg.Chain.SupportedNetworks(),
	})

	o.settlement = settlement.NewSettlementService(o.store, o.client, o.oracle, settlement.Config{
		TreasuryKey:  cfg.Chain.TreasuryKey,
		TokenAddress: o.tokenAddress(),
		AwaitTimeout: cfg.Ledger.AwaitTimeout,
		PollInterval: cfg.Ledger.PollInterval,
	}, settlement.WithLogger(o.logger), settlement.WithMetrics(o.metrics))

	serverOpts := []webhook.Option{
		webhook.WithQuoter(o.oracle),
		webhook.WithLogger(o.logger),
		webhook.WithMetrics(o.metrics),
	}
	if o.registry != nil {
		serverOpts = append(serverOpts, webhook.WithGatherer(o.registry))
	}
	o.server = webhook.NewServer(webhook.Config{
		Secret:          cfg.Webhook.Secret,
		SignatureHeader: cfg.Webhook.SignatureHeader,
		BodyLimit:       cfg.Server.BodyLimit,
		AccessLog:       true,
	}, o.limiter, o.validator, o.settlement, serverOpts...)

	o.logger.Info("onramp initialized", map[string]any{
		"version":       Version,
		"chain":         cfg.Chain.Default.String(),
		"ledgerDriver":  cfg.Ledger.Driver,
		"limiterDriver": cfg.RateLimit.Driver,
		"tokenId":       cfg.Pricing.TokenID,
	})
	return o, nil
}

func (o *Onramp) setupMetrics() error {
	if o.metrics != nil {
		return nil
	}
	if !o.cfg.Metrics.Enabled {
		o.metrics = metrics.NoopRecorder{}
		return nil
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}
	rec, err := metrics.NewPrometheusRecorder(o.registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	o.metrics = rec
	return nil
}

func (o *Onramp) setupLimiter() error {
	rl := o.cfg.RateLimit
	if o.limiterStore == nil {
		switch rl.Driver {
		case "redis":
			rdb := redis.NewClient(&redis.Options{
				Addr:     rl.RedisAddr,
				Password: rl.RedisPassword.Reveal(),
			})
			o.closers = append(o.closers, rdb.Close)
			o.limiterStore = ratelimit.NewRedisStore(rdb, "")
		case "", "memory":
			o.limiterStore = ratelimit.NewMemoryStore()
		default:
			return types.NewError(types.ErrConfigError, fmt.Sprintf("unknown ratelimit driver %q", rl.Driver), nil)
		}
	}

	limiterOpts := []ratelimit.Option{
		ratelimit.WithWindow(rl.Window),
		ratelimit.WithMaxAttempts(rl.MaxAttempts),
	}
	if o.now != nil {
		limiterOpts = append(limiterOpts, ratelimit.WithClock(o.now))
	}
	o.limiter = ratelimit.New(o.limiterStore, limiterOpts...)
	return nil
}

func (o *Onramp) setupLedger() error {
	if o.store != nil {
		o.closers = append(o.closers, o.store.Close)
		return nil
	}

	lc := o.cfg.Ledger
	var (
		store ledger.Store
		err   error
	)
	switch lc.Driver {
	case "", "memory":
		store = ledger.NewMemoryStore()
	case "sqlite":
		store, err = ledger.NewSQLiteStore(lc.DSN)
	case "mysql":
		db, dbErr := ledger.OpenMySQL(lc.DSN)
		if dbErr != nil {
			return types.NewError(types.ErrLedgerError, "failed to open ledger", dbErr)
		}
		store, err = ledger.NewGormStore(db)
	default:
		return types.NewError(types.ErrConfigError, fmt.Sprintf("unknown ledger driver %q", lc.Driver), nil)
	}
	if err != nil {
		return types.NewError(types.ErrLedgerError, "failed to open ledger", err)
	}

	o.store = store
	o.closers = append(o.closers, store.Close)
	return nil
}

func (o *Onramp) setupOracle() {
	pc := o.cfg.Pricing
	if o.sources == nil {
		if o.httpClient == nil {
			o.httpClient = &http.Client{Timeout: pc.Timeout}
		}
		// both upstreams share one outbound rate limit
		limiter := pricing.NewRateLimiter(pc.RequestsPerSecond)
		o.sources = append(o.sources, pricing.NewDexScreenerSource(o.httpClient, pc.DexScreenerURL, limiter))
		if pc.CoinGeckoID != "" {
			o.sources = append(o.sources, pricing.NewCoinGeckoSource(o.httpClient, pc.CoinGeckoURL, pc.CoinGeckoID, limiter))
		}
	}

	oracleOpts := []pricing.OracleOption{
		pricing.WithFallbackPrice(pc.FallbackPrice),
		pricing.WithTolerance(pc.Tolerance),
		pricing.WithQuoteParams(o.cfg.Limits.Fee, o.cfg.Chain.TokenDecimals, pc.TokenID),
		pricing.WithNetworkLabel(o.cfg.Chain.Default.String()),
		pricing.WithAuditSink(o.store),
		pricing.WithLogger(o.logger),
		pricing.WithMetrics(o.metrics),
	}
	if o.now != nil {
		oracleOpts = append(oracleOpts, pricing.WithClock(o.now))
	}
	o.oracle = pricing.NewOracle(o.sources, oracleOpts...)
}

// seedLookback bounds how many settled records are scanned for a market price.
const seedLookback = 50

// seedOracle primes the price guard with the newest market price a settlement
// used, so the first sample after a restart is still compared against it.
func (o *Onramp) seedOracle(ctx context.Context) {
	records, err := o.store.List(ctx, ledger.ListFilter{State: types.StateSettled, Limit: seedLookback})
	if err != nil {
		o.logger.Warn("failed to load settled records, price guard starts empty", map[string]any{"error": err})
		return
	}
	for _, rec := range records {
		switch rec.PriceSource {
		case types.SourceDexScreener, types.SourceCoinGecko, types.SourceRetained:
		default:
			continue
		}
		if !rec.Price.IsPositive() {
			continue
		}
		o.oracle.Seed(o.oracle.TokenID(), types.PriceSample{
			Price:      rec.Price,
			ObservedAt: rec.UpdatedAt,
			Source:     rec.PriceSource,
		})
		o.logger.Info("price guard seeded from ledger", map[string]any{
			"paymentTxHash": rec.PaymentTxHash,
			"price":         rec.Price.String(),
			"source":        string(rec.PriceSource),
		})
		return
	}
}

func (o *Onramp) setupLedgerClient() error {
	if o.client != nil {
		return nil
	}

	cc := o.cfg.Chain
	rpcURLs := make(map[types.Network]string, len(cc.RPCURLs))
	for _, n := range cc.SupportedNetworks() {
		url, ok := cc.RPCURLs[n]
		if !ok || url == "" {
			return types.NewError(types.ErrConfigError, fmt.Sprintf("missing rpc url for network %s", n), nil)
		}
		rpcURLs[n] = url
	}

	client, err := clients.NewEVMClient(rpcURLs,
		clients.WithTokenDecimals(cc.TokenDecimals),
		clients.WithConfirmationTimeout(cc.ConfirmationTimeout),
		clients.WithLogger(o.logger),
		clients.WithMetrics(o.metrics),
	)
	if err != nil {
		code := types.ErrConfigError
		if errors.Is(err, clients.ErrUnsupportedNetwork) {
			code = types.ErrUnsupportedNetwork
		}
		return types.NewError(code, "failed to create ledger client", err)
	}
	o.client = client
	return nil
}

// tokenAddress falls back to the pricing token id when it is itself a
// contract address, which is the DexScreener convention.
func (o *Onramp) tokenAddress() string {
	if o.cfg.Chain.TokenAddress != "" {
		return o.cfg.Chain.TokenAddress
	}
	if utils.IsEVMAddress(o.cfg.Pricing.TokenID) {
		return o.cfg.Pricing.TokenID
	}
	return ""
}

// Settle settles a validated, completed payment event.
func (o *Onramp) Settle(ctx context.Context, event *types.PaymentEvent) (*types.SettlementResult, error) {
	return o.settlement.Settle(ctx, event)
}

// BatchSettle settles multiple events concurrently
func (o *Onramp) BatchSettle(ctx context.Context, events []*types.PaymentEvent) ([]*types.SettlementResult, error) {
	if len(events) == 0 {
		return nil, types.NewError(types.ErrValidationFailed, "no events to settle", nil)
	}
	return o.settlement.BatchSettle(ctx, events)
}

// Validate validates raw payment data against the configured limits.
func (o *Onramp) Validate(data *types.PaymentData) verification.ValidationResult {
	return o.validator.Validate(data)
}

// Quote prices a purchase of usd without settling anything.
func (o *Onramp) Quote(ctx context.Context, usd decimal.Decimal) (types.Quote, error) {
	return o.oracle.Quote(ctx, usd)
}

// CurrentPrice returns the current guarded price sample for the configured token.
func (o *Onramp) CurrentPrice(ctx context.Context) types.PriceSample {
	return o.oracle.CurrentPrice(ctx, o.oracle.TokenID())
}

// Resolve records an operator-verified transfer for a failed or stuck settlement.
func (o *Onramp) Resolve(ctx context.Context, paymentTxHash, transferTxHash string) (*types.SettlementRecord, error) {
	return o.settlement.Resolve(ctx, paymentTxHash, transferTxHash)
}

func (o *Onramp) Record(ctx context.Context, paymentTxHash string) (*types.SettlementRecord, error) {
	return o.store.Get(ctx, paymentTxHash)
}

func (o *Onramp) Records(ctx context.Context, filter ledger.ListFilter) ([]*types.SettlementRecord, error) {
	return o.settlement.Records(ctx, filter)
}

func (o *Onramp) PriceEvents(ctx context.Context, limit int) ([]*types.PriceEvent, error) {
	return o.store.ListPriceEvents(ctx, limit)
}

// IsNetworkSupported checks if a network is accepted as a destination chain
func (o *Onramp) IsNetworkSupported(network types.Network) bool {
	for _, n := range o.cfg.Chain.SupportedNetworks() {
		if n == network {
			return true
		}
	}
	return false
}

// Server returns the HTTP server exposing the webhook and quote endpoints.
func (o *Onramp) Server() *webhook.Server { return o.server }

func (o *Onramp) Listen() error {
	return o.server.Listen(o.cfg.Server.Addr)
}

func (o *Onramp) Shutdown(ctx context.Context) error {
	return o.server.Shutdown(ctx)
}

// Close closes all client connections and stores
func (o *Onramp) Close() error {
	if o.client != nil {
		o.client.Close()
		o.client = nil
	}
	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		if err := o.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	o.closers = nil
	return errors.Join(errs...)
}
