package pricing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/vitwit/onramp/logger"
	"github.com/vitwit/onramp/metrics"
	"github.com/vitwit/onramp/types"
)

// DefaultTolerance is the maximum accepted ratio between consecutive samples.
var DefaultTolerance = decimal.NewFromInt(10)

// AuditSink persists pricing audit events.
type AuditSink interface {
	RecordPriceEvent(ctx context.Context, ev *types.PriceEvent) error
}

// Oracle resolves the current token price from an ordered list of sources,
// falling back to a static price and guarding against implausible jumps.
// The last accepted sample is kept per token id in process memory.
type Oracle struct {
	sources   []Source
	fallback  decimal.Decimal
	tolerance decimal.Decimal
	fee       decimal.Decimal
	decimals  int32
	tokenID   string
	network   string

	audit   AuditSink
	log     logger.Logger
	metrics metrics.Recorder
	now     func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	last  map[string]types.PriceSample
}

type OracleOption func(*Oracle)

func WithFallbackPrice(p decimal.Decimal) OracleOption {
	return func(o *Oracle) { o.fallback = p }
}

func WithTolerance(t decimal.Decimal) OracleOption {
	return func(o *Oracle) {
		if t.GreaterThan(decimal.NewFromInt(1)) {
			o.tolerance = t
		}
	}
}

// WithQuoteParams sets the fee, token decimals and default token id used by Quote.
func WithQuoteParams(fee decimal.Decimal, decimals int32, tokenID string) OracleOption {
	return func(o *Oracle) {
		o.fee = fee
		o.decimals = decimals
		o.tokenID = tokenID
	}
}

func WithNetworkLabel(network string) OracleOption {
	return func(o *Oracle) { o.network = network }
}

func WithAuditSink(sink AuditSink) OracleOption {
	return func(o *Oracle) { o.audit = sink }
}

func WithLogger(l logger.Logger) OracleOption {
	return func(o *Oracle) { o.log = l }
}

func WithMetrics(m metrics.Recorder) OracleOption {
	return func(o *Oracle) { o.metrics = m }
}

func WithClock(now func() time.Time) OracleOption {
	return func(o *Oracle) { o.now = now }
}

func NewOracle(sources []Source, opts ...OracleOption) *Oracle {
	o := &Oracle{
		sources:   sources,
		tolerance: DefaultTolerance,
		fee:       decimal.RequireFromString("0.03"),
		decimals:  18,
		log:       logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
		now:       time.Now,
		last:      make(map[string]types.PriceSample),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Accept reports whether newPrice is within tolerance of previousPrice in
// either direction. A missing previous price accepts any positive sample.
func Accept(newPrice, previousPrice, tolerance decimal.Decimal) bool {
	if !newPrice.IsPositive() {
		return false
	}
	if !previousPrice.IsPositive() {
		return true
	}
	if newPrice.Div(previousPrice).GreaterThan(tolerance) {
		return false
	}
	if previousPrice.Div(newPrice).GreaterThan(tolerance) {
		return false
	}
	return true
}

// CurrentPrice never fails: when every source fails it returns the static
// fallback price. Concurrent calls for the same token share one lookup.
func (o *Oracle) CurrentPrice(ctx context.Context, tokenID string) types.PriceSample {
	v, _, _ := o.group.Do(tokenID, func() (any, error) {
		return o.lookup(ctx, tokenID), nil
	})
	return v.(types.PriceSample)
}

// LastAccepted returns the last sample that passed the guard for tokenID.
func (o *Oracle) LastAccepted(tokenID string) (types.PriceSample, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.last[tokenID]
	return s, ok
}

// Seed sets the last accepted sample, e.g. from a persisted record on startup.
func (o *Oracle) Seed(tokenID string, sample types.PriceSample) {
	o.mu.Lock()
	o.last[tokenID] = sample
	o.mu.Unlock()
}

func (o *Oracle) lookup(ctx context.Context, tokenID string) types.PriceSample {
	start := o.now()
	defer func() {
		o.metrics.ObserveLatency(metrics.OpPriceLookup, o.now().Sub(start), metrics.Network(o.network))
	}()

	for _, src := range o.sources {
		price, err := src.Price(ctx, tokenID)
		if err == nil && !price.IsPositive() {
			err = ErrNonPositive
		}
		if err != nil {
			o.log.Warn("price source failed, falling back", map[string]any{
				"source":  string(src.Name()),
				"tokenId": tokenID,
				"error":   err,
			})
			o.metrics.IncCounter(metrics.EventPriceFallback, metrics.Network(o.network))
			o.emit(ctx, &types.PriceEvent{
				TokenID: tokenID,
				Kind:    types.PriceEventSourceFailed,
				Source:  src.Name(),
				Detail:  err.Error(),
			})
			continue
		}

		sample := o.guard(ctx, tokenID, types.PriceSample{Price: price, ObservedAt: o.now(), Source: src.Name()})
		o.metrics.SetGauge(metrics.GaugeTokenPrice, sample.Price.InexactFloat64(), metrics.Network(o.network))
		return sample
	}

	o.log.Warn("all price sources failed, using static fallback", map[string]any{
		"tokenId": tokenID,
		"price":   o.fallback.String(),
	})
	o.metrics.IncCounter(metrics.EventPriceFallback, metrics.Network(o.network))
	prev, _ := o.LastAccepted(tokenID)
	o.emit(ctx, &types.PriceEvent{
		TokenID:       tokenID,
		Kind:          types.PriceEventStaticUsed,
		Source:        types.SourceStatic,
		Price:         o.fallback,
		PreviousPrice: prev.Price,
		Detail:        "all sources failed",
	})
	return types.PriceSample{Price: o.fallback, ObservedAt: o.now(), Source: types.SourceStatic}
}

func (o *Oracle) guard(ctx context.Context, tokenID string, sample types.PriceSample) types.PriceSample {
	o.mu.Lock()
	prev, ok := o.last[tokenID]
	if !ok || Accept(sample.Price, prev.Price, o.tolerance) {
		o.last[tokenID] = sample
		o.mu.Unlock()
		return sample
	}
	o.mu.Unlock()

	o.log.Warn("price sample rejected, retaining previous price", map[string]any{
		"tokenId":  tokenID,
		"source":   string(sample.Source),
		"price":    sample.Price.String(),
		"previous": prev.Price.String(),
	})
	o.metrics.IncCounter(metrics.EventPriceRejected, metrics.Network(o.network))
	o.emit(ctx, &types.PriceEvent{
		TokenID:       tokenID,
		Kind:          types.PriceEventSampleRejects,
		Source:        sample.Source,
		Price:         sample.Price,
		PreviousPrice: prev.Price,
		Detail:        "ratio exceeds tolerance " + o.tolerance.String(),
	})
	return types.PriceSample{Price: prev.Price, ObservedAt: o.now(), Source: types.SourceRetained}
}

func (o *Oracle) emit(ctx context.Context, ev *types.PriceEvent) {
	if o.audit == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.CreatedAt = o.now().UTC()
	if err := o.audit.RecordPriceEvent(context.WithoutCancel(ctx), ev); err != nil {
		o.log.Error("failed to record price event", map[string]any{"kind": string(ev.Kind), "error": err})
	}
}

// Quote prices usd at the current token price for an interactive purchase.
func (o *Oracle) Quote(ctx context.Context, usd decimal.Decimal) (types.Quote, error) {
	sample := o.CurrentPrice(ctx, o.tokenID)
	tokens, err := ComputeTokens(usd, o.fee, sample.Price, o.decimals)
	if err != nil {
		return types.Quote{}, types.NewError(types.ErrPricingUnavailable, "no usable token price", err)
	}
	return types.Quote{
		USDAmount:   usd,
		Fee:         usd.Mul(o.fee),
		Price:       sample.Price,
		PriceSource: sample.Source,
		TokenAmount: tokens,
		QuotedAt:    sample.ObservedAt,
	}, nil
}

// TokensFor computes the token amount for usd at the current price.
func (o *Oracle) TokensFor(ctx context.Context, usd decimal.Decimal) (decimal.Decimal, types.PriceSample, error) {
	sample := o.CurrentPrice(ctx, o.tokenID)
	tokens, err := ComputeTokens(usd, o.fee, sample.Price, o.decimals)
	if err != nil {
		return decimal.Zero, sample, types.NewError(types.ErrPricingUnavailable, "no usable token price", err)
	}
	return tokens, sample, nil
}

// TokenID returns the token id Quote and TokensFor price against.
func (o *Oracle) TokenID() string { return o.tokenID }
