package pricing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/onramp/types"
)

type stubSource struct {
	name  types.PriceSource
	price decimal.Decimal
	err   error
	calls atomic.Int32
	delay time.Duration
}

func (s *stubSource) Name() types.PriceSource { return s.name }

func (s *stubSource) Price(ctx context.Context, _ string) (decimal.Decimal, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.price, s.err
}

type recordingSink struct {
	mu     sync.Mutex
	events []*types.PriceEvent
}

func (r *recordingSink) RecordPriceEvent(_ context.Context, ev *types.PriceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) kinds() []types.PriceEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.PriceEventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

var d = decimal.RequireFromString

func TestOraclePrimaryWins(t *testing.T) {
	primary := &stubSource{name: types.SourceDexScreener, price: d("0.001")}
	secondary := &stubSource{name: types.SourceCoinGecko, price: d("0.002")}
	sink := &recordingSink{}

	o := NewOracle([]Source{primary, secondary}, WithFallbackPrice(d("0.005")), WithAuditSink(sink))
	s := o.CurrentPrice(context.Background(), "tok")

	assert.Equal(t, types.SourceDexScreener, s.Source)
	assert.Equal(t, "0.001", s.Price.String())
	assert.Equal(t, int32(0), secondary.calls.Load())
	assert.Empty(t, sink.kinds())
}

func TestOracleFallbackChain(t *testing.T) {
	sink := &recordingSink{}
	primary := &stubSource{name: types.SourceDexScreener, err: ErrNoPairs}
	secondary := &stubSource{name: types.SourceCoinGecko, price: d("0.0012")}

	o := NewOracle([]Source{primary, secondary}, WithFallbackPrice(d("0.005")), WithAuditSink(sink))

	s := o.CurrentPrice(context.Background(), "tok")
	assert.Equal(t, types.SourceCoinGecko, s.Source)
	assert.Equal(t, "0.0012", s.Price.String())
	assert.Equal(t, []types.PriceEventKind{types.PriceEventSourceFailed}, sink.kinds())

	secondary.err = errors.New("timeout")
	s = o.CurrentPrice(context.Background(), "tok")
	assert.Equal(t, types.SourceStatic, s.Source)
	assert.Equal(t, "0.005", s.Price.String())
	assert.Equal(t, []types.PriceEventKind{
		types.PriceEventSourceFailed,
		types.PriceEventSourceFailed,
		types.PriceEventSourceFailed,
		types.PriceEventStaticUsed,
	}, sink.kinds())
}

func TestOracleNonPositiveFallsThrough(t *testing.T) {
	primary := &stubSource{name: types.SourceDexScreener, price: decimal.Zero}
	secondary := &stubSource{name: types.SourceCoinGecko, price: d("0.0012")}

	s := NewOracle([]Source{primary, secondary}).CurrentPrice(context.Background(), "tok")
	assert.Equal(t, types.SourceCoinGecko, s.Source)
}

func TestOracleGuardRetainsPreviousPrice(t *testing.T) {
	sink := &recordingSink{}
	src := &stubSource{name: types.SourceDexScreener, price: d("0.001")}
	o := NewOracle([]Source{src}, WithAuditSink(sink), WithQuoteParams(d("0.03"), 18, "tok"))

	first := o.CurrentPrice(context.Background(), "tok")
	require.Equal(t, "0.001", first.Price.String())

	src.price = d("10")
	s := o.CurrentPrice(context.Background(), "tok")
	assert.Equal(t, types.SourceRetained, s.Source)
	assert.Equal(t, "0.001", s.Price.String())
	assert.Equal(t, []types.PriceEventKind{types.PriceEventSampleRejects}, sink.kinds())
	assert.Equal(t, "10", sink.events[0].Price.String())
	assert.Equal(t, "0.001", sink.events[0].PreviousPrice.String())

	// amounts are computed from the retained price
	tokens, sample, err := o.TokensFor(context.Background(), decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, types.SourceRetained, sample.Source)
	assert.Equal(t, "97000", tokens.String())

	last, ok := o.LastAccepted("tok")
	require.True(t, ok)
	assert.Equal(t, "0.001", last.Price.String())
}

func TestOracleGuardAcceptsWithinTolerance(t *testing.T) {
	src := &stubSource{name: types.SourceDexScreener, price: d("0.001")}
	o := NewOracle([]Source{src})
	o.CurrentPrice(context.Background(), "tok")

	src.price = d("0.009")
	s := o.CurrentPrice(context.Background(), "tok")
	assert.Equal(t, types.SourceDexScreener, s.Source)
	assert.Equal(t, "0.009", s.Price.String())
}

func TestOracleStaticFallbackDoesNotMoveGuard(t *testing.T) {
	src := &stubSource{name: types.SourceDexScreener, price: d("0.001")}
	o := NewOracle([]Source{src}, WithFallbackPrice(d("5")))
	o.CurrentPrice(context.Background(), "tok")

	src.err = errors.New("down")
	s := o.CurrentPrice(context.Background(), "tok")
	assert.Equal(t, types.SourceStatic, s.Source)

	last, _ := o.LastAccepted("tok")
	assert.Equal(t, "0.001", last.Price.String())
}

func TestOracleCollapsesConcurrentLookups(t *testing.T) {
	src := &stubSource{name: types.SourceDexScreener, price: d("0.001"), delay: 50 * time.Millisecond}
	o := NewOracle([]Source{src})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := o.CurrentPrice(context.Background(), "tok")
			assert.Equal(t, "0.001", s.Price.String())
		}()
	}
	wg.Wait()
	assert.Less(t, src.calls.Load(), int32(20))
}

func TestOracleQuote(t *testing.T) {
	src := &stubSource{name: types.SourceCoinGecko, price: d("0.001")}
	o := NewOracle([]Source{src}, WithQuoteParams(d("0.03"), 18, "tok"))

	q, err := o.Quote(context.Background(), decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, "97000", q.TokenAmount.String())
	assert.Equal(t, "3", q.Fee.String())
	assert.Equal(t, types.SourceCoinGecko, q.PriceSource)
}

func TestOracleQuoteWithoutUsablePrice(t *testing.T) {
	src := &stubSource{name: types.SourceCoinGecko, err: errors.New("down")}
	o := NewOracle([]Source{src}, WithQuoteParams(d("0.03"), 18, "tok"))

	_, err := o.Quote(context.Background(), decimal.NewFromInt(100))
	assert.True(t, types.IsCode(err, types.ErrPricingUnavailable))
}
