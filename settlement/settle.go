package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/vitwit/onramp/clients"
	"github.com/vitwit/onramp/ledger"
	"github.com/vitwit/onramp/logger"
	"github.com/vitwit/onramp/metrics"
	"github.com/vitwit/onramp/types"
	"github.com/vitwit/onramp/utils"
)

// Pricer converts a fiat amount into tokens at the current price.
type Pricer interface {
	TokensFor(ctx context.Context, usd decimal.Decimal) (decimal.Decimal, types.PriceSample, error)
}

// Settler interface defines the contract for payment settlement
type Settler interface {
	Settle(ctx context.Context, event *types.PaymentEvent) (*types.SettlementResult, error)
}

type Config struct {
	TreasuryKey  types.Secret
	TokenAddress string
	// AwaitTimeout bounds how long a duplicate delivery waits for an
	// in-flight settlement owned by another caller.
	AwaitTimeout time.Duration
	PollInterval time.Duration
}

// SettlementService executes at most one transfer per payment event.
type SettlementService struct {
	store  ledger.Store
	client clients.LedgerClient
	pricer Pricer
	cfg    Config

	group singleflight.Group

	log     logger.Logger
	metrics metrics.Recorder

	inFlight atomic.Int64
}

type Option func(*SettlementService)

func WithLogger(l logger.Logger) Option {
	return func(s *SettlementService) { s.log = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(s *SettlementService) { s.metrics = m }
}

// NewSettlementService creates a new settlement service
func NewSettlementService(store ledger.Store, client clients.LedgerClient, pricer Pricer, cfg Config, opts ...Option) *SettlementService {
	if cfg.AwaitTimeout <= 0 {
		cfg.AwaitTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	s := &SettlementService{
		store:   store,
		client:  client,
		pricer:  pricer,
		cfg:     cfg,
		log:     logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settle settles a completed payment event. Redelivered events return the
// stored outcome without a new transfer.
func (s *SettlementService) Settle(ctx context.Context, event *types.PaymentEvent) (*types.SettlementResult, error) {
	if event == nil || event.PaymentTxHash == "" {
		return nil, types.NewError(types.ErrValidationFailed, "payment event is required", nil)
	}
	if !event.IsCompleted() {
		return nil, types.NewError(types.ErrValidationFailed, fmt.Sprintf("payment status %q is not settleable", event.PaymentStatus), nil)
	}

	v, err, _ := s.group.Do(event.PaymentTxHash, func() (any, error) {
		return s.settle(ctx, event)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*types.SettlementResult)
	return &res, nil
}

func (s *SettlementService) settle(ctx context.Context, event *types.PaymentEvent) (*types.SettlementResult, error) {
	start := time.Now()
	labels := metrics.Network(event.Chain.String())
	defer func() { s.metrics.ObserveLatency(metrics.OpSettle, time.Since(start), labels) }()

	s.trackInFlight(1)
	defer s.trackInFlight(-1)

	isNew, rec, err := s.store.Begin(ctx, &types.SettlementRecord{
		PaymentTxHash: event.PaymentTxHash,
		BuyerAddress:  event.BuyerAddress,
		USDAmount:     event.USDAmount,
		Chain:         event.Chain,
	})
	if err != nil {
		return nil, types.NewError(types.ErrLedgerError, "failed to record payment event", err)
	}

	if !isNew {
		s.metrics.IncCounter(metrics.EventDuplicate, labels)
		s.log.Info("duplicate payment event", map[string]any{
			"paymentTxHash": event.PaymentTxHash,
			"state":         string(rec.State),
		})
		return s.outcome(ctx, rec)
	}

	return s.execute(ctx, event, labels)
}

func (s *SettlementService) execute(ctx context.Context, event *types.PaymentEvent, labels map[string]string) (*types.SettlementResult, error) {
	key := event.PaymentTxHash
	// ledger writes must land even if the caller goes away mid-settlement
	wctx := context.WithoutCancel(ctx)

	var (
		tokens decimal.Decimal
		price  decimal.Decimal
		source types.PriceSource
	)
	if event.Metadata.TokenAmount != nil {
		tokens = *event.Metadata.TokenAmount
		source = types.SourceQuoted
		if event.Metadata.TokenPrice != nil {
			price = *event.Metadata.TokenPrice
		}
	} else {
		amount, sample, err := s.pricer.TokensFor(ctx, event.USDAmount)
		if err != nil {
			return nil, s.fail(wctx, key, types.ErrPricingUnavailable, err, "", labels)
		}
		tokens, price, source = amount, sample.Price, sample.Source
	}

	if _, err := s.store.Advance(wctx, key, types.StatePriced, types.AdvanceFields{
		TokenAmount: &tokens,
		Price:       &price,
		PriceSource: source,
	}); err != nil {
		return nil, s.fail(wctx, key, types.ErrLedgerError, err, "", labels)
	}

	account, err := s.client.DeriveSigningAccount(s.cfg.TreasuryKey)
	if err != nil {
		return nil, s.fail(wctx, key, types.ErrTransferFailed, err, "", labels)
	}
	contract, err := s.client.Contract(event.Chain, s.cfg.TokenAddress)
	if err != nil {
		code := types.ErrTransferFailed
		if errors.Is(err, clients.ErrUnsupportedNetwork) {
			code = types.ErrUnsupportedNetwork
		}
		return nil, s.fail(wctx, key, code, err, "", labels)
	}

	if _, err := s.store.Advance(wctx, key, types.StateTransferring, types.AdvanceFields{}); err != nil {
		return nil, s.fail(wctx, key, types.ErrLedgerError, err, "", labels)
	}

	txHash, err := s.client.Transfer(ctx, contract, event.BuyerAddress, tokens, account)
	if err != nil {
		return nil, s.fail(wctx, key, types.ErrTransferFailed, err, txHash, labels)
	}

	if _, err := s.store.Advance(wctx, key, types.StateSettled, types.AdvanceFields{TransferTxHash: txHash}); err != nil {
		// tokens moved; leave the record in transferring for an operator to resolve
		s.log.Error("transfer succeeded but settled state was not recorded", map[string]any{
			"paymentTxHash":  key,
			"transferTxHash": txHash,
			"error":          err,
		})
		return nil, types.NewError(types.ErrLedgerError, "transfer sent but not recorded: "+txHash, err)
	}

	s.metrics.IncCounter(metrics.EventSettled, labels)
	s.log.Info("payment settled", map[string]any{
		"paymentTxHash":  key,
		"transferTxHash": txHash,
		"tokenAmount":    tokens.String(),
		"priceSource":    string(source),
	})

	return &types.SettlementResult{
		Success:        true,
		TokenAmount:    tokens,
		TransferTxHash: txHash,
	}, nil
}

func (s *SettlementService) fail(ctx context.Context, key, code string, cause error, txHash string, labels map[string]string) error {
	s.metrics.IncCounter(metrics.EventSettlementFailed, labels)
	s.log.Error("settlement failed", map[string]any{
		"paymentTxHash":  key,
		"code":           code,
		"transferTxHash": txHash,
		"error":          cause,
	})

	if _, err := s.store.Advance(ctx, key, types.StateFailed, types.AdvanceFields{
		Error:          cause.Error(),
		TransferTxHash: txHash,
	}); err != nil {
		s.log.Error("failed to record settlement failure", map[string]any{"paymentTxHash": key, "error": err})
	}

	return types.NewError(code, "settlement failed", cause)
}

// outcome maps a stored record to the response a redelivery receives,
// waiting for in-flight settlements up to the await timeout.
func (s *SettlementService) outcome(ctx context.Context, rec *types.SettlementRecord) (*types.SettlementResult, error) {
	if !rec.State.IsTerminal() {
		var err error
		rec, err = s.await(ctx, rec.PaymentTxHash)
		if err != nil {
			return nil, err
		}
	}

	switch rec.State {
	case types.StateSettled:
		return &types.SettlementResult{
			Success:        true,
			TokenAmount:    rec.TokenAmount,
			TransferTxHash: rec.TransferTxHash,
			Duplicate:      true,
		}, nil
	case types.StateFailed:
		return nil, types.NewError(types.ErrTransferFailed, "settlement failed", errors.New(rec.Error))
	default:
		return nil, types.NewError(types.ErrSettlementInProgress, "settlement in progress", nil)
	}
}

func (s *SettlementService) await(ctx context.Context, key string) (*types.SettlementRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AwaitTimeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, types.NewError(types.ErrSettlementInProgress, "settlement in progress", ctx.Err())
		case <-ticker.C:
		}

		rec, err := s.store.Get(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return nil, types.NewError(types.ErrLedgerError, "failed to read settlement record", err)
		}
		if rec.State.IsTerminal() {
			return rec, nil
		}
	}
}

// BatchSettle settles events concurrently. results[i] is nil when events[i]
// failed; the returned error joins every per-event failure.
func (s *SettlementService) BatchSettle(ctx context.Context, events []*types.PaymentEvent) ([]*types.SettlementResult, error) {
	results := make([]*types.SettlementResult, len(events))

	type settlementResult struct {
		index  int
		result *types.SettlementResult
		err    error
	}

	resultChan := make(chan settlementResult, len(events))

	for i, event := range events {
		go func(index int, ev *types.PaymentEvent) {
			result, err := s.Settle(ctx, ev)
			resultChan <- settlementResult{index: index, result: result, err: err}
		}(i, event)
	}

	var errs []error
	for i := 0; i < len(events); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-resultChan:
			results[res.index] = res.result
			if res.err != nil {
				key := ""
				if ev := events[res.index]; ev != nil {
					key = ev.PaymentTxHash
				}
				errs = append(errs, fmt.Errorf("event %d (%s): %w", res.index, key, res.err))
			}
		}
	}

	return results, errors.Join(errs...)
}

// Resolve marks a failed or stuck transferring record as settled after an
// operator has verified transferTxHash on chain.
func (s *SettlementService) Resolve(ctx context.Context, paymentTxHash, transferTxHash string) (*types.SettlementRecord, error) {
	if err := utils.ValidateTransactionHash(transferTxHash); err != nil {
		return nil, types.NewError(types.ErrValidationFailed, "invalid transfer hash", err)
	}

	rec, err := s.store.Get(ctx, paymentTxHash)
	if err != nil {
		return nil, types.NewError(types.ErrLedgerError, "failed to read settlement record", err)
	}
	if rec.State != types.StateFailed && rec.State != types.StateTransferring {
		return nil, types.NewError(types.ErrValidationFailed,
			fmt.Sprintf("record in state %s cannot be resolved", rec.State), ledger.ErrInvalidTransition)
	}

	updated, err := s.store.Advance(ctx, paymentTxHash, types.StateSettled, types.AdvanceFields{TransferTxHash: transferTxHash})
	if err != nil {
		return nil, types.NewError(types.ErrLedgerError, "failed to resolve settlement record", err)
	}

	s.log.Warn("settlement resolved by operator", map[string]any{
		"paymentTxHash":  paymentTxHash,
		"transferTxHash": transferTxHash,
		"previousState":  string(rec.State),
	})
	s.metrics.IncCounter(metrics.EventSettled, metrics.Network(rec.Chain.String()))
	return updated, nil
}

// Records lists settlement records for operators.
func (s *SettlementService) Records(ctx context.Context, filter ledger.ListFilter) ([]*types.SettlementRecord, error) {
	return s.store.List(ctx, filter)
}

// Close closes the ledger client and the store.
func (s *SettlementService) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return s.store.Close()
}

func (s *SettlementService) trackInFlight(delta int64) {
	n := s.inFlight.Add(delta)
	s.metrics.SetGauge(metrics.GaugeInFlight, float64(n), metrics.Network(""))
}
