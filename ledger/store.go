// Package ledger persists settlement records and pricing audit events. The
// record keyed by payment transaction hash is the idempotency key for the
// whole pipeline.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vitwit/onramp/types"
)

var (
	ErrNotFound          = errors.New("settlement record not found")
	ErrInvalidTransition = errors.New("invalid settlement state transition")
	ErrEmptyKey          = errors.New("payment transaction hash is required")
)

// Store defines the settlement ledger operations.
type Store interface {
	// Begin inserts rec in state received unless a record with the same
	// PaymentTxHash exists. It is atomic per key. isNew reports whether this
	// call created the record; stored is always the persisted record.
	Begin(ctx context.Context, rec *types.SettlementRecord) (isNew bool, stored *types.SettlementRecord, err error)

	// Advance moves the record to state to, writing fields alongside. The
	// update is conditional on the state read, so concurrent writers cannot
	// both win. Non-monotonic moves return ErrInvalidTransition.
	Advance(ctx context.Context, paymentTxHash string, to types.SettlementState, fields types.AdvanceFields) (*types.SettlementRecord, error)

	// Get returns ErrNotFound when no record exists.
	Get(ctx context.Context, paymentTxHash string) (*types.SettlementRecord, error)

	// List returns records newest first.
	List(ctx context.Context, filter ListFilter) ([]*types.SettlementRecord, error)

	RecordPriceEvent(ctx context.Context, ev *types.PriceEvent) error

	// ListPriceEvents returns the newest limit events.
	ListPriceEvents(ctx context.Context, limit int) ([]*types.PriceEvent, error)

	Close() error
}

type ListFilter struct {
	State types.SettlementState
	Buyer string
	Limit int
}

const (
	defaultListLimit = 100
	maxCASAttempts   = 3
)

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

// prepare fills the server-assigned fields of a new record.
func prepare(rec *types.SettlementRecord, now time.Time) (*types.SettlementRecord, error) {
	if rec == nil || rec.PaymentTxHash == "" {
		return nil, ErrEmptyKey
	}
	out := *rec
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	out.State = types.StateReceived
	out.TransferTxHash = ""
	out.Error = ""
	out.CreatedAt = now
	out.UpdatedAt = now
	return &out, nil
}

func prepareEvent(ev *types.PriceEvent, now time.Time) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
}

func checkTransition(from, to types.SettlementState) error {
	if !types.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
