package types

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the processor-side status of a payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// WebhookPayload is the JSON body delivered by the payment processor.
type WebhookPayload struct {
	PaymentData *PaymentData `json:"paymentData"`
}

// PaymentData is the raw, untrusted payment notification. Numeric fields are
// kept as json.RawMessage so that numbers and numeric strings are both accepted
// and malformed values surface as validation errors instead of decode failures.
type PaymentData struct {
	BuyerAddress    string           `json:"buyerAddress" validate:"required,evm_address"`
	Amount          json.RawMessage  `json:"amount"`
	TransactionHash string           `json:"transactionHash" validate:"required,notblank,max=255"`
	PaymentStatus   string           `json:"paymentStatus" validate:"required,oneof=pending completed failed"`
	Chain           string           `json:"chain,omitempty"`
	Metadata        *PaymentMetadata `json:"metadata,omitempty"`
}

// PaymentMetadata carries optional quote-time hints.
type PaymentMetadata struct {
	TokenAmount json.RawMessage `json:"tokenAmount,omitempty"`
	TokenPrice  json.RawMessage `json:"tokenPrice,omitempty"`
}

// PaymentEvent is a validated, normalized payment notification.
type PaymentEvent struct {
	BuyerAddress  string
	USDAmount     decimal.Decimal
	PaymentTxHash string
	PaymentStatus PaymentStatus
	Chain         Network
	Metadata      EventMetadata
}

// EventMetadata holds the normalized quote hints of a PaymentEvent.
type EventMetadata struct {
	// TokenAmount is the pre-quoted amount; when set it is transferred verbatim.
	TokenAmount *decimal.Decimal
	// TokenPrice is the price shown to the buyer at quote time. Recorded only.
	TokenPrice *decimal.Decimal
}

// IsCompleted reports whether the event may reach settlement.
func (e *PaymentEvent) IsCompleted() bool {
	return e.PaymentStatus == PaymentCompleted
}

// SettlementState is the lifecycle state of a SettlementRecord.
type SettlementState string

const (
	StateReceived     SettlementState = "received"
	StatePriced       SettlementState = "priced"
	StateTransferring SettlementState = "transferring"
	StateSettled      SettlementState = "settled"
	StateFailed       SettlementState = "failed"
)

var stateRank = map[SettlementState]int{
	StateReceived:     0,
	StatePriced:       1,
	StateTransferring: 2,
	StateSettled:      3,
}

// IsTerminal reports whether no further automatic transition is possible.
func (s SettlementState) IsTerminal() bool {
	return s == StateSettled || s == StateFailed
}

// Valid reports whether s is a known state.
func (s SettlementState) Valid() bool {
	_, ok := stateRank[s]
	return ok || s == StateFailed
}

// CanTransition enforces the monotonic lifecycle:
// received -> priced -> transferring -> settled, any non-terminal state -> failed,
// and failed -> settled for operator reconciliation. Nothing leaves settled.
func CanTransition(from, to SettlementState) bool {
	switch {
	case from == StateSettled:
		return false
	case from == StateFailed:
		return to == StateSettled
	case to == StateFailed:
		return true
	}
	fr, ok1 := stateRank[from]
	tr, ok2 := stateRank[to]
	return ok1 && ok2 && tr > fr
}

// SettlementRecord is the durable audit and idempotency entry for a payment event.
type SettlementRecord struct {
	ID             string          `json:"id"`
	PaymentTxHash  string          `json:"paymentTxHash"`
	BuyerAddress   string          `json:"buyerAddress"`
	USDAmount      decimal.Decimal `json:"usdAmount"`
	TokenAmount    decimal.Decimal `json:"tokenAmount"`
	Price          decimal.Decimal `json:"price"`
	PriceSource    PriceSource     `json:"priceSource,omitempty"`
	Chain          Network         `json:"chain"`
	TransferTxHash string          `json:"transferTxHash,omitempty"`
	State          SettlementState `json:"state"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// AdvanceFields are the optional columns written alongside a state change.
// Zero values leave the stored column untouched.
type AdvanceFields struct {
	TokenAmount    *decimal.Decimal
	Price          *decimal.Decimal
	PriceSource    PriceSource
	TransferTxHash string
	Error          string
}

// Apply copies the non-empty fields onto rec.
func (f AdvanceFields) Apply(rec *SettlementRecord) {
	if f.TokenAmount != nil {
		rec.TokenAmount = *f.TokenAmount
	}
	if f.Price != nil {
		rec.Price = *f.Price
	}
	if f.PriceSource != "" {
		rec.PriceSource = f.PriceSource
	}
	if f.TransferTxHash != "" {
		rec.TransferTxHash = f.TransferTxHash
	}
	if f.Error != "" {
		rec.Error = f.Error
	}
}

// PriceSource identifies where a PriceSample came from.
type PriceSource string

const (
	SourceDexScreener PriceSource = "dexscreener"
	SourceCoinGecko   PriceSource = "coingecko"
	SourceStatic      PriceSource = "static"
	SourceRetained    PriceSource = "retained"
	SourceQuoted      PriceSource = "quoted"
)

// PriceSample is a single price observation.
type PriceSample struct {
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observedAt"`
	Source     PriceSource     `json:"source"`
}

// PriceEventKind classifies pricing audit events.
type PriceEventKind string

const (
	PriceEventSourceFailed  PriceEventKind = "source_failed"
	PriceEventStaticUsed    PriceEventKind = "static_fallback"
	PriceEventSampleRejects PriceEventKind = "sample_rejected"
)

// PriceEvent is a structured record of a pricing fallback or guard rejection,
// kept so operators can reconcile settlements priced off the happy path.
type PriceEvent struct {
	ID            string          `json:"id"`
	TokenID       string          `json:"tokenId"`
	Kind          PriceEventKind  `json:"kind"`
	Source        PriceSource     `json:"source"`
	Price         decimal.Decimal `json:"price"`
	PreviousPrice decimal.Decimal `json:"previousPrice"`
	Detail        string          `json:"detail,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// SettlementResult is returned by a successful (or replayed) settlement.
type SettlementResult struct {
	Success        bool            `json:"success"`
	TokenAmount    decimal.Decimal `json:"tokenAmount"`
	TransferTxHash string          `json:"transferTxHash"`
	Duplicate      bool            `json:"-"`
}

// QuoteRequest is the body of an interactive purchase quote.
type QuoteRequest struct {
	BuyerAddress string          `json:"buyerAddress" validate:"required,evm_address"`
	Amount       json.RawMessage `json:"amount"`
}

// Quote is an interactive purchase quote.
type Quote struct {
	USDAmount   decimal.Decimal `json:"usdAmount"`
	Fee         decimal.Decimal `json:"fee"`
	Price       decimal.Decimal `json:"price"`
	PriceSource PriceSource     `json:"priceSource"`
	TokenAmount decimal.Decimal `json:"tokenAmount"`
	QuotedAt    time.Time       `json:"quotedAt"`
}
