package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

// Counter names
const (
	EventWebhookReceived   = "webhook_received"
	EventSignatureRejected = "signature_rejected"
	EventRateLimited       = "rate_limited"
	EventValidationFailed  = "validation_failed"
	EventSettled           = "settlement_settled"
	EventSettlementFailed  = "settlement_failed"
	EventDuplicate         = "duplicate_event"
	EventPriceFallback     = "price_fallback"
	EventPriceRejected     = "price_rejected"
)

// Latency operation names
const (
	OpSettle      = "settle"
	OpTransfer    = "transfer"
	OpPriceLookup = "price_lookup"
)

// Gauge names
const (
	GaugeTokenPrice = "token_price_usd"
	GaugeInFlight   = "settlements_in_flight"
)

// Network builds the label set used by every recorder call.
func Network(network string) map[string]string {
	return map[string]string{"network": network}
}
