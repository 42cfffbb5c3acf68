package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config contains the full runtime configuration of the onramp service
type Config struct {
	Server    ServerConfig    `mapstructure:"server" json:"server"`
	Webhook   WebhookConfig   `mapstructure:"webhook" json:"webhook"`
	Limits    LimitsConfig    `mapstructure:"limits" json:"limits"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" json:"ratelimit"`
	Ledger    LedgerConfig    `mapstructure:"ledger" json:"ledger"`
	Pricing   PricingConfig   `mapstructure:"pricing" json:"pricing"`
	Chain     ChainConfig     `mapstructure:"chain" json:"chain"`
	Log       LogConfig       `mapstructure:"log" json:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics" json:"metrics"`
}

type ServerConfig struct {
	Addr      string `mapstructure:"addr" json:"addr" validate:"required"`
	BodyLimit int    `mapstructure:"body_limit" json:"bodyLimit" validate:"gte=0"`
}

type WebhookConfig struct {
	Secret          Secret `mapstructure:"secret" json:"secret" validate:"required"`
	SignatureHeader string `mapstructure:"signature_header" json:"signatureHeader" validate:"required"`
}

// LimitsConfig bounds purchase amounts and sets the service fee.
type LimitsConfig struct {
	MinPurchaseUSD decimal.Decimal `mapstructure:"min_purchase_usd" json:"minPurchaseUsd"`
	MaxPurchaseUSD decimal.Decimal `mapstructure:"max_purchase_usd" json:"maxPurchaseUsd"`
	Fee            decimal.Decimal `mapstructure:"fee" json:"fee"`
}

type RateLimitConfig struct {
	Driver        string        `mapstructure:"driver" json:"driver" validate:"oneof=memory redis"`
	Window        time.Duration `mapstructure:"window" json:"window" validate:"gt=0"`
	MaxAttempts   int           `mapstructure:"max_attempts" json:"maxAttempts" validate:"gt=0"`
	RedisAddr     string        `mapstructure:"redis_addr" json:"redisAddr" validate:"required_if=Driver redis"`
	RedisPassword Secret        `mapstructure:"redis_password" json:"redisPassword"`
}

type LedgerConfig struct {
	Driver       string        `mapstructure:"driver" json:"driver" validate:"oneof=memory sqlite mysql"`
	DSN          string        `mapstructure:"dsn" json:"-" validate:"required_unless=Driver memory"`
	AwaitTimeout time.Duration `mapstructure:"await_timeout" json:"awaitTimeout" validate:"gt=0"`
	PollInterval time.Duration `mapstructure:"poll_interval" json:"pollInterval" validate:"gt=0"`
}

type PricingConfig struct {
	TokenID           string          `mapstructure:"token_id" json:"tokenId" validate:"required"`
	CoinGeckoID       string          `mapstructure:"coingecko_id" json:"coingeckoId"`
	DexScreenerURL    string          `mapstructure:"dexscreener_url" json:"dexscreenerUrl" validate:"omitempty,url"`
	CoinGeckoURL      string          `mapstructure:"coingecko_url" json:"coingeckoUrl" validate:"omitempty,url"`
	FallbackPrice     decimal.Decimal `mapstructure:"fallback_price" json:"fallbackPrice"`
	Tolerance         decimal.Decimal `mapstructure:"tolerance" json:"tolerance"`
	Timeout           time.Duration   `mapstructure:"timeout" json:"timeout" validate:"gt=0"`
	RequestsPerSecond float64         `mapstructure:"requests_per_second" json:"requestsPerSecond" validate:"gt=0"`
}

// ChainConfig describes where and how tokens are delivered.
type ChainConfig struct {
	Default             Network            `mapstructure:"default" json:"default" validate:"required"`
	Supported           []Network          `mapstructure:"supported" json:"supported"`
	RPCURLs             map[Network]string `mapstructure:"rpc_urls" json:"rpcUrls"`
	TokenAddress        string             `mapstructure:"token_address" json:"tokenAddress" validate:"omitempty,evm_address"`
	TokenDecimals       int32              `mapstructure:"token_decimals" json:"tokenDecimals" validate:"gte=0,lte=36"`
	TreasuryKey         Secret             `mapstructure:"treasury_key" json:"treasuryKey" validate:"required"`
	ConfirmationTimeout time.Duration      `mapstructure:"confirmation_timeout" json:"confirmationTimeout" validate:"gt=0"`
}

type LogConfig struct {
	Level string `mapstructure:"level" json:"level" validate:"omitempty,oneof=debug info warn error"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
}

// SupportedNetworks returns the configured networks, always including the default.
func (c ChainConfig) SupportedNetworks() []Network {
	out := make([]Network, 0, len(c.Supported)+1)
	seen := map[Network]bool{}
	for _, n := range append([]Network{c.Default}, c.Supported...) {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// DefaultConfig returns a Config populated with the documented defaults.
// Secrets, the token id and the fallback price have no defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:      ":8080",
			BodyLimit: 1 << 20,
		},
		Webhook: WebhookConfig{
			SignatureHeader: "X-Processor-Signature",
		},
		Limits: LimitsConfig{
			MinPurchaseUSD: decimal.NewFromInt(1),
			MaxPurchaseUSD: decimal.NewFromInt(10000),
			Fee:            decimal.RequireFromString("0.03"),
		},
		RateLimit: RateLimitConfig{
			Driver:      "memory",
			Window:      time.Hour,
			MaxAttempts: 10,
		},
		Ledger: LedgerConfig{
			Driver:       "memory",
			AwaitTimeout: 30 * time.Second,
			PollInterval: 500 * time.Millisecond,
		},
		Pricing: PricingConfig{
			DexScreenerURL:    "https://api.dexscreener.com",
			CoinGeckoURL:      "https://api.coingecko.com/api/v3",
			Tolerance:         decimal.NewFromInt(10),
			Timeout:           5 * time.Second,
			RequestsPerSecond: 2,
		},
		Chain: ChainConfig{
			Default:             NetworkBase,
			TokenDecimals:       18,
			ConfirmationTimeout: 2 * time.Minute,
		},
		Log: LogConfig{Level: "info"},
	}
}
