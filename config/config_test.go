package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/onramp/types"
)

const sampleYAML = `
webhook:
  secret: whsec_file
limits:
  max_purchase_usd: "5000"
  fee: 0.025
ratelimit:
  window: 30m
ledger:
  driver: sqlite
  dsn: /tmp/onramp.db
pricing:
  token_id: "0x1111111111111111111111111111111111111111"
  fallback_price: "0.0015"
chain:
  default: base
  supported: [polygon]
  rpc_urls:
    base: https://base.example
    polygon: https://polygon.example
  treasury_key: "0xabc"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "onramp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, types.Secret("whsec_file"), cfg.Webhook.Secret)
	assert.Equal(t, "X-Processor-Signature", cfg.Webhook.SignatureHeader)
	assert.Equal(t, "1", cfg.Limits.MinPurchaseUSD.String())
	assert.Equal(t, "5000", cfg.Limits.MaxPurchaseUSD.String())
	assert.Equal(t, "0.025", cfg.Limits.Fee.String())
	assert.Equal(t, 30*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 10, cfg.RateLimit.MaxAttempts)
	assert.Equal(t, "sqlite", cfg.Ledger.Driver)
	assert.Equal(t, "0.0015", cfg.Pricing.FallbackPrice.String())
	assert.Equal(t, "10", cfg.Pricing.Tolerance.String())
	assert.Equal(t, []types.Network{types.NetworkBase, types.NetworkPolygon}, cfg.Chain.SupportedNetworks())
	assert.Equal(t, "https://polygon.example", cfg.Chain.RPCURLs[types.NetworkPolygon])
	assert.Equal(t, 2*time.Minute, cfg.Chain.ConfirmationTimeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ONRAMP_WEBHOOK_SECRET", "whsec_env")
	t.Setenv("ONRAMP_LIMITS_MIN_PURCHASE_USD", "5")
	t.Setenv("ONRAMP_LEDGER_AWAIT_TIMEOUT", "45s")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "whsec_env", cfg.Webhook.Secret.Reveal())
	assert.Equal(t, "5", cfg.Limits.MinPurchaseUSD.String())
	assert.Equal(t, 45*time.Second, cfg.Ledger.AwaitTimeout)
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("ONRAMP_WEBHOOK_SECRET", "whsec_env")
	t.Setenv("ONRAMP_PRICING_TOKEN_ID", "tok")
	t.Setenv("ONRAMP_PRICING_FALLBACK_PRICE", "0.001")
	t.Setenv("ONRAMP_CHAIN_TREASURY_KEY", "0xabc")
	t.Setenv("ONRAMP_CHAIN_SUPPORTED", "polygon,arbitrum")
	t.Setenv("ONRAMP_CHAIN_RPC_URLS", "base=https://env.example, polygon=https://p.example")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Ledger.Driver)
	assert.Equal(t, []types.Network{types.NetworkBase, types.NetworkPolygon, types.NetworkArbitrum}, cfg.Chain.SupportedNetworks())
	assert.Equal(t, "https://env.example", cfg.Chain.RPCURLs[types.NetworkBase])
	assert.Equal(t, "https://p.example", cfg.Chain.RPCURLs[types.NetworkPolygon])
}

func TestLoadRejectsMissingSecrets(t *testing.T) {
	_, err := Load(writeConfig(t, `
pricing:
  token_id: tok
  fallback_price: 1
`))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrConfigError))
}

func TestValidateCrossFieldRules(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	bad := cfg
	bad.Limits.MaxPurchaseUSD = bad.Limits.MinPurchaseUSD.Sub(bad.Limits.MinPurchaseUSD)
	err = Validate(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_purchase_usd")

	bad = cfg
	bad.Chain.Supported = []types.Network{"solana"}
	err = Validate(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"solana" is not supported`)
	assert.Contains(t, err.Error(), "base-sepolia")

	bad = cfg
	bad.Ledger.DSN = ""
	assert.Error(t, Validate(bad))

	bad = cfg
	bad.RateLimit.Driver = "redis"
	assert.Error(t, Validate(bad))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, types.IsCode(err, types.ErrConfigError))
}
