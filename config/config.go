// Package config loads the onramp configuration from an optional YAML file,
// a .env file and ONRAMP_* environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/vitwit/onramp/types"
	"github.com/vitwit/onramp/utils"
)

const EnvPrefix = "ONRAMP"

// envFiles are tried in order; the first one found is loaded. Variables
// already present in the environment are not overwritten.
var envFiles = []string{".env", "../../.env"}

// Load reads configuration with precedence env > file > defaults and
// validates the result. path may be empty.
func Load(path string) (types.Config, error) {
	if err := loadEnvFile(); err != nil {
		return types.Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, types.DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return types.Config{}, types.NewError(types.ErrConfigError, "failed to read config file "+path, err)
		}
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return types.Config{}, types.NewError(types.ErrConfigError, "failed to decode config", err)
	}

	if err := Validate(cfg); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}

func loadEnvFile() error {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return types.NewError(types.ErrConfigError, "failed to load "+f, err)
		}
		return nil
	}
	return nil
}

// setDefaults registers every key and binds its env variable, so env can
// set keys that have no default value.
func setDefaults(v *viper.Viper, d types.Config) {
	defaults := map[string]any{
		"server.addr":       d.Server.Addr,
		"server.body_limit": d.Server.BodyLimit,

		"webhook.secret":           "",
		"webhook.signature_header": d.Webhook.SignatureHeader,

		"limits.min_purchase_usd": d.Limits.MinPurchaseUSD.String(),
		"limits.max_purchase_usd": d.Limits.MaxPurchaseUSD.String(),
		"limits.fee":              d.Limits.Fee.String(),

		"ratelimit.driver":         d.RateLimit.Driver,
		"ratelimit.window":         d.RateLimit.Window,
		"ratelimit.max_attempts":   d.RateLimit.MaxAttempts,
		"ratelimit.redis_addr":     "",
		"ratelimit.redis_password": "",

		"ledger.driver":        d.Ledger.Driver,
		"ledger.dsn":           "",
		"ledger.await_timeout": d.Ledger.AwaitTimeout,
		"ledger.poll_interval": d.Ledger.PollInterval,

		"pricing.token_id":            "",
		"pricing.coingecko_id":        "",
		"pricing.dexscreener_url":     d.Pricing.DexScreenerURL,
		"pricing.coingecko_url":       d.Pricing.CoinGeckoURL,
		"pricing.fallback_price":      "0",
		"pricing.tolerance":           d.Pricing.Tolerance.String(),
		"pricing.timeout":             d.Pricing.Timeout,
		"pricing.requests_per_second": d.Pricing.RequestsPerSecond,

		"chain.default":              string(d.Chain.Default),
		"chain.supported":            []string{},
		"chain.rpc_urls":             nil,
		"chain.token_address":        "",
		"chain.token_decimals":       d.Chain.TokenDecimals,
		"chain.treasury_key":         "",
		"chain.confirmation_timeout": d.Chain.ConfirmationTimeout,

		"log.level":       d.Log.Level,
		"metrics.enabled": d.Metrics.Enabled,
	}
	for k, val := range defaults {
		_ = v.BindEnv(k)
		if val != nil {
			v.SetDefault(k, val)
		}
	}
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToDecimalHook(),
		stringToNetworkMapHook(),
	)
}

var (
	decimalType    = reflect.TypeOf(decimal.Decimal{})
	networkMapType = reflect.TypeOf(map[types.Network]string{})
)

func stringToDecimalHook() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return decimal.Zero, nil
			}
			return decimal.NewFromString(strings.TrimSpace(v))
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		}
		return data, nil
	}
}

// stringToNetworkMapHook parses "base=https://a,polygon=https://b" as set
// through ONRAMP_CHAIN_RPC_URLS.
func stringToNetworkMapHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != networkMapType {
			return data, nil
		}
		out := map[types.Network]string{}
		for _, pair := range strings.Split(data.(string), ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			k, val, ok := strings.Cut(pair, "=")
			if !ok {
				return nil, fmt.Errorf("invalid rpc url entry %q, want network=url", pair)
			}
			out[types.Network(strings.ToLower(strings.TrimSpace(k)))] = strings.TrimSpace(val)
		}
		return out, nil
	}
}

// Validate applies struct tags and the cross-field rules tags cannot express.
func Validate(cfg types.Config) error {
	if err := utils.Validator().Struct(cfg); err != nil {
		return types.NewError(types.ErrConfigError, "invalid configuration", err)
	}

	var problems []string
	l := cfg.Limits
	if !l.MinPurchaseUSD.IsPositive() {
		problems = append(problems, "limits.min_purchase_usd must be positive")
	}
	if l.MaxPurchaseUSD.LessThan(l.MinPurchaseUSD) {
		problems = append(problems, "limits.max_purchase_usd must not be below limits.min_purchase_usd")
	}
	if l.Fee.IsNegative() || l.Fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		problems = append(problems, "limits.fee must be in [0, 1)")
	}
	if !cfg.Pricing.FallbackPrice.IsPositive() {
		problems = append(problems, "pricing.fallback_price must be positive")
	}
	if cfg.Pricing.Tolerance.LessThanOrEqual(decimal.NewFromInt(1)) {
		problems = append(problems, "pricing.tolerance must be greater than 1")
	}
	for _, n := range cfg.Chain.SupportedNetworks() {
		if !n.IsEVM() {
			problems = append(problems, fmt.Sprintf("chain network %q is not supported (known: %s)", n, knownNetworks()))
		}
	}

	if len(problems) > 0 {
		return types.NewError(types.ErrConfigError, "invalid configuration: "+strings.Join(problems, "; "), nil)
	}
	return nil
}

func knownNetworks() string {
	names := make([]string, 0, len(types.KnownNetworks()))
	for _, n := range types.KnownNetworks() {
		names = append(names, n.String())
	}
	return strings.Join(names, ", ")
}
