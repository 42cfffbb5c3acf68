package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyAmount   = errors.New("empty token amount")
	ErrInvalidAmount = errors.New("invalid token amount")
	ErrInvalidPrice  = errors.New("price must be positive")
)

var suffixMultipliers = map[byte]decimal.Decimal{
	'k': decimal.NewFromInt(1_000),
	'm': decimal.NewFromInt(1_000_000),
	'b': decimal.NewFromInt(1_000_000_000),
}

// ParseTokenAmount normalizes human formatted token quantities such as
// "97,000", "97K", "1.5M" or "97000" into a decimal.
func ParseTokenAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrEmptyAmount
	}

	s = strings.NewReplacer(",", "", "_", "", " ", "").Replace(s)
	if s == "" {
		return decimal.Zero, ErrEmptyAmount
	}

	multiplier := decimal.NewFromInt(1)
	last := strings.ToLower(s[len(s)-1:])[0]
	if m, ok := suffixMultipliers[last]; ok {
		multiplier = m
		s = s[:len(s)-1]
	}

	if s == "" || strings.ContainsAny(s, "eE+") {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative", ErrInvalidAmount)
	}
	return d.Mul(multiplier), nil
}

// ComputeTokens returns (usd - usd*fee) / price truncated to decimals.
func ComputeTokens(usd, fee, price decimal.Decimal, decimals int32) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, ErrInvalidPrice
	}
	net := usd.Sub(usd.Mul(fee))
	return net.DivRound(price, decimals+8).Truncate(decimals), nil
}
