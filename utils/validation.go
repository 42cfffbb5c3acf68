package utils

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var hexPattern = regexp.MustCompile("^[0-9a-fA-F]+$")

// ValidateTransactionHash checks the shape of an EVM transaction hash (0x + 64 hex).
func ValidateTransactionHash(hash string) error {
	if hash == "" {
		return fmt.Errorf("transaction hash cannot be empty")
	}
	if !strings.HasPrefix(hash, "0x") {
		return fmt.Errorf("transaction hash must start with 0x")
	}
	if len(hash) != 66 {
		return fmt.Errorf("transaction hash must be 66 characters long")
	}
	if !isHexString(hash[2:]) {
		return fmt.Errorf("transaction hash must be valid hex")
	}
	return nil
}

// TruncateToDecimals drops precision beyond the token's decimals. Never rounds up.
func TruncateToDecimals(amount decimal.Decimal, decimals int32) decimal.Decimal {
	return amount.Truncate(decimals)
}

// ToBaseUnits converts a decimal token amount to its integer base-unit representation.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}
	scaled := amount.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimals", amount, decimals)
	}
	return scaled.BigInt(), nil
}

func isHexString(s string) bool {
	return hexPattern.MatchString(s)
}
