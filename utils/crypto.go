package utils

import (
	"crypto/ecdsa"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var evmAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// PrivateKeyFromHex creates a private key from hex string
func PrivateKeyFromHex(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")

	return crypto.HexToECDSA(hexKey)
}

// AddressFromPrivateKey derives the Ethereum address from a private key
func AddressFromPrivateKey(privateKey *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(privateKey.PublicKey)
}

// IsEVMAddress reports whether s is 0x followed by exactly 40 hex characters.
// Unlike common.IsHexAddress the prefix is mandatory.
func IsEVMAddress(s string) bool {
	return evmAddressPattern.MatchString(s)
}

// NormalizeAddress returns the EIP-55 checksummed form of a 0x address, or ""
// when s is not one. Case variants of one wallet normalize to the same string.
func NormalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	if !IsEVMAddress(s) {
		return ""
	}
	return common.HexToAddress(s).Hex()
}
