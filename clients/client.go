package clients

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vitwit/onramp/types"
)

// Account is an opaque signing identity derived from the treasury secret.
// Implementations must never expose key material through String or logging.
type Account interface {
	Address() string
}

// Contract identifies the token being distributed on a network.
type Contract struct {
	Network  types.Network
	Address  string
	Decimals int32
}

// LedgerClient submits token transfers on chain.
type LedgerClient interface {
	DeriveSigningAccount(secret types.Secret) (Account, error)
	Contract(network types.Network, address string) (Contract, error)
	// Transfer submits the transfer and waits for its receipt. A non-empty
	// hash with a non-nil error means the transaction was broadcast but its
	// outcome is unknown or failed.
	Transfer(ctx context.Context, contract Contract, to string, amount decimal.Decimal, from Account) (string, error)
	Close()
}
