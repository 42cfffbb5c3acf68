package clients

import "errors"

var (
	ErrUnsupportedNetwork  = errors.New("unsupported network")
	ErrInvalidAccount      = errors.New("invalid signing account")
	ErrInvalidRecipient    = errors.New("invalid recipient address")
	ErrInvalidContract     = errors.New("invalid token contract address")
	ErrInvalidAmount       = errors.New("transfer amount must be positive")
	ErrTransferReverted    = errors.New("transfer reverted")
	ErrConfirmationTimeout = errors.New("timed out waiting for receipt")
)
