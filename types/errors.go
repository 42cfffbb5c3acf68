package types

import (
	"errors"
	"fmt"
)

// OnrampError carries a stable code alongside a human readable message.
type OnrampError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *OnrampError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *OnrampError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrAuthenticationFailed = "AUTHENTICATION_FAILED"
	ErrValidationFailed     = "VALIDATION_FAILED"
	ErrRateLimited          = "RATE_LIMITED"
	ErrPricingUnavailable   = "PRICING_UNAVAILABLE"
	ErrTransferFailed       = "TRANSFER_FAILED"
	ErrDuplicateEvent       = "DUPLICATE_EVENT"
	ErrSettlementInProgress = "SETTLEMENT_IN_PROGRESS"
	ErrLedgerError          = "LEDGER_ERROR"
	ErrConfigError          = "CONFIG_ERROR"
	ErrUnsupportedNetwork   = "UNSUPPORTED_NETWORK"
)

// NewError builds an OnrampError wrapping err.
func NewError(code, message string, err error) *OnrampError {
	return &OnrampError{Code: code, Message: message, Err: err}
}

// IsCode reports whether any error in err's chain is an OnrampError with code.
func IsCode(err error, code string) bool {
	var oe *OnrampError
	if errors.As(err, &oe) {
		return oe.Code == code
	}
	return false
}
