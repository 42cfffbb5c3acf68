package verification

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vitwit/onramp/pricing"
	"github.com/vitwit/onramp/types"
	"github.com/vitwit/onramp/utils"
)

const (
	MsgRequired      = "is required"
	MsgNotNumeric    = "must be numeric"
	MsgBelowMinimum  = "below minimum"
	MsgAboveMaximum  = "above maximum"
	MsgInvalidAddr   = "must be 0x followed by 40 hex characters"
	MsgInvalidStatus = "must be one of pending, completed, failed"
	MsgUnsupported   = "unsupported chain"
	MsgNotPositive   = "must be greater than zero"
	MsgTooLong       = "is too long"
)

// FieldError is a single rule violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	return f.Field + ": " + f.Message
}

// ValidationResult reports every violation found. Event is set only when OK.
type ValidationResult struct {
	OK     bool
	Errors []FieldError
	Event  *types.PaymentEvent
}

// Details renders the violations as "field: message" strings.
func (r ValidationResult) Details() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.String())
	}
	return out
}

// Err returns nil when OK, otherwise a VALIDATION_FAILED error.
func (r ValidationResult) Err() error {
	if r.OK {
		return nil
	}
	return types.NewError(types.ErrValidationFailed, "validation failed", errors.New(strings.Join(r.Details(), "; ")))
}

type ValidatorConfig struct {
	MinUSD       decimal.Decimal
	MaxUSD       decimal.Decimal
	DefaultChain types.Network
	Supported    []types.Network
}

// Validator applies the payment business rules to untrusted PaymentData.
type Validator struct {
	min, max     decimal.Decimal
	defaultChain types.Network
	supported    map[types.Network]bool
}

func NewValidator(cfg ValidatorConfig) *Validator {
	v := &Validator{
		min:          cfg.MinUSD,
		max:          cfg.MaxUSD,
		defaultChain: cfg.DefaultChain,
		supported:    make(map[types.Network]bool),
	}
	if v.min.IsZero() {
		v.min = decimal.NewFromInt(1)
	}
	if v.max.IsZero() {
		v.max = decimal.NewFromInt(10000)
	}
	if v.defaultChain == "" {
		v.defaultChain = types.NetworkBase
	}
	v.supported[v.defaultChain] = true
	for _, n := range cfg.Supported {
		v.supported[n] = true
	}
	return v
}

// Validate evaluates every rule; malformed input is reported as a failed
// result.
func (v *Validator) Validate(data *types.PaymentData) ValidationResult {
	if data == nil {
		return ValidationResult{Errors: []FieldError{{Field: "paymentData", Message: MsgRequired}}}
	}

	var errs []FieldError
	add := func(field, msg string) { errs = append(errs, FieldError{Field: field, Message: msg}) }

	if err := utils.Validator().Struct(data); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			add("paymentData", err.Error())
		}
		for _, fe := range verrs {
			add(fe.Field(), tagMessage(fe))
		}
	}

	event := &types.PaymentEvent{
		BuyerAddress:  strings.TrimSpace(data.BuyerAddress),
		PaymentTxHash: strings.TrimSpace(data.TransactionHash),
		PaymentStatus: types.PaymentStatus(data.PaymentStatus),
		Chain:         v.defaultChain,
	}

	if usd, msg := v.checkAmount(data.Amount); msg != "" {
		add("amount", msg)
	} else {
		event.USDAmount = usd
	}

	if chain := strings.TrimSpace(data.Chain); chain != "" {
		n := types.Network(strings.ToLower(chain))
		if !v.supported[n] {
			add("chain", MsgUnsupported)
		} else {
			event.Chain = n
		}
	}

	if md := data.Metadata; md != nil {
		if raw := utils.JSONString(md.TokenAmount); raw != "" {
			amt, err := pricing.ParseTokenAmount(raw)
			switch {
			case err != nil:
				add("metadata.tokenAmount", MsgNotNumeric)
			case !amt.IsPositive():
				add("metadata.tokenAmount", MsgNotPositive)
			default:
				event.Metadata.TokenAmount = &amt
			}
		}

		price, ok, err := utils.ParseJSONDecimal(md.TokenPrice)
		switch {
		case err != nil:
			add("metadata.tokenPrice", MsgNotNumeric)
		case ok && !price.IsPositive():
			add("metadata.tokenPrice", MsgNotPositive)
		case ok:
			event.Metadata.TokenPrice = &price
		}
	}

	if len(errs) > 0 {
		return ValidationResult{Errors: errs}
	}
	return ValidationResult{OK: true, Event: event}
}

func (v *Validator) checkAmount(raw json.RawMessage) (decimal.Decimal, string) {
	usd, ok, err := utils.ParseJSONDecimal(raw)
	switch {
	case err != nil:
		return usd, MsgNotNumeric
	case !ok:
		return usd, MsgRequired
	case usd.LessThan(v.min):
		return usd, MsgBelowMinimum
	case usd.GreaterThan(v.max):
		return usd, MsgAboveMaximum
	}
	return usd, ""
}

// ValidateQuote checks an interactive quote request against the same address
// and amount rules as payment notifications.
func (v *Validator) ValidateQuote(req *types.QuoteRequest) (decimal.Decimal, []FieldError) {
	if req == nil {
		return decimal.Zero, []FieldError{{Field: "body", Message: MsgRequired}}
	}

	var errs []FieldError
	if err := utils.Validator().Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, FieldError{Field: fe.Field(), Message: tagMessage(fe)})
			}
		}
	}

	usd, msg := v.checkAmount(req.Amount)
	if msg != "" {
		errs = append(errs, FieldError{Field: "amount", Message: msg})
	}
	return usd, errs
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return MsgRequired
	case "evm_address":
		return MsgInvalidAddr
	case "oneof":
		return MsgInvalidStatus
	case "max":
		return MsgTooLong
	default:
		return "failed " + fe.Tag()
	}
}
