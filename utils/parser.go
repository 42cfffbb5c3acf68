package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/shopspring/decimal"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared struct validator with the custom tags registered:
//
//	evm_address  0x-prefixed 20 byte hex address
//	notblank     not empty after trimming whitespace
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
		_ = validate.RegisterValidation("evm_address", func(fl validator.FieldLevel) bool {
			return IsEVMAddress(fl.Field().String())
		})
		_ = validate.RegisterValidation("notblank", validators.NotBlank)
	})
	return validate
}

// ParseJSONDecimal decodes a JSON number or numeric string into a decimal.
// Empty input and null return ok=false with no error.
func ParseJSONDecimal(raw json.RawMessage) (d decimal.Decimal, ok bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, false, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, false, fmt.Errorf("invalid string: %w", err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return decimal.Zero, false, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("not a number: %q", s)
		}
		return d, true, nil
	}

	d, err = decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("not a number: %s", raw)
	}
	return d, true, nil
}

// JSONString decodes a JSON string value, or returns the raw text for numbers.
func JSONString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
