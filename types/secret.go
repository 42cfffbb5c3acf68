package types

import "go.uber.org/zap/zapcore"

const redacted = "[REDACTED]"

// Secret holds sensitive configuration (webhook secret, treasury key).
// It never renders its value through fmt, JSON or zap.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString keeps %#v from leaking the value.
func (s Secret) GoString() string {
	return s.String()
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s Secret) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("value", s.String())
	return nil
}

// Reveal returns the raw value. Only pass the result to the component that needs it.
func (s Secret) Reveal() string {
	return string(s)
}

// Bytes returns the raw value as bytes.
func (s Secret) Bytes() []byte {
	return []byte(s)
}

func (s Secret) IsZero() bool {
	return s == ""
}
