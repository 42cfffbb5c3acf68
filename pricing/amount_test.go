package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTokenAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"97000", "97000", false},
		{"97,000", "97000", false},
		{"97K", "97000", false},
		{"97k", "97000", false},
		{"1.5M", "1500000", false},
		{"2b", "2000000000", false},
		{" 1_000 ", "1000", false},
		{"0.25", "0.25", false},
		{"", "", true},
		{"K", "", true},
		{"abc", "", true},
		{"-5", "", true},
		{"1e3", "", true},
		{",", "", true},
		{"_", "", true},
		{", ,", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var (
				got decimal.Decimal
				err error
			)
			require.NotPanics(t, func() { got, err = ParseTokenAmount(tt.in) })
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestParseTokenAmountSeparatorsOnly(t *testing.T) {
	for _, in := range []string{",", "_", ", ,", " , _ "} {
		_, err := ParseTokenAmount(in)
		assert.ErrorIs(t, err, ErrEmptyAmount, "input %q", in)
	}
}

func TestComputeTokens(t *testing.T) {
	fee := decimal.RequireFromString("0.03")

	got, err := ComputeTokens(decimal.NewFromInt(100), fee, decimal.RequireFromString("0.001"), 18)
	require.NoError(t, err)
	assert.Equal(t, "97000", got.String())

	// truncated, never rounded up
	got, err = ComputeTokens(decimal.NewFromInt(10), decimal.Zero, decimal.NewFromInt(3), 2)
	require.NoError(t, err)
	assert.Equal(t, "3.33", got.String())

	got, err = ComputeTokens(decimal.NewFromInt(20), decimal.Zero, decimal.NewFromInt(3), 0)
	require.NoError(t, err)
	assert.Equal(t, "6", got.String())

	_, err = ComputeTokens(decimal.NewFromInt(10), fee, decimal.Zero, 18)
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestAccept(t *testing.T) {
	tol := DefaultTolerance
	d := decimal.RequireFromString

	assert.True(t, Accept(d("0.0011"), d("0.001"), tol))
	assert.True(t, Accept(d("0.01"), d("0.001"), tol))
	assert.False(t, Accept(d("10"), d("0.001"), tol))
	assert.False(t, Accept(d("0.00001"), d("0.001"), tol))
	assert.True(t, Accept(d("5"), decimal.Zero, tol))
	assert.False(t, Accept(decimal.Zero, d("1"), tol))
}
