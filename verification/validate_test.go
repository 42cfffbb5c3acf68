package verification

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/onramp/types"
)

const buyer = "0xAAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaa11111111"

func newTestValidator() *Validator {
	return NewValidator(ValidatorConfig{
		MinUSD:       decimal.NewFromInt(1),
		MaxUSD:       decimal.NewFromInt(10000),
		DefaultChain: types.NetworkBase,
		Supported:    []types.Network{types.NetworkPolygon},
	})
}

func paymentData(amount string) *types.PaymentData {
	return &types.PaymentData{
		BuyerAddress:    buyer,
		Amount:          json.RawMessage(amount),
		TransactionHash: "tx-1",
		PaymentStatus:   "completed",
	}
}

func fieldMessages(res ValidationResult) map[string]string {
	out := map[string]string{}
	for _, e := range res.Errors {
		out[e.Field] = e.Message
	}
	return out
}

func TestValidateAmountBounds(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		amount string
		ok     bool
		msg    string
	}{
		{`0.5`, false, MsgBelowMinimum},
		{`10001`, false, MsgAboveMaximum},
		{`500`, true, ""},
		{`1`, true, ""},
		{`10000`, true, ""},
		{`"250.75"`, true, ""},
		{`"abc"`, false, MsgNotNumeric},
		{`true`, false, MsgNotNumeric},
		{`null`, false, MsgRequired},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			res := v.Validate(paymentData(tt.amount))
			assert.Equal(t, tt.ok, res.OK)
			if !tt.ok {
				assert.Equal(t, tt.msg, fieldMessages(res)["amount"])
				assert.Nil(t, res.Event)
			}
		})
	}
}

func TestValidateAddressShape(t *testing.T) {
	v := newTestValidator()

	for _, addr := range []string{
		"AAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaa111111111",
		"0xAAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaa1111111",
		"0xGGGGaaaaAAAAaaaaAAAAaaaaAAAAaaaa11111111",
		"",
	} {
		data := paymentData(`100`)
		data.BuyerAddress = addr
		res := v.Validate(data)
		assert.False(t, res.OK, addr)
		assert.Contains(t, fieldMessages(res), "buyerAddress")
	}
}

func TestValidateReportsEveryViolation(t *testing.T) {
	v := newTestValidator()
	res := v.Validate(&types.PaymentData{
		BuyerAddress:  "nope",
		Amount:        json.RawMessage(`0`),
		PaymentStatus: "refunded",
		Chain:         "solana",
	})

	require.False(t, res.OK)
	msgs := fieldMessages(res)
	assert.Equal(t, MsgInvalidAddr, msgs["buyerAddress"])
	assert.Equal(t, MsgRequired, msgs["transactionHash"])
	assert.Equal(t, MsgInvalidStatus, msgs["paymentStatus"])
	assert.Equal(t, MsgBelowMinimum, msgs["amount"])
	assert.Equal(t, MsgUnsupported, msgs["chain"])
	assert.Len(t, res.Details(), 5)
	assert.True(t, types.IsCode(res.Err(), types.ErrValidationFailed))
}

func TestValidateNormalizesEvent(t *testing.T) {
	v := newTestValidator()
	data := paymentData(`"100"`)
	data.Chain = "Polygon"
	data.Metadata = &types.PaymentMetadata{
		TokenAmount: json.RawMessage(`"97,000"`),
		TokenPrice:  json.RawMessage(`0.001`),
	}

	res := v.Validate(data)
	require.True(t, res.OK, res.Details())
	ev := res.Event
	assert.Equal(t, buyer, ev.BuyerAddress)
	assert.Equal(t, "tx-1", ev.PaymentTxHash)
	assert.Equal(t, types.PaymentCompleted, ev.PaymentStatus)
	assert.Equal(t, types.NetworkPolygon, ev.Chain)
	assert.True(t, ev.USDAmount.Equal(decimal.NewFromInt(100)))
	require.NotNil(t, ev.Metadata.TokenAmount)
	assert.Equal(t, "97000", ev.Metadata.TokenAmount.String())
	require.NotNil(t, ev.Metadata.TokenPrice)
	assert.Equal(t, "0.001", ev.Metadata.TokenPrice.String())
	assert.NoError(t, res.Err())
}

func TestValidateDefaultsChain(t *testing.T) {
	res := newTestValidator().Validate(paymentData(`100`))
	require.True(t, res.OK)
	assert.Equal(t, types.NetworkBase, res.Event.Chain)
	assert.Nil(t, res.Event.Metadata.TokenAmount)
}

func TestValidateMetadata(t *testing.T) {
	v := newTestValidator()

	data := paymentData(`100`)
	data.Metadata = &types.PaymentMetadata{TokenAmount: json.RawMessage(`"lots"`), TokenPrice: json.RawMessage(`-1`)}
	res := v.Validate(data)
	require.False(t, res.OK)
	assert.Equal(t, MsgNotNumeric, fieldMessages(res)["metadata.tokenAmount"])
	assert.Equal(t, MsgNotPositive, fieldMessages(res)["metadata.tokenPrice"])

	data.Metadata = &types.PaymentMetadata{TokenAmount: json.RawMessage(`0`)}
	res = v.Validate(data)
	assert.Equal(t, MsgNotPositive, fieldMessages(res)["metadata.tokenAmount"])
}

func TestValidateBlankTransactionHash(t *testing.T) {
	data := paymentData(`100`)
	data.TransactionHash = "   "
	res := newTestValidator().Validate(data)
	require.False(t, res.OK)
	assert.Equal(t, MsgRequired, fieldMessages(res)["transactionHash"])
}

func TestValidateSeparatorOnlyTokenAmount(t *testing.T) {
	data := paymentData(`100`)
	data.Metadata = &types.PaymentMetadata{TokenAmount: json.RawMessage(`","`)}
	var res ValidationResult
	require.NotPanics(t, func() { res = newTestValidator().Validate(data) })
	require.False(t, res.OK)
	assert.Equal(t, MsgNotNumeric, fieldMessages(res)["metadata.tokenAmount"])
}

func TestValidateNil(t *testing.T) {
	res := newTestValidator().Validate(nil)
	assert.False(t, res.OK)
	assert.Equal(t, MsgRequired, fieldMessages(res)["paymentData"])
}

func TestValidatePendingStillValidated(t *testing.T) {
	data := paymentData(`0.5`)
	data.PaymentStatus = "pending"
	res := newTestValidator().Validate(data)
	assert.False(t, res.OK)
}

func TestValidateQuote(t *testing.T) {
	v := newTestValidator()

	usd, errs := v.ValidateQuote(&types.QuoteRequest{BuyerAddress: "0x1234567890abcdef1234567890abcdef12345678", Amount: json.RawMessage(`"250"`)})
	assert.Empty(t, errs)
	assert.Equal(t, "250", usd.String())

	_, errs = v.ValidateQuote(&types.QuoteRequest{BuyerAddress: "0x12", Amount: json.RawMessage(`20000`)})
	require.Len(t, errs, 2)
	got := map[string]string{}
	for _, e := range errs {
		got[e.Field] = e.Message
	}
	assert.Equal(t, MsgInvalidAddr, got["buyerAddress"])
	assert.Equal(t, MsgAboveMaximum, got["amount"])

	_, errs = v.ValidateQuote(nil)
	assert.Len(t, errs, 1)
}
