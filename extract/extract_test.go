package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402labs/paygate/types"
)

func validClaim() types.PaymentClaim {
	return types.PaymentClaim{
		X402Version: types.ProtocolVersion,
		Scheme:      types.SchemeExact,
		Network:     "solana:test",
		Accepted: types.PaymentRequirement{
			Scheme:            types.SchemeExact,
			Network:           "solana:test",
			Amount:            "10000",
			Asset:             "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
			PayTo:             "AejHuZdNpDUiAiwuV2NKXz8K6eLzChYGpTcxptinWbar",
			MaxTimeoutSeconds: 60,
		},
		Payload:  "AQAB",
		Encoding: "base64",
	}
}

func metaFor(t *testing.T, claim types.PaymentClaim) map[string]any {
	t.Helper()
	data, err := json.Marshal(claim)
	require.NoError(t, err)
	var obj map[string]any
	require.NoError(t, json.Unmarshal(data, &obj))
	return map[string]any{MetadataKey: obj}
}

func TestExtractAbsent(t *testing.T) {
	_, perr := Extract(nil)
	assert.ErrorIs(t, perr, types.ErrNoPayment)

	_, perr = Extract(map[string]any{})
	assert.ErrorIs(t, perr, types.ErrNoPayment)

	_, perr = Extract(map[string]any{"other": 1})
	assert.ErrorIs(t, perr, types.ErrNoPayment)

	_, perr = Extract(map[string]any{MetadataKey: nil})
	assert.ErrorIs(t, perr, types.ErrNoPayment)
}

func TestExtractValidObject(t *testing.T) {
	claim, perr := Extract(metaFor(t, validClaim()))
	require.Nil(t, perr)
	assert.Equal(t, types.ProtocolVersion, claim.X402Version)
	assert.Equal(t, "solana:test", claim.Network)
	assert.Equal(t, "10000", claim.Accepted.Amount)
}

func TestExtractValidJSONString(t *testing.T) {
	data, err := json.Marshal(validClaim())
	require.NoError(t, err)

	claim, perr := Extract(map[string]any{MetadataKey: string(data)})
	require.Nil(t, perr)
	assert.Equal(t, "AQAB", claim.Payload)
}

// Malformed payments are rejected distinctly from absent ones.
func TestExtractMalformed(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]any
	}{
		{name: "broken json", meta: map[string]any{MetadataKey: "{not json"}},
		{name: "empty string", meta: map[string]any{MetadataKey: ""}},
		{name: "wrong type", meta: map[string]any{MetadataKey: 42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, perr := Extract(tt.meta)
			require.NotNil(t, perr)
			assert.NotErrorIs(t, perr, types.ErrNoPayment)
			assert.Equal(t, types.CodeMalformedPayment, perr.Code)
		})
	}
}

// Version mismatch is rejected, never coerced.
func TestExtractVersionMismatch(t *testing.T) {
	for _, version := range []int{0, 2, -1} {
		claim := validClaim()
		claim.X402Version = version
		_, perr := Extract(metaFor(t, claim))
		require.NotNil(t, perr, "version %d", version)
		assert.Equal(t, types.CodeMalformedPayment, perr.Code)
	}
}

func TestExtractStructuralGaps(t *testing.T) {
	t.Run("empty payload", func(t *testing.T) {
		claim := validClaim()
		claim.Payload = ""
		_, perr := Extract(metaFor(t, claim))
		require.NotNil(t, perr)
		assert.Equal(t, types.CodeMalformedPayment, perr.Code)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		claim := validClaim()
		claim.Accepted.Scheme = "range"
		_, perr := Extract(metaFor(t, claim))
		require.NotNil(t, perr)
	})

	t.Run("timeout out of bounds", func(t *testing.T) {
		claim := validClaim()
		claim.Accepted.MaxTimeoutSeconds = 301
		_, perr := Extract(metaFor(t, claim))
		require.NotNil(t, perr)
	})

	t.Run("missing recipient", func(t *testing.T) {
		claim := validClaim()
		claim.Accepted.PayTo = ""
		_, perr := Extract(metaFor(t, claim))
		require.NotNil(t, perr)
	})
}
