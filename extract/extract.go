// Package extract parses caller-supplied payment claims out of inbound
// request metadata. It is pure parsing: no registry lookups, no
// transaction decoding.
package extract

import (
	"encoding/json"
	"fmt"

	"github.com/x402labs/paygate/types"
)

// MetadataKey is where the transport layer places the payment claim in
// request metadata.
const MetadataKey = "x402/payment"

// Extract pulls a payment claim from request metadata. Three outcomes:
// a well-formed claim; types.ErrNoPayment when the request carries no
// payment at all; or a malformed-payment error, which is distinct from
// offering nothing.
func Extract(meta map[string]any) (*types.PaymentClaim, *types.PaymentError) {
	if meta == nil {
		return nil, types.ErrNoPayment
	}
	raw, ok := meta[MetadataKey]
	if !ok || raw == nil {
		return nil, types.ErrNoPayment
	}

	data, err := normalize(raw)
	if err != nil {
		return nil, types.NewMalformedError(err.Error())
	}

	var claim types.PaymentClaim
	if err := json.Unmarshal(data, &claim); err != nil {
		return nil, types.NewMalformedError(fmt.Sprintf("failed to parse payment claim: %v", err))
	}

	// Exact version match: no forward or backward compatibility.
	if claim.X402Version != types.ProtocolVersion {
		return nil, types.NewMalformedError(fmt.Sprintf("unsupported protocol version %d", claim.X402Version))
	}
	if err := types.ValidateStruct(&claim); err != nil {
		return nil, types.NewMalformedError(fmt.Sprintf("claim validation failed: %v", err))
	}
	if err := claim.Validate(); err != nil {
		return nil, types.NewMalformedError(err.Error())
	}
	return &claim, nil
}

// normalize accepts the claim either as a JSON string or as an
// already-decoded object and returns canonical JSON bytes.
func normalize(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil, fmt.Errorf("payment metadata is empty")
		}
		return []byte(v), nil
	case []byte:
		if len(v) == 0 {
			return nil, fmt.Errorf("payment metadata is empty")
		}
		return v, nil
	case map[string]any:
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("unsupported payment metadata type %T", raw)
	}
}
