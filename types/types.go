// Package types defines the wire and domain types of the paygate
// payment protocol: requirements, claims, facilitator outcomes, and
// the tagged error variants used across the engine.
package types

import (
	"fmt"
)

// ProtocolVersion is the single supported x402 protocol version.
// Claims carrying any other version are rejected, never coerced.
const ProtocolVersion = 1

// SchemeExact is the only payment scheme this engine implements: the
// transferred amount must equal the required amount precisely.
const SchemeExact = "exact"

// PaymentRequirement describes one acceptable way to pay for a
// protected resource. A caller may satisfy any single requirement out
// of the advertised list.
type PaymentRequirement struct {
	// Scheme of the payment protocol, always "exact".
	Scheme string `json:"scheme" validate:"required,eq=exact"`

	// Network is the CAIP-2 chain identifier the payment must be made on.
	Network string `json:"network" validate:"required"`

	// Amount required, in atomic units of the asset, as a u64 decimal
	// string. Validation math always uses this raw integer form.
	Amount string `json:"amount" validate:"required,number"`

	// Asset is the token mint address the payment must use.
	Asset string `json:"asset" validate:"required"`

	// PayTo is the recipient address configured for the network.
	PayTo string `json:"payTo" validate:"required"`

	// Resource identifies what is being paid for.
	Resource string `json:"resource,omitempty"`

	// Description of the resource being purchased.
	Description string `json:"description,omitempty"`

	// MimeType of the resource response, if applicable.
	MimeType string `json:"mimeType,omitempty"`

	// MaxTimeoutSeconds bounds how stale a payment offer may be before
	// the engine refuses to attempt verification.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds" validate:"required,min=1,max=300"`
}

// PaymentClaim is a caller-submitted payment authorization extracted
// from request metadata. It is consumed once and never persisted.
type PaymentClaim struct {
	// X402Version must equal ProtocolVersion exactly.
	X402Version int `json:"x402Version" validate:"required"`

	Scheme  string `json:"scheme" validate:"required,eq=exact"`
	Network string `json:"network" validate:"required"`

	// Accepted is the requirement the caller chose to satisfy.
	Accepted PaymentRequirement `json:"accepted" validate:"required"`

	// Payload is the encoded signed transaction.
	Payload string `json:"payload" validate:"required"`

	// Encoding of Payload: "base64" (default when empty) or "base58".
	Encoding string `json:"encoding,omitempty" validate:"omitempty,oneof=base64 base58"`

	// CreatedAt is the unix timestamp at which the caller produced the
	// claim. Zero means unknown; a non-zero value older than
	// Accepted.MaxTimeoutSeconds is refused before verification.
	CreatedAt int64 `json:"createdAt,omitempty"`
}

// VerifyOutcome is the facilitator's verification result. Terminal:
// produced once per claim.
type VerifyOutcome struct {
	IsValid bool   `json:"isValid"`
	Payer   string `json:"payer,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// SettlementOutcome is the facilitator's settlement result. Only ever
// produced after a valid VerifyOutcome for the same claim.
type SettlementOutcome struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
}

// Receipt is the authorization token handed to the transport layer
// once a payment has settled; it is attached to the eventual response.
type Receipt struct {
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer"`
}

// SupportedKind describes one (network, scheme) pair a facilitator
// can verify and settle.
type SupportedKind struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

// SupportedResponse is the facilitator's capability listing.
type SupportedResponse struct {
	Kinds   []SupportedKind `json:"kinds"`
	Signers []string        `json:"signers,omitempty"`
}

// RequiredResponse is returned to the transport layer when a call
// arrives without a valid payment: the full list of acceptable
// requirements plus the resource descriptor.
type RequiredResponse struct {
	X402Version int                  `json:"x402Version"`
	Accepts     []PaymentRequirement `json:"accepts"`
	Resource    string               `json:"resource,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// FacilitatorRequest is the JSON body posted to the facilitator's
// /verify and /settle endpoints.
type FacilitatorRequest struct {
	X402Version int          `json:"x402Version"`
	Claim       PaymentClaim `json:"claim"`
}

// Validate checks the claim for structural completeness beyond what
// struct tags express.
func (c *PaymentClaim) Validate() error {
	if c.X402Version != ProtocolVersion {
		return fmt.Errorf("unsupported protocol version %d, expected %d", c.X402Version, ProtocolVersion)
	}
	if c.Payload == "" {
		return fmt.Errorf("payment payload is required")
	}
	return c.Accepted.Validate()
}

// Validate checks that the requirement carries every mandatory field.
func (r *PaymentRequirement) Validate() error {
	if r.Scheme != SchemeExact {
		return fmt.Errorf("requirement.scheme must be %q", SchemeExact)
	}
	if r.Network == "" {
		return fmt.Errorf("requirement.network is required")
	}
	if r.Amount == "" {
		return fmt.Errorf("requirement.amount is required")
	}
	if r.Asset == "" {
		return fmt.Errorf("requirement.asset is required")
	}
	if r.PayTo == "" {
		return fmt.Errorf("requirement.payTo is required")
	}
	if r.MaxTimeoutSeconds < 1 || r.MaxTimeoutSeconds > 300 {
		return fmt.Errorf("requirement.maxTimeoutSeconds must be within 1..300")
	}
	return nil
}
