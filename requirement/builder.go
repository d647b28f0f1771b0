// Package requirement turns a protected-resource descriptor into the
// set of payment requirements a caller may satisfy.
package requirement

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/x402labs/paygate/registry"
	"github.com/x402labs/paygate/types"
)

// DefaultMaxTimeoutSeconds bounds a payment offer's staleness when the
// configuration does not set one.
const DefaultMaxTimeoutSeconds = 60

// Builder emits payment requirements backed by the network registry.
// It never references an asset or chain the registry does not hold.
type Builder struct {
	reg        *registry.Registry
	maxTimeout int
}

// NewBuilder creates a builder. maxTimeoutSeconds is clamped to the
// protocol bounds 1..300; zero selects the default.
func NewBuilder(reg *registry.Registry, maxTimeoutSeconds int) *Builder {
	switch {
	case maxTimeoutSeconds <= 0:
		maxTimeoutSeconds = DefaultMaxTimeoutSeconds
	case maxTimeoutSeconds > 300:
		maxTimeoutSeconds = 300
	}
	return &Builder{reg: reg, maxTimeout: maxTimeoutSeconds}
}

// Build emits one requirement per asset accepted on the chain, all
// priced at the resource's configured price in atomic units. The
// returned requirements are alternatives: a caller satisfies any one.
func (b *Builder) Build(resource string, price uint64, chain registry.ChainID) ([]types.PaymentRequirement, error) {
	policy, ok := b.reg.Lookup(chain)
	if !ok {
		return nil, &types.PaymentError{
			Code:    types.CodeUnsupportedNetwork,
			Stage:   types.StageConfig,
			Message: fmt.Sprintf("network %s is not configured", chain),
		}
	}

	reqs := make([]types.PaymentRequirement, 0, len(policy.Assets))
	for _, asset := range policy.Assets {
		reqs = append(reqs, types.PaymentRequirement{
			Scheme:            types.SchemeExact,
			Network:           chain.String(),
			Amount:            strconv.FormatUint(price, 10),
			Asset:             asset.Address,
			PayTo:             policy.PayTo,
			Resource:          resource,
			Description:       fmt.Sprintf("payment of %s %s for %s", DisplayAmount(price, asset.Decimals), asset.Name, resource),
			MimeType:          "application/json",
			MaxTimeoutSeconds: b.maxTimeout,
		})
	}
	return reqs, nil
}

// DisplayAmount renders an atomic amount in the asset's display units.
// Never used for validation math.
func DisplayAmount(atomic uint64, decimals uint8) string {
	return decimal.NewFromUint64(atomic).Shift(-int32(decimals)).String()
}
