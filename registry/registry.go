// Package registry holds the static, load-time-validated table of
// supported chains, accepted assets, recipient addresses and gas-price
// bounds, plus the CAIP-2 chain identifier validator.
package registry

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/x402labs/paygate/types"
)

// ChainID is a validated CAIP-2 (namespace, reference) pair.
// Immutable once constructed.
type ChainID struct {
	namespace string
	reference string
}

// ParseChainID validates a CAIP-2 chain identifier string. The string
// is split on the first colon; the namespace must be non-empty
// lowercase alphanumeric and the reference non-empty.
func ParseChainID(s string) (ChainID, error) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return ChainID{}, fmt.Errorf("chain id %q: missing namespace separator", s)
	}
	ns, ref := s[:idx], s[idx+1:]
	if ns == "" {
		return ChainID{}, fmt.Errorf("chain id %q: empty namespace", s)
	}
	if ref == "" {
		return ChainID{}, fmt.Errorf("chain id %q: empty reference", s)
	}
	for i := 0; i < len(ns); i++ {
		c := ns[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ChainID{}, fmt.Errorf("chain id %q: namespace must match [a-z0-9]+", s)
		}
	}
	return ChainID{namespace: ns, reference: ref}, nil
}

// MustChainID is ParseChainID that panics on invalid input. For
// statically known identifiers only.
func MustChainID(s string) ChainID {
	id, err := ParseChainID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (c ChainID) Namespace() string { return c.namespace }
func (c ChainID) Reference() string { return c.reference }
func (c ChainID) String() string    { return c.namespace + ":" + c.reference }
func (c ChainID) IsZero() bool      { return c.namespace == "" }

// IsSolana reports whether the chain uses the SVM account model.
func (c ChainID) IsSolana() bool { return c.namespace == "solana" }

// Asset is a fungible value unit on one chain. Decimals are for human
// display only; validation math uses raw atomic amounts.
type Asset struct {
	Address  string
	Name     string
	Decimals uint8
}

// NetworkPolicy is the read-only per-chain payment policy. Created at
// process start and safe for unsynchronized concurrent reads.
type NetworkPolicy struct {
	ChainID     ChainID
	Assets      []Asset
	PayTo       string
	MinGasPrice uint64
	MaxGasPrice uint64
}

// AcceptsAsset reports whether the mint address is in the accepted set.
func (p *NetworkPolicy) AcceptsAsset(address string) bool {
	for _, a := range p.Assets {
		if a.Address == address {
			return true
		}
	}
	return false
}

// Registry is the immutable chain policy table, keyed by canonical
// chain id for O(1) lookup.
type Registry struct {
	policies map[string]*NetworkPolicy
}

// New builds a registry from configuration, validating every entry:
// chain ids must be well-formed CAIP-2, gas bounds ordered, and, for
// SVM chains, recipient and mint addresses must be valid base58 keys.
func New(networks []types.NetworkConfig) (*Registry, error) {
	policies := make(map[string]*NetworkPolicy, len(networks))
	for _, nc := range networks {
		chain, err := ParseChainID(nc.ChainID)
		if err != nil {
			return nil, configErr(err.Error())
		}
		if _, dup := policies[chain.String()]; dup {
			return nil, configErr(fmt.Sprintf("duplicate network %s", chain))
		}
		if nc.MinGasPrice > nc.MaxGasPrice {
			return nil, configErr(fmt.Sprintf("network %s: minGasPrice exceeds maxGasPrice", chain))
		}
		if chain.IsSolana() {
			if _, err := solana.PublicKeyFromBase58(nc.PayTo); err != nil {
				return nil, configErr(fmt.Sprintf("network %s: invalid payTo address: %v", chain, err))
			}
		}
		assets := make([]Asset, 0, len(nc.Assets))
		for _, ac := range nc.Assets {
			if chain.IsSolana() {
				if _, err := solana.PublicKeyFromBase58(ac.Address); err != nil {
					return nil, configErr(fmt.Sprintf("network %s: invalid asset address %s: %v", chain, ac.Address, err))
				}
			}
			assets = append(assets, Asset{Address: ac.Address, Name: ac.Name, Decimals: ac.Decimals})
		}
		policies[chain.String()] = &NetworkPolicy{
			ChainID:     chain,
			Assets:      assets,
			PayTo:       nc.PayTo,
			MinGasPrice: nc.MinGasPrice,
			MaxGasPrice: nc.MaxGasPrice,
		}
	}
	return &Registry{policies: policies}, nil
}

// Lookup returns the policy for a chain, or false when the chain is
// not configured. No side effects.
func (r *Registry) Lookup(chain ChainID) (*NetworkPolicy, bool) {
	p, ok := r.policies[chain.String()]
	return p, ok
}

// Chains lists every configured chain id.
func (r *Registry) Chains() []ChainID {
	out := make([]ChainID, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, p.ChainID)
	}
	return out
}

func configErr(msg string) *types.PaymentError {
	return &types.PaymentError{
		Code:    types.CodeConfigError,
		Stage:   types.StageConfig,
		Message: msg,
	}
}
