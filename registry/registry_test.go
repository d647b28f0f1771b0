package registry

import (
	"regexp"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402labs/paygate/types"
)

func TestParseChainID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantNS  string
		wantRef string
		wantErr bool
	}{
		{name: "solana mainnet", input: "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdpKuc147dw2N9d", wantNS: "solana", wantRef: "5eykt4UsFv8P8NJdTREpY1vzqKqZKvdpKuc147dw2N9d"},
		{name: "eip155", input: "eip155:1", wantNS: "eip155", wantRef: "1"},
		{name: "reference with colon", input: "solana:a:b", wantNS: "solana", wantRef: "a:b"},
		{name: "uppercase namespace", input: "Solana:abc", wantErr: true},
		{name: "empty namespace", input: ":abc", wantErr: true},
		{name: "empty reference", input: "solana:", wantErr: true},
		{name: "no separator", input: "solana", wantErr: true},
		{name: "empty string", input: "", wantErr: true},
		{name: "namespace with dash", input: "sol-ana:abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseChainID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantNS, id.Namespace())
			assert.Equal(t, tt.wantRef, id.Reference())
			assert.Equal(t, tt.input, id.String())
		})
	}
}

// ParseChainID must accept exactly the strings matching ^[a-z0-9]+:.+$.
func TestParseChainIDProperty(t *testing.T) {
	caip2 := regexp.MustCompile(`(?s)^[a-z0-9]+:.+$`)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("accepts iff the CAIP-2 shape matches", prop.ForAll(
		func(ns, ref string) bool {
			s := ns + ":" + ref
			_, err := ParseChainID(s)
			return (err == nil) == caip2.MatchString(s)
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.Property("arbitrary strings never panic", prop.ForAll(
		func(s string) bool {
			_, err := ParseChainID(s)
			return (err == nil) == caip2.MatchString(s)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func testNetworks() []types.NetworkConfig {
	payTo := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	return []types.NetworkConfig{{
		ChainID:     "solana:test",
		PayTo:       payTo.String(),
		MinGasPrice: 1000,
		MaxGasPrice: 50000,
		Assets:      []types.AssetConfig{{Address: mint.String(), Name: "USDC", Decimals: 6}},
	}}
}

func TestRegistryLookup(t *testing.T) {
	reg, err := New(testNetworks())
	require.NoError(t, err)

	policy, ok := reg.Lookup(MustChainID("solana:test"))
	require.True(t, ok)
	assert.Equal(t, uint64(1000), policy.MinGasPrice)
	assert.Equal(t, uint64(50000), policy.MaxGasPrice)
	assert.Len(t, policy.Assets, 1)
	assert.True(t, policy.AcceptsAsset(policy.Assets[0].Address))
	assert.False(t, policy.AcceptsAsset(solana.NewWallet().PublicKey().String()))

	_, ok = reg.Lookup(MustChainID("solana:other"))
	assert.False(t, ok)

	assert.Len(t, reg.Chains(), 1)
}

func TestRegistryRejectsBadConfig(t *testing.T) {
	t.Run("invalid chain id", func(t *testing.T) {
		cfgs := testNetworks()
		cfgs[0].ChainID = "Solana:test"
		_, err := New(cfgs)
		require.Error(t, err)
	})

	t.Run("duplicate network", func(t *testing.T) {
		cfgs := append(testNetworks(), testNetworks()[0])
		_, err := New(cfgs)
		require.Error(t, err)
	})

	t.Run("inverted gas bounds", func(t *testing.T) {
		cfgs := testNetworks()
		cfgs[0].MinGasPrice = 100
		cfgs[0].MaxGasPrice = 10
		_, err := New(cfgs)
		require.Error(t, err)
	})

	t.Run("bad recipient address", func(t *testing.T) {
		cfgs := testNetworks()
		cfgs[0].PayTo = "not-a-key"
		_, err := New(cfgs)
		require.Error(t, err)
	})

	t.Run("bad asset address", func(t *testing.T) {
		cfgs := testNetworks()
		cfgs[0].Assets[0].Address = "0x1234"
		_, err := New(cfgs)
		require.Error(t, err)
	})
}
