package abi

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/txm/internal/domain"
	"github.com/trebuchet-org/txm/internal/domain/config"
)

const tokenABI = `[
  {"type":"function","name":"transfer","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"setLimits","stateMutability":"nonpayable",
   "inputs":[{"name":"limits","type":"uint32[]"},{"name":"tag","type":"bytes4"},{"name":"enabled","type":"bool"}],
   "outputs":[]},
  {"type":"function","name":"configure","stateMutability":"nonpayable",
   "inputs":[{"name":"cfg","type":"tuple","components":[
     {"name":"owner","type":"address"},{"name":"delta","type":"int16"}]}],
   "outputs":[]}
]`

const recipient = "0x00000000000000000000000000000000000000aa"

func newTokenRegistry(t *testing.T) *Registry {
	r := NewRegistry()
	require.NoError(t, r.RegisterJSON("Token", []byte(tokenABI)))
	return r
}

func TestRegistry_Encode(t *testing.T) {
	r := newTokenRegistry(t)

	t.Run("transfer matches abigen packing", func(t *testing.T) {
		got, err := r.Encode("Token", "transfer", []any{recipient, "1000000000000000000000"})
		require.NoError(t, err)

		parsed, _ := r.get("Token")
		amount, _ := new(big.Int).SetString("1000000000000000000000", 10)
		want, err := parsed.Pack("transfer", common.HexToAddress(recipient), amount)
		require.NoError(t, err)
		assert.Equal(t, hexutil.Encode(want), hexutil.Encode(got))
		assert.Equal(t, "0xa9059cbb", hexutil.Encode(got[:4]))
	})

	t.Run("full signature", func(t *testing.T) {
		_, err := r.Encode("Token", "transfer(address,uint256)", []any{recipient, 5})
		require.NoError(t, err)
	})

	t.Run("small ints lists and fixed bytes", func(t *testing.T) {
		got, err := r.Encode("Token", "setLimits", []any{[]any{1, "2", float64(3)}, "0xdeadbeef", "true"})
		require.NoError(t, err)

		parsed, _ := r.get("Token")
		want, err := parsed.Pack("setLimits", []uint32{1, 2, 3}, [4]byte{0xde, 0xad, 0xbe, 0xef}, true)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("tuple by name", func(t *testing.T) {
		_, err := r.Encode("Token", "configure", []any{map[string]any{"owner": recipient, "delta": -3}})
		require.NoError(t, err)
	})

	tests := []struct {
		name     string
		contract string
		function string
		args     []any
		is       error
	}{
		{name: "unknown alias", contract: "Vault", function: "transfer", is: domain.ErrABINotFound},
		{name: "unknown function", contract: "Token", function: "mint", args: []any{}},
		{name: "wrong arity", contract: "Token", function: "transfer", args: []any{recipient}},
		{name: "bad address", contract: "Token", function: "transfer", args: []any{"0x1234", 1}},
		{name: "negative uint", contract: "Token", function: "transfer", args: []any{recipient, -1}},
		{name: "uint32 overflow", contract: "Token", function: "setLimits", args: []any{[]any{"4294967296"}, "0x00", true}},
		{name: "fractional number", contract: "Token", function: "transfer", args: []any{recipient, 1.5}},
		{name: "missing tuple component", contract: "Token", function: "configure", args: []any{map[string]any{"owner": recipient}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Encode(tt.contract, tt.function, tt.args)
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestRegistry_DescribeCall(t *testing.T) {
	r := newTokenRegistry(t)
	data, err := r.Encode("Token", "transfer", []any{recipient, "42"})
	require.NoError(t, err)

	desc, err := r.DescribeCall("Token", data)
	require.NoError(t, err)
	assert.Equal(t, "Token.transfer("+common.HexToAddress(recipient).Hex()+", 42)", desc)

	_, err = r.DescribeCall("Token", []byte{0x01})
	assert.Error(t, err)
}

func TestRegistry_LoadManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "abis"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abis", "Token.json"), []byte(tokenABI), 0644))
	artifact := `{"abi": ` + tokenABI + `, "bytecode": {"object": "0x"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abis", "Vault.json"), []byte(artifact), 0644))

	manifest := filepath.Join(dir, "abis.toml")
	require.NoError(t, os.WriteFile(manifest, []byte("[abis]\nToken = \"abis/Token.json\"\nVault = \"abis/Vault.json\"\n"), 0644))

	cfg := config.DefaultRuntimeConfig()
	cfg.ABIManifest = manifest
	r, err := NewRegistryFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"Token", "Vault"}, r.Names())
	assert.True(t, r.Has("Vault"))

	require.NoError(t, os.WriteFile(manifest, []byte("[abis]\nMissing = \"abis/Missing.json\"\n"), 0644))
	_, err = NewRegistryFromConfig(cfg)
	assert.Error(t, err)
}
