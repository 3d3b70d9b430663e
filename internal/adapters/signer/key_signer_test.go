package signer

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// first anvil development account
const (
	devKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestNewKeySigner(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "with prefix", key: devKey},
		{name: "without prefix", key: devKey[2:]},
		{name: "surrounding whitespace", key: "  " + devKey + "\n"},
		{name: "empty", key: "", wantErr: true},
		{name: "not hex", key: "0xzz", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewKeySigner(tt.key)
			if tt.wantErr {
				require.Error(t, err)
				assert.NotContains(t, err.Error(), "zz")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, common.HexToAddress(devAddress), s.Address())
		})
	}
}

func TestKeySigner_SignTx(t *testing.T) {
	s, err := NewKeySigner(devKey)
	require.NoError(t, err)

	chainID := big.NewInt(1337)
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	signed, err := s.SignTx(types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     7,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21_000,
		To:        &to,
		Value:     big.NewInt(0),
	}), chainID)
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), sender)
	assert.Equal(t, uint64(7), signed.Nonce())
}
