package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/trebuchet-org/txm/internal/domain/config"
	"github.com/trebuchet-org/txm/internal/usecase"
)

// KeySigner signs transactions with an in-memory private key
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner parses a hex encoded private key, with or without 0x prefix
func NewKeySigner(privateKeyHex string) (*KeySigner, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if privateKeyHex == "" {
		return nil, fmt.Errorf("private key is not configured")
	}

	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		// the parse error may echo key material
		return nil, fmt.Errorf("failed to decode private key")
	}
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// ProvideSigner builds the signer from the runtime config
func ProvideSigner(cfg *config.RuntimeConfig) (*KeySigner, error) {
	return NewKeySigner(cfg.PrivateKey)
}

func (s *KeySigner) Address() common.Address {
	return s.address
}

// SignTx signs tx for chainID using the latest signer the chain supports
func (s *KeySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

var _ usecase.Signer = (*KeySigner)(nil)
