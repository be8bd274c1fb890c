package chainhelper

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

const solanaCoinType = 501

var _ ChainHelper = &SolanaChainHelper{}

// SolanaChainHelper is a helper for the Solana family: ed25519 keys, SLIP-0010 path m/44'/501'/i'/0'.
type SolanaChainHelper struct{}

func NewSolanaChainHelper() *SolanaChainHelper {
	return &SolanaChainHelper{}
}

func (h *SolanaChainHelper) Family() ChainFamily { return ChainFamilySolana }

// FromPrivateKey accepts a base58 encoded 64-byte secret (seed followed by public key).
func (h *SolanaChainHelper) FromPrivateKey(raw string) (*DerivedKey, error) {
	normalized := strings.TrimSpace(raw)
	key, err := solana.PrivateKeyFromBase58(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPrivateKey, ed25519.PrivateKeySize, len(key))
	}
	expected := ed25519.NewKeyFromSeed(key[:ed25519.SeedSize])
	if !bytes.Equal(expected[ed25519.SeedSize:], key[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("%w: public key does not match secret", ErrInvalidPrivateKey)
	}
	return &DerivedKey{
		Address:    key.PublicKey().String(),
		PrivateKey: normalized,
	}, nil
}

func (h *SolanaChainHelper) FromMnemonic(phrase string, index uint32) (*DerivedKey, error) {
	if err := checkIndex(index); err != nil {
		return nil, err
	}
	seed, err := mnemonicSeed(phrase)
	if err != nil {
		return nil, err
	}
	derived := deriveEd25519(seed, []uint32{44, solanaCoinType, index, 0})
	key := solana.PrivateKey(ed25519.NewKeyFromSeed(derived))
	idx := index
	return &DerivedKey{
		Address:    key.PublicKey().String(),
		PrivateKey: key.String(),
		Index:      &idx,
	}, nil
}
