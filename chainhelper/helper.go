package chainhelper

import (
	"fmt"
)

// ChainHelper derives addresses and keys for one chain family.
type ChainHelper interface {
	Family() ChainFamily
	// FromPrivateKey validates an imported key and returns its address and normalized form.
	FromPrivateKey(raw string) (*DerivedKey, error)
	// FromMnemonic derives the key at account index from a BIP-39 phrase.
	FromMnemonic(phrase string, index uint32) (*DerivedKey, error)
}

// DerivedKey is an address and the private key that controls it.
type DerivedKey struct {
	Address    string
	PrivateKey string
	// Index is the derivation index, nil for imported keys.
	Index *uint32
}

func (k DerivedKey) String() string {
	return fmt.Sprintf("DerivedKey(%s, ***REDACTED***)", k.Address)
}

func NewChainHelper(family ChainFamily) (ChainHelper, error) {
	switch family {
	case ChainFamilyEVM:
		return NewEVMChainHelper(), nil
	case ChainFamilySolana:
		return NewSolanaChainHelper(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChain, family)
	}
}

// IndexLimit bounds account indices. Higher values would land on hardened indices, which are
// a different path for EVM and alias lower indices for Solana.
const IndexLimit = 1 << 31

func checkIndex(index uint32) error {
	if index >= IndexLimit {
		return fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	return nil
}

// DeriveBatch derives count keys at indices start, start+1, ...
func DeriveBatch(h ChainHelper, phrase string, start, count uint32) ([]*DerivedKey, error) {
	if uint64(start)+uint64(count) > IndexLimit {
		return nil, fmt.Errorf("%w: %d keys from %d", ErrInvalidIndex, count, start)
	}
	keys := make([]*DerivedKey, 0, count)
	for i := uint32(0); i < count; i++ {
		key, err := h.FromMnemonic(phrase, start+i)
		if err != nil {
			return nil, fmt.Errorf("fail to derive index %d, err: %w", start+i, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
