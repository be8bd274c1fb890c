package chainhelper

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedChain     = errors.New("unsupported chain")
	ErrUnsupportedWordCount = errors.New("only 12 or 24 word mnemonics are supported")
	ErrInvalidPrivateKey    = errors.New("invalid private key")
	ErrInvalidMnemonic      = errors.New("invalid mnemonic")
	ErrInvalidIndex         = errors.New("account index out of range")
)

// ChainFamily is a key-derivation family. Every chain in a family shares addresses and keys.
type ChainFamily int

const (
	ChainFamilyEVM ChainFamily = iota + 1
	ChainFamilySolana
)

func (f ChainFamily) String() string {
	switch f {
	case ChainFamilyEVM:
		return "evm"
	case ChainFamilySolana:
		return "solana"
	default:
		return fmt.Sprintf("ChainFamily(%d)", int(f))
	}
}

// ParseChainFamily accepts the persisted chain_type value ("evm" or "solana").
func ParseChainFamily(s string) (ChainFamily, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "evm":
		return ChainFamilyEVM, nil
	case "solana":
		return ChainFamilySolana, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedChain, s)
	}
}
