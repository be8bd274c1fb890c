package chainhelper

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
)

const evmCoinType = 60

var _ ChainHelper = &EVMChainHelper{}

// EVMChainHelper is a helper for the EVM family: secp256k1 keys, BIP-44 path m/44'/60'/0'/0/i.
type EVMChainHelper struct{}

func NewEVMChainHelper() *EVMChainHelper {
	return &EVMChainHelper{}
}

func (h *EVMChainHelper) Family() ChainFamily { return ChainFamilyEVM }

// FromPrivateKey accepts 64 hex digits with an optional 0x prefix. The normalized key has no prefix.
func (h *EVMChainHelper) FromPrivateKey(raw string) (*DerivedKey, error) {
	normalized := strings.TrimSpace(raw)
	if strings.HasPrefix(normalized, "0x") || strings.HasPrefix(normalized, "0X") {
		normalized = strings.TrimSpace(normalized[2:])
	}
	if len(normalized) != 64 {
		return nil, fmt.Errorf("%w: expected 64 hex characters, got %d", ErrInvalidPrivateKey, len(normalized))
	}
	key, err := crypto.HexToECDSA(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return &DerivedKey{
		Address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivateKey: normalized,
	}, nil
}

func (h *EVMChainHelper) FromMnemonic(phrase string, index uint32) (*DerivedKey, error) {
	if err := checkIndex(index); err != nil {
		return nil, err
	}
	seed, err := mnemonicSeed(phrase)
	if err != nil {
		return nil, err
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("fail to create master key, err: %w", err)
	}
	path := []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + evmCoinType,
		hdkeychain.HardenedKeyStart + 0,
		0,
		index,
	}
	child := master
	for _, p := range path {
		child, err = child.Derive(p)
		if err != nil {
			return nil, fmt.Errorf("fail to derive child key, err: %w", err)
		}
	}
	btcecKey, err := child.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("fail to get private key, err: %w", err)
	}
	raw := btcecKey.Serialize()
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("fail to convert private key, err: %w", err)
	}
	idx := index
	return &DerivedKey{
		Address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivateKey: hex.EncodeToString(raw),
		Index:      &idx,
	}, nil
}
