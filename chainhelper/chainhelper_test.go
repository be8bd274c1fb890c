package chainhelper

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip39"
)

func TestParseChainFamily(t *testing.T) {
	testCases := []struct {
		input   string
		want    ChainFamily
		wantErr bool
	}{
		{input: "evm", want: ChainFamilyEVM},
		{input: " EVM ", want: ChainFamilyEVM},
		{input: "solana", want: ChainFamilySolana},
		{input: "Solana", want: ChainFamilySolana},
		{input: "bitcoin", wantErr: true},
		{input: "", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseChainFamily(tc.input)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedChain)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)

			h, err := NewChainHelper(got)
			require.NoError(t, err)
			assert.Equal(t, got, h.Family())
		})
	}

	_, err := NewChainHelper(ChainFamily(99))
	assert.ErrorIs(t, err, ErrUnsupportedChain)
}

func TestGenerateMnemonic(t *testing.T) {
	for _, words := range []int{12, 24} {
		phrase, err := GenerateMnemonic(words)
		require.NoError(t, err)
		assert.Len(t, strings.Fields(phrase), words)
		assert.True(t, bip39.IsMnemonicValid(phrase))
	}

	a, err := GenerateMnemonic(12)
	require.NoError(t, err)
	b, err := GenerateMnemonic(12)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	for _, words := range []int{0, 11, 15, 18, 25} {
		_, err := GenerateMnemonic(words)
		assert.ErrorIs(t, err, ErrUnsupportedWordCount)
	}
}

func TestGeneratedMnemonicDerivesDistinctAddresses(t *testing.T) {
	phrase, err := GenerateMnemonic(12)
	require.NoError(t, err)

	for _, family := range []ChainFamily{ChainFamilyEVM, ChainFamilySolana} {
		h, err := NewChainHelper(family)
		require.NoError(t, err)
		keys, err := DeriveBatch(h, phrase, 0, 2)
		require.NoError(t, err)
		require.Len(t, keys, 2)
		assert.NotEqual(t, keys[0].Address, keys[1].Address, family.String())
	}
}

func TestDeriveBatch(t *testing.T) {
	h := NewEVMChainHelper()
	keys, err := DeriveBatch(h, testMnemonic, 5, 3)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	for i, key := range keys {
		require.NotNil(t, key.Index)
		assert.Equal(t, uint32(5+i), *key.Index)
		single, err := h.FromMnemonic(testMnemonic, uint32(5+i))
		require.NoError(t, err)
		assert.Equal(t, single.Address, key.Address)
	}
}

func TestDeriveBatchIndexBounds(t *testing.T) {
	testCases := []struct {
		name    string
		start   uint32
		count   uint32
		wantErr bool
	}{
		{name: "last index", start: IndexLimit - 1, count: 1},
		{name: "crosses into hardened", start: IndexLimit - 1, count: 2, wantErr: true},
		{name: "hardened start", start: IndexLimit, count: 1, wantErr: true},
		{name: "wraps around", start: ^uint32(0), count: 2, wantErr: true},
	}
	for _, family := range []ChainFamily{ChainFamilyEVM, ChainFamilySolana} {
		h, err := NewChainHelper(family)
		require.NoError(t, err)
		for _, tc := range testCases {
			t.Run(family.String()+"/"+tc.name, func(t *testing.T) {
				keys, err := DeriveBatch(h, testMnemonic, tc.start, tc.count)
				if tc.wantErr {
					assert.ErrorIs(t, err, ErrInvalidIndex)
					assert.Nil(t, keys)
					return
				}
				require.NoError(t, err)
				require.Len(t, keys, int(tc.count))
				assert.Equal(t, tc.start, *keys[0].Index)
			})
		}
	}
}

func TestFromMnemonicRejectsHardenedIndex(t *testing.T) {
	for _, family := range []ChainFamily{ChainFamilyEVM, ChainFamilySolana} {
		h, err := NewChainHelper(family)
		require.NoError(t, err)
		for _, index := range []uint32{IndexLimit, IndexLimit + 1, ^uint32(0)} {
			_, err := h.FromMnemonic(testMnemonic, index)
			assert.ErrorIs(t, err, ErrInvalidIndex, "%s index %d", family, index)
		}
	}
}

func TestSlip10Vectors(t *testing.T) {
	seed, err := hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)

	master := slip10Master(seed)
	assert.Equal(t, "2b4be7f19ee27bbf30c667b642d5f4aa69fd169872f8fc3059c08ebae2eb19e7", hex.EncodeToString(master.key))
	assert.Equal(t, "90046a93de5380a72b5e45010748567d5ea02bbf6522f979e05c0d8d8ca9fffb", hex.EncodeToString(master.chainCode))

	child := master.child(0)
	assert.Equal(t, "68e0fe46dfb67e368c75379acec591dad19df3cde26e63b93a8e704f1dade7a3", hex.EncodeToString(child.key))
	assert.Equal(t, "8b59aa11380b624e81507a27fedda59fea6d0b779a778918a2fd3590e16e9c69", hex.EncodeToString(child.chainCode))

	assert.Equal(t, child.key, deriveEd25519(seed, []uint32{0}))
}

func TestWalletName(t *testing.T) {
	testCases := []struct {
		name      string
		requested string
		address   string
		count     int
		index     uint32
		want      string
	}{
		{name: "requested single", requested: "main", address: "0xabc", count: 1, want: "main"},
		{name: "requested batch", requested: " main ", address: "0xabc", count: 3, index: 7, want: "main-7"},
		{name: "derived single", address: "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", count: 1, want: "AEDA94"},
		{name: "derived batch", address: "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", count: 2, index: 1, want: "AEDA94-1"},
		{name: "short address", address: "abc", count: 1, want: "ABC"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, WalletName(tc.requested, tc.address, tc.count, tc.index))
		})
	}
}

func TestDerivedKeyRedacts(t *testing.T) {
	key := DerivedKey{Address: "0xabc", PrivateKey: "deadbeef"}
	assert.NotContains(t, key.String(), "deadbeef")
}
