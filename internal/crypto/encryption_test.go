package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/vultisig/custodian/common"
)

func testKey(t require.TestingT) []byte {
	key, err := common.RandomBytes(common.KeySize)
	require.NoError(t, err)
	return key
}

func TestFieldRoundTrip(t *testing.T) {
	key := testKey(t)
	rapid.Check(t, func(rt *rapid.T) {
		plaintext := rapid.String().Draw(rt, "plaintext")
		field, err := EncryptField(plaintext, key)
		require.NoError(rt, err)
		require.True(rt, LooksEncrypted(field))

		got, err := DecryptField(field, key)
		require.NoError(rt, err)
		require.Equal(rt, plaintext, got)
	})
}

func TestEncryptFieldUsesFreshIV(t *testing.T) {
	key := testKey(t)
	a, err := EncryptField("same secret", key)
	require.NoError(t, err)
	b, err := EncryptField("same secret", key)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptFieldFormatErrors(t *testing.T) {
	key := testKey(t)
	valid, err := EncryptField("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318", key)
	require.NoError(t, err)
	ivHex, ctB64, _ := strings.Cut(valid, ":")

	testCases := []struct {
		name  string
		field string
	}{
		{name: "plaintext", field: "not encrypted"},
		{name: "three parts", field: valid + ":extra"},
		{name: "iv not hex", field: "zz" + ivHex[2:] + ":" + ctB64},
		{name: "short iv", field: ivHex[:16] + ":" + ctB64},
		{name: "bad base64", field: ivHex + ":***"},
		{name: "empty ciphertext", field: ivHex + ":"},
		{name: "unaligned ciphertext", field: ivHex + ":" + base64.StdEncoding.EncodeToString([]byte("abc"))},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecryptField(tc.field, key)
			assert.ErrorIs(t, err, ErrFormat)
		})
	}
}

func TestDecryptFieldWrongKey(t *testing.T) {
	field, err := EncryptField("a secret that spans more than one aes block", testKey(t))
	require.NoError(t, err)

	// a wrong key only passes the padding and utf-8 checks with negligible probability
	_, err = DecryptField(field, testKey(t))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestDecryptFieldCorruptedCiphertext(t *testing.T) {
	key := testKey(t)
	field, err := EncryptField("private key material", key)
	require.NoError(t, err)
	ivHex, ctB64, _ := strings.Cut(field, ":")
	ct, err := base64.StdEncoding.DecodeString(ctB64)
	require.NoError(t, err)

	ct[len(ct)-1] ^= 0x80
	_, err = DecryptField(ivHex+":"+base64.StdEncoding.EncodeToString(ct), key)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestInvalidKeyLength(t *testing.T) {
	_, err := EncryptField("x", []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = DecryptField("00:00", []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestLooksEncrypted(t *testing.T) {
	testCases := []struct {
		name  string
		field string
		want  bool
	}{
		{name: "hex private key", field: "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318", want: false},
		{name: "mnemonic", field: "abandon abandon abandon", want: false},
		{name: "well formed", field: "000102030405060708090a0b0c0d0e0f:AAAAAAAAAAAAAAAAAAAAAA==", want: true},
		{name: "transport sealed", field: "p1:00:00:AA==", want: false},
		{name: "empty", field: "", want: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, LooksEncrypted(tc.field))
		})
	}
}
