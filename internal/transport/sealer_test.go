package transport_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/vultisig/custodian/internal/crypto"
	"github.com/vultisig/custodian/internal/transport"
)

// wrapForEngine plays the UI side of the bootstrap: encrypt payload to the engine's public key.
func wrapForEngine(t require.TestingT, s *transport.Sealer, payload []byte) string {
	pemText, err := s.PublicKeyPEM()
	require.NoError(t, err)
	block, _ := pem.Decode([]byte(pemText))
	require.NotNil(t, block)
	require.Equal(t, "PUBLIC KEY", block.Type)
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(t, err)
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub.(*rsa.PublicKey), payload, nil)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(ct)
}

func newSession(t *testing.T, s *transport.Sealer) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	token, err := s.RegisterSession(wrapForEngine(t, s, key))
	require.NoError(t, err)
	return token
}

func TestRegisterSession(t *testing.T) {
	s, err := transport.NewSealer()
	require.NoError(t, err)

	token := newSession(t, s)
	assert.Len(t, token, 32)
	assert.True(t, s.HasSession(token))
	assert.Equal(t, 1, s.SessionCount())

	other := newSession(t, s)
	assert.NotEqual(t, token, other)

	s.RevokeSession(token)
	assert.False(t, s.HasSession(token))
	_, err = s.Seal("k1", token)
	assert.ErrorIs(t, err, transport.ErrInvalidToken)
}

func TestRegisterSessionRejectsBadKeys(t *testing.T) {
	s, err := transport.NewSealer()
	require.NoError(t, err)

	_, err = s.RegisterSession(wrapForEngine(t, s, []byte("too short")))
	assert.ErrorIs(t, err, transport.ErrFormat)

	_, err = s.RegisterSession("%%%")
	assert.ErrorIs(t, err, crypto.ErrFormat)

	_, err = s.RegisterSession(base64.StdEncoding.EncodeToString([]byte("not rsa")))
	assert.ErrorIs(t, err, transport.ErrDecrypt)
	assert.Equal(t, 0, s.SessionCount())
}

func TestOpenAsymmetric(t *testing.T) {
	s, err := transport.NewSealer()
	require.NoError(t, err)

	got, err := s.OpenAsymmetric(wrapForEngine(t, s, []byte("pw1")))
	require.NoError(t, err)
	assert.Equal(t, "pw1", got)

	other, err := transport.NewSealer()
	require.NoError(t, err)
	_, err = s.OpenAsymmetric(wrapForEngine(t, other, []byte("pw1")))
	assert.ErrorIs(t, err, transport.ErrDecrypt)
}

func TestSessionSealRoundTrip(t *testing.T) {
	s, err := transport.NewSealer()
	require.NoError(t, err)
	token := newSession(t, s)
	otherToken := newSession(t, s)

	rapid.Check(t, func(rt *rapid.T) {
		plaintext := rapid.String().Draw(rt, "plaintext")
		sealed, err := s.Seal(plaintext, token)
		require.NoError(rt, err)
		require.True(rt, strings.HasPrefix(sealed, "t1:"+token+":"))
		require.True(rt, transport.IsSealed(sealed))

		opened, err := s.Open(sealed)
		require.NoError(rt, err)
		require.Equal(rt, plaintext, opened)

		// same ciphertext presented under another session must not open
		swapped := strings.Replace(sealed, token, otherToken, 1)
		_, err = s.Open(swapped)
		require.ErrorIs(rt, err, transport.ErrAuthTagMismatch)
	})
}

func TestSessionSealTampering(t *testing.T) {
	s, err := transport.NewSealer()
	require.NoError(t, err)
	token := newSession(t, s)

	sealed, err := s.Seal("k1", token)
	require.NoError(t, err)

	idx := strings.LastIndex(sealed, ":")
	ct, err := base64.StdEncoding.DecodeString(sealed[idx+1:])
	require.NoError(t, err)
	ct[len(ct)-1] ^= 0x01
	tampered := sealed[:idx+1] + base64.StdEncoding.EncodeToString(ct)

	_, err = s.Open(tampered)
	assert.ErrorIs(t, err, transport.ErrAuthTagMismatch)

	testCases := []struct {
		name   string
		sealed string
		want   error
	}{
		{name: "unknown token", sealed: strings.Replace(sealed, token, strings.Repeat("0", 32), 1), want: transport.ErrInvalidToken},
		{name: "missing prefix", sealed: strings.TrimPrefix(sealed, "t1:"), want: crypto.ErrFormat},
		{name: "missing part", sealed: sealed[:idx], want: crypto.ErrFormat},
		{name: "bad nonce", sealed: "t1:" + token + ":zz:" + sealed[idx+1:], want: crypto.ErrFormat},
		{name: "bad base64", sealed: sealed[:idx+1] + "***", want: crypto.ErrFormat},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Open(tc.sealed)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPasswordSeal(t *testing.T) {
	sealed, err := transport.SealWithPassword("0x"+strings.Repeat("1", 64), "pw1")
	require.NoError(t, err)
	parts := strings.Split(sealed, ":")
	require.Len(t, parts, 4)
	assert.Equal(t, "p1", parts[0])
	assert.Len(t, parts[1], 32)
	assert.Len(t, parts[2], 32)

	opened, err := transport.OpenWithPassword(sealed, "pw1")
	require.NoError(t, err)
	assert.Equal(t, "0x"+strings.Repeat("1", 64), opened)

	_, err = transport.OpenWithPassword(sealed, "pw2")
	assert.ErrorIs(t, err, crypto.ErrFormat)

	_, err = transport.OpenWithPassword("p1:zz:00:AA==", "pw1")
	assert.ErrorIs(t, err, crypto.ErrFormat)
	_, err = transport.OpenWithPassword("p1:00", "pw1")
	assert.ErrorIs(t, err, crypto.ErrFormat)
}

func TestOpenAnyAndSealFor(t *testing.T) {
	s, err := transport.NewSealer()
	require.NoError(t, err)
	token := newSession(t, s)

	viaToken, err := s.SealFor("mnemonic words", token, "pw1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(viaToken, "t1:"))

	viaPassword, err := s.SealFor("mnemonic words", "", "pw1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(viaPassword, "p1:"))

	for _, sealed := range []string{viaToken, viaPassword} {
		opened, err := s.OpenAny(sealed, "pw1")
		require.NoError(t, err)
		assert.Equal(t, "mnemonic words", opened)
	}

	_, err = s.SealFor("x", "", "")
	assert.ErrorIs(t, err, transport.ErrNoSealingMode)
	_, err = s.OpenAny("plaintext private key", "pw1")
	assert.ErrorIs(t, err, transport.ErrUnsealed)
	_, err = s.OpenAny(viaPassword, "")
	assert.ErrorIs(t, err, transport.ErrNoSealingMode)
	assert.False(t, transport.IsSealed("abcd:efgh"))
}
