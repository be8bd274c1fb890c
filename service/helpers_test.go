package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/custodian/common"
	"github.com/vultisig/custodian/internal/securemem"
	"github.com/vultisig/custodian/internal/transport"
	"github.com/vultisig/custodian/internal/vault"
	"github.com/vultisig/custodian/storage/memory"
)

const (
	testPassword   = "pw1"
	testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAddress    = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	testMnemonic   = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testMnemonicA0 = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
)

type testEngine struct {
	store   *memory.Backend
	vault   *vault.Vault
	sealer  *transport.Sealer
	wallets *WalletService
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// newTestEngine returns an engine whose vault is initialized with testPassword and unlocked.
func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	store := memory.NewBackend()
	key, err := securemem.NewSessionKey()
	require.NoError(t, err)
	v := vault.New(store, key, quietLogger())
	t.Cleanup(v.Close)
	require.NoError(t, v.Initialize(context.Background(), testPassword))

	sealer, err := transport.NewSealer()
	require.NoError(t, err)
	return &testEngine{
		store:   store,
		vault:   v,
		sealer:  sealer,
		wallets: NewWalletService(v, sealer, store, quietLogger()),
	}
}

func oaepWrap(t *testing.T, sealer *transport.Sealer, payload []byte) string {
	t.Helper()
	pemStr, err := sealer.PublicKeyPEM()
	require.NoError(t, err)
	block, _ := pem.Decode([]byte(pemStr))
	require.NotNil(t, block)
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(t, err)
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub.(*rsa.PublicKey), payload, nil)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(ct)
}

// registerSession plays the UI side of the transport bootstrap.
func registerSession(t *testing.T, sealer *transport.Sealer) string {
	t.Helper()
	key, err := common.RandomBytes(common.KeySize)
	require.NoError(t, err)
	token, err := sealer.RegisterSession(oaepWrap(t, sealer, key))
	require.NoError(t, err)
	return token
}

func sealPw(t *testing.T, plaintext string) string {
	t.Helper()
	sealed, err := transport.SealWithPassword(plaintext, testPassword)
	require.NoError(t, err)
	return sealed
}
