// Package transport seals secrets that cross the boundary between the engine and the UI.
//
// The engine holds an ephemeral RSA-2048 keypair. The UI wraps a fresh 32-byte session key
// with RSA-OAEP and registers it; the engine answers with a random token. Secrets are then
// sealed as "t1:<token>:<nonce_hex>:<b64(ct||tag)>" with AES-256-GCM. When no session exists
// a password keyed fallback produces "p1:<salt_hex>:<iv_hex>:<b64>".
package transport

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/vultisig/custodian/common"
	"github.com/vultisig/custodian/internal/crypto"
)

const (
	SessionPrefix  = "t1:"
	PasswordPrefix = "p1:"

	rsaKeyBits = 2048
	tokenBytes = 16
)

var (
	// ErrFormat wraps crypto.ErrFormat so both match errors.Is(err, crypto.ErrFormat).
	ErrFormat          = fmt.Errorf("sealed value %w", crypto.ErrFormat)
	ErrInvalidToken    = errors.New("invalid transport token")
	ErrAuthTagMismatch = errors.New("transport auth tag mismatch")
	ErrDecrypt         = errors.New("fail to decrypt asymmetric payload")
	ErrUnsealed        = errors.New("secrets must cross the boundary sealed")
	ErrNoSealingMode   = errors.New("either a transport token or a password is required")
)

// Sealer owns the bootstrap keypair and the registered session keys.
type Sealer struct {
	privateKey *rsa.PrivateKey

	mu       sync.RWMutex
	sessions map[string][]byte
}

func NewSealer() (*Sealer, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("fail to generate rsa key, err: %w", err)
	}
	return &Sealer{
		privateKey: key,
		sessions:   make(map[string][]byte),
	}, nil
}

// PublicKeyPEM returns the bootstrap public key as a PKIX "PUBLIC KEY" PEM block.
func (s *Sealer) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&s.privateKey.PublicKey)
	if err != nil {
		return "", fmt.Errorf("fail to marshal public key, err: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// OpenAsymmetric decrypts a base64 RSA-OAEP(SHA-256) payload addressed to the bootstrap key.
func (s *Sealer) OpenAsymmetric(payloadB64 string) (string, error) {
	plaintext, err := s.openAsymmetric(payloadB64)
	if err != nil {
		return "", err
	}
	defer common.Zero(plaintext)
	return string(plaintext), nil
}

func (s *Sealer) openAsymmetric(payloadB64 string) ([]byte, error) {
	payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payloadB64))
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not base64", ErrFormat)
	}
	plaintext, err := rsa.DecryptOAEP(sha256.New(), nil, s.privateKey, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

// RegisterSession unwraps a session key and returns the token that names it.
func (s *Sealer) RegisterSession(encryptedKeyB64 string) (string, error) {
	key, err := s.openAsymmetric(encryptedKeyB64)
	if err != nil {
		return "", err
	}
	if len(key) != common.KeySize {
		common.Zero(key)
		return "", fmt.Errorf("%w: session key must be %d bytes", ErrFormat, common.KeySize)
	}
	raw, err := common.RandomBytes(tokenBytes)
	if err != nil {
		common.Zero(key)
		return "", err
	}
	token := hex.EncodeToString(raw)

	s.mu.Lock()
	s.sessions[token] = key
	s.mu.Unlock()
	return token, nil
}

// RevokeSession forgets a token and wipes its key.
func (s *Sealer) RevokeSession(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := s.sessions[token]; ok {
		common.Zero(key)
		delete(s.sessions, token)
	}
}

func (s *Sealer) HasSession(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[token]
	return ok
}

func (s *Sealer) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Sealer) sessionKey(token string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.sessions[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	return key, nil
}

// Seal encrypts plaintext for the session named by token.
func (s *Sealer) Seal(plaintext, token string) (string, error) {
	key, err := s.sessionKey(token)
	if err != nil {
		return "", err
	}
	nonce, ct, err := common.EncryptGCM(key, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("fail to seal, err: %w", err)
	}
	return SessionPrefix + token + ":" + hex.EncodeToString(nonce) + ":" + base64.StdEncoding.EncodeToString(ct), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	token, nonce, ct, err := parseSessionSealed(sealed)
	if err != nil {
		return "", err
	}
	key, err := s.sessionKey(token)
	if err != nil {
		return "", err
	}
	plaintext, err := common.DecryptGCM(key, nonce, ct)
	if err != nil {
		return "", ErrAuthTagMismatch
	}
	defer common.Zero(plaintext)
	return string(plaintext), nil
}

func parseSessionSealed(sealed string) (token string, nonce, ct []byte, err error) {
	body, ok := strings.CutPrefix(strings.TrimSpace(sealed), SessionPrefix)
	if !ok {
		return "", nil, nil, fmt.Errorf("%w: missing %q prefix", ErrFormat, SessionPrefix)
	}
	parts := strings.Split(body, ":")
	if len(parts) != 3 {
		return "", nil, nil, fmt.Errorf("%w: expected 3 parts after prefix, got %d", ErrFormat, len(parts))
	}
	nonce, err = hex.DecodeString(parts[1])
	if err != nil || len(nonce) != common.GCMNonceSize {
		return "", nil, nil, fmt.Errorf("%w: bad nonce", ErrFormat)
	}
	ct, err = base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: ciphertext is not base64", ErrFormat)
	}
	return parts[0], nonce, ct, nil
}

// SealWithPassword seals plaintext under a one-off key derived from password.
func SealWithPassword(plaintext, password string) (string, error) {
	salt, err := common.RandomBytes(common.SaltSize)
	if err != nil {
		return "", err
	}
	key := common.DeriveKey(password, salt)
	defer common.Zero(key)

	iv, ct, err := common.EncryptCBC(key, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("fail to seal, err: %w", err)
	}
	return PasswordPrefix + hex.EncodeToString(salt) + ":" + hex.EncodeToString(iv) + ":" + base64.StdEncoding.EncodeToString(ct), nil
}

// OpenWithPassword reverses SealWithPassword. A wrong password surfaces as ErrFormat.
func OpenWithPassword(sealed, password string) (string, error) {
	body, ok := strings.CutPrefix(strings.TrimSpace(sealed), PasswordPrefix)
	if !ok {
		return "", fmt.Errorf("%w: missing %q prefix", ErrFormat, PasswordPrefix)
	}
	parts := strings.Split(body, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected 3 parts after prefix, got %d", ErrFormat, len(parts))
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil || len(salt) == 0 {
		return "", fmt.Errorf("%w: bad salt", ErrFormat)
	}
	iv, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: bad iv", ErrFormat)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext is not base64", ErrFormat)
	}

	key := common.DeriveKey(password, salt)
	defer common.Zero(key)
	plaintext, err := common.DecryptCBC(key, iv, ct)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFormat, err)
	}
	defer common.Zero(plaintext)
	if !utf8.Valid(plaintext) {
		return "", fmt.Errorf("%w: wrong password or corrupted value", ErrFormat)
	}
	return string(plaintext), nil
}

// IsSealed reports whether s carries a transport prefix.
func IsSealed(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, SessionPrefix) || strings.HasPrefix(s, PasswordPrefix)
}

// OpenAny opens a value sealed in either mode. Anything else is rejected with ErrUnsealed.
func (s *Sealer) OpenAny(sealed, password string) (string, error) {
	trimmed := strings.TrimSpace(sealed)
	switch {
	case strings.HasPrefix(trimmed, SessionPrefix):
		return s.Open(trimmed)
	case strings.HasPrefix(trimmed, PasswordPrefix):
		if password == "" {
			return "", ErrNoSealingMode
		}
		return OpenWithPassword(trimmed, password)
	default:
		return "", ErrUnsealed
	}
}

// SealFor seals plaintext for the caller, preferring the session token over the password.
func (s *Sealer) SealFor(plaintext, token, password string) (string, error) {
	switch {
	case token != "":
		return s.Seal(plaintext, token)
	case password != "":
		return SealWithPassword(plaintext, password)
	default:
		return "", ErrNoSealingMode
	}
}
