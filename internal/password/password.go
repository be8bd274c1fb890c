package password

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/vultisig/custodian/common"
)

var ErrMalformedVerifier = errors.New("malformed password verifier")

// Verifier proves knowledge of the master password. It is never used as a key.
type Verifier struct {
	Salt []byte
	Hash []byte
}

// NewVerifier hashes password under a fresh random salt.
func NewVerifier(password string) (*Verifier, error) {
	salt, err := common.RandomBytes(common.SaltSize)
	if err != nil {
		return nil, fmt.Errorf("fail to generate salt, err: %w", err)
	}
	return &Verifier{
		Salt: salt,
		Hash: common.DeriveKey(password, salt),
	}, nil
}

// ParseVerifier reads the "<salt_hex>:<hash_hex>" form.
func ParseVerifier(s string) (*Verifier, error) {
	saltHex, hashHex, ok := strings.Cut(s, ":")
	if !ok || strings.Contains(hashHex, ":") {
		return nil, ErrMalformedVerifier
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil || len(salt) == 0 {
		return nil, ErrMalformedVerifier
	}
	hash, err := hex.DecodeString(hashHex)
	if err != nil || len(hash) != common.KeySize {
		return nil, ErrMalformedVerifier
	}
	return &Verifier{Salt: salt, Hash: hash}, nil
}

// Check recomputes the hash for password and compares in constant time.
func (v *Verifier) Check(password string) bool {
	candidate := common.DeriveKey(password, v.Salt)
	defer common.Zero(candidate)
	return subtle.ConstantTimeCompare(candidate, v.Hash) == 1
}

func (v *Verifier) String() string {
	return hex.EncodeToString(v.Salt) + ":" + hex.EncodeToString(v.Hash)
}

// CheckPassword verifies password against a stored verifier string.
func CheckPassword(password string, stored string) (bool, error) {
	v, err := ParseVerifier(stored)
	if err != nil {
		return false, err
	}
	return v.Check(password), nil
}
