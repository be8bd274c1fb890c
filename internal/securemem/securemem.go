// Package securemem keeps secrets encrypted while they are resident in process memory.
//
// A SessionKey is generated once per process and lives in a memguard enclave. A Cell holds a
// secret encrypted under that key together with a SHA-256 digest of the plaintext; the
// plaintext only exists inside the callback passed to Use.
package securemem

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/vultisig/custodian/common"
)

const redacted = "SecretCell(***REDACTED***)"

var (
	ErrIntegrity      = errors.New("secret cell integrity check failed")
	ErrKeyUnavailable = errors.New("session key unavailable")
	ErrDestroyed      = errors.New("secret cell destroyed")
)

// SessionKey is the process-lifetime key under which cells are encrypted. It is never persisted.
type SessionKey struct {
	// mu is held shared while the key is open so Destroy waits for in-flight users.
	mu      sync.RWMutex
	enclave *memguard.Enclave
}

func NewSessionKey() (*SessionKey, error) {
	enclave := memguard.NewEnclaveRandom(common.KeySize)
	if enclave == nil {
		return nil, ErrKeyUnavailable
	}
	return &SessionKey{enclave: enclave}, nil
}

func (k *SessionKey) withKey(fn func(key []byte) error) error {
	if k == nil {
		return ErrKeyUnavailable
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.enclave == nil {
		return ErrKeyUnavailable
	}
	buf, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// Destroy drops the enclave. Cells sealed under this key can no longer be opened.
// It must not be called from inside a Use callback.
func (k *SessionKey) Destroy() {
	if k == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.enclave = nil
}

// Seal encrypts plaintext into a new Cell and wipes the caller's buffer.
func (k *SessionKey) Seal(plaintext []byte) (*Cell, error) {
	defer memguard.WipeBytes(plaintext)

	digest := sha256.Sum256(plaintext)
	cell := &Cell{key: k, hash: digest[:]}
	err := k.withKey(func(key []byte) error {
		iv, ct, err := common.EncryptCBC(key, plaintext)
		if err != nil {
			return err
		}
		cell.iv, cell.ciphertext = iv, ct
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fail to seal secret cell, err: %w", err)
	}
	return cell, nil
}

// Cell is an in-memory encrypted secret. Its printed and serialized forms never reveal content.
type Cell struct {
	// mu is held shared for the duration of Use so Destroy waits for in-flight readers.
	mu sync.RWMutex

	key        *SessionKey
	ciphertext []byte
	iv         []byte
	hash       []byte
}

// Use decrypts the secret into a scratch buffer, verifies its digest and hands it to fn.
// The scratch buffer is wiped when fn returns or panics; fn must not retain it.
func (c *Cell) Use(fn func(secret []byte) error) error {
	if c == nil {
		return ErrDestroyed
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ciphertext == nil {
		return ErrDestroyed
	}
	return c.key.withKey(func(key []byte) error {
		scratch, err := common.DecryptCBC(key, c.iv, c.ciphertext)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIntegrity, err)
		}
		defer memguard.WipeBytes(scratch)

		digest := sha256.Sum256(scratch)
		if subtle.ConstantTimeCompare(digest[:], c.hash) != 1 {
			return ErrIntegrity
		}
		return fn(scratch)
	})
}

// UseValue is Use for callbacks that compute a value from the secret.
func UseValue[R any](c *Cell, fn func(secret []byte) R) (R, error) {
	var out R
	err := c.Use(func(secret []byte) error {
		out = fn(secret)
		return nil
	})
	return out, err
}

// Destroy wipes the cell. Further Use calls fail with ErrDestroyed.
// It must not be called from inside a Use callback on the same cell.
func (c *Cell) Destroy() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	memguard.WipeBytes(c.ciphertext)
	memguard.WipeBytes(c.iv)
	memguard.WipeBytes(c.hash)
	c.ciphertext, c.iv, c.hash = nil, nil, nil
}

func (c *Cell) String() string   { return redacted }
func (c *Cell) GoString() string { return redacted }

func (c *Cell) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}
