package vault

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/vultisig/custodian/common"
	"github.com/vultisig/custodian/internal/crypto"
)

// Envelope is the master data key wrapped under a password derived key-encryption key.
// It is persisted as "<kekSalt_hex>:<iv_hex>:<ciphertext_b64>".
type Envelope struct {
	KEKSalt    []byte
	IV         []byte
	Ciphertext []byte
}

func sealMasterKey(mdk []byte, password string) (*Envelope, error) {
	salt, err := common.RandomBytes(common.SaltSize)
	if err != nil {
		return nil, err
	}
	kek := common.DeriveKey(password, salt)
	defer common.Zero(kek)

	iv, ct, err := common.EncryptCBC(kek, mdk)
	if err != nil {
		return nil, fmt.Errorf("fail to wrap master key, err: %w", err)
	}
	return &Envelope{KEKSalt: salt, IV: iv, Ciphertext: ct}, nil
}

// ParseEnvelope parses the persisted "<kekSalt_hex>:<iv_hex>:<ciphertext_b64>" form.
func ParseEnvelope(s string) (*Envelope, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: master key envelope must have 3 parts", crypto.ErrFormat)
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil || len(salt) == 0 {
		return nil, fmt.Errorf("%w: bad kek salt", crypto.ErrFormat)
	}
	iv, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad iv", crypto.ErrFormat)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext", crypto.ErrFormat)
	}
	return &Envelope{KEKSalt: salt, IV: iv, Ciphertext: ct}, nil
}

// open unwraps the master data key. The caller owns and must wipe the result.
func (e *Envelope) open(password string) ([]byte, error) {
	kek := common.DeriveKey(password, e.KEKSalt)
	defer common.Zero(kek)

	mdk, err := common.DecryptCBC(kek, e.IV, e.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: fail to unwrap master key: %v", crypto.ErrFormat, err)
	}
	if len(mdk) != common.KeySize {
		common.Zero(mdk)
		return nil, fmt.Errorf("%w: master key must be %d bytes", crypto.ErrFormat, common.KeySize)
	}
	return mdk, nil
}

func (e *Envelope) String() string {
	return hex.EncodeToString(e.KEKSalt) + ":" + hex.EncodeToString(e.IV) + ":" + base64.StdEncoding.EncodeToString(e.Ciphertext)
}
