package crypto

import (
	"crypto/aes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vultisig/custodian/common"
)

// ErrFormat is returned for any field that is not a well formed "<iv_hex>:<ciphertext_b64>"
// value, or that does not decrypt under the given key.
var ErrFormat = errors.New("malformed encrypted field")

// ErrInvalidKey is returned when the data key is not 32 bytes.
var ErrInvalidKey = errors.New("data key must be 32 bytes")

// EncryptField encrypts a wallet secret under the master data key.
func EncryptField(plaintext string, key []byte) (string, error) {
	return EncryptBytes([]byte(plaintext), key)
}

// DecryptField decrypts a value produced by EncryptField. The result must be valid UTF-8.
func DecryptField(field string, key []byte) (string, error) {
	plaintext, err := DecryptBytes(field, key)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plaintext) {
		common.Zero(plaintext)
		return "", fmt.Errorf("%w: plaintext is not valid utf-8", ErrFormat)
	}
	s := string(plaintext)
	common.Zero(plaintext)
	return s, nil
}

// EncryptBytes is the binary form of EncryptField.
func EncryptBytes(plaintext []byte, key []byte) (string, error) {
	if len(key) != common.KeySize {
		return "", ErrInvalidKey
	}
	iv, ct, err := common.EncryptCBC(key, plaintext)
	if err != nil {
		return "", fmt.Errorf("fail to encrypt field, err: %w", err)
	}
	return hex.EncodeToString(iv) + ":" + base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptBytes is the binary form of DecryptField.
func DecryptBytes(field string, key []byte) ([]byte, error) {
	if len(key) != common.KeySize {
		return nil, ErrInvalidKey
	}
	iv, ct, err := splitField(field)
	if err != nil {
		return nil, err
	}
	plaintext, err := common.DecryptCBC(key, iv, ct)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return plaintext, nil
}

// LooksEncrypted reports whether field has the shape of an encrypted value. It does not decrypt.
func LooksEncrypted(field string) bool {
	_, _, err := splitField(field)
	return err == nil
}

func splitField(field string) ([]byte, []byte, error) {
	parts := strings.Split(field, ":")
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("%w: expected 2 parts, got %d", ErrFormat, len(parts))
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: iv is not hex", ErrFormat)
	}
	if len(iv) != aes.BlockSize {
		return nil, nil, fmt.Errorf("%w: iv must be %d bytes", ErrFormat, aes.BlockSize)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: ciphertext is not base64", ErrFormat)
	}
	return iv, ct, nil
}
