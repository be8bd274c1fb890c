package common

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the size of every symmetric key used by the engine (AES-256).
	KeySize = 32
	// SaltSize is the size of PBKDF2 salts.
	SaltSize = 16
	// PBKDF2Iterations is the work factor for every password derived key.
	PBKDF2Iterations = 100_000
	// GCMNonceSize is the nonce size used for authenticated transport sealing.
	GCMNonceSize = 12
)

var (
	ErrInvalidKeySize = errors.New("key must be 32 bytes")
	ErrInvalidPadding = errors.New("invalid pkcs7 padding")
	ErrBlockSize      = errors.New("ciphertext is not a multiple of the block size")
	ErrShortInput     = errors.New("ciphertext too short")
)

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	out := make([]byte, len(data), len(data)+padding)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	length := len(data)
	if length == 0 || length%blockSize != 0 {
		return nil, ErrInvalidPadding
	}
	padding := int(data[length-1])
	if padding == 0 || padding > blockSize || padding > length {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[length-padding:] {
		if int(b) != padding {
			return nil, ErrInvalidPadding
		}
	}
	return data[:length-padding], nil
}

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, fmt.Errorf("fail to read random bytes, err: %w", err)
	}
	return buf, nil
}

// DeriveKey stretches a password into a 32-byte key with PBKDF2-HMAC-SHA256.
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, KeySize, sha256.New)
}

// EncryptCBC encrypts src with AES-256-CBC and PKCS#7 padding under a fresh random IV.
func EncryptCBC(key, src []byte) (iv []byte, ciphertext []byte, err error) {
	if len(key) != KeySize {
		return nil, nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("fail to create cipher, err: %w", err)
	}
	iv, err = RandomBytes(aes.BlockSize)
	if err != nil {
		return nil, nil, err
	}
	padded := pkcs7Pad(src, block.BlockSize())
	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	Zero(padded)
	return iv, ciphertext, nil
}

// DecryptCBC reverses EncryptCBC. Padding is validated strictly.
func DecryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("iv must be %d bytes", aes.BlockSize)
	}
	if len(ciphertext) == 0 {
		return nil, ErrShortInput
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrBlockSize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("fail to create cipher, err: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		Zero(plaintext)
		return nil, err
	}
	return unpadded, nil
}

// EncryptGCM seals src with AES-256-GCM. The returned ciphertext carries the tag.
func EncryptGCM(key, src []byte) (nonce []byte, ciphertext []byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce, err = RandomBytes(GCMNonceSize)
	if err != nil {
		return nil, nil, err
	}
	return nonce, aead.Seal(nil, nonce, src, nil), nil
}

// DecryptGCM opens a ciphertext produced by EncryptGCM.
func DecryptGCM(key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != GCMNonceSize {
		return nil, fmt.Errorf("nonce must be %d bytes", GCMNonceSize)
	}
	if len(ciphertext) < aead.Overhead() {
		return nil, ErrShortInput
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("fail to create cipher, err: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, GCMNonceSize)
	if err != nil {
		return nil, fmt.Errorf("fail to create gcm, err: %w", err)
	}
	return aead, nil
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
