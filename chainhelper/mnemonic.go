package chainhelper

import (
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// GenerateMnemonic returns a random English BIP-39 phrase of 12 or 24 words.
func GenerateMnemonic(wordCount int) (string, error) {
	var bits int
	switch wordCount {
	case 12:
		bits = 128
	case 24:
		bits = 256
	default:
		return "", fmt.Errorf("%w: %d", ErrUnsupportedWordCount, wordCount)
	}
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", fmt.Errorf("fail to generate entropy, err: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("fail to generate mnemonic, err: %w", err)
	}
	return mnemonic, nil
}

// NormalizeMnemonic lower-cases a phrase and collapses whitespace.
func NormalizeMnemonic(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}

// mnemonicSeed validates the checksum and returns the BIP-39 seed with an empty passphrase.
func mnemonicSeed(phrase string) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(NormalizeMnemonic(phrase), "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	return seed, nil
}
