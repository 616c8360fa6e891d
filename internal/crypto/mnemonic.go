package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// GenerateMnemonic draws 256 bits from crypto/rand and maps them to a
// checksummed 24-word BIP39 phrase.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic verifies wordlist membership and the embedded
// checksum word.
func ValidateMnemonic(phrase string) bool {
	return bip39.IsMnemonicValid(phrase)
}

// SeedFromMnemonic derives the 64-byte wallet seed from a validated
// phrase. The passphrase is empty; the caller validates first.
func SeedFromMnemonic(phrase string) []byte {
	return bip39.NewSeed(phrase, "")
}

// SeedFingerprint returns a stable hex identifier for a seed derived
// from its BIP32 master public key. It verifies a stored seed without
// retaining anything reversible.
func SeedFingerprint(seed []byte) (string, error) {
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return "", fmt.Errorf("master key: %w", err)
	}
	sum := sha256.Sum256(master.PublicKey().Key)
	return hex.EncodeToString(sum[:8]), nil
}
