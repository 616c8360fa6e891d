// Package crypto implements PIN hashing and recovery-phrase handling.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for on-device hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashPin returns the Argon2id hash of pin using the provided salt.
func HashPin(pin, salt []byte) []byte {
	return argon2.IDKey(pin, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyPin verifies pin against the expected Argon2id hash and salt in
// constant time.
func VerifyPin(pin, salt, expected []byte) bool {
	got := HashPin(pin, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}
