package util

import (
	"crypto/rand"
	"fmt"
)

// SaltSize is the length of KDF salts.
const SaltSize = 16

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("random byte count must be positive, got %d", n)
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}

func NewSalt() ([]byte, error) {
	return RandomBytes(SaltSize)
}
