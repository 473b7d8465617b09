package util

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveSubkey expands secret into an AES-256 key bound to salt and info
// with HKDF-SHA256.
func DeriveSubkey(secret, salt []byte, info string) ([]byte, error) {
	key := make([]byte, AESKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}
