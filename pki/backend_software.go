package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"io"
	"math/big"
)

// ---------------------------------------------------------------------------
// SoftwareBackend: default implementation on top of the Go crypto packages
// ---------------------------------------------------------------------------

// serialBits is the size of generated serial numbers. 128 random bits keep
// collisions out of reach without tracking issued serials, and stay well
// inside the 20-octet limit of RFC 5280.
const serialBits = 128

// SoftwareBackend generates keys and signs certificates in process using
// crypto/rsa and crypto/x509.
type SoftwareBackend struct {
	rand io.Reader // defaults to crypto/rand.Reader
}

// Compile-time interface check.
var _ Backend = (*SoftwareBackend)(nil)

// NewSoftwareBackend returns a SoftwareBackend reading from crypto/rand.
func NewSoftwareBackend() *SoftwareBackend {
	return &SoftwareBackend{rand: rand.Reader}
}

// GenerateKey creates an RSA key. crypto/rsa always uses the F4 exponent,
// so any other exponent is rejected.
func (b *SoftwareBackend) GenerateKey(bits, exponent int) (*rsa.PrivateKey, error) {
	if exponent != DefaultPublicExponent {
		return nil, fmt.Errorf("%w: %d (only %d is supported)", ErrUnsupportedExponent, exponent, DefaultPublicExponent)
	}
	priv, err := rsa.GenerateKey(b.rand, bits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA-%d key: %w", bits, err)
	}
	return priv, nil
}

// SerialNumber returns a random 128-bit serial, never zero.
func (b *SoftwareBackend) SerialNumber() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), serialBits)
	serial, err := rand.Int(b.rand, limit)
	if err != nil {
		return nil, fmt.Errorf("generating random serial: %w", err)
	}
	return serial.Add(serial, big.NewInt(1)), nil
}

// CreateCertificate delegates to x509.CreateCertificate.
func (b *SoftwareBackend) CreateCertificate(template, parent *x509.Certificate, pub crypto.PublicKey, signer crypto.Signer) ([]byte, error) {
	return x509.CreateCertificate(b.rand, template, parent, pub, signer)
}
