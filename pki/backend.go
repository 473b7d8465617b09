package pki

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"math/big"
)

// Backend abstracts the cryptographic primitives the managers consume so
// that callers decide which implementation generates keys, draws serial
// numbers and signs certificates. A Backend is supplied at construction
// time; there is no process-wide default instance shared between managers.
//
// The managers never implement primitives themselves: every RSA key,
// serial number and signature comes from the Backend.
type Backend interface {
	// GenerateKey creates a new RSA key pair with the given modulus size and
	// public exponent. Implementations that cannot honour the exponent
	// return ErrUnsupportedExponent.
	GenerateKey(bits, exponent int) (*rsa.PrivateKey, error)

	// SerialNumber returns a fresh positive random certificate serial.
	SerialNumber() (*big.Int, error)

	// CreateCertificate signs template with signer, issuing it from parent
	// for the subject public key pub, and returns the DER encoding.
	CreateCertificate(template, parent *x509.Certificate, pub crypto.PublicKey, signer crypto.Signer) ([]byte, error)
}
