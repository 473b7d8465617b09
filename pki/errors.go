package pki

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrConfig is returned for caller mistakes: conflicting sources, missing
	// required properties, a *Critical flag without its base property, a
	// validity window the authority cannot cover. It is never retried.
	ErrConfig = errors.New("invalid configuration")

	// ErrInvalidPEM is returned when PEM data cannot be decoded or parsed.
	ErrInvalidPEM = errors.New("invalid PEM data")

	// ErrUnsupportedKey is returned when a signer's key type cannot produce a
	// SHA-256 certificate signature.
	ErrUnsupportedKey = errors.New("unsupported key type")

	// ErrUnsupportedExponent is returned by a Backend that cannot generate
	// RSA keys with the requested public exponent. It wraps ErrConfig.
	ErrUnsupportedExponent = fmt.Errorf("%w: unsupported RSA public exponent", ErrConfig)
)

// configErrorf formats a message and wraps it with ErrConfig.
func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
