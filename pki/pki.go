// Package pki reconciles RSA private keys and X.509 certificates against a
// declarative description. KeyManager and CertificateManager compute what
// the material should look like, compare it with what already exists, and
// regenerate only when a comparison fails. Each result carries the reason
// for the first failed check.
//
// Extensions are modelled as typed values (AuthorityKeyIdentifier,
// SubjectKeyIdentifier, KeyUsage, ExtendedKeyUsage, BasicConstraints,
// GeneralNames) with structural equality, and are written with exact
// control over criticality.
package pki

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Well-known field names for certificate summaries
// ---------------------------------------------------------------------------

const (
	FieldSubject           = "subject"
	FieldIssuer            = "issuer"
	FieldSerialNumber      = "serial_number"
	FieldNotBefore         = "not_before"
	FieldNotAfter          = "not_after"
	FieldFingerprintSHA256 = "fingerprint_sha256"
	FieldKeyAlgorithm      = "key_algorithm"
	FieldStatus            = "status"
	FieldIsCA              = "is_ca"
	FieldSubjectAltNames   = "subject_alt_names"
)

// Certificate status values.
const (
	StatusActive      = "active"
	StatusExpired     = "expired"
	StatusNotYetValid = "not_yet_valid"
)

// DescribeCertificate returns a map of well-known field values extracted
// from cert, evaluated at now.
func DescribeCertificate(cert *x509.Certificate, now time.Time) map[string]string {
	fingerprint := sha256.Sum256(cert.Raw)

	m := map[string]string{
		FieldSubject:           cert.Subject.String(),
		FieldIssuer:            cert.Issuer.String(),
		FieldSerialNumber:      hex.EncodeToString(cert.SerialNumber.Bytes()),
		FieldNotBefore:         cert.NotBefore.UTC().Format(time.RFC3339),
		FieldNotAfter:          cert.NotAfter.UTC().Format(time.RFC3339),
		FieldFingerprintSHA256: hex.EncodeToString(fingerprint[:]),
		FieldKeyAlgorithm:      keyAlgorithmString(cert),
		FieldStatus:            certStatus(cert, now),
	}
	if ext := findExtension(cert.Extensions, OIDBasicConstraints); ext != nil {
		if bc, err := ParseBasicConstraints(ext.Value); err == nil {
			m[FieldIsCA] = fmt.Sprint(bc.CA)
		}
	}
	if ext := findExtension(cert.Extensions, OIDSubjectAltName); ext != nil {
		if names, err := ParseGeneralNamesDER(ext.Value); err == nil {
			m[FieldSubjectAltNames] = strings.Join(names.Strings(), ", ")
		}
	}
	return m
}

// certStatus reports the certificate's validity at now using the same
// boundaries as CertificateManager: expiry at exactly now counts as expired.
func certStatus(cert *x509.Certificate, now time.Time) string {
	switch {
	case !cert.NotAfter.After(now):
		return StatusExpired
	case cert.NotBefore.After(now):
		return StatusNotYetValid
	}
	return StatusActive
}

// keyAlgorithmString returns a human-readable key algorithm description.
func keyAlgorithmString(cert *x509.Certificate) string {
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		return fmt.Sprintf("RSA %d", pub.N.BitLen())
	case *ecdsa.PublicKey:
		return fmt.Sprintf("ECDSA %s", pub.Curve.Params().Name)
	default:
		return cert.PublicKeyAlgorithm.String()
	}
}
