package pki

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// SplitCertificates splits concatenated PEM data into one PEM document per
// CERTIFICATE block, in input order. Other block types and text between
// blocks are skipped.
func SplitCertificates(data []byte) [][]byte {
	var out [][]byte
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return out
		}
		if block.Type != pemTypeCertificate {
			continue
		}
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: block.Bytes}))
	}
}

// ParseCertificateBundle parses every CERTIFICATE block in data. The first
// certificate is the leaf of the bundle.
func ParseCertificateBundle(data []byte) ([]*x509.Certificate, error) {
	parts := SplitCertificates(data)
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no certificate found", ErrInvalidPEM)
	}
	certs := make([]*x509.Certificate, 0, len(parts))
	for i, part := range parts {
		cert, err := ParseCertificatePEM(part)
		if err != nil {
			return nil, fmt.Errorf("certificate %d: %w", i, err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}
