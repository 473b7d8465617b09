package reconcile

import (
	"crypto"
	"fmt"
	"os"

	"github.com/jmcleod/ironcert/pki"
)

type loadedAuthority struct {
	authority *pki.Authority
	// chain holds the DER of every certificate in the authority bundle,
	// issuer first.
	chain [][]byte
}

func pickSource(field, path, content string) error {
	switch {
	case path != "" && content != "":
		return fmt.Errorf("%w: only one of certificate_authority.%s_path or certificate_authority.%s_content can be specified", pki.ErrConfig, field, field)
	case path == "" && content == "":
		return fmt.Errorf("%w: one of certificate_authority.%s_path or certificate_authority.%s_content must be specified", pki.ErrConfig, field, field)
	}
	return nil
}

func readAuthoritySource(field, path, content string) ([]byte, error) {
	if path == "" {
		return []byte(content), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrAuthority, field, err)
	}
	return data, nil
}

// loadAuthority reads the authority pair. A nil request means self-signed.
func loadAuthority(req *AuthorityRequest) (*loadedAuthority, error) {
	if req == nil {
		return nil, nil
	}
	if err := pickSource("certificate", req.CertificatePath, req.CertificateContent); err != nil {
		return nil, err
	}
	if err := pickSource("private_key", req.PrivateKeyPath, req.PrivateKeyContent); err != nil {
		return nil, err
	}

	certData, err := readAuthoritySource("certificate", req.CertificatePath, req.CertificateContent)
	if err != nil {
		return nil, err
	}
	certs, err := pki.ParseCertificateBundle(certData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthority, err)
	}

	keyData, err := readAuthoritySource("private key", req.PrivateKeyPath, req.PrivateKeyContent)
	if err != nil {
		return nil, err
	}
	signer, err := pki.ParsePrivateKeyPEM(keyData, req.PrivateKeyPassphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrAuthority, err)
	}

	issuer := certs[0]
	pub, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(issuer.PublicKey) {
		return nil, fmt.Errorf("%w: private key does not match the certificate", ErrAuthority)
	}

	chain := make([][]byte, len(certs))
	for i, c := range certs {
		chain[i] = c.Raw
	}
	return &loadedAuthority{
		authority: &pki.Authority{Certificate: issuer, Key: signer},
		chain:     chain,
	}, nil
}
