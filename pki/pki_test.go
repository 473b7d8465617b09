package pki_test

import (
	"bytes"
	"encoding/pem"
	"testing"
	"time"

	"github.com/jmcleod/ironcert/pki"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCertificates(t *testing.T) {
	ca := newCA(t, fixedNow, 2, 30)
	leaf, err := certManagerAt(fixedNow).Obtain(t.Context(), pki.CertificateSpec{
		SubjectKey: testKey(t, 0),
		Authority:  ca,
		Properties: pki.Properties{Name: mustName(t, "CN=leaf"), NotValidAfterDays: 10},
	})
	require.NoError(t, err)
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.Certificate.Raw})

	var bundle bytes.Buffer
	bundle.WriteString("leaf certificate\n")
	bundle.Write(leaf.PEM)
	bundle.WriteString("\n\n")
	bundle.Write(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: []byte{1, 2, 3}}))
	bundle.Write(caPEM)

	parts := pki.SplitCertificates(bundle.Bytes())
	require.Len(t, parts, 2)
	assert.Equal(t, leaf.PEM, parts[0])
	assert.Equal(t, caPEM, parts[1])

	certs, err := pki.ParseCertificateBundle(bundle.Bytes())
	require.NoError(t, err)
	require.Len(t, certs, 2)
	assert.Equal(t, leaf.Certificate.Raw, certs[0].Raw)

	assert.Empty(t, pki.SplitCertificates([]byte("nothing here")))
	_, err = pki.ParseCertificateBundle(nil)
	assert.ErrorIs(t, err, pki.ErrInvalidPEM)
}

func TestDescribeCertificate(t *testing.T) {
	ca := newCA(t, fixedNow, 2, 30, "DNS:ca.example.com", "IP:10.1.1.1")
	cert := ca.Certificate

	m := pki.DescribeCertificate(cert, fixedNow.Add(time.Hour))
	assert.Contains(t, m[pki.FieldSubject], "CN=Example Root CA")
	assert.Equal(t, m[pki.FieldSubject], m[pki.FieldIssuer])
	assert.Equal(t, "RSA 2048", m[pki.FieldKeyAlgorithm])
	assert.Equal(t, pki.StatusActive, m[pki.FieldStatus])
	assert.Equal(t, "true", m[pki.FieldIsCA])
	assert.Equal(t, "DNS:ca.example.com, IP:10.1.1.1", m[pki.FieldSubjectAltNames])
	assert.Len(t, m[pki.FieldFingerprintSHA256], 64)

	assert.Equal(t, pki.StatusExpired, pki.DescribeCertificate(cert, cert.NotAfter)[pki.FieldStatus])
	assert.Equal(t, pki.StatusNotYetValid, pki.DescribeCertificate(cert, fixedNow.Add(-time.Minute))[pki.FieldStatus])
}

func TestParseCertificatePEM_Errors(t *testing.T) {
	_, err := pki.ParseCertificatePEM([]byte("junk"))
	assert.ErrorIs(t, err, pki.ErrInvalidPEM)

	_, err = pki.ParseCertificatePEM(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{0}}))
	assert.ErrorIs(t, err, pki.ErrInvalidPEM)
}
