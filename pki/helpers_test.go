package pki_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmcleod/ironcert/pki"
	"github.com/stretchr/testify/require"
)

// fixedNow is the reference clock for certificate tests.
var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	keysOnce sync.Once
	testKeys [4]*rsa.PrivateKey
)

// testKey returns one of a small set of 2048-bit RSA keys generated once
// per test binary.
func testKey(t *testing.T, i int) *rsa.PrivateKey {
	t.Helper()
	keysOnce.Do(func() {
		for n := range testKeys {
			k, err := rsa.GenerateKey(rand.Reader, pki.DefaultKeyBits)
			if err != nil {
				panic(err)
			}
			testKeys[n] = k
		}
	})
	return testKeys[i]
}

// fixtureBackend hands out the pre-generated keys for 2048-bit requests so
// tests do not pay for RSA generation on every call.
type fixtureBackend struct {
	*pki.SoftwareBackend
	t    *testing.T
	next atomic.Int32
}

func newFixtureBackend(t *testing.T) *fixtureBackend {
	return &fixtureBackend{SoftwareBackend: pki.NewSoftwareBackend(), t: t}
}

func (b *fixtureBackend) GenerateKey(bits, exponent int) (*rsa.PrivateKey, error) {
	if bits != pki.DefaultKeyBits || exponent != pki.DefaultPublicExponent {
		return b.SoftwareBackend.GenerateKey(bits, exponent)
	}
	n := int(b.next.Add(1)-1) % len(testKeys)
	return testKey(b.t, n), nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newKeyManager(t *testing.T) *pki.KeyManager {
	return pki.NewKeyManager(pki.WithBackend(newFixtureBackend(t)), pki.WithLogger(quietLogger()))
}

func certManagerAt(now time.Time) *pki.CertificateManager {
	return pki.NewCertificateManager(
		pki.WithClock(func() time.Time { return now }),
		pki.WithLogger(quietLogger()),
	)
}

func ptr[T any](v T) *T { return &v }

func mustName(t *testing.T, s string) pki.Name {
	t.Helper()
	n, err := pki.ParseDistinguishedName(s)
	require.NoError(t, err)
	return n
}

// newCA builds a self-signed CA certificate for key i valid for days from
// now.
func newCA(t *testing.T, now time.Time, keyIndex, days int, san ...string) *pki.Authority {
	t.Helper()
	key := testKey(t, keyIndex)
	res, err := certManagerAt(now).Obtain(t.Context(), pki.CertificateSpec{
		SubjectKey: key,
		Properties: pki.Properties{
			Name:                     mustName(t, "C=US,O=Example Inc,CN=Example Root CA"),
			SetSubjectKeyIdentifier:  true,
			KeyUsage:                 &pki.KeyUsage{DigitalSignature: true, KeyCertSign: true, CRLSign: true},
			KeyUsageCritical:         ptr(true),
			BasicConstraints:         &pki.BasicConstraints{CA: true},
			BasicConstraintsCritical: ptr(true),
			SubjectAlternativeName:   san,
			NotValidAfterDays:        days,
		},
	})
	require.NoError(t, err)
	require.True(t, res.Generated)
	return &pki.Authority{Certificate: res.Certificate, Key: key}
}

func extension(t *testing.T, cert *x509.Certificate, id asn1.ObjectIdentifier) []byte {
	t.Helper()
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(id) {
			return ext.Value
		}
	}
	t.Fatalf("certificate has no extension %v", id)
	return nil
}
