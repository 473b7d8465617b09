package cmd

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironcert/internal/util"
	"github.com/jmcleod/ironcert/pki"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	keysOnce sync.Once
	testKeys [3]*rsa.PrivateKey
)

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

func certManager() *pki.CertificateManager {
	return pki.NewCertificateManager(
		pki.WithClock(func() time.Time { return testNow }),
		pki.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func testCA(t *testing.T, keyIndex int, cn string) *pki.Authority {
	t.Helper()
	name, err := pki.ParseDistinguishedName("CN=" + cn)
	require.NoError(t, err)
	res, err := certManager().Obtain(t.Context(), pki.CertificateSpec{
		SubjectKey: testKey(t, keyIndex),
		Properties: pki.Properties{
			Name:                    name,
			SetSubjectKeyIdentifier: true,
			KeyUsage:                &pki.KeyUsage{KeyCertSign: true, CRLSign: true},
			BasicConstraints:        &pki.BasicConstraints{CA: true},
			NotValidAfterDays:       365,
		},
	})
	require.NoError(t, err)
	return &pki.Authority{Certificate: res.Certificate, Key: testKey(t, keyIndex)}
}

func testLeaf(t *testing.T, ca *pki.Authority, keyIndex, days int) *pki.CertificateResult {
	t.Helper()
	name, err := pki.ParseDistinguishedName("CN=leaf.example.com")
	require.NoError(t, err)
	res, err := certManager().Obtain(t.Context(), pki.CertificateSpec{
		SubjectKey: testKey(t, keyIndex),
		Authority:  ca,
		Properties: pki.Properties{
			Name:                      name,
			SetAuthorityKeyIdentifier: true,
			SubjectAlternativeName:    []string{"DNS:leaf.example.com"},
			NotValidAfterDays:         days,
		},
	})
	require.NoError(t, err)
	return res
}

// resetFlags restores every package-level flag variable so commands run
// through rootCmd do not see values from an earlier test.
func resetFlags() {
	logLevel = "warn"
	versionShort = false

	applyPassphraseEnv = ""
	applyCAPassphraseEnv = ""
	applyArchivePath = ""
	applyArchivePassphraseEnv = defaultArchivePassphraseEnv
	applyNamespace = ""
	applyKDFProfile = util.KDFProfileModerate
	applyRedact = false
	applyMetricsFile = ""

	archiveDB = "ironcert.db"
	archivePassphraseEnv = defaultArchivePassphraseEnv
	archiveShowRun = ""
	archiveShowPEM = ""

	splitOutDir = ""
	splitPrefix = "cert"

	verifyJSONOutput = false
	verifyCAFile = ""
	verifyKeyFile = ""
	verifyKeyPassphraseEnv = ""
	verifyExpiryWarning = 30 * 24 * time.Hour
}

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, stdin []byte, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(bytes.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(t.Context())
	return out.String(), err
}
