package cmd

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/jmcleod/ironcert/pki"
)

// ---------------------------------------------------------------------------
// Verification result types
// ---------------------------------------------------------------------------

type verifyResult struct {
	File        string            `json:"file"`
	Valid       bool              `json:"valid"`
	Certificate map[string]string `json:"certificate,omitempty"`
	Checks      []checkResult     `json:"checks"`
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "pass", "fail", "warn"
	Detail string `json:"detail,omitempty"`
}

func (r *verifyResult) add(name, status, detail string) {
	if status == "fail" {
		r.Valid = false
	}
	r.Checks = append(r.Checks, checkResult{Name: name, Status: status, Detail: detail})
}

// verifyInput is everything verifyCertificate looks at.
type verifyInput struct {
	Certificate *x509.Certificate
	// Authority is the issuer bundle, issuer first. Optional.
	Authority []*x509.Certificate
	// Key is the private key expected to belong to Certificate. Optional.
	Key crypto.Signer
	// ExpiryWarning flags certificates that expire sooner than this.
	ExpiryWarning time.Duration
}

// ---------------------------------------------------------------------------
// Core verification logic
// ---------------------------------------------------------------------------

func verifyCertificate(in verifyInput, now time.Time) verifyResult {
	cert := in.Certificate
	result := verifyResult{
		Valid:       true,
		Certificate: pki.DescribeCertificate(cert, now),
	}

	// 1. Validity window.
	switch {
	case now.Before(cert.NotBefore):
		result.add("validity", "fail", fmt.Sprintf("not valid before %s", cert.NotBefore.UTC().Format(time.RFC3339)))
	case !cert.NotAfter.After(now):
		result.add("validity", "fail", fmt.Sprintf("expired at %s", cert.NotAfter.UTC().Format(time.RFC3339)))
	case cert.NotAfter.Sub(now) < in.ExpiryWarning:
		result.add("validity", "warn", fmt.Sprintf("expires at %s", cert.NotAfter.UTC().Format(time.RFC3339)))
	default:
		result.add("validity", "pass", "")
	}

	// 2. Chain to the authority, or self-signature.
	if len(in.Authority) == 0 {
		if bytes.Equal(cert.RawIssuer, cert.RawSubject) && cert.CheckSignatureFrom(cert) == nil {
			result.add("chain", "pass", "self-signed")
		} else {
			result.add("chain", "warn", "issued by another authority; pass --ca to verify")
		}
	} else {
		roots := x509.NewCertPool()
		intermediates := x509.NewCertPool()
		haveRoot := false
		for _, c := range in.Authority {
			if bytes.Equal(c.RawIssuer, c.RawSubject) {
				roots.AddCert(c)
				haveRoot = true
			} else {
				intermediates.AddCert(c)
			}
		}
		// A bundle without a self-signed certificate is trusted at its first
		// entry.
		if !haveRoot {
			roots.AddCert(in.Authority[0])
		}
		_, err := cert.Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
			CurrentTime:   now,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		})
		if err != nil {
			result.add("chain", "fail", err.Error())
		} else {
			result.add("chain", "pass", "")
		}

		// 3. Key identifier linkage.
		issuer := in.Authority[0]
		switch {
		case len(cert.AuthorityKeyId) == 0:
			result.add("authority_key_identifier", "warn", "certificate has no authority key identifier")
		case len(issuer.SubjectKeyId) == 0:
			result.add("authority_key_identifier", "warn", "authority has no subject key identifier")
		case !bytes.Equal(cert.AuthorityKeyId, issuer.SubjectKeyId):
			result.add("authority_key_identifier", "fail", "does not match the authority subject key identifier")
		default:
			result.add("authority_key_identifier", "pass", "")
		}
	}

	// 4. Private key pairing.
	if in.Key != nil {
		pub, ok := in.Key.Public().(interface{ Equal(crypto.PublicKey) bool })
		if ok && pub.Equal(cert.PublicKey) {
			result.add("key_match", "pass", "")
		} else {
			result.add("key_match", "fail", "private key does not match the certificate public key")
		}
	}

	return result
}

// ---------------------------------------------------------------------------
// Output formatting
// ---------------------------------------------------------------------------

func printHumanResult(w io.Writer, result verifyResult) {
	fmt.Fprintf(w, "Certificate verification: %s\n", result.File)
	fmt.Fprintf(w, "Subject:  %s\n", result.Certificate[pki.FieldSubject])
	fmt.Fprintf(w, "Issuer:   %s\n", result.Certificate[pki.FieldIssuer])
	fmt.Fprintf(w, "Expires:  %s\n\n", result.Certificate[pki.FieldNotAfter])

	failures, warnings := 0, 0
	for _, c := range result.Checks {
		tag := "[PASS]"
		switch c.Status {
		case "fail":
			tag = "[FAIL]"
			failures++
		case "warn":
			tag = "[WARN]"
			warnings++
		}
		if c.Detail != "" {
			fmt.Fprintf(w, "%s %s: %s\n", tag, c.Name, c.Detail)
		} else {
			fmt.Fprintf(w, "%s %s\n", tag, c.Name)
		}
	}

	fmt.Fprintln(w)
	if result.Valid {
		fmt.Fprintln(w, "Result: VALID")
	} else {
		fmt.Fprintf(w, "Result: INVALID (%d error(s), %d warning(s))\n", failures, warnings)
	}
}

// ---------------------------------------------------------------------------
// Cobra command
// ---------------------------------------------------------------------------

var (
	verifyJSONOutput       bool
	verifyCAFile           string
	verifyKeyFile          string
	verifyKeyPassphraseEnv string
	verifyExpiryWarning    time.Duration
)

var verifyCmd = &cobra.Command{
	Use:   "verify [certificate-file]",
	Short: "Check a certificate's validity, chain and key pairing",
	Long: `Reads a PEM certificate and checks its validity window. With --ca it also
verifies the chain to the given authority bundle and the authority key
identifier linkage; with --key it checks that the private key belongs to the
certificate.

Exit status is 0 when every check passes or warns, 1 when a check fails and
2 when the input cannot be read.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().BoolVar(&verifyJSONOutput, "json", false, "Output results as JSON")
	verifyCmd.Flags().StringVar(&verifyCAFile, "ca", "", "Authority certificate bundle, issuer first")
	verifyCmd.Flags().StringVar(&verifyKeyFile, "key", "", "Private key expected to match the certificate")
	verifyCmd.Flags().StringVar(&verifyKeyPassphraseEnv, "key-passphrase-env", "", "Environment variable holding the private key passphrase")
	verifyCmd.Flags().DurationVar(&verifyExpiryWarning, "expiry-warning", 30*24*time.Hour, "Warn when the certificate expires sooner than this")
}

func loadVerifyInput(certFile string) (verifyInput, error) {
	in := verifyInput{ExpiryWarning: verifyExpiryWarning}

	data, err := os.ReadFile(certFile)
	if err != nil {
		return in, fmt.Errorf("cannot read file: %w", err)
	}
	if in.Certificate, err = pki.ParseCertificatePEM(data); err != nil {
		return in, err
	}

	if verifyCAFile != "" {
		data, err := os.ReadFile(verifyCAFile)
		if err != nil {
			return in, fmt.Errorf("cannot read authority bundle: %w", err)
		}
		if in.Authority, err = pki.ParseCertificateBundle(data); err != nil {
			return in, fmt.Errorf("authority bundle: %w", err)
		}
	}

	if verifyKeyFile != "" {
		data, err := os.ReadFile(verifyKeyFile)
		if err != nil {
			return in, fmt.Errorf("cannot read private key: %w", err)
		}
		var passphrase string
		if verifyKeyPassphraseEnv != "" {
			if passphrase, err = secretFromEnv(verifyKeyPassphraseEnv); err != nil {
				return in, err
			}
		}
		if in.Key, err = pki.ParsePrivateKeyPEM(data, passphrase); err != nil {
			return in, fmt.Errorf("private key: %w", err)
		}
	}
	return in, nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	in, err := loadVerifyInput(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		memguard.SafeExit(2)
	}

	result := verifyCertificate(in, time.Now())
	result.File = args[0]

	if verifyJSONOutput {
		if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			memguard.SafeExit(2)
		}
	} else {
		printHumanResult(cmd.OutOrStdout(), result)
	}

	if !result.Valid {
		memguard.SafeExit(1)
	}
	return nil
}
