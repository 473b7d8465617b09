// Package reconcile runs the private key and certificate managers for one
// flat request and merges their outcomes into a single result.
package reconcile

import (
	"bytes"
	"context"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jmcleod/ironcert/archive"
	"github.com/jmcleod/ironcert/internal/uuid"
	"github.com/jmcleod/ironcert/pki"
)

// Result is the merged outcome of a run.
type Result struct {
	RunID                      string `json:"run_id"`
	PrivateKey                 string `json:"private_key"`
	Certificate                string `json:"certificate"`
	CertificateFullChain       string `json:"certificate_full_chain"`
	PrivateKeyGenerated        bool   `json:"private_key_generated"`
	CertificateGenerated       bool   `json:"certificate_generated"`
	PrivateKeyGeneratedReason  string `json:"private_key_generated_reason,omitempty"`
	CertificateGeneratedReason string `json:"certificate_generated_reason,omitempty"`
	Changed                    bool   `json:"changed"`
	ArchiveVersion             uint64 `json:"archive_version,omitempty"`
}

// Reconciler owns one KeyManager and one CertificateManager.
type Reconciler struct {
	pkiOpts   []pki.Option
	keys      *pki.KeyManager
	certs     *pki.CertificateManager
	archive   *archive.Archive
	namespace string
	metrics   *Metrics
	target    string
	clock     func() time.Time
	logger    *slog.Logger
}

// New returns a Reconciler configured by opts.
func New(opts ...Option) *Reconciler {
	r := &Reconciler{logger: slog.Default(), clock: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	pkiOpts := append(r.pkiOpts, pki.WithLogger(r.logger))
	r.keys = pki.NewKeyManager(pkiOpts...)
	r.certs = pki.NewCertificateManager(pkiOpts...)
	r.logger = r.logger.With("component", "reconcile")
	return r
}

// Run brings the private key and certificate named by req to the requested
// state. Paths in req are both the source of existing material and the
// place the result is written.
func (r *Reconciler) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, notAfter, err := r.run(ctx, req)
	if err != nil {
		r.metrics.recordFailure(r.target, time.Since(start))
		return nil, err
	}
	r.metrics.recordSuccess(r.target, res, notAfter, r.clock(), time.Since(start))
	return res, nil
}

func (r *Reconciler) run(ctx context.Context, req Request) (*Result, time.Time, error) {
	runID := uuid.New()
	logger := r.logger.With("run_id", runID)

	props, err := req.Properties.toPKI()
	if err != nil {
		return nil, time.Time{}, err
	}
	ca, err := loadAuthority(req.CertificateAuthority)
	if err != nil {
		return nil, time.Time{}, err
	}
	var authority *pki.Authority
	if ca != nil {
		authority = ca.authority
	}
	// Nothing is written until the certificate settings are known to be
	// usable, so a bad request leaves the stored key and certificate alone.
	if err := r.certs.Check(props, authority); err != nil {
		return nil, time.Time{}, fmt.Errorf("certificate: %w", err)
	}

	keyRes, err := r.keys.Obtain(ctx, pki.KeySpec{
		Path:           req.PrivateKeyPath,
		Content:        []byte(req.PrivateKeyContent),
		Passphrase:     req.PrivateKeyPassphrase,
		PublicExponent: req.PublicExponent,
		KeyBits:        req.KeySize,
		PersistPath:    req.PrivateKeyPath,
		FileMode:       os.FileMode(req.PrivateKeyPermission),
	})
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("private key: %w", err)
	}

	certSpec := pki.CertificateSpec{
		Path:        req.CertificatePath,
		Content:     []byte(req.CertificateContent),
		SubjectKey:  keyRes.Key,
		Authority:   authority,
		Properties:  props,
		PersistPath: req.CertificatePath,
		FileMode:    os.FileMode(req.CertificatePermission),
	}
	certRes, err := r.certs.Obtain(ctx, certSpec)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("certificate: %w", err)
	}

	res := &Result{
		RunID:                      runID,
		PrivateKey:                 string(keyRes.PEM),
		Certificate:                string(certRes.PEM),
		CertificateFullChain:       string(fullChain(certRes.PEM, ca)),
		PrivateKeyGenerated:        keyRes.Generated,
		CertificateGenerated:       certRes.Generated,
		PrivateKeyGeneratedReason:  keyRes.Reason,
		CertificateGeneratedReason: certRes.Reason,
		Changed:                    keyRes.Generated || certRes.Generated,
	}

	if r.archive != nil {
		version, err := r.archive.Save(ctx, r.namespace, archive.Record{
			RunID:                runID,
			PrivateKeyPEM:        res.PrivateKey,
			CertificatePEM:       res.Certificate,
			PrivateKeyGenerated:  res.PrivateKeyGenerated,
			CertificateGenerated: res.CertificateGenerated,
			PrivateKeyReason:     res.PrivateKeyGeneratedReason,
			CertificateReason:    res.CertificateGeneratedReason,
		})
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("archiving run: %w", err)
		}
		res.ArchiveVersion = version
	}

	logger.LogAttrs(ctx, slog.LevelInfo, "reconciled",
		slog.Bool("changed", res.Changed),
		slog.Bool("private_key_generated", res.PrivateKeyGenerated),
		slog.Bool("certificate_generated", res.CertificateGenerated))
	return res, certRes.Certificate.NotAfter, nil
}

// fullChain appends the authority bundle to the leaf PEM.
func fullChain(leaf []byte, ca *loadedAuthority) []byte {
	if ca == nil {
		return leaf
	}
	var buf bytes.Buffer
	buf.Write(leaf)
	for _, der := range ca.chain {
		pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: der})
	}
	return buf.Bytes()
}
