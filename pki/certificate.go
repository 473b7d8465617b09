package pki

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"time"
)

const pemTypeCertificate = "CERTIFICATE"

// Authority is an issuing certificate and its key. It is borrowed for one
// Obtain call and never modified.
type Authority struct {
	Certificate *x509.Certificate
	Key         crypto.Signer
}

func (a *Authority) validate() error {
	if a != nil && (a.Certificate == nil || a.Key == nil) {
		return configErrorf("certificate authority needs both a certificate and a private key")
	}
	return nil
}

// Properties is the desired content of a certificate. Every *Critical flag
// requires its base property; setting one without the other is a
// configuration error even when the flag is false.
type Properties struct {
	// Name is the subject. When empty the authority's subject is used.
	Name Name

	// SetPublicKey defaults to true. A certificate cannot be signed without
	// a subject public key, so false is rejected.
	SetPublicKey *bool

	SetAuthorityKeyIdentifier         bool
	SetAuthorityKeyIdentifierCritical *bool

	SetSubjectKeyIdentifier         bool
	SetSubjectKeyIdentifierCritical *bool

	KeyUsage         *KeyUsage
	KeyUsageCritical *bool

	// ExtendedKeyUsage holds usage names (SERVER_AUTH, ...) or dotted OIDs.
	// An empty list omits the extension.
	ExtendedKeyUsage         []string
	ExtendedKeyUsageCritical *bool

	BasicConstraints         *BasicConstraints
	BasicConstraintsCritical *bool

	// SubjectAlternativeName holds typed entries (DNS:, IP:, EMAIL:, URI:,
	// DN:). An empty list omits the extension.
	SubjectAlternativeName         []string
	SubjectAlternativeNameCritical *bool

	// NotValidAfterDays is the validity length from now. Required.
	NotValidAfterDays int
}

// CertificateSpec describes the desired certificate. Path and Content are
// mutually exclusive sources for an existing certificate.
type CertificateSpec struct {
	Path    string
	Content []byte

	SubjectKey crypto.Signer
	Authority  *Authority
	Properties Properties

	PersistPath string
	FileMode    os.FileMode // default 0444
}

func (s CertificateSpec) validate() error {
	if s.Path != "" && len(s.Content) > 0 {
		return configErrorf("only one of certificate path or certificate content can be specified")
	}
	if err := checkNotDir("certificate path", s.Path); err != nil {
		return err
	}
	if err := checkNotDir("certificate persist path", s.PersistPath); err != nil {
		return err
	}
	if s.SubjectKey == nil {
		return configErrorf("subject private key is required")
	}
	if err := s.Authority.validate(); err != nil {
		return err
	}
	return s.Properties.Validate(s.Authority != nil)
}

// Validate reports configuration mistakes in p that can be found without a
// subject key or an existing certificate. hasAuthority tells whether the
// certificate will be issued by a certificate authority.
func (p Properties) Validate(hasAuthority bool) error {
	if len(p.Name) == 0 && !hasAuthority {
		return configErrorf("subject name is required when no certificate authority is given")
	}
	if p.NotValidAfterDays <= 0 {
		return configErrorf("not valid after days is required and must be positive, got %d", p.NotValidAfterDays)
	}
	if p.SetPublicKey != nil && !*p.SetPublicKey {
		return configErrorf("a certificate cannot be built without its public key")
	}
	if p.SetAuthorityKeyIdentifier && !hasAuthority {
		return configErrorf("authority key identifier cannot be set without a certificate authority")
	}
	for _, c := range []struct {
		flag  *bool
		base  bool
		label string
	}{
		{p.SetAuthorityKeyIdentifierCritical, p.SetAuthorityKeyIdentifier, "authority key identifier"},
		{p.SetSubjectKeyIdentifierCritical, p.SetSubjectKeyIdentifier, "subject key identifier"},
		{p.KeyUsageCritical, p.KeyUsage != nil, "key usage"},
		{p.ExtendedKeyUsageCritical, len(p.ExtendedKeyUsage) > 0, "extended key usage"},
		{p.BasicConstraintsCritical, p.BasicConstraints != nil, "basic constraints"},
		{p.SubjectAlternativeNameCritical, len(p.SubjectAlternativeName) > 0, "subject alternative name"},
	} {
		if c.flag != nil && !c.base {
			return configErrorf("%s critical flag cannot be set without %s", c.label, c.label)
		}
	}
	if p.KeyUsage != nil {
		if err := p.KeyUsage.validate(); err != nil {
			return err
		}
	}
	if p.BasicConstraints != nil {
		if err := p.BasicConstraints.validate(); err != nil {
			return err
		}
	}
	if len(p.Name) > 0 {
		if _, err := p.Name.Marshal(); err != nil {
			return err
		}
	}
	if _, err := ParseExtendedKeyUsageNames(p.ExtendedKeyUsage); err != nil {
		return err
	}
	if _, err := ParseGeneralNames(p.SubjectAlternativeName); err != nil {
		return err
	}
	return nil
}

// CertificateResult is the outcome of CertificateManager.Obtain.
type CertificateResult struct {
	Certificate *x509.Certificate
	PEM         []byte
	Generated   bool
	// Reason names the first failed check when Generated is true.
	Reason string
}

// CertificateManager loads or builds X.509 certificates matching a
// CertificateSpec.
type CertificateManager struct {
	backend Backend
	clock   func() time.Time
	logger  *slog.Logger
}

// NewCertificateManager returns a CertificateManager configured by opts.
func NewCertificateManager(opts ...Option) *CertificateManager {
	o := newManagerOptions(opts)
	return &CertificateManager{
		backend: o.backend,
		clock:   o.clock,
		logger:  o.logger.With("component", "pki.certificate"),
	}
}

// Check reports the configuration errors Obtain would return for props and
// authority, including a validity window the authority cannot cover. It
// reads and writes nothing, so callers can run it before producing the
// subject key.
func (m *CertificateManager) Check(props Properties, authority *Authority) error {
	if err := authority.validate(); err != nil {
		return err
	}
	if err := props.Validate(authority != nil); err != nil {
		return err
	}
	_, err := validityEnd(m.clock().UTC().Truncate(time.Second), props.NotValidAfterDays, authority)
	return err
}

// Obtain returns a certificate satisfying spec. The expected value of every
// facet is computed first, then compared against the existing certificate;
// a new certificate is built only when a comparison fails. When
// PersistPath is set the PEM is written there on every call.
func (m *CertificateManager) Obtain(ctx context.Context, spec CertificateSpec) (*CertificateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec.FileMode == 0 {
		spec.FileMode = DefaultCertFileMode
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}

	exp, err := m.expect(spec)
	if err != nil {
		return nil, err
	}

	var d decision
	data, absent, err := readSource("certificate", spec.Path, spec.Content)
	if err != nil {
		return nil, err
	}
	if absent != "" {
		d.trigger("%s", absent)
	}

	var cert *x509.Certificate
	if data != nil {
		existing, err := ParseCertificatePEM(data)
		if err != nil {
			d.trigger("certificate content is invalid: %v", err)
		} else {
			cert = existing
			exp.compare(cert, spec.Authority, &d)
		}
	}

	if d.regenerate {
		m.logger.LogAttrs(ctx, slog.LevelInfo, "building certificate",
			slog.String("reason", d.reason),
			slog.Time("not_after", exp.notAfter))
		cert, err = m.build(exp, spec)
		if err != nil {
			return nil, err
		}
	} else {
		m.logger.LogAttrs(ctx, slog.LevelDebug, "reusing certificate",
			slog.String("serial", cert.SerialNumber.Text(16)))
	}

	out := pem.EncodeToMemory(&pem.Block{Type: pemTypeCertificate, Bytes: cert.Raw})
	if spec.PersistPath != "" {
		if err := writeFileAtomic(spec.PersistPath, out, spec.FileMode); err != nil {
			return nil, fmt.Errorf("persisting certificate: %w", err)
		}
	}

	return &CertificateResult{
		Certificate: cert,
		PEM:         out,
		Generated:   d.regenerate,
		Reason:      d.reason,
	}, nil
}

// ---------------------------------------------------------------------------
// Expected state
// ---------------------------------------------------------------------------

type expectedCertificate struct {
	subject    []byte // DER
	issuer     []byte // DER
	publicKey  crypto.PublicKey
	extensions []extensionFacet
	now        time.Time
	notBefore  time.Time
	notAfter   time.Time
}

func (m *CertificateManager) expect(spec CertificateSpec) (*expectedCertificate, error) {
	p := spec.Properties
	exp := &expectedCertificate{publicKey: spec.SubjectKey.Public()}

	if len(p.Name) > 0 {
		der, err := p.Name.Marshal()
		if err != nil {
			return nil, err
		}
		exp.subject = der
	} else {
		exp.subject = spec.Authority.Certificate.RawSubject
	}
	exp.issuer = exp.subject
	if spec.Authority != nil {
		exp.issuer = spec.Authority.Certificate.RawSubject
	}

	var aki *AuthorityKeyIdentifier
	if p.SetAuthorityKeyIdentifier {
		v, err := authorityKeyIdentifier(spec.Authority.Certificate)
		if err != nil {
			return nil, err
		}
		aki = &v
	}
	var ski *SubjectKeyIdentifier
	if p.SetSubjectKeyIdentifier {
		id, err := KeyIdentifier(exp.publicKey)
		if err != nil {
			return nil, err
		}
		v := SubjectKeyIdentifier(id)
		ski = &v
	}
	var eku *ExtendedKeyUsage
	if len(p.ExtendedKeyUsage) > 0 {
		v, err := ParseExtendedKeyUsageNames(p.ExtendedKeyUsage)
		if err != nil {
			return nil, err
		}
		eku = &v
	}
	var san *GeneralNames
	if len(p.SubjectAlternativeName) > 0 {
		v, err := ParseGeneralNames(p.SubjectAlternativeName)
		if err != nil {
			return nil, err
		}
		san = &v
	}

	exp.extensions = []extensionFacet{
		&expectedExtension[AuthorityKeyIdentifier]{
			name: "authority key identifier", id: OIDAuthorityKeyIdentifier,
			value: aki, critical: isSet(p.SetAuthorityKeyIdentifierCritical), parse: ParseAuthorityKeyIdentifier,
		},
		&expectedExtension[SubjectKeyIdentifier]{
			name: "subject key identifier", id: OIDSubjectKeyIdentifier,
			value: ski, critical: isSet(p.SetSubjectKeyIdentifierCritical), parse: ParseSubjectKeyIdentifier,
		},
		&expectedExtension[KeyUsage]{
			name: "key usage", id: OIDKeyUsage,
			value: p.KeyUsage, critical: isSet(p.KeyUsageCritical), parse: ParseKeyUsage,
		},
		&expectedExtension[ExtendedKeyUsage]{
			name: "extended key usage", id: OIDExtendedKeyUsage,
			value: eku, critical: isSet(p.ExtendedKeyUsageCritical), parse: ParseExtendedKeyUsage,
		},
		&expectedExtension[BasicConstraints]{
			name: "basic constraints", id: OIDBasicConstraints,
			value: p.BasicConstraints, critical: isSet(p.BasicConstraintsCritical), parse: ParseBasicConstraints,
		},
		&expectedExtension[GeneralNames]{
			name: "subject alternative name", id: OIDSubjectAltName,
			value: san, critical: isSet(p.SubjectAlternativeNameCritical), parse: ParseGeneralNamesDER,
		},
	}

	exp.now = m.clock().UTC().Truncate(time.Second)
	exp.notBefore = exp.now
	notAfter, err := validityEnd(exp.now, p.NotValidAfterDays, spec.Authority)
	if err != nil {
		return nil, err
	}
	exp.notAfter = notAfter
	return exp, nil
}

// validityEnd returns now plus days. A certificate may not outlive its
// authority.
func validityEnd(now time.Time, days int, a *Authority) (time.Time, error) {
	end := now.Add(time.Duration(days) * 24 * time.Hour)
	if a != nil && end.After(a.Certificate.NotAfter) {
		return time.Time{}, configErrorf("certificate authority is only valid until %s, certificate would be valid until %s",
			a.Certificate.NotAfter.UTC().Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return end, nil
}

// authorityKeyIdentifier derives the AKI a certificate issued by ca
// carries: its key identifier, its subject alternative names when it has
// any, and its serial number.
func authorityKeyIdentifier(ca *x509.Certificate) (AuthorityKeyIdentifier, error) {
	id, err := KeyIdentifier(ca.PublicKey)
	if err != nil {
		return AuthorityKeyIdentifier{}, fmt.Errorf("authority key identifier: %w", err)
	}
	aki := AuthorityKeyIdentifier{
		KeyIdentifier:             id,
		AuthorityCertSerialNumber: ca.SerialNumber,
	}
	if ext := findExtension(ca.Extensions, OIDSubjectAltName); ext != nil {
		names, err := ParseGeneralNamesDER(ext.Value)
		if err != nil {
			return AuthorityKeyIdentifier{}, fmt.Errorf("authority subject alternative name: %w", err)
		}
		if len(names) > 0 {
			aki.AuthorityCertIssuer = names
		}
	}
	return aki, nil
}

// compare runs every check against cert. All checks run; the decision keeps
// the first failure.
func (e *expectedCertificate) compare(cert *x509.Certificate, authority *Authority, d *decision) {
	if !bytes.Equal(cert.RawSubject, e.subject) {
		d.trigger("existing certificate subject name is not as expected")
	}
	if !bytes.Equal(cert.RawIssuer, e.issuer) {
		d.trigger("existing certificate issuer name is not as expected")
	}
	if pub, ok := cert.PublicKey.(interface{ Equal(crypto.PublicKey) bool }); !ok || !pub.Equal(e.publicKey) {
		d.trigger("existing certificate public key does not match the subject private key")
	}
	for _, ext := range e.extensions {
		ext.compare(findExtension(cert.Extensions, ext.oid()), d)
	}
	if !cert.NotAfter.After(e.now) {
		d.trigger("existing certificate is expired")
	}
	if cert.NotBefore.After(e.now) {
		d.trigger("existing certificate is not valid yet")
	}
	if authority != nil && cert.NotAfter.After(authority.Certificate.NotAfter) {
		d.trigger("existing certificate validity exceeds the certificate authority validity")
	}
}

// ---------------------------------------------------------------------------
// Extension facets
// ---------------------------------------------------------------------------

type extensionValue[T any] interface {
	Equal(T) bool
	Marshal() ([]byte, error)
}

// extensionFacet is one expected extension: present with a value and a
// criticality, or absent.
type extensionFacet interface {
	oid() asn1.ObjectIdentifier
	extension() (*pkix.Extension, error)
	compare(existing *pkix.Extension, d *decision)
}

type expectedExtension[T extensionValue[T]] struct {
	name     string
	id       asn1.ObjectIdentifier
	value    *T // nil when the extension is absent
	critical bool
	parse    func([]byte) (T, error)
}

func (e *expectedExtension[T]) oid() asn1.ObjectIdentifier { return e.id }

func (e *expectedExtension[T]) extension() (*pkix.Extension, error) {
	if e.value == nil {
		return nil, nil
	}
	der, err := (*e.value).Marshal()
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", e.name, err)
	}
	return &pkix.Extension{Id: e.id, Critical: e.critical, Value: der}, nil
}

func (e *expectedExtension[T]) compare(existing *pkix.Extension, d *decision) {
	if existing == nil {
		if e.value != nil {
			d.trigger("existing certificate has no %s", e.name)
		}
		return
	}
	current, err := e.parse(existing.Value)
	if err != nil {
		d.trigger("existing certificate %s is malformed: %v", e.name, err)
		return
	}
	if e.value == nil {
		d.trigger("existing certificate has an unexpected %s", e.name)
		return
	}
	if !(*e.value).Equal(current) {
		d.trigger("existing certificate %s does not match", e.name)
	}
	if existing.Critical != e.critical {
		d.trigger("existing certificate %s criticality does not match", e.name)
	}
}

func findExtension(exts []pkix.Extension, id asn1.ObjectIdentifier) *pkix.Extension {
	for i := range exts {
		if exts[i].Id.Equal(id) {
			return &exts[i]
		}
	}
	return nil
}

func isSet(b *bool) bool { return b != nil && *b }

// ---------------------------------------------------------------------------
// Building
// ---------------------------------------------------------------------------

func (m *CertificateManager) build(exp *expectedCertificate, spec CertificateSpec) (*x509.Certificate, error) {
	signer := spec.SubjectKey
	if spec.Authority != nil {
		signer = spec.Authority.Key
	}
	sigAlg, err := signatureAlgorithm(signer.Public())
	if err != nil {
		return nil, err
	}
	serial, err := m.backend.SerialNumber()
	if err != nil {
		return nil, err
	}

	// Extensions go through ExtraExtensions only; the typed template fields
	// stay empty so crypto/x509 adds nothing of its own.
	var exts []pkix.Extension
	for _, facet := range exp.extensions {
		ext, err := facet.extension()
		if err != nil {
			return nil, err
		}
		if ext != nil {
			exts = append(exts, *ext)
		}
	}

	template := &x509.Certificate{
		SerialNumber:       serial,
		RawSubject:         exp.subject,
		NotBefore:          exp.notBefore,
		NotAfter:           exp.notAfter,
		SignatureAlgorithm: sigAlg,
		ExtraExtensions:    exts,
	}
	parent := template
	if spec.Authority != nil {
		// A shallow copy without SubjectKeyId keeps crypto/x509 from adding
		// its own authority key identifier.
		ca := *spec.Authority.Certificate
		ca.SubjectKeyId = nil
		parent = &ca
	}

	der, err := m.backend.CreateCertificate(template, parent, exp.publicKey, signer)
	if err != nil {
		return nil, fmt.Errorf("signing certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing signed certificate: %w", err)
	}
	return cert, nil
}

// signatureAlgorithm selects the SHA-256 signature for the signing key.
func signatureAlgorithm(pub crypto.PublicKey) (x509.SignatureAlgorithm, error) {
	switch pub.(type) {
	case *rsa.PublicKey:
		return x509.SHA256WithRSA, nil
	case *ecdsa.PublicKey:
		return x509.ECDSAWithSHA256, nil
	}
	return x509.UnknownSignatureAlgorithm, fmt.Errorf("%w: cannot sign with SHA-256 using %T", ErrUnsupportedKey, pub)
}

// ParseCertificatePEM decodes the first CERTIFICATE block of data.
func ParseCertificatePEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidPEM)
	}
	if block.Type != pemTypeCertificate {
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidPEM, block.Type)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	return cert, nil
}
