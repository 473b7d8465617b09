package pki

import (
	"bytes"
	"crypto"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"slices"
	"strconv"
	"strings"
)

// Extension identifiers (RFC 5280 §4.2.1).
var (
	OIDSubjectKeyIdentifier   = asn1.ObjectIdentifier{2, 5, 29, 14}
	OIDKeyUsage               = asn1.ObjectIdentifier{2, 5, 29, 15}
	OIDSubjectAltName         = asn1.ObjectIdentifier{2, 5, 29, 17}
	OIDBasicConstraints       = asn1.ObjectIdentifier{2, 5, 29, 19}
	OIDAuthorityKeyIdentifier = asn1.ObjectIdentifier{2, 5, 29, 35}
	OIDExtendedKeyUsage       = asn1.ObjectIdentifier{2, 5, 29, 37}
)

// ---------------------------------------------------------------------------
// Key identifiers
// ---------------------------------------------------------------------------

// KeyIdentifier returns the SHA-1 hash of the subjectPublicKey BIT STRING
// of pub (RFC 5280 §4.2.1.2, method 1).
func KeyIdentifier(pub crypto.PublicKey) ([]byte, error) {
	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
	}
	var info struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(spki, &info); err != nil {
		return nil, fmt.Errorf("decoding subject public key info: %w", err)
	}
	sum := sha1.Sum(info.PublicKey.Bytes)
	return sum[:], nil
}

// SubjectKeyIdentifier is the value of the subjectKeyIdentifier extension.
type SubjectKeyIdentifier []byte

func (s SubjectKeyIdentifier) Equal(o SubjectKeyIdentifier) bool { return bytes.Equal(s, o) }

func (s SubjectKeyIdentifier) Marshal() ([]byte, error) { return asn1.Marshal([]byte(s)) }

// ParseSubjectKeyIdentifier decodes the extension value.
func ParseSubjectKeyIdentifier(der []byte) (SubjectKeyIdentifier, error) {
	var id []byte
	if err := unmarshalExact(der, &id); err != nil {
		return nil, fmt.Errorf("parsing subject key identifier: %w", err)
	}
	return id, nil
}

// AuthorityKeyIdentifier is the value of the authorityKeyIdentifier
// extension. Nil or empty fields are omitted from the encoding.
type AuthorityKeyIdentifier struct {
	KeyIdentifier             []byte
	AuthorityCertIssuer       GeneralNames
	AuthorityCertSerialNumber *big.Int
}

// Equal compares every field structurally.
func (a AuthorityKeyIdentifier) Equal(o AuthorityKeyIdentifier) bool {
	if !bytes.Equal(a.KeyIdentifier, o.KeyIdentifier) || !a.AuthorityCertIssuer.Equal(o.AuthorityCertIssuer) {
		return false
	}
	switch {
	case a.AuthorityCertSerialNumber == nil || o.AuthorityCertSerialNumber == nil:
		return a.AuthorityCertSerialNumber == nil && o.AuthorityCertSerialNumber == nil
	default:
		return a.AuthorityCertSerialNumber.Cmp(o.AuthorityCertSerialNumber) == 0
	}
}

// Marshal encodes the AKI SEQUENCE with implicit [0], [1] and [2] tags.
func (a AuthorityKeyIdentifier) Marshal() ([]byte, error) {
	var fields []byte
	if len(a.KeyIdentifier) > 0 {
		der, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, Bytes: a.KeyIdentifier})
		if err != nil {
			return nil, err
		}
		fields = append(fields, der...)
	}
	if len(a.AuthorityCertIssuer) > 0 {
		inner, err := a.AuthorityCertIssuer.contents()
		if err != nil {
			return nil, err
		}
		der, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 1, IsCompound: true, Bytes: inner})
		if err != nil {
			return nil, err
		}
		fields = append(fields, der...)
	}
	if a.AuthorityCertSerialNumber != nil {
		intDER, err := asn1.Marshal(a.AuthorityCertSerialNumber)
		if err != nil {
			return nil, err
		}
		var integer asn1.RawValue
		if _, err := asn1.Unmarshal(intDER, &integer); err != nil {
			return nil, err
		}
		der, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 2, Bytes: integer.Bytes})
		if err != nil {
			return nil, err
		}
		fields = append(fields, der...)
	}
	return asn1.Marshal(asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSequence, IsCompound: true, Bytes: fields})
}

// ParseAuthorityKeyIdentifier decodes the extension value.
func ParseAuthorityKeyIdentifier(der []byte) (AuthorityKeyIdentifier, error) {
	var (
		aki AuthorityKeyIdentifier
		seq asn1.RawValue
	)
	if err := unmarshalExact(der, &seq); err != nil {
		return aki, fmt.Errorf("parsing authority key identifier: %w", err)
	}
	if seq.Class != asn1.ClassUniversal || seq.Tag != asn1.TagSequence {
		return aki, fmt.Errorf("parsing authority key identifier: expected SEQUENCE")
	}
	for rest := seq.Bytes; len(rest) > 0; {
		var field asn1.RawValue
		var err error
		if rest, err = asn1.Unmarshal(rest, &field); err != nil {
			return aki, fmt.Errorf("parsing authority key identifier: %w", err)
		}
		if field.Class != asn1.ClassContextSpecific {
			return aki, fmt.Errorf("parsing authority key identifier: unexpected class %d", field.Class)
		}
		switch field.Tag {
		case 0:
			aki.KeyIdentifier = field.Bytes
		case 1:
			if aki.AuthorityCertIssuer, err = parseGeneralNameList(field.Bytes); err != nil {
				return aki, fmt.Errorf("parsing authority cert issuer: %w", err)
			}
		case 2:
			var serial *big.Int
			intDER, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagInteger, Bytes: field.Bytes})
			if err != nil {
				return aki, err
			}
			if _, err := asn1.Unmarshal(intDER, &serial); err != nil {
				return aki, fmt.Errorf("parsing authority cert serial number: %w", err)
			}
			aki.AuthorityCertSerialNumber = serial
		default:
			return aki, fmt.Errorf("parsing authority key identifier: unexpected tag [%d]", field.Tag)
		}
	}
	return aki, nil
}

// ---------------------------------------------------------------------------
// Key usage
// ---------------------------------------------------------------------------

// KeyUsage holds the nine keyUsage bits in RFC 5280 bit order.
type KeyUsage struct {
	DigitalSignature  bool
	ContentCommitment bool
	KeyEncipherment   bool
	DataEncipherment  bool
	KeyAgreement      bool
	KeyCertSign       bool
	CRLSign           bool
	EncipherOnly      bool
	DecipherOnly      bool
}

// keyUsageFlags lists the flat-config flag names in bit order.
var keyUsageFlags = []string{
	"digital_signature",
	"content_commitment",
	"key_encipherment",
	"data_encipherment",
	"key_agreement",
	"key_cert_sign",
	"crl_sign",
	"encipher_only",
	"decipher_only",
}

func (k *KeyUsage) bits() []*bool {
	return []*bool{
		&k.DigitalSignature, &k.ContentCommitment, &k.KeyEncipherment,
		&k.DataEncipherment, &k.KeyAgreement, &k.KeyCertSign,
		&k.CRLSign, &k.EncipherOnly, &k.DecipherOnly,
	}
}

// KeyUsageFromMap builds a KeyUsage from flat-config flags such as
// "digital_signature". Missing flags are false.
func KeyUsageFromMap(m map[string]bool) (KeyUsage, error) {
	var ku KeyUsage
	bits := ku.bits()
	for k, v := range m {
		i := slices.Index(keyUsageFlags, strings.ToLower(k))
		if i < 0 {
			return KeyUsage{}, configErrorf("unknown key usage flag %q", k)
		}
		*bits[i] = v
	}
	return ku, ku.validate()
}

func (k KeyUsage) validate() error {
	if (k.EncipherOnly || k.DecipherOnly) && !k.KeyAgreement {
		return configErrorf("encipher_only and decipher_only require key_agreement")
	}
	return nil
}

func (k KeyUsage) Equal(o KeyUsage) bool { return k == o }

// Flags returns the names of the set bits.
func (k KeyUsage) Flags() []string {
	var out []string
	for i, b := range k.bits() {
		if *b {
			out = append(out, keyUsageFlags[i])
		}
	}
	return out
}

// Marshal encodes the bits as a DER BIT STRING with trailing zero bits
// removed.
func (k KeyUsage) Marshal() ([]byte, error) {
	buf := make([]byte, 2)
	length := 0
	for i, b := range k.bits() {
		if *b {
			buf[i/8] |= 0x80 >> uint(i%8)
			length = i + 1
		}
	}
	return asn1.Marshal(asn1.BitString{Bytes: buf[:(length+7)/8], BitLength: length})
}

// ParseKeyUsage decodes the extension value.
func ParseKeyUsage(der []byte) (KeyUsage, error) {
	var (
		ku  KeyUsage
		raw asn1.BitString
	)
	if err := unmarshalExact(der, &raw); err != nil {
		return ku, fmt.Errorf("parsing key usage: %w", err)
	}
	for i, b := range ku.bits() {
		*b = raw.At(i) == 1
	}
	return ku, nil
}

// ---------------------------------------------------------------------------
// Extended key usage
// ---------------------------------------------------------------------------

var extKeyUsageNames = []struct {
	name string
	oid  asn1.ObjectIdentifier
}{
	{"SERVER_AUTH", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 1}},
	{"CLIENT_AUTH", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 2}},
	{"CODE_SIGNING", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 3}},
	{"EMAIL_PROTECTION", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 4}},
	{"TIME_STAMPING", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 8}},
	{"OCSP_SIGNING", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 9}},
	{"SMARTCARD_LOGON", asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 20, 2, 2}},
	{"KERBEROS_PKINIT_KDC", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 2, 3, 5}},
	{"IPSEC_IKE", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 17}},
	{"CERTIFICATE_TRANSPARENCY", asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 4, 4}},
	{"ANY_EXTENDED_KEY_USAGE", asn1.ObjectIdentifier{2, 5, 29, 37, 0}},
}

// ExtendedKeyUsage is the ordered list of key purposes.
type ExtendedKeyUsage []asn1.ObjectIdentifier

// ParseExtendedKeyUsageNames resolves usage names (SERVER_AUTH, ...) or
// dotted OIDs.
func ParseExtendedKeyUsageNames(names []string) (ExtendedKeyUsage, error) {
	out := make(ExtendedKeyUsage, 0, len(names))
	for _, n := range names {
		oid, err := parseExtKeyUsage(n)
		if err != nil {
			return nil, err
		}
		out = append(out, oid)
	}
	return out, nil
}

func parseExtKeyUsage(name string) (asn1.ObjectIdentifier, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for _, e := range extKeyUsageNames {
		if e.name == upper {
			return e.oid, nil
		}
	}
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return nil, configErrorf("unknown extended key usage %q", name)
	}
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, configErrorf("unknown extended key usage %q", name)
		}
		oid[i] = n
	}
	return oid, nil
}

func (e ExtendedKeyUsage) Equal(o ExtendedKeyUsage) bool {
	return slices.EqualFunc(e, o, asn1.ObjectIdentifier.Equal)
}

// Names renders each purpose by name, falling back to the dotted OID.
func (e ExtendedKeyUsage) Names() []string {
	out := make([]string, len(e))
	for i, oid := range e {
		out[i] = oid.String()
		for _, n := range extKeyUsageNames {
			if n.oid.Equal(oid) {
				out[i] = n.name
				break
			}
		}
	}
	return out
}

func (e ExtendedKeyUsage) Marshal() ([]byte, error) {
	return asn1.Marshal([]asn1.ObjectIdentifier(e))
}

// ParseExtendedKeyUsage decodes the extension value.
func ParseExtendedKeyUsage(der []byte) (ExtendedKeyUsage, error) {
	var oids []asn1.ObjectIdentifier
	if err := unmarshalExact(der, &oids); err != nil {
		return nil, fmt.Errorf("parsing extended key usage: %w", err)
	}
	return oids, nil
}

// ---------------------------------------------------------------------------
// Basic constraints
// ---------------------------------------------------------------------------

// BasicConstraints is the value of the basicConstraints extension. A nil
// PathLength means no limit.
type BasicConstraints struct {
	CA         bool
	PathLength *int
}

type basicConstraintsASN1 struct {
	IsCA       bool `asn1:"optional"`
	MaxPathLen int  `asn1:"optional,default:-1"`
}

func (b BasicConstraints) validate() error {
	if b.PathLength == nil {
		return nil
	}
	if !b.CA {
		return configErrorf("basic constraints path length requires ca to be true")
	}
	if *b.PathLength < 0 {
		return configErrorf("basic constraints path length must not be negative, got %d", *b.PathLength)
	}
	return nil
}

func (b BasicConstraints) Equal(o BasicConstraints) bool {
	if b.CA != o.CA {
		return false
	}
	if b.PathLength == nil || o.PathLength == nil {
		return b.PathLength == nil && o.PathLength == nil
	}
	return *b.PathLength == *o.PathLength
}

func (b BasicConstraints) Marshal() ([]byte, error) {
	v := basicConstraintsASN1{IsCA: b.CA, MaxPathLen: -1}
	if b.PathLength != nil {
		v.MaxPathLen = *b.PathLength
	}
	return asn1.Marshal(v)
}

// ParseBasicConstraints decodes the extension value.
func ParseBasicConstraints(der []byte) (BasicConstraints, error) {
	var v basicConstraintsASN1
	if err := unmarshalExact(der, &v); err != nil {
		return BasicConstraints{}, fmt.Errorf("parsing basic constraints: %w", err)
	}
	bc := BasicConstraints{CA: v.IsCA}
	if v.MaxPathLen >= 0 {
		n := v.MaxPathLen
		bc.PathLength = &n
	}
	return bc, nil
}

// unmarshalExact decodes der into out and rejects trailing bytes.
func unmarshalExact(der []byte, out any) error {
	rest, err := asn1.Unmarshal(der, out)
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return fmt.Errorf("%d trailing bytes", len(rest))
	}
	return nil
}
