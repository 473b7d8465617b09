package pki

import (
	"bytes"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"net"
	"strings"
)

// GeneralName tags (RFC 5280 §4.2.1.6). Each is a context-specific tag.
const (
	TagOtherName     = 0
	TagRFC822Name    = 1
	TagDNSName       = 2
	TagX400Address   = 3
	TagDirectoryName = 4
	TagEDIPartyName  = 5
	TagURI           = 6
	TagIPAddress     = 7
	TagRegisteredID  = 8
)

// GeneralName is one entry of a GeneralNames sequence. Value holds the
// contents octets: the string for DNS/email/URI names, 4 or 16 address
// bytes for IP names, and the DER Name for directory names. Entries with
// other tags are carried through untouched.
type GeneralName struct {
	Tag      int
	Compound bool
	Value    []byte
}

// DNSName returns a dNSName entry.
func DNSName(name string) GeneralName {
	return GeneralName{Tag: TagDNSName, Value: []byte(name)}
}

// EmailName returns an rfc822Name entry.
func EmailName(addr string) GeneralName {
	return GeneralName{Tag: TagRFC822Name, Value: []byte(addr)}
}

// URIName returns a uniformResourceIdentifier entry.
func URIName(uri string) GeneralName {
	return GeneralName{Tag: TagURI, Value: []byte(uri)}
}

// IPName returns an iPAddress entry. IPv4 addresses use the 4-byte form.
func IPName(ip net.IP) GeneralName {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return GeneralName{Tag: TagIPAddress, Value: []byte(ip)}
}

// DirectoryName returns a directoryName entry for the DER-encoded name.
func DirectoryName(der []byte) GeneralName {
	return GeneralName{Tag: TagDirectoryName, Compound: true, Value: der}
}

// ParseGeneralName parses a typed string such as "DNS:example.com",
// "IP:::1", "EMAIL:a@b.com", "URI:https://x" or "DN:CN=x,O=y".
func ParseGeneralName(s string) (GeneralName, error) {
	prefix, value, ok := strings.Cut(s, ":")
	if !ok {
		return GeneralName{}, configErrorf("unknown subject alternative name type: %q", s)
	}
	switch strings.ToUpper(prefix) {
	case "DNS":
		if !isIA5String(value) || value == "" {
			return GeneralName{}, configErrorf("invalid DNS name %q", value)
		}
		return DNSName(value), nil
	case "URI":
		if !isIA5String(value) || value == "" {
			return GeneralName{}, configErrorf("invalid URI %q", value)
		}
		return URIName(value), nil
	case "EMAIL":
		if !isIA5String(value) || value == "" {
			return GeneralName{}, configErrorf("invalid email address %q", value)
		}
		return EmailName(value), nil
	case "IP":
		ip := net.ParseIP(value)
		if ip == nil {
			return GeneralName{}, configErrorf("invalid IP address %q", value)
		}
		if strings.Contains(value, ":") {
			return GeneralName{Tag: TagIPAddress, Value: []byte(ip.To16())}, nil
		}
		return IPName(ip), nil
	case "DN":
		name, err := ParseDistinguishedName(value)
		if err != nil {
			return GeneralName{}, err
		}
		der, err := name.Marshal()
		if err != nil {
			return GeneralName{}, err
		}
		return DirectoryName(der), nil
	}
	return GeneralName{}, configErrorf("unknown subject alternative name type: %q", s)
}

// Equal reports whether g and o encode identically.
func (g GeneralName) Equal(o GeneralName) bool {
	return g.Tag == o.Tag && g.Compound == o.Compound && bytes.Equal(g.Value, o.Value)
}

// String renders g in the ParseGeneralName syntax where one exists.
func (g GeneralName) String() string {
	switch g.Tag {
	case TagDNSName:
		return "DNS:" + string(g.Value)
	case TagRFC822Name:
		return "EMAIL:" + string(g.Value)
	case TagURI:
		return "URI:" + string(g.Value)
	case TagIPAddress:
		return "IP:" + net.IP(g.Value).String()
	case TagDirectoryName:
		var rdns pkix.RDNSequence
		if _, err := asn1.Unmarshal(g.Value, &rdns); err == nil {
			return "DN:" + rdns.String()
		}
	}
	return fmt.Sprintf("[%d]:%x", g.Tag, g.Value)
}

func (g GeneralName) rawValue() asn1.RawValue {
	return asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        g.Tag,
		IsCompound: g.Compound,
		Bytes:      g.Value,
	}
}

// GeneralNames is an ordered GeneralNames sequence. The SAN extension value
// and the AKI authorityCertIssuer field both use it.
type GeneralNames []GeneralName

// ParseGeneralNames parses every entry with ParseGeneralName, keeping order.
func ParseGeneralNames(entries []string) (GeneralNames, error) {
	out := make(GeneralNames, 0, len(entries))
	for _, e := range entries {
		gn, err := ParseGeneralName(e)
		if err != nil {
			return nil, err
		}
		out = append(out, gn)
	}
	return out, nil
}

// Equal reports whether both sequences hold equal entries in the same order.
func (n GeneralNames) Equal(o GeneralNames) bool {
	if len(n) != len(o) {
		return false
	}
	for i := range n {
		if !n[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// Strings renders each entry with GeneralName.String.
func (n GeneralNames) Strings() []string {
	out := make([]string, len(n))
	for i, g := range n {
		out[i] = g.String()
	}
	return out
}

// contents returns the concatenated DER of every entry, without the
// enclosing SEQUENCE header.
func (n GeneralNames) contents() ([]byte, error) {
	var buf bytes.Buffer
	for _, g := range n {
		der, err := asn1.Marshal(g.rawValue())
		if err != nil {
			return nil, fmt.Errorf("encoding general name %s: %w", g, err)
		}
		buf.Write(der)
	}
	return buf.Bytes(), nil
}

// Marshal returns the DER SEQUENCE OF GeneralName.
func (n GeneralNames) Marshal() ([]byte, error) {
	inner, err := n.contents()
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSequence,
		IsCompound: true,
		Bytes:      inner,
	})
}

// ParseGeneralNamesDER decodes a DER SEQUENCE OF GeneralName.
func ParseGeneralNamesDER(der []byte) (GeneralNames, error) {
	var seq asn1.RawValue
	rest, err := asn1.Unmarshal(der, &seq)
	if err != nil {
		return nil, fmt.Errorf("parsing general names: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("parsing general names: trailing data")
	}
	if seq.Class != asn1.ClassUniversal || seq.Tag != asn1.TagSequence {
		return nil, fmt.Errorf("parsing general names: expected SEQUENCE, got tag %d", seq.Tag)
	}
	return parseGeneralNameList(seq.Bytes)
}

func parseGeneralNameList(data []byte) (GeneralNames, error) {
	var out GeneralNames
	for len(data) > 0 {
		var rv asn1.RawValue
		var err error
		data, err = asn1.Unmarshal(data, &rv)
		if err != nil {
			return nil, fmt.Errorf("parsing general name: %w", err)
		}
		if rv.Class != asn1.ClassContextSpecific {
			return nil, fmt.Errorf("parsing general name: unexpected class %d", rv.Class)
		}
		if rv.Tag == TagIPAddress && len(rv.Bytes) != net.IPv4len && len(rv.Bytes) != net.IPv6len {
			return nil, fmt.Errorf("parsing general name: IP address of %d bytes", len(rv.Bytes))
		}
		out = append(out, GeneralName{Tag: rv.Tag, Compound: rv.IsCompound, Value: rv.Bytes})
	}
	return out, nil
}
