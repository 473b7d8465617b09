package pki

import (
	"encoding/asn1"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// stringKind selects the ASN.1 string type used for an attribute value.
type stringKind int

const (
	kindUTF8 stringKind = iota
	kindPrintable
	kindIA5
)

// nameAttributeType describes one supported distinguished-name attribute.
type nameAttributeType struct {
	key   string // flat-config key, e.g. COMMON_NAME
	short string // RFC 4514 short name, e.g. CN
	oid   asn1.ObjectIdentifier
	kind  stringKind
}

// nameAttributeTypes lists supported attributes in canonical order. Names
// built from unordered maps place their attributes in this order.
var nameAttributeTypes = []nameAttributeType{
	{"COUNTRY_NAME", "C", asn1.ObjectIdentifier{2, 5, 4, 6}, kindPrintable},
	{"STATE_OR_PROVINCE_NAME", "ST", asn1.ObjectIdentifier{2, 5, 4, 8}, kindUTF8},
	{"LOCALITY_NAME", "L", asn1.ObjectIdentifier{2, 5, 4, 7}, kindUTF8},
	{"STREET_ADDRESS", "STREET", asn1.ObjectIdentifier{2, 5, 4, 9}, kindUTF8},
	{"POSTAL_CODE", "POSTALCODE", asn1.ObjectIdentifier{2, 5, 4, 17}, kindUTF8},
	{"ORGANIZATION_NAME", "O", asn1.ObjectIdentifier{2, 5, 4, 10}, kindUTF8},
	{"ORGANIZATIONAL_UNIT_NAME", "OU", asn1.ObjectIdentifier{2, 5, 4, 11}, kindUTF8},
	{"DOMAIN_COMPONENT", "DC", asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 25}, kindIA5},
	{"COMMON_NAME", "CN", asn1.ObjectIdentifier{2, 5, 4, 3}, kindUTF8},
	{"SURNAME", "SN", asn1.ObjectIdentifier{2, 5, 4, 4}, kindUTF8},
	{"GIVEN_NAME", "GN", asn1.ObjectIdentifier{2, 5, 4, 42}, kindUTF8},
	{"TITLE", "TITLE", asn1.ObjectIdentifier{2, 5, 4, 12}, kindUTF8},
	{"PSEUDONYM", "PSEUDONYM", asn1.ObjectIdentifier{2, 5, 4, 65}, kindUTF8},
	{"SERIAL_NUMBER", "SERIALNUMBER", asn1.ObjectIdentifier{2, 5, 4, 5}, kindPrintable},
	{"DN_QUALIFIER", "DNQUALIFIER", asn1.ObjectIdentifier{2, 5, 4, 46}, kindPrintable},
	{"USER_ID", "UID", asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 1}, kindUTF8},
	{"EMAIL_ADDRESS", "EMAILADDRESS", asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}, kindIA5},
}

func lookupAttribute(key string) (nameAttributeType, int, bool) {
	k := strings.ToUpper(strings.TrimSpace(key))
	if k == "E" {
		k = "EMAILADDRESS"
	}
	for i, t := range nameAttributeTypes {
		if t.key == k || t.short == k {
			return t, i, true
		}
	}
	return nameAttributeType{}, 0, false
}

// NameAttribute is one attribute of a distinguished name. Type is either
// the flat-config key (COMMON_NAME) or the short name (CN).
type NameAttribute struct {
	Type  string
	Value string
	// MultiValued puts the attribute in the same RDN as the attribute
	// before it, as "+" does in the string syntax.
	MultiValued bool
}

// Name is an ordered distinguished name. Each attribute starts a new RDN
// unless it is MultiValued.
type Name []NameAttribute

// NameFromAttributes converts flat-config NAME entries into a Name. The
// entries keep their order, which becomes the RDN order of the subject.
// Unknown attributes and attributes given twice are rejected.
func NameFromAttributes(attrs []NameAttribute) (Name, error) {
	name := make(Name, 0, len(attrs))
	seen := make(map[int]bool, len(attrs))
	for _, a := range attrs {
		t, idx, ok := lookupAttribute(a.Type)
		if !ok {
			return nil, configErrorf("unknown name attribute %q", a.Type)
		}
		if seen[idx] {
			return nil, configErrorf("name attribute %s is given more than once", t.key)
		}
		seen[idx] = true
		name = append(name, NameAttribute{Type: t.key, Value: a.Value})
	}
	return name, nil
}

// NameFromMap converts a NAME map into a Name. Go maps have no order, so
// the attributes are placed in canonical order.
func NameFromMap(m map[string]string) (Name, error) {
	attrs := make([]NameAttribute, 0, len(m))
	for k, v := range m {
		attrs = append(attrs, NameAttribute{Type: k, Value: v})
	}
	rank := func(a NameAttribute) int {
		if _, idx, ok := lookupAttribute(a.Type); ok {
			return idx
		}
		return len(nameAttributeTypes)
	}
	slices.SortFunc(attrs, func(a, b NameAttribute) int {
		if d := rank(a) - rank(b); d != 0 {
			return d
		}
		return strings.Compare(a.Type, b.Type)
	})
	return NameFromAttributes(attrs)
}

// ParseDistinguishedName parses an RFC 4514-style string such as
// "CN=example,O=Example Inc". Attributes keep the order they are written
// in. "+" joins attributes into a multi-valued RDN. A backslash escapes
// the following character, and a backslash followed by two hex digits
// stands for that byte. Spaces around types and values are ignored unless
// escaped. Hex-encoded "#" values are not supported.
func ParseDistinguishedName(s string) (Name, error) {
	var (
		name  Name
		multi bool
	)
	i := 0
	for {
		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			return nil, configErrorf("malformed distinguished name component %q in %q", s[i:], s)
		}
		typ := strings.TrimSpace(s[i : i+eq])
		if typ == "" || strings.ContainsAny(typ, `,+\`) {
			return nil, configErrorf("malformed distinguished name component %q in %q", s[i:], s)
		}
		value, sep, next, err := parseDNValue(s, i+eq+1)
		if err != nil {
			return nil, err
		}
		name = append(name, NameAttribute{Type: typ, Value: value, MultiValued: multi})
		if sep == 0 {
			return name, nil
		}
		multi = sep == '+'
		i = next
	}
}

// parseDNValue reads the attribute value starting at s[i]. It returns the
// unescaped value, the separator that ended it (0 at the end of s) and the
// index just past that separator.
func parseDNValue(s string, i int) (string, byte, int, error) {
	for i < len(s) && s[i] == ' ' {
		i++
	}
	var (
		buf  []byte
		keep int // trailing unescaped spaces are dropped
	)
	for i < len(s) {
		c := s[i]
		switch {
		case c == ',' || c == '+':
			return string(buf[:keep]), c, i + 1, nil
		case c == '\\':
			if i+1 >= len(s) {
				return "", 0, 0, configErrorf("distinguished name %q ends with an escape", s)
			}
			if i+2 < len(s) && isHexDigit(s[i+1]) && isHexDigit(s[i+2]) {
				buf = append(buf, unhex(s[i+1])<<4|unhex(s[i+2]))
				i += 3
			} else {
				buf = append(buf, s[i+1])
				i += 2
			}
			keep = len(buf)
			continue
		default:
			buf = append(buf, c)
			if c != ' ' {
				keep = len(buf)
			}
		}
		i++
	}
	return string(buf[:keep]), 0, i, nil
}

func isHexDigit(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c <= '9':
		return c - '0'
	case c <= 'F':
		return c - 'A' + 10
	default:
		return c - 'a' + 10
	}
}

// Marshal returns the DER encoding of n as an RDNSequence.
func (n Name) Marshal() ([]byte, error) {
	if len(n) == 0 {
		return nil, configErrorf("name must have at least one attribute")
	}
	rdns := make([]relativeDistinguishedNameSET, 0, len(n))
	for _, attr := range n {
		t, _, ok := lookupAttribute(attr.Type)
		if !ok {
			return nil, configErrorf("unknown name attribute %q", attr.Type)
		}
		value, err := encodeAttributeValue(t, attr.Value)
		if err != nil {
			return nil, err
		}
		atv := attributeTypeAndValue{Type: t.oid, Value: value}
		if attr.MultiValued && len(rdns) > 0 {
			rdns[len(rdns)-1] = append(rdns[len(rdns)-1], atv)
			continue
		}
		rdns = append(rdns, relativeDistinguishedNameSET{atv})
	}
	return asn1.Marshal(rdns)
}

// attributeTypeAndValue mirrors pkix.AttributeTypeAndValue with a raw
// value so the string type is chosen explicitly.
type attributeTypeAndValue struct {
	Type  asn1.ObjectIdentifier
	Value asn1.RawValue
}

// relativeDistinguishedNameSET is encoded as a SET OF; encoding/asn1 keys
// that off the "SET" suffix of the type name.
type relativeDistinguishedNameSET []attributeTypeAndValue

func encodeAttributeValue(t nameAttributeType, value string) (asn1.RawValue, error) {
	if value == "" {
		return asn1.RawValue{}, configErrorf("name attribute %s must not be empty", t.key)
	}
	if !utf8.ValidString(value) {
		return asn1.RawValue{}, configErrorf("name attribute %s is not valid UTF-8", t.key)
	}
	tag := asn1.TagUTF8String
	switch t.kind {
	case kindPrintable:
		if !isPrintableString(value) {
			return asn1.RawValue{}, configErrorf("name attribute %s contains characters outside PrintableString: %q", t.key, value)
		}
		tag = asn1.TagPrintableString
	case kindIA5:
		if !isIA5String(value) {
			return asn1.RawValue{}, configErrorf("name attribute %s must be ASCII: %q", t.key, value)
		}
		tag = asn1.TagIA5String
	}
	if t.key == "COUNTRY_NAME" && len(value) != 2 {
		return asn1.RawValue{}, configErrorf("country name must be a 2 character country code, got %q", value)
	}
	return asn1.RawValue{Class: asn1.ClassUniversal, Tag: tag, Bytes: []byte(value)}, nil
}

func isPrintableString(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case strings.IndexByte(" '()+,-./:=?", c) >= 0:
		default:
			return false
		}
	}
	return true
}

func isIA5String(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

var dnEscaper = strings.NewReplacer(`\`, `\\`, ",", `\,`, "+", `\+`)

// String renders n in the ParseDistinguishedName syntax.
func (n Name) String() string {
	var b strings.Builder
	for i, attr := range n {
		if i > 0 {
			if attr.MultiValued {
				b.WriteByte('+')
			} else {
				b.WriteByte(',')
			}
		}
		label := attr.Type
		if t, _, ok := lookupAttribute(attr.Type); ok {
			label = t.short
		}
		fmt.Fprintf(&b, "%s=%s", label, dnEscaper.Replace(attr.Value))
	}
	return b.String()
}
