package reconcile

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"github.com/jmcleod/ironcert/pki"
	"gopkg.in/yaml.v3"
)

// Request is the flat option set of one reconciliation run. Field names
// follow the request file format, so existing playbook variables can be
// written out unchanged.
type Request struct {
	PrivateKeyPath       string `yaml:"private_key_path"`
	PrivateKeyContent    string `yaml:"private_key_content"`
	PrivateKeyPassphrase string `yaml:"private_key_passphrase"`
	PublicExponent       int    `yaml:"public_exponent"`
	KeySize              int    `yaml:"key_size"`

	CertificatePath    string `yaml:"certificate_path"`
	CertificateContent string `yaml:"certificate_content"`

	Properties           Properties        `yaml:"properties"`
	CertificateAuthority *AuthorityRequest `yaml:"certificate_authority"`

	PrivateKeyPermission  FileMode `yaml:"private_key_permission"`
	CertificatePermission FileMode `yaml:"certificate_permission"`
}

// AuthorityRequest names the issuing certificate and its private key. Each
// needs exactly one of path or content. A certificate bundle is accepted;
// its first certificate is the issuer and the rest extend the chain.
type AuthorityRequest struct {
	PrivateKeyPath       string `yaml:"private_key_path"`
	PrivateKeyContent    string `yaml:"private_key_content"`
	PrivateKeyPassphrase string `yaml:"private_key_passphrase"`
	CertificatePath      string `yaml:"certificate_path"`
	CertificateContent   string `yaml:"certificate_content"`
}

// Properties describes the desired certificate. A *Critical flag is only
// valid when its base property is present.
type Properties struct {
	Name Name `yaml:"NAME"`

	SetPublicKey *bool `yaml:"SetPublicKey"`

	SetAuthorityKeyIdentifier         bool  `yaml:"SetAuthorityKeyIdentifier"`
	SetAuthorityKeyIdentifierCritical *bool `yaml:"SetAuthorityKeyIdentifierCritical"`

	SetSubjectKeyIdentifier         bool  `yaml:"SetSubjectKeyIdentifier"`
	SetSubjectKeyIdentifierCritical *bool `yaml:"SetSubjectKeyIdentifierCritical"`

	// KeyUsage maps flag names (digital_signature, key_cert_sign, ...) to
	// their value. Present but empty still yields the extension.
	KeyUsage         map[string]bool `yaml:"KeyUsage"`
	KeyUsageCritical *bool           `yaml:"KeyUsageCritical"`

	ExtendedKeyUsage         []string `yaml:"ExtendedKeyUsage"`
	ExtendedKeyUsageCritical *bool    `yaml:"ExtendedKeyUsageCritical"`

	BasicConstraints         *BasicConstraints `yaml:"BasicConstraints"`
	BasicConstraintsCritical *bool             `yaml:"BasicConstraintsCritical"`

	SubjectAlternativeName         []string `yaml:"SubjectAlternativeName"`
	SubjectAlternativeNameCritical *bool    `yaml:"SubjectAlternativeNameCritical"`

	NotValidAfter int `yaml:"not_valid_after"`
}

// Name holds the NAME attributes of a request, such as COMMON_NAME or CN.
// Decoded from YAML it keeps the order the attributes are written in, which
// becomes the RDN order of the subject.
type Name []pki.NameAttribute

// NameFromMap returns the attributes of m in canonical order, for requests
// built in Go rather than decoded from a file.
func NameFromMap(m map[string]string) Name {
	name, err := pki.NameFromMap(m)
	if err != nil {
		// Unknown or repeated attributes are reported by toPKI.
		name = make(pki.Name, 0, len(m))
		for k, v := range m {
			name = append(name, pki.NameAttribute{Type: k, Value: v})
		}
	}
	return Name(name)
}

func (n *Name) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		*n = nil
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: NAME must be a mapping", value.Line)
	}
	out := make(Name, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		k, v := value.Content[i], value.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: NAME.%s must be a string", v.Line, k.Value)
		}
		out = append(out, pki.NameAttribute{Type: k.Value, Value: v.Value})
	}
	*n = out
	return nil
}

type BasicConstraints struct {
	CA         bool `yaml:"ca"`
	PathLength *int `yaml:"path_length"`
}

// FileMode is a permission value that decodes from an integer or an octal
// string such as "0o600" or "0644".
type FileMode os.FileMode

func (m *FileMode) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: file permission must be a scalar", value.Line)
	}
	n, err := strconv.ParseUint(value.Value, 0, 32)
	if err != nil {
		return fmt.Errorf("line %d: invalid file permission %q", value.Line, value.Value)
	}
	if n&^uint64(os.ModePerm) != 0 {
		return fmt.Errorf("line %d: file permission %q has bits outside 0777", value.Line, value.Value)
	}
	*m = FileMode(n)
	return nil
}

// ParseRequest decodes a YAML request. JSON is valid YAML, so JSON request
// files decode the same way. Unknown fields are rejected.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: decoding request: %v", pki.ErrConfig, err)
	}
	return &req, nil
}

// LoadRequest reads and decodes a request file.
func LoadRequest(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading request file: %w", err)
	}
	return ParseRequest(data)
}

// toPKI converts the flat properties into engine properties.
func (p Properties) toPKI() (pki.Properties, error) {
	out := pki.Properties{
		SetPublicKey:                      p.SetPublicKey,
		SetAuthorityKeyIdentifier:         p.SetAuthorityKeyIdentifier,
		SetAuthorityKeyIdentifierCritical: p.SetAuthorityKeyIdentifierCritical,
		SetSubjectKeyIdentifier:           p.SetSubjectKeyIdentifier,
		SetSubjectKeyIdentifierCritical:   p.SetSubjectKeyIdentifierCritical,
		KeyUsageCritical:                  p.KeyUsageCritical,
		ExtendedKeyUsage:                  p.ExtendedKeyUsage,
		ExtendedKeyUsageCritical:          p.ExtendedKeyUsageCritical,
		BasicConstraintsCritical:          p.BasicConstraintsCritical,
		SubjectAlternativeName:            p.SubjectAlternativeName,
		SubjectAlternativeNameCritical:    p.SubjectAlternativeNameCritical,
		NotValidAfterDays:                 p.NotValidAfter,
	}
	if len(p.Name) > 0 {
		name, err := pki.NameFromAttributes(p.Name)
		if err != nil {
			return pki.Properties{}, err
		}
		out.Name = name
	}
	if p.KeyUsage != nil {
		ku, err := pki.KeyUsageFromMap(p.KeyUsage)
		if err != nil {
			return pki.Properties{}, err
		}
		out.KeyUsage = &ku
	}
	if p.BasicConstraints != nil {
		out.BasicConstraints = &pki.BasicConstraints{
			CA:         p.BasicConstraints.CA,
			PathLength: p.BasicConstraints.PathLength,
		}
	}
	return out, nil
}
