package pki

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"

	"github.com/youmark/pkcs8"
)

// Defaults applied to zero-valued spec fields.
const (
	DefaultPublicExponent             = 65537
	DefaultKeyBits                    = 2048
	DefaultKeyFileMode    os.FileMode = 0o400
	DefaultCertFileMode   os.FileMode = 0o444
)

const (
	pemTypeRSAPrivateKey       = "RSA PRIVATE KEY"
	pemTypeECPrivateKey        = "EC PRIVATE KEY"
	pemTypePKCS8PrivateKey     = "PRIVATE KEY"
	pemTypeEncryptedPrivateKey = "ENCRYPTED PRIVATE KEY"
)

// KeySpec describes the desired private key. Path and Content are mutually
// exclusive sources for existing material; both empty means generate.
type KeySpec struct {
	Path       string
	Content    []byte
	Passphrase string

	PublicExponent int // default 65537
	KeyBits        int // default 2048

	PersistPath string
	FileMode    os.FileMode // default 0400
}

func (s KeySpec) withDefaults() KeySpec {
	if s.PublicExponent == 0 {
		s.PublicExponent = DefaultPublicExponent
	}
	if s.KeyBits == 0 {
		s.KeyBits = DefaultKeyBits
	}
	if s.FileMode == 0 {
		s.FileMode = DefaultKeyFileMode
	}
	return s
}

func (s KeySpec) validate() error {
	if s.Path != "" && len(s.Content) > 0 {
		return configErrorf("only one of private key path or private key content can be specified")
	}
	if s.KeyBits < 0 {
		return configErrorf("key size must be positive, got %d", s.KeyBits)
	}
	if s.PublicExponent < 0 {
		return configErrorf("public exponent must be positive, got %d", s.PublicExponent)
	}
	if err := checkNotDir("private key path", s.Path); err != nil {
		return err
	}
	return checkNotDir("private key persist path", s.PersistPath)
}

// KeyResult is the outcome of KeyManager.Obtain.
type KeyResult struct {
	Key       *rsa.PrivateKey
	PEM       []byte
	Generated bool
	// Reason names the first failed check when Generated is true.
	Reason string
}

// KeyManager loads or generates RSA private keys matching a KeySpec.
type KeyManager struct {
	backend Backend
	logger  *slog.Logger
}

// NewKeyManager returns a KeyManager configured by opts.
func NewKeyManager(opts ...Option) *KeyManager {
	o := newManagerOptions(opts)
	return &KeyManager{
		backend: o.backend,
		logger:  o.logger.With("component", "pki.key"),
	}
}

// Obtain returns a private key satisfying spec, reusing the existing key
// when its size and exponent match and generating a new one otherwise.
// When PersistPath is set the PEM is written there on every call.
func (m *KeyManager) Obtain(ctx context.Context, spec KeySpec) (*KeyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	spec = spec.withDefaults()
	if err := spec.validate(); err != nil {
		return nil, err
	}

	var d decision
	data, absent, err := readSource("private key", spec.Path, spec.Content)
	if err != nil {
		return nil, err
	}
	if absent != "" {
		d.trigger("%s", absent)
	}

	var (
		key   *rsa.PrivateKey
		block *pem.Block
	)
	if data != nil {
		signer, blk, err := decodePrivateKey(data, spec.Passphrase)
		switch {
		case err != nil:
			d.trigger("private key content is invalid: %v", err)
		default:
			rsaKey, ok := signer.(*rsa.PrivateKey)
			if !ok {
				d.trigger("private key is %T, not RSA", signer)
			} else {
				key, block = rsaKey, blk
			}
		}
	}
	if key != nil {
		if got := key.N.BitLen(); got != spec.KeyBits {
			d.trigger("key size is %d bits, expected %d", got, spec.KeyBits)
		}
		if key.E != spec.PublicExponent {
			d.trigger("public exponent is %d, expected %d", key.E, spec.PublicExponent)
		}
	}

	var out []byte
	if d.regenerate {
		m.logger.LogAttrs(ctx, slog.LevelInfo, "generating private key",
			slog.String("reason", d.reason),
			slog.Int("bits", spec.KeyBits))
		key, err = m.backend.GenerateKey(spec.KeyBits, spec.PublicExponent)
		if err != nil {
			return nil, fmt.Errorf("generating private key: %w", err)
		}
		out, err = EncodePrivateKeyPEM(key, spec.Passphrase)
		if err != nil {
			return nil, err
		}
	} else {
		m.logger.LogAttrs(ctx, slog.LevelDebug, "reusing private key", slog.Int("bits", spec.KeyBits))
		out, err = reencodePrivateKey(key, block, spec.Passphrase)
		if err != nil {
			return nil, err
		}
	}

	if spec.PersistPath != "" {
		if err := writeFileAtomic(spec.PersistPath, out, spec.FileMode); err != nil {
			return nil, fmt.Errorf("persisting private key: %w", err)
		}
	}

	return &KeyResult{
		Key:       key,
		PEM:       out,
		Generated: d.regenerate,
		Reason:    d.reason,
	}, nil
}

// ---------------------------------------------------------------------------
// PEM encoding and decoding
// ---------------------------------------------------------------------------

// EncodePrivateKeyPEM serialises key as a PKCS#1 "RSA PRIVATE KEY" block,
// encrypted with AES-256-CBC when passphrase is non-empty.
func EncodePrivateKeyPEM(key *rsa.PrivateKey, passphrase string) ([]byte, error) {
	der := x509.MarshalPKCS1PrivateKey(key)
	if passphrase == "" {
		return pem.EncodeToMemory(&pem.Block{Type: pemTypeRSAPrivateKey, Bytes: der}), nil
	}
	// Legacy PEM encryption keeps the traditional OpenSSL layout that
	// existing consumers of these files read.
	block, err := x509.EncryptPEMBlock(rand.Reader, pemTypeRSAPrivateKey, der, []byte(passphrase), x509.PEMCipherAES256)
	if err != nil {
		return nil, fmt.Errorf("encrypting private key: %w", err)
	}
	return pem.EncodeToMemory(block), nil
}

// ParsePrivateKeyPEM decodes the first PEM block of data into a signer.
// PKCS#1, SEC1, PKCS#8, legacy-encrypted and encrypted PKCS#8 blocks are
// accepted. A passphrase must be given for encrypted blocks and must not
// be given for unencrypted ones.
func ParsePrivateKeyPEM(data []byte, passphrase string) (crypto.Signer, error) {
	signer, _, err := decodePrivateKey(data, passphrase)
	return signer, err
}

func decodePrivateKey(data []byte, passphrase string) (crypto.Signer, *pem.Block, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, nil, fmt.Errorf("%w: no PEM block found", ErrInvalidPEM)
	}

	legacyEncrypted := x509.IsEncryptedPEMBlock(block)
	encrypted := legacyEncrypted || block.Type == pemTypeEncryptedPrivateKey
	switch {
	case encrypted && passphrase == "":
		return nil, nil, fmt.Errorf("%w: private key is encrypted but no passphrase was given", ErrInvalidPEM)
	case !encrypted && passphrase != "":
		return nil, nil, fmt.Errorf("%w: passphrase was given but private key is not encrypted", ErrInvalidPEM)
	}

	der := block.Bytes
	if legacyEncrypted {
		var err error
		der, err = x509.DecryptPEMBlock(block, []byte(passphrase))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case pemTypeRSAPrivateKey:
		key, err = x509.ParsePKCS1PrivateKey(der)
	case pemTypeECPrivateKey:
		key, err = x509.ParseECPrivateKey(der)
	case pemTypePKCS8PrivateKey:
		key, err = x509.ParsePKCS8PrivateKey(der)
	case pemTypeEncryptedPrivateKey:
		key, err = pkcs8.ParsePKCS8PrivateKey(der, []byte(passphrase))
	default:
		return nil, nil, fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidPEM, block.Type)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %T is not a signing key", ErrUnsupportedKey, key)
	}
	return signer, block, nil
}

// reencodePrivateKey returns the PEM for a reused key. Traditional RSA
// blocks and encrypted PKCS#8 blocks are emitted verbatim so repeated runs
// produce identical bytes. Unencrypted PKCS#8 is converted to the
// traditional format.
func reencodePrivateKey(key *rsa.PrivateKey, block *pem.Block, passphrase string) ([]byte, error) {
	if block != nil {
		switch block.Type {
		case pemTypeRSAPrivateKey, pemTypeEncryptedPrivateKey:
			return pem.EncodeToMemory(block), nil
		}
	}
	return EncodePrivateKeyPEM(key, passphrase)
}
