package storage

import (
	"fmt"

	"github.com/jmcleod/ironcert/internal/util"
)

const (
	envelopeVersion = 1
	schemeAESGCM    = "aes256gcm"
)

// KDFProfile records how the sealing key of an envelope was derived from a
// passphrase. Salt is random per envelope.
type KDFProfile struct {
	Name   string              `json:"name"`
	Salt   []byte              `json:"salt"`
	Params util.Argon2idParams `json:"params"`
}

// Envelope is a sealed record containing AES-256-GCM encrypted data.
type Envelope struct {
	Ver        int         `json:"ver"`
	Scheme     string      `json:"scheme"`
	KDF        *KDFProfile `json:"kdf,omitempty"`
	Nonce      []byte      `json:"nonce"`
	Ciphertext []byte      `json:"ciphertext"`
	Version    uint64      `json:"version,omitempty"`
}

// SealRecord encrypts plaintext into an Envelope using the given record key
// and AAD. The envelope carries version for compare-and-swap writes.
func SealRecord(recordKey, plaintext, aad []byte, version uint64) (*Envelope, error) {
	nonce, ciphertext, err := util.SealAESGCM(recordKey, plaintext, aad)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Ver:        envelopeVersion,
		Scheme:     schemeAESGCM,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		Version:    version,
	}, nil
}

// OpenRecord decrypts an Envelope using the given record key and AAD.
func OpenRecord(recordKey []byte, envelope *Envelope, aad []byte) ([]byte, error) {
	if envelope.Ver != envelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	if envelope.Scheme != schemeAESGCM {
		return nil, fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}
	return util.OpenAESGCM(recordKey, envelope.Nonce, envelope.Ciphertext, aad)
}

// Clone returns a deep copy of e.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	cp := &Envelope{
		Ver:        e.Ver,
		Scheme:     e.Scheme,
		Nonce:      util.CopyBytes(e.Nonce),
		Ciphertext: util.CopyBytes(e.Ciphertext),
		Version:    e.Version,
	}
	if e.KDF != nil {
		cp.KDF = &KDFProfile{Name: e.KDF.Name, Salt: util.CopyBytes(e.KDF.Salt), Params: e.KDF.Params}
	}
	return cp
}
