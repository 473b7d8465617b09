// Package archive keeps a sealed copy of reconciled key material.
//
// Each namespace holds one "current" record, replaced by compare-and-swap on
// every Save, and one history record per run. Records are sealed with
// AES-256-GCM under a key derived from the archive passphrase with Argon2id
// and then narrowed to the record slot with HKDF. The passphrase lives in a
// memguard enclave for the life of the Archive.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/awnumar/memguard"
	icrypto "github.com/jmcleod/ironcert/internal/crypto"
	"github.com/jmcleod/ironcert/internal/util"
	"github.com/jmcleod/ironcert/internal/uuid"
	"github.com/jmcleod/ironcert/storage"
)

// RecordTypeHistory is the record type of per-run history records. Their
// IDs can be listed without the passphrase.
const RecordTypeHistory = "history"

const (
	recordTypeMaterial = "material"
	recordIDCurrent    = "current"

	recordFormat = 1
	kdfArgon2id  = "argon2id"
)

// Record is one archived reconciliation outcome.
type Record struct {
	RunID                string    `json:"run_id"`
	ArchivedAt           time.Time `json:"archived_at"`
	PrivateKeyPEM        string    `json:"private_key"`
	CertificatePEM       string    `json:"certificate"`
	PrivateKeyGenerated  bool      `json:"private_key_generated"`
	CertificateGenerated bool      `json:"certificate_generated"`
	PrivateKeyReason     string    `json:"private_key_generated_reason,omitempty"`
	CertificateReason    string    `json:"certificate_generated_reason,omitempty"`

	// Version is the storage version of the current record. It is filled in
	// by Save and Load and is not part of the sealed payload.
	Version uint64 `json:"-"`
}

// Archive seals records into a storage.Repository.
type Archive struct {
	repo       storage.Repository
	passphrase *memguard.Enclave
	params     util.Argon2idParams
	clock      func() time.Time
	logger     *slog.Logger
}

// New returns an Archive over repo. The passphrase is NFKD-normalised and
// moved into an enclave.
func New(repo storage.Repository, passphrase string, opts ...Option) (*Archive, error) {
	if passphrase == "" {
		return nil, errors.New("archive passphrase must not be empty")
	}
	a := &Archive{
		repo:   repo,
		params: util.DefaultArgon2idParams(),
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := util.ValidateArgon2idParams(a.params); err != nil {
		return nil, fmt.Errorf("archive key derivation: %w", err)
	}
	a.logger = a.logger.With("component", "archive")
	a.passphrase = memguard.NewEnclave([]byte(util.Normalize(passphrase)))
	return a, nil
}

// Save seals rec as the namespace's current record and appends it to the
// namespace history, in one transaction. A missing RunID or ArchivedAt is
// filled in. It returns the new version of the current record.
func (a *Archive) Save(ctx context.Context, namespace string, rec Record) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := validateID(namespace, "namespace"); err != nil {
		return 0, err
	}
	if rec.RunID == "" {
		rec.RunID = uuid.New()
	}
	if err := validateID(rec.RunID, "run ID"); err != nil {
		return 0, err
	}
	if rec.ArchivedAt.IsZero() {
		rec.ArchivedAt = a.clock().UTC()
	}

	var expected uint64
	current, err := a.repo.Get(namespace, recordTypeMaterial, recordIDCurrent)
	switch {
	case err == nil:
		expected = current.Version
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrNamespaceNotFound):
	default:
		return 0, fmt.Errorf("reading current record: %w", err)
	}
	next := expected + 1

	plaintext, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("encoding record: %w", err)
	}
	defer util.WipeBytes(plaintext)

	profile, master, err := a.newMasterKey()
	if err != nil {
		return 0, err
	}
	defer util.WipeBytes(master)

	currentEnv, err := sealEnvelope(master, profile, namespace, recordTypeMaterial, recordIDCurrent, plaintext, next)
	if err != nil {
		return 0, err
	}
	historyEnv, err := sealEnvelope(master, profile, namespace, RecordTypeHistory, rec.RunID, plaintext, next)
	if err != nil {
		return 0, err
	}

	err = a.repo.Batch(namespace, func(tx storage.BatchTx) error {
		if err := tx.PutCAS(recordTypeMaterial, recordIDCurrent, expected, currentEnv); err != nil {
			return err
		}
		return tx.Put(RecordTypeHistory, rec.RunID, historyEnv)
	})
	if errors.Is(err, storage.ErrCASFailed) {
		return 0, fmt.Errorf("%w: namespace %s", ErrConflict, namespace)
	}
	if err != nil {
		return 0, fmt.Errorf("writing archive records: %w", err)
	}

	a.logger.LogAttrs(ctx, slog.LevelInfo, "archived material",
		slog.String("namespace", namespace),
		slog.String("run_id", rec.RunID),
		slog.Uint64("version", next))
	return next, nil
}

// Load returns the namespace's current record.
func (a *Archive) Load(ctx context.Context, namespace string) (*Record, error) {
	return a.load(ctx, namespace, recordTypeMaterial, recordIDCurrent)
}

// LoadRun returns the history record written by runID.
func (a *Archive) LoadRun(ctx context.Context, namespace, runID string) (*Record, error) {
	return a.load(ctx, namespace, RecordTypeHistory, runID)
}

// History lists the run IDs archived under namespace, oldest first.
func (a *Archive) History(ctx context.Context, namespace string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateID(namespace, "namespace"); err != nil {
		return nil, err
	}
	return a.repo.List(namespace, RecordTypeHistory)
}

func (a *Archive) load(ctx context.Context, namespace, recordType, recordID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateID(namespace, "namespace"); err != nil {
		return nil, err
	}
	env, err := a.repo.Get(namespace, recordType, recordID)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNamespaceNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, namespace, recordID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading archive record: %w", err)
	}

	plaintext, err := a.open(namespace, recordType, recordID, env)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(plaintext)

	var rec Record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("decoding archive record: %w", err)
	}
	rec.Version = env.Version
	a.logger.LogAttrs(ctx, slog.LevelDebug, "loaded archived material",
		slog.String("namespace", namespace),
		slog.String("record", recordID),
		slog.Uint64("version", env.Version))
	return &rec, nil
}

func (a *Archive) newMasterKey() (*storage.KDFProfile, []byte, error) {
	salt, err := util.NewSalt()
	if err != nil {
		return nil, nil, err
	}
	profile := &storage.KDFProfile{Name: kdfArgon2id, Salt: salt, Params: a.params}
	master, err := a.deriveMaster(profile)
	if err != nil {
		return nil, nil, err
	}
	return profile, master, nil
}

func (a *Archive) deriveMaster(profile *storage.KDFProfile) ([]byte, error) {
	buf, err := a.passphrase.Open()
	if err != nil {
		return nil, fmt.Errorf("opening passphrase enclave: %w", err)
	}
	defer buf.Destroy()
	return util.DeriveArgon2idKey(buf.Bytes(), profile.Salt, profile.Params)
}

func (a *Archive) open(namespace, recordType, recordID string, env *storage.Envelope) ([]byte, error) {
	if env.KDF == nil || env.KDF.Name != kdfArgon2id {
		return nil, fmt.Errorf("%w: unsupported key derivation", ErrDecrypt)
	}
	if err := util.ValidateArgon2idParams(env.KDF.Params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	master, err := a.deriveMaster(env.KDF)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(master)

	aad := icrypto.AADRecord(namespace, recordType, recordID, recordFormat)
	key, err := icrypto.DeriveRecordKey(master, aad)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(key)

	plaintext, err := storage.OpenRecord(key, env, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

func sealEnvelope(master []byte, profile *storage.KDFProfile, namespace, recordType, recordID string, plaintext []byte, version uint64) (*storage.Envelope, error) {
	aad := icrypto.AADRecord(namespace, recordType, recordID, recordFormat)
	key, err := icrypto.DeriveRecordKey(master, aad)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(key)

	env, err := storage.SealRecord(key, plaintext, aad, version)
	if err != nil {
		return nil, fmt.Errorf("sealing %s record: %w", recordType, err)
	}
	env.KDF = profile
	return env, nil
}
