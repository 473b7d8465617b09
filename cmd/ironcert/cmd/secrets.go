package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jmcleod/ironcert/archive"
	"github.com/jmcleod/ironcert/internal/util"
	"github.com/jmcleod/ironcert/storage"
)

const defaultArchivePassphraseEnv = "IRONCERT_ARCHIVE_PASSPHRASE"

// secretFromEnv reads a secret from the environment variable name. Secrets
// are never taken from argv, where other users can read them.
func secretFromEnv(name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return v, nil
}

func openArchive(repo storage.Repository, passphraseEnv, kdfProfile string) (*archive.Archive, error) {
	passphrase, err := secretFromEnv(passphraseEnv)
	if err != nil {
		return nil, fmt.Errorf("archive passphrase: %w", err)
	}
	params, err := util.Argon2idProfile(kdfProfile)
	if err != nil {
		return nil, err
	}
	return archive.New(repo, passphrase, archive.WithKDFParams(params))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
