package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironcert/archive"
	"github.com/jmcleod/ironcert/internal/util"
	"github.com/jmcleod/ironcert/pki"
	bboltstorage "github.com/jmcleod/ironcert/storage/bbolt"
)

var (
	archiveDB            string
	archivePassphraseEnv string
	archiveShowRun       string
	archiveShowPEM       string
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect the sealed archive written by apply --archive",
}

var archiveShowCmd = &cobra.Command{
	Use:   "show [namespace]",
	Short: "Print the archived record of a namespace",
	Long: `Opens the current record of a namespace (or the record of one run with
--run) and prints it as JSON, or prints only the certificate or private key
PEM with --pem.`,
	Args: cobra.ExactArgs(1),
	RunE: runArchiveShow,
}

var archiveHistoryCmd = &cobra.Command{
	Use:   "history [namespace]",
	Short: "List the runs archived under a namespace, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := bboltstorage.Open(archiveDB)
		if err != nil {
			return err
		}
		defer store.Close()
		runs, err := store.List(args[0], archive.RecordTypeHistory)
		if err != nil {
			return err
		}
		for _, id := range runs {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived namespaces",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := bboltstorage.Open(archiveDB)
		if err != nil {
			return err
		}
		defer store.Close()
		names, err := store.Namespaces()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	},
}

var archivePurgeCmd = &cobra.Command{
	Use:   "purge [namespace]",
	Short: "Delete a namespace and all of its records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := bboltstorage.Open(archiveDB)
		if err != nil {
			return err
		}
		defer store.Close()
		return store.DeleteNamespace(args[0])
	},
}

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.AddCommand(archiveShowCmd, archiveHistoryCmd, archiveListCmd, archivePurgeCmd)

	archiveCmd.PersistentFlags().StringVar(&archiveDB, "db", "ironcert.db", "Archive database file")
	archiveShowCmd.Flags().StringVar(&archivePassphraseEnv, "passphrase-env", defaultArchivePassphraseEnv, "Environment variable holding the archive passphrase")
	archiveShowCmd.Flags().StringVar(&archiveShowRun, "run", "", "Show the record of this run instead of the current one")
	archiveShowCmd.Flags().StringVar(&archiveShowPEM, "pem", "", "Print only the certificate or key PEM: certificate|private_key")
}

type shownRecord struct {
	RunID                string            `json:"run_id"`
	ArchivedAt           time.Time         `json:"archived_at"`
	Version              uint64            `json:"version,omitempty"`
	PrivateKeyGenerated  bool              `json:"private_key_generated"`
	CertificateGenerated bool              `json:"certificate_generated"`
	PrivateKeyReason     string            `json:"private_key_generated_reason,omitempty"`
	CertificateReason    string            `json:"certificate_generated_reason,omitempty"`
	Certificate          map[string]string `json:"certificate,omitempty"`
}

func runArchiveShow(cmd *cobra.Command, args []string) error {
	switch archiveShowPEM {
	case "", "certificate", "private_key":
	default:
		return fmt.Errorf("--pem must be certificate or private_key, got %q", archiveShowPEM)
	}

	store, err := bboltstorage.Open(archiveDB)
	if err != nil {
		return err
	}
	defer store.Close()

	// Opening existing records never derives a new key, so the cost profile
	// here only has to be valid.
	a, err := openArchive(store, archivePassphraseEnv, util.KDFProfileInteractive)
	if err != nil {
		return err
	}

	var rec *archive.Record
	if archiveShowRun != "" {
		rec, err = a.LoadRun(cmd.Context(), args[0], archiveShowRun)
	} else {
		rec, err = a.Load(cmd.Context(), args[0])
	}
	if err != nil {
		return err
	}

	switch archiveShowPEM {
	case "certificate":
		_, err = fmt.Fprint(cmd.OutOrStdout(), rec.CertificatePEM)
		return err
	case "private_key":
		_, err = fmt.Fprint(cmd.OutOrStdout(), rec.PrivateKeyPEM)
		return err
	}

	out := shownRecord{
		RunID:                rec.RunID,
		ArchivedAt:           rec.ArchivedAt,
		Version:              rec.Version,
		PrivateKeyGenerated:  rec.PrivateKeyGenerated,
		CertificateGenerated: rec.CertificateGenerated,
		PrivateKeyReason:     rec.PrivateKeyReason,
		CertificateReason:    rec.CertificateReason,
	}
	if cert, err := pki.ParseCertificatePEM([]byte(rec.CertificatePEM)); err == nil {
		out.Certificate = pki.DescribeCertificate(cert, time.Now())
	}
	return writeJSON(cmd.OutOrStdout(), out)
}
