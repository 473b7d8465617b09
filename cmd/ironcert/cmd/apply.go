package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jmcleod/ironcert/internal/util"
	"github.com/jmcleod/ironcert/reconcile"
	bboltstorage "github.com/jmcleod/ironcert/storage/bbolt"
)

var (
	applyPassphraseEnv        string
	applyCAPassphraseEnv      string
	applyArchivePath          string
	applyArchivePassphraseEnv string
	applyNamespace            string
	applyKDFProfile           string
	applyRedact               bool
	applyMetricsFile          string
)

var applyCmd = &cobra.Command{
	Use:   "apply [request-file]",
	Short: "Reconcile the private key and certificate described by a request file",
	Long: `Reads a YAML or JSON request file, reuses the private key and certificate
it names when they still match, regenerates them when they do not, and prints
the merged result as JSON.

Passphrases can be kept out of the request file with --passphrase-env and
--ca-passphrase-env. With --archive the result is also sealed into a local
archive database under --namespace (default: the request file name).
With --metrics-file the run outcome and certificate expiry are written in the
Prometheus text format, for a node_exporter textfile collector.`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().StringVar(&applyPassphraseEnv, "passphrase-env", "", "Environment variable holding the private key passphrase")
	applyCmd.Flags().StringVar(&applyCAPassphraseEnv, "ca-passphrase-env", "", "Environment variable holding the authority private key passphrase")
	applyCmd.Flags().StringVar(&applyArchivePath, "archive", "", "Archive database file to record the result in")
	applyCmd.Flags().StringVar(&applyArchivePassphraseEnv, "archive-passphrase-env", defaultArchivePassphraseEnv, "Environment variable holding the archive passphrase")
	applyCmd.Flags().StringVar(&applyNamespace, "namespace", "", "Archive namespace and metrics target (default: request file name without extension)")
	applyCmd.Flags().StringVar(&applyKDFProfile, "kdf-profile", util.KDFProfileModerate, "Archive key derivation cost: interactive, moderate or sensitive")
	applyCmd.Flags().BoolVar(&applyRedact, "redact", false, "Omit the private key from the printed result")
	applyCmd.Flags().StringVar(&applyMetricsFile, "metrics-file", "", "Write Prometheus metrics for this run to a file (*.prom)")
}

func runApply(cmd *cobra.Command, args []string) error {
	req, err := reconcile.LoadRequest(args[0])
	if err != nil {
		return err
	}
	if applyPassphraseEnv != "" {
		if req.PrivateKeyPassphrase, err = secretFromEnv(applyPassphraseEnv); err != nil {
			return err
		}
	}
	if applyCAPassphraseEnv != "" {
		if req.CertificateAuthority == nil {
			return fmt.Errorf("--ca-passphrase-env given but the request has no certificate_authority")
		}
		if req.CertificateAuthority.PrivateKeyPassphrase, err = secretFromEnv(applyCAPassphraseEnv); err != nil {
			return err
		}
	}

	ns := applyNamespace
	if ns == "" {
		ns = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	}

	opts := []reconcile.Option{reconcile.WithLogger(slog.Default())}
	if applyArchivePath != "" {
		store, err := bboltstorage.Open(applyArchivePath)
		if err != nil {
			return err
		}
		defer store.Close()

		a, err := openArchive(store, applyArchivePassphraseEnv, applyKDFProfile)
		if err != nil {
			return err
		}
		opts = append(opts, reconcile.WithArchive(a, ns))
	}

	var registry *prometheus.Registry
	if applyMetricsFile != "" {
		registry = prometheus.NewRegistry()
		m, err := reconcile.NewMetrics(registry)
		if err != nil {
			return err
		}
		opts = append(opts, reconcile.WithMetrics(m, ns))
	}

	res, runErr := reconcile.New(opts...).Run(cmd.Context(), *req)
	if registry != nil {
		// Written for failed runs as well.
		if err := prometheus.WriteToTextfile(applyMetricsFile, registry); err != nil {
			slog.Warn("writing metrics file", slog.String("path", applyMetricsFile), slog.Any("error", err))
		}
	}
	if runErr != nil {
		return runErr
	}
	if applyRedact {
		res.PrivateKey = ""
	}
	return writeJSON(cmd.OutOrStdout(), res)
}
