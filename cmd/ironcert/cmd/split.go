package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironcert/pki"
)

var (
	splitOutDir string
	splitPrefix string
)

var splitCmd = &cobra.Command{
	Use:   "split [bundle-file]",
	Short: "Split a PEM bundle into individual certificates",
	Long: `Reads a PEM bundle (from a file, or stdin when the file is "-" or omitted)
and prints its certificates as a JSON list of PEM strings, in bundle order.
Blocks that are not certificates are skipped. With --out-dir each certificate
is written to <prefix>-<n>.pem instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSplit,
}

func init() {
	rootCmd.AddCommand(splitCmd)
	splitCmd.Flags().StringVar(&splitOutDir, "out-dir", "", "Write each certificate to a file in this directory")
	splitCmd.Flags().StringVar(&splitPrefix, "prefix", "cert", "File name prefix used with --out-dir")
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}

func runSplit(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, args)
	if err != nil {
		return fmt.Errorf("reading bundle: %w", err)
	}
	parts := pki.SplitCertificates(data)

	if splitOutDir == "" {
		out := make([]string, len(parts))
		for i, p := range parts {
			out[i] = string(p)
		}
		return writeJSON(cmd.OutOrStdout(), out)
	}

	if err := os.MkdirAll(splitOutDir, 0o755); err != nil {
		return err
	}
	for i, p := range parts {
		name := filepath.Join(splitOutDir, fmt.Sprintf("%s-%d.pem", splitPrefix, i))
		if err := os.WriteFile(name, p, 0o644); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}
