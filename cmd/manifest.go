package cmd

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/navcompile-go/internal/diag"
	"github.com/wegman-software/navcompile-go/internal/logger"
	"github.com/wegman-software/navcompile-go/internal/scenery"
)

var (
	manifestBase      string
	manifestNormalize string
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Work with scenery_packs.ini style manifests",
}

var manifestCheckCmd = &cobra.Command{
	Use:   "check <scenery_packs.ini>...",
	Short: "Parse manifests and check that every listed scenery directory is usable",
	Args:  cobra.MinimumNArgs(1),
	Run:   runManifestCheck,
}

func init() {
	rootCmd.AddCommand(manifestCmd)
	manifestCmd.AddCommand(manifestCheckCmd)

	manifestCheckCmd.Flags().StringVar(&manifestBase, "base", "", "Directory relative entries resolve against (default: parent of the manifest directory)")
	manifestCheckCmd.Flags().StringVar(&manifestNormalize, "write", "", "Write the first manifest back in canonical form to this file")
}

func runManifestCheck(cmd *cobra.Command, args []string) {
	log := logger.Get()
	failed := false

	for i, path := range args {
		ledger := diag.NewLedger("manifest")
		m, err := scenery.ParseManifestFile(path, ledger)
		if err != nil {
			log.Error("Manifest unreadable", zap.String("manifest", path), zap.Error(err))
			failed = true
			continue
		}
		cands := m.Candidates(manifestBase, scenery.KindCustom, ledger)
		ledger.Log(log)

		enabled := 0
		for _, c := range cands {
			if c.Enabled {
				enabled++
			}
		}
		log.Info("Manifest checked",
			zap.String("manifest", path),
			zap.Int("version", m.Version),
			zap.Int("entries", len(m.Entries)),
			zap.Int("usable", len(cands)),
			zap.Int("enabled", enabled),
			zap.Int("errors", ledger.Errors()),
			zap.Int("warnings", ledger.Count(diag.Warning)))
		if ledger.Errors() > 0 {
			failed = true
		}

		if i == 0 && manifestNormalize != "" {
			if err := writeManifest(manifestNormalize, m); err != nil {
				exitWithError("failed to write manifest", err)
			}
		}
	}
	if failed {
		exitWithError("manifest check failed", nil)
	}
}

func writeManifest(path string, m *scenery.Manifest) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := m.Serialize(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
