package cmd

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/navcompile-go/internal/logger"
	"github.com/wegman-software/navcompile-go/internal/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Re-run the integrity checks on a compiled database",
	Long: `Check a compiled database for dangling route edges and fix links,
unlinked procedure fixes, exact and coordinate duplicates and empty tables.
Findings replace the validation_finding table and can be written as CSV.
Exits non-zero when a referential check fails.`,
	Run: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&cfg.FindingsCSV, "findings", "", "Write findings to this CSV file")
	validateCmd.Flags().StringVar(&cfg.BaselineCSV, "baseline", "", "Only report findings missing from this CSV file")
	validateCmd.Flags().Float64Var(&cfg.CoordToleranceM, "coord-tolerance", cfg.CoordToleranceM, "Distance in meters under which two rows count as duplicates")
	validateCmd.Flags().BoolVar(&allowPartial, "allow-incomplete", false, "Validate a database whose compile did not finish")
}

func runValidate(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx := cmd.Context()
	start := time.Now()

	st, err := openCompiled(ctx)
	if err != nil {
		exitWithError("failed to open compiled database", err)
	}
	defer st.Close()

	rep, err := validate.New(st, validate.Options{CoordToleranceM: cfg.CoordToleranceM}).Run(ctx)
	if err != nil {
		exitWithError("validation failed", err)
	}
	if err := rep.Save(ctx, st.DB()); err != nil {
		exitWithError("failed to store findings", err)
	}

	findings := rep.Findings
	if cfg.BaselineCSV != "" {
		f, err := os.Open(cfg.BaselineCSV)
		if err != nil {
			exitWithError("failed to open baseline", err)
		}
		baseline, err := validate.ReadCSV(f)
		f.Close()
		if err != nil {
			exitWithError("failed to read baseline", err)
		}
		findings = rep.NewSince(baseline)
		log.Info("Compared against baseline",
			zap.Int("baseline", len(baseline)),
			zap.Int("new", len(findings)))
	}

	for _, f := range findings {
		log.Info(f.Message,
			zap.String("check", f.Check),
			zap.String("severity", f.Severity),
			zap.String("table", f.Table),
			zap.Int64("row_id", f.RowID))
	}

	if cfg.FindingsCSV != "" {
		if err := writeFindingsCSV(cfg.FindingsCSV, rep); err != nil {
			exitWithError("failed to write findings", err)
		}
	}

	log.Info("Validation complete",
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
		zap.Int("findings", len(rep.Findings)),
		zap.Any("by_check", rep.Count()),
		zap.Any("tables", rep.Tables))
	if rep.Fatal() {
		exitWithError("referential integrity check failed", nil)
	}
}

func writeFindingsCSV(path string, rep *validate.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := rep.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
