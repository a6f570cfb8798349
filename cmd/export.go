package cmd

import (
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/navcompile-go/internal/export"
	"github.com/wegman-software/navcompile-go/internal/layer"
	"github.com/wegman-software/navcompile-go/internal/logger"
	"github.com/wegman-software/navcompile-go/internal/proj"
)

var exportBatch int

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the compiled layers as GeoParquet-style files",
	Long: `Write one zstd compressed Parquet file per layer with a WKB geometry
column (geom_wkb) in the chosen projection.`,
	Run: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&cfg.OutputDir, "output-dir", "o", cfg.OutputDir, "Directory for the Parquet files")
	exportCmd.Flags().StringVarP(&projectionStr, "projection", "E", "4326", "Geometry projection SRID (4326 or 3857)")
	exportCmd.Flags().StringSliceVarP(&layerNames, "layer", "l", nil, "Layers to export (default all)")
	exportCmd.Flags().IntVar(&exportBatch, "row-group", 65536, "Rows per record batch")
	exportCmd.Flags().BoolVar(&allowPartial, "allow-incomplete", false, "Export a database whose compile did not finish")
}

func runExport(cmd *cobra.Command, args []string) {
	log := logger.Get()

	srid, err := proj.ParseSRID(projectionStr)
	if err != nil {
		exitWithError("invalid projection", err)
	}
	layers, err := layer.Select(layerNames)
	if err != nil {
		exitWithError("invalid layer", err)
	}

	ctx := cmd.Context()
	st, err := openCompiled(ctx)
	if err != nil {
		exitWithError("failed to open compiled database", err)
	}
	defer st.Close()

	log.Info("Starting Parquet export",
		zap.String("database", cfg.Database),
		zap.String("output_dir", cfg.OutputDir),
		zap.Int("projection", srid),
		zap.Int("layers", len(layers)),
	)
	start := time.Now()

	stats, err := export.Export(ctx, st.DB(), layers, export.Options{
		Dir:       cfg.OutputDir,
		SRID:      srid,
		BatchSize: exportBatch,
		Workers:   cfg.Workers,
	})
	if err != nil {
		exitWithError("export failed", err)
	}

	var rows int64
	for _, n := range stats {
		rows += n
	}
	log.Info("Export complete",
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
		zap.Int("files", len(stats)),
		zap.Int64("rows", rows),
	)
}
