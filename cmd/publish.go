package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/navcompile-go/internal/layer"
	"github.com/wegman-software/navcompile-go/internal/logger"
	"github.com/wegman-software/navcompile-go/internal/proj"
	"github.com/wegman-software/navcompile-go/internal/publish"
	"github.com/wegman-software/navcompile-go/internal/store"
)

var (
	createIndexes bool
	dropExisting  bool
	projectionStr string
	layerNames    []string
	allowPartial  bool
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Load the compiled database into PostgreSQL/PostGIS",
	Long: `Copy the layers of a compiled database into PostGIS tables.

This stage:
  1. Creates nav_* tables with geometry columns in the target projection
  2. Uses COPY for high-speed bulk loading
  3. Optionally creates spatial and lookup indexes

Layers are loaded in parallel. Available layers: ` + fmt.Sprint(layer.Names()),
	Run: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().BoolVar(&createIndexes, "create-indexes", true, "Create spatial indexes after loading")
	publishCmd.Flags().BoolVar(&dropExisting, "drop-existing", false, "Drop existing tables before loading")
	publishCmd.Flags().StringVarP(&projectionStr, "projection", "E", "4326", "Target projection SRID (4326 or 3857)")
	publishCmd.Flags().StringSliceVarP(&layerNames, "layer", "l", nil, "Layers to publish (default all)")
	publishCmd.Flags().BoolVar(&allowPartial, "allow-incomplete", false, "Publish a database whose compile did not finish")
}

// openCompiled opens the compiled database and checks that a compile
// finished on it
func openCompiled(ctx context.Context) (*store.Store, error) {
	if _, err := os.Stat(cfg.Database); err != nil {
		return nil, fmt.Errorf("compiled database: %w", err)
	}
	st, err := store.Open(cfg.Database, store.Options{BatchSize: cfg.BatchSize, JournalMode: cfg.JournalMode})
	if err != nil {
		return nil, err
	}
	state, err := st.State(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}
	switch state {
	case store.StateIndexed, store.StateValidated:
	case store.StateGraphResolved, store.StatePopulated, store.StateIncomplete:
		if !allowPartial {
			st.Close()
			return nil, fmt.Errorf("database %s is %s, rerun compile or pass --allow-incomplete", cfg.Database, state)
		}
		logger.Get().Warn("Using a database whose compile did not finish", zap.String("state", string(state)))
	default:
		st.Close()
		return nil, fmt.Errorf("database %s holds no compiled data (state %s)", cfg.Database, state)
	}
	return st, nil
}

func runPublish(cmd *cobra.Command, args []string) {
	log := logger.Get()

	srid, err := proj.ParseSRID(projectionStr)
	if err != nil {
		exitWithError("invalid projection", err)
	}
	cfg.Projection = srid
	layers, err := layer.Select(layerNames)
	if err != nil {
		exitWithError("invalid layer", err)
	}

	log.Info("Starting PostgreSQL publish",
		zap.String("database", cfg.Database),
		zap.String("target", fmt.Sprintf("%s:%d/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)),
		zap.String("user", cfg.DBUser),
		zap.String("schema", cfg.DBSchema),
		zap.Int("projection", cfg.Projection),
		zap.Int("layers", len(layers)),
	)

	ctx := cmd.Context()
	start := time.Now()

	st, err := openCompiled(ctx)
	if err != nil {
		exitWithError("failed to open compiled database", err)
	}
	defer st.Close()

	pub, err := publish.NewPublisher(ctx, cfg, dropExisting, createIndexes)
	if err != nil {
		exitWithError("failed to create publisher", err)
	}
	defer pub.Close()

	stats, err := pub.Run(ctx, st.DB(), layers)
	if err != nil {
		exitWithError("publish failed", err)
	}

	elapsed := time.Since(start)
	log.Info("Publish complete",
		zap.Duration("duration", elapsed.Round(time.Second)),
		zap.Int64("rows", stats.RowsLoaded),
		zap.Any("tables", stats.Tables),
		zap.Float64("throughput_rows_s", float64(stats.RowsLoaded)/elapsed.Seconds()),
	)
}
