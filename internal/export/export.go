// Package export writes the layers of a compiled database to Parquet files
package export

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/navcompile-go/internal/layer"
	"github.com/wegman-software/navcompile-go/internal/logger"
	"github.com/wegman-software/navcompile-go/internal/wkb"
)

// Options configures an export
type Options struct {
	Dir       string
	SRID      int
	BatchSize int
	Workers   int
}

// Stats maps layer names to exported row counts
type Stats map[string]int64

// Export writes one <layer>.parquet file per layer into opts.Dir
func Export(ctx context.Context, db *sql.DB, layers []layer.Layer, opts Options) (Stats, error) {
	log := logger.Get()
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if opts.SRID == 0 {
		opts.SRID = wkb.SRID4326
	}
	if _, err := wkb.NewEncoder(opts.SRID); err != nil {
		return nil, err
	}

	stats := make(Stats, len(layers))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Workers, 1))
	for _, l := range layers {
		g.Go(func() error {
			start := time.Now()
			path := filepath.Join(opts.Dir, l.Name+".parquet")
			n, err := exportLayer(gctx, db, l, path, opts)
			if err != nil {
				return fmt.Errorf("failed to export %s: %w", l.Name, err)
			}
			mu.Lock()
			stats[l.Name] = n
			mu.Unlock()
			log.Info("Layer exported",
				zap.String("layer", l.Name),
				zap.String("file", path),
				zap.Int64("rows", n),
				zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

func exportLayer(ctx context.Context, db *sql.DB, l layer.Layer, path string, opts Options) (int64, error) {
	// Encoders keep a scratch buffer, one per layer
	enc, err := wkb.NewEncoder(opts.SRID)
	if err != nil {
		return 0, err
	}
	w, err := NewLayerWriter(path, l, enc, opts.BatchSize)
	if err != nil {
		return 0, err
	}
	for row, err := range l.Rows(ctx, db) {
		if err != nil {
			w.Close()
			return 0, err
		}
		if err := w.Write(row); err != nil {
			w.Close()
			return 0, err
		}
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return w.Written(), nil
}
