// Package publish copies a compiled database into PostgreSQL/PostGIS
package publish

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/navcompile-go/internal/config"
	"github.com/wegman-software/navcompile-go/internal/layer"
	"github.com/wegman-software/navcompile-go/internal/logger"
	"github.com/wegman-software/navcompile-go/internal/wkb"
)

// Stats holds publish statistics
type Stats struct {
	RowsLoaded int64
	Tables     map[string]int64
}

// Publisher loads layers into PostgreSQL
type Publisher struct {
	cfg           *config.Config
	pool          *pgxpool.Pool
	dropExisting  bool
	createIndexes bool
}

// NewPublisher connects to the PostgreSQL server of cfg
func NewPublisher(ctx context.Context, cfg *config.Config, dropExisting, createIndexes bool) (*Publisher, error) {
	if _, err := wkb.NewEncoder(cfg.Projection); err != nil {
		return nil, err
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = int32(max(cfg.Workers, 2))

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	return &Publisher{
		cfg:           cfg,
		pool:          pool,
		dropExisting:  dropExisting,
		createIndexes: createIndexes,
	}, nil
}

// Close closes connections
func (p *Publisher) Close() {
	p.pool.Close()
}

// Pool returns the connection pool
func (p *Publisher) Pool() *pgxpool.Pool { return p.pool }

// Run publishes layers read from db
func (p *Publisher) Run(ctx context.Context, db *sql.DB, layers []layer.Layer) (*Stats, error) {
	log := logger.Get()
	stats := &Stats{Tables: make(map[string]int64, len(layers))}

	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS postgis"); err != nil {
		return nil, fmt.Errorf("failed to create PostGIS extension: %w", err)
	}
	if p.cfg.DBSchema != "public" {
		if _, err := p.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{p.cfg.DBSchema}.Sanitize()); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	// Phase 1: load all tables in parallel, without indexes
	type loadResult struct {
		layer layer.Layer
		count int64
	}
	results := make(chan loadResult, len(layers))
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range layers {
		g.Go(func() error {
			start := time.Now()
			log.Info("Publishing table", zap.String("table", l.Table))
			n, err := p.loadTable(gctx, db, l)
			if err != nil {
				return fmt.Errorf("failed to publish %s: %w", l.Table, err)
			}
			log.Info("Table published", zap.String("table", l.Table), zap.Int64("rows", n),
				zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
			results <- loadResult{l, n}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(results)
	for r := range results {
		stats.Tables[r.layer.Table] = r.count
		stats.RowsLoaded += r.count
	}

	// Phase 2: create all indexes in parallel
	if p.createIndexes {
		log.Info("Creating indexes in parallel", zap.Int("tables", len(layers)))
		ig, igctx := errgroup.WithContext(ctx)
		for _, l := range layers {
			ig.Go(func() error {
				return p.createTableIndexes(igctx, l)
			})
		}
		if err := ig.Wait(); err != nil {
			return nil, fmt.Errorf("failed to create indexes: %w", err)
		}
		log.Info("All indexes created")
	}

	return stats, nil
}

func (p *Publisher) qualified(table string) string {
	return pgx.Identifier{p.cfg.DBSchema, table}.Sanitize()
}

func pgType(t layer.ColumnType) string {
	switch t {
	case layer.Int64:
		return "BIGINT"
	case layer.Float64:
		return "DOUBLE PRECISION"
	}
	return "TEXT"
}

// createTableSQL returns the DDL of the published table of l
func createTableSQL(table string, l layer.Layer, srid int) string {
	cols := make([]string, 0, len(l.Columns)+1)
	for _, c := range l.Columns {
		cols = append(cols, fmt.Sprintf("%s %s", pgx.Identifier{c.Name}.Sanitize(), pgType(c.Type)))
	}
	if l.Geometry != layer.GeomNone {
		cols = append(cols, fmt.Sprintf("geom GEOMETRY(%s, %d)", l.Geometry, srid))
	}
	return fmt.Sprintf("CREATE UNLOGGED TABLE IF NOT EXISTS %s (\n\t%s\n)", table, strings.Join(cols, ",\n\t"))
}

// copyColumns returns the columns of the temp table COPY writes into
func copyColumns(l layer.Layer) []string {
	cols := make([]string, 0, len(l.Columns)+1)
	for _, c := range l.Columns {
		cols = append(cols, c.Name)
	}
	if l.Geometry != layer.GeomNone {
		cols = append(cols, "geom_wkb")
	}
	return cols
}

// loadTable creates the table of l and fills it with COPY
func (p *Publisher) loadTable(ctx context.Context, db *sql.DB, l layer.Layer) (int64, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	table := p.qualified(l.Table)
	if p.dropExisting {
		if _, err := conn.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", table)); err != nil {
			return 0, fmt.Errorf("failed to drop table: %w", err)
		}
	}
	if _, err := conn.Exec(ctx, createTableSQL(table, l, p.cfg.Projection)); err != nil {
		return 0, fmt.Errorf("failed to create table: %w", err)
	}
	if !p.dropExisting {
		if _, err := conn.Exec(ctx, fmt.Sprintf("TRUNCATE %s", table)); err != nil {
			return 0, fmt.Errorf("failed to truncate table: %w", err)
		}
	}

	count, err := p.copyLayer(ctx, conn.Conn(), db, table, l)
	if err != nil {
		return 0, err
	}

	if _, err := conn.Exec(ctx, fmt.Sprintf("ALTER TABLE %s SET LOGGED", table)); err != nil {
		logger.Get().Warn("Table stays unlogged", zap.String("table", table), zap.Error(err))
	}
	return count, nil
}

// copyLayer streams the rows of l through COPY into a temp table and
// converts the EWKB column on the way into table
func (p *Publisher) copyLayer(ctx context.Context, conn *pgx.Conn, db *sql.DB, table string, l layer.Layer) (int64, error) {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tempTable := "nav_load_" + l.Name
	var tempCols []string
	for _, c := range l.Columns {
		tempCols = append(tempCols, fmt.Sprintf("%s %s", pgx.Identifier{c.Name}.Sanitize(), pgType(c.Type)))
	}
	if l.Geometry != layer.GeomNone {
		tempCols = append(tempCols, "geom_wkb BYTEA")
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE TEMP TABLE %s (%s) ON COMMIT DROP",
		tempTable, strings.Join(tempCols, ", "))); err != nil {
		return 0, fmt.Errorf("failed to create temp table: %w", err)
	}

	enc, err := wkb.NewEncoder(p.cfg.Projection)
	if err != nil {
		return 0, err
	}
	src := newRowSource(ctx, db, l, enc)
	defer src.stop()

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, copyColumns(l), src)
	if err != nil {
		return 0, fmt.Errorf("COPY failed: %w", err)
	}

	cols := make([]string, len(l.Columns))
	for i, c := range l.Columns {
		cols[i] = pgx.Identifier{c.Name}.Sanitize()
	}
	selectCols := strings.Join(cols, ", ")
	insertCols := selectCols
	if l.Geometry != layer.GeomNone {
		// EWKB already carries the SRID
		insertCols += ", geom"
		selectCols += ", ST_GeomFromEWKB(geom_wkb)"
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		table, insertCols, selectCols, tempTable)); err != nil {
		return 0, fmt.Errorf("failed to insert from temp table: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return copyCount, nil
}

// createTableIndexes creates the spatial and lookup indexes of one table
func (p *Publisher) createTableIndexes(ctx context.Context, l layer.Layer) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SET maintenance_work_mem = '1GB'"); err != nil {
		logger.Get().Debug("maintenance_work_mem not raised", zap.Error(err))
	}

	table := p.qualified(l.Table)
	for _, stmt := range indexSQL(table, l) {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	_, err = conn.Exec(ctx, fmt.Sprintf("ANALYZE %s", table))
	return err
}

// indexSQL returns the index statements of the published table of l
func indexSQL(table string, l layer.Layer) []string {
	var out []string
	if l.Geometry != layer.GeomNone {
		out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_geom_idx ON %s USING GIST (geom)", l.Table, table))
	}
	for _, c := range l.Columns {
		switch c.Name {
		case "id", "ident", "airway", "airport_ident":
			out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_%s_idx ON %s (%s)", l.Table, c.Name, table, c.Name))
		}
	}
	return out
}
