package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/wegman-software/navcompile-go/internal/logger"
)

// Table names
const (
	TableMetadata          = "metadata"
	TableSceneryArea       = "scenery_area"
	TableAirport           = "airport"
	TableNavaid            = "navaid"
	TableRunway            = "runway"
	TableProcedureFix      = "procedure_fix"
	TableBoundary          = "boundary"
	TableMergeLog          = "merge_log"
	TableRouteEdge         = "route_edge"
	TableRouteEdgeRadio    = "route_edge_radio"
	TableValidationFinding = "validation_finding"
)

const provColumns = `
		src_file TEXT,
		src_line INTEGER,
		src_offset INTEGER`

const edgeColumns = `(
		id INTEGER PRIMARY KEY,
		airway TEXT NOT NULL,
		class TEXT NOT NULL,
		from_table TEXT NOT NULL,
		from_id INTEGER NOT NULL,
		to_table TEXT NOT NULL,
		to_id INTEGER NOT NULL,
		min_alt_ft INTEGER,
		max_alt_ft INTEGER,
		length_nm REAL NOT NULL,` + provColumns + `
	)`

// tables in creation order
var tables = []struct {
	name   string
	schema string
}{
	{TableMetadata, `(
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`},
	{TableSceneryArea, `(
		id INTEGER PRIMARY KEY,
		path TEXT NOT NULL,
		title TEXT,
		layer INTEGER NOT NULL,
		kind TEXT NOT NULL,
		enabled INTEGER NOT NULL,
		valid INTEGER NOT NULL,
		encrypted INTEGER NOT NULL
	)`},
	{TableAirport, `(
		id INTEGER PRIMARY KEY,
		ident TEXT NOT NULL,
		region TEXT,
		name TEXT,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		elevation_ft INTEGER,
		format TEXT NOT NULL,` + provColumns + `
	)`},
	{TableNavaid, `(
		id INTEGER PRIMARY KEY,
		ident TEXT NOT NULL,
		region TEXT,
		type TEXT NOT NULL,
		name TEXT,
		frequency_khz INTEGER,
		range_nm INTEGER,
		mag_var REAL,
		elevation_ft INTEGER,
		airport_ident TEXT,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		format TEXT NOT NULL,
		superseded_by INTEGER,` + provColumns + `
	)`},
	{TableRunway, `(
		id INTEGER PRIMARY KEY,
		airport_ident TEXT NOT NULL,
		designator TEXT NOT NULL,
		heading REAL,
		length_ft INTEGER,
		surface TEXT,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		format TEXT NOT NULL,` + provColumns + `
	)`},
	{TableProcedureFix, `(
		id INTEGER PRIMARY KEY,
		airport_ident TEXT NOT NULL,
		procedure TEXT NOT NULL,
		seq INTEGER NOT NULL,
		ident TEXT NOT NULL,
		region TEXT,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		navaid_id INTEGER,
		format TEXT NOT NULL,` + provColumns + `
	)`},
	{TableBoundary, `(
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		class TEXT,
		min_alt INTEGER,
		max_alt INTEGER,
		min_lat REAL NOT NULL,
		min_lon REAL NOT NULL,
		max_lat REAL NOT NULL,
		max_lon REAL NOT NULL,
		geom BLOB,
		format TEXT NOT NULL,` + provColumns + `
	)`},
	{TableMergeLog, `(
		id INTEGER PRIMARY KEY,
		vortac_id INTEGER NOT NULL,
		vor_id INTEGER NOT NULL,
		tacan_id INTEGER NOT NULL,
		ident TEXT NOT NULL,
		region TEXT
	)`},
	{TableRouteEdge, edgeColumns},
	{TableRouteEdgeRadio, edgeColumns},
	{TableValidationFinding, `(
		id INTEGER PRIMARY KEY,
		check_name TEXT NOT NULL,
		severity TEXT NOT NULL,
		table_name TEXT,
		row_id INTEGER,
		other_row_id INTEGER,
		message TEXT NOT NULL
	)`},
}

// DataTables lists the tables holding compiled navdata, for statistics
var DataTables = []string{
	TableAirport, TableNavaid, TableRunway, TableProcedureFix, TableBoundary,
	TableRouteEdge, TableRouteEdgeRadio, TableMergeLog,
}

// IndexScope selects a group of indexes that can be built independently
type IndexScope string

const (
	ScopeAirport  IndexScope = "airport"
	ScopeSearch   IndexScope = "search"
	ScopeBoundary IndexScope = "boundary"
	ScopeRoute    IndexScope = "route"
)

// AllScopes in build order
var AllScopes = []IndexScope{ScopeAirport, ScopeSearch, ScopeBoundary, ScopeRoute}

var indexes = map[IndexScope][]string{
	ScopeAirport: {
		"CREATE INDEX IF NOT EXISTS idx_airport_ident ON airport (ident)",
		"CREATE INDEX IF NOT EXISTS idx_runway_airport ON runway (airport_ident)",
		"CREATE INDEX IF NOT EXISTS idx_procedure_fix_airport ON procedure_fix (airport_ident, procedure, seq)",
	},
	ScopeSearch: {
		"CREATE INDEX IF NOT EXISTS idx_navaid_ident_region ON navaid (ident, region)",
		"CREATE INDEX IF NOT EXISTS idx_navaid_type ON navaid (type)",
		"CREATE INDEX IF NOT EXISTS idx_navaid_lat ON navaid (lat)",
		"CREATE INDEX IF NOT EXISTS idx_airport_name ON airport (name)",
	},
	ScopeBoundary: {
		"CREATE INDEX IF NOT EXISTS idx_boundary_bbox ON boundary (min_lat, max_lat, min_lon, max_lon)",
	},
	ScopeRoute: {
		"CREATE INDEX IF NOT EXISTS idx_route_edge_from ON route_edge (from_table, from_id)",
		"CREATE INDEX IF NOT EXISTS idx_route_edge_to ON route_edge (to_table, to_id)",
		"CREATE INDEX IF NOT EXISTS idx_route_edge_airway ON route_edge (airway)",
		"CREATE INDEX IF NOT EXISTS idx_route_edge_radio_from ON route_edge_radio (from_table, from_id)",
		"CREATE INDEX IF NOT EXISTS idx_route_edge_radio_to ON route_edge_radio (to_table, to_id)",
	},
}

// ParseScope parses an index scope name
func ParseScope(s string) (IndexScope, error) {
	scope := IndexScope(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := indexes[scope]; !ok {
		return "", fmt.Errorf("unknown index scope %q", s)
	}
	return scope, nil
}

// CreateSchema creates all tables and moves the database to schema-created
func (s *Store) CreateSchema(ctx context.Context) error {
	log := logger.Get()
	for _, t := range tables {
		log.Debug("Creating table", zap.String("table", t.name))
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s %s", t.name, t.schema)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.name, err)
		}
	}
	return s.SetState(ctx, StateSchemaCreated)
}

// DropSchema drops every table, leaving an empty database
func (s *Store) DropSchema(ctx context.Context) error {
	log := logger.Get()
	for i := len(tables) - 1; i >= 0; i-- {
		name := tables[i].name
		log.Debug("Dropping table", zap.String("table", name))
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", name)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", name, err)
		}
	}
	return nil
}

// ClearData empties every table but metadata and forgets the AIRAC cycle,
// so a kept schema can be filled again from scratch
func (s *Store) ClearData(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for i := len(tables) - 1; i >= 0; i-- {
			name := tables[i].name
			if name == TableMetadata {
				continue
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+name); err != nil {
				return fmt.Errorf("clear %s: %w", name, err)
			}
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM metadata WHERE key = ?", MetaAiracCycle); err != nil {
			return fmt.Errorf("clear %s: %w", MetaAiracCycle, err)
		}
		return nil
	})
}

// CreateIndexes builds the indexes of one scope
func (s *Store) CreateIndexes(ctx context.Context, scope IndexScope) error {
	stmts, ok := indexes[scope]
	if !ok {
		return fmt.Errorf("unknown index scope %q", scope)
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", scope, err)
		}
	}
	logger.Get().Debug("Indexes created", zap.String("scope", string(scope)), zap.Int("count", len(stmts)))
	return nil
}

// Indexes lists the names of all navcompile indexes present
func (s *Store) Indexes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'index' AND name LIKE 'idx_%'")
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, rows.Err()
}

// DropAllIndexes drops every index so a bulk load runs unindexed
func (s *Store) DropAllIndexes(ctx context.Context) error {
	names, err := s.Indexes(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, err := s.db.ExecContext(ctx, "DROP INDEX IF EXISTS "+name); err != nil {
			return fmt.Errorf("failed to drop index %s: %w", name, err)
		}
	}
	return nil
}
