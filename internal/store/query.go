package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/wegman-software/navcompile-go/internal/navdata"
)

// Candidate is a persisted row an airway endpoint can resolve to
type Candidate struct {
	Table        string
	ID           int64
	Ident        string
	Region       string
	Type         navdata.NavaidType
	Pos          navdata.LatLon
	AirportIdent string
}

// Candidates returns all live navaids and airports
func (s *Store) Candidates(ctx context.Context) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT 'navaid', id, ident, COALESCE(region, ''), type, lat, lon, COALESCE(airport_ident, '')
		FROM navaid WHERE superseded_by IS NULL
		UNION ALL
		SELECT 'airport', id, ident, COALESCE(region, ''), 'AIRPORT', lat, lon, ident
		FROM airport`)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var typ string
		if err := rows.Scan(&c.Table, &c.ID, &c.Ident, &c.Region, &typ, &c.Pos.Lat, &c.Pos.Lon, &c.AirportIdent); err != nil {
			return nil, err
		}
		c.Type = navdata.NavaidType(typ)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ProcedureFixRef is an unlinked procedure fix
type ProcedureFixRef struct {
	ID     int64
	Ident  string
	Region string
	Pos    navdata.LatLon
	Prov   navdata.Provenance
}

// UnlinkedProcedureFixes returns procedure fixes without a navaid link
func (s *Store) UnlinkedProcedureFixes(ctx context.Context) ([]ProcedureFixRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ident, COALESCE(region, ''), lat, lon, COALESCE(src_file, ''), COALESCE(src_line, 0), COALESCE(src_offset, 0)
		FROM procedure_fix WHERE navaid_id IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query procedure fixes: %w", err)
	}
	defer rows.Close()

	var out []ProcedureFixRef
	for rows.Next() {
		var f ProcedureFixRef
		if err := rows.Scan(&f.ID, &f.Ident, &f.Region, &f.Pos.Lat, &f.Pos.Lon, &f.Prov.File, &f.Prov.Line, &f.Prov.Offset); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FixLink links a procedure fix to a navaid row
type FixLink struct {
	FixID    int64
	NavaidID int64
}

// SetProcedureFixNavaid stores the links in one transaction
func (s *Store) SetProcedureFixNavaid(ctx context.Context, links []FixLink) error {
	if len(links) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, l := range links {
			if _, err := tx.ExecContext(ctx, "UPDATE procedure_fix SET navaid_id = ? WHERE id = ?", l.NavaidID, l.FixID); err != nil {
				return fmt.Errorf("link procedure fix %d: %w", l.FixID, err)
			}
		}
		return nil
	})
}

// Edge is a resolved, directed airway edge
type Edge struct {
	Airway    string
	Class     navdata.AirwayClass
	FromTable string
	FromID    int64
	ToTable   string
	ToID      int64
	MinAltFt  int
	MaxAltFt  int
	LengthNM  float64
	// Radio marks edges with radio navaids at both ends
	Radio bool
	Prov  navdata.Provenance
}

// InsertEdges writes edges in one transaction. Radio edges also go to
// route_edge_radio.
func (s *Store) InsertEdges(ctx context.Context, edges []Edge) error {
	if len(edges) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, e := range edges {
			if err := insertEdge(ctx, tx, TableRouteEdge, e); err != nil {
				return err
			}
			if e.Radio {
				if err := insertEdge(ctx, tx, TableRouteEdgeRadio, e); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func insertEdge(ctx context.Context, tx execer, table string, e Edge) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO `+table+` (airway, class, from_table, from_id, to_table, to_id,
			min_alt_ft, max_alt_ft, length_nm, src_file, src_line, src_offset)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Airway, e.Class.String(), e.FromTable, e.FromID, e.ToTable, e.ToID,
		e.MinAltFt, e.MaxAltFt, e.LengthNM, e.Prov.File, e.Prov.Line, e.Prov.Offset)
	if err != nil {
		return fmt.Errorf("insert %s %s: %w", table, e.Airway, err)
	}
	return nil
}

// ClearRoutes removes all edges so the graph pass can run again
func (s *Store) ClearRoutes(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range []string{TableRouteEdge, TableRouteEdgeRadio} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("clear %s: %w", t, err)
			}
		}
		return nil
	})
}
