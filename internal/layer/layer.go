// Package layer describes the tables of a compiled database as flat layers
// of typed columns plus one geometry, the shape both the PostGIS publish
// and the Parquet export consume.
package layer

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strings"

	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/store"
	"github.com/wegman-software/navcompile-go/internal/wkb"
)

// ColumnType is the value type of a column
type ColumnType uint8

const (
	Int64 ColumnType = iota
	Float64
	String
)

// Column is one attribute column
type Column struct {
	Name string
	Type ColumnType
}

// GeomKind is the geometry type of a layer
type GeomKind uint8

const (
	GeomNone GeomKind = iota
	GeomPoint
	GeomLine
	GeomPolygon
)

func (g GeomKind) String() string {
	switch g {
	case GeomPoint:
		return "Point"
	case GeomLine:
		return "LineString"
	case GeomPolygon:
		return "Polygon"
	}
	return ""
}

// Layer is a query over the compiled database. The query selects the
// columns in order, followed by lat, lon for points, the two endpoint
// lat, lon pairs for lines, or the stored ring blob for polygons.
type Layer struct {
	Name     string
	Table    string
	Columns  []Column
	Geometry GeomKind
	query    string
}

// Row is one layer row. Values hold int64, float64, string or nil per
// column; Geom is nil when the geometry could not be built.
type Row struct {
	Values []any
	Geom   []navdata.LatLon
}

// EWKB encodes the row geometry, nil when there is none
func (r Row) EWKB(enc *wkb.Encoder, kind GeomKind) []byte {
	switch {
	case kind == GeomPoint && len(r.Geom) == 1:
		return enc.EncodePoint(r.Geom[0])
	case kind == GeomLine && len(r.Geom) == 2:
		return enc.EncodeLine(r.Geom[0], r.Geom[1])
	case kind == GeomPolygon && len(r.Geom) > 2:
		return enc.EncodePolygon(r.Geom)
	}
	return nil
}

const edgeQuery = `
	SELECT e.id, e.airway, e.class, e.from_table, e.from_id, e.to_table, e.to_id,
		e.min_alt_ft, e.max_alt_ft, e.length_nm,
		COALESCE(fn.lat, fa.lat), COALESCE(fn.lon, fa.lon),
		COALESCE(tn.lat, ta.lat), COALESCE(tn.lon, ta.lon)
	FROM %s e
	LEFT JOIN navaid fn ON e.from_table = 'navaid' AND fn.id = e.from_id
	LEFT JOIN airport fa ON e.from_table = 'airport' AND fa.id = e.from_id
	LEFT JOIN navaid tn ON e.to_table = 'navaid' AND tn.id = e.to_id
	LEFT JOIN airport ta ON e.to_table = 'airport' AND ta.id = e.to_id
	ORDER BY e.id`

var edgeColumns = []Column{
	{"id", Int64}, {"airway", String}, {"class", String},
	{"from_table", String}, {"from_id", Int64}, {"to_table", String}, {"to_id", Int64},
	{"min_alt_ft", Int64}, {"max_alt_ft", Int64}, {"length_nm", Float64},
}

var layers = []Layer{
	{
		Name:  "metadata",
		Table: "nav_metadata",
		Columns: []Column{
			{"key", String}, {"value", String},
		},
		query: `SELECT key, value FROM metadata ORDER BY key`,
	},
	{
		Name:  "airports",
		Table: "nav_airport",
		Columns: []Column{
			{"id", Int64}, {"ident", String}, {"region", String}, {"name", String},
			{"elevation_ft", Int64}, {"format", String},
		},
		Geometry: GeomPoint,
		query:    `SELECT id, ident, region, name, elevation_ft, format, lat, lon FROM airport ORDER BY id`,
	},
	{
		Name:  "navaids",
		Table: "nav_navaid",
		Columns: []Column{
			{"id", Int64}, {"ident", String}, {"region", String}, {"type", String}, {"name", String},
			{"frequency_khz", Int64}, {"range_nm", Int64}, {"mag_var", Float64}, {"elevation_ft", Int64},
			{"airport_ident", String}, {"format", String},
		},
		Geometry: GeomPoint,
		query: `SELECT id, ident, region, type, name, frequency_khz, range_nm, mag_var, elevation_ft,
			airport_ident, format, lat, lon FROM navaid WHERE superseded_by IS NULL ORDER BY id`,
	},
	{
		Name:  "runways",
		Table: "nav_runway",
		Columns: []Column{
			{"id", Int64}, {"airport_ident", String}, {"designator", String}, {"heading", Float64},
			{"length_ft", Int64}, {"surface", String}, {"format", String},
		},
		Geometry: GeomPoint,
		query: `SELECT id, airport_ident, designator, heading, length_ft, surface, format, lat, lon
			FROM runway ORDER BY id`,
	},
	{
		Name:  "procedure_fixes",
		Table: "nav_procedure_fix",
		Columns: []Column{
			{"id", Int64}, {"airport_ident", String}, {"procedure", String}, {"seq", Int64},
			{"ident", String}, {"region", String}, {"navaid_id", Int64}, {"format", String},
		},
		Geometry: GeomPoint,
		query: `SELECT id, airport_ident, procedure, seq, ident, region, navaid_id, format, lat, lon
			FROM procedure_fix ORDER BY id`,
	},
	{
		Name:  "boundaries",
		Table: "nav_boundary",
		Columns: []Column{
			{"id", Int64}, {"name", String}, {"class", String}, {"min_alt", Int64}, {"max_alt", Int64},
			{"format", String},
		},
		Geometry: GeomPolygon,
		query:    `SELECT id, name, class, min_alt, max_alt, format, geom FROM boundary ORDER BY id`,
	},
	{
		Name:     "route_edges",
		Table:    "nav_route_edge",
		Columns:  edgeColumns,
		Geometry: GeomLine,
		query:    fmt.Sprintf(edgeQuery, store.TableRouteEdge),
	},
	{
		Name:     "radio_edges",
		Table:    "nav_route_edge_radio",
		Columns:  edgeColumns,
		Geometry: GeomLine,
		query:    fmt.Sprintf(edgeQuery, store.TableRouteEdgeRadio),
	},
}

// All returns every layer in publish order
func All() []Layer {
	return append([]Layer(nil), layers...)
}

// Names returns the names of all layers
func Names() []string {
	names := make([]string, len(layers))
	for i, l := range layers {
		names[i] = l.Name
	}
	return names
}

// Select returns the named layers, all of them when names is empty
func Select(names []string) ([]Layer, error) {
	if len(names) == 0 {
		return All(), nil
	}
	var out []Layer
	for _, n := range names {
		found := false
		for _, l := range layers {
			if l.Name == strings.TrimSpace(n) {
				out = append(out, l)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown layer %q (have %s)", n, strings.Join(Names(), ", "))
		}
	}
	return out, nil
}

// Rows streams the rows of l from db
func (l Layer) Rows(ctx context.Context, db *sql.DB) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		rows, err := db.QueryContext(ctx, l.query)
		if err != nil {
			yield(Row{}, fmt.Errorf("failed to query %s: %w", l.Name, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			row, err := l.scan(rows)
			if err != nil {
				yield(Row{}, fmt.Errorf("failed to scan %s: %w", l.Name, err))
				return
			}
			if !yield(row, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Row{}, err)
		}
	}
}

// Count returns the number of rows of l
func (l Layer) Count(ctx context.Context, db *sql.DB) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ("+l.query+")").Scan(&n)
	return n, err
}

func (l Layer) scan(rows *sql.Rows) (Row, error) {
	dest := make([]any, 0, len(l.Columns)+4)
	for _, c := range l.Columns {
		switch c.Type {
		case Int64:
			dest = append(dest, new(sql.NullInt64))
		case Float64:
			dest = append(dest, new(sql.NullFloat64))
		default:
			dest = append(dest, new(sql.NullString))
		}
	}
	var coords [4]sql.NullFloat64
	var blob []byte
	switch l.Geometry {
	case GeomPoint:
		dest = append(dest, &coords[0], &coords[1])
	case GeomLine:
		dest = append(dest, &coords[0], &coords[1], &coords[2], &coords[3])
	case GeomPolygon:
		dest = append(dest, &blob)
	}
	if err := rows.Scan(dest...); err != nil {
		return Row{}, err
	}

	row := Row{Values: make([]any, len(l.Columns))}
	for i := range l.Columns {
		switch v := dest[i].(type) {
		case *sql.NullInt64:
			if v.Valid {
				row.Values[i] = v.Int64
			}
		case *sql.NullFloat64:
			if v.Valid {
				row.Values[i] = v.Float64
			}
		case *sql.NullString:
			if v.Valid {
				row.Values[i] = v.String
			}
		}
	}

	switch l.Geometry {
	case GeomPoint:
		if coords[0].Valid && coords[1].Valid {
			row.Geom = []navdata.LatLon{{Lat: coords[0].Float64, Lon: coords[1].Float64}}
		}
	case GeomLine:
		if coords[0].Valid && coords[1].Valid && coords[2].Valid && coords[3].Valid {
			row.Geom = []navdata.LatLon{
				{Lat: coords[0].Float64, Lon: coords[1].Float64},
				{Lat: coords[2].Float64, Lon: coords[3].Float64},
			}
		}
	case GeomPolygon:
		if len(blob) > 0 {
			ring, err := wkb.DecodePolygon(blob)
			if err != nil {
				return Row{}, err
			}
			row.Geom = ring
		}
	}
	return row, nil
}
