package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/scenery"
	"github.com/wegman-software/navcompile-go/internal/wkb"
)

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// encodeRing stores boundary polygons as 4326 EWKB
func encodeRing(ring []navdata.LatLon) []byte {
	e, err := wkb.NewEncoder(wkb.SRID4326)
	if err != nil {
		return nil
	}
	return e.EncodePolygon(ring)
}

// insertRecord writes exactly one row for rec and returns its id
func insertRecord(ctx context.Context, tx execer, rec navdata.Record) (int64, error) {
	var (
		res sql.Result
		err error
	)
	b := rec.Common()
	prov := []any{b.Prov.File, b.Prov.Line, b.Prov.Offset}

	switch r := rec.(type) {
	case *navdata.Airport:
		res, err = tx.ExecContext(ctx,
			`INSERT INTO airport (ident, region, name, lat, lon, elevation_ft, format, src_file, src_line, src_offset)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			append([]any{r.Ident, r.Region, r.Name, r.Pos.Lat, r.Pos.Lon, r.ElevationFt, string(r.Format)}, prov...)...)
	case *navdata.Navaid:
		res, err = tx.ExecContext(ctx,
			`INSERT INTO navaid (ident, region, type, name, frequency_khz, range_nm, mag_var, elevation_ft, airport_ident, lat, lon, format, src_file, src_line, src_offset)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			append([]any{r.Ident, r.Region, string(r.Type), r.Name, r.FrequencyKHz, r.RangeNM, r.MagVar, r.ElevationFt,
				r.AirportIdent, r.Pos.Lat, r.Pos.Lon, string(r.Format)}, prov...)...)
	case *navdata.Runway:
		res, err = tx.ExecContext(ctx,
			`INSERT INTO runway (airport_ident, designator, heading, length_ft, surface, lat, lon, format, src_file, src_line, src_offset)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			append([]any{r.AirportIdent, r.Ident, r.HeadingDeg, r.LengthFt, r.Surface, r.Pos.Lat, r.Pos.Lon, string(r.Format)}, prov...)...)
	case *navdata.ProcedureFix:
		res, err = tx.ExecContext(ctx,
			`INSERT INTO procedure_fix (airport_ident, procedure, seq, ident, region, lat, lon, format, src_file, src_line, src_offset)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			append([]any{r.AirportIdent, r.Procedure, r.Seq, r.Ident, r.Region, r.Pos.Lat, r.Pos.Lon, string(r.Format)}, prov...)...)
	case *navdata.Boundary:
		lo, hi := r.Bounds()
		res, err = tx.ExecContext(ctx,
			`INSERT INTO boundary (name, class, min_alt, max_alt, min_lat, min_lon, max_lat, max_lon, geom, format, src_file, src_line, src_offset)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			append([]any{r.Ident, r.Class, r.MinAlt, r.MaxAlt, lo.Lat, lo.Lon, hi.Lat, hi.Lon, encodeRing(r.Points), string(r.Format)}, prov...)...)
	default:
		return 0, fmt.Errorf("unsupported record type %T", rec)
	}
	if err != nil {
		return 0, fmt.Errorf("insert %s %s: %w", rec.Kind(), b.Ident, err)
	}
	return res.LastInsertId()
}

// InsertAreas records the scenery areas of the run
func (s *Store) InsertAreas(ctx context.Context, areas []scenery.Area) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, a := range areas {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO scenery_area (path, title, layer, kind, enabled, valid, encrypted) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				a.Path, a.Title, a.Layer, string(a.Kind), a.Enabled, a.Valid, a.Encrypted); err != nil {
				return fmt.Errorf("insert scenery area %s: %w", a.Path, err)
			}
		}
		return nil
	})
}
