// Package validate runs post-build integrity checks over a compiled
// database. Checks never fail the run themselves; they produce findings
// and the caller decides what a fatal report means.
package validate

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/navcompile-go/internal/diag"
	"github.com/wegman-software/navcompile-go/internal/logger"
	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/store"
)

const metersPerDegreeLat = 111_320.0

// Options tunes the checks
type Options struct {
	// CoordToleranceM is the distance in meters under which two rows with
	// different natural keys count as coordinate duplicates
	CoordToleranceM float64
}

// DefaultOptions returns the default tolerances
func DefaultOptions() Options {
	return Options{CoordToleranceM: 5}
}

// Validator checks a populated store
type Validator struct {
	db   *sql.DB
	st   *store.Store
	opts Options
}

// New creates a validator over s
func New(s *store.Store, opts Options) *Validator {
	if opts.CoordToleranceM <= 0 {
		opts.CoordToleranceM = DefaultOptions().CoordToleranceM
	}
	return &Validator{db: s.DB(), st: s, opts: opts}
}

// Run executes every check and returns the report
func (v *Validator) Run(ctx context.Context) (*Report, error) {
	log := logger.Get()
	start := time.Now()
	r := &Report{}

	checks := []struct {
		name string
		fn   func(context.Context, *Report) error
	}{
		{"dangling edges", v.checkEdges},
		{"procedure fix links", v.checkFixLinks},
		{"exact duplicates", v.checkExactDuplicates},
		{"coordinate duplicates", v.checkCoordinateDuplicates},
		{"statistics", v.checkStatistics},
	}
	for _, c := range checks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		before := len(r.Findings)
		if err := c.fn(ctx, r); err != nil {
			return nil, fmt.Errorf("%s check: %w", c.name, err)
		}
		log.Debug("Validation check done", zap.String("check", c.name), zap.Int("findings", len(r.Findings)-before))
	}
	sortFindings(r.Findings)

	log.Info("Validation complete",
		zap.Int("findings", len(r.Findings)),
		zap.Bool("fatal", r.Fatal()),
		zap.Duration("duration", time.Since(start)))
	return r, nil
}

// endpointMissing matches edges whose %[1]s endpoint is absent or superseded
const endpointMissing = `
	SELECT e.id, e.%[1]s_table, e.%[1]s_id FROM %[2]s e
	WHERE (e.%[1]s_table = 'navaid' AND NOT EXISTS (
			SELECT 1 FROM navaid n WHERE n.id = e.%[1]s_id AND n.superseded_by IS NULL))
		OR (e.%[1]s_table = 'airport' AND NOT EXISTS (
			SELECT 1 FROM airport a WHERE a.id = e.%[1]s_id))
		OR e.%[1]s_table NOT IN ('navaid', 'airport')`

func (v *Validator) checkEdges(ctx context.Context, r *Report) error {
	for _, table := range []string{store.TableRouteEdge, store.TableRouteEdgeRadio} {
		for _, end := range []string{"from", "to"} {
			rows, err := v.db.QueryContext(ctx, fmt.Sprintf(endpointMissing, end, table))
			if err != nil {
				return err
			}
			type dangling struct {
				id, target  int64
				targetTable string
			}
			var found []dangling
			for rows.Next() {
				var d dangling
				if err := rows.Scan(&d.id, &d.targetTable, &d.target); err != nil {
					rows.Close()
					return err
				}
				found = append(found, d)
			}
			err = rows.Err()
			rows.Close()
			if err != nil {
				return err
			}
			for _, d := range found {
				r.add(CheckDanglingEdge, diag.Fatal, table, d.id, d.target,
					"%s endpoint %s#%d does not exist or is superseded", end, d.targetTable, d.target)
			}
		}
	}
	return nil
}

func (v *Validator) checkFixLinks(ctx context.Context, r *Report) error {
	type link struct {
		id      int64
		navaid  sql.NullInt64
		ident   string
		missing bool
	}
	rows, err := v.db.QueryContext(ctx, `
		SELECT f.id, f.navaid_id, f.ident,
			f.navaid_id IS NOT NULL AND NOT EXISTS (SELECT 1 FROM navaid n WHERE n.id = f.navaid_id)
		FROM procedure_fix f
		WHERE f.navaid_id IS NULL OR NOT EXISTS (SELECT 1 FROM navaid n WHERE n.id = f.navaid_id)`)
	if err != nil {
		return err
	}
	var links []link
	for rows.Next() {
		var l link
		if err := rows.Scan(&l.id, &l.navaid, &l.ident, &l.missing); err != nil {
			rows.Close()
			return err
		}
		links = append(links, l)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return err
	}

	for _, l := range links {
		if l.missing {
			r.add(CheckDanglingFixLink, diag.Fatal, store.TableProcedureFix, l.id, l.navaid.Int64,
				"fix %s links to missing navaid #%d", l.ident, l.navaid.Int64)
			continue
		}
		r.add(CheckUnlinkedFix, diag.Warning, store.TableProcedureFix, l.id, 0,
			"fix %s has no navaid link", l.ident)
	}
	return nil
}

var duplicateQueries = []struct {
	table string
	key   string
	query string
}{
	{store.TableNavaid, "ident, region, type", `
		SELECT n.id, d.first, n.ident FROM navaid n JOIN (
			SELECT MIN(id) AS first, ident, COALESCE(region, '') AS region, type FROM navaid
			WHERE superseded_by IS NULL
			GROUP BY ident, COALESCE(region, ''), type HAVING COUNT(*) > 1
		) d ON n.ident = d.ident AND COALESCE(n.region, '') = d.region AND n.type = d.type
		WHERE n.superseded_by IS NULL AND n.id <> d.first`},
	{store.TableAirport, "ident", `
		SELECT a.id, d.first, a.ident FROM airport a JOIN (
			SELECT MIN(id) AS first, ident FROM airport GROUP BY ident HAVING COUNT(*) > 1
		) d ON a.ident = d.ident
		WHERE a.id <> d.first`},
}

func (v *Validator) checkExactDuplicates(ctx context.Context, r *Report) error {
	for _, q := range duplicateQueries {
		type dup struct {
			id, first int64
			ident     string
		}
		rows, err := v.db.QueryContext(ctx, q.query)
		if err != nil {
			return err
		}
		var dups []dup
		for rows.Next() {
			var d dup
			if err := rows.Scan(&d.id, &d.first, &d.ident); err != nil {
				rows.Close()
				return err
			}
			dups = append(dups, d)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
		for _, d := range dups {
			r.add(CheckExactDuplicate, diag.Warning, q.table, d.id, d.first,
				"%s duplicates #%d on (%s)", d.ident, d.first, q.key)
		}
	}
	return nil
}

type point struct {
	id     int64
	ident  string
	region string
	pos    navdata.LatLon
}

func (v *Validator) loadPoints(ctx context.Context, query string) ([]point, error) {
	rows, err := v.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pts []point
	for rows.Next() {
		var p point
		if err := rows.Scan(&p.id, &p.ident, &p.region, &p.pos.Lat, &p.pos.Lon); err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	return pts, rows.Err()
}

func (v *Validator) checkCoordinateDuplicates(ctx context.Context, r *Report) error {
	sources := []struct {
		table string
		query string
	}{
		{store.TableNavaid, `SELECT id, ident, COALESCE(region, ''), lat, lon FROM navaid WHERE superseded_by IS NULL`},
		{store.TableAirport, `SELECT id, ident, COALESCE(region, ''), lat, lon FROM airport`},
	}
	for _, src := range sources {
		pts, err := v.loadPoints(ctx, src.query)
		if err != nil {
			return err
		}
		for _, pair := range sweep(pts, v.opts.CoordToleranceM) {
			a, b := pair[0], pair[1]
			r.add(CheckCoordinateDup, diag.Warning, src.table, a.id, b.id,
				"%s and %s are %.1f m apart", a.ident, b.ident, navdata.DistanceMeters(a.pos, b.pos))
		}
	}
	return nil
}

// sweep finds pairs closer than tolM by sorting on latitude and comparing
// each point only with its successors inside the latitude window. Pairs
// sharing ident and region are co-located components of one station.
func sweep(pts []point, tolM float64) [][2]point {
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].pos.Lat != pts[j].pos.Lat {
			return pts[i].pos.Lat < pts[j].pos.Lat
		}
		return pts[i].id < pts[j].id
	})
	window := tolM / metersPerDegreeLat

	var pairs [][2]point
	for i := range pts {
		for j := i + 1; j < len(pts) && pts[j].pos.Lat-pts[i].pos.Lat <= window; j++ {
			a, b := pts[i], pts[j]
			if a.ident == b.ident && a.region == b.region {
				continue
			}
			if navdata.DistanceMeters(a.pos, b.pos) > tolM {
				continue
			}
			if b.id < a.id {
				a, b = b, a
			}
			pairs = append(pairs, [2]point{a, b})
		}
	}
	return pairs
}

func (v *Validator) checkStatistics(ctx context.Context, r *Report) error {
	counts, err := v.st.Counts(ctx)
	if err != nil {
		return err
	}
	r.Tables = counts
	for _, table := range []string{store.TableAirport, store.TableNavaid} {
		if counts[table] == 0 {
			r.add(CheckEmptyTable, diag.Warning, table, 0, 0, "table %s is empty", table)
		}
	}

	var xplane int64
	if err := v.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM navaid WHERE format = ?", string(navdata.FormatXPlane)).Scan(&xplane); err != nil {
		return err
	}
	if xplane > 0 {
		cycle, err := v.st.Metadata(ctx, store.MetaAiracCycle)
		if err != nil {
			return err
		}
		if cycle == "" {
			r.add(CheckAiracCycleMissing, diag.Warning, store.TableMetadata, 0, 0,
				"%d X-Plane navaids but no AIRAC cycle recorded", xplane)
		}
	}
	return nil
}
