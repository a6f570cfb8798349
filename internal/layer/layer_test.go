package layer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/store"
	"github.com/wegman-software/navcompile-go/internal/wkb"
)

// openFixture creates a compiled database with one row per layer
func openFixture(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(filepath.Join(t.TempDir(), "nav.sqlite"), store.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.CreateSchema(ctx); err != nil {
		t.Fatal(err)
	}

	w := s.NewBatchWriter(0)
	recs := []navdata.Record{
		&navdata.Airport{Base: navdata.Base{Ident: "KSEA", Pos: navdata.LatLon{Lat: 47.45, Lon: -122.31}, Format: navdata.FormatBGL}, Name: "SEATTLE-TACOMA"},
		&navdata.Navaid{Base: navdata.Base{Ident: "SEA", Region: "K1", Pos: navdata.LatLon{Lat: 47.43, Lon: -122.30}, Format: navdata.FormatXPlane}, Type: navdata.TypeVORTAC},
		&navdata.Boundary{Base: navdata.Base{Ident: "SEATTLE CLASS B", Format: navdata.FormatBGL}, Class: "B",
			Points: []navdata.LatLon{{Lat: 47, Lon: -123}, {Lat: 48, Lon: -123}, {Lat: 48, Lon: -122}}},
	}
	for _, r := range recs {
		if err := w.Add(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	edges := []store.Edge{
		{Airway: "J5", Class: navdata.ClassHigh, FromTable: store.TableAirport, FromID: 1, ToTable: store.TableNavaid, ToID: 1, LengthNM: 1.2},
		{Airway: "V9", Class: navdata.ClassLow, FromTable: store.TableNavaid, FromID: 1, ToTable: store.TableNavaid, ToID: 99, LengthNM: 3},
	}
	if err := s.InsertEdges(ctx, edges); err != nil {
		t.Fatal(err)
	}
	return s
}

func collect(t *testing.T, s *store.Store, name string) []Row {
	t.Helper()
	ls, err := Select([]string{name})
	if err != nil {
		t.Fatal(err)
	}
	var out []Row
	for row, err := range ls[0].Rows(context.Background(), s.DB()) {
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, row)
	}
	return out
}

func TestRows(t *testing.T) {
	s := openFixture(t)

	tests := []struct {
		layer    string
		rows     int
		geomLen  int
		firstVal any
	}{
		{"airports", 1, 1, int64(1)},
		{"navaids", 1, 1, int64(1)},
		{"boundaries", 1, 3, int64(1)},
		{"route_edges", 2, 2, int64(1)},
		{"radio_edges", 0, 0, nil},
		{"runways", 0, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.layer, func(t *testing.T) {
			rows := collect(t, s, tt.layer)
			if len(rows) != tt.rows {
				t.Fatalf("rows = %d, want %d", len(rows), tt.rows)
			}
			if tt.rows == 0 {
				return
			}
			if got := len(rows[0].Geom); got != tt.geomLen {
				t.Errorf("geometry points = %d, want %d", got, tt.geomLen)
			}
			if rows[0].Values[0] != tt.firstVal {
				t.Errorf("first value = %v, want %v", rows[0].Values[0], tt.firstVal)
			}
		})
	}
}

func TestRowsNullsAndDanglingEdges(t *testing.T) {
	s := openFixture(t)

	edges := collect(t, s, "route_edges")
	if edges[1].Geom != nil {
		t.Errorf("edge to a missing navaid has geometry %v", edges[1].Geom)
	}
	if edges[0].Values[1] != "J5" {
		t.Errorf("airway = %v, want J5", edges[0].Values[1])
	}

	navaids := collect(t, s, "navaids")
	// frequency_khz was written as 0, airport_ident as empty string
	if navaids[0].Values[5] != int64(0) {
		t.Errorf("frequency = %v, want 0", navaids[0].Values[5])
	}
	if navaids[0].Values[3] != "VORTAC" {
		t.Errorf("type = %v, want VORTAC", navaids[0].Values[3])
	}
}

func TestEWKB(t *testing.T) {
	enc, err := wkb.NewEncoder(wkb.SRID4326)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		row  Row
		kind GeomKind
		size int
	}{
		{"point", Row{Geom: []navdata.LatLon{{Lat: 1, Lon: 2}}}, GeomPoint, 25},
		{"line", Row{Geom: []navdata.LatLon{{}, {Lat: 1, Lon: 1}}}, GeomLine, 45},
		{"missing", Row{}, GeomLine, 0},
		{"no geometry", Row{Geom: []navdata.LatLon{{}}}, GeomNone, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(tt.row.EWKB(enc, tt.kind)); got != tt.size {
				t.Errorf("len = %d, want %d", got, tt.size)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	all, err := Select(nil)
	if err != nil || len(all) != len(Names()) {
		t.Fatalf("Select(nil) = %d layers, %v", len(all), err)
	}
	if _, err := Select([]string{"airports", "holdings"}); err == nil {
		t.Error("unknown layer accepted")
	}
	ls, err := Select([]string{" navaids"})
	if err != nil || ls[0].Table != "nav_navaid" {
		t.Errorf("Select(navaids) = %v, %v", ls, err)
	}
}

func TestCount(t *testing.T) {
	s := openFixture(t)
	ls, _ := Select([]string{"route_edges"})
	n, err := ls[0].Count(context.Background(), s.DB())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}
