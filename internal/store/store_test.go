package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/scenery"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nav.sqlite"), DefaultOptions())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.CreateSchema(context.Background()); err != nil {
		t.Fatalf("CreateSchema() error: %v", err)
	}
	return s
}

func pos(lat, lon float64) navdata.LatLon { return navdata.LatLon{Lat: lat, Lon: lon} }

func vor(ident string, typ navdata.NavaidType, lat, lon float64) *navdata.Navaid {
	return &navdata.Navaid{
		Base:    navdata.Base{Ident: ident, Region: "ED", Pos: pos(lat, lon), Format: navdata.FormatXPlane},
		Type:    typ,
		Name:    ident + " " + string(typ),
		RangeNM: 100,
	}
}

func sampleRecords() []navdata.Record {
	return []navdata.Record{
		&navdata.Airport{Base: navdata.Base{Ident: "EDDF", Region: "ED", Pos: pos(50.03, 8.57), Format: navdata.FormatBGL}, Name: "Frankfurt"},
		vor("FFM", navdata.TypeVORDME, 50.05, 8.63),
		&navdata.Runway{Base: navdata.Base{Ident: "25C", Pos: pos(50.04, 8.58), Format: navdata.FormatBGL}, AirportIdent: "EDDF", LengthFt: 13123},
		&navdata.ProcedureFix{Base: navdata.Base{Ident: "FFM", Region: "ED", Pos: pos(50.05, 8.63), Format: navdata.FormatBGL}, AirportIdent: "EDDF", Procedure: "ILS25C", Seq: 1},
		&navdata.Boundary{
			Base:   navdata.Base{Ident: "FRANKFURT CTR", Format: navdata.FormatBGL},
			Class:  "D",
			Points: []navdata.LatLon{pos(49.9, 8.4), pos(50.2, 8.4), pos(50.2, 8.8)},
		},
	}
}

func writeAll(t *testing.T, s *Store, recs []navdata.Record) *BatchWriter {
	t.Helper()
	ctx := context.Background()
	w := s.NewBatchWriter(2)
	for _, r := range recs {
		if err := w.Add(ctx, r); err != nil {
			t.Fatalf("Add() error: %v", err)
		}
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	return w
}

func TestOneRowPerRecord(t *testing.T) {
	s := openTestStore(t)
	w := writeAll(t, s, sampleRecords())

	if w.Total() != 5 || w.Pending() != 0 {
		t.Errorf("Total() = %d, Pending() = %d, want 5, 0", w.Total(), w.Pending())
	}
	counts, err := s.Counts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{TableAirport, TableNavaid, TableRunway, TableProcedureFix, TableBoundary} {
		if counts[table] != 1 {
			t.Errorf("%s rows = %d, want 1", table, counts[table])
		}
	}
}

func TestStateAndMetadata(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "nav.sqlite"), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if st, err := s.State(ctx); err != nil || st != StateEmpty {
		t.Fatalf("State() = %q, %v, want empty", st, err)
	}
	if err := s.CreateSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if st, _ := s.State(ctx); st != StateSchemaCreated {
		t.Errorf("State() = %q, want %q", st, StateSchemaCreated)
	}
	if err := s.SetState(ctx, StatePopulated); err != nil {
		t.Fatal(err)
	}
	if st, _ := s.State(ctx); st != StatePopulated {
		t.Errorf("State() = %q, want %q", st, StatePopulated)
	}

	if err := s.SetMetadata(ctx, "airac_cycle", "2311"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMetadata(ctx, "airac_cycle", "2312"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Metadata(ctx, "airac_cycle"); v != "2312" {
		t.Errorf("Metadata() = %q, want 2312", v)
	}
	if v, err := s.Metadata(ctx, "missing"); err != nil || v != "" {
		t.Errorf("Metadata(missing) = %q, %v", v, err)
	}

	if err := s.DropSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if st, _ := s.State(ctx); st != StateEmpty {
		t.Errorf("State() after DropSchema = %q, want empty", st)
	}
}

func TestMergeVortacIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	writeAll(t, s, []navdata.Record{
		vor("FFM", navdata.TypeVOR, 50.05, 8.63),
		vor("FFM", navdata.TypeTACAN, 50.05, 8.63),
		vor("FFM", navdata.TypeTACAN, 51.00, 9.00),
		vor("CHA", navdata.TypeVORDME, 49.9, 8.5),
	})

	n, err := s.MergeVortac(ctx)
	if err != nil {
		t.Fatalf("MergeVortac() error: %v", err)
	}
	if n != 1 {
		t.Errorf("merged = %d, want 1", n)
	}
	n, err = s.MergeVortac(ctx)
	if err != nil || n != 0 {
		t.Errorf("second MergeVortac() = %d, %v, want 0, nil", n, err)
	}

	var vortacs, superseded, logged int
	db := s.DB()
	db.QueryRow("SELECT COUNT(*) FROM navaid WHERE type = 'VORTAC'").Scan(&vortacs)
	db.QueryRow("SELECT COUNT(*) FROM navaid WHERE superseded_by IS NOT NULL").Scan(&superseded)
	db.QueryRow("SELECT COUNT(*) FROM merge_log").Scan(&logged)
	if vortacs != 1 || superseded != 2 || logged != 1 {
		t.Errorf("vortacs = %d, superseded = %d, merge_log = %d, want 1, 2, 1", vortacs, superseded, logged)
	}

	cands, err := s.Candidates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 3 {
		t.Errorf("candidates = %d, want 3 live navaids", len(cands))
	}

	purged, err := s.PurgeSuperseded(ctx)
	if err != nil || purged != 2 {
		t.Errorf("PurgeSuperseded() = %d, %v, want 2, nil", purged, err)
	}
}

func TestCreateIndexesByScope(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.CreateIndexes(ctx, ScopeRoute); err != nil {
		t.Fatal(err)
	}
	names, _ := s.Indexes(ctx)
	if len(names) != len(indexes[ScopeRoute]) {
		t.Errorf("indexes = %v, want only route scope", names)
	}
	for _, scope := range AllScopes {
		if err := s.CreateIndexes(ctx, scope); err != nil {
			t.Fatalf("CreateIndexes(%s) error: %v", scope, err)
		}
	}
	if err := s.DropAllIndexes(ctx); err != nil {
		t.Fatal(err)
	}
	if names, _ := s.Indexes(ctx); len(names) != 0 {
		t.Errorf("indexes after DropAllIndexes = %v", names)
	}
	if err := s.CreateIndexes(ctx, IndexScope("bogus")); err == nil {
		t.Error("expected error for unknown scope")
	}
}

func TestProcedureFixLinks(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	writeAll(t, s, sampleRecords())

	fixes, err := s.UnlinkedProcedureFixes(ctx)
	if err != nil || len(fixes) != 1 {
		t.Fatalf("UnlinkedProcedureFixes() = %v, %v", fixes, err)
	}
	cands, _ := s.Candidates(ctx)
	var navID int64
	for _, c := range cands {
		if c.Table == TableNavaid {
			navID = c.ID
		}
	}
	if err := s.SetProcedureFixNavaid(ctx, []FixLink{{FixID: fixes[0].ID, NavaidID: navID}}); err != nil {
		t.Fatal(err)
	}
	if fixes, _ := s.UnlinkedProcedureFixes(ctx); len(fixes) != 0 {
		t.Errorf("unlinked after SetProcedureFixNavaid = %d, want 0", len(fixes))
	}
}

func TestInsertEdgesAndAreas(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	edges := []Edge{
		{Airway: "J5", Class: navdata.ClassHigh, FromTable: TableNavaid, FromID: 1, ToTable: TableNavaid, ToID: 2, LengthNM: 12.5, Radio: true},
		{Airway: "J5", Class: navdata.ClassHigh, FromTable: TableNavaid, FromID: 2, ToTable: TableAirport, ToID: 1, LengthNM: 3},
	}
	if err := s.InsertEdges(ctx, edges); err != nil {
		t.Fatal(err)
	}
	counts, _ := s.Counts(ctx)
	if counts[TableRouteEdge] != 2 || counts[TableRouteEdgeRadio] != 1 {
		t.Errorf("route_edge = %d, route_edge_radio = %d, want 2, 1", counts[TableRouteEdge], counts[TableRouteEdgeRadio])
	}
	if err := s.ClearRoutes(ctx); err != nil {
		t.Fatal(err)
	}
	counts, _ = s.Counts(ctx)
	if counts[TableRouteEdge] != 0 {
		t.Errorf("route_edge after ClearRoutes = %d", counts[TableRouteEdge])
	}

	areas := []scenery.Area{{Path: "/sim/scenery", Layer: 1, Enabled: true, Kind: scenery.KindBase, Valid: true}}
	if err := s.InsertAreas(ctx, areas); err != nil {
		t.Fatal(err)
	}
}

func TestMergeVortacNeedsSameRegion(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	tacan := vor("FFM", navdata.TypeTACAN, 50.05, 8.63)
	tacan.Region = "ET"
	writeAll(t, s, []navdata.Record{vor("FFM", navdata.TypeVOR, 50.05, 8.63), tacan})

	n, err := s.MergeVortac(ctx)
	if err != nil || n != 0 {
		t.Errorf("MergeVortac() = %d, %v, want 0, nil for different regions", n, err)
	}
}

func TestClearDataKeepsSchema(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	writeAll(t, s, sampleRecords())
	if err := s.SetMetadata(ctx, MetaAiracCycle, "2311"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMetadata(ctx, MetaVersion, "dev"); err != nil {
		t.Fatal(err)
	}

	if err := s.ClearData(ctx); err != nil {
		t.Fatalf("ClearData() error: %v", err)
	}
	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for table, n := range counts {
		if n != 0 {
			t.Errorf("%s rows = %d, want 0", table, n)
		}
	}
	if cycle, _ := s.Metadata(ctx, MetaAiracCycle); cycle != "" {
		t.Errorf("airac cycle = %q, want cleared", cycle)
	}
	if v, _ := s.Metadata(ctx, MetaVersion); v != "dev" {
		t.Errorf("version = %q, want kept", v)
	}

	// the schema takes the same records again
	writeAll(t, s, sampleRecords())
}
