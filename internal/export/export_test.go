package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/wegman-software/navcompile-go/internal/layer"
	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/store"
	"github.com/wegman-software/navcompile-go/internal/wkb"
)

func openStore(t *testing.T) *store.Store {
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
	for _, r := range []navdata.Record{
		&navdata.Navaid{Base: navdata.Base{Ident: "SEA", Region: "K1", Pos: navdata.LatLon{Lat: 47.43, Lon: -122.30}, Format: navdata.FormatXPlane}, Type: navdata.TypeVORTAC},
		&navdata.Navaid{Base: navdata.Base{Ident: "OLM", Region: "K1", Pos: navdata.LatLon{Lat: 46.97, Lon: -122.90}, Format: navdata.FormatXPlane}, Type: navdata.TypeVORDME},
	} {
		if err := w.Add(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertEdges(ctx, []store.Edge{{Airway: "J5", Class: navdata.ClassHigh,
		FromTable: store.TableNavaid, FromID: 1, ToTable: store.TableNavaid, ToID: 2, LengthNM: 32.5, Radio: true}}); err != nil {
		t.Fatal(err)
	}
	return s
}

func readParquet(t *testing.T, path string) (rows int64, cols []string) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	pf, err := file.NewParquetReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer pf.Close()
	r, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := r.ReadTable(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Release()
	for _, fld := range tbl.Schema().Fields() {
		cols = append(cols, fld.Name)
	}
	return tbl.NumRows(), cols
}

func TestExport(t *testing.T) {
	s := openStore(t)
	dir := filepath.Join(t.TempDir(), "out")
	layers, err := layer.Select([]string{"navaids", "route_edges", "radio_edges", "metadata"})
	if err != nil {
		t.Fatal(err)
	}

	stats, err := Export(context.Background(), s.DB(), layers, Options{Dir: dir, BatchSize: 1, Workers: 2})
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}

	want := map[string]int64{"navaids": 2, "route_edges": 1, "radio_edges": 1, "metadata": 1}
	for name, n := range want {
		if stats[name] != n {
			t.Errorf("stats[%s] = %d, want %d", name, stats[name], n)
		}
		rows, cols := readParquet(t, filepath.Join(dir, name+".parquet"))
		if rows != n {
			t.Errorf("%s.parquet rows = %d, want %d", name, rows, n)
		}
		hasGeom := cols[len(cols)-1] == GeomColumn
		if hasGeom != (name != "metadata") {
			t.Errorf("%s columns = %v", name, cols)
		}
	}
}

func TestExportWebMercator(t *testing.T) {
	s := openStore(t)
	dir := t.TempDir()
	layers, _ := layer.Select([]string{"navaids"})
	if _, err := Export(context.Background(), s.DB(), layers, Options{Dir: dir, SRID: wkb.SRID3857}); err != nil {
		t.Fatal(err)
	}
	if _, err := Export(context.Background(), s.DB(), layers, Options{Dir: dir, SRID: 27700}); err == nil {
		t.Error("unsupported SRID accepted")
	}
}

func TestWriterNulls(t *testing.T) {
	l, _ := layer.Select([]string{"procedure_fixes"})
	enc, _ := wkb.NewEncoder(wkb.SRID4326)
	path := filepath.Join(t.TempDir(), "fixes.parquet")
	w, err := NewLayerWriter(path, l[0], enc, 10)
	if err != nil {
		t.Fatal(err)
	}
	row := layer.Row{Values: make([]any, len(l[0].Columns))}
	if err := w.Write(row); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(layer.Row{Values: []any{int64(1)}}); err == nil {
		t.Error("short row accepted")
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if rows, _ := readParquet(t, path); rows != 1 {
		t.Errorf("rows = %d, want 1", rows)
	}
}
