package publish

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/wegman-software/navcompile-go/internal/config"
	"github.com/wegman-software/navcompile-go/internal/layer"
	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/store"
	"github.com/wegman-software/navcompile-go/internal/wkb"
)

func mustLayer(t *testing.T, name string) layer.Layer {
	t.Helper()
	ls, err := layer.Select([]string{name})
	if err != nil {
		t.Fatal(err)
	}
	return ls[0]
}

func TestCreateTableSQL(t *testing.T) {
	tests := []struct {
		layer string
		srid  int
		want  []string
	}{
		{"navaids", 4326, []string{`"frequency_khz" BIGINT`, `"mag_var" DOUBLE PRECISION`, "geom GEOMETRY(Point, 4326)"}},
		{"route_edges", 3857, []string{`"airway" TEXT`, "geom GEOMETRY(LineString, 3857)"}},
		{"boundaries", 4326, []string{"geom GEOMETRY(Polygon, 4326)"}},
		{"metadata", 4326, []string{`"key" TEXT`, `"value" TEXT`}},
	}
	for _, tt := range tests {
		t.Run(tt.layer, func(t *testing.T) {
			got := createTableSQL(`"public"."t"`, mustLayer(t, tt.layer), tt.srid)
			if !strings.HasPrefix(got, `CREATE UNLOGGED TABLE IF NOT EXISTS "public"."t"`) {
				t.Errorf("DDL = %s", got)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("DDL missing %q:\n%s", w, got)
				}
			}
			if tt.layer == "metadata" && strings.Contains(got, "GEOMETRY") {
				t.Errorf("metadata has a geometry column:\n%s", got)
			}
		})
	}
}

func TestIndexSQL(t *testing.T) {
	stmts := indexSQL(`"public"."nav_route_edge"`, mustLayer(t, "route_edges"))
	if len(stmts) != 3 {
		t.Fatalf("statements = %d, want 3: %v", len(stmts), stmts)
	}
	if !strings.Contains(stmts[0], "USING GIST (geom)") {
		t.Errorf("first index = %s, want the spatial one", stmts[0])
	}
	if got := indexSQL(`"m"`, mustLayer(t, "metadata")); len(got) != 0 {
		t.Errorf("metadata indexes = %v, want none", got)
	}
}

func TestCopyColumns(t *testing.T) {
	cols := copyColumns(mustLayer(t, "airports"))
	if cols[0] != "id" || cols[len(cols)-1] != "geom_wkb" {
		t.Errorf("columns = %v", cols)
	}
}

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
	for i := range 3 {
		if err := w.Add(ctx, &navdata.Airport{Base: navdata.Base{
			Ident: "K" + strconv.Itoa(i), Pos: navdata.LatLon{Lat: 40 + float64(i), Lon: -100}, Format: navdata.FormatBGL,
		}}); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRowSource(t *testing.T) {
	s := openStore(t)
	enc, _ := wkb.NewEncoder(wkb.SRID4326)
	l := mustLayer(t, "airports")

	src := newRowSource(context.Background(), s.DB(), l, enc)
	defer src.stop()

	n := 0
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			t.Fatal(err)
		}
		if len(vals) != len(l.Columns)+1 {
			t.Fatalf("values = %d, want %d", len(vals), len(l.Columns)+1)
		}
		if g, ok := vals[len(vals)-1].([]byte); !ok || len(g) != 25 {
			t.Errorf("geometry = %v", vals[len(vals)-1])
		}
		n++
	}
	if err := src.Err(); err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("rows = %d, want 3", n)
	}
}

func TestRowSourceStopsEarly(t *testing.T) {
	s := openStore(t)
	enc, _ := wkb.NewEncoder(wkb.SRID4326)
	src := newRowSource(context.Background(), s.DB(), mustLayer(t, "airports"), enc)
	if !src.Next() {
		t.Fatal("no rows")
	}
	src.stop()

	// The reader releases the database connection once stopped
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.Counts(ctx); err != nil {
		t.Errorf("Counts after stop: %v", err)
	}
}

// testConfig returns a publish config for a local server, nil when none
// is reachable
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	if h := os.Getenv("POSTGRES_HOST"); h != "" {
		cfg.DBHost = h
	}
	if u := os.Getenv("POSTGRES_USER"); u != "" {
		cfg.DBUser = u
	}
	cfg.DBPassword = os.Getenv("POSTGRES_PASSWORD")
	if d := os.Getenv("POSTGRES_DB"); d != "" {
		cfg.DBName = d
	}
	cfg.DBSchema = "navcompile_test"
	return cfg
}

func TestPublish(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p, err := NewPublisher(ctx, cfg, true, true)
	if err != nil {
		t.Skip("No PostgreSQL connection available")
	}
	defer p.Close()

	s := openStore(t)
	stats, err := p.Run(ctx, s.DB(), []layer.Layer{mustLayer(t, "airports"), mustLayer(t, "metadata")})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if stats.Tables["nav_airport"] != 3 {
		t.Errorf("nav_airport rows = %d, want 3", stats.Tables["nav_airport"])
	}

	var srid int
	if err := p.Pool().QueryRow(ctx,
		"SELECT DISTINCT ST_SRID(geom) FROM navcompile_test.nav_airport").Scan(&srid); err != nil {
		t.Fatal(err)
	}
	if srid != 4326 {
		t.Errorf("srid = %d, want 4326", srid)
	}
	_, _ = p.Pool().Exec(ctx, "DROP SCHEMA navcompile_test CASCADE")
}
