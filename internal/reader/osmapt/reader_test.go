package osmapt

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/wegman-software/navcompile-go/internal/diag"
	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/reader"
)

const extract = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="test">
  <node id="1" lat="51.4706" lon="-0.461941" version="1">
    <tag k="aeroway" v="aerodrome"/>
    <tag k="icao" v="egll"/>
    <tag k="name" v="London Heathrow Airport"/>
    <tag k="ele" v="25"/>
  </node>
  <node id="2" lat="51.5" lon="-0.2" version="1">
    <tag k="aeroway" v="aerodrome"/>
    <tag k="name" v="Private strip"/>
  </node>
  <node id="3" lat="51.6" lon="-0.3" version="1">
    <tag k="aeroway" v="aerodrome"/>
    <tag k="icao" v="E-G"/>
  </node>
  <node id="4" lat="51.7" lon="-0.4" version="1">
    <tag k="amenity" v="cafe"/>
  </node>
</osm>
`

func TestReadAerodromes(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "london.osm")
	if err := os.WriteFile(p, []byte(extract), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New([]string{p}, reader.DefaultOptions())
	var c reader.Collector
	if err := r.Read(context.Background(), &c); err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if len(c.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(c.Records))
	}
	apt := c.Records[0].(*navdata.Airport)
	if apt.Ident != "EGLL" || apt.Name != "London Heathrow Airport" || apt.Format != navdata.FormatOSM {
		t.Errorf("airport = %+v", apt)
	}
	if apt.ElevationFt != 82 {
		t.Errorf("elevation = %d, want 82", apt.ElevationFt)
	}
	if r.Diagnostics().Count(diag.Warning) != 1 {
		t.Errorf("diagnostics = %v, want one invalid icao warning", r.Diagnostics().Items())
	}
}

func TestIsOSMFile(t *testing.T) {
	for name, want := range map[string]bool{
		"a.osm":     true,
		"a.osm.pbf": true,
		"A.OSM":     true,
		"a.bgl":     false,
	} {
		if got := IsOSMFile(name); got != want {
			t.Errorf("IsOSMFile(%q) = %v, want %v", name, got, want)
		}
	}
}
