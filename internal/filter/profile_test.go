package filter

import (
	"testing"

	"github.com/wegman-software/navcompile-go/internal/config"
	"github.com/wegman-software/navcompile-go/internal/navdata"
)

const sampleProfile = `
navaids:
  include:
    type: [VOR, VORDME, VORTAC, NDB]
  exclude:
    region: [K*]
airports:
  require_any: [ident]
airways:
  include:
    class: [jet]
bbox: "-10,35,30,60"
`

func navaid(ident, region string, typ navdata.NavaidType, lat, lon float64) *navdata.Navaid {
	return &navdata.Navaid{
		Base: navdata.Base{Ident: ident, Region: region, Pos: navdata.LatLon{Lat: lat, Lon: lon}},
		Type: typ,
	}
}

func TestFilterKeep(t *testing.T) {
	p, err := ParseProfile([]byte(sampleProfile))
	if err != nil {
		t.Fatalf("ParseProfile() error: %v", err)
	}
	f, err := New(p, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if !f.HasFilter() {
		t.Fatal("HasFilter() = false, want true")
	}

	tests := []struct {
		name string
		rec  navdata.Record
		want bool
	}{
		{"vor inside", navaid("BOB", "ED", navdata.TypeVOR, 50, 8), true},
		{"waypoint not included", navaid("ABCDE", "ED", navdata.TypeWaypoint, 50, 8), false},
		{"excluded region glob", navaid("BOB", "K2", navdata.TypeVOR, 50, 8), false},
		{"outside bbox", navaid("JFK", "ED", navdata.TypeVORTAC, 40, -73), false},
		{"airport with ident", &navdata.Airport{Base: navdata.Base{Ident: "EDDF", Pos: navdata.LatLon{Lat: 50, Lon: 8.5}}}, true},
		{"airport without ident", &navdata.Airport{Base: navdata.Base{Pos: navdata.LatLon{Lat: 50, Lon: 8.5}}}, false},
		{"runway has no rule", &navdata.Runway{Base: navdata.Base{Ident: "25C", Pos: navdata.LatLon{Lat: 50, Lon: 8.5}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Keep(tt.rec); got != tt.want {
				t.Errorf("Keep() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterBoundaryOverlap(t *testing.T) {
	bbox, _ := config.ParseBBox("0,0,10,10")
	f, err := New(nil, bbox)
	if err != nil {
		t.Fatal(err)
	}
	overlapping := &navdata.Boundary{Points: []navdata.LatLon{{Lat: -5, Lon: -5}, {Lat: 5, Lon: -5}, {Lat: 5, Lon: 5}}}
	outside := &navdata.Boundary{Points: []navdata.LatLon{{Lat: 20, Lon: 20}, {Lat: 30, Lon: 20}, {Lat: 30, Lon: 30}}}
	if !f.Keep(overlapping) {
		t.Error("Keep(overlapping) = false, want true")
	}
	if f.Keep(outside) {
		t.Error("Keep(outside) = true, want false")
	}
}

func TestFilterSegments(t *testing.T) {
	p, err := ParseProfile([]byte(sampleProfile))
	if err != nil {
		t.Fatal(err)
	}
	f, _ := New(p, nil)
	if !f.KeepSegment(&navdata.AirwaySegment{Name: "J5", Class: navdata.ClassHigh}) {
		t.Error("jet airway dropped")
	}
	if f.KeepSegment(&navdata.AirwaySegment{Name: "V5", Class: navdata.ClassLow}) {
		t.Error("victor airway kept")
	}
}

func TestNilFilterKeepsEverything(t *testing.T) {
	var f *Filter
	if !f.Keep(navaid("X", "", navdata.TypeWaypoint, 0, 0)) || f.HasFilter() {
		t.Error("nil filter should keep everything")
	}
	empty, _ := New(nil, nil)
	if empty.HasFilter() {
		t.Error("HasFilter() = true for empty profile")
	}
}

func TestParseProfileBadBBox(t *testing.T) {
	if _, err := ParseProfile([]byte(`bbox: "1,2,3"`)); err == nil {
		t.Error("expected error for bbox with 3 values")
	}
}
