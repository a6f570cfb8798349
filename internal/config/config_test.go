package config

import (
	"testing"
)

func TestParseBBox(t *testing.T) {
	tests := []struct {
		in      string
		wantSet bool
		wantErr bool
	}{
		{"", false, false},
		{"5.8,47.2,15.1,55.1", true, false},
		{"5.8,47.2,15.1", false, true},
		{"15,47,5,55", false, true},
		{"5,47,15,95", false, true},
		{"a,b,c,d", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			b, err := ParseBBox(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBBox(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && b.IsSet != tt.wantSet {
				t.Errorf("IsSet = %v, want %v", b.IsSet, tt.wantSet)
			}
		})
	}
}

func TestBBoxOverlaps(t *testing.T) {
	b, _ := ParseBBox("0,0,10,10")
	if !b.Overlaps(-5, -5, 1, 1) {
		t.Error("corner box should overlap")
	}
	if b.Overlaps(11, 11, 12, 12) {
		t.Error("disjoint box should not overlap")
	}
	var unset *BBox
	if !unset.Contains(80, 170) {
		t.Error("nil bbox should contain everything")
	}
}

func TestApply(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Apply([]byte(`
database: out/nav.sqlite
sources:
  xplane: [data/xp12]
  manifests: [scenery_packs.ini]
thresholds:
  resolve_errors_per_file: 100
  batch_retries: 0
  coord_tolerance_m: 10
bbox: "5,45,15,55"
script: prep.lua
purge: false
`))
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if cfg.Database != "out/nav.sqlite" || cfg.ScriptFile != "prep.lua" {
		t.Errorf("paths = %q, %q", cfg.Database, cfg.ScriptFile)
	}
	if len(cfg.XPlaneDirs) != 1 || len(cfg.Manifests) != 1 {
		t.Errorf("sources = %v, %v", cfg.XPlaneDirs, cfg.Manifests)
	}
	if cfg.ResolveErrorsPerFile != 100 || cfg.BatchRetries != 0 || cfg.CoordToleranceM != 10 {
		t.Errorf("thresholds = %d, %d, %v", cfg.ResolveErrorsPerFile, cfg.BatchRetries, cfg.CoordToleranceM)
	}
	// untouched values keep their defaults
	if cfg.MaxErrorsPerFile != 1000 || cfg.TieToleranceNM != 0.01 || !cfg.Vacuum {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if cfg.Purge {
		t.Error("Purge = true, want false")
	}
	if !cfg.BBox.IsSet || cfg.BBox.MaxLat != 55 {
		t.Errorf("BBox = %+v", cfg.BBox)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() without sources should fail")
	}
	cfg.OSMFiles = []string{"a.osm"}
	cfg.Projection = 900913
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() with bad projection should fail")
	}
}
