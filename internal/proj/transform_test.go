package proj

import (
	"math"
	"testing"
)

func TestParseSRID(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"4326", SRID4326, false},
		{"epsg:3857", SRID3857, false},
		{"WebMercator", SRID3857, false},
		{"27700", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSRID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSRID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSRID(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestWebMercatorRoundTrip(t *testing.T) {
	tr, err := NewTransformer(SRID4326, SRID3857)
	if err != nil {
		t.Fatal(err)
	}
	x, y := tr.Transform(8.5706, 50.0333)
	lon, lat := tr.Inverse(x, y)
	if math.Abs(lon-8.5706) > 1e-9 || math.Abs(lat-50.0333) > 1e-9 {
		t.Errorf("round trip = %v,%v, want 8.5706,50.0333", lon, lat)
	}
}

func TestIdentity(t *testing.T) {
	tr, _ := NewTransformer(SRID4326, SRID4326)
	if tr.NeedsTransform() {
		t.Error("NeedsTransform() = true for 4326 -> 4326")
	}
	if x, y := tr.Transform(1, 2); x != 1 || y != 2 {
		t.Errorf("Transform() = %v,%v, want 1,2", x, y)
	}
}
