package wkb

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/wegman-software/navcompile-go/internal/navdata"
)

func TestEncodePoint(t *testing.T) {
	e, err := NewEncoder(SRID4326)
	if err != nil {
		t.Fatal(err)
	}
	b := e.EncodePoint(navdata.LatLon{Lat: 50.5, Lon: 8.25})
	if len(b) != 25 {
		t.Fatalf("len = %d, want 25", len(b))
	}
	if typ := binary.LittleEndian.Uint32(b[1:5]); typ != wkbPoint|wkbSRIDFlag {
		t.Errorf("type = %#x", typ)
	}
	if srid := binary.LittleEndian.Uint32(b[5:9]); srid != SRID4326 {
		t.Errorf("srid = %d, want 4326", srid)
	}
	x := math.Float64frombits(binary.LittleEndian.Uint64(b[9:17]))
	y := math.Float64frombits(binary.LittleEndian.Uint64(b[17:25]))
	if x != 8.25 || y != 50.5 {
		t.Errorf("coords = %v,%v, want 8.25,50.5", x, y)
	}
}

func TestEncodeLineWebMercator(t *testing.T) {
	e, err := NewEncoder(SRID3857)
	if err != nil {
		t.Fatal(err)
	}
	b := e.EncodeLine(navdata.LatLon{}, navdata.LatLon{Lat: 0, Lon: 180})
	if len(b) != 45 {
		t.Fatalf("len = %d, want 45", len(b))
	}
	x := math.Float64frombits(binary.LittleEndian.Uint64(b[29:37]))
	if math.Abs(x-20037508.342789244) > 1e-6 {
		t.Errorf("x = %v, want web mercator extent", x)
	}
}

func TestPolygonRoundTrip(t *testing.T) {
	e, _ := NewEncoder(SRID4326)
	ring := []navdata.LatLon{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 0}, {Lat: 1, Lon: 1}}
	b := e.EncodePolygon(ring)
	got, err := DecodePolygon(b)
	if err != nil {
		t.Fatalf("DecodePolygon() error: %v", err)
	}
	if len(got) != len(ring) {
		t.Fatalf("points = %d, want %d", len(got), len(ring))
	}
	for i := range ring {
		if got[i] != ring[i] {
			t.Errorf("point %d = %v, want %v", i, got[i], ring[i])
		}
	}
}

func TestDecodePolygonRejectsGarbage(t *testing.T) {
	e, _ := NewEncoder(SRID4326)
	tests := map[string][]byte{
		"short": {0x01, 0x03},
		"point": e.EncodePoint(navdata.LatLon{}),
		"truncated": func() []byte {
			b := e.EncodePolygon([]navdata.LatLon{{}, {Lat: 1}, {Lon: 1}})
			return b[:len(b)-8]
		}(),
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodePolygon(b); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewEncoderUnsupportedSRID(t *testing.T) {
	if _, err := NewEncoder(27700); err == nil {
		t.Error("expected error for unsupported SRID")
	}
}
