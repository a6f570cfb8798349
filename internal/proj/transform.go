package proj

import (
	"fmt"
	"math"
	"strings"
)

// SRID constants for the supported output projections
const (
	SRID4326 = 4326 // WGS84 (lat/lon)
	SRID3857 = 3857 // Web Mercator
)

// Transformer converts WGS84 navdata positions into the publish projection
type Transformer struct {
	SourceSRID int
	TargetSRID int
}

// NewTransformer creates a transformer from source to target SRID
func NewTransformer(sourceSRID, targetSRID int) (*Transformer, error) {
	if sourceSRID != SRID4326 {
		return nil, fmt.Errorf("unsupported source SRID: %d (only 4326 supported)", sourceSRID)
	}
	if targetSRID != SRID4326 && targetSRID != SRID3857 {
		return nil, fmt.Errorf("unsupported target SRID: %d (only 4326 and 3857 supported)", targetSRID)
	}
	return &Transformer{SourceSRID: sourceSRID, TargetSRID: targetSRID}, nil
}

// Transform converts lon, lat into x, y of the target projection
func (t *Transformer) Transform(lon, lat float64) (x, y float64) {
	if !t.NeedsTransform() {
		return lon, lat
	}
	return lonLatToWebMercator(lon, lat)
}

// Inverse converts x, y of the target projection back to lon, lat
func (t *Transformer) Inverse(x, y float64) (lon, lat float64) {
	if !t.NeedsTransform() {
		return x, y
	}
	return webMercatorToLonLat(x, y)
}

// NeedsTransform returns true if transformation is required
func (t *Transformer) NeedsTransform() bool {
	return t.SourceSRID != t.TargetSRID
}

const (
	// Semi-major axis of WGS84 ellipsoid in meters
	earthRadius = 6378137.0
	// Maximum extent of Web Mercator
	maxExtent = 20037508.342789244
	// Latitude limit of Web Mercator
	maxLat = 85.051129
)

func lonLatToWebMercator(lon, lat float64) (x, y float64) {
	lat = math.Max(-maxLat, math.Min(maxLat, lat))
	x = lon * maxExtent / 180.0
	latRad := lat * math.Pi / 180.0
	y = math.Log(math.Tan(math.Pi/4.0+latRad/2.0)) * earthRadius
	return x, y
}

func webMercatorToLonLat(x, y float64) (lon, lat float64) {
	lon = x * 180.0 / maxExtent
	lat = (2*math.Atan(math.Exp(y/earthRadius)) - math.Pi/2) * 180.0 / math.Pi
	return lon, lat
}

// ParseSRID parses a projection string to SRID.
// Accepts "4326", "3857", "EPSG:4326", "EPSG:3857" and "webmercator".
func ParseSRID(s string) (int, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "4326", "EPSG:4326", "WGS84":
		return SRID4326, nil
	case "3857", "EPSG:3857", "WEBMERCATOR":
		return SRID3857, nil
	}
	return 0, fmt.Errorf("unsupported projection: %s (supported: 4326, 3857)", s)
}
