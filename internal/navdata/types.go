package navdata

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Format tags the source format a record was decoded from
type Format string

const (
	FormatBGL    Format = "bgl"
	FormatXPlane Format = "xplane"
	FormatOSM    Format = "osm"
	FormatINI    Format = "ini"
)

// Kind identifies the concrete record type behind a Record
type Kind uint8

const (
	KindAirport Kind = iota + 1
	KindNavaid
	KindRunway
	KindProcedureFix
	KindBoundary
)

func (k Kind) String() string {
	switch k {
	case KindAirport:
		return "airport"
	case KindNavaid:
		return "navaid"
	case KindRunway:
		return "runway"
	case KindProcedureFix:
		return "procedure_fix"
	case KindBoundary:
		return "boundary"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// NavaidType is the persisted type column of the navaid table
type NavaidType string

const (
	TypeVOR      NavaidType = "VOR"
	TypeVORDME   NavaidType = "VORDME"
	TypeDME      NavaidType = "DME"
	TypeTACAN    NavaidType = "TACAN"
	TypeVORTAC   NavaidType = "VORTAC"
	TypeNDB      NavaidType = "NDB"
	TypeWaypoint NavaidType = "WAYPOINT"
	// TypeAirport only appears as a resolver candidate or fix type hint
	TypeAirport NavaidType = "AIRPORT"
)

// IsVOR reports whether the navaid carries a VOR that can merge with a TACAN
func (t NavaidType) IsVOR() bool {
	return t == TypeVOR || t == TypeVORDME
}

// IsRadio reports whether the type is a radio navaid (VOR family or NDB)
func (t NavaidType) IsRadio() bool {
	switch t {
	case TypeVOR, TypeVORDME, TypeDME, TypeTACAN, TypeVORTAC, TypeNDB:
		return true
	}
	return false
}

// ParseNavaidType parses a persisted type string
func ParseNavaidType(s string) (NavaidType, error) {
	t := NavaidType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TypeVOR, TypeVORDME, TypeDME, TypeTACAN, TypeVORTAC, TypeNDB, TypeWaypoint, TypeAirport:
		return t, nil
	}
	return "", fmt.Errorf("unknown navaid type %q", s)
}

// LatLon is a WGS84 position in degrees
type LatLon struct {
	Lat float64
	Lon float64
}

// Valid reports whether the position is within WGS84 bounds
func (p LatLon) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lon) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Point returns the position as an orb point (X=lon, Y=lat)
func (p LatLon) Point() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// Equal compares two positions with the given tolerance in degrees
func (p LatLon) Equal(o LatLon, epsDeg float64) bool {
	return math.Abs(p.Lat-o.Lat) <= epsDeg && math.Abs(p.Lon-o.Lon) <= epsDeg
}

func (p LatLon) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

const metersPerNM = 1852.0

// DistanceMeters returns the great-circle distance between two positions
func DistanceMeters(a, b LatLon) float64 {
	return geo.Distance(a.Point(), b.Point())
}

// DistanceNM returns the great-circle distance in nautical miles
func DistanceNM(a, b LatLon) float64 {
	return DistanceMeters(a, b) / metersPerNM
}

// Provenance locates a record in its source file for diagnostics.
// Text formats set Line, binary formats set Offset.
type Provenance struct {
	File   string
	Line   int
	Offset int64
}

func (p Provenance) String() string {
	switch {
	case p.Line > 0:
		return fmt.Sprintf("%s:%d", p.File, p.Line)
	case p.Offset > 0:
		return fmt.Sprintf("%s@0x%x", p.File, p.Offset)
	}
	return p.File
}
