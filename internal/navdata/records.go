package navdata

import (
	"strconv"
	"strings"
)

// Base holds the fields every decoded record carries
type Base struct {
	Ident  string
	Region string
	Pos    LatLon
	Format Format
	Prov   Provenance
}

// Common gives access to the shared fields of any record
func (b *Base) Common() *Base { return b }

// Record is a decoded navdata record owned by the reader that produced it
// until it is handed to the store.
type Record interface {
	Kind() Kind
	Common() *Base
}

// Airport is an airport reference point
type Airport struct {
	Base
	Name        string
	ElevationFt int
}

func (*Airport) Kind() Kind { return KindAirport }

// Navaid is a radio navaid or a named waypoint
type Navaid struct {
	Base
	Type         NavaidType
	Name         string
	FrequencyKHz int
	RangeNM      int
	MagVar       float64
	ElevationFt  int
	// AirportIdent is set for terminal-area fixes, empty for enroute ones
	AirportIdent string
}

func (*Navaid) Kind() Kind { return KindNavaid }

// Runway is a runway of the airport named by AirportIdent. Ident is the designator.
type Runway struct {
	Base
	AirportIdent string
	HeadingDeg   float64
	LengthFt     int
	Surface      string
}

func (*Runway) Kind() Kind { return KindRunway }

// ProcedureFix is a fix referenced by a terminal procedure
type ProcedureFix struct {
	Base
	AirportIdent string
	Procedure    string
	Seq          int
}

func (*ProcedureFix) Kind() Kind { return KindProcedureFix }

// Boundary is an airspace boundary polygon. Ident holds the boundary name.
type Boundary struct {
	Base
	Class  string
	MinAlt int
	MaxAlt int
	Points []LatLon
}

func (*Boundary) Kind() Kind { return KindBoundary }

// Bounds returns the bounding box of the boundary polygon
func (b *Boundary) Bounds() (min, max LatLon) {
	if len(b.Points) == 0 {
		return b.Pos, b.Pos
	}
	min, max = b.Points[0], b.Points[0]
	for _, p := range b.Points[1:] {
		if p.Lat < min.Lat {
			min.Lat = p.Lat
		}
		if p.Lon < min.Lon {
			min.Lon = p.Lon
		}
		if p.Lat > max.Lat {
			max.Lat = p.Lat
		}
		if p.Lon > max.Lon {
			max.Lon = p.Lon
		}
	}
	return min, max
}

// Attributes flattens the filterable attributes of a record
func Attributes(rec Record) map[string]string {
	b := rec.Common()
	attrs := map[string]string{
		"kind":   rec.Kind().String(),
		"ident":  b.Ident,
		"region": b.Region,
		"format": string(b.Format),
	}
	switch r := rec.(type) {
	case *Navaid:
		attrs["type"] = string(r.Type)
		attrs["airport"] = r.AirportIdent
		if r.AirportIdent == "" {
			attrs["airport"] = "ENRT"
		}
	case *Airport:
		attrs["type"] = string(TypeAirport)
		attrs["elevation"] = strconv.Itoa(r.ElevationFt)
	case *Runway:
		attrs["airport"] = r.AirportIdent
		attrs["surface"] = strings.ToLower(r.Surface)
	case *ProcedureFix:
		attrs["airport"] = r.AirportIdent
		attrs["procedure"] = r.Procedure
	case *Boundary:
		attrs["class"] = r.Class
	}
	return attrs
}
