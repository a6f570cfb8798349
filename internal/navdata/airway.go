package navdata

import "fmt"

// AirwayClass is the altitude structure an airway belongs to
type AirwayClass uint8

const (
	ClassBoth AirwayClass = iota
	ClassLow              // victor
	ClassHigh             // jet
)

func (c AirwayClass) String() string {
	switch c {
	case ClassLow:
		return "victor"
	case ClassHigh:
		return "jet"
	}
	return "both"
}

// Direction restricts which way an airway segment may be flown
type Direction uint8

const (
	DirBoth Direction = iota
	DirForward
	DirBackward
)

func (d Direction) String() string {
	switch d {
	case DirForward:
		return "forward"
	case DirBackward:
		return "backward"
	}
	return "both"
}

// FixRef is an unresolved reference to a fix by ident and region.
// Type is an optional hint from the source format.
type FixRef struct {
	Ident  string
	Region string
	Type   NavaidType
}

func (f FixRef) String() string {
	if f.Region == "" {
		return f.Ident
	}
	return fmt.Sprintf("%s/%s", f.Ident, f.Region)
}

// AirwaySegment is one raw leg of an airway. Segments are transient and
// consumed entirely by the airway resolver.
type AirwaySegment struct {
	Name      string
	Class     AirwayClass
	Direction Direction
	From      FixRef
	To        FixRef
	MinAltFt  int
	MaxAltFt  int
	Format    Format
	Prov      Provenance
}
