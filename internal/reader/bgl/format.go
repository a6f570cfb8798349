package bgl

import (
	"fmt"
	"os"

	"github.com/wegman-software/navcompile-go/internal/codec"
)

// Spec frames a BGL file. Bit 15 of the version marks encrypted content.
var Spec = codec.Spec{
	Name:       "bgl",
	Magic:      0x19920201,
	Version:    2,
	MinVersion: 1,
	FlagMask:   FlagEncrypted,
}

// FlagEncrypted is set in the version field of encrypted files
const FlagEncrypted = 0x8000

// Record types
const (
	RecAirport   uint16 = 0x0003
	RecVOR       uint16 = 0x0013
	RecNDB       uint16 = 0x0017
	RecBoundary  uint16 = 0x0020
	RecWaypoint  uint16 = 0x0022
	RecApproach  uint16 = 0x0024
	recHeaderLen        = 6 // [type:2][size:4]
)

// VOR flags
const (
	VORFlagDME   = 0x01
	VORFlagTACAN = 0x02
)

// Route types of waypoint route entries
const (
	RouteVictor = 1
	RouteJet    = 2
	RouteBoth   = 3
)

// Fix types used by route entries and approach legs
const (
	FixVOR      = 1
	FixNDB      = 2
	FixWaypoint = 3
	FixAirport  = 4
)

// Field widths
const (
	identLen   = 8
	regionLen  = 2
	airportLen = 4
	runwayLen  = 4
)

// coordScale converts the fixed-point int32 coordinates to degrees
const coordScale = 1e7

// Surfaces indexed by the runway surface byte
var Surfaces = []string{"concrete", "grass", "water", "asphalt", "clay", "snow", "ice", "dirt", "coral", "gravel", "bituminous", "brick", "macadam", "planks", "sand", "shale", "tarmac", "unknown"}

// BoundaryClasses indexed by the boundary class byte
var BoundaryClasses = []string{"A", "B", "C", "D", "E", "F", "G", "CTR", "TMA", "RESTRICTED", "PROHIBITED", "DANGER"}

// IsEncrypted reports whether path carries a BGL header with the encrypted flag
func IsEncrypted(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h, err := codec.PeekHeader(f)
	if err != nil {
		return false, err
	}
	if h.Magic != Spec.Magic {
		return false, nil
	}
	return h.Version&FlagEncrypted != 0, nil
}
