package xplane

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wegman-software/navcompile-go/internal/navdata"
)

// Row codes of earth_nav.dat
const (
	navNDB         = 2
	navVOR         = 3
	navDME         = 12
	navDMEAlone    = 13
	navILSFirst    = 4
	navILSLast     = 9
	navGLSFirst    = 14
	navGLSLast     = 16
	awyFix         = 11
	awyNDB         = navNDB
	awyVOR         = navVOR
	feetPerHundred = 100
)

func parseLatLon(latS, lonS string) (navdata.LatLon, error) {
	lat, err := strconv.ParseFloat(latS, 64)
	if err != nil {
		return navdata.LatLon{}, fmt.Errorf("invalid latitude %q", latS)
	}
	lon, err := strconv.ParseFloat(lonS, 64)
	if err != nil {
		return navdata.LatLon{}, fmt.Errorf("invalid longitude %q", lonS)
	}
	p := navdata.LatLon{Lat: lat, Lon: lon}
	if !p.Valid() {
		return p, fmt.Errorf("coordinates out of range %s", p)
	}
	return p, nil
}

func terminalAirport(s string) string {
	if s == "ENRT" {
		return ""
	}
	return s
}

// parseFix decodes "lat lon ident airport region [type] [name...]"
func parseFix(f []string, prov navdata.Provenance) (navdata.Record, error) {
	if len(f) < 5 {
		return nil, fmt.Errorf("fix row needs 5 fields, got %d", len(f))
	}
	pos, err := parseLatLon(f[0], f[1])
	if err != nil {
		return nil, err
	}
	wp := &navdata.Navaid{
		Base: navdata.Base{
			Ident:  f[2],
			Region: f[4],
			Pos:    pos,
			Format: navdata.FormatXPlane,
			Prov:   prov,
		},
		Type:         navdata.TypeWaypoint,
		AirportIdent: terminalAirport(f[3]),
	}
	if len(f) > 6 {
		wp.Name = strings.Join(f[6:], " ")
	}
	return wp, nil
}

// parseNav decodes an earth_nav.dat row. ILS and GLS components return a
// nil record without error.
func parseNav(f []string, prov navdata.Provenance) (navdata.Record, error) {
	if len(f) < 1 {
		return nil, fmt.Errorf("empty navaid row")
	}
	code, err := strconv.Atoi(f[0])
	if err != nil {
		return nil, fmt.Errorf("invalid row code %q", f[0])
	}
	if (code >= navILSFirst && code <= navILSLast) || (code >= navGLSFirst && code <= navGLSLast) {
		return nil, nil
	}
	if code != navNDB && code != navVOR && code != navDME && code != navDMEAlone {
		return nil, fmt.Errorf("unknown row code %d", code)
	}
	if len(f) < 11 {
		return nil, fmt.Errorf("navaid row needs 11 fields, got %d", len(f))
	}

	pos, err := parseLatLon(f[1], f[2])
	if err != nil {
		return nil, err
	}
	elev, err := strconv.Atoi(f[3])
	if err != nil {
		return nil, fmt.Errorf("invalid elevation %q", f[3])
	}
	freq, err := strconv.Atoi(f[4])
	if err != nil {
		return nil, fmt.Errorf("invalid frequency %q", f[4])
	}
	rng, err := strconv.Atoi(f[5])
	if err != nil {
		return nil, fmt.Errorf("invalid range %q", f[5])
	}
	extra, err := strconv.ParseFloat(f[6], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid magnetic variation %q", f[6])
	}

	name := strings.Join(f[10:], " ")
	upper := strings.ToUpper(name)
	nav := &navdata.Navaid{
		Base: navdata.Base{
			Ident:  f[7],
			Region: f[9],
			Pos:    pos,
			Format: navdata.FormatXPlane,
			Prov:   prov,
		},
		Name:         name,
		RangeNM:      rng,
		ElevationFt:  elev,
		AirportIdent: terminalAirport(f[8]),
	}

	switch code {
	case navNDB:
		nav.Type = navdata.TypeNDB
		nav.FrequencyKHz = freq
	case navVOR:
		nav.FrequencyKHz = freq * 10
		nav.MagVar = extra
		nav.Type = navdata.TypeVOR
		if isVORDME(upper) {
			nav.Type = navdata.TypeVORDME
		}
	case navDME, navDMEAlone:
		nav.FrequencyKHz = freq * 10
		switch {
		case strings.Contains(upper, "VORTAC"), strings.Contains(upper, "TACAN"):
			// the TACAN half merges with its VOR into a VORTAC after loading
			nav.Type = navdata.TypeTACAN
		case code == navDME && isVORDME(upper):
			// DME half of a VOR-DME already represented by the VORDME row
			return nil, nil
		case code == navDME && strings.Contains(upper, "ILS"):
			return nil, nil
		default:
			nav.Type = navdata.TypeDME
		}
	}
	return nav, nil
}

func isVORDME(upperName string) bool {
	return strings.Contains(upperName, "VOR-DME") ||
		strings.Contains(upperName, "VOR/DME") ||
		strings.Contains(upperName, "VORDME")
}

func awyFixType(code string) (navdata.NavaidType, error) {
	n, err := strconv.Atoi(code)
	if err != nil {
		return "", fmt.Errorf("invalid fix type %q", code)
	}
	switch n {
	case awyFix:
		return navdata.TypeWaypoint, nil
	case awyNDB:
		return navdata.TypeNDB, nil
	case awyVOR:
		return navdata.TypeVOR, nil
	}
	return "", fmt.Errorf("unknown fix type %d", n)
}

// parseAirway decodes
// "from region type to region type direction level base top names"
// and returns one segment per hyphen-joined airway name.
func parseAirway(f []string, prov navdata.Provenance) ([]navdata.AirwaySegment, error) {
	if len(f) < 11 {
		return nil, fmt.Errorf("airway row needs 11 fields, got %d", len(f))
	}
	fromType, err := awyFixType(f[2])
	if err != nil {
		return nil, err
	}
	toType, err := awyFixType(f[5])
	if err != nil {
		return nil, err
	}

	var dir navdata.Direction
	switch f[6] {
	case "N":
		dir = navdata.DirBoth
	case "F":
		dir = navdata.DirForward
	case "B":
		dir = navdata.DirBackward
	default:
		return nil, fmt.Errorf("invalid direction %q", f[6])
	}

	var class navdata.AirwayClass
	switch f[7] {
	case "1":
		class = navdata.ClassLow
	case "2":
		class = navdata.ClassHigh
	default:
		return nil, fmt.Errorf("invalid airway level %q", f[7])
	}

	base, err := strconv.Atoi(f[8])
	if err != nil {
		return nil, fmt.Errorf("invalid base altitude %q", f[8])
	}
	top, err := strconv.Atoi(f[9])
	if err != nil {
		return nil, fmt.Errorf("invalid top altitude %q", f[9])
	}

	from := navdata.FixRef{Ident: f[0], Region: f[1], Type: fromType}
	to := navdata.FixRef{Ident: f[3], Region: f[4], Type: toType}

	var out []navdata.AirwaySegment
	for _, name := range strings.Split(f[10], "-") {
		if name == "" {
			continue
		}
		out = append(out, navdata.AirwaySegment{
			Name:      name,
			Class:     class,
			Direction: dir,
			From:      from,
			To:        to,
			MinAltFt:  base * feetPerHundred,
			MaxAltFt:  top * feetPerHundred,
			Format:    navdata.FormatXPlane,
			Prov:      prov,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("airway row without name")
	}
	return out, nil
}
