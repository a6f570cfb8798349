package bgl

import (
	"context"
	"errors"
	"fmt"

	"github.com/wegman-software/navcompile-go/internal/codec"
	"github.com/wegman-software/navcompile-go/internal/diag"
	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/reader"
)

// errCorrupt marks a record that cannot be trusted. The record is dropped
// and decoding continues with the next one.
var errCorrupt = errors.New("corrupted data")

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errCorrupt, fmt.Sprintf(format, args...))
}

// fileResult is everything decoded from one file
type fileResult struct {
	path      string
	records   []navdata.Record
	segments  []navdata.AirwaySegment
	ledger    *diag.Ledger
	encrypted bool
	aborted   bool
}

// decoder decodes the records of one file
type decoder struct {
	path   string
	names  []string
	budget *reader.Budget
	res    *fileResult
}

// decodeFile decodes one mapped file. A malformed file (bad framing,
// duplicate airport, record running past the end) yields no records.
func decodeFile(ctx context.Context, path string, data []byte, maxErrors int) *fileResult {
	res := &fileResult{path: path, ledger: diag.NewLedger("read")}
	budget := reader.NewBudget(res.ledger, path, maxErrors)

	d := codec.NewDecoder(Spec)
	if err := d.OpenBytes(data); err != nil {
		cat := diag.Format
		if errors.Is(err, codec.ErrReadPastEnd) {
			cat = diag.Corruption
		}
		budget.ErrorAt(cat, d.Offset(), "%v", err)
		res.aborted = true
		return res
	}
	if d.Flags()&FlagEncrypted != 0 {
		res.encrypted = true
		budget.Add(diag.Diagnostic{
			Severity: diag.Warning,
			Category: diag.Access,
			Message:  "encrypted file skipped, scenery may not show up correctly",
		})
		return res
	}

	dec := &decoder{path: path, budget: budget, res: res}

	// Name table
	count := int(d.U16())
	dec.names = make([]string, 0, count)
	for i := 0; i < count && d.Err() == nil; i++ {
		dec.names = append(dec.names, d.Str())
	}
	if d.Err() != nil {
		budget.ErrorAt(diag.Corruption, d.Offset(), "name table: %v", d.Err())
		res.aborted = true
		return res
	}

	airports := make(map[string]int64)

	for d.Remaining() > 0 {
		if ctx.Err() != nil {
			return res
		}
		off := d.Offset()
		if d.Remaining() < recHeaderLen {
			budget.ErrorAt(diag.Corruption, off, "%v: truncated record header", codec.ErrReadPastEnd)
			return dec.abort()
		}
		typ := d.U16()
		size := d.U32()
		if uint64(size) > uint64(d.Remaining()) {
			budget.ErrorAt(diag.Corruption, off, "%v: record 0x%04x declares %d bytes, %d left",
				codec.ErrReadPastEnd, typ, size, d.Remaining())
			return dec.abort()
		}
		body := d.Sub(int(size))
		prov := navdata.Provenance{File: path, Offset: off}

		var err error
		switch typ {
		case RecAirport:
			var apt *navdata.Airport
			var runways []navdata.Record
			apt, runways, err = dec.airport(body, prov)
			if err == nil {
				if first, dup := airports[apt.Ident]; dup {
					budget.Add(diag.Diagnostic{
						Severity: diag.Error,
						Category: diag.Format,
						Offset:   off,
						Message:  fmt.Sprintf("malformed file: airport %s defined twice (first at 0x%x)", apt.Ident, first),
					})
					return dec.abort()
				}
				airports[apt.Ident] = off
				res.records = append(res.records, apt)
				res.records = append(res.records, runways...)
			}
		case RecVOR:
			err = dec.emit(dec.vor(body, prov))
		case RecNDB:
			err = dec.emit(dec.ndb(body, prov))
		case RecWaypoint:
			err = dec.waypoint(body, prov)
		case RecBoundary:
			err = dec.emit(dec.boundary(body, prov))
		case RecApproach:
			err = dec.approach(body, prov)
		default:
			// unknown record types are skipped whole
		}

		if err != nil {
			if !budget.ErrorAt(diag.Corruption, off, "record 0x%04x: %v", typ, err) {
				return res
			}
		}
	}
	return res
}

func (dec *decoder) abort() *fileResult {
	dec.res.aborted = true
	dec.res.records = nil
	dec.res.segments = nil
	return dec.res
}

func (dec *decoder) emit(rec navdata.Record, err error) error {
	if err != nil {
		return err
	}
	dec.res.records = append(dec.res.records, rec)
	return nil
}

func (dec *decoder) name(idx uint16) (string, error) {
	if int(idx) >= len(dec.names) {
		return "", corruptf("name index %d out of range (%d names)", idx, len(dec.names))
	}
	return dec.names[idx], nil
}

func readPos(d *codec.Decoder) (navdata.LatLon, error) {
	lon := float64(d.I32()) / coordScale
	lat := float64(d.I32()) / coordScale
	p := navdata.LatLon{Lat: lat, Lon: lon}
	if d.Err() == nil && !p.Valid() {
		return p, corruptf("coordinates out of range %s", p)
	}
	return p, nil
}

// bodyErr converts a short record body into a corruption error
func bodyErr(d *codec.Decoder) error {
	if err := d.Err(); err != nil {
		return fmt.Errorf("%w: %v", errCorrupt, err)
	}
	return nil
}

func (dec *decoder) base(d *codec.Decoder, prov navdata.Provenance) (navdata.Base, error) {
	b := navdata.Base{
		Ident:  d.Fixed(identLen),
		Region: d.Fixed(regionLen),
		Format: navdata.FormatBGL,
		Prov:   prov,
	}
	pos, err := readPos(d)
	b.Pos = pos
	if err != nil {
		return b, err
	}
	if err := bodyErr(d); err != nil {
		return b, err
	}
	if b.Ident == "" {
		return b, corruptf("empty ident")
	}
	return b, nil
}

func (dec *decoder) airport(d *codec.Decoder, prov navdata.Provenance) (*navdata.Airport, []navdata.Record, error) {
	b, err := dec.base(d, prov)
	if err != nil {
		return nil, nil, err
	}
	elev := d.I32()
	nameIdx := d.U16()
	rwCount := int(d.U16())
	if err := bodyErr(d); err != nil {
		return nil, nil, err
	}
	name, err := dec.name(nameIdx)
	if err != nil {
		return nil, nil, err
	}
	apt := &navdata.Airport{Base: b, Name: name, ElevationFt: int(elev)}

	runways := make([]navdata.Record, 0, rwCount)
	for i := 0; i < rwCount; i++ {
		designator := d.Fixed(runwayLen)
		heading := d.U16()
		length := d.U32()
		surface := d.U8()
		pos, err := readPos(d)
		if err != nil {
			return nil, nil, err
		}
		if err := bodyErr(d); err != nil {
			return nil, nil, err
		}
		if int(surface) >= len(Surfaces) {
			return nil, nil, corruptf("runway %s surface index %d out of range", designator, surface)
		}
		runways = append(runways, &navdata.Runway{
			Base: navdata.Base{
				Ident:  designator,
				Region: b.Region,
				Pos:    pos,
				Format: navdata.FormatBGL,
				Prov:   prov,
			},
			AirportIdent: b.Ident,
			HeadingDeg:   float64(heading) / 10,
			LengthFt:     int(length),
			Surface:      Surfaces[surface],
		})
	}
	return apt, runways, nil
}

func (dec *decoder) vor(d *codec.Decoder, prov navdata.Provenance) (navdata.Record, error) {
	b, err := dec.base(d, prov)
	if err != nil {
		return nil, err
	}
	elev := d.I32()
	freq := d.U32()
	rng := d.U16()
	magvar := d.I16()
	flags := d.U8()
	nameIdx := d.U16()
	if err := bodyErr(d); err != nil {
		return nil, err
	}
	name, err := dec.name(nameIdx)
	if err != nil {
		return nil, err
	}

	typ := navdata.TypeVOR
	switch {
	case flags&VORFlagDME != 0 && flags&VORFlagTACAN != 0:
		typ = navdata.TypeVORTAC
	case flags&VORFlagTACAN != 0:
		typ = navdata.TypeTACAN
	case flags&VORFlagDME != 0:
		typ = navdata.TypeVORDME
	}
	return &navdata.Navaid{
		Base:         b,
		Type:         typ,
		Name:         name,
		FrequencyKHz: int(freq),
		RangeNM:      int(rng),
		MagVar:       float64(magvar) / 10,
		ElevationFt:  int(elev),
	}, nil
}

func (dec *decoder) ndb(d *codec.Decoder, prov navdata.Provenance) (navdata.Record, error) {
	b, err := dec.base(d, prov)
	if err != nil {
		return nil, err
	}
	elev := d.I32()
	freq := d.U32()
	rng := d.U16()
	nameIdx := d.U16()
	if err := bodyErr(d); err != nil {
		return nil, err
	}
	name, err := dec.name(nameIdx)
	if err != nil {
		return nil, err
	}
	return &navdata.Navaid{
		Base:         b,
		Type:         navdata.TypeNDB,
		Name:         name,
		FrequencyKHz: int(freq),
		RangeNM:      int(rng),
		ElevationFt:  int(elev),
	}, nil
}

func fixType(code uint8) (navdata.NavaidType, error) {
	switch code {
	case FixVOR:
		return navdata.TypeVOR, nil
	case FixNDB:
		return navdata.TypeNDB, nil
	case FixWaypoint:
		return navdata.TypeWaypoint, nil
	case FixAirport:
		return navdata.TypeAirport, nil
	}
	return "", corruptf("fix type %d out of range", code)
}

// waypoint decodes a waypoint and the airway legs leaving it. Record and
// segments are only kept when the whole record decodes.
func (dec *decoder) waypoint(d *codec.Decoder, prov navdata.Provenance) error {
	b, err := dec.base(d, prov)
	if err != nil {
		return err
	}
	airport := d.Fixed(airportLen)
	routeCount := int(d.U8())
	if err := bodyErr(d); err != nil {
		return err
	}

	segs := make([]navdata.AirwaySegment, 0, routeCount)
	for i := 0; i < routeCount; i++ {
		routeType := d.U8()
		name := d.Fixed(identLen)
		nextIdent := d.Fixed(identLen)
		nextRegion := d.Fixed(regionLen)
		nextType := d.U8()
		dir := d.U8()
		minAlt := d.U16()
		maxAlt := d.U16()
		if err := bodyErr(d); err != nil {
			return err
		}

		var class navdata.AirwayClass
		switch routeType {
		case RouteVictor:
			class = navdata.ClassLow
		case RouteJet:
			class = navdata.ClassHigh
		case RouteBoth:
			class = navdata.ClassBoth
		default:
			return corruptf("route type %d out of range", routeType)
		}
		if dir > uint8(navdata.DirBackward) {
			return corruptf("route direction %d out of range", dir)
		}
		toType, err := fixType(nextType)
		if err != nil {
			return err
		}

		segs = append(segs, navdata.AirwaySegment{
			Name:      name,
			Class:     class,
			Direction: navdata.Direction(dir),
			From:      navdata.FixRef{Ident: b.Ident, Region: b.Region, Type: navdata.TypeWaypoint},
			To:        navdata.FixRef{Ident: nextIdent, Region: nextRegion, Type: toType},
			MinAltFt:  int(minAlt) * 100,
			MaxAltFt:  int(maxAlt) * 100,
			Format:    navdata.FormatBGL,
			Prov:      prov,
		})
	}

	dec.res.records = append(dec.res.records, &navdata.Navaid{
		Base:         b,
		Type:         navdata.TypeWaypoint,
		AirportIdent: airport,
	})
	dec.res.segments = append(dec.res.segments, segs...)
	return nil
}

func (dec *decoder) boundary(d *codec.Decoder, prov navdata.Provenance) (navdata.Record, error) {
	nameIdx := d.U16()
	class := d.U8()
	minAlt := d.I32()
	maxAlt := d.I32()
	count := int(d.U16())
	if err := bodyErr(d); err != nil {
		return nil, err
	}
	name, err := dec.name(nameIdx)
	if err != nil {
		return nil, err
	}
	if int(class) >= len(BoundaryClasses) {
		return nil, corruptf("boundary class index %d out of range", class)
	}
	if count < 3 {
		return nil, corruptf("boundary %s has %d points", name, count)
	}
	points := make([]navdata.LatLon, 0, count)
	for i := 0; i < count; i++ {
		p, err := readPos(d)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := bodyErr(d); err != nil {
		return nil, err
	}
	return &navdata.Boundary{
		Base: navdata.Base{
			Ident:  name,
			Pos:    points[0],
			Format: navdata.FormatBGL,
			Prov:   prov,
		},
		Class:  BoundaryClasses[class],
		MinAlt: int(minAlt),
		MaxAlt: int(maxAlt),
		Points: points,
	}, nil
}

func (dec *decoder) approach(d *codec.Decoder, prov navdata.Provenance) error {
	airport := d.Fixed(airportLen)
	nameIdx := d.U16()
	legCount := int(d.U8())
	if err := bodyErr(d); err != nil {
		return err
	}
	procedure, err := dec.name(nameIdx)
	if err != nil {
		return err
	}

	fixes := make([]navdata.Record, 0, legCount)
	for i := 0; i < legCount; i++ {
		ident := d.Fixed(identLen)
		region := d.Fixed(regionLen)
		if _, err := fixType(d.U8()); err != nil && d.Err() == nil {
			return err
		}
		pos, err := readPos(d)
		if err != nil {
			return err
		}
		if err := bodyErr(d); err != nil {
			return err
		}
		fixes = append(fixes, &navdata.ProcedureFix{
			Base: navdata.Base{
				Ident:  ident,
				Region: region,
				Pos:    pos,
				Format: navdata.FormatBGL,
				Prov:   prov,
			},
			AirportIdent: airport,
			Procedure:    procedure,
			Seq:          i + 1,
		})
	}
	dec.res.records = append(dec.res.records, fixes...)
	return nil
}
