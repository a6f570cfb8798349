package wkb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/proj"
)

// WKB type constants (ISO SQL/MM specification)
const (
	wkbPoint      = 1
	wkbLineString = 2
	wkbPolygon    = 3

	// SRID flag for EWKB (PostGIS extended WKB)
	wkbSRIDFlag = 0x20000000
)

// Common SRID constants
const (
	SRID4326 = proj.SRID4326
	SRID3857 = proj.SRID3857
)

var ErrInvalidGeometry = errors.New("invalid WKB geometry")

// Encoder encodes navdata geometries to EWKB.
// Uses little-endian byte order and includes the SRID.
type Encoder struct {
	buf  []byte
	srid uint32
	tr   *proj.Transformer
}

// NewEncoder creates an encoder writing coordinates in srid (4326 or 3857)
func NewEncoder(srid int) (*Encoder, error) {
	tr, err := proj.NewTransformer(proj.SRID4326, srid)
	if err != nil {
		return nil, err
	}
	return &Encoder{buf: make([]byte, 0, 64), srid: uint32(srid), tr: tr}, nil
}

// SRID returns the encoder's SRID
func (e *Encoder) SRID() int {
	return int(e.srid)
}

// EncodePoint encodes a position as a point. The returned slice is owned by the caller.
func (e *Encoder) EncodePoint(p navdata.LatLon) []byte {
	e.begin(wkbPoint, 25)
	e.appendPoint(p)
	return e.out()
}

// EncodeLine encodes a two point linestring, used for route edges
func (e *Encoder) EncodeLine(from, to navdata.LatLon) []byte {
	e.begin(wkbLineString, 45)
	e.appendUint32(2)
	e.appendPoint(from)
	e.appendPoint(to)
	return e.out()
}

// EncodePolygon encodes a single ring polygon. The ring is closed if the
// last point differs from the first.
func (e *Encoder) EncodePolygon(ring []navdata.LatLon) []byte {
	if len(ring) == 0 {
		return nil
	}
	closed := ring[0] == ring[len(ring)-1]
	n := len(ring)
	if !closed {
		n++
	}
	e.begin(wkbPolygon, 17+n*16)
	e.appendUint32(1)
	e.appendUint32(uint32(n))
	for _, p := range ring {
		e.appendPoint(p)
	}
	if !closed {
		e.appendPoint(ring[0])
	}
	return e.out()
}

func (e *Encoder) begin(typ uint32, size int) {
	if cap(e.buf) < size {
		e.buf = make([]byte, 0, size)
	}
	e.buf = e.buf[:0]
	e.buf = append(e.buf, 0x01)
	e.appendUint32(typ | wkbSRIDFlag)
	e.appendUint32(e.srid)
}

func (e *Encoder) out() []byte {
	return append([]byte(nil), e.buf...)
}

func (e *Encoder) appendPoint(p navdata.LatLon) {
	x, y := e.tr.Transform(p.Lon, p.Lat)
	e.appendFloat64(x)
	e.appendFloat64(y)
}

func (e *Encoder) appendUint32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) appendFloat64(v float64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(v))
}

// DecodePolygon returns the outer ring of a 4326 EWKB polygon written by
// EncodePolygon, without the closing point.
func DecodePolygon(b []byte) ([]navdata.LatLon, error) {
	if len(b) < 17 || b[0] != 0x01 {
		return nil, ErrInvalidGeometry
	}
	typ := binary.LittleEndian.Uint32(b[1:5])
	if typ&^wkbSRIDFlag != wkbPolygon {
		return nil, fmt.Errorf("%w: type %d is not a polygon", ErrInvalidGeometry, typ&^wkbSRIDFlag)
	}
	off := 5
	if typ&wkbSRIDFlag != 0 {
		off += 4
	}
	if len(b) < off+8 {
		return nil, ErrInvalidGeometry
	}
	rings := binary.LittleEndian.Uint32(b[off:])
	if rings == 0 {
		return nil, nil
	}
	n := int(binary.LittleEndian.Uint32(b[off+4:]))
	off += 8
	if n < 0 || len(b) < off+n*16 {
		return nil, fmt.Errorf("%w: ring of %d points exceeds %d bytes", ErrInvalidGeometry, n, len(b))
	}
	pts := make([]navdata.LatLon, 0, n)
	for i := 0; i < n; i++ {
		lon := math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
		lat := math.Float64frombits(binary.LittleEndian.Uint64(b[off+8:]))
		pts = append(pts, navdata.LatLon{Lat: lat, Lon: lon})
		off += 16
	}
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	return pts, nil
}
