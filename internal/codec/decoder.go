package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Decoder reads one framed artifact. Reads are sticky on error: after the
// first failure every read returns a zero value and Err reports the cause.
type Decoder struct {
	spec    Spec
	state   State
	err     error
	header  Header
	payload []byte
	pos     int
	base    int64
}

// NewDecoder returns an unopened decoder for spec
func NewDecoder(spec Spec) *Decoder {
	return &Decoder{spec: spec}
}

// Open reads the header and payload from r. The magic is checked before
// anything else, then the version, then the declared payload length.
func (d *Decoder) Open(r io.Reader) error {
	if d.state != Unopened {
		return d.fail(ErrState, "open called twice", nil)
	}
	d.state = Reading
	var hdr [HeaderSize]byte
	n, err := io.ReadFull(r, hdr[:])
	if err != nil {
		// A short read may still carry a full magic that can be checked first
		if n >= 4 && binary.LittleEndian.Uint32(hdr[:4]) != d.spec.Magic {
			return d.fail(ErrInvalidMagic, fmt.Sprintf("got %s", MagicString(binary.LittleEndian.Uint32(hdr[:4]))), nil)
		}
		return d.fail(ErrReadPastEnd, "short header", err)
	}
	if err := d.checkHeader(hdr[:]); err != nil {
		return err
	}
	// a corrupted length must not allocate up front
	payload, err := io.ReadAll(io.LimitReader(r, int64(d.header.Length)))
	if err != nil {
		return d.fail(ErrReadPastEnd, "payload read", err)
	}
	if uint64(len(payload)) < uint64(d.header.Length) {
		d.base = int64(HeaderSize + len(payload))
		return d.fail(ErrReadPastEnd, fmt.Sprintf("payload declares %d bytes, got %d", d.header.Length, len(payload)), nil)
	}
	d.payload = payload
	d.base = HeaderSize
	return nil
}

// OpenBytes decodes from an in-memory buffer without copying the payload.
// Bytes beyond the declared payload are ignored.
func (d *Decoder) OpenBytes(b []byte) error {
	if d.state != Unopened {
		return d.fail(ErrState, "open called twice", nil)
	}
	d.state = Reading
	if len(b) >= 4 && len(b) < HeaderSize && binary.LittleEndian.Uint32(b[:4]) != d.spec.Magic {
		return d.fail(ErrInvalidMagic, fmt.Sprintf("got %s", MagicString(binary.LittleEndian.Uint32(b[:4]))), nil)
	}
	if len(b) < HeaderSize {
		return d.fail(ErrReadPastEnd, "short header", nil)
	}
	if err := d.checkHeader(b[:HeaderSize]); err != nil {
		return err
	}
	rest := b[HeaderSize:]
	if uint64(len(rest)) < uint64(d.header.Length) {
		return d.fail(ErrReadPastEnd, fmt.Sprintf("payload declares %d bytes, got %d", d.header.Length, len(rest)), nil)
	}
	d.payload = rest[:d.header.Length]
	d.base = HeaderSize
	return nil
}

func (d *Decoder) checkHeader(b []byte) error {
	h, _ := ParseHeader(b)
	d.header = h
	if h.Magic != d.spec.Magic {
		return d.fail(ErrInvalidMagic, fmt.Sprintf("got %s, want %s", MagicString(h.Magic), MagicString(d.spec.Magic)), nil)
	}
	if !d.spec.Accepts(d.Version()) {
		return d.fail(ErrVersionMismatch, fmt.Sprintf("got %d, supported %d..%d", d.Version(), d.spec.MinVersion, d.spec.Version), nil)
	}
	return nil
}

func (d *Decoder) fail(kind error, detail string, cause error) error {
	if d.err != nil {
		return d.err
	}
	d.state = Failed
	d.err = &Error{Artifact: d.spec.Name, Kind: kind, Offset: d.Offset(), Detail: detail, Cause: cause}
	return d.err
}

// State returns the current state
func (d *Decoder) State() State { return d.state }

// Err returns the first error encountered
func (d *Decoder) Err() error { return d.err }

// Header returns the raw header
func (d *Decoder) Header() Header { return d.header }

// Version returns the stored version with flag bits removed
func (d *Decoder) Version() uint16 { return d.header.Version &^ d.spec.FlagMask }

// Flags returns the flag bits of the stored version
func (d *Decoder) Flags() uint16 { return d.header.Version & d.spec.FlagMask }

// Len returns the payload length
func (d *Decoder) Len() int { return len(d.payload) }

// Remaining returns the unread payload bytes
func (d *Decoder) Remaining() int { return len(d.payload) - d.pos }

// Pos returns the read position within the payload
func (d *Decoder) Pos() int { return d.pos }

// Offset returns the read position within the artifact
func (d *Decoder) Offset() int64 { return d.base + int64(d.pos) }

// Close finishes decoding. Unread payload is not an error.
func (d *Decoder) Close() error {
	switch d.state {
	case Reading:
		d.state = OK
		return nil
	case OK:
		return nil
	case Failed:
		return d.err
	}
	return d.fail(ErrState, "close before open", nil)
}

func (d *Decoder) take(n int) []byte {
	if d.state != Reading {
		if d.err == nil {
			d.fail(ErrState, "read outside reading state", nil)
		}
		return nil
	}
	if n < 0 || n > d.Remaining() {
		d.fail(ErrReadPastEnd, fmt.Sprintf("need %d bytes, %d left", n, d.Remaining()), nil)
		return nil
	}
	b := d.payload[d.pos : d.pos+n]
	d.pos += n
	return b
}

func (d *Decoder) U8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *Decoder) U16() uint16 {
	if b := d.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (d *Decoder) U32() uint32 {
	if b := d.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *Decoder) U64() uint64 {
	if b := d.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (d *Decoder) I16() int16 { return int16(d.U16()) }
func (d *Decoder) I32() int32 { return int32(d.U32()) }
func (d *Decoder) I64() int64 { return int64(d.U64()) }

func (d *Decoder) F32() float32 { return math.Float32frombits(d.U32()) }
func (d *Decoder) F64() float64 { return math.Float64frombits(d.U64()) }

// Bytes returns the next n payload bytes. The slice aliases the payload.
func (d *Decoder) Bytes(n int) []byte { return d.take(n) }

// Skip advances n bytes
func (d *Decoder) Skip(n int) { d.take(n) }

// Str reads a uint16 length-prefixed string
func (d *Decoder) Str() string {
	n := int(d.U16())
	if d.err != nil {
		return ""
	}
	return string(d.take(n))
}

// Fixed reads an n byte NUL padded string
func (d *Decoder) Fixed(n int) string {
	b := d.take(n)
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimRight(b, " "))
}

// Sub carves the next n bytes into an independent decoder. Errors inside
// the sub-decoder do not affect the parent, overrunning the parent does.
func (d *Decoder) Sub(n int) *Decoder {
	start := d.Offset()
	b := d.take(n)
	if b == nil && n != 0 {
		return &Decoder{spec: d.spec, state: Failed, err: d.err}
	}
	return &Decoder{spec: d.spec, state: Reading, header: d.header, payload: b, base: start}
}
