package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Encoder buffers a payload and writes the framed artifact in Finish
type Encoder struct {
	spec  Spec
	w     io.Writer
	state State
	err   error
	flags uint16
	buf   []byte
}

// NewEncoder returns an encoder in the writing state
func NewEncoder(spec Spec, w io.Writer) *Encoder {
	return &Encoder{spec: spec, w: w, state: Writing}
}

// SetFlags sets flag bits stored alongside the version
func (e *Encoder) SetFlags(flags uint16) {
	e.flags = flags & e.spec.FlagMask
}

// State returns the current state
func (e *Encoder) State() State { return e.state }

// Err returns the first error encountered
func (e *Encoder) Err() error { return e.err }

// Len returns the buffered payload length
func (e *Encoder) Len() int { return len(e.buf) }

func (e *Encoder) fail(kind error, detail string, cause error) error {
	if e.err != nil {
		return e.err
	}
	e.state = Failed
	e.err = &Error{Artifact: e.spec.Name, Kind: kind, Detail: detail, Cause: cause}
	return e.err
}

func (e *Encoder) grow(n int) []byte {
	if e.state != Writing {
		if e.err == nil {
			e.fail(ErrState, "write outside writing state", nil)
		}
		return nil
	}
	if uint64(len(e.buf))+uint64(n) > MaxPayload {
		e.fail(ErrWriteFailed, "payload exceeds 32-bit length", nil)
		return nil
	}
	e.buf = append(e.buf, make([]byte, n)...)
	return e.buf[len(e.buf)-n:]
}

func (e *Encoder) PutU8(v uint8) {
	if b := e.grow(1); b != nil {
		b[0] = v
	}
}

func (e *Encoder) PutU16(v uint16) {
	if b := e.grow(2); b != nil {
		binary.LittleEndian.PutUint16(b, v)
	}
}

func (e *Encoder) PutU32(v uint32) {
	if b := e.grow(4); b != nil {
		binary.LittleEndian.PutUint32(b, v)
	}
}

func (e *Encoder) PutU64(v uint64) {
	if b := e.grow(8); b != nil {
		binary.LittleEndian.PutUint64(b, v)
	}
}

func (e *Encoder) PutI16(v int16) { e.PutU16(uint16(v)) }
func (e *Encoder) PutI32(v int32) { e.PutU32(uint32(v)) }
func (e *Encoder) PutI64(v int64) { e.PutU64(uint64(v)) }

func (e *Encoder) PutF32(v float32) { e.PutU32(math.Float32bits(v)) }
func (e *Encoder) PutF64(v float64) { e.PutU64(math.Float64bits(v)) }

// PutBytes appends raw bytes
func (e *Encoder) PutBytes(p []byte) {
	if b := e.grow(len(p)); b != nil {
		copy(b, p)
	}
}

// PutString appends a uint16 length-prefixed string
func (e *Encoder) PutString(s string) {
	if len(s) > math.MaxUint16 {
		e.fail(ErrWriteFailed, fmt.Sprintf("string of %d bytes too long", len(s)), nil)
		return
	}
	e.PutU16(uint16(len(s)))
	e.PutBytes([]byte(s))
}

// PutFixed appends s NUL padded or truncated to n bytes
func (e *Encoder) PutFixed(s string, n int) {
	if b := e.grow(n); b != nil {
		copy(b, s)
	}
}

// Finish writes header and payload. A short write is ErrIncompleteWrite,
// a writer failure before any byte lands is ErrWriteFailed.
func (e *Encoder) Finish() error {
	if e.state != Writing {
		if e.err != nil {
			return e.err
		}
		return e.fail(ErrState, "finish called twice", nil)
	}
	out := make([]byte, HeaderSize+len(e.buf))
	putHeader(out, Header{
		Magic:   e.spec.Magic,
		Version: e.spec.Version | e.flags,
		Length:  uint32(len(e.buf)),
	})
	copy(out[HeaderSize:], e.buf)

	n, err := e.w.Write(out)
	switch {
	case err != nil && n == 0:
		return e.fail(ErrWriteFailed, "", err)
	case n < len(out):
		return e.fail(ErrIncompleteWrite, fmt.Sprintf("wrote %d of %d bytes", n, len(out)), err)
	case err != nil:
		return e.fail(ErrWriteFailed, "", err)
	}
	e.state = OK
	return nil
}

// Marshal frames payload under spec in one call
func Marshal(spec Spec, w io.Writer, payload []byte) error {
	e := NewEncoder(spec, w)
	e.PutBytes(payload)
	return e.Finish()
}

// Unmarshal returns the payload of a framed artifact held in b
func Unmarshal(spec Spec, b []byte) ([]byte, error) {
	d := NewDecoder(spec)
	if err := d.OpenBytes(b); err != nil {
		return nil, err
	}
	payload := d.Bytes(d.Remaining())
	return payload, d.Close()
}
