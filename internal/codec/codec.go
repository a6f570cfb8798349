package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the size of [magic:4][version:2][payloadLength:4]
const HeaderSize = 10

// MaxPayload is the largest payload the 32-bit length field can describe
const MaxPayload = 1<<32 - 1

var (
	ErrInvalidMagic    = errors.New("invalid magic number")
	ErrVersionMismatch = errors.New("version mismatch")
	ErrReadPastEnd     = errors.New("read past end")
	ErrIncompleteWrite = errors.New("incomplete write")
	ErrWriteFailed     = errors.New("write failed")
	ErrState           = errors.New("invalid codec state")
)

// Error is the terminal error of a decoder or encoder. Kind is one of the
// package sentinels and is what errors.Is matches against.
type Error struct {
	Artifact string
	Kind     error
	Offset   int64
	Detail   string
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Artifact != "" {
		msg = e.Artifact + ": " + msg
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Offset > 0 {
		msg += fmt.Sprintf(" at offset %d", e.Offset)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// Spec describes one artifact type
type Spec struct {
	Name       string
	Magic      uint32
	Version    uint16
	MinVersion uint16
	// FlagMask selects version bits that carry flags rather than the version number
	FlagMask uint16
}

// Accepts reports whether a stored version (flags removed) can be decoded
func (s Spec) Accepts(version uint16) bool {
	min := s.MinVersion
	if min == 0 {
		min = s.Version
	}
	return version >= min && version <= s.Version
}

// FourCC packs a four character tag into a magic number whose on-disk bytes
// spell the tag.
func FourCC(tag string) uint32 {
	if len(tag) != 4 {
		panic("codec: FourCC needs exactly 4 bytes")
	}
	return binary.LittleEndian.Uint32([]byte(tag))
}

// MagicString renders a magic as a four character tag when printable
func MagicString(magic uint32) string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], magic)
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%08x", magic)
		}
	}
	return string(b[:])
}

// Header is the decoded artifact header
type Header struct {
	Magic   uint32
	Version uint16
	Length  uint32
}

// ParseHeader decodes a header without checking it against any Spec
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, &Error{Kind: ErrReadPastEnd, Detail: "short header"}
	}
	return Header{
		Magic:   binary.LittleEndian.Uint32(b[0:4]),
		Version: binary.LittleEndian.Uint16(b[4:6]),
		Length:  binary.LittleEndian.Uint32(b[6:10]),
	}, nil
}

// PeekHeader reads only the header from r
func PeekHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, &Error{Kind: ErrReadPastEnd, Detail: "short header", Cause: err}
	}
	return ParseHeader(buf[:])
}

func putHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint16(b[4:6], h.Version)
	binary.LittleEndian.PutUint32(b[6:10], h.Length)
}
