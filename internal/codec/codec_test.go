package codec

import (
	"bytes"
	"errors"
	"testing"
)

var testSpec = Spec{Name: "test", Magic: FourCC("NVTS"), Version: 2, MinVersion: 1}

func encodeSample(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	e := NewEncoder(testSpec, &buf)
	e.PutU8(7)
	e.PutU16(0xbeef)
	e.PutI32(-12345678)
	e.PutF64(51.4775)
	e.PutString("EGLL")
	e.PutFixed("LON", 8)
	if err := e.Finish(); err != nil {
		t.Fatalf("Finish() error: %v", err)
	}
	if e.State() != OK {
		t.Fatalf("encoder state = %v, want ok", e.State())
	}
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	data := encodeSample(t)

	d := NewDecoder(testSpec)
	if err := d.Open(bytes.NewReader(data)); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if got := d.U8(); got != 7 {
		t.Errorf("U8() = %d, want 7", got)
	}
	if got := d.U16(); got != 0xbeef {
		t.Errorf("U16() = %x, want beef", got)
	}
	if got := d.I32(); got != -12345678 {
		t.Errorf("I32() = %d, want -12345678", got)
	}
	if got := d.F64(); got != 51.4775 {
		t.Errorf("F64() = %v, want 51.4775", got)
	}
	if got := d.Str(); got != "EGLL" {
		t.Errorf("Str() = %q, want EGLL", got)
	}
	if got := d.Fixed(8); got != "LON" {
		t.Errorf("Fixed() = %q, want LON", got)
	}
	if d.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", d.Remaining())
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if d.State() != OK {
		t.Errorf("state = %v, want ok", d.State())
	}
}

func TestPayloadBytesRoundTrip(t *testing.T) {
	payload := []byte{0, 1, 2, 3, 0xff, 0xfe, 'x'}
	var buf bytes.Buffer
	if err := Marshal(testSpec, &buf, payload); err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	got, err := Unmarshal(testSpec, buf.Bytes())
	if err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %v, want %v", got, payload)
	}
}

func TestMagicFlip(t *testing.T) {
	data := encodeSample(t)
	for i := 0; i < 4; i++ {
		corrupt := append([]byte(nil), data...)
		corrupt[i] ^= 0x01

		d := NewDecoder(testSpec)
		err := d.Open(bytes.NewReader(corrupt))
		if !errors.Is(err, ErrInvalidMagic) {
			t.Errorf("byte %d: Open() error = %v, want ErrInvalidMagic", i, err)
		}
		if errors.Is(err, ErrVersionMismatch) {
			t.Errorf("byte %d: magic error also matches version mismatch", i)
		}
		if d.State() != Failed {
			t.Errorf("byte %d: state = %v, want error", i, d.State())
		}
		if d.U8() != 0 {
			t.Errorf("byte %d: read after failure returned data", i)
		}
	}
}

func TestTruncatedPayload(t *testing.T) {
	data := encodeSample(t)
	short := data[:len(data)-1]

	d := NewDecoder(testSpec)
	if err := d.Open(bytes.NewReader(short)); !errors.Is(err, ErrReadPastEnd) {
		t.Errorf("Open() error = %v, want ErrReadPastEnd", err)
	}

	d = NewDecoder(testSpec)
	if err := d.OpenBytes(short); !errors.Is(err, ErrReadPastEnd) {
		t.Errorf("OpenBytes() error = %v, want ErrReadPastEnd", err)
	}
}

func TestVersionMismatch(t *testing.T) {
	var buf bytes.Buffer
	newer := testSpec
	newer.Version = 3
	if err := Marshal(newer, &buf, []byte("x")); err != nil {
		t.Fatal(err)
	}
	_, err := Unmarshal(testSpec, buf.Bytes())
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("error = %v, want ErrVersionMismatch", err)
	}
	if errors.Is(err, ErrInvalidMagic) {
		t.Error("version mismatch reported as invalid magic")
	}

	buf.Reset()
	older := testSpec
	older.Version = 1
	if err := Marshal(older, &buf, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := Unmarshal(testSpec, buf.Bytes()); err != nil {
		t.Errorf("min version rejected: %v", err)
	}
}

func TestFlags(t *testing.T) {
	spec := Spec{Name: "flagged", Magic: 0x19920201, Version: 2, MinVersion: 1, FlagMask: 0x8000}
	var buf bytes.Buffer
	e := NewEncoder(spec, &buf)
	e.SetFlags(0x8000)
	e.PutU32(1)
	if err := e.Finish(); err != nil {
		t.Fatal(err)
	}
	d := NewDecoder(spec)
	if err := d.OpenBytes(buf.Bytes()); err != nil {
		t.Fatalf("OpenBytes() error: %v", err)
	}
	if d.Version() != 2 || d.Flags() != 0x8000 {
		t.Errorf("version/flags = %d/%x, want 2/8000", d.Version(), d.Flags())
	}
}

func TestReadPastEndIsSticky(t *testing.T) {
	var buf bytes.Buffer
	if err := Marshal(testSpec, &buf, []byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	d := NewDecoder(testSpec)
	if err := d.OpenBytes(buf.Bytes()); err != nil {
		t.Fatal(err)
	}
	_ = d.U32()
	if !errors.Is(d.Err(), ErrReadPastEnd) {
		t.Fatalf("Err() = %v, want ErrReadPastEnd", d.Err())
	}
	if d.U8() != 0 {
		t.Error("read after failure returned data")
	}
	if err := d.Close(); !errors.Is(err, ErrReadPastEnd) {
		t.Errorf("Close() = %v, want ErrReadPastEnd", err)
	}
}

func TestSubDecoder(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(testSpec, &buf)
	e.PutU16(2)
	e.PutU16(0xaaaa)
	e.PutU8(9)
	if err := e.Finish(); err != nil {
		t.Fatal(err)
	}
	d := NewDecoder(testSpec)
	if err := d.OpenBytes(buf.Bytes()); err != nil {
		t.Fatal(err)
	}
	n := int(d.U16())
	sub := d.Sub(n)
	_ = sub.U32()
	if !errors.Is(sub.Err(), ErrReadPastEnd) {
		t.Errorf("sub Err() = %v, want ErrReadPastEnd", sub.Err())
	}
	if d.Err() != nil {
		t.Errorf("parent Err() = %v, want nil", d.Err())
	}
	if got := d.U8(); got != 9 {
		t.Errorf("parent U8() = %d, want 9", got)
	}
}

type shortWriter struct{ n int }

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.n {
		return w.n, errors.New("disk full")
	}
	return len(p), nil
}

func TestWriteFailures(t *testing.T) {
	e := NewEncoder(testSpec, &shortWriter{n: 4})
	e.PutU32(1)
	if err := e.Finish(); !errors.Is(err, ErrIncompleteWrite) {
		t.Errorf("Finish() = %v, want ErrIncompleteWrite", err)
	}

	e = NewEncoder(testSpec, &shortWriter{n: 0})
	e.PutU32(1)
	if err := e.Finish(); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("Finish() = %v, want ErrWriteFailed", err)
	}
	if e.State() != Failed {
		t.Errorf("state = %v, want error", e.State())
	}
	e.PutU8(1)
	if err := e.Finish(); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("second Finish() = %v, want first error", err)
	}
}

func TestMagicString(t *testing.T) {
	if got := MagicString(FourCC("NVRP")); got != "NVRP" {
		t.Errorf("MagicString = %q, want NVRP", got)
	}
	if got := MagicString(0x19920201); got != "0x19920201" {
		t.Errorf("MagicString = %q, want 0x19920201", got)
	}
}
