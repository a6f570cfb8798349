// Package artifact holds the small framed files the compiler writes next
// to the database: flight replays, window layouts and an inspector that
// recognizes every framed type.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/wegman-software/navcompile-go/internal/codec"
	"github.com/wegman-software/navcompile-go/internal/feed"
	"github.com/wegman-software/navcompile-go/internal/navdata"
)

// ReplaySpec frames a recorded flight
var ReplaySpec = codec.Spec{
	Name:    "replay",
	Magic:   codec.FourCC("NVRP"),
	Version: 1,
}

// samplesSpec frames the decompressed sample block
var samplesSpec = codec.Spec{
	Name:    "replay samples",
	Magic:   codec.FourCC("NVRS"),
	Version: 1,
}

const sampleSize = 8 + 8 + 8 + 4 + 4 + 4 + 1

// maxSamplesBlock bounds the decompressed sample block
const maxSamplesBlock = 256 << 20

const flagOnGround = 1

// Replay is a recorded flight
type Replay struct {
	Aircraft string
	Cycle    string
	Start    time.Time
	Samples  []feed.Position
}

// Record captures a replay from src
func Record(ctx context.Context, src feed.PositionSource, aircraft, cycle string, opts feed.Options) (*Replay, error) {
	samples, err := feed.Capture(ctx, src, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to capture positions: %w", err)
	}
	r := &Replay{Aircraft: aircraft, Cycle: cycle, Samples: samples}
	if len(samples) > 0 {
		r.Start = samples[0].Time
	}
	return r, nil
}

// Duration returns the time between the first and last sample
func (r *Replay) Duration() time.Duration {
	if len(r.Samples) < 2 {
		return 0
	}
	return r.Samples[len(r.Samples)-1].Time.Sub(r.Samples[0].Time)
}

// WriteTo frames the replay. Samples are stored zstd compressed.
func (r *Replay) WriteTo(w io.Writer) (int64, error) {
	var raw bytes.Buffer
	inner := codec.NewEncoder(samplesSpec, &raw)
	for _, s := range r.Samples {
		inner.PutI64(s.Time.Sub(r.Start).Nanoseconds())
		inner.PutF64(s.Pos.Lat)
		inner.PutF64(s.Pos.Lon)
		inner.PutF32(s.AltitudeFt)
		inner.PutF32(s.HeadingDeg)
		inner.PutF32(s.GroundSpeedKt)
		var flags uint8
		if s.OnGround {
			flags |= flagOnGround
		}
		inner.PutU8(flags)
	}
	if err := inner.Finish(); err != nil {
		return 0, err
	}

	zw, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return 0, fmt.Errorf("failed to create compressor: %w", err)
	}
	block := zw.EncodeAll(raw.Bytes(), nil)
	zw.Close()

	enc := codec.NewEncoder(ReplaySpec, w)
	enc.PutString(r.Aircraft)
	enc.PutString(r.Cycle)
	enc.PutI64(r.Start.UnixNano())
	enc.PutU32(uint32(len(r.Samples)))
	enc.PutU32(uint32(len(block)))
	enc.PutBytes(block)
	n := int64(codec.HeaderSize + enc.Len())
	if err := enc.Finish(); err != nil {
		return 0, err
	}
	return n, nil
}

// ReadReplay decodes a replay artifact
func ReadReplay(rd io.Reader) (*Replay, error) {
	dec := codec.NewDecoder(ReplaySpec)
	if err := dec.Open(rd); err != nil {
		return nil, err
	}
	r := &Replay{Aircraft: dec.Str(), Cycle: dec.Str()}
	start := dec.I64()
	count := dec.U32()
	block := dec.Bytes(int(dec.U32()))
	if err := dec.Close(); err != nil {
		return nil, err
	}
	r.Start = time.Unix(0, start).UTC()

	zr, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(maxSamplesBlock))
	if err != nil {
		return nil, fmt.Errorf("failed to create decompressor: %w", err)
	}
	defer zr.Close()
	raw, err := zr.DecodeAll(block, nil)
	if err != nil {
		return nil, &codec.Error{Artifact: ReplaySpec.Name, Kind: codec.ErrReadPastEnd, Detail: "sample block", Cause: err}
	}

	inner := codec.NewDecoder(samplesSpec)
	if err := inner.OpenBytes(raw); err != nil {
		return nil, err
	}
	if uint64(inner.Remaining()) != uint64(count)*sampleSize {
		return nil, &codec.Error{
			Artifact: ReplaySpec.Name,
			Kind:     codec.ErrReadPastEnd,
			Detail:   fmt.Sprintf("%d samples declared, block holds %d bytes", count, inner.Remaining()),
		}
	}
	r.Samples = make([]feed.Position, count)
	for i := range r.Samples {
		s := &r.Samples[i]
		s.Time = r.Start.Add(time.Duration(inner.I64()))
		s.Pos = navdata.LatLon{Lat: inner.F64(), Lon: inner.F64()}
		s.AltitudeFt = inner.F32()
		s.HeadingDeg = inner.F32()
		s.GroundSpeedKt = inner.F32()
		s.OnGround = inner.U8()&flagOnGround != 0
	}
	if err := inner.Close(); err != nil {
		return nil, err
	}
	return r, nil
}

// SaveReplay writes r to path
func SaveReplay(path string, r *Replay) error {
	return save(path, r)
}

// LoadReplay reads a replay from path
func LoadReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadReplay(f)
}

func save(path string, w io.WriterTo) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := w.WriteTo(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
