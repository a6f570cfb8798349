// Package feed defines the live simulator position feed. Transports live
// outside this module; they implement PositionSource.
package feed

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/wegman-software/navcompile-go/internal/navdata"
)

// Position is one aircraft position sample
type Position struct {
	Time          time.Time
	Pos           navdata.LatLon
	AltitudeFt    float32
	HeadingDeg    float32
	GroundSpeedKt float32
	OnGround      bool
}

// PositionSource delivers positions from a running simulator. Next blocks
// until a sample is available and returns io.EOF once the feed has ended.
type PositionSource interface {
	Next(ctx context.Context) (Position, error)
	Close() error
}

// SliceSource replays a fixed list of positions
type SliceSource struct {
	positions []Position
	pos       int
}

// NewSliceSource returns a source yielding positions in order
func NewSliceSource(positions []Position) *SliceSource {
	return &SliceSource{positions: positions}
}

func (s *SliceSource) Next(ctx context.Context) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	if s.pos >= len(s.positions) {
		return Position{}, io.EOF
	}
	p := s.positions[s.pos]
	s.pos++
	return p, nil
}

func (s *SliceSource) Close() error { return nil }

// Options bounds a capture
type Options struct {
	// MaxSamples stops the capture after this many samples, 0 for no limit
	MaxSamples int
	// MinInterval drops samples closer than this to the previous kept one
	MinInterval time.Duration
}

// Capture reads src until it ends, ctx is done or MaxSamples are kept.
// Samples with an invalid position are skipped. Cancelling ctx ends the
// capture without error.
func Capture(ctx context.Context, src PositionSource, opts Options) ([]Position, error) {
	var out []Position
	for opts.MaxSamples <= 0 || len(out) < opts.MaxSamples {
		p, err := src.Next(ctx)
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if !p.Pos.Valid() {
			continue
		}
		if n := len(out); n > 0 && opts.MinInterval > 0 && p.Time.Sub(out[n-1].Time) < opts.MinInterval {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
