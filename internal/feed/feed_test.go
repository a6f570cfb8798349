package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wegman-software/navcompile-go/internal/navdata"
)

func track(n int) []Position {
	t0 := time.Date(2023, 11, 2, 12, 0, 0, 0, time.UTC)
	out := make([]Position, n)
	for i := range out {
		out[i] = Position{
			Time: t0.Add(time.Duration(i) * time.Second),
			Pos:  navdata.LatLon{Lat: 47 + float64(i)*0.01, Lon: -122},
		}
	}
	return out
}

func TestCapture(t *testing.T) {
	bad := track(3)
	bad[1].Pos.Lat = 95

	tests := []struct {
		name string
		in   []Position
		opts Options
		want int
	}{
		{"all", track(10), Options{}, 10},
		{"max samples", track(10), Options{MaxSamples: 4}, 4},
		{"min interval", track(10), Options{MinInterval: 2 * time.Second}, 5},
		{"invalid position", bad, Options{}, 2},
		{"empty", nil, Options{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Capture(context.Background(), NewSliceSource(tt.in), tt.opts)
			if err != nil {
				t.Fatalf("Capture() error: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("samples = %d, want %d", len(got), tt.want)
			}
		})
	}
}

type failingSource struct{ n int }

func (f *failingSource) Next(context.Context) (Position, error) {
	f.n++
	if f.n > 2 {
		return Position{}, errors.New("connection reset")
	}
	return Position{Pos: navdata.LatLon{Lat: 1, Lon: 1}}, nil
}

func (f *failingSource) Close() error { return nil }

func TestCaptureError(t *testing.T) {
	got, err := Capture(context.Background(), &failingSource{}, Options{})
	if err == nil {
		t.Fatal("Capture() error = nil, want connection reset")
	}
	if len(got) != 2 {
		t.Errorf("samples before error = %d, want 2", len(got))
	}
}

func TestCaptureCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := Capture(ctx, NewSliceSource(track(5)), Options{})
	if err != nil || len(got) != 0 {
		t.Errorf("Capture() = %d samples, %v; want 0, nil", len(got), err)
	}
}
