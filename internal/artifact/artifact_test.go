package artifact

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/navcompile-go/internal/codec"
	"github.com/wegman-software/navcompile-go/internal/feed"
	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/script"
)

func testReplay(t *testing.T) *Replay {
	t.Helper()
	t0 := time.Date(2023, 11, 2, 12, 0, 0, 0, time.UTC)
	var track []feed.Position
	for i := range 50 {
		track = append(track, feed.Position{
			Time:          t0.Add(time.Duration(i) * 500 * time.Millisecond),
			Pos:           navdata.LatLon{Lat: 47.45 + float64(i)*0.001, Lon: -122.31},
			AltitudeFt:    float32(430 + i*20),
			HeadingDeg:    163,
			GroundSpeedKt: float32(140 + i),
			OnGround:      i < 5,
		})
	}
	r, err := Record(context.Background(), feed.NewSliceSource(track), "B738", "2311", feed.Options{})
	require.NoError(t, err)
	return r
}

func TestReplayRoundTrip(t *testing.T) {
	r := testReplay(t)
	var buf bytes.Buffer
	n, err := r.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	got, err := ReadReplay(&buf)
	require.NoError(t, err)
	assert.Equal(t, "B738", got.Aircraft)
	assert.Equal(t, "2311", got.Cycle)
	assert.True(t, got.Start.Equal(r.Start))
	require.Len(t, got.Samples, len(r.Samples))
	for i := range r.Samples {
		assert.True(t, got.Samples[i].Time.Equal(r.Samples[i].Time), "sample %d time", i)
		got.Samples[i].Time = r.Samples[i].Time
	}
	assert.Equal(t, r.Samples, got.Samples)
	assert.Equal(t, 24500*time.Millisecond, got.Duration())
}

func TestReplayCorrupt(t *testing.T) {
	var buf bytes.Buffer
	_, err := testReplay(t).WriteTo(&buf)
	require.NoError(t, err)
	good := buf.Bytes()

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"magic flip", func(b []byte) []byte { b[0] ^= 0xff; return b }, codec.ErrInvalidMagic},
		{"newer version", func(b []byte) []byte { binary.LittleEndian.PutUint16(b[4:], 2); return b }, codec.ErrVersionMismatch},
		{"truncated", func(b []byte) []byte { return b[:len(b)-10] }, codec.ErrReadPastEnd},
		{"header only", func(b []byte) []byte { return b[:codec.HeaderSize] }, codec.ErrReadPastEnd},
		{"sample block garbage", func(b []byte) []byte {
			for i := len(b) - 16; i < len(b); i++ {
				b[i] ^= 0x5a
			}
			return b
		}, codec.ErrReadPastEnd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), good...))
			_, err := ReadReplay(bytes.NewReader(data))
			if !errors.Is(err, tt.want) {
				t.Errorf("ReadReplay() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLayoutRoundTrip(t *testing.T) {
	l := &Layout{
		Name:      "two monitors",
		MapCenter: navdata.LatLon{Lat: 47.45, Lon: -122.31},
		MapZoom:   9.5,
		Windows: []Window{
			{Name: "map", X: 0, Y: 0, Width: 1920, Height: 1080, Visible: true},
			{Name: "route", X: 1920, Y: 0, Width: 600, Height: 800, Docked: true,
				Settings: map[string]string{"columns": "ident,region,distance"}},
		},
	}
	path := filepath.Join(t.TempDir(), "desk.nvly")
	require.NoError(t, SaveLayout(path, l))

	got, err := LoadLayout(path)
	require.NoError(t, err)
	assert.Equal(t, l, got)

	w, ok := got.Window("route")
	assert.True(t, ok)
	assert.Equal(t, "ident,region,distance", w.Settings["columns"])
	_, ok = got.Window("missing")
	assert.False(t, ok)
}

func TestLayoutCorruptPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, codec.Marshal(LayoutSpec, &buf, []byte{0xc1, 0xc1}))
	_, err := ReadLayout(&buf)
	assert.ErrorIs(t, err, codec.ErrReadPastEnd)
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()

	replayPath := filepath.Join(dir, "flight.nvrp")
	require.NoError(t, SaveReplay(replayPath, testReplay(t)))

	layoutPath := filepath.Join(dir, "desk.nvly")
	require.NoError(t, SaveLayout(layoutPath, &Layout{Name: "desk", Windows: []Window{{Name: "map"}}}))

	c, err := script.Compile("prep.lua", []byte("function prepare(r) return true end"))
	require.NoError(t, err)
	var sbuf bytes.Buffer
	_, err = c.WriteTo(&sbuf)
	require.NoError(t, err)

	tests := []struct {
		name     string
		data     func() []byte
		wantType string
		detail   string
	}{
		{"replay", func() []byte { return readFile(t, replayPath) }, "replay", `aircraft "B738", cycle 2311, 50 samples over 24.5s`},
		{"layout", func() []byte { return readFile(t, layoutPath) }, "layout", `layout "desk", 1 windows`},
		{"script", sbuf.Bytes, "prep script", "script prep.lua, 35 bytes, prepare=true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := InspectBytes(tt.data())
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, info.Type)
			assert.Equal(t, uint16(1), info.Version)
			assert.Equal(t, tt.detail, info.Detail)
		})
	}

	_, err = InspectBytes([]byte("not a framed file at all"))
	assert.ErrorIs(t, err, codec.ErrInvalidMagic)
	_, err = InspectBytes([]byte{1, 2})
	assert.ErrorIs(t, err, codec.ErrReadPastEnd)
	_, err = Inspect(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}
