package artifact

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/wegman-software/navcompile-go/internal/codec"
	"github.com/wegman-software/navcompile-go/internal/navdata"
)

// LayoutSpec frames a saved window layout
var LayoutSpec = codec.Spec{
	Name:    "layout",
	Magic:   codec.FourCC("NVLY"),
	Version: 1,
}

// Window is the saved geometry of one window
type Window struct {
	Name     string            `msgpack:"name"`
	X        int               `msgpack:"x"`
	Y        int               `msgpack:"y"`
	Width    int               `msgpack:"w"`
	Height   int               `msgpack:"h"`
	Visible  bool              `msgpack:"visible"`
	Docked   bool              `msgpack:"docked"`
	Settings map[string]string `msgpack:"settings,omitempty"`
}

// Layout is a saved window arrangement with the map view it was saved at
type Layout struct {
	Name      string         `msgpack:"name"`
	MapCenter navdata.LatLon `msgpack:"center"`
	MapZoom   float64        `msgpack:"zoom"`
	Windows   []Window       `msgpack:"windows"`
}

// Window returns the named window
func (l *Layout) Window(name string) (Window, bool) {
	for _, w := range l.Windows {
		if w.Name == name {
			return w, true
		}
	}
	return Window{}, false
}

// WriteTo frames the layout
func (l *Layout) WriteTo(w io.Writer) (int64, error) {
	payload, err := msgpack.Marshal(l)
	if err != nil {
		return 0, fmt.Errorf("failed to encode layout: %w", err)
	}
	if err := codec.Marshal(LayoutSpec, w, payload); err != nil {
		return 0, err
	}
	return int64(codec.HeaderSize + len(payload)), nil
}

// ReadLayout decodes a layout artifact
func ReadLayout(r io.Reader) (*Layout, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	payload, err := codec.Unmarshal(LayoutSpec, data)
	if err != nil {
		return nil, err
	}
	var l Layout
	if err := msgpack.NewDecoder(bytes.NewReader(payload)).Decode(&l); err != nil {
		return nil, &codec.Error{Artifact: LayoutSpec.Name, Kind: codec.ErrReadPastEnd, Detail: "payload", Cause: err}
	}
	return &l, nil
}

// SaveLayout writes l to path
func SaveLayout(path string, l *Layout) error {
	return save(path, l)
}

// LoadLayout reads a layout from path
func LoadLayout(path string) (*Layout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadLayout(f)
}
