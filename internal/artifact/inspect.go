package artifact

import (
	"bytes"
	"fmt"
	"os"

	"github.com/wegman-software/navcompile-go/internal/codec"
	"github.com/wegman-software/navcompile-go/internal/reader/bgl"
	"github.com/wegman-software/navcompile-go/internal/script"
)

// Known lists every framed artifact type
func Known() []codec.Spec {
	return []codec.Spec{ReplaySpec, LayoutSpec, script.Spec, bgl.Spec}
}

// Info summarizes a framed file
type Info struct {
	Type    string
	Magic   string
	Version uint16
	Flags   uint16
	Length  uint32
	Detail  string
}

// Inspect identifies the framed file at path and decodes enough of it to
// describe it. Unknown magic numbers are ErrInvalidMagic.
func Inspect(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return InspectBytes(data)
}

// InspectBytes is Inspect over an in-memory file
func InspectBytes(data []byte) (*Info, error) {
	h, err := codec.ParseHeader(data)
	if err != nil {
		return nil, err
	}
	var spec codec.Spec
	found := false
	for _, s := range Known() {
		if s.Magic == h.Magic {
			spec, found = s, true
			break
		}
	}
	if !found {
		return nil, &codec.Error{Kind: codec.ErrInvalidMagic, Detail: "unknown type " + codec.MagicString(h.Magic)}
	}

	info := &Info{
		Type:    spec.Name,
		Magic:   codec.MagicString(h.Magic),
		Version: h.Version &^ spec.FlagMask,
		Flags:   h.Version & spec.FlagMask,
		Length:  h.Length,
	}

	switch spec.Magic {
	case ReplaySpec.Magic:
		r, err := ReadReplay(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		info.Detail = fmt.Sprintf("aircraft %q, cycle %s, %d samples over %s", r.Aircraft, r.Cycle, len(r.Samples), r.Duration())
	case LayoutSpec.Magic:
		l, err := ReadLayout(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		info.Detail = fmt.Sprintf("layout %q, %d windows", l.Name, len(l.Windows))
	case script.Spec.Magic:
		c, err := script.Read(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		info.Detail = fmt.Sprintf("script %s, %d bytes, prepare=%t", c.Name, len(c.Source), c.HasPrepare)
	default:
		// BGL payloads are only checked for framing
		if _, err := codec.Unmarshal(spec, data); err != nil {
			return nil, err
		}
		info.Detail = fmt.Sprintf("encrypted=%t", info.Flags&bgl.FlagEncrypted != 0)
	}
	return info, nil
}
