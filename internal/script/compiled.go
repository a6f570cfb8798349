package script

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/wegman-software/navcompile-go/internal/codec"
)

// Spec frames compiled prep scripts
var Spec = codec.Spec{
	Name:    "prep script",
	Magic:   codec.FourCC("NVPS"),
	Version: 1,
}

// Compiled is a syntax-checked prep script ready to be framed or loaded.
// gopher-lua has no bytecode dump, so the artifact carries the checked
// source and a checksum; loading compiles it again.
type Compiled struct {
	Name       string
	Source     []byte
	HasPrepare bool
}

// Compile parses and compiles src. Syntax errors are returned with the chunk name.
func Compile(name string, src []byte) (*Compiled, error) {
	c := &Compiled{Name: name, Source: src}
	if _, err := c.proto(); err != nil {
		return nil, err
	}

	// Run once in a scratch state to see whether prepare gets defined
	rt := NewRuntime()
	defer rt.Close()
	if err := rt.LoadString(string(src)); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	c.HasPrepare = rt.HasPrepare()
	return c, nil
}

// CompileFile compiles the script at path
func CompileFile(path string) (*Compiled, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return Compile(path, src)
}

func (c *Compiled) proto() (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(bytes.NewReader(c.Source), c.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", c.Name, err)
	}
	proto, err := lua.Compile(chunk, c.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", c.Name, err)
	}
	return proto, nil
}

// WriteTo frames the script as an NVPS artifact
func (c *Compiled) WriteTo(w io.Writer) (int64, error) {
	enc := codec.NewEncoder(Spec, w)
	enc.PutString(c.Name)
	var flags uint8
	if c.HasPrepare {
		flags = 1
	}
	enc.PutU8(flags)
	enc.PutU32(crc32.ChecksumIEEE(c.Source))
	enc.PutU32(uint32(len(c.Source)))
	enc.PutBytes(c.Source)
	n := int64(codec.HeaderSize + enc.Len())
	if err := enc.Finish(); err != nil {
		return 0, err
	}
	return n, nil
}

// Read decodes an NVPS artifact
func Read(r io.Reader) (*Compiled, error) {
	dec := codec.NewDecoder(Spec)
	if err := dec.Open(r); err != nil {
		return nil, err
	}
	c := &Compiled{Name: dec.Str()}
	c.HasPrepare = dec.U8()&1 != 0
	sum := dec.U32()
	n := dec.U32()
	src := dec.Bytes(int(n))
	if err := dec.Close(); err != nil {
		return nil, err
	}
	if crc32.ChecksumIEEE(src) != sum {
		return nil, fmt.Errorf("prep script %s: checksum mismatch", c.Name)
	}
	c.Source = append([]byte(nil), src...)
	return c, nil
}

// Load reads a prep script from path. Files framed as NVPS artifacts are
// decoded, anything else is compiled as Lua source.
func Load(path string) (*Compiled, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	if h, err := codec.ParseHeader(data); err == nil && h.Magic == Spec.Magic {
		return Read(bytes.NewReader(data))
	}
	if strings.HasSuffix(path, ".nvps") {
		return nil, fmt.Errorf("%s is not a compiled prep script", path)
	}
	return Compile(path, data)
}
