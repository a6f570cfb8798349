package script

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wegman-software/navcompile-go/internal/logger"
	"github.com/wegman-software/navcompile-go/internal/navdata"
)

// Runtime manages the Lua interpreter running a prep script.
// A Runtime is not safe for concurrent use.
type Runtime struct {
	L       *lua.LState
	name    string
	prepare lua.LValue
}

// NewRuntime creates a new Lua runtime with the navcompile API
func NewRuntime() *Runtime {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	r := &Runtime{L: L}
	r.registerAPI()
	return r
}

// Close releases Lua resources
func (r *Runtime) Close() {
	r.L.Close()
}

// Name returns the chunk name of the loaded script
func (r *Runtime) Name() string { return r.name }

// registerAPI registers the navcompile Lua API
func (r *Runtime) registerAPI() {
	navcompile := r.L.NewTable()
	navcompile.RawSetString("version", lua.LString("1.0.0"))
	r.L.SetGlobal("navcompile", navcompile)

	RegisterTransforms(r.L)

	r.L.SetGlobal("print", r.L.NewFunction(r.luaPrint))
}

// LoadFile loads and executes a Lua prep script
func (r *Runtime) LoadFile(path string) error {
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to load Lua file: %w", err)
	}
	r.name = path
	r.extractCallbacks()
	return nil
}

// LoadString loads and executes Lua code from a string
func (r *Runtime) LoadString(code string) error {
	if err := r.L.DoString(code); err != nil {
		return fmt.Errorf("failed to load Lua code: %w", err)
	}
	r.name = "<string>"
	r.extractCallbacks()
	return nil
}

// LoadCompiled runs a script previously framed by Compile
func (r *Runtime) LoadCompiled(c *Compiled) error {
	proto, err := c.proto()
	if err != nil {
		return err
	}
	r.L.Push(r.L.NewFunctionFromProto(proto))
	if err := r.L.PCall(0, lua.MultRet, nil); err != nil {
		return fmt.Errorf("failed to run %s: %w", c.Name, err)
	}
	r.name = c.Name
	r.extractCallbacks()
	return nil
}

// extractCallbacks finds prepare either as a global or on the navcompile table
func (r *Runtime) extractCallbacks() {
	r.prepare = r.L.GetGlobal("prepare")
	if r.prepare.Type() == lua.LTFunction {
		return
	}
	if tbl, ok := r.L.GetGlobal("navcompile").(*lua.LTable); ok {
		r.prepare = tbl.RawGetString("prepare")
	}
}

// HasPrepare returns true if the script defines prepare(rec)
func (r *Runtime) HasPrepare() bool {
	return r.prepare != nil && r.prepare.Type() == lua.LTFunction
}

// Prepare runs prepare(rec). It returns false when the script drops the
// record. A returned table may rewrite the record's name and region.
func (r *Runtime) Prepare(rec navdata.Record) (bool, error) {
	if !r.HasPrepare() {
		return true, nil
	}
	if err := r.L.CallByParam(lua.P{
		Fn:      r.prepare,
		NRet:    1,
		Protect: true,
	}, recordToLua(r.L, rec)); err != nil {
		return true, fmt.Errorf("lua prepare error: %w", err)
	}
	ret := r.L.Get(-1)
	r.L.Pop(1)

	switch v := ret.(type) {
	case *lua.LNilType:
		return false, nil
	case lua.LBool:
		return bool(v), nil
	case *lua.LTable:
		applyTable(rec, v)
		return true, nil
	}
	return true, fmt.Errorf("prepare returned %s, want table, boolean or nil", ret.Type())
}

// recordToLua converts a record to a Lua table
func recordToLua(L *lua.LState, rec navdata.Record) *lua.LTable {
	tbl := L.NewTable()
	for k, v := range navdata.Attributes(rec) {
		tbl.RawSetString(k, lua.LString(v))
	}
	b := rec.Common()
	tbl.RawSetString("lat", lua.LNumber(b.Pos.Lat))
	tbl.RawSetString("lon", lua.LNumber(b.Pos.Lon))
	tbl.RawSetString("file", lua.LString(b.Prov.File))
	if name, ok := recordName(rec); ok {
		tbl.RawSetString("name", lua.LString(name))
	}
	if n, ok := rec.(*navdata.Navaid); ok {
		tbl.RawSetString("frequency", lua.LNumber(n.FrequencyKHz))
	}
	return tbl
}

func recordName(rec navdata.Record) (string, bool) {
	switch r := rec.(type) {
	case *navdata.Airport:
		return r.Name, true
	case *navdata.Navaid:
		return r.Name, true
	}
	return "", false
}

func applyTable(rec navdata.Record, tbl *lua.LTable) {
	if v, ok := tbl.RawGetString("region").(lua.LString); ok {
		rec.Common().Region = strings.ToUpper(string(v))
	}
	v, ok := tbl.RawGetString("name").(lua.LString)
	if !ok {
		return
	}
	switch r := rec.(type) {
	case *navdata.Airport:
		r.Name = string(v)
	case *navdata.Navaid:
		r.Name = string(v)
	}
}

// luaPrint sends print output to the debug log
func (r *Runtime) luaPrint(L *lua.LState) int {
	n := L.GetTop()
	var parts []string
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	logger.Get().Debug("prep script", zap.String("script", r.name), zap.String("output", strings.Join(parts, "\t")))
	return 0
}
