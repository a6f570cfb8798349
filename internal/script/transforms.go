package script

import (
	"regexp"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/wegman-software/navcompile-go/internal/navdata"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// RegisterTransforms registers the helper functions prep scripts can call
func RegisterTransforms(L *lua.LState) {
	transforms := L.NewTable()

	// String transforms
	L.SetField(transforms, "trim", L.NewFunction(luaTrim))
	L.SetField(transforms, "lower", L.NewFunction(luaLower))
	L.SetField(transforms, "upper", L.NewFunction(luaUpper))
	L.SetField(transforms, "clean_spaces", L.NewFunction(luaCleanSpaces))
	L.SetField(transforms, "truncate", L.NewFunction(luaTruncate))
	L.SetField(transforms, "title", L.NewFunction(luaTitle))

	// Navdata helpers
	L.SetField(transforms, "parse_int", L.NewFunction(luaParseInt))
	L.SetField(transforms, "distance_nm", L.NewFunction(luaDistanceNM))
	L.SetField(transforms, "is_radio", L.NewFunction(luaIsRadio))

	navcompile := L.GetGlobal("navcompile")
	if navcompile == lua.LNil {
		navcompile = L.NewTable()
		L.SetGlobal("navcompile", navcompile)
	}
	L.SetField(navcompile.(*lua.LTable), "transforms", transforms)

	// Common functions at top level
	L.SetGlobal("trim", L.NewFunction(luaTrim))
	L.SetGlobal("distance_nm", L.NewFunction(luaDistanceNM))
}

func luaTrim(L *lua.LState) int {
	L.Push(lua.LString(strings.TrimSpace(L.CheckString(1))))
	return 1
}

func luaLower(L *lua.LState) int {
	L.Push(lua.LString(strings.ToLower(L.CheckString(1))))
	return 1
}

func luaUpper(L *lua.LState) int {
	L.Push(lua.LString(strings.ToUpper(L.CheckString(1))))
	return 1
}

// luaCleanSpaces collapses runs of whitespace and trims
func luaCleanSpaces(L *lua.LState) int {
	s := whitespaceRegex.ReplaceAllString(L.CheckString(1), " ")
	L.Push(lua.LString(strings.TrimSpace(s)))
	return 1
}

// luaTruncate truncates a string to max runes
func luaTruncate(L *lua.LState) int {
	s := L.CheckString(1)
	maxLen := L.CheckInt(2)

	runes := []rune(s)
	if len(runes) <= maxLen {
		L.Push(lua.LString(s))
	} else {
		L.Push(lua.LString(string(runes[:maxLen])))
	}
	return 1
}

// luaTitle turns "FRANKFURT MAIN" into "Frankfurt Main"
func luaTitle(L *lua.LState) int {
	words := strings.Fields(strings.ToLower(L.CheckString(1)))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	L.Push(lua.LString(strings.Join(words, " ")))
	return 1
}

// luaParseInt parses string to integer with optional default
func luaParseInt(L *lua.LState) int {
	s := strings.TrimSpace(L.CheckString(1))
	def := int64(0)
	if L.GetTop() >= 2 {
		def = L.CheckInt64(2)
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		L.Push(lua.LNumber(v))
	} else if f, err := strconv.ParseFloat(s, 64); err == nil {
		L.Push(lua.LNumber(int64(f)))
	} else {
		L.Push(lua.LNumber(def))
	}
	return 1
}

// luaDistanceNM implements distance_nm(lat1, lon1, lat2, lon2)
func luaDistanceNM(L *lua.LState) int {
	a := navdata.LatLon{Lat: float64(L.CheckNumber(1)), Lon: float64(L.CheckNumber(2))}
	b := navdata.LatLon{Lat: float64(L.CheckNumber(3)), Lon: float64(L.CheckNumber(4))}
	L.Push(lua.LNumber(navdata.DistanceNM(a, b)))
	return 1
}

// luaIsRadio reports whether a navaid type string is a radio navaid
func luaIsRadio(L *lua.LState) int {
	t, err := navdata.ParseNavaidType(L.CheckString(1))
	L.Push(lua.LBool(err == nil && t.IsRadio()))
	return 1
}
