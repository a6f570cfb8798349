package scenery

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/wegman-software/navcompile-go/internal/diag"
	"github.com/wegman-software/navcompile-go/internal/ini"
)

// ParseSceneryConfig reads an FSX/P3D scenery library (scenery.cfg) and
// returns one candidate per [Area.NNN] section. Local paths are resolved
// against the simulator root, the directory holding the library unless
// simRoot is set.
func ParseSceneryConfig(path, simRoot string, ledger *diag.Ledger) ([]Candidate, error) {
	f, err := ini.ParseFile(path, ledger)
	if err != nil {
		ledger.Add(diag.Diagnostic{Severity: diag.Error, Category: diag.Access, File: path, Message: err.Error()})
		return nil, err
	}
	if simRoot == "" {
		simRoot = filepath.Dir(path)
	}

	var out []Candidate
	for _, sec := range f.WithPrefix("Area.") {
		local, ok := sec.Lookup("Local")
		if !ok || strings.TrimSpace(local.Value) == "" {
			ledger.Warnf(diag.Format, path, sec.Line, "section [%s] has no Local path", sec.Name)
			continue
		}

		layer, ok, err := sec.Int("Layer")
		if err != nil {
			ledger.Warnf(diag.Format, path, sec.Line, "section [%s]: %v", sec.Name, err)
		}
		if !ok || err != nil {
			layer = areaNumber(sec.Name)
		}

		active, ok, err := sec.Bool("Active")
		if err != nil {
			ledger.Warnf(diag.Format, path, sec.Line, "section [%s]: %v", sec.Name, err)
		}
		if !ok || err != nil {
			active = true
		}

		p := strings.ReplaceAll(strings.TrimSpace(local.Value), `\`, string(filepath.Separator))
		if !filepath.IsAbs(p) {
			p = filepath.Join(simRoot, p)
		}

		kind := KindCustom
		if isBaseArea(p, simRoot) {
			kind = KindBase
		}

		out = append(out, Candidate{
			Path:    p,
			Title:   sec.String("Title", ""),
			Layer:   layer,
			Enabled: active,
			Kind:    kind,
			Source:  path,
			Line:    local.Line,
		})
	}
	return out, nil
}

func areaNumber(name string) int {
	var n int
	if _, err := fmt.Sscanf(strings.ToLower(name), "area.%d", &n); err != nil {
		return 0
	}
	return n
}

func isBaseArea(p, simRoot string) bool {
	rel, err := filepath.Rel(simRoot, p)
	if err != nil {
		return false
	}
	first := strings.ToLower(strings.Split(filepath.ToSlash(rel), "/")[0])
	return first == "scenery"
}
