package xplane

import (
	"regexp"

	"github.com/wegman-software/navcompile-go/internal/diag"
)

var cyclePattern = regexp.MustCompile(`(?i)data cycle\s*([0-9A-Za-z]*)`)

// CycleDecl is the AIRAC cycle a file declared in its header
type CycleDecl struct {
	File     string
	Line     int
	Declared bool
	Cycle    string
}

// parseCycle extracts the cycle token from a header line
func parseCycle(file string, line int, text string) CycleDecl {
	m := cyclePattern.FindStringSubmatch(text)
	if m == nil {
		return CycleDecl{File: file, Line: line}
	}
	return CycleDecl{File: file, Line: line, Declared: true, Cycle: m[1]}
}

// CheckCycles verifies that all files of one batch declare the same
// non-empty cycle. It returns the reference cycle (the first non-empty one).
// An empty cycle is one error per file, every file disagreeing with the
// reference is one consistency error naming both files, and a batch where
// no file declares a cycle gets a single missing-metadata error.
func CheckCycles(decls []CycleDecl, ledger *diag.Ledger) string {
	if len(decls) == 0 {
		return ""
	}

	var ref *CycleDecl
	declared := false
	for i := range decls {
		d := &decls[i]
		if !d.Declared {
			continue
		}
		declared = true
		if d.Cycle == "" {
			ledger.Add(diag.Diagnostic{
				Severity: diag.Error,
				Category: diag.Consistency,
				File:     d.File,
				Line:     d.Line,
				Message:  "empty AIRAC cycle",
			})
			continue
		}
		if ref == nil {
			ref = d
			continue
		}
		if d.Cycle != ref.Cycle {
			ledger.Add(diag.Diagnostic{
				Severity: diag.Error,
				Category: diag.Consistency,
				File:     d.File,
				Line:     d.Line,
				Message: "AIRAC cycle " + d.Cycle + " in " + d.File +
					" differs from cycle " + ref.Cycle + " in " + ref.File,
			})
		}
	}

	if !declared {
		ledger.Add(diag.Diagnostic{
			Severity: diag.Error,
			Category: diag.Consistency,
			File:     decls[0].File,
			Message:  "no file declares an AIRAC cycle",
		})
	}
	if ref == nil {
		return ""
	}
	return ref.Cycle
}
