package scenery

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wegman-software/navcompile-go/internal/diag"
)

const (
	prefixPack         = "SCENERY_PACK"
	prefixPackDisabled = "SCENERY_PACK_DISABLED"
)

// Entry is one path line of a scenery manifest
type Entry struct {
	Path    string
	Enabled bool
	Line    int
	// Prefix is the keyword the line used, empty for a bare path
	Prefix string
}

// Manifest is a parsed scenery priority list:
//
//	I
//	1000 Version
//	SCENERY
//
//	SCENERY_PACK Custom Scenery/KSEA Demo Area/
type Manifest struct {
	Path          string
	Marker        string
	Version       int
	VersionSuffix bool // "1000 Version" rather than "Version 1000"
	Entries       []Entry
}

// ParseManifestFile opens and parses a manifest
func ParseManifestFile(path string, ledger *diag.Ledger) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		ledger.Add(diag.Diagnostic{Severity: diag.Error, Category: diag.Access, File: path,
			Message: fmt.Sprintf("cannot open scenery manifest: %v", err)})
		return nil, fmt.Errorf("failed to open manifest %s: %w", path, err)
	}
	defer f.Close()
	return ParseManifest(f, path, ledger)
}

// ParseManifest reads a manifest. A header violation produces exactly one
// line-numbered diagnostic and a manifest without entries; the returned
// error is only set for I/O failures.
func ParseManifest(r io.Reader, path string, ledger *diag.Ledger) (*Manifest, error) {
	m := &Manifest{Path: path}
	scanner := bufio.NewScanner(r)
	lineNo := 0

	headerErr := func(line int, format string, args ...any) (*Manifest, error) {
		ledger.Add(diag.Diagnostic{
			Severity: diag.Error,
			Category: diag.Format,
			File:     path,
			Line:     line,
			Message:  fmt.Sprintf(format, args...),
		})
		m.Entries = nil
		return m, nil
	}

	next := func() (string, bool) {
		if !scanner.Scan() {
			return "", false
		}
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		return line, true
	}

	// Line 1: I or A marker
	line, ok := next()
	if !ok {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("error reading %s: %w", path, err)
		}
		return headerErr(1, "empty scenery manifest")
	}
	marker := strings.TrimSpace(line)
	if marker == "" || (marker[0] != 'I' && marker[0] != 'A') || (len(marker) > 1 && marker[1] != ' ' && marker[1] != '\t') {
		return headerErr(lineNo, "expected I or A marker, got %q", marker)
	}
	m.Marker = marker

	// Line 2: Version with an integer on either side
	line, ok = next()
	if !ok {
		return headerErr(lineNo+1, "missing Version line")
	}
	version, suffix, err := parseVersion(line)
	if err != nil {
		return headerErr(lineNo, "%v", err)
	}
	m.Version, m.VersionSuffix = version, suffix

	// Line 3: SCENERY
	line, ok = next()
	if !ok || strings.TrimSpace(line) != "SCENERY" {
		if !ok {
			return headerErr(lineNo+1, "missing SCENERY line")
		}
		return headerErr(lineNo, "expected SCENERY, got %q", strings.TrimSpace(line))
	}

	// Line 4: mandatory blank line
	line, ok = next()
	if ok && strings.TrimSpace(line) != "" {
		return headerErr(lineNo, "missing blank line after SCENERY")
	}

	for {
		line, ok = next()
		if !ok {
			break
		}
		text := strings.TrimSpace(line)
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		m.Entries = append(m.Entries, parseEntry(text, lineNo))
	}
	if err := scanner.Err(); err != nil {
		return m, fmt.Errorf("error reading %s: %w", path, err)
	}
	return m, nil
}

func parseVersion(line string) (int, bool, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, false, fmt.Errorf("invalid Version line %q", strings.TrimSpace(line))
	}
	var num string
	var suffix bool
	switch {
	case strings.EqualFold(fields[1], "Version"):
		num, suffix = fields[0], true
	case strings.EqualFold(fields[0], "Version"):
		num = fields[1]
	default:
		return 0, false, fmt.Errorf("invalid Version line %q", strings.TrimSpace(line))
	}
	v, err := strconv.Atoi(num)
	if err != nil || v < 0 {
		return 0, false, fmt.Errorf("invalid version number %q", num)
	}
	return v, suffix, nil
}

func parseEntry(text string, line int) Entry {
	// The disabled prefix must be tested first since it extends the enabled one
	switch {
	case strings.HasPrefix(text, prefixPackDisabled+" "):
		return Entry{Path: strings.TrimSpace(text[len(prefixPackDisabled):]), Line: line, Prefix: prefixPackDisabled}
	case strings.HasPrefix(text, prefixPack+" "):
		return Entry{Path: strings.TrimSpace(text[len(prefixPack):]), Enabled: true, Line: line, Prefix: prefixPack}
	}
	return Entry{Path: text, Enabled: true, Line: line}
}

// Paths returns the entry paths in manifest order
func (m *Manifest) Paths() []string {
	out := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		out[i] = e.Path
	}
	return out
}

// Serialize writes the manifest back in canonical form
func (m *Manifest) Serialize(w io.Writer) error {
	bw := bufio.NewWriter(w)
	marker := m.Marker
	if marker == "" {
		marker = "I"
	}
	fmt.Fprintln(bw, marker)
	if m.VersionSuffix {
		fmt.Fprintf(bw, "%d Version\n", m.Version)
	} else {
		fmt.Fprintf(bw, "Version %d\n", m.Version)
	}
	fmt.Fprintln(bw, "SCENERY")
	fmt.Fprintln(bw)
	for _, e := range m.Entries {
		prefix := e.Prefix
		if prefix == "" && !e.Enabled {
			prefix = prefixPackDisabled
		}
		if prefix != "" {
			fmt.Fprintf(bw, "%s %s\n", prefix, e.Path)
		} else {
			fmt.Fprintln(bw, e.Path)
		}
	}
	return bw.Flush()
}

// Candidates checks each entry independently and returns those that exist,
// are directories and are readable. Relative paths resolve against base; an
// empty base means the parent of the manifest's directory.
func (m *Manifest) Candidates(base string, kind Kind, ledger *diag.Ledger) []Candidate {
	if base == "" {
		base = filepath.Dir(filepath.Dir(m.Path))
	}
	var out []Candidate
	for i, e := range m.Entries {
		p := filepath.FromSlash(e.Path)
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		if msg := checkDir(p); msg != "" {
			ledger.Add(diag.Diagnostic{Severity: diag.Error, Category: diag.Access, File: m.Path, Line: e.Line, Message: msg})
			continue
		}
		out = append(out, Candidate{
			Path:    p,
			Layer:   i,
			Enabled: e.Enabled,
			Kind:    kind,
			Source:  m.Path,
			Line:    e.Line,
		})
	}
	return out
}
