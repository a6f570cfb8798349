package scenery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/wegman-software/navcompile-go/internal/diag"
	"github.com/wegman-software/navcompile-go/internal/logger"
	"github.com/wegman-software/navcompile-go/internal/reader/bgl"
)

// Kind is the logical source kind of a scenery area
type Kind string

const (
	KindBase             Kind = "base"
	KindGenericAirports  Kind = "generic-airports"
	KindSimConnectAirpts Kind = "simconnect-airports"
	KindCommunity        Kind = "community"
	KindCustom           Kind = "custom"
)

// ParseKind parses a kind name
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindBase, KindGenericAirports, KindSimConnectAirpts, KindCommunity, KindCustom:
		return k, nil
	}
	return "", fmt.Errorf("unknown scenery kind %q", s)
}

// expectedSubtrees lists, per kind, directories of which at least one must
// exist below the root. Kinds without an entry accept any directory.
var expectedSubtrees = map[Kind][]string{
	KindBase:   {"scenery", "Scenery", filepath.Join("Resources", "default data")},
	KindCustom: {"Earth nav data", "scenery"},
}

// encryptedExtensions mark add-ons whose content cannot be decoded
var encryptedExtensions = map[string]bool{
	".fsarchive": true,
	".enc":       true,
	".encrypted": true,
}

// Candidate is an unchecked scenery root from the command line, a manifest
// or a scenery library.
type Candidate struct {
	Path    string
	Title   string
	Layer   int
	Enabled bool
	Kind    Kind
	// Source and Line locate the manifest entry, if any
	Source string
	Line   int
}

// Area is a discovered scenery root. Areas are never modified after Locate.
type Area struct {
	Path      string
	Title     string
	Layer     int
	Enabled   bool
	Kind      Kind
	Valid     bool
	Encrypted bool
	// Subtree is the expected subdirectory that matched, empty if none is required
	Subtree string
}

// Usable reports whether readers should consume the area
func (a Area) Usable() bool {
	return a.Valid && a.Enabled
}

// Locate checks every candidate and returns one Area per candidate, in
// layer order. Bad entries are marked invalid with one diagnostic each;
// Locate never stops on a single entry.
func Locate(ctx context.Context, candidates []Candidate, ledger *diag.Ledger) ([]Area, error) {
	log := logger.Get()
	areas := make([]Area, 0, len(candidates))

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return areas, err
		}

		area := Area{
			Path:    filepath.Clean(c.Path),
			Title:   c.Title,
			Layer:   c.Layer,
			Enabled: c.Enabled,
			Kind:    c.Kind,
		}
		if area.Title == "" {
			area.Title = filepath.Base(area.Path)
		}

		file, line := c.Source, c.Line
		if file == "" {
			file = area.Path
		}

		if msg := checkDir(area.Path); msg != "" {
			ledger.Add(diag.Diagnostic{Severity: diag.Error, Category: diag.Access, File: file, Line: line, Message: msg})
			areas = append(areas, area)
			continue
		}

		sub, ok := findSubtree(area.Path, c.Kind)
		if !ok {
			ledger.Add(diag.Diagnostic{
				Severity: diag.Error,
				Category: diag.Access,
				File:     file,
				Line:     line,
				Message: fmt.Sprintf("scenery path %s does not contain any of %s",
					area.Path, strings.Join(expectedSubtrees[c.Kind], ", ")),
			})
			areas = append(areas, area)
			continue
		}
		area.Subtree = sub
		area.Valid = true

		encrypted, err := detectEncrypted(ctx, area.Path)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Debug("Encrypted add-on check failed", zap.String("path", area.Path), zap.Error(err))
		}
		if encrypted {
			area.Encrypted = true
			ledger.Add(diag.Diagnostic{
				Severity: diag.Warning,
				Category: diag.Access,
				File:     file,
				Line:     line,
				Message:  fmt.Sprintf("scenery %q is encrypted and may not show up correctly", area.Title),
			})
		}

		areas = append(areas, area)
	}

	sort.SliceStable(areas, func(i, j int) bool { return areas[i].Layer < areas[j].Layer })

	log.Debug("Scenery areas located",
		zap.Int("candidates", len(candidates)),
		zap.Int("usable", len(Usable(areas))))
	return areas, nil
}

// Usable filters the areas readers should consume
func Usable(areas []Area) []Area {
	var out []Area
	for _, a := range areas {
		if a.Usable() {
			out = append(out, a)
		}
	}
	return out
}

// checkDir returns a diagnostic message, or "" when path is a readable directory
func checkDir(path string) string {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Sprintf("scenery path %s not found", path)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Sprintf("scenery path %s is not readable", path)
	case err != nil:
		return fmt.Sprintf("cannot access scenery path %s: %v", path, err)
	case !info.IsDir():
		return fmt.Sprintf("scenery path %s is not a directory", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Sprintf("scenery path %s is not readable", path)
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); err != nil && err != io.EOF {
		return fmt.Sprintf("scenery path %s is not readable", path)
	}
	return ""
}

func findSubtree(root string, kind Kind) (string, bool) {
	subs, ok := expectedSubtrees[kind]
	if !ok {
		return "", true
	}
	for _, sub := range subs {
		info, err := os.Stat(filepath.Join(root, sub))
		if err == nil && info.IsDir() {
			return sub, true
		}
	}
	return "", false
}

// detectEncrypted walks root until it finds an encrypted archive or a BGL
// file flagged as encrypted.
func detectEncrypted(ctx context.Context, root string) (bool, error) {
	found := false
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable subtrees are reported by the readers
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if encryptedExtensions[ext] {
			found = true
			return fs.SkipAll
		}
		if ext == ".bgl" {
			enc, err := bgl.IsEncrypted(path)
			if err == nil && enc {
				found = true
				return fs.SkipAll
			}
		}
		return nil
	})
	return found, err
}
