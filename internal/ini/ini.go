package ini

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/wegman-software/navcompile-go/internal/diag"
)

// Key is one key=value line
type Key struct {
	Name  string
	Value string
	Line  int
}

// Section is a [name] block. Key lookups are case-insensitive.
type Section struct {
	Name  string
	Line  int
	Keys  []Key
	index map[string]int
}

// Get returns the last value assigned to name
func (s *Section) Get(name string) (string, bool) {
	i, ok := s.index[strings.ToLower(name)]
	if !ok {
		return "", false
	}
	return s.Keys[i].Value, true
}

// Lookup returns the key entry for name, including its line
func (s *Section) Lookup(name string) (Key, bool) {
	i, ok := s.index[strings.ToLower(name)]
	if !ok {
		return Key{}, false
	}
	return s.Keys[i], true
}

// String returns the value for name or def
func (s *Section) String(name, def string) string {
	if v, ok := s.Get(name); ok {
		return v
	}
	return def
}

// Int parses the value for name as an integer
func (s *Section) Int(name string) (int, bool, error) {
	v, ok := s.Get(name)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, true, fmt.Errorf("key %s: %w", name, err)
	}
	return n, true, nil
}

// Bool parses TRUE/FALSE/1/0/yes/no
func (s *Section) Bool(name string) (bool, bool, error) {
	v, ok := s.Get(name)
	if !ok {
		return false, false, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true, true, nil
	case "false", "0", "no", "off":
		return false, true, nil
	}
	return false, true, fmt.Errorf("key %s: invalid boolean %q", name, v)
}

func (s *Section) set(k Key) {
	lower := strings.ToLower(k.Name)
	if i, ok := s.index[lower]; ok {
		s.Keys[i] = k
		return
	}
	s.index[lower] = len(s.Keys)
	s.Keys = append(s.Keys, k)
}

// File is a parsed INI document. Keys before the first header live in a
// section with an empty name.
type File struct {
	Path     string
	Sections []*Section
}

// Section returns the first section named name (case-insensitive)
func (f *File) Section(name string) *Section {
	for _, s := range f.Sections {
		if strings.EqualFold(s.Name, name) {
			return s
		}
	}
	return nil
}

// WithPrefix returns sections whose name starts with prefix, in file order
func (f *File) WithPrefix(prefix string) []*Section {
	var out []*Section
	p := strings.ToLower(prefix)
	for _, s := range f.Sections {
		if strings.HasPrefix(strings.ToLower(s.Name), p) {
			out = append(out, s)
		}
	}
	return out
}

// ParseFile opens and parses path
func ParseFile(path string, ledger *diag.Ledger) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f, path, ledger)
}

// Parse reads an INI document. Malformed lines are reported to ledger as
// format warnings and skipped; only I/O errors are returned.
func Parse(r io.Reader, path string, ledger *diag.Ledger) (*File, error) {
	file := &File{Path: path}
	var cur *Section

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		line = strings.TrimSpace(line)
		if line == "" || line[0] == ';' || line[0] == '#' || strings.HasPrefix(line, "//") {
			continue
		}

		if line[0] == '[' {
			end := strings.IndexByte(line, ']')
			if end < 0 {
				if ledger != nil {
					ledger.Warnf(diag.Format, path, lineNo, "unterminated section header %q", line)
				}
				cur = nil
				continue
			}
			cur = &Section{Name: strings.TrimSpace(line[1:end]), Line: lineNo, index: make(map[string]int)}
			file.Sections = append(file.Sections, cur)
			continue
		}

		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			if ledger != nil {
				ledger.Warnf(diag.Format, path, lineNo, "expected key=value, got %q", line)
			}
			continue
		}
		if cur == nil {
			cur = &Section{Line: lineNo, index: make(map[string]int)}
			file.Sections = append(file.Sections, cur)
		}
		cur.set(Key{
			Name:  strings.TrimSpace(line[:eq]),
			Value: unquote(strings.TrimSpace(line[eq+1:])),
			Line:  lineNo,
		})
	}
	if err := scanner.Err(); err != nil {
		return file, fmt.Errorf("error reading %s: %w", path, err)
	}
	return file, nil
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}
