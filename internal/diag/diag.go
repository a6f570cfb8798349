package diag

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Severity of a diagnostic
type Severity uint8

const (
	Info Severity = iota
	Warning
	Error
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("severity(%d)", uint8(s))
}

// Category classifies where an error came from and how far it propagates
type Category uint8

const (
	// Access: path missing, unreadable, not a directory, empty file
	Access Category = iota + 1
	// Format: invalid magic, version mismatch, malformed line, duplicate key in one file
	Format
	// Consistency: cross-file AIRAC mismatch, unresolved graph references
	Consistency
	// Resource: error budget exhausted
	Resource
	// Corruption: framing violations and out-of-range indexes
	Corruption
	// Finding: validation results
	Finding
)

func (c Category) String() string {
	switch c {
	case Access:
		return "access"
	case Format:
		return "format"
	case Consistency:
		return "consistency"
	case Resource:
		return "resource"
	case Corruption:
		return "corruption"
	case Finding:
		return "finding"
	}
	return "unknown"
}

// Diagnostic is one entry of a ledger
type Diagnostic struct {
	Severity Severity
	Category Category
	Stage    string
	File     string
	Line     int
	Offset   int64
	Message  string
}

// Location renders file and line (or byte offset)
func (d Diagnostic) Location() string {
	switch {
	case d.File == "":
		return ""
	case d.Line > 0:
		return fmt.Sprintf("%s:%d", d.File, d.Line)
	case d.Offset > 0:
		return fmt.Sprintf("%s@0x%x", d.File, d.Offset)
	}
	return d.File
}

func (d Diagnostic) String() string {
	var sb strings.Builder
	sb.WriteString(d.Severity.String())
	if d.Stage != "" {
		sb.WriteString(" [")
		sb.WriteString(d.Stage)
		sb.WriteString("]")
	}
	if loc := d.Location(); loc != "" {
		sb.WriteString(" ")
		sb.WriteString(loc)
	}
	sb.WriteString(": ")
	sb.WriteString(d.Message)
	return sb.String()
}

// Fields returns the diagnostic as zap fields
func (d Diagnostic) Fields() []zap.Field {
	fields := []zap.Field{
		zap.String("severity", d.Severity.String()),
		zap.String("category", d.Category.String()),
	}
	if d.Stage != "" {
		fields = append(fields, zap.String("stage", d.Stage))
	}
	if d.File != "" {
		fields = append(fields, zap.String("file", d.File))
	}
	if d.Line > 0 {
		fields = append(fields, zap.Int("line", d.Line))
	}
	if d.Offset > 0 {
		fields = append(fields, zap.Int64("offset", d.Offset))
	}
	return fields
}

// Level maps the severity onto a zap level
func (d Diagnostic) Level() zapcore.Level {
	switch d.Severity {
	case Info:
		return zapcore.DebugLevel
	case Warning:
		return zapcore.InfoLevel
	}
	return zapcore.WarnLevel
}

// Ledger is an append-only, concurrency-safe diagnostic list owned by one
// stage or reader. Ledgers merge into each other without losing order.
type Ledger struct {
	mu     sync.Mutex
	stage  string
	items  []Diagnostic
	counts [Fatal + 1]int
	perKey map[string]int
}

// NewLedger creates an empty ledger that stamps entries with stage
func NewLedger(stage string) *Ledger {
	return &Ledger{stage: stage, perKey: make(map[string]int)}
}

// Stage returns the stage name entries are stamped with
func (l *Ledger) Stage() string { return l.stage }

// Add appends a diagnostic. An empty Stage is filled with the ledger's stage.
func (l *Ledger) Add(d Diagnostic) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.add(d)
}

func (l *Ledger) add(d Diagnostic) {
	if d.Stage == "" {
		d.Stage = l.stage
	}
	l.items = append(l.items, d)
	l.counts[d.Severity]++
	if d.Severity >= Error {
		l.perKey[d.File]++
	}
}

// Infof, Warnf, Errorf and Fatalf are shorthands for Add
func (l *Ledger) Infof(cat Category, file string, line int, format string, args ...any) {
	l.Add(Diagnostic{Severity: Info, Category: cat, File: file, Line: line, Message: fmt.Sprintf(format, args...)})
}

func (l *Ledger) Warnf(cat Category, file string, line int, format string, args ...any) {
	l.Add(Diagnostic{Severity: Warning, Category: cat, File: file, Line: line, Message: fmt.Sprintf(format, args...)})
}

func (l *Ledger) Errorf(cat Category, file string, line int, format string, args ...any) {
	l.Add(Diagnostic{Severity: Error, Category: cat, File: file, Line: line, Message: fmt.Sprintf(format, args...)})
}

func (l *Ledger) Fatalf(cat Category, file string, line int, format string, args ...any) {
	l.Add(Diagnostic{Severity: Fatal, Category: cat, File: file, Line: line, Message: fmt.Sprintf(format, args...)})
}

// Merge appends all entries of other, keeping their original stage
func (l *Ledger) Merge(other *Ledger) {
	if other == nil || other == l {
		return
	}
	items := other.Items()
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, d := range items {
		l.add(d)
	}
}

// Items returns a snapshot of all entries in insertion order
func (l *Ledger) Items() []Diagnostic {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Diagnostic, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the number of entries
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Count returns the number of entries with the given severity
func (l *Ledger) Count(s Severity) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[s]
}

// Errors returns the number of error and fatal entries
func (l *Ledger) Errors() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[Error] + l.counts[Fatal]
}

// ErrorsFor returns the number of error and fatal entries recorded for file
func (l *Ledger) ErrorsFor(file string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perKey[file]
}

// Last returns the most recent entry at or above min severity
func (l *Ledger) Last(min Severity) (Diagnostic, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.items) - 1; i >= 0; i-- {
		if l.items[i].Severity >= min {
			return l.items[i], true
		}
	}
	return Diagnostic{}, false
}

// Filter returns entries matching fn
func (l *Ledger) Filter(fn func(Diagnostic) bool) []Diagnostic {
	var out []Diagnostic
	for _, d := range l.Items() {
		if fn(d) {
			out = append(out, d)
		}
	}
	return out
}

// Summary counts entries per category, sorted by category name
func (l *Ledger) Summary() []CategoryCount {
	counts := make(map[Category]int)
	for _, d := range l.Items() {
		counts[d.Category]++
	}
	out := make([]CategoryCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, CategoryCount{Category: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Category.String() < out[j].Category.String()
	})
	return out
}

// CategoryCount is one row of a ledger summary
type CategoryCount struct {
	Category Category
	Count    int
}

// Log writes every entry to log at the level matching its severity
func (l *Ledger) Log(log *zap.Logger) {
	for _, d := range l.Items() {
		if ce := log.Check(d.Level(), d.Message); ce != nil {
			ce.Write(d.Fields()...)
		}
	}
}

// LogAt writes every entry at one level
func (l *Ledger) LogAt(log *zap.Logger, level zapcore.Level) {
	if !log.Core().Enabled(level) {
		return
	}
	for _, d := range l.Items() {
		log.Log(level, d.Message, d.Fields()...)
	}
}
