package reader

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/wegman-software/navcompile-go/internal/diag"
	"github.com/wegman-software/navcompile-go/internal/navdata"
)

// ErrStop may be returned by an Emitter to end a read early without error
var ErrStop = errors.New("stop reading")

// Progress is emitted per file and every Options.ProgressEvery records
type Progress struct {
	Reader     string
	File       string
	FilesDone  int
	FilesTotal int
	Records    int64
}

// Emitter receives the output of a reader. Readers call it from a single
// goroutine.
type Emitter interface {
	Record(rec navdata.Record) error
	Segment(seg navdata.AirwaySegment) error
	Progress(p Progress)
}

// Reader decodes one source format. Read is restartable: each call starts
// over from the first file and resets nothing but its own position.
type Reader interface {
	Name() string
	Files() []string
	Read(ctx context.Context, emit Emitter) error
	Diagnostics() *diag.Ledger
}

// Options shared by all readers
type Options struct {
	MaxErrorsPerFile int
	ProgressEvery    int
}

// DefaultOptions returns the default reader options
func DefaultOptions() Options {
	return Options{
		MaxErrorsPerFile: 1000,
		ProgressEvery:    5000,
	}
}

// Budget counts errors within one file and reports when the file must stop
type Budget struct {
	ledger    *diag.Ledger
	file      string
	max       int
	count     int
	exhausted bool
}

// NewBudget starts an error budget for file. max <= 0 means unlimited.
func NewBudget(ledger *diag.Ledger, file string, max int) *Budget {
	return &Budget{ledger: ledger, file: file, max: max}
}

// Add records a diagnostic. It returns false once the file has exceeded its
// error budget, after recording a fatal resource diagnostic once. The fatal
// entry ends the read stage.
func (b *Budget) Add(d diag.Diagnostic) bool {
	if d.File == "" {
		d.File = b.file
	}
	b.ledger.Add(d)
	if d.Severity < diag.Error {
		return !b.exhausted
	}
	b.count++
	if b.max > 0 && b.count > b.max && !b.exhausted {
		b.exhausted = true
		b.ledger.Add(diag.Diagnostic{
			Severity: diag.Fatal,
			Category: diag.Resource,
			File:     b.file,
			Message:  fmt.Sprintf("too many errors reading %s, stopping", b.file),
		})
	}
	return !b.exhausted
}

// Errorf records an error at line
func (b *Budget) Errorf(cat diag.Category, line int, format string, args ...any) bool {
	return b.Add(diag.Diagnostic{Severity: diag.Error, Category: cat, Line: line, Message: fmt.Sprintf(format, args...)})
}

// ErrorAt records an error at a byte offset
func (b *Budget) ErrorAt(cat diag.Category, offset int64, format string, args ...any) bool {
	return b.Add(diag.Diagnostic{Severity: diag.Error, Category: cat, Offset: offset, Message: fmt.Sprintf(format, args...)})
}

// Warnf records a warning at line
func (b *Budget) Warnf(cat diag.Category, line int, format string, args ...any) bool {
	return b.Add(diag.Diagnostic{Severity: diag.Warning, Category: cat, Line: line, Message: fmt.Sprintf(format, args...)})
}

// Exhausted reports whether the file stopped on its error budget
func (b *Budget) Exhausted() bool { return b.exhausted }

// Count returns the errors recorded for the file
func (b *Budget) Count() int { return b.count }

// Collector is an Emitter that keeps everything in memory
type Collector struct {
	Records  []navdata.Record
	Segments []navdata.AirwaySegment
	Last     Progress
	Updates  int
}

func (c *Collector) Record(rec navdata.Record) error {
	c.Records = append(c.Records, rec)
	return nil
}

func (c *Collector) Segment(seg navdata.AirwaySegment) error {
	c.Segments = append(c.Segments, seg)
	return nil
}

func (c *Collector) Progress(p Progress) {
	c.Last = p
	c.Updates++
}

// Synchronized serializes calls from several readers onto one emitter
type Synchronized struct {
	mu    sync.Mutex
	inner Emitter
}

// Sync wraps e for concurrent use
func Sync(e Emitter) *Synchronized {
	return &Synchronized{inner: e}
}

func (s *Synchronized) Record(rec navdata.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Record(rec)
}

func (s *Synchronized) Segment(seg navdata.AirwaySegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Segment(seg)
}

func (s *Synchronized) Progress(p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.Progress(p)
}

type yieldEmitter struct {
	yield func(navdata.Record, error) bool
}

func (y yieldEmitter) Record(rec navdata.Record) error {
	if !y.yield(rec, nil) {
		return ErrStop
	}
	return nil
}

func (yieldEmitter) Segment(navdata.AirwaySegment) error { return nil }
func (yieldEmitter) Progress(Progress)                   {}

// Records exposes the records of r as a lazy sequence. Each iteration
// restarts the reader from its first file; airway segments are skipped.
func Records(ctx context.Context, r Reader) iter.Seq2[navdata.Record, error] {
	return func(yield func(navdata.Record, error) bool) {
		err := r.Read(ctx, yieldEmitter{yield: yield})
		if err != nil && !errors.Is(err, ErrStop) {
			yield(nil, err)
		}
	}
}

// Stopped reports whether err only signals an early stop by the emitter
func Stopped(err error) bool {
	return errors.Is(err, ErrStop)
}
