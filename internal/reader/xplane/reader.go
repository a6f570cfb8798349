package xplane

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wegman-software/navcompile-go/internal/diag"
	"github.com/wegman-software/navcompile-go/internal/logger"
	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/reader"
)

// File versions handled by this reader
const (
	VersionFix = 1101
	VersionNav = 1150
	VersionAwy = 1100
)

// FileNames are the navdata tables looked up in a source directory
var FileNames = []string{"earth_fix.dat", "earth_nav.dat", "earth_awy.dat"}

// Reader decodes X-Plane earth_*.dat navdata tables
type Reader struct {
	files  []string
	opts   reader.Options
	ledger *diag.Ledger
	cycles []CycleDecl
	cycle  string
}

// New finds the navdata tables in dir (or its "Earth nav data" subdirectory)
func New(dir string, opts reader.Options) (*Reader, error) {
	var files []string
	for _, base := range []string{dir, filepath.Join(dir, "Earth nav data")} {
		for _, name := range FileNames {
			p := filepath.Join(base, name)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				files = append(files, p)
			}
		}
		if len(files) > 0 {
			break
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no X-Plane navdata files in %s", dir)
	}
	return NewFiles(files, opts), nil
}

// NewFiles reads exactly the given files, in order
func NewFiles(files []string, opts reader.Options) *Reader {
	return &Reader{files: files, opts: opts, ledger: diag.NewLedger("read")}
}

func (r *Reader) Name() string              { return "xplane" }
func (r *Reader) Files() []string           { return r.files }
func (r *Reader) Diagnostics() *diag.Ledger { return r.ledger }

// Cycle returns the AIRAC cycle of the last completed Read
func (r *Reader) Cycle() string { return r.cycle }

// Read decodes all files and checks the AIRAC cycle across them
func (r *Reader) Read(ctx context.Context, emit reader.Emitter) error {
	log := logger.Get()
	r.ledger = diag.NewLedger("read")
	r.cycles = r.cycles[:0]
	r.cycle = ""

	var records int64
	for i, path := range r.files {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.readFile(ctx, path, emit, &records, i)
		if err != nil {
			if reader.Stopped(err) || ctx.Err() != nil {
				return err
			}
			// An unreadable file costs the file, not the read
			r.ledger.Add(diag.Diagnostic{Severity: diag.Error, Category: diag.Access, File: path, Message: err.Error()})
		}
		log.Debug("X-Plane file read", zap.String("file", path), zap.Int64("records", n))
		emit.Progress(reader.Progress{
			Reader:     r.Name(),
			File:       path,
			FilesDone:  i + 1,
			FilesTotal: len(r.files),
			Records:    records,
		})
	}

	r.cycle = CheckCycles(r.cycles, r.ledger)
	return nil
}

func (r *Reader) readFile(ctx context.Context, path string, emit reader.Emitter, total *int64, index int) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return r.readStream(ctx, f, path, emit, total, index)
}

func (r *Reader) readStream(ctx context.Context, in io.Reader, path string, emit reader.Emitter, total *int64, index int) (int64, error) {
	budget := reader.NewBudget(r.ledger, path, r.opts.MaxErrorsPerFile)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNo := 0
	version := 0
	var count int64

	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")

		switch lineNo {
		case 1:
			marker := strings.TrimSpace(strings.TrimPrefix(line, "\ufeff"))
			if marker != "I" && marker != "A" {
				budget.Errorf(diag.Format, lineNo, "expected I or A marker, got %q", marker)
				return count, nil
			}
			continue
		case 2:
			fields := strings.Fields(line)
			if len(fields) == 0 {
				budget.Errorf(diag.Format, lineNo, "missing version header")
				return count, nil
			}
			v, err := strconv.Atoi(fields[0])
			if err != nil || (v != VersionFix && v != VersionNav && v != VersionAwy) {
				budget.Errorf(diag.Format, lineNo, "unsupported file version %q", fields[0])
				return count, nil
			}
			version = v
			r.cycles = append(r.cycles, parseCycle(path, lineNo, line))
			continue
		}

		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if text == "99" {
			break
		}

		if ctx.Err() != nil {
			return count, ctx.Err()
		}

		prov := navdata.Provenance{File: path, Line: lineNo}
		fields := strings.Fields(text)
		var emitErr error
		var perr error

		switch version {
		case VersionFix:
			var rec navdata.Record
			rec, perr = parseFix(fields, prov)
			if perr == nil {
				emitErr = emit.Record(rec)
				count++
			}
		case VersionNav:
			var rec navdata.Record
			rec, perr = parseNav(fields, prov)
			if perr == nil && rec != nil {
				emitErr = emit.Record(rec)
				count++
			}
		case VersionAwy:
			var segs []navdata.AirwaySegment
			segs, perr = parseAirway(fields, prov)
			for _, seg := range segs {
				if emitErr = emit.Segment(seg); emitErr != nil {
					break
				}
				count++
			}
		}

		if emitErr != nil {
			return count, emitErr
		}
		if perr != nil {
			if !budget.Errorf(diag.Format, lineNo, "%v", perr) {
				return count, nil
			}
			continue
		}

		*total++
		if r.opts.ProgressEvery > 0 && *total%int64(r.opts.ProgressEvery) == 0 {
			emit.Progress(reader.Progress{
				Reader:     r.Name(),
				File:       path,
				FilesDone:  index,
				FilesTotal: len(r.files),
				Records:    *total,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("error reading %s: %w", path, err)
	}
	if lineNo == 0 {
		budget.Errorf(diag.Access, 0, "empty file")
	}
	return count, nil
}
