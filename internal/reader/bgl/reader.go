package bgl

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/navcompile-go/internal/diag"
	"github.com/wegman-software/navcompile-go/internal/logger"
	"github.com/wegman-software/navcompile-go/internal/reader"
)

// Reader decodes BGL files. Files are decoded concurrently and emitted in
// file order.
type Reader struct {
	files   []string
	opts    reader.Options
	workers int
	ledger  *diag.Ledger
}

// New creates a reader over files
func New(files []string, opts reader.Options, workers int) *Reader {
	if workers <= 0 {
		workers = 1
	}
	return &Reader{files: files, opts: opts, workers: workers, ledger: diag.NewLedger("read")}
}

// Find returns all .bgl files below root in lexical order
func Find(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".bgl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func (r *Reader) Name() string              { return "bgl" }
func (r *Reader) Files() []string           { return r.files }
func (r *Reader) Diagnostics() *diag.Ledger { return r.ledger }

// Read decodes all files and emits their records in file order
func (r *Reader) Read(ctx context.Context, emit reader.Emitter) error {
	log := logger.Get()
	r.ledger = diag.NewLedger("read")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]chan *fileResult, len(r.files))
	for i := range results {
		results[i] = make(chan *fileResult, 1)
	}

	// Decode workers
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for i, path := range r.files {
			g.Go(func() error {
				results[i] <- r.decodePath(gctx, path)
				return nil
			})
		}
	}()
	defer func() {
		cancel()
		<-launched
		g.Wait()
	}()

	var records int64
	for i := range r.files {
		var res *fileResult
		select {
		case res = <-results[i]:
		case <-ctx.Done():
			return ctx.Err()
		}

		r.ledger.Merge(res.ledger)
		for _, rec := range res.records {
			if err := emit.Record(rec); err != nil {
				return err
			}
			records++
			if r.opts.ProgressEvery > 0 && records%int64(r.opts.ProgressEvery) == 0 {
				emit.Progress(reader.Progress{Reader: r.Name(), File: res.path, FilesDone: i, FilesTotal: len(r.files), Records: records})
			}
		}
		for _, seg := range res.segments {
			if err := emit.Segment(seg); err != nil {
				return err
			}
		}

		log.Debug("BGL file read",
			zap.String("file", res.path),
			zap.Int("records", len(res.records)),
			zap.Int("segments", len(res.segments)),
			zap.Bool("aborted", res.aborted),
			zap.Bool("encrypted", res.encrypted))

		emit.Progress(reader.Progress{Reader: r.Name(), File: res.path, FilesDone: i + 1, FilesTotal: len(r.files), Records: records})
	}
	return ctx.Err()
}

func (r *Reader) decodePath(ctx context.Context, path string) *fileResult {
	m, err := openMapped(path)
	if err != nil {
		res := &fileResult{path: path, ledger: diag.NewLedger("read"), aborted: true}
		res.ledger.Add(diag.Diagnostic{Severity: diag.Error, Category: diag.Access, File: path, Message: err.Error()})
		return res
	}
	defer m.Close()

	if m.size == 0 {
		res := &fileResult{path: path, ledger: diag.NewLedger("read"), aborted: true}
		res.ledger.Add(diag.Diagnostic{Severity: diag.Error, Category: diag.Access, File: path, Message: "empty file"})
		return res
	}
	return decodeFile(ctx, path, m.Bytes(), r.opts.MaxErrorsPerFile)
}
