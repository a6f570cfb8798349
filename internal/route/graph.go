package route

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/navcompile-go/internal/diag"
	"github.com/wegman-software/navcompile-go/internal/logger"
	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/store"
)

// EdgeSink receives resolved edges in write order
type EdgeSink interface {
	InsertEdges(ctx context.Context, edges []store.Edge) error
}

// FileSegments are the airway segments read from one source file
type FileSegments struct {
	File     string
	Segments []navdata.AirwaySegment
}

// GroupByFile splits segments by provenance file, keeping first-seen order
func GroupByFile(segs []navdata.AirwaySegment) []FileSegments {
	pos := make(map[string]int)
	var out []FileSegments
	for _, s := range segs {
		i, ok := pos[s.Prov.File]
		if !ok {
			i = len(out)
			pos[s.Prov.File] = i
			out = append(out, FileSegments{File: s.Prov.File})
		}
		out[i].Segments = append(out[i].Segments, s)
	}
	return out
}

// Stats summarizes a graph pass
type Stats struct {
	Files        int
	Segments     int64
	Edges        int64
	RadioEdges   int64
	Dropped      int64
	Ambiguous    int64
	FilesAborted int
}

type fileResult struct {
	file      string
	edges     []store.Edge
	ledger    *diag.Ledger
	resolved  int64
	dropped   int64
	ambiguous int64
	aborted   bool
}

// Run resolves all files concurrently and writes their edges through sink
// in file order from a single goroutine. progress, if set, is called after
// each file is written.
func (r *Resolver) Run(ctx context.Context, files []FileSegments, sink EdgeSink, ledger *diag.Ledger, progress func(done, total int)) (Stats, error) {
	log := logger.Get()
	stats := Stats{Files: len(files)}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]chan *fileResult, len(files))
	for i := range results {
		results[i] = make(chan *fileResult, 1)
	}

	// Resolve workers
	workers := r.opts.Workers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for i, f := range files {
			g.Go(func() error {
				results[i] <- r.resolveFile(gctx, f)
				return nil
			})
		}
	}()
	defer func() {
		cancel()
		<-launched
		g.Wait()
	}()

	// Single edge writer
	for i := range files {
		var res *fileResult
		select {
		case res = <-results[i]:
		case <-ctx.Done():
			return stats, ctx.Err()
		}

		ledger.Merge(res.ledger)
		stats.Segments += res.resolved + res.dropped
		stats.Dropped += res.dropped
		stats.Ambiguous += res.ambiguous
		if res.aborted {
			stats.FilesAborted++
		}

		for start := 0; start < len(res.edges); start += r.edgeBatch() {
			end := min(start+r.edgeBatch(), len(res.edges))
			if err := sink.InsertEdges(ctx, res.edges[start:end]); err != nil {
				return stats, fmt.Errorf("failed to write edges of %s: %w", res.file, err)
			}
		}
		for _, e := range res.edges {
			stats.Edges++
			if e.Radio {
				stats.RadioEdges++
			}
		}

		log.Debug("Airways resolved",
			zap.String("file", res.file),
			zap.Int64("resolved", res.resolved),
			zap.Int64("dropped", res.dropped),
			zap.Int("edges", len(res.edges)),
			zap.Bool("aborted", res.aborted))
		if progress != nil {
			progress(i+1, len(files))
		}
	}

	if stats.Dropped > 0 {
		ledger.Add(diag.Diagnostic{
			Severity: diag.Warning,
			Category: diag.Consistency,
			Message:  fmt.Sprintf("%d of %d airway segments could not be resolved", stats.Dropped, stats.Segments),
		})
	}
	if stats.FilesAborted > 0 {
		ledger.Add(diag.Diagnostic{
			Severity: diag.Error,
			Category: diag.Resource,
			Message:  fmt.Sprintf("resolution stopped early in %d of %d files", stats.FilesAborted, len(files)),
		})
	}
	return stats, ctx.Err()
}

func (r *Resolver) edgeBatch() int {
	if r.opts.EdgeBatch <= 0 {
		return DefaultOptions().EdgeBatch
	}
	return r.opts.EdgeBatch
}

// resolveFile resolves the segments of one file until the per-file error
// threshold is exceeded
func (r *Resolver) resolveFile(ctx context.Context, f FileSegments) *fileResult {
	res := &fileResult{file: f.File, ledger: diag.NewLedger("resolve")}
	for i, seg := range f.Segments {
		if i%1024 == 0 && ctx.Err() != nil {
			return res
		}
		out := r.Resolve(seg)
		if out.Diag != nil {
			res.ledger.Add(*out.Diag)
		}
		if out.Dropped {
			res.dropped++
			if r.opts.ResolveErrorsPerFile > 0 && res.dropped > int64(r.opts.ResolveErrorsPerFile) {
				res.aborted = true
				res.ledger.Add(diag.Diagnostic{
					Severity: diag.Error,
					Category: diag.Resource,
					File:     f.File,
					Message:  fmt.Sprintf("too many unresolved segments in %s, skipping %d remaining", f.File, len(f.Segments)-i-1),
				})
				return res
			}
			continue
		}
		if out.Diag != nil {
			res.ambiguous++
		}
		res.resolved++
		res.edges = append(res.edges, out.Edges...)
	}
	return res
}
