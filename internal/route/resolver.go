package route

import (
	"fmt"
	"math"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wegman-software/navcompile-go/internal/diag"
	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/store"
)

// Options tunes resolution
type Options struct {
	// TieToleranceNM is the distance within which two candidates count as
	// equally near, which fails the tie-break
	TieToleranceNM float64
	// ResolveErrorsPerFile stops resolving a file after this many dropped segments
	ResolveErrorsPerFile int
	Workers              int
	// CacheSize bounds the cache of unambiguous lookups
	CacheSize int
	// EdgeBatch is the number of edges per write transaction
	EdgeBatch int
}

// DefaultOptions returns the default resolver options
func DefaultOptions() Options {
	return Options{
		TieToleranceNM:       0.01,
		ResolveErrorsPerFile: 2500,
		Workers:              4,
		CacheSize:            65536,
		EdgeBatch:            5000,
	}
}

// Resolver maps airway segment endpoints to persisted rows
type Resolver struct {
	ix    *Index
	opts  Options
	cache *lru.Cache[navdata.FixRef, *store.Candidate]
}

// NewResolver creates a resolver over ix
func NewResolver(ix *Index, opts Options) (*Resolver, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultOptions().CacheSize
	}
	cache, err := lru.New[navdata.FixRef, *store.Candidate](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup cache: %w", err)
	}
	return &Resolver{ix: ix, opts: opts, cache: cache}, nil
}

// Outcome is the result of resolving one segment
type Outcome struct {
	Edges []store.Edge
	// Dropped is set when the segment could not be resolved; Diag then
	// holds its single error diagnostic
	Dropped bool
	// Diag is the error for a dropped segment or the info note for a
	// resolved ambiguity, nil otherwise
	Diag *diag.Diagnostic
}

// candidates returns the narrowed candidate list of one endpoint
func (r *Resolver) candidates(ref navdata.FixRef) []*store.Candidate {
	if c, ok := r.cache.Get(ref); ok {
		return []*store.Candidate{c}
	}
	cands := narrow(r.ix.Lookup(ref), ref.Type)
	if len(cands) == 1 {
		r.cache.Add(ref, cands[0])
	}
	return cands
}

type pair struct {
	from, to *store.Candidate
	dist     float64
}

// Resolve resolves one segment into its directed edges
func (r *Resolver) Resolve(seg navdata.AirwaySegment) Outcome {
	fromC := r.candidates(seg.From)
	toC := r.candidates(seg.To)

	if len(fromC) == 0 || len(toC) == 0 {
		missing, n := seg.From, len(fromC)
		if len(fromC) > 0 {
			missing, n = seg.To, len(toC)
		}
		return r.drop(seg, fmt.Sprintf("airway %s segment %s-%s: %d candidates for %s",
			seg.Name, seg.From, seg.To, n, missing))
	}

	pairs := make([]pair, 0, len(fromC)*len(toC))
	for _, f := range fromC {
		for _, t := range toC {
			pairs = append(pairs, pair{f, t, navdata.DistanceNM(f.Pos, t.Pos)})
		}
	}

	var out Outcome
	best := pairs[0]
	if len(pairs) > 1 {
		sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].dist < pairs[j].dist })
		best = pairs[0]
		if math.Abs(pairs[1].dist-best.dist) <= r.opts.TieToleranceNM {
			return r.drop(seg, fmt.Sprintf("airway %s segment %s-%s: ambiguous, %dx%d candidates tie within %.2f NM",
				seg.Name, seg.From, seg.To, len(fromC), len(toC), r.opts.TieToleranceNM))
		}
		out.Diag = &diag.Diagnostic{
			Severity: diag.Info,
			Category: diag.Consistency,
			File:     seg.Prov.File,
			Line:     seg.Prov.Line,
			Offset:   seg.Prov.Offset,
			Message: fmt.Sprintf("airway %s segment %s-%s: picked nearest of %dx%d candidates",
				seg.Name, seg.From, seg.To, len(fromC), len(toC)),
		}
	}

	if best.from == best.to {
		return r.drop(seg, fmt.Sprintf("airway %s segment %s-%s: both ends resolve to the same fix", seg.Name, seg.From, seg.To))
	}

	fwd := r.edge(seg, best.from, best.to, best.dist)
	switch seg.Direction {
	case navdata.DirForward:
		out.Edges = []store.Edge{fwd}
	case navdata.DirBackward:
		out.Edges = []store.Edge{r.edge(seg, best.to, best.from, best.dist)}
	default:
		out.Edges = []store.Edge{fwd, r.edge(seg, best.to, best.from, best.dist)}
	}
	return out
}

func (r *Resolver) drop(seg navdata.AirwaySegment, msg string) Outcome {
	return Outcome{
		Dropped: true,
		Diag: &diag.Diagnostic{
			Severity: diag.Error,
			Category: diag.Consistency,
			File:     seg.Prov.File,
			Line:     seg.Prov.Line,
			Offset:   seg.Prov.Offset,
			Message:  msg,
		},
	}
}

func (r *Resolver) edge(seg navdata.AirwaySegment, from, to *store.Candidate, dist float64) store.Edge {
	return store.Edge{
		Airway:    seg.Name,
		Class:     seg.Class,
		FromTable: from.Table,
		FromID:    from.ID,
		ToTable:   to.Table,
		ToID:      to.ID,
		MinAltFt:  seg.MinAltFt,
		MaxAltFt:  seg.MaxAltFt,
		LengthNM:  dist,
		Radio:     from.Type.IsRadio() && to.Type.IsRadio(),
		Prov:      seg.Prov,
	}
}
