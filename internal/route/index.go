// Package route resolves raw airway segments against the compiled
// database and writes the routable edge graph.
package route

import (
	"strings"

	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/store"
)

type key struct {
	ident  string
	region string
}

// Index is a read-only multi-key lookup over endpoint candidates. It is
// safe for concurrent use once built.
type Index struct {
	byKey   map[key][]*store.Candidate
	byIdent map[string][]*store.Candidate
	n       int
}

// NewIndex builds the (ident, region) and ident-only lookups
func NewIndex(cands []store.Candidate) *Index {
	ix := &Index{
		byKey:   make(map[key][]*store.Candidate, len(cands)),
		byIdent: make(map[string][]*store.Candidate, len(cands)),
		n:       len(cands),
	}
	for i := range cands {
		c := &cands[i]
		ident := strings.ToUpper(c.Ident)
		k := key{ident, strings.ToUpper(c.Region)}
		ix.byKey[k] = append(ix.byKey[k], c)
		ix.byIdent[ident] = append(ix.byIdent[ident], c)
	}
	return ix
}

// Len returns the number of indexed candidates
func (ix *Index) Len() int { return ix.n }

// Exact returns candidates matching ident and region
func (ix *Index) Exact(ident, region string) []*store.Candidate {
	return ix.byKey[key{strings.ToUpper(ident), strings.ToUpper(region)}]
}

// ByIdent returns all candidates with ident regardless of region
func (ix *Index) ByIdent(ident string) []*store.Candidate {
	return ix.byIdent[strings.ToUpper(ident)]
}

// Lookup applies exact match first and falls back to ident only
func (ix *Index) Lookup(ref navdata.FixRef) []*store.Candidate {
	if ref.Region != "" {
		if c := ix.Exact(ref.Ident, ref.Region); len(c) > 0 {
			return c
		}
	}
	return ix.ByIdent(ref.Ident)
}

// typeFamily groups navaid types a fix type hint may match
func typeFamily(t navdata.NavaidType) int {
	switch t {
	case navdata.TypeVOR, navdata.TypeVORDME, navdata.TypeVORTAC, navdata.TypeTACAN, navdata.TypeDME:
		return 1
	case navdata.TypeNDB:
		return 2
	case navdata.TypeWaypoint:
		return 3
	case navdata.TypeAirport:
		return 4
	}
	return 0
}

func hasVOR(t navdata.NavaidType) bool {
	return t == navdata.TypeVOR || t == navdata.TypeVORDME || t == navdata.TypeVORTAC
}

// narrow applies the type hint and enroute consistency rules. Each rule
// only applies when it leaves at least one candidate.
func narrow(cands []*store.Candidate, hint navdata.NavaidType) []*store.Candidate {
	if len(cands) <= 1 {
		return cands
	}
	if hint != "" {
		cands = keep(cands, func(c *store.Candidate) bool { return typeFamily(c.Type) == typeFamily(hint) })
		// within the family the hinted type ranks first; a VOR hint covers
		// every station with a VOR
		cands = keep(cands, func(c *store.Candidate) bool {
			return c.Type == hint || (hasVOR(hint) && hasVOR(c.Type))
		})
	}
	// Enroute segments prefer navaids over airports and enroute fixes
	// over terminal ones
	cands = keep(cands, func(c *store.Candidate) bool { return c.Type != navdata.TypeAirport })
	cands = keep(cands, func(c *store.Candidate) bool { return c.AirportIdent == "" })
	return cands
}

func keep(cands []*store.Candidate, pred func(*store.Candidate) bool) []*store.Candidate {
	var out []*store.Candidate
	for _, c := range cands {
		if pred(c) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return cands
	}
	return out
}
