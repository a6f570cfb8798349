package route

import (
	"context"
	"fmt"

	"github.com/wegman-software/navcompile-go/internal/diag"
	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/store"
)

// FixStore is the part of the store procedure fix linking needs
type FixStore interface {
	UnlinkedProcedureFixes(ctx context.Context) ([]store.ProcedureFixRef, error)
	SetProcedureFixNavaid(ctx context.Context, links []store.FixLink) error
}

// LinkProcedureFixes links procedure fixes to navaid rows by exact ident
// and region; several matches go to the one nearest the fix position.
// Unmatched fixes stay unlinked with a warning each.
func LinkProcedureFixes(ctx context.Context, ix *Index, fs FixStore, ledger *diag.Ledger) (int, error) {
	fixes, err := fs.UnlinkedProcedureFixes(ctx)
	if err != nil {
		return 0, err
	}

	var links []store.FixLink
	for _, f := range fixes {
		var best *store.Candidate
		bestDist := 0.0
		for _, c := range ix.Exact(f.Ident, f.Region) {
			if c.Table != store.TableNavaid {
				continue
			}
			d := navdata.DistanceNM(f.Pos, c.Pos)
			if best == nil || d < bestDist {
				best, bestDist = c, d
			}
		}
		if best == nil {
			ledger.Add(diag.Diagnostic{
				Severity: diag.Warning,
				Category: diag.Consistency,
				File:     f.Prov.File,
				Line:     f.Prov.Line,
				Offset:   f.Prov.Offset,
				Message:  fmt.Sprintf("procedure fix %s/%s has no matching navaid", f.Ident, f.Region),
			})
			continue
		}
		links = append(links, store.FixLink{FixID: f.ID, NavaidID: best.ID})
	}
	if err := fs.SetProcedureFixNavaid(ctx, links); err != nil {
		return 0, err
	}
	return len(links), nil
}
