package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/wegman-software/navcompile-go/internal/diag"
	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/reader"
	"github.com/wegman-software/navcompile-go/internal/store"
)

// loader is the reader.Emitter of the read stage. Records pass the filter
// and the prep script before going into the batch writer; airway segments
// are kept in memory for the resolve stage.
type loader struct {
	ctx    context.Context
	rc     *RunContext
	ledger *diag.Ledger
	w      *store.BatchWriter

	// files completed by earlier readers
	filesBase int
}

func newLoader(ctx context.Context, rc *RunContext, ledger *diag.Ledger) *loader {
	return &loader{
		ctx:    ctx,
		rc:     rc,
		ledger: ledger,
		w:      rc.Store.NewBatchWriter(rc.Config.BatchSize),
	}
}

func (l *loader) Record(rec navdata.Record) error {
	if l.rc.Cancelled() {
		return ErrCancelled
	}
	l.rc.processed.Add(1)

	if !l.rc.Filter.Keep(rec) {
		l.rc.Stats.Filtered++
		return nil
	}
	if l.rc.Script != nil {
		keep, err := l.rc.Script.Prepare(rec)
		if err != nil {
			prov := rec.Common().Prov
			l.ledger.Add(diag.Diagnostic{
				Severity: diag.Warning,
				Category: diag.Format,
				File:     prov.File,
				Line:     prov.Line,
				Offset:   prov.Offset,
				Message:  fmt.Sprintf("prep script failed on %s %s: %v", rec.Kind(), rec.Common().Ident, err),
			})
		}
		if !keep {
			l.rc.Stats.ScriptDropped++
			return nil
		}
	}

	if err := l.w.Add(l.ctx, rec); err != nil {
		return l.retry(err)
	}
	return nil
}

func (l *loader) Segment(seg navdata.AirwaySegment) error {
	if l.rc.Cancelled() {
		return ErrCancelled
	}
	if !l.rc.Filter.KeepSegment(&seg) {
		l.rc.Stats.Filtered++
		return nil
	}
	l.rc.Segments = append(l.rc.Segments, seg)
	l.rc.Stats.Segments++
	return nil
}

func (l *loader) Progress(p reader.Progress) {
	done := l.filesBase + p.FilesDone
	l.rc.Emit(Progress{
		Stage:   StageRead,
		Current: int64(done),
		Total:   int64(l.rc.Stats.Files),
		Text: fmt.Sprintf("Reading %s (%s records)", filepath.Base(p.File),
			humanize.Comma(l.rc.processed.Load())),
	})
}

// flush commits the remaining records
func (l *loader) flush() error {
	if err := l.w.Flush(l.ctx); err != nil {
		return l.retry(err)
	}
	return nil
}

// retry handles a failed batch. A record that failed its insert is dropped
// with an error diagnostic and the batch is written again; a failed commit
// is retried as is. After Config.BatchRetries attempts the batch is
// discarded and the error returned.
func (l *loader) retry(err error) error {
	for attempt := 0; ; attempt++ {
		var be *store.BatchError
		if !errors.As(err, &be) || l.rc.Cancelled() {
			l.w.Discard()
			if l.rc.Cancelled() {
				return ErrCancelled
			}
			return err
		}
		if be.Index >= 0 {
			rec := l.w.Record(be.Index)
			l.ledger.Add(diag.Diagnostic{
				Severity: diag.Error,
				Category: diag.Resource,
				File:     be.Prov.File,
				Line:     be.Prov.Line,
				Offset:   be.Prov.Offset,
				Message:  fmt.Sprintf("%s %s not written: %v", rec.Kind(), rec.Common().Ident, be.Err),
			})
			l.w.Drop(be.Index)
			l.rc.Stats.Skipped++
		}
		if attempt >= l.rc.Config.BatchRetries {
			n := l.w.Discard()
			l.ledger.Errorf(diag.Resource, "", 0, "batch of %d records lost after %d retries: %v", n, attempt, be.Err)
			return err
		}
		if err = l.w.Flush(l.ctx); err == nil {
			return nil
		}
	}
}

// discard forgets uncommitted records after a failed read
func (l *loader) discard() {
	if n := l.w.Discard(); n > 0 {
		l.ledger.Warnf(diag.Resource, "", 0, "%d uncommitted records discarded", n)
	}
}
