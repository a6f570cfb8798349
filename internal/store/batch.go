package store

import (
	"context"
	"fmt"

	"github.com/wegman-software/navcompile-go/internal/navdata"
)

// BatchError reports a failed batch. The batch was rolled back as a whole
// and is still pending in the writer.
type BatchError struct {
	// Index of the failing record within the pending batch, -1 if the
	// commit itself failed
	Index int
	Prov  navdata.Provenance
	Err   error
}

func (e *BatchError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("batch commit failed: %v", e.Err)
	}
	return fmt.Sprintf("batch record %d (%s) failed: %v", e.Index, e.Prov, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// BatchWriter writes records in bounded transactions
type BatchWriter struct {
	s       *Store
	size    int
	pending []navdata.Record
	written map[navdata.Kind]int64
}

// NewBatchWriter creates a writer committing every size records.
// size <= 0 uses the store's BatchSize.
func (s *Store) NewBatchWriter(size int) *BatchWriter {
	if size <= 0 {
		size = s.opts.BatchSize
	}
	return &BatchWriter{
		s:       s,
		size:    size,
		pending: make([]navdata.Record, 0, size),
		written: make(map[navdata.Kind]int64),
	}
}

// Add queues rec and flushes once the batch is full. On error the full
// batch, rec included, stays pending.
func (w *BatchWriter) Add(ctx context.Context, rec navdata.Record) error {
	w.pending = append(w.pending, rec)
	if len(w.pending) < w.size {
		return nil
	}
	return w.Flush(ctx)
}

// Flush writes all pending records in one transaction
func (w *BatchWriter) Flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := w.s.db.BeginTx(ctx, nil)
	if err != nil {
		return &BatchError{Index: -1, Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	for i, rec := range w.pending {
		if _, err := insertRecord(ctx, tx, rec); err != nil {
			_ = tx.Rollback()
			return &BatchError{Index: i, Prov: rec.Common().Prov, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &BatchError{Index: -1, Err: err}
	}

	for _, rec := range w.pending {
		w.written[rec.Kind()]++
	}
	clear(w.pending)
	w.pending = w.pending[:0]
	return nil
}

// Pending returns the number of uncommitted records
func (w *BatchWriter) Pending() int { return len(w.pending) }

// Record returns pending record i
func (w *BatchWriter) Record(i int) navdata.Record { return w.pending[i] }

// Drop removes pending record i, typically the Index of a BatchError
func (w *BatchWriter) Drop(i int) {
	if i < 0 || i >= len(w.pending) {
		return
	}
	w.pending = append(w.pending[:i], w.pending[i+1:]...)
}

// Discard forgets all pending records
func (w *BatchWriter) Discard() int {
	n := len(w.pending)
	clear(w.pending)
	w.pending = w.pending[:0]
	return n
}

// Written returns committed record counts per kind
func (w *BatchWriter) Written() map[navdata.Kind]int64 {
	out := make(map[navdata.Kind]int64, len(w.written))
	for k, v := range w.written {
		out[k] = v
	}
	return out
}

// Total returns the number of committed records
func (w *BatchWriter) Total() int64 {
	var n int64
	for _, v := range w.written {
		n += v
	}
	return n
}
