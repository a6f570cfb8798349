package publish

import (
	"context"
	"database/sql"

	"github.com/wegman-software/navcompile-go/internal/layer"
	"github.com/wegman-software/navcompile-go/internal/wkb"
)

// rowSource implements pgx.CopyFromSource over the rows of a layer. Rows
// are read by a goroutine so the SQLite scan overlaps with COPY.
type rowSource struct {
	rows    <-chan []any
	errc    chan error
	done    chan struct{}
	current []any
	err     error
}

func newRowSource(ctx context.Context, db *sql.DB, l layer.Layer, enc *wkb.Encoder) *rowSource {
	rows := make(chan []any, 1024)
	s := &rowSource{rows: rows, errc: make(chan error, 1), done: make(chan struct{})}

	go func() {
		defer close(rows)
		for row, err := range l.Rows(ctx, db) {
			if err != nil {
				s.errc <- err
				return
			}
			vals := row.Values
			if l.Geometry != layer.GeomNone {
				var g any
				if b := row.EWKB(enc, l.Geometry); b != nil {
					g = b
				}
				vals = append(vals, g)
			}
			select {
			case rows <- vals:
			case <-s.done:
				return
			}
		}
	}()
	return s
}

func (r *rowSource) Next() bool {
	row, ok := <-r.rows
	if !ok {
		select {
		case r.err = <-r.errc:
		default:
		}
		return false
	}
	r.current = row
	return true
}

func (r *rowSource) Values() ([]any, error) {
	return r.current, nil
}

func (r *rowSource) Err() error {
	return r.err
}

// stop releases the reading goroutine when COPY ends early
func (r *rowSource) stop() {
	close(r.done)
}
