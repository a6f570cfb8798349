package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wegman-software/navcompile-go/internal/diag"
	"github.com/wegman-software/navcompile-go/internal/metrics"
	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/reader"
	"github.com/wegman-software/navcompile-go/internal/route"
	"github.com/wegman-software/navcompile-go/internal/store"
	"github.com/wegman-software/navcompile-go/internal/validate"
)

// Stage names
const (
	StageLocate   = "locate"
	StageRead     = "read"
	StageMerge    = "merge"
	StageResolve  = "resolve"
	StageValidate = "validate"
	StageIndex    = "index"
)

// ErrCancelled is returned when a run was cancelled. Readers treat it as
// an early stop.
var ErrCancelled = fmt.Errorf("compile cancelled: %w", reader.ErrStop)

// Stage is one step of a compile run
type Stage interface {
	Name() string
	Run(ctx context.Context, rc *RunContext) error
}

// AbortError ends a run. It carries the stage, the last error diagnostic
// and the number of errors the stage accumulated.
type AbortError struct {
	Stage  string
	Last   diag.Diagnostic
	Errors int
	Err    error
}

func (e *AbortError) Error() string {
	msg := fmt.Sprintf("stage %s aborted with %d errors: %v", e.Stage, e.Errors, e.Err)
	if e.Last.Message != "" {
		msg += fmt.Sprintf(" (last: %s)", e.Last)
	}
	return msg
}

func (e *AbortError) Unwrap() error { return e.Err }

// Cancelled reports whether err ends a run that was cancelled
func Cancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// Stats holds counters of a compile run
type Stats struct {
	Areas       int
	UsableAreas int
	Files       int
	Sources     int

	Records       map[navdata.Kind]int64
	Filtered      int64
	ScriptDropped int64
	Skipped       int64
	Segments      int64

	Merged      int
	Route       route.Stats
	FixesLinked int
	Purged      int64
	Findings    int
}

// TotalRecords returns the number of committed records
func (s Stats) TotalRecords() int64 {
	var n int64
	for _, v := range s.Records {
		n += v
	}
	return n
}

// Result is the outcome of a compile run. It is returned alongside an
// AbortError too, with whatever the run got through.
type Result struct {
	State       store.State
	Cycle       string
	Stats       Stats
	Findings    *validate.Report
	Diagnostics []diag.Diagnostic
	Metrics     metrics.Summary
	Duration    time.Duration
}
