package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/wegman-software/navcompile-go/internal/config"
	"github.com/wegman-software/navcompile-go/internal/diag"
	"github.com/wegman-software/navcompile-go/internal/filter"
	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/reader"
	"github.com/wegman-software/navcompile-go/internal/scenery"
	"github.com/wegman-software/navcompile-go/internal/script"
	"github.com/wegman-software/navcompile-go/internal/store"
	"github.com/wegman-software/navcompile-go/internal/validate"
)

// RunContext is the state of one compile run, passed to every stage.
// Stages run one at a time; only the cancellation flag, the stage name and
// the live counters are read from other goroutines.
type RunContext struct {
	Config *config.Config
	Store  *store.Store
	Filter *filter.Filter
	// Script is nil when no prep script is configured
	Script *script.Runtime

	Areas    []scenery.Area
	Sources  []reader.Reader
	Segments []navdata.AirwaySegment
	Cycle    string
	Findings *validate.Report
	Stats    Stats

	cancelled atomic.Bool
	cancel    func()
	progress  chan<- Progress

	// live counters for the progress log
	current   atomic.Int64
	total     atomic.Int64
	processed atomic.Int64

	mu      sync.Mutex
	stage   string
	ledger  *diag.Ledger
	ledgers []*diag.Ledger
}

// NewRunContext creates a run context. progress may be nil.
func NewRunContext(cfg *config.Config, st *store.Store, progress chan<- Progress) *RunContext {
	return &RunContext{
		Config:   cfg,
		Store:    st,
		progress: progress,
		cancel:   func() {},
		ledger:   diag.NewLedger(""),
	}
}

// Cancel asks every stage to stop at the next record or file boundary
func (rc *RunContext) Cancel() {
	rc.cancelled.Store(true)
	rc.cancel()
}

// Cancelled reports whether the run was cancelled
func (rc *RunContext) Cancelled() bool {
	return rc.cancelled.Load()
}

// Stage returns the name of the running stage
func (rc *RunContext) Stage() string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.stage
}

// Ledger returns the diagnostics ledger of the running stage
func (rc *RunContext) Ledger() *diag.Ledger {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.ledger
}

// begin starts a new stage with a fresh ledger
func (rc *RunContext) begin(name string) *diag.Ledger {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.stage = name
	rc.ledger = diag.NewLedger(name)
	rc.ledgers = append(rc.ledgers, rc.ledger)
	rc.current.Store(0)
	rc.total.Store(0)
	rc.processed.Store(0)
	return rc.ledger
}

// Emit sends p without blocking. Updates are dropped while the consumer
// lags behind.
func (rc *RunContext) Emit(p Progress) {
	rc.current.Store(p.Current)
	rc.total.Store(p.Total)
	if rc.progress == nil {
		return
	}
	select {
	case rc.progress <- p:
	default:
	}
}

// Diagnostics returns the diagnostics of all stages run so far, in stage order
func (rc *RunContext) Diagnostics() []diag.Diagnostic {
	rc.mu.Lock()
	ledgers := append([]*diag.Ledger(nil), rc.ledgers...)
	rc.mu.Unlock()

	var out []diag.Diagnostic
	for _, l := range ledgers {
		out = append(out, l.Items()...)
	}
	return out
}
