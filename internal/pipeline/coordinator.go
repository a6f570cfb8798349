package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wegman-software/navcompile-go/internal/config"
	"github.com/wegman-software/navcompile-go/internal/diag"
	"github.com/wegman-software/navcompile-go/internal/filter"
	"github.com/wegman-software/navcompile-go/internal/logger"
	"github.com/wegman-software/navcompile-go/internal/metrics"
	"github.com/wegman-software/navcompile-go/internal/script"
	"github.com/wegman-software/navcompile-go/internal/store"
)

// Version is recorded in the metadata of every compiled database
var Version = "dev"

// Coordinator runs the compile stages in order against one database
type Coordinator struct {
	cfg      *config.Config
	stages   []Stage
	progress chan Progress
}

// NewCoordinator creates a coordinator running the default stages
func NewCoordinator(cfg *config.Config) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		stages:   DefaultStages(),
		progress: make(chan Progress, 64),
	}
}

// Progress returns the progress channel. It is closed when Run returns;
// updates are dropped when nobody reads it.
func (c *Coordinator) Progress() <-chan Progress {
	return c.progress
}

// Run compiles the configured sources. On failure the database is left in
// the incomplete state and the returned error is an *AbortError, or wraps
// ErrCancelled when ctx was cancelled. The result is returned either way
// once the database was opened.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	defer close(c.progress)
	log := logger.Get()
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := store.Open(c.cfg.Database, store.Options{
		BatchSize:   c.cfg.BatchSize,
		JournalMode: c.cfg.JournalMode,
	})
	if err != nil {
		return nil, err
	}
	defer st.Close()

	rc := NewRunContext(c.cfg, st, c.progress)
	rc.cancel = cancel
	stop := context.AfterFunc(ctx, func() { rc.cancelled.Store(true) })
	defer stop()

	if err := c.setup(ctx, rc); err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, err
	}
	if rc.Script != nil {
		defer rc.Script.Close()
	}

	var collector *metrics.Collector
	if c.cfg.MetricsInterval > 0 {
		metricsCtx, cancelMetrics := context.WithCancel(ctx)
		defer cancelMetrics()

		collector = metrics.NewCollector(c.cfg.MetricsInterval, log, c.cfg.Database, rc.Stage)
		go collector.Start(metricsCtx)
		log.Info("System metrics collection started",
			zap.Duration("interval", c.cfg.MetricsInterval))
	}

	progressCtx, cancelProgress := context.WithCancel(ctx)
	defer cancelProgress()
	go c.reportLiveProgress(progressCtx, rc)

	var runErr error
	for _, s := range c.stages {
		if runErr = c.runStage(ctx, rc, s); runErr != nil {
			break
		}
	}
	cancelProgress()

	if runErr != nil {
		if err := st.SetState(context.Background(), store.StateIncomplete); err != nil {
			log.Error("Failed to mark database incomplete", zap.Error(err))
		}
	}

	res := &Result{
		Cycle:       rc.Cycle,
		Stats:       rc.Stats,
		Findings:    rc.Findings,
		Diagnostics: rc.Diagnostics(),
		Duration:    time.Since(start),
	}
	if collector != nil {
		collector.Collect()
		res.Metrics = collector.Summary()
	}
	res.State, err = st.State(context.Background())
	if err != nil && runErr == nil {
		runErr = err
	}
	return res, runErr
}

// setup prepares the schema, the filter and the prep script
func (c *Coordinator) setup(ctx context.Context, rc *RunContext) error {
	log := logger.Get()
	st := rc.Store

	if c.cfg.DropExisting {
		log.Info("Dropping existing schema", zap.String("database", c.cfg.Database))
		if err := st.DropSchema(ctx); err != nil {
			return err
		}
	}
	if err := st.CreateSchema(ctx); err != nil {
		return err
	}
	if !c.cfg.DropExisting {
		log.Info("Clearing compiled data, keeping schema", zap.String("database", c.cfg.Database))
		if err := st.ClearData(ctx); err != nil {
			return err
		}
	}
	if err := st.SetMetadata(ctx, store.MetaVersion, Version); err != nil {
		return err
	}

	var profile *filter.Profile
	if c.cfg.FilterFile != "" {
		p, err := filter.LoadProfile(c.cfg.FilterFile)
		if err != nil {
			return err
		}
		profile = p
	}
	f, err := filter.New(profile, c.cfg.BBox)
	if err != nil {
		return err
	}
	if f.HasFilter() {
		rc.Filter = f
		log.Info("Filtering enabled", zap.String("bbox", c.cfg.BBox.String()), zap.String("profile", c.cfg.FilterFile))
	}

	if c.cfg.ScriptFile != "" {
		compiled, err := script.Load(c.cfg.ScriptFile)
		if err != nil {
			return err
		}
		rt := script.NewRuntime()
		if err := rt.LoadCompiled(compiled); err != nil {
			rt.Close()
			return err
		}
		rc.Script = rt
		log.Info("Prep script loaded", zap.String("script", rt.Name()))
	}
	return nil
}

// runStage runs one stage and turns its failure or an exceeded error
// threshold into an AbortError
func (c *Coordinator) runStage(ctx context.Context, rc *RunContext, s Stage) error {
	name := s.Name()
	ledger := rc.begin(name)
	log := logger.Stage(name)
	start := time.Now()

	if rc.Cancelled() || ctx.Err() != nil {
		return ErrCancelled
	}
	rc.Emit(Progress{Stage: name, Text: stageText[name]})
	log.Info("Stage started")

	err := s.Run(ctx, rc)
	// the full list is rendered after the run
	ledger.LogAt(log, zapcore.DebugLevel)

	if err != nil && (rc.Cancelled() || ctx.Err() != nil || Cancelled(err)) {
		log.Warn("Stage cancelled", zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
		return ErrCancelled
	}
	if err == nil {
		switch {
		case ledger.Count(diag.Fatal) > 0:
			err = fmt.Errorf("%d fatal diagnostics", ledger.Count(diag.Fatal))
		case c.cfg.StageErrors > 0 && ledger.Errors() > c.cfg.StageErrors:
			err = fmt.Errorf("error threshold of %d exceeded", c.cfg.StageErrors)
		}
	}
	if err != nil {
		last, _ := ledger.Last(diag.Error)
		abort := &AbortError{Stage: name, Last: last, Errors: ledger.Errors(), Err: err}
		log.Error("Stage aborted", zap.Error(abort))
		return abort
	}

	log.Info("Stage complete",
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
		zap.Int("errors", ledger.Errors()),
		zap.Int("warnings", ledger.Count(diag.Warning)))
	return nil
}

// reportLiveProgress periodically logs the progress of the running stage
func (c *Coordinator) reportLiveProgress(ctx context.Context, rc *RunContext) {
	log := logger.Get()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	stage := ""
	var t *tracker
	var lastProcessed int64
	lastTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s := rc.Stage(); s != stage {
				stage, t, lastProcessed = s, newTracker(), 0
			}
			current, total := rc.current.Load(), rc.total.Load()
			processed := rc.processed.Load()
			now := time.Now()

			// Instantaneous rate over the last tick
			var rate float64
			if elapsed := now.Sub(lastTime).Seconds(); elapsed > 0 {
				rate = float64(processed-lastProcessed) / elapsed
			}

			fields := []zap.Field{
				zap.String("stage", stage),
				zap.Int64("current", current),
				zap.Int64("total", total),
			}
			if p := (Progress{Current: current, Total: total}).Percent(); p >= 0 {
				fields = append(fields,
					zap.String("percent", fmt.Sprintf("%.1f%%", p)),
					zap.String("eta", FormatETA(t.eta(current, total))))
			}
			if processed > 0 {
				fields = append(fields,
					zap.String("records", humanize.Comma(processed)),
					zap.String("rate", FormatThroughput(rate)),
					zap.String("avg_rate", FormatThroughput(t.throughput(processed))))
			}
			log.Info("Compile progress", fields...)

			lastProcessed = processed
			lastTime = now
		}
	}
}
