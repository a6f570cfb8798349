package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/navcompile-go/internal/diag"
	"github.com/wegman-software/navcompile-go/internal/logger"
	"github.com/wegman-software/navcompile-go/internal/reader"
	"github.com/wegman-software/navcompile-go/internal/reader/bgl"
	"github.com/wegman-software/navcompile-go/internal/reader/osmapt"
	"github.com/wegman-software/navcompile-go/internal/reader/xplane"
	"github.com/wegman-software/navcompile-go/internal/route"
	"github.com/wegman-software/navcompile-go/internal/scenery"
	"github.com/wegman-software/navcompile-go/internal/store"
	"github.com/wegman-software/navcompile-go/internal/validate"
)

// DefaultStages returns the compile stages in run order
func DefaultStages() []Stage {
	return []Stage{
		locateStage{},
		readStage{},
		mergeStage{},
		resolveStage{},
		validateStage{},
		indexStage{},
	}
}

func readerOptions(rc *RunContext) reader.Options {
	return reader.Options{
		MaxErrorsPerFile: rc.Config.MaxErrorsPerFile,
		ProgressEvery:    rc.Config.ProgressEvery,
	}
}

// locateStage turns the configured sources into scenery areas and readers
type locateStage struct{}

func (locateStage) Name() string { return StageLocate }

func (locateStage) Run(ctx context.Context, rc *RunContext) error {
	cfg := rc.Config
	ledger := rc.Ledger()

	var cands []scenery.Candidate
	if cfg.SceneryConfig != "" {
		c, err := scenery.ParseSceneryConfig(cfg.SceneryConfig, cfg.SimRoot, ledger)
		if err == nil {
			cands = append(cands, c...)
		}
	}
	for _, path := range cfg.Manifests {
		m, err := scenery.ParseManifestFile(path, ledger)
		if err != nil {
			continue
		}
		offset := len(cands)
		for _, c := range m.Candidates("", scenery.KindCustom, ledger) {
			c.Layer += offset
			cands = append(cands, c)
		}
	}
	for _, dir := range cfg.SceneryDirs {
		cands = append(cands, scenery.Candidate{Path: dir, Layer: len(cands), Enabled: true, Kind: scenery.KindCommunity})
	}

	areas, err := scenery.Locate(ctx, cands, ledger)
	if err != nil {
		return err
	}
	rc.Areas = areas
	if err := rc.Store.InsertAreas(ctx, areas); err != nil {
		return err
	}
	usable := scenery.Usable(areas)
	rc.Stats.Areas, rc.Stats.UsableAreas = len(areas), len(usable)

	counts, err := scenery.CountFiles(ctx, usable, cfg.Workers)
	if err != nil {
		return err
	}
	rc.Emit(Progress{Stage: StageLocate, Current: int64(counts.Sum()), Total: int64(counts.Sum()),
		Text: fmt.Sprintf("Found %d BGL and %d navdata files", counts.Total[scenery.GroupBGL], counts.Total[scenery.GroupDat])})

	rc.Sources = buildReaders(rc, usable, ledger)
	if len(rc.Sources) == 0 {
		return fmt.Errorf("no valid sources: %d scenery candidates, %d usable", len(cands), len(usable))
	}
	for _, r := range rc.Sources {
		rc.Stats.Files += len(r.Files())
	}
	rc.Stats.Sources = len(rc.Sources)
	return nil
}

// buildReaders creates one BGL reader over all usable areas in layer
// order, one X-Plane reader per navdata directory and one OSM reader.
func buildReaders(rc *RunContext, areas []scenery.Area, ledger *diag.Ledger) []reader.Reader {
	cfg := rc.Config
	opts := readerOptions(rc)
	var out []reader.Reader

	var bglFiles []string
	xplaneDirs := append([]string(nil), cfg.XPlaneDirs...)
	for _, a := range areas {
		files, err := bgl.Find(a.Path)
		if err != nil {
			ledger.Errorf(diag.Access, a.Path, 0, "%v", err)
			continue
		}
		bglFiles = append(bglFiles, files...)
		if a.Subtree == "Earth nav data" || a.Subtree == filepath.Join("Resources", "default data") {
			xplaneDirs = append(xplaneDirs, filepath.Join(a.Path, a.Subtree))
		}
	}
	if len(bglFiles) > 0 {
		out = append(out, bgl.New(bglFiles, opts, cfg.Workers))
	}

	for _, dir := range xplaneDirs {
		r, err := xplane.New(dir, opts)
		if err != nil {
			ledger.Errorf(diag.Access, dir, 0, "%v", err)
			continue
		}
		out = append(out, r)
	}

	var osmFiles []string
	for _, p := range cfg.OSMFiles {
		info, err := os.Stat(p)
		switch {
		case err != nil:
			ledger.Errorf(diag.Access, p, 0, "cannot read OSM extract: %v", err)
		case info.Size() == 0:
			ledger.Errorf(diag.Access, p, 0, "empty file")
		default:
			osmFiles = append(osmFiles, p)
		}
	}
	if len(osmFiles) > 0 {
		out = append(out, osmapt.New(osmFiles, opts))
	}
	return out
}

// readStage runs every reader into the store
type readStage struct{}

func (readStage) Name() string { return StageRead }

func (readStage) Run(ctx context.Context, rc *RunContext) error {
	log := logger.Stage(StageRead)
	ledger := rc.Ledger()
	st := rc.Store

	// Writes go faster without indexes, they are rebuilt at the end
	if err := st.DropAllIndexes(ctx); err != nil {
		return err
	}

	ld := newLoader(ctx, rc, ledger)
	var cycles []string
	for _, r := range rc.Sources {
		start := time.Now()
		err := r.Read(ctx, ld)
		ledger.Merge(r.Diagnostics())
		if err != nil {
			ld.discard()
			if rc.Cancelled() || ctx.Err() != nil {
				return ErrCancelled
			}
			return fmt.Errorf("%s reader: %w", r.Name(), err)
		}
		if n := r.Diagnostics().Count(diag.Fatal); n > 0 {
			// uncommitted records go, committed batches stay
			ld.discard()
			return fmt.Errorf("%s reader stopped on %d exhausted error budgets", r.Name(), n)
		}
		if xr, ok := r.(*xplane.Reader); ok && xr.Cycle() != "" {
			cycles = append(cycles, xr.Cycle())
		}
		ld.filesBase += len(r.Files())
		log.Info("Source read",
			zap.String("reader", r.Name()),
			zap.Int("files", len(r.Files())),
			zap.Int("errors", r.Diagnostics().Errors()),
			zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
	}
	if err := ld.flush(); err != nil {
		ld.discard()
		return err
	}

	rc.Stats.Records = ld.w.Written()
	rc.Cycle = pickCycle(cycles, ledger)
	if rc.Cycle != "" {
		if err := st.SetMetadata(ctx, store.MetaAiracCycle, rc.Cycle); err != nil {
			return err
		}
	}
	return st.SetState(ctx, store.StatePopulated)
}

// pickCycle returns the cycle of the last X-Plane source. Each source is
// checked for consistency by its reader; differing sources only get a note.
func pickCycle(cycles []string, ledger *diag.Ledger) string {
	if len(cycles) == 0 {
		return ""
	}
	last := cycles[len(cycles)-1]
	for _, c := range cycles[:len(cycles)-1] {
		if c != last {
			ledger.Infof(diag.Consistency, "", 0, "navdata sources use AIRAC cycles %s and %s, recording %s", c, last, last)
			break
		}
	}
	return last
}

// mergeStage combines VOR and TACAN pairs into VORTACs
type mergeStage struct{}

func (mergeStage) Name() string { return StageMerge }

func (mergeStage) Run(ctx context.Context, rc *RunContext) error {
	n, err := rc.Store.MergeVortac(ctx)
	if err != nil {
		return err
	}
	rc.Stats.Merged = n
	if n > 0 {
		rc.Ledger().Infof(diag.Consistency, "", 0, "merged %d VOR and TACAN pairs into VORTACs", n)
	}
	return nil
}

// resolveStage builds the airway graph and links procedure fixes
type resolveStage struct{}

func (resolveStage) Name() string { return StageResolve }

func (resolveStage) Run(ctx context.Context, rc *RunContext) error {
	cfg := rc.Config
	st := rc.Store
	ledger := rc.Ledger()

	if err := st.ClearRoutes(ctx); err != nil {
		return err
	}
	cands, err := st.Candidates(ctx)
	if err != nil {
		return err
	}
	ix := route.NewIndex(cands)

	opts := route.DefaultOptions()
	opts.TieToleranceNM = cfg.TieToleranceNM
	opts.ResolveErrorsPerFile = cfg.ResolveErrorsPerFile
	opts.Workers = cfg.Workers
	opts.CacheSize = cfg.CacheSize
	res, err := route.NewResolver(ix, opts)
	if err != nil {
		return err
	}

	files := route.GroupByFile(rc.Segments)
	stats, err := res.Run(ctx, files, st, ledger, func(done, total int) {
		rc.Emit(Progress{Stage: StageResolve, Current: int64(done), Total: int64(total),
			Text: fmt.Sprintf("Creating airway routes (%d of %d files)", done, total)})
	})
	rc.Stats.Route = stats
	if err != nil {
		if rc.Cancelled() || errors.Is(err, context.Canceled) {
			return ErrCancelled
		}
		return err
	}
	// Segments are transient
	rc.Segments = nil

	linked, err := route.LinkProcedureFixes(ctx, ix, st, ledger)
	if err != nil {
		return err
	}
	rc.Stats.FixesLinked = linked
	return st.SetState(ctx, store.StateGraphResolved)
}

// validateStage runs the integrity checks. Referential failures end the run.
type validateStage struct{}

func (validateStage) Name() string { return StageValidate }

func (validateStage) Run(ctx context.Context, rc *RunContext) error {
	cfg := rc.Config
	log := logger.Stage(StageValidate)

	rep, err := validate.New(rc.Store, validate.Options{CoordToleranceM: cfg.CoordToleranceM}).Run(ctx)
	if err != nil {
		return err
	}
	rc.Findings = rep
	rc.Stats.Findings = len(rep.Findings)
	if err := rep.Save(ctx, rc.Store.DB()); err != nil {
		return err
	}
	rep.Diagnostics(rc.Ledger())

	if cfg.BaselineCSV != "" {
		if fresh, err := newFindings(rep, cfg.BaselineCSV); err != nil {
			rc.Ledger().Warnf(diag.Access, cfg.BaselineCSV, 0, "cannot read baseline: %v", err)
		} else {
			log.Info("Findings compared with baseline", zap.Int("new", len(fresh)), zap.Int("total", len(rep.Findings)))
		}
	}
	if cfg.FindingsCSV != "" {
		if err := writeFindings(rep, cfg.FindingsCSV); err != nil {
			return err
		}
	}

	if rep.Fatal() {
		return fmt.Errorf("referential integrity check failed")
	}
	return rc.Store.SetState(ctx, store.StateValidated)
}

func newFindings(rep *validate.Report, path string) ([]validate.Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	baseline, err := validate.ReadCSV(f)
	if err != nil {
		return nil, err
	}
	return rep.NewSince(baseline), nil
}

func writeFindings(rep *validate.Report, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create findings file: %w", err)
	}
	if err := rep.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// indexStage purges superseded rows, builds indexes and compacts the file
type indexStage struct{}

func (indexStage) Name() string { return StageIndex }

func (indexStage) Run(ctx context.Context, rc *RunContext) error {
	cfg := rc.Config
	st := rc.Store
	log := logger.Stage(StageIndex)

	if cfg.Purge {
		n, err := st.PurgeSuperseded(ctx)
		if err != nil {
			return err
		}
		rc.Stats.Purged = n
	}

	scopes := store.AllScopes
	if len(cfg.IndexScopes) > 0 {
		scopes = scopes[:0:0]
		for _, name := range cfg.IndexScopes {
			scope, err := store.ParseScope(name)
			if err != nil {
				return err
			}
			scopes = append(scopes, scope)
		}
	}
	for i, scope := range scopes {
		if rc.Cancelled() {
			return ErrCancelled
		}
		start := time.Now()
		if err := st.CreateIndexes(ctx, scope); err != nil {
			return err
		}
		log.Debug("Index scope built", zap.String("scope", string(scope)), zap.Duration("duration", time.Since(start)))
		rc.Emit(Progress{Stage: StageIndex, Current: int64(i + 1), Total: int64(len(scopes)),
			Text: fmt.Sprintf("Creating %s indexes", scope)})
	}

	if err := st.Analyze(ctx); err != nil {
		return err
	}
	if err := st.SetMetadata(ctx, store.MetaCompiledAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	if err := st.SetMetadata(ctx, store.MetaSourceCount, fmt.Sprint(rc.Stats.Sources)); err != nil {
		return err
	}
	if err := st.SetState(ctx, store.StateIndexed); err != nil {
		return err
	}
	if cfg.Vacuum {
		rc.Emit(Progress{Stage: StageIndex, Current: int64(len(scopes)), Total: int64(len(scopes)), Text: "Compacting database"})
		return st.Vacuum(ctx)
	}
	return nil
}
