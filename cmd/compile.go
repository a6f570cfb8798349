package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/navcompile-go/internal/config"
	"github.com/wegman-software/navcompile-go/internal/diag"
	"github.com/wegman-software/navcompile-go/internal/logger"
	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/pipeline"
)

var (
	bboxStr    string
	keepSchema bool
	noPurge    bool
	noVacuum   bool
	showReport int
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile scenery and navdata sources into the navigation database",
	Long: `Run the full compile pipeline:

  1. locate   - find scenery areas and count their files
  2. read     - decode BGL, X-Plane and OSM sources into the database
  3. merge    - combine co-located VOR and TACAN stations into VORTACs
  4. resolve  - resolve airway segments into route edges
  5. validate - check referential integrity and duplicates
  6. index    - create indexes, purge superseded rows and vacuum

Sources come from flags and the compile profile (--config). Interrupting the
run leaves the database marked incomplete.`,
	Run: runCompile,
}

func init() {
	rootCmd.AddCommand(compileCmd)

	f := compileCmd.Flags()
	f.StringVar(&cfg.SceneryConfig, "scenery-cfg", "", "FSX/P3D scenery.cfg scenery library")
	f.StringVar(&cfg.SimRoot, "sim-root", "", "Simulator root for relative scenery.cfg paths")
	f.StringSliceVar(&cfg.Manifests, "manifest", nil, "scenery_packs.ini style manifest (repeatable)")
	f.StringSliceVar(&cfg.SceneryDirs, "scenery", nil, "Additional scenery directory (repeatable)")
	f.StringSliceVar(&cfg.XPlaneDirs, "xplane", nil, "Directory holding earth_*.dat navdata tables (repeatable)")
	f.StringSliceVar(&cfg.OSMFiles, "osm", nil, "OSM extract with aerodromes, .osm or .osm.pbf (repeatable)")

	f.StringVarP(&bboxStr, "bbox", "b", "", "Bounding box filter: minlon,minlat,maxlon,maxlat")
	f.StringVar(&cfg.FilterFile, "filter", "", "Filter profile YAML")
	f.StringVar(&cfg.ScriptFile, "script", "", "Lua prep script or compiled .nvps artifact")
	f.StringSliceVar(&cfg.IndexScopes, "index", nil, "Index scopes to build (airport, search, boundary, route); default all")
	f.StringVar(&cfg.FindingsCSV, "findings", "", "Write validation findings to this CSV file")
	f.StringVar(&cfg.BaselineCSV, "baseline", "", "Only report findings missing from this CSV file")

	f.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Records per write transaction")
	f.IntVar(&cfg.BatchRetries, "batch-retries", cfg.BatchRetries, "Retries of a failed write batch")
	f.IntVar(&cfg.MaxErrorsPerFile, "max-file-errors", cfg.MaxErrorsPerFile, "Stop reading a file after this many errors")
	f.IntVar(&cfg.StageErrors, "max-stage-errors", cfg.StageErrors, "Abort a stage after this many errors")
	f.Float64Var(&cfg.TieToleranceNM, "tie-tolerance", cfg.TieToleranceNM, "Distance in NM under which airway endpoint candidates tie")

	f.BoolVar(&keepSchema, "keep-existing", false, "Keep the existing schema instead of recreating it")
	f.BoolVar(&noPurge, "no-purge", false, "Keep superseded navaid rows")
	f.BoolVar(&noVacuum, "no-vacuum", false, "Skip VACUUM after indexing")
	f.IntVar(&showReport, "report", 20, "Number of diagnostics to print after the run")
}

func runCompile(cmd *cobra.Command, args []string) {
	log := logger.Get()

	if bboxStr != "" {
		bbox, err := config.ParseBBox(bboxStr)
		if err != nil {
			exitWithError("invalid bbox", err)
		}
		cfg.BBox = bbox
	}
	if keepSchema {
		cfg.DropExisting = false
	}
	if noPurge {
		cfg.Purge = false
	}
	if noVacuum {
		cfg.Vacuum = false
	}
	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	logFields := []zap.Field{
		zap.String("database", cfg.Database),
		zap.Int("workers", cfg.Workers),
		zap.Int("batch_size", cfg.BatchSize),
	}
	if cfg.SceneryConfig != "" {
		logFields = append(logFields, zap.String("scenery_cfg", cfg.SceneryConfig))
	}
	if n := len(cfg.Manifests) + len(cfg.SceneryDirs) + len(cfg.XPlaneDirs) + len(cfg.OSMFiles); n > 0 {
		logFields = append(logFields, zap.Int("source_paths", n))
	}
	if cfg.BBox != nil && cfg.BBox.IsSet {
		logFields = append(logFields, zap.String("bbox", cfg.BBox.String()))
	}
	if cfg.ScriptFile != "" {
		logFields = append(logFields, zap.String("script", cfg.ScriptFile))
	}
	log.Info("Starting navdata compile", logFields...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord := pipeline.NewCoordinator(cfg)
	done := make(chan struct{})
	go func() {
		defer close(done)
		renderProgress(coord.Progress())
	}()

	res, err := coord.Run(ctx)
	<-done

	if res != nil {
		printSummary(res)
	}
	switch {
	case err == nil:
	case pipeline.Cancelled(err):
		log.Warn("Compile cancelled, database left incomplete", zap.String("database", cfg.Database))
		logger.Sync()
		os.Exit(130)
	default:
		var abort *pipeline.AbortError
		if errors.As(err, &abort) && abort.Last.Message != "" {
			log.Error("Last error", abort.Last.Fields()...)
		}
		exitWithError("compile failed", err)
	}
}

// renderProgress logs stage changes and debug progress until ch is closed
func renderProgress(ch <-chan pipeline.Progress) {
	log := logger.Get()
	stage := ""
	stageStart := time.Now()
	for p := range ch {
		if p.Stage != stage {
			if stage != "" {
				log.Info("Stage complete", zap.String("stage", stage),
					zap.Duration("duration", time.Since(stageStart).Round(time.Millisecond)))
			}
			stage, stageStart = p.Stage, time.Now()
			log.Info(p.Text, zap.String("stage", p.Stage))
			continue
		}
		fields := []zap.Field{zap.String("stage", p.Stage)}
		if pct := p.Percent(); pct >= 0 {
			fields = append(fields, zap.String("progress", fmt.Sprintf("%.1f%%", pct)))
		}
		log.Debug(p.Text, fields...)
	}
}

func printSummary(res *pipeline.Result) {
	log := logger.Get()
	st := res.Stats

	log.Info("Compile finished",
		zap.String("state", string(res.State)),
		zap.String("airac_cycle", res.Cycle),
		zap.Duration("total_time", res.Duration.Round(time.Second)),
		zap.Int("areas", st.UsableAreas),
		zap.Int("files", st.Files),
		zap.String("records", humanize.Comma(st.TotalRecords())),
		zap.Int64("airports", st.Records[navdata.KindAirport]),
		zap.Int64("navaids", st.Records[navdata.KindNavaid]),
		zap.Int("vortacs_merged", st.Merged),
		zap.Int64("route_edges", st.Route.Edges),
		zap.Int64("radio_edges", st.Route.RadioEdges),
		zap.Int64("segments_dropped", st.Route.Dropped),
		zap.Int64("filtered", st.Filtered+st.ScriptDropped),
		zap.Int64("skipped", st.Skipped),
		zap.Int64("purged", st.Purged),
		zap.Int("findings", st.Findings),
	)
	if res.Metrics.Samples > 0 {
		log.Info("Resource usage",
			zap.String("peak_rss", humanize.IBytes(res.Metrics.PeakRSSBytes)),
			zap.String("peak_cpu", fmt.Sprintf("%.1f%%", res.Metrics.PeakCPU)),
			zap.String("database_size", humanize.Bytes(uint64(max(res.Metrics.DatabaseBytes, 0)))),
		)
	}

	counts := make(map[diag.Severity]int)
	for _, d := range res.Diagnostics {
		counts[d.Severity]++
	}
	if len(res.Diagnostics) == 0 {
		return
	}
	log.Info("Diagnostics",
		zap.Int("errors", counts[diag.Error]+counts[diag.Fatal]),
		zap.Int("warnings", counts[diag.Warning]),
		zap.Int("info", counts[diag.Info]))

	shown := 0
	for _, d := range res.Diagnostics {
		if shown >= showReport {
			break
		}
		if d.Severity < diag.Warning {
			continue
		}
		log.Log(d.Level(), d.Message, d.Fields()...)
		shown++
	}
	if rest := counts[diag.Warning] + counts[diag.Error] + counts[diag.Fatal] - shown; rest > 0 {
		log.Info(fmt.Sprintf("%d more diagnostics not shown, see --log-file for the full list", rest))
	}
}
