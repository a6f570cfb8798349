package osmapt

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"
	"go.uber.org/zap"

	"github.com/wegman-software/navcompile-go/internal/diag"
	"github.com/wegman-software/navcompile-go/internal/logger"
	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/reader"
)

const feetPerMeter = 3.28084

// scanner is the common surface of osmxml and osmpbf scanners
type scanner interface {
	Scan() bool
	Object() osm.Object
	Err() error
	Close() error
}

// Reader turns OpenStreetMap aerodrome nodes (aeroway=aerodrome with an
// icao tag) into airport records.
type Reader struct {
	files  []string
	opts   reader.Options
	ledger *diag.Ledger
}

// New creates a reader over .osm and .osm.pbf files
func New(files []string, opts reader.Options) *Reader {
	return &Reader{files: files, opts: opts, ledger: diag.NewLedger("read")}
}

// IsOSMFile reports whether name looks like an OSM extract
func IsOSMFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".osm") || strings.HasSuffix(lower, ".pbf")
}

func (r *Reader) Name() string              { return "osm" }
func (r *Reader) Files() []string           { return r.files }
func (r *Reader) Diagnostics() *diag.Ledger { return r.ledger }

// Read scans every file once
func (r *Reader) Read(ctx context.Context, emit reader.Emitter) error {
	log := logger.Get()
	r.ledger = diag.NewLedger("read")

	var records int64
	for i, path := range r.files {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.readFile(ctx, path, emit, &records, i)
		if err != nil {
			if reader.Stopped(err) || ctx.Err() != nil {
				return err
			}
			r.ledger.Add(diag.Diagnostic{Severity: diag.Error, Category: diag.Format, File: path, Message: err.Error()})
		}
		log.Debug("OSM file read", zap.String("file", path), zap.Int("airports", n))
		emit.Progress(reader.Progress{Reader: r.Name(), File: path, FilesDone: i + 1, FilesTotal: len(r.files), Records: records})
	}
	return nil
}

func (r *Reader) openScanner(ctx context.Context, path string, f io.Reader) scanner {
	if strings.HasSuffix(strings.ToLower(path), ".pbf") {
		s := osmpbf.New(ctx, f, runtime.NumCPU())
		s.SkipWays = true
		s.SkipRelations = true
		return s
	}
	return osmxml.New(ctx, f)
}

func (r *Reader) readFile(ctx context.Context, path string, emit reader.Emitter, total *int64, index int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	budget := reader.NewBudget(r.ledger, path, r.opts.MaxErrorsPerFile)
	s := r.openScanner(ctx, path, f)
	defer s.Close()

	count := 0
	for s.Scan() {
		node, ok := s.Object().(*osm.Node)
		if !ok {
			continue
		}
		if node.Tags.Find("aeroway") != "aerodrome" {
			continue
		}
		apt, err := toAirport(node, path)
		if err != nil {
			if !budget.Add(diag.Diagnostic{Severity: diag.Warning, Category: diag.Format, Message: err.Error()}) {
				return count, nil
			}
			continue
		}
		if apt == nil {
			continue
		}
		if err := emit.Record(apt); err != nil {
			return count, err
		}
		count++
		*total++
		if r.opts.ProgressEvery > 0 && *total%int64(r.opts.ProgressEvery) == 0 {
			emit.Progress(reader.Progress{Reader: r.Name(), File: path, FilesDone: index, FilesTotal: len(r.files), Records: *total})
		}
	}
	if err := s.Err(); err != nil {
		return count, fmt.Errorf("error scanning %s: %w", path, err)
	}
	return count, nil
}

// toAirport converts an aerodrome node. Nodes without an ICAO code are not
// airports the navdata knows about and return nil without error.
func toAirport(node *osm.Node, path string) (*navdata.Airport, error) {
	icao := strings.ToUpper(strings.TrimSpace(node.Tags.Find("icao")))
	if icao == "" {
		return nil, nil
	}
	if !validICAO(icao) {
		return nil, fmt.Errorf("node %d: invalid icao code %q", node.ID, icao)
	}

	pos := navdata.LatLon{Lat: node.Lat, Lon: node.Lon}
	if !pos.Valid() {
		return nil, fmt.Errorf("node %d: coordinates out of range %s", node.ID, pos)
	}

	apt := &navdata.Airport{
		Base: navdata.Base{
			Ident:  icao,
			Pos:    pos,
			Format: navdata.FormatOSM,
			Prov:   navdata.Provenance{File: path, Offset: int64(node.ID)},
		},
		Name: node.Tags.Find("name"),
	}
	if ele := node.Tags.Find("ele"); ele != "" {
		if m, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(ele), " m"), 64); err == nil {
			apt.ElevationFt = int(m*feetPerMeter + 0.5)
		}
	}
	return apt, nil
}

func validICAO(s string) bool {
	if len(s) < 3 || len(s) > 4 {
		return false
	}
	for _, c := range s {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
