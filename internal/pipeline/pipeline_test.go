package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/navcompile-go/internal/config"
	"github.com/wegman-software/navcompile-go/internal/diag"
	"github.com/wegman-software/navcompile-go/internal/navdata"
	"github.com/wegman-software/navcompile-go/internal/store"
)

const fixData = `I
1101 Version - data cycle 2311, build 20231101, metadata FixXP1101.

  47.632528  -122.389528 NOLLA ENRT K1 2115159
  47.435389  -122.309611 ALKIA KSEA K1 4530263
99
`

const navData = `I
1150 Version - data cycle 2311, build 20231101, metadata NavXP1150.

 2  47.63252778 -122.38952778      0   362  50    0.000   BF ENRT K1 NOLLA LMM NDB
 3  47.43538889 -122.30961111    354 11680 130   19.000  SEA ENRT K1 SEATTLE VORTAC
12  47.43538889 -122.30961111    354 11680 130    0.000  SEA ENRT K1 SEATTLE VORTAC DME
 3  46.97000000 -122.90000000    100 11320 130   18.000  OLM ENRT K1 OLYMPIA VOR-DME
99
`

const awyData = `I
1100 Version - data cycle 2311, build 20231101, metadata AwyXP1100.

NOLLA K1 11 SEA K1 3 N 1 20 180 V2
SEA K1 3 OLM K1 3 F 2 180 450 J5
GHOST K1 11 SEA K1 3 N 1 20 180 V9
99
`

func writeXPlane(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, data := range map[string]string{
		"earth_fix.dat": fixData,
		"earth_nav.dat": navData,
		"earth_awy.dat": awyData,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database = filepath.Join(t.TempDir(), "navdata.sqlite")
	cfg.Workers = 2
	cfg.MetricsInterval = 0
	return cfg
}

// stageFunc adapts a function to Stage
type stageFunc struct {
	name string
	fn   func(ctx context.Context, rc *RunContext) error
}

func (s stageFunc) Name() string                                  { return s.name }
func (s stageFunc) Run(ctx context.Context, rc *RunContext) error { return s.fn(ctx, rc) }

func TestCompileXPlane(t *testing.T) {
	cfg := testConfig(t)
	cfg.XPlaneDirs = []string{writeXPlane(t)}
	findings := filepath.Join(t.TempDir(), "findings.csv")
	cfg.FindingsCSV = findings

	c := NewCoordinator(cfg)
	done := make(chan []Progress)
	go func() {
		var seen []Progress
		for p := range c.Progress() {
			seen = append(seen, p)
		}
		done <- seen
	}()

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	updates := <-done

	assert.Equal(t, store.StateIndexed, res.State)
	assert.Equal(t, "2311", res.Cycle)
	assert.Equal(t, int64(6), res.Stats.Records[navdata.KindNavaid])
	assert.Equal(t, int64(3), res.Stats.Segments)
	assert.Equal(t, 1, res.Stats.Merged)
	assert.Equal(t, int64(3), res.Stats.Route.Edges)
	assert.Equal(t, int64(1), res.Stats.Route.RadioEdges)
	assert.Equal(t, int64(1), res.Stats.Route.Dropped)
	assert.Equal(t, int64(2), res.Stats.Purged)
	require.NotNil(t, res.Findings)
	assert.False(t, res.Findings.Fatal())
	assert.NotEmpty(t, updates)

	var dropped bool
	for _, d := range res.Diagnostics {
		if d.Stage == StageResolve && d.Severity == diag.Error && strings.Contains(d.Message, "GHOST") {
			dropped = true
			assert.Equal(t, 6, d.Line)
			assert.True(t, strings.HasSuffix(d.File, "earth_awy.dat"), d.File)
		}
	}
	assert.True(t, dropped, "unresolvable segment is reported")

	_, err = os.Stat(findings)
	assert.NoError(t, err)

	st, err := store.Open(cfg.Database, store.DefaultOptions())
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	cycle, err := st.Metadata(ctx, store.MetaAiracCycle)
	require.NoError(t, err)
	assert.Equal(t, "2311", cycle)

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[store.TableRouteEdge])
	assert.Equal(t, int64(1), counts[store.TableRouteEdgeRadio])
	assert.Equal(t, int64(5), counts[store.TableNavaid], "superseded rows are purged")

	indexes, err := st.Indexes(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, indexes)
}

func TestNoSourcesAborts(t *testing.T) {
	cfg := testConfig(t)
	cfg.SceneryDirs = []string{filepath.Join(t.TempDir(), "missing")}

	res, err := NewCoordinator(cfg).Run(context.Background())
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, StageLocate, abort.Stage)
	assert.Equal(t, 1, abort.Errors)
	assert.Equal(t, diag.Access, abort.Last.Category)
	require.NotNil(t, res)
	assert.Equal(t, store.StateIncomplete, res.State)
	assert.Equal(t, 1, res.Stats.Areas)
	assert.Zero(t, res.Stats.UsableAreas)
}

func TestReadBudgetAbortsStage(t *testing.T) {
	dir := writeXPlane(t)
	garbage := "I\n1101 Version - data cycle 2311, build 20231101, metadata FixXP1101.\n\n" +
		strings.Repeat("not a fix\n", 10) + "99\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "earth_fix.dat"), []byte(garbage), 0o644))

	cfg := testConfig(t)
	cfg.XPlaneDirs = []string{dir}
	cfg.MaxErrorsPerFile = 3

	res, err := NewCoordinator(cfg).Run(context.Background())
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, StageRead, abort.Stage)
	// three budgeted errors, the one that trips the budget, and the stop
	assert.Equal(t, 5, abort.Errors)
	assert.Equal(t, diag.Resource, abort.Last.Category)
	assert.Equal(t, diag.Fatal, abort.Last.Severity)
	assert.Contains(t, abort.Last.Message, "too many errors reading")
	require.NotNil(t, res)
	assert.Equal(t, store.StateIncomplete, res.State)
}

func TestKeepExistingRerun(t *testing.T) {
	cfg := testConfig(t)
	cfg.XPlaneDirs = []string{writeXPlane(t)}

	_, err := NewCoordinator(cfg).Run(context.Background())
	require.NoError(t, err)

	cfg.DropExisting = false
	res, err := NewCoordinator(cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.StateIndexed, res.State)
	assert.Equal(t, 1, res.Stats.Merged)
	assert.Equal(t, int64(3), res.Stats.Route.Edges)
	assert.Equal(t, int64(1), res.Stats.Route.Dropped)

	st, err := store.Open(cfg.Database, store.DefaultOptions())
	require.NoError(t, err)
	defer st.Close()

	counts, err := st.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), counts[store.TableNavaid], "rerun does not duplicate rows")
	assert.Equal(t, int64(3), counts[store.TableRouteEdge])
	assert.Equal(t, int64(1), counts[store.TableRouteEdgeRadio])
}

func TestCancelledBeforeStart(t *testing.T) {
	cfg := testConfig(t)
	cfg.XPlaneDirs = []string{writeXPlane(t)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCoordinator(cfg).Run(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.True(t, Cancelled(err))
}

func TestCancelStopsLaterStages(t *testing.T) {
	cfg := testConfig(t)
	ran := false

	c := NewCoordinator(cfg)
	c.stages = []Stage{
		stageFunc{"first", func(ctx context.Context, rc *RunContext) error {
			rc.Cancel()
			return nil
		}},
		stageFunc{"second", func(ctx context.Context, rc *RunContext) error {
			ran = true
			return nil
		}},
	}
	res, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.False(t, ran)
	require.NotNil(t, res)
	assert.Equal(t, store.StateIncomplete, res.State)
}

func TestStageAborts(t *testing.T) {
	tests := []struct {
		name        string
		stageErrors int
		fn          func(ctx context.Context, rc *RunContext) error
		wantErrors  int
		wantLast    string
	}{
		{
			name:        "error threshold",
			stageErrors: 2,
			fn: func(ctx context.Context, rc *RunContext) error {
				for _, f := range []string{"a.bgl", "b.bgl", "c.bgl"} {
					rc.Ledger().Errorf(diag.Format, f, 0, "bad record")
				}
				return nil
			},
			wantErrors: 3,
			wantLast:   "c.bgl",
		},
		{
			name: "fatal diagnostic",
			fn: func(ctx context.Context, rc *RunContext) error {
				rc.Ledger().Fatalf(diag.Finding, "route_edge", 0, "dangling edge")
				return nil
			},
			wantErrors: 1,
			wantLast:   "route_edge",
		},
		{
			name: "stage error",
			fn: func(ctx context.Context, rc *RunContext) error {
				rc.Ledger().Errorf(diag.Resource, "navdata.sqlite", 0, "disk full")
				return errors.New("write failed")
			},
			wantErrors: 1,
			wantLast:   "navdata.sqlite",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.StageErrors = tt.stageErrors
			ran := false

			c := NewCoordinator(cfg)
			c.stages = []Stage{
				stageFunc{StageValidate, tt.fn},
				stageFunc{StageIndex, func(context.Context, *RunContext) error {
					ran = true
					return nil
				}},
			}
			res, err := c.Run(context.Background())

			var abort *AbortError
			require.ErrorAs(t, err, &abort)
			assert.Equal(t, StageValidate, abort.Stage)
			assert.Equal(t, tt.wantErrors, abort.Errors)
			assert.Equal(t, tt.wantLast, abort.Last.File)
			assert.Contains(t, abort.Error(), "stage validate aborted")
			assert.False(t, ran, "later stages do not run")
			assert.Equal(t, store.StateIncomplete, res.State)
			assert.Len(t, res.Diagnostics, tt.wantErrors)
		})
	}
}

func TestPickCycle(t *testing.T) {
	ledger := diag.NewLedger(StageRead)
	if got := pickCycle(nil, ledger); got != "" {
		t.Errorf("pickCycle(nil) = %q, want empty", got)
	}
	if got := pickCycle([]string{"2311", "2311"}, ledger); got != "2311" {
		t.Errorf("pickCycle = %q, want 2311", got)
	}
	if ledger.Len() != 0 {
		t.Errorf("diagnostics = %d, want 0", ledger.Len())
	}
	if got := pickCycle([]string{"2310", "2311"}, ledger); got != "2311" {
		t.Errorf("pickCycle = %q, want 2311", got)
	}
	if ledger.Len() != 1 {
		t.Errorf("diagnostics = %d, want 1", ledger.Len())
	}
}

var (
	insertAirport = regexp.QuoteMeta("INSERT INTO airport")
	insertNavaid  = regexp.QuoteMeta("INSERT INTO navaid")
)

func mockRunContext(t *testing.T, retries int) (*RunContext, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.DefaultConfig()
	cfg.BatchSize = 2
	cfg.BatchRetries = retries
	return NewRunContext(cfg, store.New(db, store.Options{BatchSize: 2}), nil), mock
}

func TestLoaderDropsFailedRecord(t *testing.T) {
	rc, mock := mockRunContext(t, 3)
	ledger := rc.begin(StageRead)
	ld := newLoader(context.Background(), rc, ledger)

	mock.ExpectBegin()
	mock.ExpectExec(insertAirport).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(insertNavaid).WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(insertAirport).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, ld.Record(&navdata.Airport{Base: navdata.Base{Ident: "KSEA"}}))
	require.NoError(t, ld.Record(&navdata.Navaid{
		Base: navdata.Base{Ident: "SEA", Prov: navdata.Provenance{File: "earth_nav.dat", Line: 4}},
		Type: navdata.TypeVOR,
	}))
	require.NoError(t, ld.flush())

	assert.Equal(t, int64(1), rc.Stats.Skipped)
	assert.Equal(t, int64(1), ld.w.Written()[navdata.KindAirport])
	require.Equal(t, 1, ledger.Errors())
	last, _ := ledger.Last(diag.Error)
	assert.Equal(t, "earth_nav.dat", last.File)
	assert.Equal(t, 4, last.Line)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoaderGivesUp(t *testing.T) {
	rc, mock := mockRunContext(t, 1)
	ledger := rc.begin(StageRead)
	ld := newLoader(context.Background(), rc, ledger)

	for range 2 {
		mock.ExpectBegin()
		mock.ExpectExec(insertAirport).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit().WillReturnError(errors.New("database is locked"))
	}

	require.NoError(t, ld.Record(&navdata.Airport{Base: navdata.Base{Ident: "KSEA"}}))
	err := ld.flush()

	var be *store.BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, -1, be.Index)
	assert.Zero(t, ld.w.Pending())
	assert.Zero(t, rc.Stats.Skipped)
	assert.Equal(t, 1, ledger.Errors())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoaderStopsWhenCancelled(t *testing.T) {
	rc, _ := mockRunContext(t, 1)
	ld := newLoader(context.Background(), rc, rc.begin(StageRead))
	rc.Cancel()

	err := ld.Record(&navdata.Airport{})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Zero(t, ld.w.Pending())
}
