package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isceproc/isceproc/pkg/engine"
	"github.com/isceproc/isceproc/pkg/isce"
	"github.com/isceproc/isceproc/pkg/runner"
	"github.com/isceproc/isceproc/pkg/runner/runnertest"
	"github.com/isceproc/isceproc/pkg/runfiles"
	"github.com/isceproc/isceproc/pkg/stores"
)

type recordingExecutor struct {
	mu      sync.Mutex
	files   []string
	workers []int
	failOn  string
}

func (e *recordingExecutor) Execute(_ context.Context, file string, workers int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files = append(e.files, filepath.Base(file))
	e.workers = append(e.workers, workers)
	if e.failOn != "" && strings.HasSuffix(file, e.failOn) {
		return engine.NewPermanentError(e.failOn+" failed", nil).WithCode(engine.ErrCodeCommandFailed)
	}
	return nil
}

var topsRunFiles = map[string]string{
	"run_01_unpack_topo_reference": "SentinelWrapper.py -c configs/config_reference\n",
	"run_02_unpack_secondary_slc":  "SentinelWrapper.py -c a\nSentinelWrapper.py -c b\nSentinelWrapper.py -c c\n",
	"run_03_average_baseline":      "SentinelWrapper.py -c a\nSentinelWrapper.py -c b\n",
	"run_10_fullBurst_geo2rdr":     "SentinelWrapper.py -c a\nSentinelWrapper.py -c b\nSentinelWrapper.py -c c\nSentinelWrapper.py -c d\n",
}

// writeProject writes a topsStack template with an existing DEM into a
// fresh processing directory.
func writeProject(t *testing.T, extra string) *Project {
	t.Helper()
	dir := t.TempDir()
	dem := filepath.Join(dir, "DEM", "elevation.dem.wgs84")
	require.NoError(t, os.MkdirAll(filepath.Dir(dem), 0755))
	require.NoError(t, os.WriteFile(dem, []byte("dem"), 0644))

	tmpl := filepath.Join(dir, "AtacamaSenAT120.template")
	content := fmt.Sprintf(`##------------ isce ------------##
isce.processor     = topsStack
isce.demFile       = %s
isce.boundingBox   = -24.2, -23.1, -69.5, -68.2
isce.numProcess    = 8
ssaraopt.platform  = SENTINEL-1A,SENTINEL-1B
ssaraopt.relativeOrbit = 120
mintpy.load.processor = isce
%s`, dem, extra)
	require.NoError(t, os.WriteFile(tmpl, []byte(content), 0644))

	p, err := Load(tmpl, dir)
	require.NoError(t, err)
	return p
}

// writeRunFiles simulates stackSentinel.py.
func writeRunFiles(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, runfiles.ConfigDir), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, runfiles.Dir), 0755))
	for name, content := range topsRunFiles {
		require.NoError(t, os.WriteFile(filepath.Join(dir, runfiles.Dir, name), []byte(content), 0755))
	}
}

func newBuilder(rec runner.Runner, exec runner.RunFileExecutor) *Builder {
	return &Builder{
		Runner:   rec,
		Executor: exec,
		Env:      &isce.Environment{StackDir: "/opt/isce2/contrib/stack", OMPThreads: 4, Path: "/usr/bin"},
		Settle:   time.Hour,
	}
}

func stepIDs(steps []*engine.Step) []string {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	return ids
}

func TestStackStages(t *testing.T) {
	tests := []struct {
		name       string
		run        bool
		start, end int
		want       []engine.Stage
	}{
		{"prepare only", false, 0, 0, []engine.Stage{engine.StageDEM, engine.StageRaw, engine.StageStack}},
		{"prepare and run", true, 0, 0, []engine.Stage{engine.StageDEM, engine.StageRaw, engine.StageStack, engine.StageRunFiles}},
		{"end implies run", false, 0, 5, []engine.Stage{engine.StageDEM, engine.StageRaw, engine.StageStack, engine.StageRunFiles}},
		{"start skips preparation", false, 3, 0, []engine.Stage{engine.StageRunFiles}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StackStages(tt.run, tt.start, tt.end))
		})
	}
}

func TestPipelineStagesAndParse(t *testing.T) {
	got := PipelineStages([]engine.Stage{engine.StageDownload, engine.StageTimeseries})
	assert.Equal(t, []engine.Stage{engine.StageDEM, engine.StageRaw, engine.StageStack, engine.StageRunFiles}, got)

	s, err := ParseStage("run_files")
	require.NoError(t, err)
	assert.Equal(t, engine.StageRunFiles, s)

	_, err = ParseStage("unwrap")
	assert.Equal(t, engine.ErrCodeValidation, engine.CodeOf(err))
}

func TestBuild_TopsSkipsRaw(t *testing.T) {
	p := writeProject(t, "")
	plan, err := newBuilder(&runnertest.Recorder{}, &recordingExecutor{}).Build(p, Request{
		Command: "pipeline",
		Stages:  PipelineStages(nil),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"download", "dem", "stack", "run_files", "timeseries"}, stepIDs(plan.Steps))
	assert.Equal(t, "AtacamaSenAT120", plan.Project)
	assert.Equal(t, []string{"stack"}, plan.Steps[3].Dependencies)
	assert.Empty(t, plan.Steps[0].Dependencies)

	var buf strings.Builder
	b := engine.NewDAGBuilder()
	_, err = b.BuildGraph(plan.Steps)
	require.NoError(t, err)
	require.NoError(t, b.WriteDOT(&buf))
	assert.Contains(t, buf.String(), "run_files")
}

func TestBuild_NothingSelected(t *testing.T) {
	p := writeProject(t, "")
	b := newBuilder(&runnertest.Recorder{}, &recordingExecutor{})

	_, err := b.Build(p, Request{Command: "stack"})
	assert.Equal(t, engine.ErrCodeValidation, engine.CodeOf(err))

	_, err = b.Build(p, Request{Command: "stack", Stages: []engine.Stage{engine.StageRaw}})
	assert.Equal(t, engine.ErrCodeValidation, engine.CodeOf(err))
}

func TestBuild_InvalidTimeseriesStep(t *testing.T) {
	p := writeProject(t, "")
	_, err := newBuilder(&runnertest.Recorder{}, &recordingExecutor{}).Build(p, Request{
		Command:          "timeseries",
		Stages:           []engine.Stage{engine.StageTimeseries},
		TimeseriesDoStep: "unwrap",
	})
	assert.Equal(t, engine.ErrCodeValidation, engine.CodeOf(err))
}

func TestExecute_StackAndRunFiles(t *testing.T) {
	p := writeProject(t, "")
	rec := &runnertest.Recorder{Hook: func(cmd runner.Command) error {
		if strings.HasSuffix(cmd.Name, "stackSentinel.py") {
			writeRunFiles(t, cmd.Dir)
		}
		return nil
	}}
	exec := &recordingExecutor{}

	plan, err := newBuilder(rec, exec).Build(p, Request{
		Command: "stack",
		Stages:  StackStages(false, 0, 3),
		End:     3,
	})
	require.NoError(t, err)

	run, err := engine.NewScheduler(nil, nil).Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, engine.RunStatusSucceeded, run.Status)

	// The DEM exists, so only the stack generator runs.
	require.Len(t, rec.Commands(), 1)
	assert.Equal(t, "/opt/isce2/contrib/stack/topsStack/stackSentinel.py", rec.Commands()[0].Name)

	want := []string{"run_01_unpack_topo_reference", "run_02_unpack_secondary_slc", "run_03_average_baseline"}
	if diff := cmp.Diff(want, exec.files); diff != "" {
		t.Errorf("executed run files mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int{1, 3, 2}, exec.workers)
	assert.Equal(t, 3+3, run.Summary.Total)
}

func TestExecute_StartRunsSelectedFilesOnly(t *testing.T) {
	p := writeProject(t, "")
	writeRunFiles(t, p.Dir)
	rec := &runnertest.Recorder{}
	exec := &recordingExecutor{}

	plan, err := newBuilder(rec, exec).Build(p, Request{
		Command: "stack",
		Stages:  StackStages(false, 4, 0),
		Start:   4,
	})
	require.NoError(t, err)

	_, err = engine.NewScheduler(nil, nil).Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Empty(t, rec.Commands())
	assert.Equal(t, []string{"run_10_fullBurst_geo2rdr"}, exec.files)
	// geo2rdr shares numProcess among the OpenMP threads: ceil(8/4).
	assert.Equal(t, []int{2}, exec.workers)
}

func TestExecute_FailedRunFileSkipsTheRest(t *testing.T) {
	p := writeProject(t, "")
	writeRunFiles(t, p.Dir)
	exec := &recordingExecutor{failOn: "run_02_unpack_secondary_slc"}

	plan, err := newBuilder(&runnertest.Recorder{}, exec).Build(p, Request{
		Command: "pipeline",
		Stages:  []engine.Stage{engine.StageRunFiles, engine.StageTimeseries},
	})
	require.NoError(t, err)

	run, err := engine.NewScheduler(nil, nil).Execute(context.Background(), plan)
	require.Error(t, err)
	assert.Equal(t, engine.RunStatusFailed, run.Status)
	assert.Equal(t, []string{"run_01_unpack_topo_reference", "run_02_unpack_secondary_slc"}, exec.files)
	assert.Equal(t, 1, run.Summary.Failed)
	// run_03, run_10 and timeseries.
	assert.Equal(t, 3, run.Summary.Skipped)
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	p := writeProject(t, "")
	writeRunFiles(t, p.Dir)

	store, err := stores.Open(ctx, stores.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = Resume(ctx, store, p)
	assert.Equal(t, engine.ErrCodeNotFound, engine.CodeOf(err))

	exec := &recordingExecutor{failOn: "run_03_average_baseline"}
	b := newBuilder(&runnertest.Recorder{}, exec)
	plan, err := b.Build(p, Request{Command: "stack", Stages: StackStages(false, 1, 0), Start: 1})
	require.NoError(t, err)
	_, err = engine.NewScheduler(engine.NewStoreState(store), nil).Execute(ctx, plan)
	require.Error(t, err)

	point, err := Resume(ctx, store, p)
	require.NoError(t, err)
	assert.Equal(t, engine.StageRunFiles, point.Stage)
	assert.Equal(t, "run_03_average_baseline", point.RunFile)
	assert.Equal(t, 3, point.Start)
	assert.Zero(t, point.End)
	assert.Equal(t, "stack", point.Command)
	assert.Equal(t, []engine.Stage{engine.StageRunFiles}, point.Stages())

	exec.failOn = ""
	exec.files = nil
	plan, err = b.Build(p, point.Request())
	require.NoError(t, err)
	_, err = engine.NewScheduler(engine.NewStoreState(store), nil).Execute(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"run_03_average_baseline", "run_10_fullBurst_geo2rdr"}, exec.files)
}

type fakeHistory struct {
	run   *stores.Run
	steps []*stores.Step
}

func (h *fakeHistory) LatestRun(context.Context, string, string, string) (*stores.Run, error) {
	if h.run == nil {
		return nil, fmt.Errorf("none: %w", stores.ErrNotFound)
	}
	return h.run, nil
}

func (h *fakeHistory) ListSteps(context.Context, string) ([]*stores.Step, error) {
	return h.steps, nil
}

func TestResume_FailedBeforeRunFiles(t *testing.T) {
	p := writeProject(t, "")
	h := &fakeHistory{
		run: &stores.Run{ID: "r1", Status: "failed"},
		steps: []*stores.Step{
			{ID: "dem", Stage: "dem", Status: "succeeded"},
			{ID: "stack", Stage: "stack", Status: "failed"},
			{ID: "run_files", Stage: "run_files", Status: "skipped"},
		},
	}

	point, err := Resume(context.Background(), h, p)
	require.NoError(t, err)
	assert.Equal(t, engine.StageStack, point.Stage)
	assert.Zero(t, point.Start)
	assert.Equal(t, []engine.Stage{engine.StageStack, engine.StageRunFiles}, point.Stages())
}

func TestResume_PipelineFailedInTimeseries(t *testing.T) {
	p := writeProject(t, "")
	writeRunFiles(t, p.Dir)
	h := &fakeHistory{
		run: &stores.Run{ID: "r1", Command: "pipeline", Status: "failed"},
		steps: []*stores.Step{
			{ID: "download", Stage: "download", Status: "succeeded"},
			{ID: "dem", Stage: "dem", Status: "succeeded"},
			{ID: "stack", Stage: "stack", Status: "succeeded"},
			{ID: "run_files", Stage: "run_files", Status: "succeeded"},
			{ID: "run_files/run_01_unpack_topo_reference", Name: "run_01_unpack_topo_reference", Stage: "run_files", Status: "succeeded"},
			{ID: "run_files/run_10_fullBurst_geo2rdr", Name: "run_10_fullBurst_geo2rdr", Stage: "run_files", Status: "succeeded"},
			{ID: "timeseries", Stage: "timeseries", Status: "failed"},
		},
	}

	point, err := Resume(context.Background(), h, p)
	require.NoError(t, err)
	assert.Equal(t, engine.StageTimeseries, point.Stage)
	assert.Zero(t, point.Start)

	req := point.Request()
	assert.Equal(t, "pipeline", req.Command)
	assert.Equal(t, []engine.Stage{engine.StageTimeseries}, req.Stages)

	b := newBuilder(&runnertest.Recorder{}, &recordingExecutor{})
	plan, err := b.Build(p, req)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "timeseries", plan.Steps[0].ID)
}

func TestResume_PipelineFailedInDownload(t *testing.T) {
	p := writeProject(t, "")
	h := &fakeHistory{
		run: &stores.Run{ID: "r1", Command: "pipeline", Status: "failed"},
		steps: []*stores.Step{
			{ID: "download", Stage: "download", Status: "failed"},
			{ID: "dem", Stage: "dem", Status: "skipped"},
			{ID: "stack", Stage: "stack", Status: "skipped"},
			{ID: "run_files", Stage: "run_files", Status: "skipped"},
		},
	}

	point, err := Resume(context.Background(), h, p)
	require.NoError(t, err)
	assert.Equal(t, engine.StageDownload, point.Stage)
	assert.Equal(t, []engine.Stage{
		engine.StageDownload, engine.StageDEM, engine.StageStack, engine.StageRunFiles,
	}, point.Stages())
}

func TestResume_KeepsEndOfFailedRun(t *testing.T) {
	p := writeProject(t, "")
	writeRunFiles(t, p.Dir)
	h := &fakeHistory{
		run: &stores.Run{ID: "r1", Command: "stack", Status: "failed"},
		steps: []*stores.Step{
			{ID: "run_files", Stage: "run_files", Status: "succeeded"},
			{ID: "run_files/run_02_unpack_secondary_slc", Name: "run_02_unpack_secondary_slc", Stage: "run_files", Status: "failed"},
			{ID: "run_files/run_03_average_baseline", Name: "run_03_average_baseline", Stage: "run_files", Status: "skipped"},
		},
	}

	point, err := Resume(context.Background(), h, p)
	require.NoError(t, err)
	assert.Equal(t, 2, point.Start)
	assert.Equal(t, 3, point.End)

	exec := &recordingExecutor{}
	b := newBuilder(&runnertest.Recorder{}, exec)
	plan, err := b.Build(p, point.Request())
	require.NoError(t, err)
	_, err = engine.NewScheduler(nil, nil).Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"run_02_unpack_secondary_slc", "run_03_average_baseline"}, exec.files)
}

func TestResume_Errors(t *testing.T) {
	p := writeProject(t, "")

	_, err := Resume(context.Background(), &fakeHistory{
		run:   &stores.Run{ID: "r1"},
		steps: []*stores.Step{{ID: "dem", Stage: "dem", Status: "succeeded"}},
	}, p)
	assert.Equal(t, engine.ErrCodeNotFound, engine.CodeOf(err))

	writeRunFiles(t, p.Dir)
	_, err = Resume(context.Background(), &fakeHistory{
		run:   &stores.Run{ID: "r1"},
		steps: []*stores.Step{{ID: "run_files/run_09_gone", Name: "run_09_gone", Stage: "run_files", Status: "failed"}},
	}, p)
	assert.Equal(t, engine.ErrCodeNotFound, engine.CodeOf(err))

	_, err = Resume(context.Background(), &fakeHistory{
		run:   &stores.Run{ID: "r1"},
		steps: []*stores.Step{{ID: "run_files/run_09_gone", Name: "run_09_gone", Stage: "run_files", Status: "failed"}},
	}, &Project{Options: p.Options, Dir: t.TempDir()})
	require.Error(t, err)
	assert.False(t, errors.Is(err, stores.ErrNotFound))
}

func TestNewExecutor(t *testing.T) {
	env := &isce.Environment{StackDir: "/opt/isce2/contrib/stack", OMPThreads: 1, Path: "/usr/bin"}
	local := &runnertest.Recorder{}

	e, err := NewExecutor("native", local, nil, env, "topsStack", "/bin/bash")
	require.NoError(t, err)
	native, ok := e.(*runner.Native)
	require.True(t, ok)
	assert.Equal(t, "/bin/bash", native.Shell)
	assert.Equal(t, []string{"PATH=/usr/bin:/opt/isce2/contrib/stack/topsStack"}, native.Env)

	e, err = NewExecutor("runpy", local, nil, env, "stripmapStack", "/bin/bash")
	require.NoError(t, err)
	assert.Equal(t, "/opt/isce2/contrib/stack/topsStack/run.py", e.(*runner.RunPy).Script)

	_, err = NewExecutor("runpy", local, nil, &isce.Environment{}, "topsStack", "/bin/bash")
	assert.Equal(t, engine.ErrCodeNotFound, engine.CodeOf(err))

	_, err = NewExecutor("ssh", local, nil, env, "topsStack", "/bin/bash")
	assert.Error(t, err)

	_, err = NewExecutor("slurm", local, nil, env, "topsStack", "/bin/bash")
	assert.Error(t, err)
}
