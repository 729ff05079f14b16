// Package workflow turns a template into the processing plan executed by
// the engine scheduler.
//
// Each pipeline stage becomes one step depending on the stage before it.
// The run_files step expands at execution time into one step per run file,
// since the files only exist once the stack processor has written them.
package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/isceproc/isceproc/pkg/download"
	"github.com/isceproc/isceproc/pkg/engine"
	"github.com/isceproc/isceproc/pkg/isce"
	"github.com/isceproc/isceproc/pkg/runfiles"
	"github.com/isceproc/isceproc/pkg/runner"
	"github.com/isceproc/isceproc/pkg/telemetry"
	"github.com/isceproc/isceproc/pkg/template"
	"github.com/isceproc/isceproc/pkg/timeseries"
)

// Project is a template read and checked against a processing directory.
type Project struct {
	Values  template.Values
	Options *template.StackOptions

	// Dir is the absolute processing directory.
	Dir string
}

// Load reads the template at path, fills its defaults and converts it.
func Load(path, dir string) (*Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve template path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve processing directory: %w", err)
	}

	raw, err := template.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	values := template.FillDefaults(raw, template.Defaults())

	opts, err := template.Options(values, abs)
	if err != nil {
		return nil, err
	}
	return &Project{Values: values, Options: opts, Dir: absDir}, nil
}

// Request selects what a plan does.
type Request struct {
	// Command names the CLI command, recorded with the run.
	Command string

	// Stages to include, in any order. Stages that do not apply to the
	// processor are left out.
	Stages []engine.Stage

	// Start and End select run files, 1-based and inclusive; zero means
	// the first or last one.
	Start int
	End   int

	// Parallel is the number of concurrent downloads.
	Parallel int

	// MintPy step selection.
	TimeseriesStart  string
	TimeseriesEnd    string
	TimeseriesDoStep string
}

// Builder creates plans for one processing directory.
type Builder struct {
	Runner   runner.Runner
	Executor runner.RunFileExecutor
	Env      *isce.Environment
	Tel      *telemetry.Telemetry

	// MaxRetries applies to every step.
	MaxRetries int

	// StepTimeout bounds each attempt of a step; zero means no limit.
	StepTimeout time.Duration

	// Settle is the download watcher settle period.
	Settle time.Duration
}

// StackStages returns the stages of the stack command. A start step runs
// the existing run files only; otherwise the stack is prepared and its run
// files executed when run is set.
func StackStages(run bool, start, end int) []engine.Stage {
	if start > 0 {
		return []engine.Stage{engine.StageRunFiles}
	}
	stages := []engine.Stage{engine.StageDEM, engine.StageRaw, engine.StageStack}
	if run || end > 0 {
		stages = append(stages, engine.StageRunFiles)
	}
	return stages
}

// PipelineStages returns every stage except skip.
func PipelineStages(skip []engine.Stage) []engine.Stage {
	var stages []engine.Stage
	for _, s := range engine.Stages {
		if !slices.Contains(skip, s) {
			stages = append(stages, s)
		}
	}
	return stages
}

// ParseStage converts a stage name.
func ParseStage(name string) (engine.Stage, error) {
	for _, s := range engine.Stages {
		if string(s) == name {
			return s, nil
		}
	}
	return "", engine.NewPermanentError(
		fmt.Sprintf("unknown stage %q, valid stages: %v", name, engine.Stages), nil).
		WithCode(engine.ErrCodeValidation)
}

// Build creates the plan for p.
func (b *Builder) Build(p *Project, req Request) (*engine.Plan, error) {
	if len(req.Stages) == 0 {
		return nil, engine.NewPermanentError("nothing to do: no stages selected", nil).
			WithCode(engine.ErrCodeValidation)
	}

	plan := &engine.Plan{
		ID:           uuid.New().String(),
		Project:      p.Options.Project,
		TemplateFile: p.Options.TemplateFile,
		Command:      req.Command,
	}

	var prev *engine.Step
	for i, stage := range engine.Stages {
		if !slices.Contains(req.Stages, stage) {
			continue
		}
		if stage == engine.StageRaw && p.Options.IsTops() {
			continue
		}

		step, err := b.step(p, req, stage)
		if err != nil {
			return nil, err
		}
		step.ID = string(stage)
		step.Stage = stage
		step.Position = i
		step.MaxRetries = b.MaxRetries
		step.Timeout = b.StepTimeout
		if step.Workers == 0 {
			step.Workers = 1
		}
		if prev != nil {
			step.Dependencies = []string{prev.ID}
		}

		plan.Steps = append(plan.Steps, step)
		prev = step
	}

	if len(plan.Steps) == 0 {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("no selected stage applies to %s", p.Options.Processor), nil).
			WithCode(engine.ErrCodeValidation)
	}
	return plan, nil
}

func (b *Builder) step(p *Project, req Request, stage engine.Stage) (*engine.Step, error) {
	opts := p.Options

	switch stage {
	case engine.StageDownload:
		d := download.NewDownloader(b.Runner, b.Tel, b.Settle)
		return &engine.Step{
			Name: "download scenes",
			Action: func(ctx context.Context) error {
				_, err := d.Query(ctx, download.Options{
					Values:    p.Values,
					Processor: opts.Processor,
					Parallel:  req.Parallel,
					Dir:       p.Dir,
				})
				return err
			},
		}, nil

	case engine.StageDEM:
		driver, err := isce.NewDriver(b.Runner, b.Env, p.Dir)
		if err != nil {
			return nil, err
		}
		return &engine.Step{
			Name: "prepare DEM",
			Action: func(ctx context.Context) error {
				_, err := driver.PrepareDEM(ctx, opts)
				return err
			},
		}, nil

	case engine.StageRaw:
		driver, err := isce.NewDriver(b.Runner, b.Env, p.Dir)
		if err != nil {
			return nil, err
		}
		return &engine.Step{
			Name:    fmt.Sprintf("prepare %s data", opts.Sensor),
			Workers: opts.NumProcess,
			Action: func(ctx context.Context) error {
				return driver.PrepareRaw(ctx, opts, b.Executor)
			},
		}, nil

	case engine.StageStack:
		driver, err := isce.NewDriver(b.Runner, b.Env, p.Dir)
		if err != nil {
			return nil, err
		}
		return &engine.Step{
			Name: "generate run files",
			Action: func(ctx context.Context) error {
				return driver.PrepareStack(ctx, opts)
			},
		}, nil

	case engine.StageRunFiles:
		return &engine.Step{
			Name: "run files",
			Expand: func(ctx context.Context) ([]*engine.Step, error) {
				return b.runFileSteps(p, req.Start, req.End)
			},
		}, nil

	case engine.StageTimeseries:
		tsOpts := timeseries.Options{
			TemplateFile: opts.TemplateFile,
			Dir:          p.Dir,
			Start:        req.TimeseriesStart,
			End:          req.TimeseriesEnd,
			DoStep:       req.TimeseriesDoStep,
		}
		if _, err := timeseries.Args(tsOpts); err != nil {
			return nil, err
		}
		return &engine.Step{
			Name: "time-series inversion",
			Action: func(ctx context.Context) error {
				return timeseries.Invert(ctx, b.Runner, p.Values, tsOpts)
			},
		}, nil
	}

	return nil, fmt.Errorf("unknown stage %q", stage)
}

// runFileSteps creates one step per selected run file.
func (b *Builder) runFileSteps(p *Project, start, end int) ([]*engine.Step, error) {
	files, err := runfiles.Discover(p.Dir)
	if err != nil {
		return nil, err
	}
	selected, err := runfiles.Select(files, start, end)
	if err != nil {
		return nil, err
	}

	steps := make([]*engine.Step, 0, len(selected))
	for _, f := range selected {
		workers, err := runfiles.Workers(f.Path, p.Options.NumProcess, b.Env.OMPThreads)
		if err != nil {
			return nil, err
		}
		steps = append(steps, &engine.Step{
			ID:         string(engine.StageRunFiles) + "/" + f.Name,
			Name:       f.Name,
			Stage:      engine.StageRunFiles,
			Workers:    workers,
			MaxRetries: b.MaxRetries,
			Timeout:    b.StepTimeout,
			Action: func(ctx context.Context) error {
				return b.Executor.Execute(ctx, f.Path, workers)
			},
		})
	}
	return steps, nil
}
