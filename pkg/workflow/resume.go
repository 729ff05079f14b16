package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/isceproc/isceproc/pkg/engine"
	"github.com/isceproc/isceproc/pkg/runfiles"
	"github.com/isceproc/isceproc/pkg/stores"
)

// History is the part of the run store needed to resume.
type History interface {
	LatestRun(ctx context.Context, templateFile, command, status string) (*stores.Run, error)
	ListSteps(ctx context.Context, runID string) ([]*stores.Step, error)
}

// ResumePoint is where a failed run stopped.
type ResumePoint struct {
	RunID string

	// Command is the command of the failed run.
	Command string

	// Stage is the stage to restart from.
	Stage engine.Stage

	// RunFile and Start name the failed run file and its 1-based position
	// when the run failed while executing run files.
	RunFile string
	Start   int

	// End is the last run file the failed run had selected, 0 for all.
	End int

	// planned holds the stages of the failed run.
	planned []engine.Stage
}

// Stages returns Stage and the stages of the failed run that come after it.
func (r *ResumePoint) Stages() []engine.Stage {
	from := slices.Index(engine.Stages, r.Stage)
	var stages []engine.Stage
	for _, s := range engine.Stages[max(from, 0):] {
		if s == r.Stage || slices.Contains(r.planned, s) {
			stages = append(stages, s)
		}
	}
	return stages
}

// Request returns the request that continues the failed run.
func (r *ResumePoint) Request() Request {
	return Request{
		Command: r.Command,
		Stages:  r.Stages(),
		Start:   r.Start,
		End:     r.End,
	}
}

// Resume finds the failed step of the latest failed run of p's template.
func Resume(ctx context.Context, h History, p *Project) (*ResumePoint, error) {
	run, err := h.LatestRun(ctx, p.Options.TemplateFile, "", string(engine.RunStatusFailed))
	if errors.Is(err, stores.ErrNotFound) {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("no failed run to resume for %s", p.Options.TemplateFile), err).
			WithCode(engine.ErrCodeNotFound)
	}
	if err != nil {
		return nil, err
	}

	steps, err := h.ListSteps(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	point := &ResumePoint{RunID: run.ID, Command: run.Command}
	var (
		failed  *stores.Step
		lastRun string
	)
	for _, s := range steps {
		if isRunFileStep(s) {
			lastRun = s.Name
		} else {
			point.planned = append(point.planned, engine.Stage(s.Stage))
		}
		if failed == nil && s.Status == string(engine.StepStatusFailed) {
			failed = s
		}
	}
	if failed == nil {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("run %s has no failed step", run.ID), nil).
			WithCode(engine.ErrCodeNotFound)
	}

	point.Stage = engine.Stage(failed.Stage)
	if point.Stage == engine.StageRunFiles && !isRunFileStep(failed) {
		// The run_files step itself fails when the files cannot be listed.
		point.Stage = engine.StageStack
	}

	if lastRun == "" && !isRunFileStep(failed) {
		return point, nil
	}

	files, err := runfiles.Discover(p.Dir)
	if err != nil {
		if !isRunFileStep(failed) {
			return point, nil
		}
		return nil, err
	}
	if isRunFileStep(failed) {
		pos, ok := runfiles.Position(files, failed.Name)
		if !ok {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("failed run file %s no longer exists", failed.Name), nil).
				WithCode(engine.ErrCodeNotFound)
		}
		point.RunFile = failed.Name
		point.Start = pos
	}
	if pos, ok := runfiles.Position(files, lastRun); ok && pos < len(files) {
		point.End = pos
	}
	return point, nil
}

// isRunFileStep reports whether s is one run file of an expanded run_files
// step.
func isRunFileStep(s *stores.Step) bool {
	return strings.HasPrefix(s.ID, string(engine.StageRunFiles)+"/")
}
