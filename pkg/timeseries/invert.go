// Package timeseries hands a processed stack over to the MintPy small
// baseline time-series inversion.
package timeseries

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/isceproc/isceproc/pkg/engine"
	"github.com/isceproc/isceproc/pkg/runner"
	"github.com/isceproc/isceproc/pkg/template"
)

// Script is the MintPy routine workflow.
const Script = "smallbaselineApp.py"

// WorkDir is the MintPy folder inside the processing directory.
const WorkDir = "mintpy"

// Steps are the steps of smallbaselineApp.py in execution order.
var Steps = []string{
	"load_data",
	"modify_network",
	"reference_point",
	"quick_overview",
	"correct_unwrap_error",
	"invert_network",
	"correct_LOD",
	"correct_SET",
	"correct_ionosphere",
	"correct_troposphere",
	"deramp",
	"correct_topography",
	"residual_RMS",
	"reference_date",
	"velocity",
	"geocode",
	"google_earth",
	"hdfeos5",
}

// Options select the part of the workflow to run.
type Options struct {
	// TemplateFile is passed to MintPy, which reads its mintpy.* keys.
	TemplateFile string

	// Dir is the processing directory.
	Dir string

	// Start, End and DoStep name workflow steps; empty runs everything.
	Start  string
	End    string
	DoStep string
}

// Args returns the smallbaselineApp.py arguments.
func Args(opts Options) ([]string, error) {
	for _, s := range []string{opts.Start, opts.End, opts.DoStep} {
		if s != "" && !slices.Contains(Steps, s) {
			return nil, engine.NewPermanentError(fmt.Sprintf("unknown MintPy step %q", s), nil).
				WithCode(engine.ErrCodeValidation).
				WithDetail("steps", Steps)
		}
	}
	if opts.DoStep != "" && (opts.Start != "" || opts.End != "") {
		return nil, engine.NewPermanentError("--dostep cannot be combined with --start or --end", nil).
			WithCode(engine.ErrCodeValidation)
	}
	if opts.Start != "" && opts.End != "" &&
		slices.Index(Steps, opts.Start) > slices.Index(Steps, opts.End) {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("start step %s is after end step %s", opts.Start, opts.End), nil).
			WithCode(engine.ErrCodeValidation)
	}

	args := []string{opts.TemplateFile, "--work-dir", filepath.Join(opts.Dir, WorkDir)}
	if opts.Start != "" {
		args = append(args, "--start", opts.Start)
	}
	if opts.End != "" {
		args = append(args, "--end", opts.End)
	}
	if opts.DoStep != "" {
		args = append(args, "--dostep", opts.DoStep)
	}
	return args, nil
}

// Invert runs the time-series inversion of the stack in opts.Dir.
func Invert(ctx context.Context, r runner.Runner, values template.Values, opts Options) error {
	args, err := Args(opts)
	if err != nil {
		return err
	}

	if len(values.WithPrefix(template.PrefixMintPy)) == 0 {
		log.Warn().Str("template", opts.TemplateFile).
			Msg("template has no mintpy.* entries, MintPy runs with its defaults")
	}

	workDir := filepath.Join(opts.Dir, WorkDir)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", workDir, err)
	}

	_, err = r.Run(ctx, runner.Command{
		Name: Script,
		Args: args,
		Dir:  opts.Dir,
	})
	return err
}
