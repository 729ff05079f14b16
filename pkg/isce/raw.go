package isce

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/isceproc/isceproc/pkg/engine"
	"github.com/isceproc/isceproc/pkg/runfiles"
	"github.com/isceproc/isceproc/pkg/runner"
	"github.com/isceproc/isceproc/pkg/telemetry"
	"github.com/isceproc/isceproc/pkg/template"
)

// rawPrep describes how the downloads of a stripmap sensor are unpacked.
type rawPrep struct {
	script  string
	runFile string
	args    func(opts *template.StackOptions) []string
}

var rawPreps = map[string]rawPrep{
	"Alos": {
		script:  "prepRawALOS.py",
		runFile: "run_unPackALOS",
		args: func(opts *template.StackOptions) []string {
			if opts.FBD2FBS {
				return []string{"--dual2single"}
			}
			return nil
		},
	},
	"Alos2": {
		script:  "prepSlcALOS2.py",
		runFile: "run_unPackALOS2",
		args: func(opts *template.StackOptions) []string {
			if opts.Polarization != "" {
				return []string{"--polarization", opts.Polarization}
			}
			return nil
		},
	},
}

// RawArgs returns the preparation script and its arguments for the sensor
// of opts.
func (d *Driver) RawArgs(opts *template.StackOptions) (script string, args []string, err error) {
	prep, ok := rawPreps[opts.Sensor]
	if !ok {
		return "", nil, engine.NewPermanentError(
			fmt.Sprintf("unsupported sensor %q for raw data preparation, supported: Alos, Alos2", opts.Sensor), nil).
			WithCode(engine.ErrCodeValidation)
	}
	args = append([]string{"-i", "./download", "-o", "./SLC", "-t", ""}, prep.args(opts)...)
	return d.env.Script(template.ProcessorStripmap, prep.script), args, nil
}

// PrepareRaw unpacks the stripmap downloads into date folders below SLC/
// and converts them to ISCE format by executing the unpack run file the
// preparation script writes.
func (d *Driver) PrepareRaw(ctx context.Context, opts *template.StackOptions, exec runner.RunFileExecutor) error {
	if opts.IsTops() {
		return engine.NewPermanentError("raw data preparation is only needed for stripmapStack", nil).
			WithCode(engine.ErrCodeValidation)
	}

	script, args, err := d.RawArgs(opts)
	if err != nil {
		return err
	}
	if err := d.run(ctx, opts.Processor, d.dir, script, args...); err != nil {
		return fmt.Errorf("failed to prepare %s data: %w", opts.Sensor, err)
	}

	runFile := filepath.Join(d.dir, rawPreps[opts.Sensor].runFile)
	workers, err := runfiles.Workers(runFile, opts.NumProcess, d.env.OMPThreads)
	if err != nil {
		return engine.NewPermanentError(fmt.Sprintf("unpack script not written: %s", runFile), err).
			WithCode(engine.ErrCodeNotFound)
	}

	telemetry.FromContext(ctx).Infof("running %s with %d workers", filepath.Base(runFile), workers)
	return exec.Execute(ctx, runFile, workers)
}
