package isce

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/isceproc/isceproc/pkg/telemetry"
	"github.com/isceproc/isceproc/pkg/template"
)

// SLCDir is the folder holding the SLCs of a stack.
const SLCDir = "SLC"

// StackScript returns the run-file generator of processor.
func StackScript(processor string) string {
	if processor == template.ProcessorStripmap {
		return "stackStripMap.py"
	}
	return "stackSentinel.py"
}

// StackArgs returns the arguments of the run-file generator for the stack
// in projDir.
func StackArgs(opts *template.StackOptions, env *Environment, projDir string) []string {
	args := []string{
		"--slc_directory", filepath.Join(projDir, SLCDir),
		"--workflow", opts.Workflow,
		"--dem", opts.DemFile,
		"--azimuth_looks", strconv.Itoa(opts.AzimuthLooks),
		"--range_looks", strconv.Itoa(opts.RangeLooks),
		"--filter_strength", strconv.FormatFloat(opts.FiltStrength, 'f', -1, 64),
		"--unw_method", opts.UnwrapMethod,
	}

	if opts.IsTops() {
		args = append(args,
			"--coregistration", opts.Coregistration,
			"--num_connections", strconv.Itoa(opts.NumConnection),
			"--aux_directory", opts.AuxDir,
			"--orbit_directory", opts.OrbitDir,
			"--virtual_merge", pyBool(opts.VirtualMerge),
		)
	} else {
		args = append(args,
			"--time_threshold", strconv.Itoa(opts.MaxTempBaseline),
			"--baseline_threshold", strconv.Itoa(opts.MaxPerpBaseline),
		)
	}

	if opts.ReferenceDate != "" {
		args = append(args, "--reference_date", opts.ReferenceDate)
	}
	if opts.BoundingBox != nil {
		args = append(args, "--bbox", opts.BoundingBox.String())
	}
	if opts.UseGPU {
		args = append(args, "--useGPU")
	}

	if opts.IsTops() {
		if opts.StartDate != "" {
			args = append(args, "--start_date", isoDate(opts.StartDate))
		}
		if opts.EndDate != "" {
			args = append(args, "--stop_date", isoDate(opts.EndDate))
		}
		if len(opts.SwathNum) > 0 {
			swaths := make([]string, len(opts.SwathNum))
			for i, n := range opts.SwathNum {
				swaths[i] = strconv.Itoa(n)
			}
			args = append(args, "--swath_num", strings.Join(swaths, " "))
		}
		args = append(args, "--num_proc4topo", strconv.Itoa(TopoProcesses(opts, env)))
		if opts.UpdateMode {
			args = append(args, "--update")
		}
		if opts.ParamIonFile != "" {
			args = append(args,
				"--param_ion", opts.ParamIonFile,
				"--num_connections_ion", strconv.Itoa(opts.NumConnectionIon),
			)
		}
		return args
	}

	// ALOS-2 delivers focused zero-Doppler SLCs.
	alos2 := opts.Sensor == "Alos2"
	if !opts.Focus || alos2 {
		args = append(args, "--nofocus")
	}
	if opts.ZeroDoppler || alos2 {
		args = append(args, "--zero")
	}
	return args
}

// TopoProcesses is the number of topo processes: isce.numProcess4topo, or
// isce.numProcess shared among the OpenMP threads of each process.
func TopoProcesses(opts *template.StackOptions, env *Environment) int {
	if opts.NumProcess4Topo > 0 {
		return opts.NumProcess4Topo
	}
	threads := 1
	if env != nil && env.OMPThreads > 1 {
		threads = env.OMPThreads
	}
	return max(opts.NumProcess/threads, 1)
}

// PrepareStack runs the run-file generator, which writes run_files/ and
// configs/ into the processing directory.
func (d *Driver) PrepareStack(ctx context.Context, opts *template.StackOptions) error {
	script := d.env.Script(opts.Processor, StackScript(opts.Processor))
	args := StackArgs(opts, d.env, d.dir)

	telemetry.FromContext(ctx).Infof("generating run files with %s", filepath.Base(script))
	if err := d.run(ctx, opts.Processor, d.dir, script, args...); err != nil {
		return fmt.Errorf("failed to generate run files: %w", err)
	}
	return nil
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// isoDate converts YYYYMMDD into YYYY-MM-DD. Dates are validated with the
// template, so a parse failure returns the input unchanged.
func isoDate(s string) string {
	t, err := time.Parse("20060102", s)
	if err != nil {
		return s
	}
	return t.Format(time.DateOnly)
}
