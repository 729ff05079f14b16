// Package isce drives the ISCE-2 stack processors.
//
// It prepares the inputs of a stack (DEM, unpacked stripmap data, the
// reference shelve) and composes the stackSentinel.py / stackStripMap.py
// invocation that writes the run files. The processors themselves are
// external programs started through a runner.Runner.
package isce

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/isceproc/isceproc/pkg/engine"
	"github.com/isceproc/isceproc/pkg/template"
)

// Environment variables read by isceproc.
const (
	EnvStack      = "ISCE_STACK"
	EnvProcHome   = "ISCE_PROC_HOME"
	EnvOMPThreads = "OMP_NUM_THREADS"
)

// Environment is the processing environment of the local host.
type Environment struct {
	// StackDir is $ISCE_STACK, the contrib/stack folder of ISCE-2.
	StackDir string

	// ProcHome is $ISCE_PROC_HOME.
	ProcHome string

	// OMPThreads is $OMP_NUM_THREADS, 1 when unset.
	OMPThreads int

	// Path is $PATH.
	Path string
}

// LoadEnvironment reads the environment through lookup, usually
// os.LookupEnv.
func LoadEnvironment(lookup func(string) (string, bool)) (*Environment, error) {
	env := &Environment{OMPThreads: 1}
	env.StackDir, _ = lookup(EnvStack)
	env.ProcHome, _ = lookup(EnvProcHome)
	env.Path, _ = lookup("PATH")

	if v, ok := lookup(EnvOMPThreads); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("%s must be a positive integer, got %q", EnvOMPThreads, v), err).
				WithCode(engine.ErrCodeValidation)
		}
		env.OMPThreads = n
	}
	return env, nil
}

// FromOS reads the environment of the current process.
func FromOS() (*Environment, error) {
	return LoadEnvironment(os.LookupEnv)
}

// RequireStack returns an error when ISCE_STACK is not set.
func (e *Environment) RequireStack() error {
	if e.StackDir == "" {
		return engine.NewPermanentError(
			fmt.Sprintf("%s is not set; load the ISCE-2 stack processor first", EnvStack), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	return nil
}

// ProcessorDir returns the script folder of a stack processor.
func (e *Environment) ProcessorDir(processor string) string {
	return filepath.Join(e.StackDir, processor)
}

// Script returns the path of a processor script, or its bare name to be
// found on PATH when ISCE_STACK is unset.
func (e *Environment) Script(processor, name string) string {
	if e.StackDir == "" {
		return name
	}
	return filepath.Join(e.ProcessorDir(processor), name)
}

// RunPy returns the path of run.py, which only ships with topsStack but
// runs the run files of both processors.
func (e *Environment) RunPy() string {
	return e.Script(template.ProcessorTops, "run.py")
}

// ChildEnv returns the environment additions for programs of processor:
// its script folder is appended to PATH.
func (e *Environment) ChildEnv(processor string) []string {
	if e.StackDir == "" {
		return nil
	}
	path := e.ProcessorDir(processor)
	if e.Path != "" {
		path = e.Path + string(os.PathListSeparator) + path
	}
	return []string{"PATH=" + path}
}

// RemoteChildEnv is ChildEnv for a processing host, where PATH and
// ISCE_STACK are expanded by the remote shell.
func RemoteChildEnv(processor string) []string {
	return []string{"PATH=$PATH:$" + EnvStack + "/" + processor}
}

// RemoteRunPy is the path of run.py on a processing host.
func RemoteRunPy() string {
	return "$" + EnvStack + "/" + template.ProcessorTops + "/run.py"
}
