package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/isceproc/isceproc/pkg/runfiles"
)

// RunFileExecutor executes every command of a run file with up to workers
// commands running at the same time.
type RunFileExecutor interface {
	Execute(ctx context.Context, file string, workers int) error
}

// projectDir returns the processing directory of a run file: the parent of
// the run_files folder, or the file's own folder for run files generated
// elsewhere.
func projectDir(file string) string {
	dir := filepath.Dir(file)
	if filepath.Base(dir) == runfiles.Dir {
		return filepath.Dir(dir)
	}
	return dir
}

// RunPy delegates a run file to the stack processor's run.py.
type RunPy struct {
	Runner Runner

	// Script is the path of run.py.
	Script string

	// Env is added to the environment of run.py.
	Env []string
}

var _ RunFileExecutor = (*RunPy)(nil)

// Execute runs run.py -i <file> -p <workers>.
func (r *RunPy) Execute(ctx context.Context, file string, workers int) error {
	_, err := r.Runner.Run(ctx, Command{
		Name: r.Script,
		Args: []string{"-i", file, "-p", strconv.Itoa(max(workers, 1))},
		Dir:  projectDir(file),
		Env:  r.Env,
	})
	return err
}

// Native runs each line of a run file through a shell, bounded to workers
// concurrent processes. The first failure stops lines that have not started
// and cancels the ones that are running.
type Native struct {
	Runner Runner

	// Shell interprets each line, e.g. /bin/bash.
	Shell string

	Env []string
}

var _ RunFileExecutor = (*Native)(nil)

// Execute implements RunFileExecutor.
func (n *Native) Execute(ctx context.Context, file string, workers int) error {
	commands, err := runfiles.Commands(file)
	if err != nil {
		return err
	}

	dir := projectDir(file)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for _, line := range commands {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// A slot freed by a failing line must not start another one.
			if gctx.Err() != nil {
				return nil
			}
			_, err := n.Runner.Run(gctx, Command{
				Name: n.Shell,
				Args: []string{"-c", line},
				Dir:  dir,
				Env:  n.Env,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(file), err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// SSH places a run file on the processing host and runs it there with the
// remote run.py. The processing directory must exist on the host under the
// remote directory.
type SSH struct {
	Remote *Remote

	// Script is the remote path of run.py. It may reference remote
	// environment variables.
	Script string

	Env []string
}

var _ RunFileExecutor = (*SSH)(nil)

// Execute implements RunFileExecutor.
func (s *SSH) Execute(ctx context.Context, file string, workers int) error {
	remote, err := s.Remote.UploadRunFile(ctx, file)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", filepath.Base(file), err)
	}

	_, err = s.Remote.Run(ctx, Command{
		Name: s.Script,
		Args: []string{"-i", remote, "-p", strconv.Itoa(max(workers, 1))},
		Dir:  projectDir(file),
		Env:  s.Env,
	})
	return err
}
