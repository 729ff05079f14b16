package isce

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/isceproc/isceproc/pkg/runner"
)

// Driver runs the stack preparation programs of one processing directory.
type Driver struct {
	runner runner.Runner
	env    *Environment
	dir    string
}

// NewDriver creates a driver for the processing directory dir.
func NewDriver(r runner.Runner, env *Environment, dir string) (*Driver, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve processing directory: %w", err)
	}
	return &Driver{runner: r, env: env, dir: abs}, nil
}

// Dir returns the processing directory.
func (d *Driver) Dir() string {
	return d.dir
}

// run executes a program of processor inside dir.
func (d *Driver) run(ctx context.Context, processor, dir, name string, args ...string) error {
	_, err := d.runner.Run(ctx, runner.Command{
		Name: name,
		Args: args,
		Dir:  dir,
		Env:  d.env.ChildEnv(processor),
	})
	return err
}
