// Package runnertest provides a runner.Runner that records commands
// instead of executing them.
package runnertest

import (
	"context"
	"sync"
	"time"

	"github.com/isceproc/isceproc/pkg/runner"
)

// Recorder records every command it is asked to run.
type Recorder struct {
	// Hook, when set, is called for each command. Its error is returned by
	// Run. Tests use it to fail selected commands or to create the files a
	// program would produce.
	Hook func(cmd runner.Command) error

	mu       sync.Mutex
	commands []runner.Command
}

var _ runner.Runner = (*Recorder)(nil)

// Run implements runner.Runner.
func (r *Recorder) Run(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()

	now := time.Now()
	result := &runner.Result{StartedAt: now, FinishedAt: now}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if r.Hook != nil {
		if err := r.Hook(cmd); err != nil {
			result.ExitCode = 1
			return result, err
		}
	}
	return result, nil
}

// Commands returns the recorded commands in call order.
func (r *Recorder) Commands() []runner.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runner.Command(nil), r.commands...)
}

// Argv returns the program and arguments of every recorded command.
func (r *Recorder) Argv() [][]string {
	cmds := r.Commands()
	out := make([][]string, len(cmds))
	for i, c := range cmds {
		out[i] = append([]string{c.Name}, c.Args...)
	}
	return out
}

// Reset forgets the recorded commands.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
}
