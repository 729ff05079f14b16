// Package runner executes the external programs of the processing chain.
//
// Every stage of the pipeline ends up invoking a program (dem.py,
// stackSentinel.py, run.py, smallbaselineApp.py, ...). Runner is the seam
// between the stage logic and process execution: Local starts child
// processes, Remote runs them on a processing host over SSH, and tests
// substitute a recording fake. Child output is forwarded to the logger line
// by line.
package runner

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Command describes one program invocation.
type Command struct {
	// Name is the program to run, looked up in PATH when not a path.
	Name string

	// Args are passed to the program without shell interpretation.
	Args []string

	// Dir is the working directory; empty means the current directory.
	Dir string

	// Env holds KEY=VALUE entries added to the inherited environment.
	// Later entries win.
	Env []string

	// Output, when set, also receives the program's stdout and stderr.
	Output io.Writer
}

// streams returns the writers for the program's stdout and stderr.
func (c Command) streams(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if c.Output == nil {
		return stdout, stderr
	}
	out := &syncWriter{w: c.Output}
	return io.MultiWriter(stdout, out), io.MultiWriter(stderr, out)
}

// syncWriter serializes writes from the stdout and stderr copiers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// Program returns the base name of the program, used for metrics and spans.
func (c Command) Program() string {
	return filepath.Base(c.Name)
}

// String renders the command as a shell line.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, Quote(c.Name))
	for _, arg := range c.Args {
		parts = append(parts, Quote(arg))
	}
	return strings.Join(parts, " ")
}

// Result describes a finished command.
type Result struct {
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// Runner executes commands. A non-zero exit status is an error.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Quote returns s quoted for a POSIX shell when it contains characters the
// shell would interpret.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuoting) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuoting(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./=:,+@%", r)
}
