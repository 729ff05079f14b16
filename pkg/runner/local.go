package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/isceproc/isceproc/pkg/engine"
	"github.com/isceproc/isceproc/pkg/telemetry"
)

// Local runs commands as child processes of isceproc.
type Local struct {
	tel *telemetry.Telemetry

	// waitDelay bounds how long a cancelled process may take to exit after
	// SIGTERM before it is killed.
	waitDelay time.Duration
}

var _ Runner = (*Local)(nil)

// NewLocal creates a local runner. A nil tel disables telemetry.
func NewLocal(tel *telemetry.Telemetry) *Local {
	if tel == nil {
		tel = telemetry.Disabled()
	}
	return &Local{tel: tel, waitDelay: 10 * time.Second}
}

// Run starts cmd and waits for it to finish.
func (l *Local) Run(ctx context.Context, cmd Command) (*Result, error) {
	program := cmd.Program()
	logger := telemetry.FromContext(ctx)

	ctx, span := l.tel.Tracer.StartCommandSpan(ctx, program)

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	c.Cancel = func() error {
		return c.Process.Signal(syscall.SIGTERM)
	}
	c.WaitDelay = l.waitDelay

	stdout := newLineWriter(logger, program, "stdout")
	stderr := newLineWriter(logger, program, "stderr")
	c.Stdout, c.Stderr = cmd.streams(stdout, stderr)

	logger.Zerolog().Info().Str("dir", cmd.Dir).Msg(cmd.String())

	result := &Result{StartedAt: time.Now()}
	err := c.Run()
	stdout.Flush()
	stderr.Flush()

	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	if c.ProcessState != nil {
		result.ExitCode = c.ProcessState.ExitCode()
	}

	err = classifyExit(ctx, program, result, err)

	status := "success"
	if err != nil {
		status = "failure"
	}
	l.tel.Metrics.RecordCommand(program, status)
	telemetry.EndSpan(span, err)

	return result, err
}

// classifyExit converts the error of a finished process into the error
// returned by Run.
func classifyExit(ctx context.Context, program string, result *Result, err error) error {
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s interrupted: %w", program, ctxErr)
	}

	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return engine.NewPermanentError(fmt.Sprintf("executable not found: %s", program), err).
			WithCode(engine.ErrCodeNotFound).
			WithOperation(program)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return engine.NewPermanentError(
			fmt.Sprintf("%s exited with status %d", program, result.ExitCode), err).
			WithCode(engine.ErrCodeCommandFailed).
			WithOperation(program).
			WithDetail("exit_code", result.ExitCode)
	}

	return engine.NewPermanentError(fmt.Sprintf("failed to run %s", program), err).
		WithCode(engine.ErrCodeCommandFailed).
		WithOperation(program)
}
