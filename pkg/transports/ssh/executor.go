package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// ExecuteCommand runs a command on the remote host and returns its trimmed
// stdout and stderr.
func (c *SSHClient) ExecuteCommand(ctx context.Context, cmd string) (stdout string, stderr string, err error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	_, err = c.Stream(ctx, cmd, &stdoutBuf, &stderrBuf)
	return strings.TrimSpace(stdoutBuf.String()), strings.TrimSpace(stderrBuf.String()), err
}

// Stream runs a command on the remote host, copying its output to stdout
// and stderr while it runs. A non-zero exit status is returned as a
// permanent TransportError together with the result.
func (c *SSHClient) Stream(ctx context.Context, cmd string, stdout, stderr io.Writer) (*ExecResult, error) {
	startTime := time.Now()

	log.Debug().Str("command", cmd).Msg("executing remote command")

	sshClient, err := c.getClient()
	if err != nil {
		return nil, err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return nil, &TransportError{
			Op:          "execute",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	session.Stdout = stdout
	session.Stderr = stderr

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(cmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	result := &ExecResult{
		StartedAt:  startTime,
		FinishedAt: time.Now(),
	}
	result.Duration = result.FinishedAt.Sub(startTime)

	log.Debug().
		Str("command", cmd).
		Dur("duration", result.Duration).
		Err(execErr).
		Msg("remote command completed")

	if execErr == nil {
		return result, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(execErr, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		return result, &TransportError{
			Op:  "execute",
			Err: fmt.Errorf("command exited with code %d", exitErr.ExitStatus()),
		}
	}

	result.ExitCode = -1
	if errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded) {
		return result, &TransportError{Op: "execute", Err: execErr}
	}
	return result, &TransportError{
		Op:          "execute",
		Err:         execErr,
		IsTemporary: true,
	}
}
