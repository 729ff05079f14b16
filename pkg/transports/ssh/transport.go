// Package ssh executes commands and copies files on a remote processing
// host. It backs the remote run-file executor.
package ssh

import (
	"context"
	"errors"
	"io"
	"time"
)

// Transport defines the operations the remote runner needs from a
// connection to a processing host.
type Transport interface {
	// Connect establishes a connection to the remote host.
	Connect(ctx context.Context) error

	// Disconnect closes the connection and releases resources.
	Disconnect() error

	// IsConnected returns true if the transport has an active connection.
	IsConnected() bool

	// HealthCheck verifies the connection is alive and responsive.
	HealthCheck(ctx context.Context) error

	// ExecuteCommand runs a short command and returns its trimmed output.
	ExecuteCommand(ctx context.Context, cmd string) (stdout string, stderr string, err error)

	// Stream runs a command, copying its output to the given writers as it
	// is produced.
	Stream(ctx context.Context, cmd string, stdout, stderr io.Writer) (*ExecResult, error)

	// WriteFile replaces a remote file with data, creating parent
	// directories.
	WriteFile(ctx context.Context, remotePath string, data []byte, mode uint32) error

	// GetConnectionInfo returns information about the current connection.
	GetConnectionInfo() ConnectionInfo
}

// ConnectionInfo describes an active connection.
type ConnectionInfo struct {
	Host string
	Port int
	User string

	// ConnectedAt is when the connection was established
	ConnectedAt time.Time

	// LastActivity is when the connection was last used
	LastActivity time.Time
}

// ExecResult represents the result of a command execution.
type ExecResult struct {
	// ExitCode is the command's exit code
	ExitCode int

	// StartedAt is when the command started executing
	StartedAt time.Time

	// FinishedAt is when the command finished
	FinishedAt time.Time

	// Duration is the total execution time
	Duration time.Duration
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "upload")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// IsTemporary reports whether err wraps a temporary TransportError.
func IsTemporary(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.IsTemporary
}
