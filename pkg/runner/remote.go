package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/isceproc/isceproc/pkg/engine"
	"github.com/isceproc/isceproc/pkg/telemetry"
	"github.com/isceproc/isceproc/pkg/transports/ssh"
)

// Remote runs commands on a processing host over SSH. Local paths below
// localDir are mapped to the same relative path below remoteDir.
type Remote struct {
	transport ssh.Transport
	localDir  string
	remoteDir string
	tel       *telemetry.Telemetry

	connectMu sync.Mutex
}

var _ Runner = (*Remote)(nil)

// NewRemote creates a runner that executes on the host behind transport.
func NewRemote(transport ssh.Transport, localDir, remoteDir string, tel *telemetry.Telemetry) (*Remote, error) {
	abs, err := filepath.Abs(localDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", localDir, err)
	}
	if !path.IsAbs(remoteDir) {
		return nil, fmt.Errorf("remote directory must be absolute: %s", remoteDir)
	}
	if tel == nil {
		tel = telemetry.Disabled()
	}
	return &Remote{
		transport: transport,
		localDir:  abs,
		remoteDir: path.Clean(remoteDir),
		tel:       tel,
	}, nil
}

// RemotePath maps a local path inside the processing directory to the
// remote host. Paths outside it are returned unchanged.
func (r *Remote) RemotePath(local string) string {
	remote, _ := r.mapPath(local)
	return remote
}

// mapPath is RemotePath reporting whether local lies inside the processing
// directory.
func (r *Remote) mapPath(local string) (string, bool) {
	abs, err := filepath.Abs(local)
	if err != nil {
		return local, false
	}
	rel, err := filepath.Rel(r.localDir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return local, false
	}
	return path.Join(r.remoteDir, filepath.ToSlash(rel)), true
}

// Shared reports whether the processing directory has the same path on
// both hosts, so local files are already in place remotely.
func (r *Remote) Shared() bool {
	return filepath.ToSlash(r.localDir) == r.remoteDir
}

// Run executes cmd on the remote host. The program name is passed to the
// remote shell unquoted so it may reference remote variables such as
// $ISCE_STACK.
func (r *Remote) Run(ctx context.Context, cmd Command) (*Result, error) {
	program := cmd.Program()
	logger := telemetry.FromContext(ctx)

	if err := r.connect(ctx); err != nil {
		return nil, err
	}

	ctx, span := r.tel.Tracer.StartCommandSpan(ctx, program)

	line := r.shellLine(cmd)
	logger.Zerolog().Info().Str("host", r.transport.GetConnectionInfo().Host).Msg(line)

	stdout := newLineWriter(logger, program, "stdout")
	stderr := newLineWriter(logger, program, "stderr")
	outw, errw := cmd.streams(stdout, stderr)
	res, err := r.transport.Stream(ctx, line, outw, errw)
	stdout.Flush()
	stderr.Flush()

	result := &Result{}
	if res != nil {
		result.ExitCode = res.ExitCode
		result.StartedAt = res.StartedAt
		result.FinishedAt = res.FinishedAt
		result.Duration = res.Duration
	}
	err = r.classify(ctx, program, result, err)

	status := "success"
	if err != nil {
		status = "failure"
	}
	r.tel.Metrics.RecordCommand(program, status)
	telemetry.EndSpan(span, err)

	return result, err
}

// UploadRunFile places a run file on the remote host and returns its remote
// path. Run files name their config files by absolute local path; those
// are rewritten to the remote directory. Nothing is copied when the
// directory is shared under the same path.
func (r *Remote) UploadRunFile(ctx context.Context, local string) (string, error) {
	remote, ok := r.mapPath(local)
	if !ok {
		return "", engine.NewPermanentError(
			fmt.Sprintf("%s is outside the processing directory %s", local, r.localDir), nil).
			WithCode(engine.ErrCodeValidation)
	}
	if r.Shared() {
		return remote, nil
	}

	data, err := os.ReadFile(local)
	if err != nil {
		return "", engine.NewPermanentError(fmt.Sprintf("failed to read %s", local), err).
			WithCode(engine.ErrCodeNotFound)
	}
	localPrefix := filepath.ToSlash(r.localDir) + "/"
	data = []byte(strings.ReplaceAll(string(data), localPrefix, r.remoteDir+"/"))

	if err := r.connect(ctx); err != nil {
		return "", err
	}
	if err := r.transport.WriteFile(ctx, remote, data, 0755); err != nil {
		return "", r.classify(ctx, "upload", nil, err)
	}
	return remote, nil
}

// Close disconnects from the remote host.
func (r *Remote) Close() error {
	return r.transport.Disconnect()
}

func (r *Remote) connect(ctx context.Context) error {
	r.connectMu.Lock()
	defer r.connectMu.Unlock()

	if r.transport.IsConnected() {
		return nil
	}
	if err := r.transport.Connect(ctx); err != nil {
		return r.classify(ctx, "connect", nil, err)
	}
	return nil
}

// shellLine renders cmd for the remote shell.
func (r *Remote) shellLine(cmd Command) string {
	var b strings.Builder
	if cmd.Dir != "" {
		b.WriteString("cd ")
		b.WriteString(Quote(r.RemotePath(cmd.Dir)))
		b.WriteString(" && ")
	}
	for _, kv := range cmd.Env {
		b.WriteString("export ")
		b.WriteString(exportValue(kv))
		b.WriteString("; ")
	}
	b.WriteString(cmd.Name)
	for _, arg := range cmd.Args {
		b.WriteByte(' ')
		b.WriteString(Quote(arg))
	}
	return b.String()
}

// exportValue renders KEY=VALUE with the value in double quotes, so that
// references to remote variables such as $PATH still expand.
func exportValue(kv string) string {
	key, value, _ := strings.Cut(kv, "=")
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "`", "\\`")
	return key + `="` + r.Replace(value) + `"`
}

// classify maps transport failures onto engine error classes: dropped
// connections are transient, non-zero exits are permanent.
func (r *Remote) classify(ctx context.Context, op string, result *Result, err error) error {
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s interrupted: %w", op, ctxErr)
	}

	var te *ssh.TransportError
	if errors.As(err, &te) && te.IsAuthError {
		return engine.NewPermanentError("authentication to the processing host failed", err).
			WithCode(engine.ErrCodeTransport).
			WithOperation(op)
	}

	if ssh.IsTemporary(err) {
		return engine.NewTransientError(fmt.Sprintf("%s failed on the processing host", op), err).
			WithCode(engine.ErrCodeTransport).
			WithOperation(op)
	}

	if result != nil && result.ExitCode > 0 {
		return engine.NewPermanentError(
			fmt.Sprintf("%s exited with status %d", op, result.ExitCode), err).
			WithCode(engine.ErrCodeCommandFailed).
			WithOperation(op).
			WithDetail("exit_code", result.ExitCode)
	}

	return engine.NewPermanentError(fmt.Sprintf("%s failed", op), err).
		WithCode(engine.ErrCodeTransport).
		WithOperation(op)
}

const remoteHealthTimeout = 30 * time.Second

// Ping verifies that the processing host is reachable and has a stack
// processor installation in $ISCE_STACK.
func (r *Remote) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, remoteHealthTimeout)
	defer cancel()

	if err := r.connect(ctx); err != nil {
		return err
	}
	if err := r.transport.HealthCheck(ctx); err != nil {
		return r.classify(ctx, "health check", nil, err)
	}

	stack, _, err := r.transport.ExecuteCommand(ctx, `test -d "$ISCE_STACK" && echo "$ISCE_STACK"`)
	if err != nil || stack == "" {
		return engine.NewPermanentError("ISCE_STACK is not set on the processing host", err).
			WithCode(engine.ErrCodeNotFound).
			WithOperation("health check")
	}
	return nil
}
