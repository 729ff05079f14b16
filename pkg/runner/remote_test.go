package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isceproc/isceproc/pkg/engine"
	"github.com/isceproc/isceproc/pkg/transports/ssh"
)

type fakeTransport struct {
	connected  bool
	connects   int
	connectErr error

	stdout    string
	exitCode  int
	streamErr error

	lines   []string
	uploads map[string]string
	healthy error
}

func (f *fakeTransport) Connect(context.Context) error {
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.connected = false
	return nil
}

func (f *fakeTransport) IsConnected() bool { return f.connected }

func (f *fakeTransport) HealthCheck(context.Context) error { return f.healthy }

func (f *fakeTransport) ExecuteCommand(ctx context.Context, cmd string) (string, string, error) {
	_, err := f.Stream(ctx, cmd, io.Discard, io.Discard)
	return f.stdout, "", err
}

func (f *fakeTransport) Stream(_ context.Context, cmd string, stdout, _ io.Writer) (*ssh.ExecResult, error) {
	f.lines = append(f.lines, cmd)
	_, _ = io.WriteString(stdout, f.stdout)
	return &ssh.ExecResult{ExitCode: f.exitCode}, f.streamErr
}

func (f *fakeTransport) WriteFile(_ context.Context, remote string, data []byte, _ uint32) error {
	if f.uploads == nil {
		f.uploads = make(map[string]string)
	}
	f.uploads[remote] = string(data)
	return nil
}

func (f *fakeTransport) GetConnectionInfo() ssh.ConnectionInfo {
	return ssh.ConnectionInfo{Host: "proc01", Port: 22, User: "insar"}
}

func newTestRemote(t *testing.T, tr *fakeTransport) (*Remote, string) {
	t.Helper()
	local := t.TempDir()
	r, err := NewRemote(tr, local, "/scratch/insar/AtacamaSenAT120", nil)
	require.NoError(t, err)
	return r, local
}

func TestNewRemote_RequiresAbsoluteRemoteDir(t *testing.T) {
	_, err := NewRemote(&fakeTransport{}, t.TempDir(), "scratch/project", nil)
	assert.Error(t, err)
}

func TestRemote_RemotePath(t *testing.T) {
	r, local := newTestRemote(t, &fakeTransport{})

	assert.Equal(t, "/scratch/insar/AtacamaSenAT120", r.RemotePath(local))
	assert.Equal(t, "/scratch/insar/AtacamaSenAT120/run_files/run_01_a",
		r.RemotePath(filepath.Join(local, "run_files", "run_01_a")))
	assert.Equal(t, "/etc/hosts", r.RemotePath("/etc/hosts"))
}

func TestRemote_Run(t *testing.T) {
	tr := &fakeTransport{stdout: "done\n"}
	r, local := newTestRemote(t, tr)
	ctx, logs := loggerContext(t)

	_, err := r.Run(ctx, Command{
		Name: "$ISCE_STACK/topsStack/run.py",
		Args: []string{"-i", "/scratch/insar/AtacamaSenAT120/run_files/run_01_a", "-p", "4"},
		Dir:  local,
		Env:  []string{"OMP_NUM_THREADS=2", "PATH=$PATH:$ISCE_STACK/topsStack"},
	})
	require.NoError(t, err)

	require.Len(t, tr.lines, 1)
	assert.Equal(t,
		`cd /scratch/insar/AtacamaSenAT120 && export OMP_NUM_THREADS="2"; `+
			`export PATH="$PATH:$ISCE_STACK/topsStack"; `+
			"$ISCE_STACK/topsStack/run.py -i /scratch/insar/AtacamaSenAT120/run_files/run_01_a -p 4",
		tr.lines[0])
	assert.Equal(t, 1, tr.connects)
	assert.Contains(t, entries(t, logs.String()), logEntry{Program: "run.py", Stream: "stdout", Message: "done"})

	_, err = r.Run(ctx, Command{Name: "true"})
	require.NoError(t, err)
	assert.Equal(t, 1, tr.connects, "connection is reused")
}

func TestExportValue(t *testing.T) {
	assert.Equal(t, `A="b c"`, exportValue("A=b c"))
	assert.Equal(t, "A=\"say \\\"hi\\\" \\`x\\`\"", exportValue("A=say \"hi\" `x`"))
	assert.Equal(t, `A=""`, exportValue("A"))
}

func TestRemote_Run_Errors(t *testing.T) {
	tests := []struct {
		name      string
		transport *fakeTransport
		wantCode  string
		retryable bool
	}{
		{
			name: "non-zero exit is permanent",
			transport: &fakeTransport{
				exitCode:  2,
				streamErr: &ssh.TransportError{Op: "exec", Err: errors.New("exit status 2")},
			},
			wantCode: engine.ErrCodeCommandFailed,
		},
		{
			name: "dropped session is transient",
			transport: &fakeTransport{
				exitCode:  -1,
				streamErr: &ssh.TransportError{Op: "exec", Err: io.EOF, IsTemporary: true},
			},
			wantCode:  engine.ErrCodeTransport,
			retryable: true,
		},
		{
			name: "connection refused is transient",
			transport: &fakeTransport{
				connectErr: &ssh.TransportError{Op: "connect", Err: fmt.Errorf("dial: connection refused"), IsTemporary: true},
			},
			wantCode:  engine.ErrCodeTransport,
			retryable: true,
		},
		{
			name: "authentication failure is permanent",
			transport: &fakeTransport{
				connectErr: &ssh.TransportError{Op: "connect", Err: errors.New("unable to authenticate"), IsAuthError: true},
			},
			wantCode: engine.ErrCodeTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRemote(t, tt.transport)
			_, err := r.Run(context.Background(), Command{Name: "run.py"})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, engine.CodeOf(err))
			assert.Equal(t, tt.retryable, engine.IsRetryable(err))
		})
	}
}

func TestRemote_UploadRunFile(t *testing.T) {
	tr := &fakeTransport{}
	r, local := newTestRemote(t, tr)

	file := filepath.Join(local, "run_files", "run_02_b")
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0755))
	content := "SentinelWrapper.py -c " + filepath.Join(local, "configs", "config_a") + "\n"
	require.NoError(t, os.WriteFile(file, []byte(content), 0644))

	remote, err := r.UploadRunFile(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, "/scratch/insar/AtacamaSenAT120/run_files/run_02_b", remote)
	assert.Equal(t, "SentinelWrapper.py -c /scratch/insar/AtacamaSenAT120/configs/config_a\n", tr.uploads[remote])

	got, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, content, string(got), "local run file is left alone")

	_, err = r.UploadRunFile(context.Background(), "/etc/hosts")
	require.Error(t, err)
	assert.Equal(t, engine.ErrCodeValidation, engine.CodeOf(err))
}

func TestRemote_UploadRunFile_SharedDirectory(t *testing.T) {
	tr := &fakeTransport{}
	local := t.TempDir()
	r, err := NewRemote(tr, local, local, nil)
	require.NoError(t, err)
	assert.True(t, r.Shared())

	file := filepath.Join(local, "run_files", "run_01_a")
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0755))
	content := "SentinelWrapper.py -c " + filepath.Join(local, "configs", "config_reference") + "\n"
	require.NoError(t, os.WriteFile(file, []byte(content), 0644))

	err = (&SSH{Remote: r, Script: "$ISCE_STACK/topsStack/run.py"}).Execute(context.Background(), file, 2)
	require.NoError(t, err)

	assert.Empty(t, tr.uploads, "nothing is copied onto the shared directory")
	got, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))

	require.Len(t, tr.lines, 1)
	assert.Equal(t, "cd "+local+" && $ISCE_STACK/topsStack/run.py -i "+file+" -p 2", tr.lines[0])
}

func TestSSH_Execute(t *testing.T) {
	tr := &fakeTransport{}
	r, local := newTestRemote(t, tr)

	file := filepath.Join(local, "run_files", "run_03_average_baseline")
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0755))
	require.NoError(t, os.WriteFile(file, []byte("SentinelWrapper.py -c configs/config_a\n"), 0644))

	s := &SSH{Remote: r, Script: "$ISCE_STACK/topsStack/run.py", Env: []string{"OMP_NUM_THREADS=4"}}
	require.NoError(t, s.Execute(context.Background(), file, 0))

	remote := "/scratch/insar/AtacamaSenAT120/run_files/run_03_average_baseline"
	assert.Contains(t, tr.uploads, remote)
	require.Len(t, tr.lines, 1)
	assert.Equal(t,
		`cd /scratch/insar/AtacamaSenAT120 && export OMP_NUM_THREADS="4"; `+
			"$ISCE_STACK/topsStack/run.py -i "+remote+" -p 1",
		tr.lines[0])
}

func TestRemote_Ping(t *testing.T) {
	r, _ := newTestRemote(t, &fakeTransport{stdout: "/opt/isce2/contrib/stack"})
	require.NoError(t, r.Ping(context.Background()))

	r, _ = newTestRemote(t, &fakeTransport{})
	err := r.Ping(context.Background())
	require.Error(t, err)
	assert.Equal(t, engine.ErrCodeNotFound, engine.CodeOf(err))

	r, _ = newTestRemote(t, &fakeTransport{healthy: &ssh.TransportError{Op: "health", Err: io.EOF, IsTemporary: true}})
	err = r.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, engine.IsTransient(err))
}
