package download

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isceproc/isceproc/pkg/engine"
	"github.com/isceproc/isceproc/pkg/runner"
	"github.com/isceproc/isceproc/pkg/runner/runnertest"
	"github.com/isceproc/isceproc/pkg/template"
)

func ssaraValues() template.Values {
	return template.Values{
		"ssaraopt.platform":      "SENTINEL-1A,SENTINEL-1B",
		"ssaraopt.relativeOrbit": "120",
		"ssaraopt.parallel":      "6",
		"isce.processor":         "topsStack",
	}
}

func TestFolder(t *testing.T) {
	assert.Equal(t, "SLC", Folder(template.ProcessorTops))
	assert.Equal(t, "download", Folder(template.ProcessorStripmap))
	assert.Equal(t, "SLC", Folder(""))
}

func TestArgs(t *testing.T) {
	values := ssaraValues()

	got := Args(values, 0)
	want := []string{
		"--parallel=6",
		"--platform=SENTINEL-1A,SENTINEL-1B",
		"--relativeOrbit=120",
		"--print",
		"--download",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Args() mismatch (-want +got):\n%s", diff)
	}

	got = Args(values, 2)
	want = []string{
		"--platform=SENTINEL-1A,SENTINEL-1B",
		"--relativeOrbit=120",
		"--print",
		"--download",
		"--parallel", "2",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Args() with parallel mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "6", values["ssaraopt.parallel"], "template values must not be modified")
}

func TestQuery(t *testing.T) {
	dir := t.TempDir()
	rec := &runnertest.Recorder{
		Hook: func(cmd runner.Command) error {
			return os.WriteFile(filepath.Join(cmd.Dir, "S1B_IW_SLC__1SDV_20210101.zip"), []byte("scene"), 0644)
		},
	}

	d := NewDownloader(rec, nil, time.Hour)
	scenes, err := d.Query(context.Background(), Options{
		Values:    ssaraValues(),
		Processor: template.ProcessorTops,
		Parallel:  4,
		Dir:       dir,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"S1B_IW_SLC__1SDV_20210101.zip"}, scenes)

	cmds := rec.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, QueryScript, cmds[0].Name)
	assert.Equal(t, filepath.Join(dir, "SLC"), cmds[0].Dir)
	assert.Equal(t, []string{"--parallel", "4"}, cmds[0].Args[len(cmds[0].Args)-2:])
}

func TestQuery_StripmapFolder(t *testing.T) {
	dir := t.TempDir()
	rec := &runnertest.Recorder{}

	_, err := NewDownloader(rec, nil, 0).Query(context.Background(), Options{
		Values:    ssaraValues(),
		Processor: template.ProcessorStripmap,
		Dir:       dir,
	})
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(dir, "download"))
	assert.Equal(t, filepath.Join(dir, "download"), rec.Commands()[0].Dir)
}

func TestQuery_NoSsaraOptions(t *testing.T) {
	rec := &runnertest.Recorder{}

	_, err := NewDownloader(rec, nil, 0).Query(context.Background(), Options{
		Values: template.Values{"isce.processor": "topsStack"},
		Dir:    t.TempDir(),
	})
	require.Error(t, err)
	assert.Equal(t, engine.ErrCodeValidation, engine.CodeOf(err))
	assert.Empty(t, rec.Commands())
}

func TestQuery_FailureIsRetryable(t *testing.T) {
	rec := &runnertest.Recorder{
		Hook: func(cmd runner.Command) error {
			return engine.NewPermanentError("ssara_federated_query.py exited with status 1", nil).
				WithCode(engine.ErrCodeCommandFailed)
		},
	}

	_, err := NewDownloader(rec, nil, 0).Query(context.Background(), Options{
		Values: ssaraValues(),
		Dir:    t.TempDir(),
	})
	require.Error(t, err)
	assert.True(t, engine.IsTransient(err))
	assert.Equal(t, engine.ErrCodeCommandFailed, engine.CodeOf(err))
}

func TestQuery_RateLimited(t *testing.T) {
	rec := &runnertest.Recorder{
		Hook: func(cmd runner.Command) error {
			require.NotNil(t, cmd.Output)
			_, _ = io.WriteString(cmd.Output, "Downloading S1A_IW_SLC__1SDV_20190429T101010.zip\n")
			_, _ = io.WriteString(cmd.Output, "urllib.error.HTTPError: HTTP Error 429: Too Many Requests\n")
			return engine.NewPermanentError("ssara_federated_query.py exited with status 1", nil).
				WithCode(engine.ErrCodeCommandFailed)
		},
	}

	_, err := NewDownloader(rec, nil, 0).Query(context.Background(), Options{
		Values: ssaraValues(),
		Dir:    t.TempDir(),
	})
	require.Error(t, err)
	assert.True(t, engine.IsThrottled(err))
	assert.True(t, engine.IsRetryable(err))
	assert.Equal(t, engine.ErrCodeRateLimited, engine.CodeOf(err))
}

func TestTailWriter(t *testing.T) {
	w := &tailWriter{max: 8}
	_, _ = w.Write([]byte("0123"))
	_, _ = w.Write([]byte("456789"))
	assert.Equal(t, "23456789", string(w.buf))
}
