// Package download fetches the raw scenes of a stack with the SSARA
// federated query client.
package download

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/isceproc/isceproc/pkg/engine"
	"github.com/isceproc/isceproc/pkg/runner"
	"github.com/isceproc/isceproc/pkg/telemetry"
	"github.com/isceproc/isceproc/pkg/template"
)

// QueryScript is the SSARA federated query client.
const QueryScript = "ssara_federated_query.py"

// throttledOutput matches what the data providers answer a client that
// sends too many requests.
var throttledOutput = regexp.MustCompile(`(?i)too many requests|http error 429|status(?: code)?:? 429`)

// tailWriter keeps the last max bytes written to it.
type tailWriter struct {
	buf []byte
	max int
}

func (t *tailWriter) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

// Folder returns the folder scenes are downloaded to: SLC/ for
// Sentinel-1 stacks and download/ for stripmap raw data, which is unpacked
// into SLC/ later.
func Folder(processor string) string {
	if processor == template.ProcessorStripmap {
		return "download"
	}
	return "SLC"
}

// Options configure a query.
type Options struct {
	// Values are the template entries; ssaraopt.* entries form the query.
	Values template.Values

	// Processor selects the download folder.
	Processor string

	// Parallel is the number of concurrent downloads; zero leaves the
	// choice to the client or the template.
	Parallel int

	// Dir is the processing directory.
	Dir string
}

// Args returns the query client arguments.
func Args(values template.Values, parallel int) []string {
	if parallel > 0 {
		values = maps.Clone(values)
		delete(values, template.PrefixSsara+"parallel")
	}
	args := append(template.SsaraArgs(values), "--print", "--download")
	if parallel > 0 {
		args = append(args, "--parallel", strconv.Itoa(parallel))
	}
	return args
}

// Downloader runs queries.
type Downloader struct {
	runner runner.Runner
	tel    *telemetry.Telemetry
	settle time.Duration
}

// NewDownloader creates a downloader. A settle of zero uses DefaultSettle.
func NewDownloader(r runner.Runner, tel *telemetry.Telemetry, settle time.Duration) *Downloader {
	if tel == nil {
		tel = telemetry.Disabled()
	}
	return &Downloader{runner: r, tel: tel, settle: settle}
}

// Query downloads the scenes selected by the template into the download
// folder and returns the names of the new files. Scenes already present
// are skipped by the client, so a failed query can simply be repeated.
func (d *Downloader) Query(ctx context.Context, opts Options) ([]string, error) {
	if len(opts.Values.WithPrefix(template.PrefixSsara)) == 0 {
		return nil, engine.NewPermanentError("template has no ssaraopt.* entries to query", nil).
			WithCode(engine.ErrCodeValidation)
	}

	dir := filepath.Join(opts.Dir, Folder(opts.Processor))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download folder: %w", err)
	}

	w := NewWatcher(dir, d.settle, d.tel)
	if err := w.Start(ctx); err != nil {
		return nil, err
	}

	tail := &tailWriter{max: 16 << 10}
	_, runErr := d.runner.Run(ctx, runner.Command{
		Name:   QueryScript,
		Args:   Args(opts.Values, opts.Parallel),
		Dir:    dir,
		Output: tail,
	})
	stopErr := w.Stop()
	scenes := w.Scenes()

	telemetry.FromContext(ctx).Infof("%d new scenes in %s", len(scenes), dir)

	if runErr != nil {
		if engine.CodeOf(runErr) == engine.ErrCodeCommandFailed && throttledOutput.Match(tail.buf) {
			return scenes, engine.NewThrottledError("data provider is rate limiting downloads", runErr).
				WithCode(engine.ErrCodeRateLimited).
				WithOperation("download")
		}
		if engine.CodeOf(runErr) == engine.ErrCodeCommandFailed {
			// Data providers drop connections; a retry resumes the query.
			return scenes, engine.NewTransientError("federated query failed", runErr).
				WithCode(engine.ErrCodeCommandFailed).
				WithOperation("download")
		}
		return scenes, runErr
	}
	if stopErr != nil {
		telemetry.FromContext(ctx).WithError(stopErr).Warn("failed to stop download watcher")
	}
	return scenes, nil
}
