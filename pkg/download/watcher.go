package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"

	"github.com/isceproc/isceproc/pkg/telemetry"
)

// DefaultSettle is how long a file must stay unchanged before it counts as
// downloaded.
const DefaultSettle = 2 * time.Second

// Watcher reports scene files that appear in a download folder.
type Watcher struct {
	dir     string
	settle  time.Duration
	metrics *telemetry.Metrics
	logger  *telemetry.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu      sync.Mutex
	seen    map[string]bool
	pending map[string]*time.Timer
	scenes  []string
}

// NewWatcher creates a watcher for dir. A settle of zero uses
// DefaultSettle.
func NewWatcher(dir string, settle time.Duration, tel *telemetry.Telemetry) *Watcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	if tel == nil {
		tel = telemetry.Disabled()
	}
	return &Watcher{
		dir:     dir,
		settle:  settle,
		metrics: tel.Metrics,
		seen:    make(map[string]bool),
		pending: make(map[string]*time.Timer),
	}
}

// Start begins watching. Files already present are not reported.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger = telemetry.FromContext(ctx)

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", w.dir, err)
	}
	for _, e := range entries {
		w.seen[e.Name()] = true
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	go w.processEvents(ctx)

	w.logger.Debugf("watching %s for new scenes", w.dir)
	return nil
}

// processEvents debounces write events per file.
func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if ignored(name) {
				continue
			}

			w.mu.Lock()
			if !w.seen[name] {
				if t, ok := w.pending[name]; ok {
					t.Stop()
				}
				w.pending[name] = time.AfterFunc(w.settle, func() { w.settled(name) })
			}
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("download watcher error")
		}
	}
}

// settled reports name once no write was seen for the settle period.
func (w *Watcher) settled(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.pending, name)
	w.reportLocked(name)
}

func (w *Watcher) reportLocked(name string) {
	if w.seen[name] {
		return
	}
	info, err := os.Stat(filepath.Join(w.dir, name))
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	w.seen[name] = true
	w.scenes = append(w.scenes, name)
	w.metrics.RecordSceneDownloaded()
	w.logger.Zerolog().Info().
		Str("scene", name).
		Str("size", humanize.Bytes(uint64(info.Size()))).
		Int("count", len(w.scenes)).
		Msg("scene downloaded")
}

// Stop ends watching and reports files that appeared since Start but were
// not reported yet.
func (w *Watcher) Stop() error {
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	<-w.done
	w.watcher = nil

	w.mu.Lock()
	defer w.mu.Unlock()

	for name, t := range w.pending {
		t.Stop()
		delete(w.pending, name)
	}

	entries, readErr := os.ReadDir(w.dir)
	if readErr != nil {
		return readErr
	}
	for _, e := range entries {
		if !ignored(e.Name()) {
			w.reportLocked(e.Name())
		}
	}
	return err
}

// Scenes returns the names of the scenes reported so far.
func (w *Watcher) Scenes() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.scenes...)
}

// ignored reports whether name is a partial or hidden file.
func ignored(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, ext := range []string{".part", ".tmp", ".aria2", ".crdownload"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
