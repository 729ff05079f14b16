package runner

import (
	"bytes"
	"strings"
	"sync"

	"github.com/isceproc/isceproc/pkg/telemetry"
)

// lineWriter forwards complete lines written to it to the logger.
type lineWriter struct {
	mu      sync.Mutex
	buf     []byte
	logger  *telemetry.Logger
	stream  string
	program string
}

func newLineWriter(logger *telemetry.Logger, program, stream string) *lineWriter {
	return &lineWriter{logger: logger, program: program, stream: stream}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush emits a trailing line without newline.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
}

func (w *lineWriter) emit(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	w.logger.Zerolog().Info().
		Str("program", w.program).
		Str("stream", w.stream).
		Msg(line)
}
