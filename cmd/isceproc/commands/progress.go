package commands

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/isceproc/isceproc/pkg/engine"
)

// progress prints step transitions for the user while the log goes to
// stderr.
type progress struct {
	mu sync.Mutex
	w  io.Writer
}

var _ engine.EventPublisher = (*progress)(nil)

func (p *progress) Publish(_ context.Context, e *engine.Event) error {
	var mark string
	switch e.Type {
	case engine.EventTypeStepStarted:
		mark = "→"
	case engine.EventTypeStepCompleted:
		mark = "✓"
	case engine.EventTypeStepFailed:
		mark = "✗"
	case engine.EventTypeStepSkipped:
		mark = "-"
	case engine.EventTypeStepRetry:
		mark = "↻"
	default:
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.w, "%s %s: %s\n", mark, e.StepID, e.Message)
	return err
}
