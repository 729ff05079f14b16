package engine

import "context"

// StateManager persists run state so a failed run can be inspected and
// resumed later.
type StateManager interface {
	// SaveRun creates or updates a run.
	SaveRun(ctx context.Context, run *Run) error

	// SaveStep creates or updates the state of a step within a run.
	SaveStep(ctx context.Context, runID string, step *Step) error

	// SaveEvent appends an execution event.
	SaveEvent(ctx context.Context, event *Event) error
}

// EventPublisher receives execution events as they happen.
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// nopState discards all state.
type nopState struct{}

func (nopState) SaveRun(context.Context, *Run) error           { return nil }
func (nopState) SaveStep(context.Context, string, *Step) error { return nil }
func (nopState) SaveEvent(context.Context, *Event) error       { return nil }
