package engine

import (
	"context"
	"time"

	"github.com/isceproc/isceproc/pkg/stores"
)

// StoreState persists run state in a stores.Store.
type StoreState struct {
	store stores.Store
}

// NewStoreState creates a StateManager backed by store.
func NewStoreState(store stores.Store) *StoreState {
	return &StoreState{store: store}
}

// SaveRun implements StateManager.
func (s *StoreState) SaveRun(ctx context.Context, run *Run) error {
	record := &stores.Run{
		ID:           run.ID,
		PlanID:       run.PlanID,
		Project:      run.Project,
		TemplateFile: run.TemplateFile,
		Command:      run.Command,
		Status:       string(run.Status),
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
		Total:        run.Summary.Total,
		Succeeded:    run.Summary.Succeeded,
		Failed:       run.Summary.Failed,
		Skipped:      run.Summary.Skipped,
		Cancelled:    run.Summary.Cancelled,
	}
	if run.Error != "" {
		msg := run.Error
		record.Error = &msg
	}
	return s.store.UpsertRun(ctx, record)
}

// SaveStep implements StateManager.
func (s *StoreState) SaveStep(ctx context.Context, runID string, step *Step) error {
	record := &stores.Step{
		RunID:    runID,
		ID:       step.ID,
		Name:     step.Name,
		Stage:    string(step.Stage),
		Position: step.Position,
		Status:   string(step.Status),
		Workers:  step.Workers,
	}
	if record.Name == "" {
		record.Name = step.ID
	}
	if r := step.Result; r != nil {
		record.Attempts = r.Attempts
		record.StartedAt = timePtr(r.StartedAt)
		record.CompletedAt = timePtr(r.CompletedAt)
		if r.Error != nil {
			msg := r.Error.Error()
			record.Error = &msg
		}
	}
	return s.store.UpsertStep(ctx, record)
}

// SaveEvent implements StateManager.
func (s *StoreState) SaveEvent(ctx context.Context, event *Event) error {
	record := &stores.Event{
		ID:        event.ID,
		RunID:     event.RunID,
		Type:      string(event.Type),
		Level:     event.Level,
		Message:   event.Message,
		Timestamp: event.Timestamp,
	}
	if event.StepID != "" {
		stepID := event.StepID
		record.StepID = &stepID
	}
	return s.store.AppendEvent(ctx, record)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
