package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Run represents one execution of an isceproc command.
type Run struct {
	ID           string     `json:"id"`
	PlanID       string     `json:"plan_id"`
	Project      string     `json:"project"`
	TemplateFile string     `json:"template_file"`
	Command      string     `json:"command"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Total        int        `json:"total"`
	Succeeded    int        `json:"succeeded"`
	Failed       int        `json:"failed"`
	Skipped      int        `json:"skipped"`
	Cancelled    int        `json:"cancelled"`
	Error        *string    `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Step represents the state of one processing step within a run.
type Step struct {
	RunID       string     `json:"run_id"`
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Stage       string     `json:"stage"`
	Position    int        `json:"position"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	Workers     int        `json:"workers"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Event represents an append-only log event.
type Event struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	StepID    *string   `json:"step_id,omitempty"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	UpsertRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	LatestRun(ctx context.Context, templateFile, command, status string) (*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Step operations
	UpsertStep(ctx context.Context, step *Step) error
	ListSteps(ctx context.Context, runID string) ([]*Step, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, runID string, limit int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
