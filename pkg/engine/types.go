package engine

import (
	"context"
	"time"
)

// Stage identifies one phase of the processing pipeline.
type Stage string

const (
	// StageDownload fetches raw SAR scenes through the federated query client.
	StageDownload Stage = "download"

	// StageDEM prepares the digital elevation model.
	StageDEM Stage = "dem"

	// StageRaw unpacks stripmap raw/SLC archives into date folders.
	StageRaw Stage = "raw"

	// StageStack generates the run files and configs with the stack processor.
	StageStack Stage = "stack"

	// StageRunFiles executes the generated run files in order.
	StageRunFiles Stage = "run_files"

	// StageTimeseries inverts the interferogram stack into a time series.
	StageTimeseries Stage = "timeseries"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageDownload, StageDEM, StageRaw, StageStack, StageRunFiles, StageTimeseries}

// Action performs the work of a step.
type Action func(ctx context.Context) error

// Expander produces the child steps of a step at execution time. It is used
// for stages whose work items only exist once earlier stages completed,
// such as the run files generated by the stack processor.
type Expander func(ctx context.Context) ([]*Step, error)

// Step is a unit of work in a processing plan.
type Step struct {
	// ID is the unique identifier for this step within its plan.
	ID string `json:"id"`

	// Name is the human-readable step name (e.g. "run_03_average_baseline").
	Name string `json:"name"`

	// Stage is the pipeline stage this step belongs to.
	Stage Stage `json:"stage"`

	// Position orders steps that have no dependency between them.
	Position int `json:"position"`

	// Dependencies lists step IDs that must succeed before this step.
	Dependencies []string `json:"dependencies,omitempty"`

	// Workers is the number of parallel processes the step may use.
	Workers int `json:"workers"`

	// MaxRetries is the maximum number of retry attempts for transient failures.
	MaxRetries int `json:"max_retries"`

	// Timeout bounds a single attempt; zero means no limit.
	Timeout time.Duration `json:"timeout"`

	// Action runs the step. Steps with an Expander may leave it nil.
	Action Action `json:"-"`

	// Expand yields child steps executed in order right after this step.
	Expand Expander `json:"-"`

	// Status is the current execution status.
	Status StepStatus `json:"status"`

	// Result is the execution result once the step completes.
	Result *StepResult `json:"result,omitempty"`
}

// StepResult represents the outcome of executing a step.
type StepResult struct {
	// StepID is the ID of the step that was executed.
	StepID string `json:"step_id"`

	// Status is the final execution status.
	Status StepStatus `json:"status"`

	// Attempts is the number of attempts made.
	Attempts int `json:"attempts"`

	// StartedAt is when execution started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when execution completed.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total execution time.
	Duration time.Duration `json:"duration"`

	// Error contains error details if execution failed.
	Error *EngineError `json:"error,omitempty"`
}

// Plan is an ordered set of steps for one template.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`

	// Project is the project name derived from the template file name.
	Project string `json:"project"`

	// TemplateFile is the absolute path of the template driving the plan.
	TemplateFile string `json:"template_file"`

	// Command is the CLI command that produced the plan.
	Command string `json:"command"`

	// Steps are the top-level steps of the plan.
	Steps []*Step `json:"steps"`

	// Graph is the computed execution graph.
	Graph *ExecutionGraph `json:"graph,omitempty"`
}

// ExecutionGraph is the ordered view of a plan's dependency graph.
type ExecutionGraph struct {
	// Order lists step IDs in execution order.
	Order []string `json:"order"`

	// Levels maps step IDs to their dependency depth (roots are level 0).
	Levels map[string]int `json:"levels"`

	// Depth is the number of levels in the graph.
	Depth int `json:"depth"`
}

// Run represents one execution of a plan.
type Run struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`

	// PlanID is the ID of the plan being executed.
	PlanID string `json:"plan_id"`

	// Project is the project name.
	Project string `json:"project"`

	// TemplateFile is the template driving the run.
	TemplateFile string `json:"template_file"`

	// Command is the CLI command that started the run.
	Command string `json:"command"`

	// Status is the current run status.
	Status RunStatus `json:"status"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`

	// Summary contains run statistics.
	Summary RunSummary `json:"summary"`

	// Error is the message of the error that ended the run, if any.
	Error string `json:"error,omitempty"`
}

// RunSummary contains summary statistics for a run.
type RunSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Cancelled int `json:"cancelled"`
}

// EventType represents the type of execution event.
type EventType string

const (
	EventTypeRunStarted    EventType = "run.started"
	EventTypeRunCompleted  EventType = "run.completed"
	EventTypeRunFailed     EventType = "run.failed"
	EventTypeStepStarted   EventType = "step.started"
	EventTypeStepCompleted EventType = "step.completed"
	EventTypeStepFailed    EventType = "step.failed"
	EventTypeStepSkipped   EventType = "step.skipped"
	EventTypeStepRetry     EventType = "step.retry"
)

// Event represents an execution event.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	StepID    string    `json:"step_id,omitempty"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
}
