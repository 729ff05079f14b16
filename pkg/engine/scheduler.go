package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/isceproc/isceproc/pkg/telemetry"
)

// Scheduler executes the steps of a plan strictly one after another in
// dependency order. Parallelism lives inside a step (its worker processes),
// never between steps: every processing stage reads the output of the
// previous one from disk.
type Scheduler struct {
	state     StateManager
	publisher EventPublisher
	tel       *telemetry.Telemetry
	logger    *telemetry.Logger

	// baseDelay is the first retry delay for transient errors.
	baseDelay time.Duration

	// maxDelay caps the retry delay.
	maxDelay time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithEventPublisher forwards every execution event to p.
func WithEventPublisher(p EventPublisher) Option {
	return func(s *Scheduler) { s.publisher = p }
}

// WithRetryDelay overrides the base and maximum retry delay.
func WithRetryDelay(base, maxDelay time.Duration) Option {
	return func(s *Scheduler) {
		s.baseDelay = base
		s.maxDelay = maxDelay
	}
}

// NewScheduler creates a scheduler persisting state through state. A nil
// state discards it; a nil tel disables telemetry.
func NewScheduler(state StateManager, tel *telemetry.Telemetry, opts ...Option) *Scheduler {
	if state == nil {
		state = nopState{}
	}
	if tel == nil {
		tel = telemetry.Disabled()
	}

	s := &Scheduler{
		state:     state,
		tel:       tel,
		logger:    tel.Logger.NewComponentLogger("scheduler"),
		baseDelay: time.Second,
		maxDelay:  time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs plan and returns the finished run. The returned error is the
// error of the first failed step, or the context error on cancellation.
// The run is returned in both cases.
func (s *Scheduler) Execute(ctx context.Context, plan *Plan) (*Run, error) {
	if plan == nil {
		return nil, NewPermanentError("plan is nil", nil).WithCode(ErrCodeValidation)
	}

	queue, err := OrderedSteps(plan)
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:           uuid.New().String(),
		PlanID:       plan.ID,
		Project:      plan.Project,
		TemplateFile: plan.TemplateFile,
		Command:      plan.Command,
		Status:       RunStatusRunning,
		StartedAt:    time.Now(),
	}

	if err := s.state.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	logger := s.logger.WithRunID(run.ID)
	ctx, span := s.tel.Tracer.StartRunSpan(ctx, run.ID, run.Command, run.Project)
	ctx = logger.WithContext(ctx)
	s.tel.Metrics.RecordRunStarted(run.Command)
	s.publishEvent(ctx, run.ID, "", EventTypeRunStarted,
		fmt.Sprintf("Run started for %s", plan.Project), "info")
	logger.Infof("starting %s for %s (%d steps)", run.Command, plan.Project, len(queue))

	var runErr error
	executed := make([]*Step, 0, len(queue))

	for i := 0; i < len(queue); i++ {
		step := queue[i]
		executed = append(executed, step)

		if runErr != nil || ctx.Err() != nil {
			s.markNotRun(ctx, run, step, runErr)
			continue
		}

		if err := s.executeStep(ctx, run, step); err != nil {
			runErr = err
			continue
		}

		if step.Expand == nil {
			continue
		}
		children, err := step.Expand(ctx)
		if err != nil {
			runErr = s.failStep(ctx, run, step, err)
			continue
		}
		for n, child := range children {
			if len(child.Dependencies) == 0 {
				child.Dependencies = []string{step.ID}
			}
			child.Position = step.Position*1000 + n
		}
		queue = append(queue[:i+1], append(children, queue[i+1:]...)...)
		logger.Infof("step %s expanded into %d steps", step.ID, len(children))
	}

	if runErr == nil && ctx.Err() != nil {
		runErr = NewPermanentError("execution cancelled", ctx.Err()).WithCode(ErrCodeCancelled)
	}

	run.Summary = summarize(executed)
	completedAt := time.Now()
	run.CompletedAt = &completedAt
	run.Duration = completedAt.Sub(run.StartedAt)

	switch {
	case runErr == nil:
		run.Status = RunStatusSucceeded
	case errors.Is(runErr, context.Canceled) || CodeOf(runErr) == ErrCodeCancelled:
		run.Status = RunStatusCancelled
		run.Error = runErr.Error()
	default:
		run.Status = RunStatusFailed
		run.Error = runErr.Error()
	}

	// The run context may already be cancelled; final state is still written.
	saveCtx := context.WithoutCancel(ctx)
	if err := s.state.SaveRun(saveCtx, run); err != nil {
		logger.WithError(err).Warn("failed to save final run state")
	}

	s.tel.Metrics.RecordRunCompleted(run.Command, string(run.Status), run.Duration)
	span.SetAttributes(telemetry.AttrRunStatus.String(string(run.Status)))
	telemetry.EndSpan(span, runErr)

	if run.Status == RunStatusSucceeded {
		s.publishEvent(saveCtx, run.ID, "", EventTypeRunCompleted, "Run completed successfully", "info")
		logger.Infof("run completed in %s", run.Duration.Round(time.Second))
	} else {
		s.publishEvent(saveCtx, run.ID, "", EventTypeRunFailed,
			fmt.Sprintf("Run finished with status %s: %v", run.Status, runErr), "error")
		logger.WithError(runErr).Errorf("run finished with status %s", run.Status)
	}

	return run, runErr
}

// executeStep runs a single step with retry logic.
func (s *Scheduler) executeStep(ctx context.Context, run *Run, step *Step) error {
	logger := telemetry.FromContext(ctx).WithStep(step.ID)
	ctx, span := s.tel.Tracer.StartStepSpan(ctx, step.ID, string(step.Stage))
	ctx = logger.WithContext(ctx)

	step.Status = StepStatusRunning
	result := &StepResult{StepID: step.ID, Status: StepStatusRunning, StartedAt: time.Now()}
	step.Result = result
	s.saveStep(ctx, run.ID, step)
	s.publishEvent(ctx, run.ID, step.ID, EventTypeStepStarted,
		fmt.Sprintf("Started %s", step.Name), "info")
	logger.Infof("step started (workers=%d)", step.Workers)

	var err error
	for attempt := 0; attempt <= step.MaxRetries; attempt++ {
		result.Attempts = attempt + 1
		err = s.attempt(ctx, step)
		if err == nil || !IsRetryable(err) || attempt >= step.MaxRetries {
			break
		}

		backoff := s.calculateBackoff(attempt, err)
		s.tel.Metrics.RecordStepRetry(string(step.Stage))
		s.publishEvent(ctx, run.ID, step.ID, EventTypeStepRetry,
			fmt.Sprintf("Retrying after failure (attempt %d/%d): %v", attempt+1, step.MaxRetries+1, err),
			"warning")
		logger.WithError(err).Warnf("retrying in %s", backoff.Round(time.Millisecond))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			err = ctx.Err()
		}
		if ctx.Err() != nil {
			break
		}
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)

	if err != nil {
		telemetry.EndSpan(span, err)
		return s.failStep(ctx, run, step, err)
	}

	step.Status = StepStatusSucceeded
	result.Status = StepStatusSucceeded
	s.saveStep(ctx, run.ID, step)
	s.tel.Metrics.RecordStepExecution(string(step.Stage), step.Name, string(StepStatusSucceeded), result.Duration)
	s.publishEvent(ctx, run.ID, step.ID, EventTypeStepCompleted,
		fmt.Sprintf("Completed %s in %s", step.Name, result.Duration.Round(time.Second)), "info")
	logger.Infof("step succeeded in %s", result.Duration.Round(time.Second))
	telemetry.EndSpan(span, nil)
	return nil
}

// attempt runs the step's action once, bounded by its timeout.
func (s *Scheduler) attempt(ctx context.Context, step *Step) error {
	if step.Action == nil {
		return nil
	}
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	err := step.Action(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		return NewPermanentError(fmt.Sprintf("step timed out after %s", step.Timeout), err).
			WithCode(ErrCodeTimeout).WithStep(step.ID)
	}
	return err
}

// failStep records the failure of step and returns the classified error.
func (s *Scheduler) failStep(ctx context.Context, run *Run, step *Step, err error) error {
	engineErr := classifyError(err).WithStep(step.ID)

	status := StepStatusFailed
	if errors.Is(err, context.Canceled) {
		status = StepStatusCancelled
	}

	step.Status = status
	if step.Result == nil {
		step.Result = &StepResult{StepID: step.ID, StartedAt: time.Now(), CompletedAt: time.Now()}
	}
	step.Result.Status = status
	step.Result.Error = engineErr

	saveCtx := context.WithoutCancel(ctx)
	s.saveStep(saveCtx, run.ID, step)
	s.tel.Metrics.RecordStepExecution(string(step.Stage), step.Name, string(status), step.Result.Duration)
	s.tel.Metrics.RecordError(string(engineErr.Class), engineErr.Code)
	s.publishEvent(saveCtx, run.ID, step.ID, EventTypeStepFailed,
		fmt.Sprintf("Failed %s: %v", step.Name, err), "error")
	telemetry.FromContext(ctx).WithStep(step.ID).WithError(err).Error("step failed")

	return engineErr
}

// markNotRun marks a step that will not run because an earlier step failed
// or the run was cancelled.
func (s *Scheduler) markNotRun(ctx context.Context, run *Run, step *Step, cause error) {
	status := StepStatusSkipped
	reason := "an earlier step failed"
	if cause == nil || errors.Is(cause, context.Canceled) || CodeOf(cause) == ErrCodeCancelled {
		status = StepStatusCancelled
		reason = "run cancelled"
	}

	now := time.Now()
	step.Status = status
	step.Result = &StepResult{
		StepID:      step.ID,
		Status:      status,
		StartedAt:   now,
		CompletedAt: now,
		Error: NewPermanentError(reason, nil).
			WithCode(ErrCodeDependencyFailed).
			WithStep(step.ID),
	}

	saveCtx := context.WithoutCancel(ctx)
	s.saveStep(saveCtx, run.ID, step)
	s.publishEvent(saveCtx, run.ID, step.ID, EventTypeStepSkipped,
		fmt.Sprintf("Skipped %s: %s", step.Name, reason), "warning")
}

// calculateBackoff calculates exponential backoff with jitter.
func (s *Scheduler) calculateBackoff(attempt int, err error) time.Duration {
	baseDelay := s.baseDelay

	// Data providers that throttle want a longer pause.
	if IsThrottled(err) {
		baseDelay *= 5
	}

	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > s.maxDelay {
		delay = s.maxDelay
	}

	// Jitter of up to ±25%.
	jitter := time.Duration(float64(delay) * 0.25 * (2*rand.Float64() - 1))
	return delay + jitter
}

// classifyError converts an error into an EngineError, keeping an existing
// classification.
func classifyError(err error) *EngineError {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr
	}
	if errors.Is(err, context.Canceled) {
		return NewPermanentError("execution cancelled", err).WithCode(ErrCodeCancelled)
	}
	return NewPermanentError("step failed", err).WithCode(ErrCodeInternal)
}

// summarize counts the final statuses of steps.
func summarize(steps []*Step) RunSummary {
	summary := RunSummary{Total: len(steps)}
	for _, step := range steps {
		switch step.Status {
		case StepStatusSucceeded:
			summary.Succeeded++
		case StepStatusFailed:
			summary.Failed++
		case StepStatusSkipped:
			summary.Skipped++
		case StepStatusCancelled:
			summary.Cancelled++
		}
	}
	return summary
}

func (s *Scheduler) saveStep(ctx context.Context, runID string, step *Step) {
	if err := s.state.SaveStep(ctx, runID, step); err != nil {
		s.logger.WithRunID(runID).WithStep(step.ID).WithError(err).Warn("failed to save step state")
	}
}

// publishEvent persists an execution event and forwards it to the publisher.
func (s *Scheduler) publishEvent(
	ctx context.Context,
	runID, stepID string,
	eventType EventType,
	message, level string,
) {
	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     runID,
		StepID:    stepID,
		Message:   message,
		Level:     level,
	}

	if err := s.state.SaveEvent(ctx, event); err != nil {
		s.logger.WithRunID(runID).WithError(err).Warn("failed to save event")
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.WithRunID(runID).WithError(err).Debug("failed to publish event")
		}
	}
}
