package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/axiomcode/reposync/internal/errors"
)

const (
	// DefaultMaxStepRetries is the number of re-executions a transiently
	// failing step gets before the run fails.
	DefaultMaxStepRetries = 3

	// DefaultRetryInterval is the initial backoff interval between step
	// re-executions.
	DefaultRetryInterval = 500 * time.Millisecond
)

// Engine executes workflows with durable, per-step state.
type Engine struct {
	store   *Store
	cancels *Cancels
	logger  *slog.Logger

	// MaxStepRetries and RetryInterval tune the per-step retry policy.
	MaxStepRetries uint64
	RetryInterval  time.Duration
}

// New creates an engine persisting run state under stateDir.
func New(stateDir string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:          NewStore(stateDir),
		cancels:        NewCancels(stateDir),
		logger:         logger,
		MaxStepRetries: DefaultMaxStepRetries,
		RetryInterval:  DefaultRetryInterval,
	}
}

// Cancels returns the cancellation registry shared with API handlers.
func (e *Engine) Cancels() *Cancels { return e.cancels }

// Store returns the run state store.
func (e *Engine) Store() *Store { return e.store }

// RunContext carries the state of one workflow execution through its steps.
type RunContext struct {
	ctx    context.Context
	engine *Engine
	run    *Run
	log    *slog.Logger
}

// Context returns the execution context.
func (rc *RunContext) Context() context.Context { return rc.ctx }

// Log returns a logger scoped to this run.
func (rc *RunContext) Log() *slog.Logger { return rc.log }

// ProjectID returns the project this run operates on.
func (rc *RunContext) ProjectID() string { return rc.run.ProjectID }

// Execute runs a workflow body with durable step state. If a previous run
// for the same workflow and project failed part-way, this run resumes from
// its state and completed steps are skipped. onFailure, if non-nil, runs
// after the body fails for any reason other than cancellation.
func (e *Engine) Execute(ctx context.Context, workflow, projectID string, body func(rc *RunContext) error, onFailure func(ctx context.Context, runErr error)) error {
	run, err := e.store.Load(workflow, projectID)
	if err != nil {
		return err
	}
	if run.Status == StatusCompleted {
		// Re-running a finished workflow starts a fresh run.
		run = NewRun(workflow, projectID)
	}

	run.Status = StatusRunning
	run.Error = ""
	run.CompletedAt = nil
	if err := e.store.Save(run); err != nil {
		return err
	}

	log := e.logger.With("workflow", workflow, "project", projectID)
	rc := &RunContext{ctx: ctx, engine: e, run: run, log: log}

	log.Info("workflow started")
	err = body(rc)
	e.cancels.Clear(workflow, projectID)

	switch {
	case err == nil:
		run.complete()
		log.Info("workflow completed")
	case errors.AsSyncError(err) != nil && errors.AsSyncError(err).Code == errors.CodeRunCancelled:
		run.cancel()
		log.Info("workflow cancelled")
	default:
		// failStep already recorded the failure; keep the run failed.
		run.Status = StatusFailed
		run.Error = err.Error()
		log.Error("workflow failed", "error", err)
		if onFailure != nil {
			onFailure(ctx, err)
		}
	}

	if saveErr := e.store.Save(run); saveErr != nil {
		log.Error("failed to persist run state", "error", saveErr)
		if err == nil {
			err = saveErr
		}
	}
	return err
}

// checkCancelled observes pending cancellation at a step boundary.
func (rc *RunContext) checkCancelled() error {
	if rc.engine.cancels.Requested(rc.run.Workflow, rc.run.ProjectID) {
		return errors.ErrRunCancelled(rc.run.ProjectID)
	}
	if err := rc.ctx.Err(); err != nil {
		return errors.ErrRunCancelled(rc.run.ProjectID).WithCause(err)
	}
	return nil
}

// Step executes a named step at most once per run. If the step completed in
// a previous attempt of this run, its persisted output is decoded and
// returned without re-execution. Transient failures are retried with
// exponential backoff; permanent failures fail the run immediately.
func Step[T any](rc *RunContext, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if err := rc.checkCancelled(); err != nil {
		return zero, err
	}

	run := rc.run
	if st, ok := run.Steps[name]; ok && st.Status == StatusCompleted {
		rc.log.Debug("step already completed, skipping", "step", name)
		var out T
		if st.Output != "" {
			if err := json.Unmarshal([]byte(st.Output), &out); err != nil {
				return zero, fmt.Errorf("decode persisted output of step %s: %w", name, err)
			}
		}
		return out, nil
	}

	run.startStep(name)
	if err := rc.engine.store.Save(run); err != nil {
		return zero, err
	}
	rc.log.Info("step started", "step", name)

	var (
		out      T
		attempts int
	)
	op := func() error {
		attempts++
		v, err := fn(rc.ctx)
		if err != nil {
			rc.log.Warn("step attempt failed", "step", name, "attempt", attempts, "error", err)
			if !errors.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = rc.engine.RetryInterval
	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, rc.engine.MaxStepRetries), rc.ctx))
	if err != nil {
		run.failStep(name, attempts, err)
		if saveErr := rc.engine.store.Save(run); saveErr != nil {
			rc.log.Error("failed to persist step failure", "step", name, "error", saveErr)
		}
		return zero, fmt.Errorf("step %s: %w", name, err)
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return zero, fmt.Errorf("encode output of step %s: %w", name, err)
	}
	run.completeStep(name, string(encoded), attempts)
	if err := rc.engine.store.Save(run); err != nil {
		return zero, err
	}
	rc.log.Info("step completed", "step", name, "attempts", attempts)
	return out, nil
}

// Do executes a step that produces no output.
func Do(rc *RunContext, name string, fn func(ctx context.Context) error) error {
	_, err := Step(rc, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Sleep pauses the workflow for d, recorded as a durable step so a resumed
// run does not wait again. Cancellation interrupts the pause.
func Sleep(rc *RunContext, name string, d time.Duration) error {
	return Do(rc, name, func(ctx context.Context) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return errors.ErrRunCancelled(rc.run.ProjectID).WithCause(ctx.Err())
		}
	})
}
