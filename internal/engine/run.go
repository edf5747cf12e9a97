// Package engine provides durable workflow execution for reposync.
//
// A workflow is a sequence of named steps executed against a project. The
// run state is persisted to disk after every step transition, so a retried
// run skips steps that already completed instead of re-executing them.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Status represents the execution status of a run or step.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Run represents the durable state of one workflow execution.
type Run struct {
	Workflow    string                `yaml:"workflow"`
	ProjectID   string                `yaml:"project_id"`
	Status      Status                `yaml:"status"`
	CurrentStep string                `yaml:"current_step,omitempty"`
	StartedAt   time.Time             `yaml:"started_at"`
	UpdatedAt   time.Time             `yaml:"updated_at"`
	CompletedAt *time.Time            `yaml:"completed_at,omitempty"`
	Steps       map[string]*StepState `yaml:"steps"`
	Error       string                `yaml:"error,omitempty"`
}

// StepState records the outcome of a single step within a run. Output holds
// the step's JSON-encoded result so a resumed run can return it without
// re-executing the step.
type StepState struct {
	Status      Status     `yaml:"status"`
	Output      string     `yaml:"output,omitempty"`
	Attempts    int        `yaml:"attempts"`
	StartedAt   time.Time  `yaml:"started_at,omitempty"`
	CompletedAt *time.Time `yaml:"completed_at,omitempty"`
	Error       string     `yaml:"error,omitempty"`
}

// NewRun creates a fresh run for a workflow and project.
func NewRun(workflow, projectID string) *Run {
	now := time.Now()
	return &Run{
		Workflow:  workflow,
		ProjectID: projectID,
		Status:    StatusPending,
		StartedAt: now,
		UpdatedAt: now,
		Steps:     make(map[string]*StepState),
	}
}

// StepCompleted reports whether a step finished successfully in this run.
func (r *Run) StepCompleted(name string) bool {
	st, ok := r.Steps[name]
	return ok && st.Status == StatusCompleted
}

func (r *Run) startStep(name string) *StepState {
	now := time.Now()
	r.CurrentStep = name
	r.UpdatedAt = now

	st := r.Steps[name]
	if st == nil {
		st = &StepState{}
		r.Steps[name] = st
	}
	st.Status = StatusRunning
	st.StartedAt = now
	st.Error = ""
	return st
}

func (r *Run) completeStep(name, output string, attempts int) {
	now := time.Now()
	r.UpdatedAt = now

	st := r.Steps[name]
	if st == nil {
		st = &StepState{}
		r.Steps[name] = st
	}
	st.Status = StatusCompleted
	st.Output = output
	st.Attempts = attempts
	st.CompletedAt = &now
	st.Error = ""
}

func (r *Run) failStep(name string, attempts int, err error) {
	now := time.Now()
	r.Status = StatusFailed
	r.UpdatedAt = now
	r.Error = err.Error()

	st := r.Steps[name]
	if st == nil {
		st = &StepState{}
		r.Steps[name] = st
	}
	st.Status = StatusFailed
	st.Attempts = attempts
	st.Error = err.Error()
}

func (r *Run) complete() {
	now := time.Now()
	r.Status = StatusCompleted
	r.CurrentStep = ""
	r.CompletedAt = &now
	r.UpdatedAt = now
	r.Error = ""
}

func (r *Run) cancel() {
	now := time.Now()
	r.Status = StatusCancelled
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// Store persists run state as YAML files under a state directory.
type Store struct {
	dir string
}

// NewStore creates a run store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(workflow, projectID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s.yaml", workflow, projectID))
}

// Load reads the run state for a workflow and project. A missing file
// yields a fresh run, so first executions and resumed executions follow
// the same path.
func (s *Store) Load(workflow, projectID string) (*Run, error) {
	data, err := os.ReadFile(s.path(workflow, projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return NewRun(workflow, projectID), nil
		}
		return nil, fmt.Errorf("read run state for %s/%s: %w", workflow, projectID, err)
	}

	var r Run
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse run state for %s/%s: %w", workflow, projectID, err)
	}
	if r.Steps == nil {
		r.Steps = make(map[string]*StepState)
	}
	return &r, nil
}

// Save persists the run state to disk.
func (s *Store) Save(r *Run) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}
	if err := os.WriteFile(s.path(r.Workflow, r.ProjectID), data, 0644); err != nil {
		return fmt.Errorf("write run state: %w", err)
	}
	return nil
}

// Delete removes the persisted state for a run. Used when a fresh
// execution should start from scratch.
func (s *Store) Delete(workflow, projectID string) error {
	err := os.Remove(s.path(workflow, projectID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete run state: %w", err)
	}
	return nil
}
