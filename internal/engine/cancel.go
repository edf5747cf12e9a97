package engine

import (
	"fmt"
	"os"
	"path/filepath"
)

// Cancels tracks cancellation requests keyed by workflow and project.
// Requests are marker files in the state dir, so a request made from one
// process (the CLI) is observed by a workflow running in another (the
// server) at its next step boundary.
type Cancels struct {
	dir string
}

// NewCancels creates a cancellation registry backed by dir.
func NewCancels(dir string) *Cancels {
	return &Cancels{dir: dir}
}

func (c *Cancels) path(workflow, projectID string) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s-%s.cancel", workflow, projectID))
}

// Request marks a workflow run for cancellation. It is a no-op if no run
// is active; the marker is cleared when a run observes it or finishes.
func (c *Cancels) Request(workflow, projectID string) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := os.WriteFile(c.path(workflow, projectID), nil, 0644); err != nil {
		return fmt.Errorf("write cancel marker: %w", err)
	}
	return nil
}

// Requested reports whether cancellation is pending for a run.
func (c *Cancels) Requested(workflow, projectID string) bool {
	_, err := os.Stat(c.path(workflow, projectID))
	return err == nil
}

// Clear removes a pending cancellation marker.
func (c *Cancels) Clear(workflow, projectID string) {
	_ = os.Remove(c.path(workflow, projectID))
}
