// Package jobs tracks asynchronous scrape jobs as a small state machine.
//
// Lifecycle:
//
//	pending ──► running ──► completed
//	   │           │
//	   │           ├──────► failed
//	   ├───────────┼──────► cancelled
//	   └──────────────────► failed
//
// Completed, failed and cancelled are terminal: a job never leaves them.
// Cancellation is only reachable through Registry.Cancel.
package jobs

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is legal.
// Staying in the same non-terminal status is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if s == next {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusFailed || next == StatusCancelled
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	default:
		return false
	}
}

// ParseStatus converts a case-insensitive string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// Job is a snapshot of a tracked job. Snapshots are copies; mutating one
// does not affect the registry.
type Job struct {
	ID        string    `json:"job_id"`
	Subject   string    `json:"username"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Progress is a percentage in [0, 100].
	Progress int `json:"progress"`

	// Result is set only once the job is completed.
	Result any `json:"result,omitempty"`

	// Error is set only once the job has failed.
	Error string `json:"error,omitempty"`

	// ExportArtifacts are the locations of exported files, in creation order.
	ExportArtifacts []string `json:"export_files"`

	// Options are the request parameters the job was submitted with.
	Options any `json:"options,omitempty"`

	// WebhookURL receives a notification when the job finishes.
	WebhookURL string `json:"webhook_url,omitempty"`
}

// Update is a partial modification applied atomically by Registry.Update or
// Registry.Transition.
// Nil fields are left unchanged.
type Update struct {
	Status   *Status
	Progress *int

	// Result is applied only when the resulting status is completed.
	Result any

	// Error is applied only when the resulting status is failed.
	Error *string

	// Artifacts replaces the artifact list; AppendArtifacts extends it.
	Artifacts       []string
	AppendArtifacts []string
}

// Ptr returns a pointer to v, for building Updates inline.
func Ptr[T any](v T) *T {
	return &v
}

// Filter narrows Registry.List.
type Filter struct {
	// Status keeps only jobs in that status when non-nil.
	Status *Status

	// Limit caps the number of returned jobs. Zero means DefaultListLimit.
	Limit int
}

// Stats counts jobs per status.
type Stats struct {
	Total     int `json:"total_jobs"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Active is the number of pending plus running jobs.
func (s Stats) Active() int {
	return s.Pending + s.Running
}
