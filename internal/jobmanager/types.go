// Package jobmanager submits assigned tasks to worker adapters and reduces
// their lifecycle callbacks back into a terminal outcome for the runtime
// core, applying the task's on-failure policy along the way.
package jobmanager

import (
	"time"

	"github.com/Minimega12121/compss/internal/analyser"
)

// OnFailurePolicy mirrors the four policies a task can select.
type OnFailurePolicy int

const (
	OnFailureRetry OnFailurePolicy = iota
	OnFailureFail
	OnFailureIgnore
	OnFailureCancelSuccessors
)

func (p OnFailurePolicy) String() string {
	switch p {
	case OnFailureRetry:
		return "RETRY"
	case OnFailureFail:
		return "FAIL"
	case OnFailureIgnore:
		return "IGNORE"
	case OnFailureCancelSuccessors:
		return "CANCEL_SUCCESSORS"
	default:
		return "UNKNOWN"
	}
}

// ProducesEmptyResultsOnFailure reports whether a failed task under this
// policy should still be treated as having produced (empty) outputs.
// CANCEL_SUCCESSORS is deliberately excluded: it must reach JobFailed so the
// runtime can cascade cancellation to the task's successors, not be folded
// into a silent success.
func (p OnFailurePolicy) ProducesEmptyResultsOnFailure() bool {
	return p == OnFailureIgnore
}

// JobState is the terminal or in-flight state of a submitted Job.
type JobState int

const (
	JobSubmitted JobState = iota
	JobRunning
	JobCompleted
	JobFailed
	JobCancelled
)

// Job wraps one task assigned to one resource, the chosen implementation
// name, and enough retry state to honor the on-failure policy. Grounded on
// internal/scheduler/engine.go's TaskRecord lease/attempt fields.
type Job struct {
	ID JobID
	TaskID analyser.TaskID
	ResourceName string
	Implementation string
	OnFailure OnFailurePolicy
	MaxRetries int
	Attempt int

	LeaseID string
	LeaseExpires time.Time

	State JobState
	// Duration is set once the job leaves the adapter, successfully or
	// not, and fed into the persisted execution profile.
	Duration time.Duration
}

type JobID uint64

// Result is what an Adapter or a callback hands back to the JobManager once
// a job leaves the worker.
type Result struct {
	JobID JobID
	State JobState
	Error string
	OutputURI string
	Duration time.Duration
}
