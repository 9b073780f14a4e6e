package jobmanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Minimega12121/compss/internal/analyser"
	"github.com/Minimega12121/compss/internal/observability"
)

// Listener receives a Job's terminal outcome. The runtime's Access
// Processor implements this to turn it into a TaskEnd request, keeping the
// AP the only mutator of analysis state: Manager never touches task or
// data-graph state itself, it only reduces adapter callbacks to a Result
// and calls back into whatever the caller registered.
type Listener interface {
	JobCompleted(job *Job, outputURI string)
	JobFailed(job *Job, err error)
	JobCancelled(job *Job)
}

// Manager is the Job Manager: it owns Job lifecycle, applies the
// on-failure policy, and drives an Adapter. Grounded on
// internal/scheduler/engine.go's tryAssign/ReportTaskResult pair.
type Manager struct {
	adapter Adapter
	queue DispatchQueue
	logger *slog.Logger
	listener Listener

	mu sync.Mutex
	jobs map[JobID]*Job
	next uint64
}

func NewManager(adapter Adapter, queue DispatchQueue, logger *slog.Logger, listener Listener) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		adapter: adapter,
		queue: queue,
		logger: logger,
		listener: listener,
		jobs: make(map[JobID]*Job),
	}
}

func newLeaseID(jobID JobID, attempt int) string {
	return fmt.Sprintf("lease:%d:%d:%d", jobID, attempt, time.Now().UnixNano())
}

// Submit creates a Job for an already-scheduled task and enqueues it for
// dispatch. It does not block on execution: RunJob happens on whatever
// goroutine drains the DispatchQueue (the adapter pool).
func (m *Manager) Submit(ctx context.Context, taskID analyser.TaskID, resourceName, implementation string, onFailure OnFailurePolicy, maxRetries int) (*Job, error) {
	ctx, span := observability.StartSpan(ctx, "jobmanager.submit", attribute.Int64("task_id", int64(taskID)), attribute.String("resource", resourceName))
	defer span.End()

	m.mu.Lock()
	m.next++
	job := &Job{
		ID: JobID(m.next),
		TaskID: taskID,
		ResourceName: resourceName,
		Implementation: implementation,
		OnFailure: onFailure,
		MaxRetries: maxRetries,
		Attempt: 1,
		State: JobSubmitted,
	}
	job.LeaseID = newLeaseID(job.ID, job.Attempt)
	job.LeaseExpires = time.Now().Add(5 * time.Minute)
	m.jobs[job.ID] = job
	m.mu.Unlock()

	if err := m.queue.Enqueue(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("jobmanager: enqueue job %d: %w", job.ID, err)
	}
	m.logger.Info("job submitted", "job_id", job.ID, "task_id", job.TaskID, "resource", resourceName, "on_failure", onFailure)
	return job, nil
}

// Dispatch claims up to max pending jobs and runs each through the adapter,
// synchronously, from the calling goroutine — intended to be called from
// one or more adapter-pool worker goroutines.
func (m *Manager) Dispatch(ctx context.Context, consumer string, max int, payload func(*Job) []byte) error {
	ctx, span := observability.StartSpan(ctx, "jobmanager.dispatch", attribute.String("consumer", consumer))
	defer span.End()

	claims, err := m.queue.Claim(ctx, max, consumer, 30*time.Second)
	if err != nil {
		return fmt.Errorf("jobmanager: claim: %w", err)
	}
	var acked, nacked []Claim
	for _, c := range claims {
		m.mu.Lock()
		job := m.jobs[c.JobID]
		m.mu.Unlock()
		if job == nil {
			acked = append(acked, c)
			continue
		}
		job.State = JobRunning
		var p []byte
		if payload != nil {
			p = payload(job)
		}
		started := time.Now()
		err := m.adapter.RunJob(ctx, job, p)
		job.Duration = time.Since(started)
		if err != nil {
			m.handleFailure(job, err)
			nacked = append(nacked, c)
			continue
		}
		m.handleSuccess(job, "")
		acked = append(acked, c)
	}
	if len(acked) > 0 {
		if err := m.queue.Ack(ctx, acked); err != nil {
			return fmt.Errorf("jobmanager: ack: %w", err)
		}
	}
	if len(nacked) > 0 {
		if err := m.queue.Nack(ctx, nacked, "error"); err != nil {
			return fmt.Errorf("jobmanager: nack: %w", err)
		}
	}
	return nil
}

func (m *Manager) handleSuccess(job *Job, outputURI string) {
	job.State = JobCompleted
	m.logger.Info("job completed", "job_id", job.ID, "task_id", job.TaskID)
	if m.listener != nil {
		m.listener.JobCompleted(job, outputURI)
	}
}

// handleFailure applies the on-failure policy: RETRY resubmits (bounded by
// MaxRetries) before escalating to FAIL, matching
// internal/scheduler/engine.go's Attempt<=MaxRetries retry-vs-fail check.
func (m *Manager) handleFailure(job *Job, cause error) {
	if job.OnFailure == OnFailureRetry && job.Attempt <= job.MaxRetries {
		job.Attempt++
		job.LeaseID = newLeaseID(job.ID, job.Attempt)
		m.logger.Warn("job failed, retrying", "job_id", job.ID, "attempt", job.Attempt, "cause", cause)
		return
	}
	job.State = JobFailed
	m.logger.Error("job failed terminally", "job_id", job.ID, "on_failure", job.OnFailure, "cause", cause)
	if m.listener != nil {
		if job.OnFailure.ProducesEmptyResultsOnFailure() {
			m.listener.JobCompleted(job, "")
		} else {
			m.listener.JobFailed(job, cause)
		}
	}
}

// Cancel marks a job cancelled. Idempotent: cancelling an already-terminal
// job is a no-op.
func (m *Manager) Cancel(ctx context.Context, jobID JobID) error {
	m.mu.Lock()
	job := m.jobs[jobID]
	m.mu.Unlock()
	if job == nil || isTerminal(job.State) {
		return nil
	}
	if err := m.adapter.CancelJob(ctx, job); err != nil {
		return fmt.Errorf("jobmanager: cancel job %d: %w", jobID, err)
	}
	job.State = JobCancelled
	if m.listener != nil {
		m.listener.JobCancelled(job)
	}
	return nil
}

func isTerminal(s JobState) bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

func (m *Manager) RequeueExpired(ctx context.Context) (int, error) {
	return m.queue.RequeueExpired(ctx, time.Now().UTC(), 0)
}
