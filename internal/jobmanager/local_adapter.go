package jobmanager

import (
	"context"
	"fmt"
	"sync"
)

// LocalAdapter is an in-process fake used by this module's own tests and by
// single-process local runs. It is grounded only in the *shape* of
// worker/internal/executor/executor.go's config-driven per-task-type
// dispatch and postJSON/postJSONWithRetry helper — never its LLM-specific
// business logic, which sits behind the same Adapter port externally and is
// explicitly out of scope.
//
// A caller-supplied Run function stands in for "send bytes to a worker,
// get bytes back", so the Job Manager's retry/on-failure logic can be
// exercised without any real transport.
type LocalAdapter struct {
	Run func(ctx context.Context, job *Job, payload []byte) ([]byte, error)

	mu sync.Mutex
	stored map[string][]byte
	cancelled map[JobID]bool
}

func NewLocalAdapter(run func(ctx context.Context, job *Job, payload []byte) ([]byte, error)) *LocalAdapter {
	return &LocalAdapter{
		Run: run,
		stored: make(map[string][]byte),
		cancelled: make(map[JobID]bool),
	}
}

func (a *LocalAdapter) RunJob(ctx context.Context, job *Job, payload []byte) error {
	a.mu.Lock()
	if a.cancelled[job.ID] {
		a.mu.Unlock()
		return fmt.Errorf("jobmanager: job %d was cancelled before submission", job.ID)
	}
	a.mu.Unlock()

	out, err := a.Run(ctx, job, payload)
	if err != nil {
		return fmt.Errorf("jobmanager: local run failed: %w", err)
	}
	a.mu.Lock()
	a.stored[fmt.Sprintf("job:%d:output", job.ID)] = out
	a.mu.Unlock()
	return nil
}

func (a *LocalAdapter) CancelJob(_ context.Context, job *Job) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled[job.ID] = true
	return nil
}

func (a *LocalAdapter) GetData(_ context.Context, renaming, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.stored[renaming]; !ok {
		return fmt.Errorf("jobmanager: no such renaming %q", renaming)
	}
	return nil
}

func (a *LocalAdapter) ExistsData(_ context.Context, renaming string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.stored[renaming]
	return ok, nil
}
