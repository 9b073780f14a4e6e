package jobmanager

import (
	"context"
	"errors"
	"testing"

	"github.com/Minimega12121/compss/internal/analyser"
)

type scriptedAdapter struct {
	fail func(attempt int) bool
}

func (a *scriptedAdapter) RunJob(_ context.Context, job *Job, _ []byte) error {
	if a.fail != nil && a.fail(job.Attempt) {
		return errors.New("boom")
	}
	return nil
}
func (a *scriptedAdapter) CancelJob(_ context.Context, _ *Job) error         { return nil }
func (a *scriptedAdapter) GetData(_ context.Context, _, _ string) error     { return nil }
func (a *scriptedAdapter) ExistsData(_ context.Context, _ string) (bool, error) { return true, nil }

type recordingListener struct {
	completed []*Job
	failed    []*Job
	cancelled []*Job
}

func (l *recordingListener) JobCompleted(job *Job, _ string) { l.completed = append(l.completed, job) }
func (l *recordingListener) JobFailed(job *Job, _ error)     { l.failed = append(l.failed, job) }
func (l *recordingListener) JobCancelled(job *Job)           { l.cancelled = append(l.cancelled, job) }

func TestSubmitDispatchSuccessNotifiesJobCompleted(t *testing.T) {
	listener := &recordingListener{}
	m := NewManager(&scriptedAdapter{}, NewMemoryDispatchQueue(), nil, listener)

	job, err := m.Submit(context.Background(), analyser.TaskID(1), "worker-1", "impl-a", OnFailureFail, 0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := m.Dispatch(context.Background(), "consumer-1", 10, nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(listener.completed) != 1 || listener.completed[0].ID != job.ID {
		t.Fatalf("expected job %d reported completed, got %v", job.ID, listener.completed)
	}
}

func TestHandleFailureRetriesUpToMaxThenFails(t *testing.T) {
	listener := &recordingListener{}
	adapter := &scriptedAdapter{fail: func(attempt int) bool { return true }}
	m := NewManager(adapter, NewMemoryDispatchQueue(), nil, listener)

	job, err := m.Submit(context.Background(), analyser.TaskID(1), "worker-1", "impl-a", OnFailureRetry, 2)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := m.Dispatch(context.Background(), "consumer-1", 10, nil); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}
	if len(listener.failed) != 1 || listener.failed[0].ID != job.ID {
		t.Fatalf("expected exactly one terminal failure after exhausting retries, got %v", listener.failed)
	}
	if job.Attempt != 3 {
		t.Fatalf("expected 1 initial attempt plus 2 retries (attempt=3), got %d", job.Attempt)
	}
}

func TestHandleFailureUnderIgnoreProducesEmptyResultsNotJobFailed(t *testing.T) {
	listener := &recordingListener{}
	adapter := &scriptedAdapter{fail: func(int) bool { return true }}
	m := NewManager(adapter, NewMemoryDispatchQueue(), nil, listener)

	if _, err := m.Submit(context.Background(), analyser.TaskID(1), "worker-1", "impl-a", OnFailureIgnore, 0); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := m.Dispatch(context.Background(), "consumer-1", 10, nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(listener.failed) != 0 {
		t.Fatalf("expected IGNORE to never call JobFailed, got %v", listener.failed)
	}
	if len(listener.completed) != 1 {
		t.Fatalf("expected IGNORE to synthesize a JobCompleted with empty output, got %v", listener.completed)
	}
}

func TestHandleFailureUnderCancelSuccessorsReachesJobFailed(t *testing.T) {
	listener := &recordingListener{}
	adapter := &scriptedAdapter{fail: func(int) bool { return true }}
	m := NewManager(adapter, NewMemoryDispatchQueue(), nil, listener)

	if _, err := m.Submit(context.Background(), analyser.TaskID(1), "worker-1", "impl-a", OnFailureCancelSuccessors, 0); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := m.Dispatch(context.Background(), "consumer-1", 10, nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(listener.completed) != 0 {
		t.Fatalf("expected CANCEL_SUCCESSORS to never be folded into JobCompleted, got %v", listener.completed)
	}
	if len(listener.failed) != 1 {
		t.Fatalf("expected CANCEL_SUCCESSORS to reach JobFailed so the runtime can cascade cancellation, got %v", listener.failed)
	}
}

func TestCancelIsIdempotentOnTerminalJob(t *testing.T) {
	listener := &recordingListener{}
	m := NewManager(&scriptedAdapter{}, NewMemoryDispatchQueue(), nil, listener)

	job, err := m.Submit(context.Background(), analyser.TaskID(1), "worker-1", "impl-a", OnFailureFail, 0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := m.Dispatch(context.Background(), "consumer-1", 10, nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := m.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(listener.cancelled) != 0 {
		t.Fatalf("expected Cancel on an already-completed job to be a no-op, got %v", listener.cancelled)
	}
}
