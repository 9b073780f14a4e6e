package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/Minimega12121/compss/internal/analyser"
	"github.com/Minimega12121/compss/internal/config"
	"github.com/Minimega12121/compss/internal/dip"
	"github.com/Minimega12121/compss/internal/jobmanager"
	"github.com/Minimega12121/compss/internal/resource"
)

func newTestRuntime(t *testing.T, run func(ctx context.Context, job *jobmanager.Job, payload []byte) ([]byte, error)) *Runtime {
	t.Helper()
	rt := New(Options{
		Config: config.Config{MaxCloudNodes: 0},
		Adapter: jobmanager.NewLocalAdapter(run),
	})
	rt.pool.Add(resource.New(resource.Description{
		Name: "worker-1",
		Kind: resource.KindStatic,
		Implementations: []string{"impl-a"},
	}))
	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(rt.Stop)
	return rt
}

// pollDispatchQueue keeps draining the dispatch queue until ctx is done. A
// task becoming ready reaches the queue asynchronously — the Task Dispatcher
// goroutine, not the caller, is what enqueues the job — so a test waiting on
// a task's outcome polls rather than assuming a single Dispatch call already
// has something to claim.
func pollDispatchQueue(ctx context.Context, rt *Runtime) {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = rt.jobMgr.Dispatch(context.Background(), "test-consumer", 10, nil)
		}
	}
}

func TestSubmitTaskRunsToCompletionThroughBarrier(t *testing.T) {
	rt := newTestRuntime(t, func(_ context.Context, _ *jobmanager.Job, _ []byte) ([]byte, error) {
		return nil, nil
	})
	coreID := rt.RegisterCoreElement("sig-a", []string{"impl-a"})

	appID, err := rt.RegisterApplication(10, "normal", time.Time{})
	if err != nil {
		t.Fatalf("register application: %v", err)
	}

	taskID, err := rt.SubmitTask(appID, coreID, []ParamSpec{{Kind: dip.KindFile, Direction: dip.DirW}}, int(jobmanager.OnFailureFail))
	if err != nil {
		t.Fatalf("submit task: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go pollDispatchQueue(ctx, rt)
	if err := rt.Barrier(ctx, appID); err != nil {
		t.Fatalf("barrier: %v", err)
	}

	task, ok := rt.an.Task(taskID)
	if !ok || task.State != analyser.StateFinished {
		t.Fatalf("expected task finished after barrier, got %+v ok=%v", task, ok)
	}
}

func TestBarrierTimesOutWithoutLeakingWaiter(t *testing.T) {
	rt := newTestRuntime(t, func(ctx context.Context, _ *jobmanager.Job, _ []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	coreID := rt.RegisterCoreElement("sig-a", []string{"impl-a"})
	appID, err := rt.RegisterApplication(10, "normal", time.Time{})
	if err != nil {
		t.Fatalf("register application: %v", err)
	}
	if _, err := rt.SubmitTask(appID, coreID, []ParamSpec{{Kind: dip.KindFile, Direction: dip.DirW}}, int(jobmanager.OnFailureFail)); err != nil {
		t.Fatalf("submit task: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rt.Barrier(ctx, appID); err == nil {
		t.Fatalf("expected barrier to time out while the task is still running")
	}
}

func TestSubmitTaskRejectsUnknownApplication(t *testing.T) {
	rt := newTestRuntime(t, func(context.Context, *jobmanager.Job, []byte) ([]byte, error) { return nil, nil })
	coreID := rt.RegisterCoreElement("sig-a", []string{"impl-a"})
	if _, err := rt.SubmitTask("no-such-app", coreID, nil, 0); err == nil {
		t.Fatalf("expected an error submitting against an unregistered application")
	}
}

func TestCancelStopsAnUnstartedTask(t *testing.T) {
	rt := newTestRuntime(t, func(context.Context, *jobmanager.Job, []byte) ([]byte, error) { return nil, nil })
	coreID := rt.RegisterCoreElement("sig-a", []string{"impl-a"})
	appID, err := rt.RegisterApplication(10, "normal", time.Time{})
	if err != nil {
		t.Fatalf("register application: %v", err)
	}

	writeSpec := ParamSpec{DataID: 0, Kind: dip.KindFile, Direction: dip.DirW}
	writerID, err := rt.SubmitTask(appID, coreID, []ParamSpec{writeSpec}, int(jobmanager.OnFailureFail))
	if err != nil {
		t.Fatalf("submit writer: %v", err)
	}
	writerTask, _ := rt.an.Task(writerID)
	dataID := writerTask.Parameters[0].Access.Info.ID

	readerID, err := rt.SubmitTask(appID, coreID, []ParamSpec{{DataID: dataID, Kind: dip.KindFile, Direction: dip.DirR}}, int(jobmanager.OnFailureFail))
	if err != nil {
		t.Fatalf("submit reader: %v", err)
	}

	rt.Cancel(readerID)
	task, ok := rt.an.Task(readerID)
	if !ok || task.State != analyser.StateCanceled {
		t.Fatalf("expected reader canceled before ever running, got %+v ok=%v", task, ok)
	}
}

func TestDeadlineSweepCancelsExpiredApplicationTasks(t *testing.T) {
	rt := newTestRuntime(t, func(ctx context.Context, _ *jobmanager.Job, _ []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	coreID := rt.RegisterCoreElement("sig-a", []string{"impl-a"})
	appID, err := rt.RegisterApplication(10, "normal", time.Now().Add(-time.Second))
	if err != nil {
		t.Fatalf("register application: %v", err)
	}
	taskID, err := rt.SubmitTask(appID, coreID, []ParamSpec{{Kind: dip.KindFile, Direction: dip.DirW}}, int(jobmanager.OnFailureFail))
	if err != nil {
		t.Fatalf("submit task: %v", err)
	}

	req := &deadlineSweepRequest{baseRequest: newBaseRequest(), now: time.Now()}
	rt.apCh <- req
	req.wait()

	task, ok := rt.an.Task(taskID)
	if !ok || task.State != analyser.StateCanceled {
		t.Fatalf("expected task canceled by the deadline sweep, got %+v ok=%v", task, ok)
	}
}

func TestRegisterCoreElementAssignsIncreasingIDs(t *testing.T) {
	rt := newTestRuntime(t, func(context.Context, *jobmanager.Job, []byte) ([]byte, error) { return nil, nil })
	first := rt.RegisterCoreElement("sig-a", []string{"impl-a"})
	second := rt.RegisterCoreElement("sig-b", []string{"impl-b"})
	if second <= first {
		t.Fatalf("expected core element IDs to increase, got %d then %d", first, second)
	}
	if rt.signatureFor(first) != "sig-a" || rt.signatureFor(second) != "sig-b" {
		t.Fatalf("expected signatureFor to round-trip registered signatures")
	}
}
