package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/Minimega12121/compss/internal/analyser"
	"github.com/Minimega12121/compss/internal/app"
	"github.com/Minimega12121/compss/internal/dip"
)

// RegisterApplication admits a new application under the policy engine's
// register-time quota, returning its external ID. deadline is a wall-clock
// limit on the application's total run time; the zero value means
// unbounded. Once passed, the runtime's deadline sweep cancels every task
// the application still owns, the same as an explicit Cancel call per task.
func (rt *Runtime) RegisterApplication(throttle int, priority string, deadline time.Time) (app.ID, error) {
	req := &registerApplicationRequest{baseRequest: newBaseRequest(), throttle: throttle, priority: priority, deadline: deadline}
	rt.post(req)
	return req.result, req.err
}

// EndApplication closes any groups the application left open, notifies the
// checkpoint/observability monitor and drops it from the registry.
func (rt *Runtime) EndApplication(id app.ID) {
	req := &endApplicationRequest{baseRequest: newBaseRequest(), appID: id}
	rt.post(req)
}

// OpenTaskGroup pushes a new task group for the application.
func (rt *Runtime) OpenTaskGroup(id app.ID, name string, onFailure int) {
	req := &openGroupRequest{baseRequest: newBaseRequest(), appID: id, name: name, onFailure: onFailure}
	rt.post(req)
}

// CloseCurrentTaskGroup pops the innermost open group.
func (rt *Runtime) CloseCurrentTaskGroup(id app.ID) error {
	req := &closeGroupRequest{baseRequest: newBaseRequest(), appID: id}
	rt.post(req)
	return req.err
}

// ParamSpec is what a caller supplies for one task parameter before it has
// been resolved into an analyser.Parameter: a data reference plus the
// direction it is being accessed with.
type ParamSpec struct {
	DataID dip.DataID // zero means "create a fresh Data of Kind"
	Kind dip.Kind
	Direction dip.Direction
	Name string
	Prefix string
}

// AccessData resolves one parameter against the DIP for a standalone
// main-program access (reading or writing a value outside of any task),
// advancing version bookkeeping on its own. Task submission does not use
// this: SubmitTask resolves its own parameters atomically so two concurrent
// submissions can never interleave their WillAccess calls.
func (rt *Runtime) AccessData(appID app.ID, spec ParamSpec) (*dip.AccessID, error) {
	req := &accessDataRequest{baseRequest: newBaseRequest(), appID: appID, dataID: spec.DataID, kind: spec.Kind, direction: spec.Direction}
	rt.post(req)
	if req.err != nil {
		return nil, req.err
	}
	return req.result, nil
}

// SubmitTask resolves every parameter's data access and registers the task
// in a single Access Processor round-trip, honoring the application's
// throttle: the caller blocks here until a submission slot is free. The
// slot is held for the task's entire lifetime and released only once the
// task reaches a terminal state, not once it has merely been analysed —
// that is what actually bounds how many tasks an application can have
// running at once.
func (rt *Runtime) SubmitTask(appID app.ID, coreID int, specs []ParamSpec, onFailure int) (analyser.TaskID, error) {
	rt.mu.Lock()
	a := rt.apps[appID]
	rt.mu.Unlock()
	if a == nil {
		return 0, fmt.Errorf("runtime: unknown application %s", appID)
	}

	a.AcquireThrottle()

	req := &submitTaskRequest{baseRequest: newBaseRequest(), appID: appID, coreID: coreID, specs: specs, onFailure: onFailure}
	rt.post(req)
	if req.err != nil {
		a.ReleaseThrottle()
		return 0, req.err
	}
	return req.result, nil
}

// DeleteData marks a Data no longer needed by the application that owns it.
// Physical release is deferred until every pending version drains.
func (rt *Runtime) DeleteData(id dip.DataID) {
	req := &deleteDataRequest{baseRequest: newBaseRequest(), dataID: id}
	rt.post(req)
}

// Barrier blocks until every task the application currently owns has
// reached a terminal state. It respects ctx cancellation without
// leaking the waiter: on timeout the caller stops waiting but the barrier
// entry is left to fire harmlessly into a channel nothing reads again.
func (rt *Runtime) Barrier(ctx context.Context, id app.ID) error {
	req := &barrierRequest{appID: id, done: make(chan struct{})}
	rt.apCh <- req
	select {
	case <-req.done:
		rt.mu.Lock()
		a := rt.apps[id]
		rt.mu.Unlock()
		if a != nil && a.AnyGroupFailed() {
			return fmt.Errorf("runtime: application %s has a failed task group", id)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetResultFiles returns the Data ids the application still owns, i.e. its
// live outputs: a caller uses this after a Barrier to learn what to
// fetch.
func (rt *Runtime) GetResultFiles(id app.ID) []uint64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	a := rt.apps[id]
	if a == nil {
		return nil
	}
	return a.Data()
}

// Cancel cancels a task; idempotent on an already-terminal task.
func (rt *Runtime) Cancel(id analyser.TaskID) {
	req := &cancelTaskRequest{baseRequest: newBaseRequest(), taskID: id}
	rt.post(req)
}

type cancelTaskRequest struct {
	baseRequest
	taskID analyser.TaskID
}

func (r *cancelTaskRequest) process(rt *Runtime) {
	defer r.complete()
	t, ok := rt.an.Task(r.taskID)
	if !ok {
		return
	}
	if !rt.an.Cancel(r.taskID) {
		return
	}
	finalizeParameters(rt, t, analyser.StateCanceled)
	// resourceName is left empty: a directly-cancelled task's dispatch
	// record is not threaded back to this request, so its resource slot
	// (if any was ever reduced) is not restored here.
	rt.completeTerminalTask(t, analyser.StateCanceled, "", 0)
}
