package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/Minimega12121/compss/internal/analyser"
	"github.com/Minimega12121/compss/internal/app"
	"github.com/Minimega12121/compss/internal/dip"
	"github.com/Minimega12121/compss/internal/jobmanager"
	"github.com/Minimega12121/compss/internal/policy"
)

// request is anything the Access Processor loop can dequeue and run.
// Every implementation's process method executes exclusively on the AP
// goroutine.
type request interface {
	process(rt *Runtime)
	wait()
}

type baseRequest struct {
	done chan struct{}
}

func newBaseRequest() baseRequest { return baseRequest{done: make(chan struct{})} }
func (b *baseRequest) wait() { <-b.done }
func (b *baseRequest) complete() { close(b.done) }

// registerApplicationRequest creates a new Application under an admission
// check from the policy engine.
type registerApplicationRequest struct {
	baseRequest
	throttle int
	priority string
	deadline time.Time
	result app.ID
	err error
}

func (r *registerApplicationRequest) process(rt *Runtime) {
	defer r.complete()
	rt.mu.Lock()
	running := len(rt.apps)
	rt.mu.Unlock()

	decision := rt.policy.EvaluateRegister(policy.RegisterInput{Priority: r.priority, RunningApplications: running})
	if !decision.Allowed {
		r.err = fmt.Errorf("runtime: application registration denied: %s", decision.Message)
		return
	}

	id := app.NewID()
	if r.throttle <= 0 {
		r.throttle = rt.cfg.AppThrottle
	}
	a := app.New(id, r.throttle, rt)
	a.Deadline = r.deadline
	rt.mu.Lock()
	rt.apps[id] = a
	rt.mu.Unlock()
	r.result = id
}

// deadlineSweepRequest is posted periodically by Runtime.deadlineLoop. It
// runs entirely on the Access Processor goroutine so it can cascade
// cancellation the same way a CANCEL_SUCCESSORS task failure does, without
// racing the analyser.
type deadlineSweepRequest struct {
	baseRequest
	now time.Time
}

func (r *deadlineSweepRequest) process(rt *Runtime) {
	defer r.complete()
	rt.mu.Lock()
	expired := make([]*app.Application, 0)
	for _, a := range rt.apps {
		if !a.Deadline.IsZero() && !a.Deadline.After(r.now) {
			expired = append(expired, a)
		}
	}
	rt.mu.Unlock()

	for _, a := range expired {
		for _, taskID := range a.Tasks() {
			t, ok := rt.an.Task(taskID)
			if !ok {
				continue
			}
			if !rt.an.Cancel(taskID) {
				continue
			}
			finalizeParameters(rt, t, analyser.StateCanceled)
			rt.completeTerminalTask(t, analyser.StateCanceled, "", 0)
		}
	}
}

type endApplicationRequest struct {
	baseRequest
	appID app.ID
}

func (r *endApplicationRequest) process(rt *Runtime) {
	defer r.complete()
	rt.mu.Lock()
	a := rt.apps[r.appID]
	delete(rt.apps, r.appID)
	rt.mu.Unlock()
	if a != nil {
		a.End()
	}
}

type openGroupRequest struct {
	baseRequest
	appID app.ID
	name string
	onFailure int
}

func (r *openGroupRequest) process(rt *Runtime) {
	defer r.complete()
	rt.mu.Lock()
	a := rt.apps[r.appID]
	rt.mu.Unlock()
	if a == nil {
		return
	}
	a.OpenTaskGroup(r.name, r.onFailure)
}

type closeGroupRequest struct {
	baseRequest
	appID app.ID
	err error
}

func (r *closeGroupRequest) process(rt *Runtime) {
	defer r.complete()
	rt.mu.Lock()
	a := rt.apps[r.appID]
	rt.mu.Unlock()
	if a == nil {
		r.err = fmt.Errorf("runtime: unknown application %s", r.appID)
		return
	}
	_, r.err = a.CloseCurrentTaskGroup()
}

// accessDataRequest resolves one parameter's access: dataID zero means
// "create new data", matching the reference willAccess(CREATION) path.
type accessDataRequest struct {
	baseRequest
	appID app.ID
	dataID dip.DataID
	kind dip.Kind
	direction dip.Direction
	result *dip.AccessID
	err error
}

func (r *accessDataRequest) process(rt *Runtime) {
	defer r.complete()
	rt.mu.Lock()
	a := rt.apps[r.appID]
	rt.mu.Unlock()
	if a == nil {
		r.err = fmt.Errorf("runtime: unknown application %s", r.appID)
		return
	}

	info, ok := rt.getDataInfo(r.dataID)
	if !ok {
		id := rt.allocDataID()
		info = dip.NewDataInfo(id, r.kind, a)
		rt.putDataInfo(info)
		a.RegisterData(info)
	}
	r.result, r.err = dip.WillAccess(info, r.direction)
	if r.err == nil {
		rt.persistDataInfo(info)
	}
}

// submitTaskRequest resolves every parameter's data access and registers
// the task in one Access Processor round-trip. Folding what used to be a
// separate AccessData call into this request is deliberate: two independent
// round-trips would let two concurrent submissions interleave their
// WillAccess calls against the same DataInfo, corrupting version
// bookkeeping. A single request keeps the whole submission atomic with
// respect to every other AP request.
type submitTaskRequest struct {
	baseRequest
	appID app.ID
	coreID int
	specs []ParamSpec
	onFailure int
	result analyser.TaskID
	err error
}

func (r *submitTaskRequest) process(rt *Runtime) {
	defer r.complete()
	rt.mu.Lock()
	a := rt.apps[r.appID]
	rt.mu.Unlock()
	if a == nil {
		r.err = fmt.Errorf("runtime: unknown application %s", r.appID)
		return
	}

	params := make([]analyser.Parameter, len(r.specs))
	for i, spec := range r.specs {
		info, ok := rt.getDataInfo(spec.DataID)
		if !ok {
			id := rt.allocDataID()
			info = dip.NewDataInfo(id, spec.Kind, a)
			rt.putDataInfo(info)
			a.RegisterData(info)
		}
		access, err := dip.WillAccess(info, spec.Direction)
		if err != nil {
			r.err = fmt.Errorf("runtime: resolve parameter %d: %w", i, err)
			for _, p := range params[:i] {
				if p.Access != nil {
					dip.CancelledAccess(p.Access, false)
				}
			}
			return
		}
		params[i] = analyser.Parameter{Access: access, Direction: spec.Direction, Name: spec.Name, Prefix: spec.Prefix}
		rt.persistDataInfo(info)
	}

	t := rt.an.RegisterTask(r.coreID, params, r.onFailure, currentGroupPath(a))
	r.result = t.ID
	a.TrackTask(t.ID)
	if g := a.CurrentTaskGroup(); g != nil {
		g.AddMember(t.ID)
	}
	rt.incPending(r.appID)
}

func currentGroupPath(a *app.Application) []string {
	if a == nil {
		return nil
	}
	g := a.CurrentTaskGroup()
	if g == nil {
		return nil
	}
	names := []string{}
	for cur := g; cur != nil; cur = cur.Parent {
		names = append(names, cur.Name)
	}
	return names
}

// taskEndRequest is posted by Runtime's jobmanager.Listener methods.
type taskEndRequest struct {
	taskID analyser.TaskID
	state analyser.State
	outputURI string
	cause error
	resourceName string
	onFailure jobmanager.OnFailurePolicy
	duration time.Duration
	done chan struct{}
}

func (r *taskEndRequest) wait() { <-r.done }

// process finalizes one task's terminal outcome. A FAILED task submitted
// under CANCEL_SUCCESSORS takes a different path from every other outcome:
// instead of resolving its dependents' readiness counters (which would let
// them become schedulable), it cascades cancellation across every
// transitive successor, and each of those cancelled tasks gets its own
// parameter finalization and bookkeeping pass since none of them will ever
// reach a jobmanager.Listener callback of their own.
func (r *taskEndRequest) process(rt *Runtime) {
	defer close(r.done)
	t, ok := rt.an.Task(r.taskID)
	if !ok {
		return
	}

	if r.state == analyser.StateFailed && r.onFailure == jobmanager.OnFailureCancelSuccessors {
		finalizeParameters(rt, t, r.state)
		cancelled := rt.an.NotifyTaskFailedCancelSuccessors(r.taskID)
		rt.completeTerminalTask(t, r.state, r.resourceName, r.duration)
		for _, cid := range cancelled {
			ct, ok := rt.an.Task(cid)
			if !ok {
				continue
			}
			finalizeParameters(rt, ct, analyser.StateCanceled)
			rt.completeTerminalTask(ct, analyser.StateCanceled, "", 0)
		}
		return
	}

	finalizeParameters(rt, t, r.state)
	rt.an.NotifyTaskEnd(r.taskID, r.state)
	rt.completeTerminalTask(t, r.state, r.resourceName, r.duration)
}

// finalizeParameters commits or cancels every access a task held, releasing
// the version bookkeeping the DIP was tracking on its behalf, and persists
// whatever the commit/cancel walk changed.
func finalizeParameters(rt *Runtime, t *analyser.Task, state analyser.State) {
	for i := range t.Parameters {
		p := &t.Parameters[i]
		if p.Access == nil {
			continue
		}
		if state == analyser.StateFinished {
			dip.CommittedAccess(p.Access)
		} else {
			dip.CancelledAccess(p.Access, state == analyser.StateCanceled)
		}
		rt.persistDataInfo(p.Access.Info)
	}
}

// completeTerminalTask performs the bookkeeping every terminal task needs
// regardless of how it got there: checkpointing, releasing the owning
// application's pending count and submission throttle (held for the task's
// entire lifetime, not just its analysis), restoring the dispatched
// resource's dynamic capacity, and marking the task's group failed if this
// was not a clean finish.
func (rt *Runtime) completeTerminalTask(t *analyser.Task, state analyser.State, resourceName string, duration time.Duration) {
	rt.checkpointEndTask(t.ID, state)
	owner := appOwning(rt, t)
	rt.decPending(owner)
	rt.mu.Lock()
	a := rt.apps[owner]
	rt.mu.Unlock()
	if a != nil {
		a.ReleaseThrottle()
	}
	if resourceName != "" {
		if res, ok := rt.pool.Get(resourceName); ok {
			res.IncreaseDynamic()
			// Handing the resource-freed notification to the Task Dispatcher
			// goroutine, rather than calling rt.onResourceFreed here, keeps
			// this Access Processor request from touching scheduler state.
			rt.tdCh <- resourceFreedEvent{resourceName: resourceName}
		}
		rt.recordTaskDuration(resourceName, rt.signatureFor(t.CoreID), duration)
	}
	if state != analyser.StateFinished {
		if group, ok := findGroupContaining(rt, t.ID); ok {
			group.MarkFailed()
		}
	}
}

func appOwning(rt *Runtime, t *analyser.Task) app.ID {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for id, a := range rt.apps {
		for _, tid := range a.Tasks() {
			if tid == t.ID {
				return id
			}
		}
	}
	return ""
}

// findGroupContaining searches every group any application has ever opened
// (open or already closed) for one containing id, since a task's terminal
// callback can arrive well after its enclosing group was closed.
func findGroupContaining(rt *Runtime, id analyser.TaskID) (*app.TaskGroup, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, a := range rt.apps {
		if g := a.FindGroupContaining(id); g != nil {
			return g, true
		}
	}
	return nil, false
}

type deleteDataRequest struct {
	baseRequest
	dataID dip.DataID
}

func (r *deleteDataRequest) process(rt *Runtime) {
	defer r.complete()
	if info, ok := rt.getDataInfo(r.dataID); ok {
		dip.Delete(info)
		rt.checkpoint.DeletedData(context.Background(), uint64(r.dataID))
		rt.persistDataInfo(info)
	}
}

// barrierRequest blocks the caller until every task the application
// currently owns reaches a terminal state. If nothing is pending it
// completes immediately; otherwise it registers a waiter that
// taskEndRequest.process wakes once the count reaches zero.
type barrierRequest struct {
	appID app.ID
	done chan struct{}
}

func (r *barrierRequest) wait() { <-r.done }

func (r *barrierRequest) process(rt *Runtime) {
	rt.mu.Lock()
	if rt.pending[r.appID] <= 0 {
		rt.mu.Unlock()
		close(r.done)
		return
	}
	rt.barriers[r.appID] = append(rt.barriers[r.appID], r.done)
	rt.mu.Unlock()
}

func (rt *Runtime) incPending(id app.ID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.pending[id]++
}

func (rt *Runtime) decPending(id app.ID) {
	rt.mu.Lock()
	rt.pending[id]--
	remaining := rt.pending[id]
	var waiters []chan struct{}
	if remaining <= 0 {
		waiters = rt.barriers[id]
		delete(rt.barriers, id)
	}
	rt.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

func (rt *Runtime) getDataInfo(id dip.DataID) (*dip.DataInfo, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	info, ok := rt.dataInfos[id]
	return info, ok
}

func (rt *Runtime) putDataInfo(info *dip.DataInfo) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.dataInfos[info.ID] = info
}

// persistDataInfo writes info's current snapshot through the configured
// DataStore, a no-op when none was configured (COMPSS_DATASTORE_BACKEND
// left at "memory"). It runs on the Access Processor goroutine like every
// other DataInfo mutation, so a slow store paces the whole loop rather than
// racing it — the same tradeoff the checkpoint manager calls already make
// on this goroutine.
func (rt *Runtime) persistDataInfo(info *dip.DataInfo) {
	if rt.dataStore == nil {
		return
	}
	if err := rt.dataStore.PutDataInfo(context.Background(), dip.Snapshot(info)); err != nil {
		rt.errMgr.Warn("dip", err, "data_id", info.ID)
	}
}
