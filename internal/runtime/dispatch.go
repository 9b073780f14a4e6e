package runtime

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Minimega12121/compss/internal/analyser"
	"github.com/Minimega12121/compss/internal/jobmanager"
	"github.com/Minimega12121/compss/internal/observability"
	"github.com/Minimega12121/compss/internal/policy"
	"github.com/Minimega12121/compss/internal/resource"
	"github.com/Minimega12121/compss/internal/scheduler"
)

// taskAction adapts an *analyser.Task to scheduler.Action so OrderStrict
// never needs to import analyser (kept decoupled per the package layout
// decision recorded in DESIGN.md).
type taskAction struct {
	task      *analyser.Task
	resources []string
	priority  float64
}

func (a taskAction) ActionID() scheduler.ActionID   { return scheduler.ActionID(a.task.ID) }
func (a taskAction) CompatibleResources() []string  { return a.resources }
func (a taskAction) BasePriority() float64          { return a.priority }

// tdEvent is anything the Task Dispatcher loop can consume. Both the Access
// Processor's readiness callback and the adapter pool's resource-freed
// notification reach the scheduler only by posting one of these onto
// Runtime.tdCh — neither ever calls a scheduler method inline — keeping the
// AP and TD domains on separate goroutines the way §5 lays them out.
type tdEvent interface {
	handle(rt *Runtime)
}

// taskReadyEvent carries the *analyser.Task itself, not just its ID:
// analyser.Analyser's task map is unsynchronized by design (only the Access
// Processor goroutine is meant to touch it), so the lookup has to happen on
// the AP goroutine, before the handoff, rather than in taskReadyEvent.handle
// on the Task Dispatcher goroutine. The Task's own fields the dispatch path
// reads (ID, CoreID, OnFailure, Groups, Parameters) are write-once at
// RegisterTask, so holding the pointer afterward is safe even though State
// keeps changing on the AP goroutine underneath it.
type taskReadyEvent struct {
	task *analyser.Task
}

func (e taskReadyEvent) handle(rt *Runtime) {
	rt.dispatchTask(e.task)
}

type resourceFreedEvent struct {
	resourceName string
}

func (e resourceFreedEvent) handle(rt *Runtime) {
	res, ok := rt.pool.Get(e.resourceName)
	if !ok {
		return
	}
	rt.onResourceFreed(res)
}

// taskDispatchLoop is the Task Dispatcher: the single goroutine that owns
// scheduler.OrderStrict's readyQueue and upgradedActions set. It is fed
// exclusively by tdCh, so the Access Processor goroutine and the adapter
// pool never race each other (or it) over scheduler state.
func (rt *Runtime) taskDispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-rt.stopCh:
			return nil
		case ev := <-rt.tdCh:
			ev.handle(rt)
		}
	}
}

// onTaskReady is the Analyser's readiness callback: it runs on the Access
// Processor goroutine (Analyser only calls it from RegisterTask or
// NotifyTaskEnd, both only reachable through request.process). It is the
// last point where looking the task up by ID is safe — analyser.Analyser's
// map is not synchronized for any other goroutine — so it resolves the
// *analyser.Task here and hands that off to the Task Dispatcher goroutine
// instead of touching scheduler state itself.
func (rt *Runtime) onTaskReady(id analyser.TaskID) {
	t, ok := rt.an.Task(id)
	if !ok {
		return
	}
	rt.tdCh <- taskReadyEvent{task: t}
}

func (rt *Runtime) dispatchTask(t *analyser.Task) {
	_, span := observability.StartSpan(context.Background(), "scheduler.dispatch_task", attribute.Int64("task_id", int64(t.ID)))
	defer span.End()

	sig := rt.signatureFor(t.CoreID)
	rt.mu.Lock()
	impls := rt.cores[t.CoreID].Implementations
	rt.mu.Unlock()
	// A resource is compatible if it lists the signature or any implementation.
	var compatible []*resource.Resource
	seen := make(map[string]bool)
	for _, name := range append([]string{sig}, impls...) {
		for _, r := range rt.pool.CompatibleWith(name) {
			if !seen[r.Name()] {
				seen[r.Name()] = true
				compatible = append(compatible, r)
			}
		}
	}
	names := make([]string, 0, len(compatible))
	var target *resource.Resource
	for _, r := range compatible {
		names = append(names, r.Name())
		if target == nil && r.CanRunSomething() {
			target = r
		}
	}

	resourceType := "static"
	locality := ""
	hasGPU := false
	if target != nil {
		desc := target.Description()
		resourceType = desc.Kind.String()
		locality = desc.Locality
		hasGPU = desc.GPU
	}
	decision := rt.policy.EvaluateAssign(policy.AssignInput{
		Signature:      sig,
		ResourceType:   resourceType,
		WorkerLocality: locality,
		WorkerGPU:      hasGPU,
	})
	if !decision.Allowed {
		rt.errMgr.Warn("policy", fmt.Errorf("assignment denied: %s", decision.Message), "task_id", t.ID, "signature", sig)
		return
	}

	action := taskAction{task: t, resources: names, priority: taskPriority(t)}
	score := rt.sched.GenerateActionScore(action, 0, 0, dataLocalityCost(t, target))

	var res scheduler.Resource
	if target != nil {
		res = target
	}
	// Route through HandleDependencyFreeActions rather than ScheduleAction
	// directly: it is what actually merges this newly data-free action
	// against anything already upgraded or queued for res, instead of
	// scheduling it in isolation.
	blocked := rt.sched.HandleDependencyFreeActions(scheduler.ScoredActionsOf(scheduler.NewScoredAction(action, score)), nil, res)
	for _, b := range blocked {
		rt.errMgr.Warn("scheduler", scheduler.ErrBlockedAction, "action_id", b.ActionID())
	}
}

// onResourceFreed is called once a resource's dynamic capacity is restored
// (a task finished on it): it drains whatever the scheduler can now place
// on that resource, matching HandleDependencyFreeActions' resource-free
// half.
func (rt *Runtime) onResourceFreed(res *resource.Resource) {
	blocked := rt.sched.HandleDependencyFreeActions(nil, nil, res)
	for _, b := range blocked {
		rt.errMgr.Warn("scheduler", scheduler.ErrBlockedAction, "action_id", b.ActionID())
	}
}

// taskPriority gives group-nested tasks a small boost so barrier-blocking
// work inside an open group drains before unrelated top-level tasks, a
// coarse stand-in for a full priority-inheritance scheme.
func taskPriority(t *analyser.Task) float64 {
	return float64(len(t.Groups))
}

// dataLocalityCost is 0 when a task has no compatible resource to compare
// against yet; a fuller implementation would compare the resource's
// locality tag against the location of the task's largest input.
func dataLocalityCost(t *analyser.Task, target *resource.Resource) float64 {
	if target == nil {
		return 0
	}
	return 0
}

// dispatchAction is the scheduler's DispatchFunc: it is what actually
// submits an action to the Job Manager once OrderStrict has picked it.
func (rt *Runtime) dispatchAction(a scheduler.Action, r scheduler.Resource) error {
	ta, ok := a.(taskAction)
	if !ok {
		return nil
	}
	var resourceName string
	if r != nil {
		resourceName = r.Name()
		if res, ok := rt.pool.Get(resourceName); ok {
			res.ReduceDynamic()
		}
	}
	onFailure := jobmanager.OnFailurePolicy(ta.task.OnFailure)
	_, err := rt.jobMgr.Submit(context.Background(), ta.task.ID, resourceName, "", onFailure, 3)
	if err != nil {
		return err
	}
	observability.Default.IncCounter("compss_tasks_dispatched_total", map[string]string{"resource": resourceName}, 1)
	rt.checkpoint.NewTask(context.Background(), uint64(ta.task.ID), ta.task.CoreID, "")
	return nil
}
