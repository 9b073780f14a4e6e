package analyser

import (
	"github.com/Minimega12121/compss/internal/dip"
)

type groupKey struct {
	CoreID int
	DataID dip.DataID
}

// Analyser holds the dependency graph: for each Data, who last wrote it
// (a Task or a closed CommutativeGroupTask), who has read it concurrently
// since that writer, and which commutative group (if any) is currently
// open for it. Grounded on internal/scheduler/engine.go's
// dependenciesCompleted readiness-tracking idea, generalized from a flat
// dependency-id list into per-parameter edges keyed by direction.
type Analyser struct {
	nextID uint64

	tasks map[TaskID]*Task
	groups map[TaskID]*CommutativeGroupTask

	// dependents[node] lists tasks whose pendingInputs decrements when node
	// (a Task or a completed CommutativeGroupTask) reaches a terminal state.
	dependents map[TaskID][]TaskID

	lastWriter map[dip.DataID]TaskID
	hasLastWriter map[dip.DataID]bool

	concurrentReaders map[dip.DataID][]TaskID
	openGroup map[groupKey]TaskID
	memberOfGroup map[TaskID]TaskID
	groupResolved map[TaskID]bool

	onReady func(TaskID)
}

func NewAnalyser(onReady func(TaskID)) *Analyser {
	return &Analyser{
		tasks: make(map[TaskID]*Task),
		groups: make(map[TaskID]*CommutativeGroupTask),
		dependents: make(map[TaskID][]TaskID),
		lastWriter: make(map[dip.DataID]TaskID),
		hasLastWriter: make(map[dip.DataID]bool),
		concurrentReaders: make(map[dip.DataID][]TaskID),
		openGroup: make(map[groupKey]TaskID),
		memberOfGroup: make(map[TaskID]TaskID),
		groupResolved: make(map[TaskID]bool),
		onReady: onReady,
	}
}

func (a *Analyser) allocID() TaskID {
	a.nextID++
	return TaskID(a.nextID)
}

func (a *Analyser) addDependent(node, dependent TaskID) {
	a.dependents[node] = append(a.dependents[node], dependent)
}

func (a *Analyser) lastWriterOf(dataID dip.DataID) (TaskID, bool) {
	if !a.hasLastWriter[dataID] {
		return 0, false
	}
	return a.lastWriter[dataID], true
}

func (a *Analyser) setLastWriter(dataID dip.DataID, node TaskID) {
	a.lastWriter[dataID] = node
	a.hasLastWriter[dataID] = true
}

// closeOpenGroups closes every commutative group open on dataID: "a non-CV
// access on the same data closes the group, collapsing it into a single
// last writer edge".
func (a *Analyser) closeOpenGroups(dataID dip.DataID) {
	for key, groupID := range a.openGroup {
		if key.DataID != dataID {
			continue
		}
		g := a.groups[groupID]
		g.closed = true
		a.setLastWriter(dataID, groupID)
		delete(a.openGroup, key)
	}
}

// CloseAllGroups closes every still-open commutative group, called on
// application end.
func (a *Analyser) CloseAllGroups() {
	for key, groupID := range a.openGroup {
		g := a.groups[groupID]
		g.closed = true
		a.setLastWriter(key.DataID, groupID)
		delete(a.openGroup, key)
		a.maybeResolveGroup(groupID)
	}
}

// RegisterTask builds a Task node from its parameters, wiring dependency
// edges per the R/W/RW/C/CV table, and returns it already in state
// ANALYSED (with onReady fired) if it has no unresolved inputs.
func (a *Analyser) RegisterTask(coreID int, params []Parameter, onFailure int, groups []string) *Task {
	id := a.allocID()
	t := &Task{ID: id, CoreID: coreID, Parameters: params, OnFailure: onFailure, Groups: groups, State: StateToAnalyse}
	a.tasks[id] = t

	pending := 0
	for i := range params {
		p := &params[i]
		dataID := p.Access.Info.ID
		switch p.Direction {
		case dip.DirR:
			pending += a.wireRead(dataID, id)
		case dip.DirC:
			pending += a.wireConcurrent(dataID, id)
		case dip.DirW:
			a.closeOpenGroups(dataID)
			a.setLastWriter(dataID, id)
			a.concurrentReaders[dataID] = nil
		case dip.DirRW:
			pending += a.wireRead(dataID, id)
			a.setLastWriter(dataID, id)
			a.concurrentReaders[dataID] = nil
		case dip.DirCV:
			pending += a.wireCommutative(coreID, dataID, id)
		}
	}

	t.pendingInputs = pending
	if pending == 0 {
		t.State = StateAnalysed
		if a.onReady != nil {
			a.onReady(id)
		}
	}
	return t
}

func (a *Analyser) wireRead(dataID dip.DataID, taskID TaskID) int {
	a.closeOpenGroups(dataID)
	if node, ok := a.lastWriterOf(dataID); ok {
		a.addDependent(node, taskID)
		return 1
	}
	return 0
}

func (a *Analyser) wireConcurrent(dataID dip.DataID, taskID TaskID) int {
	a.closeOpenGroups(dataID)
	readers := a.concurrentReaders[dataID]
	pending := 0
	if len(readers) == 0 {
		if node, ok := a.lastWriterOf(dataID); ok {
			a.addDependent(node, taskID)
			pending++
		}
	} else {
		for _, r := range readers {
			a.addDependent(r, taskID)
			pending++
		}
	}
	a.concurrentReaders[dataID] = append(a.concurrentReaders[dataID], taskID)
	return pending
}

// wireCommutative implements the CV row: the first CV write to a
// (coreId, dataId) opens a group and inherits the dependency on whatever
// wrote the data before it; later CV writes join the same group with no
// additional edge, since their relative order is unconstrained (S3).
func (a *Analyser) wireCommutative(coreID int, dataID dip.DataID, taskID TaskID) int {
	key := groupKey{CoreID: coreID, DataID: dataID}
	groupID, open := a.openGroup[key]
	if !open {
		groupID = a.allocID()
		g := &CommutativeGroupTask{ID: groupID, CoreID: coreID, DataID: dataID}
		a.groups[groupID] = g
		a.openGroup[key] = groupID

		g.Members = append(g.Members, taskID)
		a.memberOfGroup[taskID] = groupID
		if node, ok := a.lastWriterOf(dataID); ok {
			a.addDependent(node, taskID)
			return 1
		}
		return 0
	}
	g := a.groups[groupID]
	g.Members = append(g.Members, taskID)
	a.memberOfGroup[taskID] = groupID
	return 0
}

// NotifyTaskEnd is called once a task reaches a terminal state; it releases
// dependents whose readiness was gated on this task, and if the task was a
// commutative-group member, checks whether the whole group is now complete.
func (a *Analyser) NotifyTaskEnd(id TaskID, state State) {
	t, ok := a.tasks[id]
	if !ok {
		return
	}
	t.State = state
	a.resolveDependents(id)
	if groupID, isMember := a.memberOfGroup[id]; isMember {
		a.maybeResolveGroup(groupID)
	}
}

func (a *Analyser) maybeResolveGroup(groupID TaskID) {
	if a.groupResolved[groupID] {
		return
	}
	g, ok := a.groups[groupID]
	if !ok || !g.closed {
		return
	}
	for _, m := range g.Members {
		mt := a.tasks[m]
		if mt == nil || !mt.State.Terminal() {
			return
		}
	}
	a.groupResolved[groupID] = true
	a.resolveDependents(groupID)
}

func (a *Analyser) resolveDependents(node TaskID) {
	deps := a.dependents[node]
	delete(a.dependents, node)
	for _, depID := range deps {
		t := a.tasks[depID]
		if t == nil {
			continue
		}
		t.pendingInputs--
		if t.pendingInputs <= 0 && t.State == StateToAnalyse {
			t.State = StateAnalysed
			if a.onReady != nil {
				a.onReady(depID)
			}
		}
	}
}

func (a *Analyser) Task(id TaskID) (*Task, bool) {
	t, ok := a.tasks[id]
	return t, ok
}

func (a *Analyser) Group(id TaskID) (*CommutativeGroupTask, bool) {
	g, ok := a.groups[id]
	return g, ok
}

// Cancel marks a task cancelled. Idempotent: a task already in a terminal
// state is left untouched, reported back as false so a caller can tell a
// no-op apart from an actual cancellation.
func (a *Analyser) Cancel(id TaskID) bool {
	t, ok := a.tasks[id]
	if !ok || t.State.Terminal() {
		return false
	}
	t.beingCancelled = true
	a.NotifyTaskEnd(id, StateCanceled)
	return true
}

// CancelSuccessors transitively cancels every task reachable through
// dependents from id, without ever running resolveDependents' readiness
// decrement on them: a successor of a failed predecessor must never become
// ready, it must be marked CANCELED outright. Returns the ids actually
// cancelled, in traversal order, so the caller can finalize their own
// bookkeeping (throttle release, pending counts, resource capacity) for each.
func (a *Analyser) CancelSuccessors(id TaskID) []TaskID {
	var cancelled []TaskID
	queue := append([]TaskID{}, a.dependents[id]...)
	delete(a.dependents, id)
	seen := make(map[TaskID]bool)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		t, ok := a.tasks[next]
		if !ok || t.State.Terminal() {
			continue
		}
		t.State = StateCanceled
		t.beingCancelled = true
		cancelled = append(cancelled, next)
		queue = append(queue, a.dependents[next]...)
		delete(a.dependents, next)
	}
	return cancelled
}

// NotifyTaskFailedCancelSuccessors marks id FAILED and cascades cancellation
// to everything downstream of it, matching the CANCEL_SUCCESSORS on-failure
// policy: the failed task's own dependents skip the normal
// resolve-and-maybe-become-ready path entirely.
func (a *Analyser) NotifyTaskFailedCancelSuccessors(id TaskID) []TaskID {
	t, ok := a.tasks[id]
	if !ok {
		return nil
	}
	t.State = StateFailed
	cancelled := a.CancelSuccessors(id)
	if groupID, isMember := a.memberOfGroup[id]; isMember {
		a.maybeResolveGroup(groupID)
	}
	return cancelled
}
