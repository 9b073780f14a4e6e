// Package app models a registered application: its own throttle (bounding
// how many of its tasks may be submitted and not yet terminal at once),
// its own stack of open TaskGroups, and barrier bookkeeping.
package app

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Minimega12121/compss/internal/analyser"
	"github.com/Minimega12121/compss/internal/dip"
)

// ID is the external, stable identifier for a registered application.
// google/uuid is used here rather than a monotonic counter because
// application ids are handed to external callers.
type ID string

func NewID() ID { return ID(uuid.NewString()) }

// Application tracks one registered COMPSs application: which tasks and
// data it owns, its currently open task groups, and the throttle bounding
// how many tasks may be in flight without having reached a terminal state.
type Application struct {
	ID ID

	throttle chan struct{}

	groupStack []*TaskGroup
	allGroups  []*TaskGroup // every group ever opened, open or closed, for post-hoc lookup
	dataOwned  []uint64 // dip.DataID values, kept untyped here to avoid an import cycle
	tasksOwned []analyser.TaskID

	// Deadline is a wall-clock limit on the application's total run time.
	// Zero means unbounded. The runtime's deadline sweep cancels every task
	// this application still owns once Deadline has passed.
	Deadline time.Time

	monitor Monitor
}

// Monitor receives application lifecycle notifications; the runtime's
// checkpoint manager and observability layer both implement it.
type Monitor interface {
	TaskGroupOpened(app ID, group string)
	TaskGroupClosed(app ID, group string)
	ApplicationEnded(app ID)
}

// New creates an Application with throttle capacity maxInFlight (at least
// 1): SubmitTask blocks once this many tasks are submitted but not yet
// terminal.
func New(id ID, maxInFlight int, monitor Monitor) *Application {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Application{
		ID:       id,
		throttle: make(chan struct{}, maxInFlight),
		monitor:  monitor,
	}
}

// AcquireThrottle blocks the caller (the Access Processor's request
// producer, not the AP goroutine itself) until a throttle slot is free.
// ReleaseThrottle must be called once the task reaches a terminal state.
func (a *Application) AcquireThrottle() { a.throttle <- struct{}{} }

func (a *Application) ReleaseThrottle() {
	select {
	case <-a.throttle:
	default:
	}
}

func (a *Application) TrackTask(id analyser.TaskID) {
	a.tasksOwned = append(a.tasksOwned, id)
}

func (a *Application) TrackData(id uint64) {
	a.dataOwned = append(a.dataOwned, id)
}

func (a *Application) Tasks() []analyser.TaskID { return a.tasksOwned }
func (a *Application) Data() []uint64           { return a.dataOwned }

// RegisterData and UnregisterData implement dip.DataOwner, letting an
// Application be passed directly as the owner of every DataInfo it creates
// without dip importing this package.
func (a *Application) RegisterData(info *dip.DataInfo) {
	a.dataOwned = append(a.dataOwned, uint64(info.ID))
}

func (a *Application) UnregisterData(id dip.DataID) {
	for i, d := range a.dataOwned {
		if d == uint64(id) {
			a.dataOwned = append(a.dataOwned[:i], a.dataOwned[i+1:]...)
			return
		}
	}
}

var _ dip.DataOwner = (*Application)(nil)

// OpenTaskGroup pushes a new group onto the stack; groups can nest.
func (a *Application) OpenTaskGroup(name string, onFailure int) *TaskGroup {
	g := &TaskGroup{Name: name, OnFailure: onFailure}
	if len(a.groupStack) > 0 {
		g.Parent = a.groupStack[len(a.groupStack)-1]
	}
	a.groupStack = append(a.groupStack, g)
	a.allGroups = append(a.allGroups, g)
	if a.monitor != nil {
		a.monitor.TaskGroupOpened(a.ID, name)
	}
	return g
}

// CloseCurrentTaskGroup pops the top of the stack. Returns an error if
// there is nothing open, matching the reference implementation's refusal
// to close a group that was never opened.
func (a *Application) CloseCurrentTaskGroup() (*TaskGroup, error) {
	if len(a.groupStack) == 0 {
		return nil, fmt.Errorf("app: no open task group to close for application %s", a.ID)
	}
	g := a.groupStack[len(a.groupStack)-1]
	a.groupStack = a.groupStack[:len(a.groupStack)-1]
	g.closed = true
	if a.monitor != nil {
		a.monitor.TaskGroupClosed(a.ID, g.Name)
	}
	return g, nil
}

// CurrentTaskGroup returns the innermost open group, or nil at top level.
func (a *Application) CurrentTaskGroup() *TaskGroup {
	if len(a.groupStack) == 0 {
		return nil
	}
	return a.groupStack[len(a.groupStack)-1]
}

// FindGroupContaining searches every group this application has ever
// opened, closed or not, for one that has id as a member. A task's
// terminal outcome can arrive after its group has already closed, so a
// lookup restricted to CurrentTaskGroup would miss it.
func (a *Application) FindGroupContaining(id analyser.TaskID) *TaskGroup {
	for _, g := range a.allGroups {
		for _, m := range g.Members() {
			if m == id {
				return g
			}
		}
	}
	return nil
}

// AnyGroupFailed reports whether any group this application has opened was
// marked failed, letting Barrier surface a COMPSs-exception-equivalent
// error instead of a clean completion.
func (a *Application) AnyGroupFailed() bool {
	for _, g := range a.allGroups {
		if g.Failed() {
			return true
		}
	}
	return false
}

func (a *Application) End() {
	if a.monitor != nil {
		a.monitor.ApplicationEnded(a.ID)
	}
}
