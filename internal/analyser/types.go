// Package analyser turns task submissions into nodes of the dependency
// graph, records edges per the R/W/RW/C/CV rules, and tracks each task's
// readiness as a decrementing counter of unresolved input versions.
//
// Like package dip, everything here is mutated only by the Access
// Processor goroutine.
package analyser

import (
	"github.com/Minimega12121/compss/internal/dip"
)

type TaskID uint64

// State is the task state machine: CREATED -> TO_ANALYSE -> ANALYSED
// -> TO_EXECUTE -> EXECUTING -> FINISHED | FAILED | CANCELED.
type State int

const (
	StateCreated State = iota
	StateToAnalyse
	StateAnalysed
	StateToExecute
	StateExecuting
	StateFinished
	StateFailed
	StateCanceled
)

func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed || s == StateCanceled
}

// History records how a task arrived at its current incarnation.
type History int

const (
	HistoryNew History = iota
	HistoryResubmitted
	HistoryRescheduled
	HistoryCancelled
)

// Parameter wraps one AccessID plus the metadata a scheduler/adapter needs
// to describe it externally (name, prefix, stream role).
type Parameter struct {
	Access *dip.AccessID
	Direction dip.Direction
	Name string
	Prefix string
	StreamRole string
}

// AbstractTask is the supertype shared by Task and CommutativeGroupTask:
// both are schedulable dependency-graph nodes.
type AbstractTask interface {
	NodeID() TaskID
	IsGroup() bool
}

// Task is one scheduling node.
type Task struct {
	ID TaskID
	CoreID int
	Parameters []Parameter
	OnFailure int // jobmanager.OnFailurePolicy, stored as int to avoid an import cycle
	History History
	State State
	Groups []string

	// pendingInputs counts unresolved input versions; the task becomes
	// ready for the scheduler when it reaches zero.
	pendingInputs int

	beingCancelled bool
}

func (t *Task) NodeID() TaskID { return t.ID }
func (t *Task) IsGroup() bool { return false }

func (t *Task) Ready() bool { return t.pendingInputs <= 0 }

// CommutativeGroupTask is a synthetic node representing a set of CV writes
// to the same (coreId, dataId) that may execute in any order relative to
// each other. Dependents attach to the group, not to individual members.
type CommutativeGroupTask struct {
	ID TaskID
	CoreID int
	DataID dip.DataID
	Members []TaskID
	closed bool
}

func (g *CommutativeGroupTask) NodeID() TaskID { return g.ID }
func (g *CommutativeGroupTask) IsGroup() bool { return true }
func (g *CommutativeGroupTask) Closed() bool { return g.closed }
