package app

import "github.com/Minimega12121/compss/internal/analyser"

// TaskGroup groups tasks under a common barrier and on-failure policy:
// closing it does not itself wait for members, but Barrier does,
// and a CANCEL_SUCCESSORS-style failure inside the group can cascade to
// its other members without touching tasks outside it.
type TaskGroup struct {
	Name string
	Parent *TaskGroup
	OnFailure int

	members []analyser.TaskID
	failed bool
	closed bool
}

func (g *TaskGroup) AddMember(id analyser.TaskID) {
	g.members = append(g.members, id)
	if g.Parent != nil {
		g.Parent.AddMember(id)
	}
}

func (g *TaskGroup) Members() []analyser.TaskID { return g.members }
func (g *TaskGroup) Closed() bool { return g.closed }

// MarkFailed records that some member of the group failed, so a barrier on
// the group can raise a COMPSs-exception-equivalent error instead of
// reporting a clean completion.
func (g *TaskGroup) MarkFailed() { g.failed = true }
func (g *TaskGroup) Failed() bool { return g.failed }
