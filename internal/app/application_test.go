package app

import (
	"testing"

	"github.com/Minimega12121/compss/internal/analyser"
)

type fakeMonitor struct {
	opened []string
	closed []string
	ended  []ID
}

func (m *fakeMonitor) TaskGroupOpened(_ ID, group string) { m.opened = append(m.opened, group) }
func (m *fakeMonitor) TaskGroupClosed(_ ID, group string) { m.closed = append(m.closed, group) }
func (m *fakeMonitor) ApplicationEnded(id ID)             { m.ended = append(m.ended, id) }

func TestAcquireReleaseThrottleBoundsInFlight(t *testing.T) {
	a := New(NewID(), 1, nil)
	done := make(chan struct{})
	a.AcquireThrottle()
	go func() {
		a.AcquireThrottle()
		close(done)
	}()
	select {
	case <-done:
		t.Fatalf("expected second AcquireThrottle to block while throttle=1 is held")
	default:
	}
	a.ReleaseThrottle()
	<-done
}

func TestReleaseThrottleOnEmptyIsANoOp(t *testing.T) {
	a := New(NewID(), 1, nil)
	a.ReleaseThrottle() // must not panic or block on an unheld throttle
}

func TestNestedGroupAddMemberPropagatesToParent(t *testing.T) {
	a := New(NewID(), 1, nil)
	outer := a.OpenTaskGroup("outer", 0)
	inner := a.OpenTaskGroup("inner", 0)
	inner.AddMember(analyser.TaskID(7))
	if len(outer.Members()) != 1 || outer.Members()[0] != 7 {
		t.Fatalf("expected member added to inner group to propagate to outer, got %v", outer.Members())
	}
}

func TestCloseCurrentTaskGroupWithNoneOpenErrors(t *testing.T) {
	a := New(NewID(), 1, nil)
	if _, err := a.CloseCurrentTaskGroup(); err == nil {
		t.Fatalf("expected an error closing a group when none is open")
	}
}

func TestFindGroupContainingSearchesClosedGroupsToo(t *testing.T) {
	a := New(NewID(), 1, nil)
	g := a.OpenTaskGroup("g1", 0)
	g.AddMember(analyser.TaskID(3))
	if _, err := a.CloseCurrentTaskGroup(); err != nil {
		t.Fatalf("close: %v", err)
	}
	found := a.FindGroupContaining(analyser.TaskID(3))
	if found == nil || found.Name != "g1" {
		t.Fatalf("expected FindGroupContaining to find a member of an already-closed group")
	}
}

func TestAnyGroupFailedReflectsMarkFailed(t *testing.T) {
	a := New(NewID(), 1, nil)
	g := a.OpenTaskGroup("g1", 0)
	if a.AnyGroupFailed() {
		t.Fatalf("expected no failure before MarkFailed")
	}
	g.MarkFailed()
	if !a.AnyGroupFailed() {
		t.Fatalf("expected AnyGroupFailed true once a group is marked failed")
	}
}

func TestOpenAndCloseTaskGroupNotifiesMonitor(t *testing.T) {
	monitor := &fakeMonitor{}
	a := New(NewID(), 1, monitor)
	a.OpenTaskGroup("g1", 0)
	if _, err := a.CloseCurrentTaskGroup(); err != nil {
		t.Fatalf("close: %v", err)
	}
	a.End()
	if len(monitor.opened) != 1 || monitor.opened[0] != "g1" {
		t.Fatalf("expected TaskGroupOpened(g1), got %v", monitor.opened)
	}
	if len(monitor.closed) != 1 || monitor.closed[0] != "g1" {
		t.Fatalf("expected TaskGroupClosed(g1), got %v", monitor.closed)
	}
	if len(monitor.ended) != 1 || monitor.ended[0] != a.ID {
		t.Fatalf("expected ApplicationEnded(%s), got %v", a.ID, monitor.ended)
	}
}
