package scheduler

import "testing"

type fakeAction struct {
	id         ActionID
	priority   float64
	resources  []string
}

func (a fakeAction) ActionID() ActionID           { return a.id }
func (a fakeAction) CompatibleResources() []string { return a.resources }
func (a fakeAction) BasePriority() float64        { return a.priority }

type fakeResource struct {
	name string
	free bool
}

func (r fakeResource) Name() string          { return r.name }
func (r fakeResource) CanRunSomething() bool { return r.free }

func TestScheduleActionDispatchesWhenQueueEmpty(t *testing.T) {
	var dispatched []ActionID
	s := NewOrderStrict(func(a Action, r Resource) error {
		dispatched = append(dispatched, a.ActionID())
		return nil
	})
	res := fakeResource{name: "worker-1", free: true}
	a := fakeAction{id: 1, priority: 1, resources: []string{"worker-1"}}
	if err := s.ScheduleAction(a, s.GenerateActionScore(a, 0, 0, 0), res); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if len(dispatched) != 1 || dispatched[0] != 1 {
		t.Fatalf("expected immediate dispatch of action 1, got %v", dispatched)
	}
}

func TestScheduleActionQueuesWhenResourceBusy(t *testing.T) {
	dispatchCount := 0
	s := NewOrderStrict(func(a Action, r Resource) error {
		dispatchCount++
		return nil
	})
	res := fakeResource{name: "worker-1", free: false}
	a := fakeAction{id: 1, priority: 1, resources: []string{"worker-1"}}
	if err := s.ScheduleAction(a, s.GenerateActionScore(a, 0, 0, 0), res); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if dispatchCount != 0 {
		t.Fatalf("expected no dispatch while resource busy, got %d", dispatchCount)
	}
	if s.readyQueue.Len() != 1 {
		t.Fatalf("expected action queued, readyQueue len=%d", s.readyQueue.Len())
	}
}

func TestHandleDependencyFreeActionsPicksHigherPriorityFirst(t *testing.T) {
	var order []ActionID
	s := NewOrderStrict(func(a Action, r Resource) error {
		order = append(order, a.ActionID())
		return nil
	})
	res := fakeResource{name: "worker-1", free: true}
	low := fakeAction{id: 1, priority: 1, resources: []string{"worker-1"}}
	high := fakeAction{id: 2, priority: 10, resources: []string{"worker-1"}}

	dataFree := []scoredAction{
		NewScoredAction(low, s.GenerateActionScore(low, 0, 0, 0)),
		NewScoredAction(high, s.GenerateActionScore(high, 0, 0, 0)),
	}
	blocked := s.HandleDependencyFreeActions(dataFree, nil, res)
	if len(blocked) != 0 {
		t.Fatalf("expected no blocked actions, got %v", blocked)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("expected high-priority action dispatched first, got %v", order)
	}
}

func TestHandleDependencyFreeActionsReportsBlockedForIncompatibleResource(t *testing.T) {
	s := NewOrderStrict(func(a Action, r Resource) error { return nil })
	res := fakeResource{name: "worker-1", free: true}
	incompatible := fakeAction{id: 1, priority: 1, resources: nil}

	blocked := s.HandleDependencyFreeActions([]scoredAction{NewScoredAction(incompatible, Score{})}, nil, res)
	if len(blocked) != 1 || blocked[0].ActionID() != 1 {
		t.Fatalf("expected action 1 reported blocked, got %v", blocked)
	}
}

func TestUpgradeActionRemovesFromReadyQueue(t *testing.T) {
	s := NewOrderStrict(func(a Action, r Resource) error { return nil })
	a := fakeAction{id: 1, priority: 1, resources: []string{"worker-1"}}
	_ = s.enqueue(a, s.GenerateActionScore(a, 0, 0, 0))
	if s.readyQueue.Len() != 1 {
		t.Fatalf("expected action enqueued")
	}
	s.UpgradeAction(a, s.GenerateActionScore(a, 0, 0, 0))
	if s.readyQueue.Len() != 0 {
		t.Fatalf("expected action removed from readyQueue after upgrade")
	}
	if _, ok := s.upgradedActions[a.ActionID()]; !ok {
		t.Fatalf("expected action tracked as upgraded")
	}
}
